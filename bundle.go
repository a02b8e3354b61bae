package orka

import (
	"database/sql"

	"github.com/mlaakso/orka/internal/engine"
	"github.com/mlaakso/orka/internal/taskqueue"
	workerpkg "github.com/mlaakso/orka/pkg/worker"
)

// WorkerBundle wires together a durable Engine, a durable task queue, and a
// Worker that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Instance state, history, buffered events and
// queued tasks all survive process restarts.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:orka.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
//	bundle, err := orka.NewSQLiteBundle(db, worker.Config{MaxAttempts: 3})
//	// register orchestrations on bundle.Engine, then bundle.Worker.Start(ctx)
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewSQLiteEngineWithQueue(db, q, nil)
	if err != nil {
		return nil, err
	}

	w := workerpkg.New(eng, q, cfg)

	return &WorkerBundle{Engine: eng, Worker: w, queue: q}, nil
}
