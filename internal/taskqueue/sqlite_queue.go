package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mlaakso/orka/internal/persistence"
)

// SQLiteQueue is a persistent task queue backed by SQLite, so in-flight
// activity tasks survive process restarts. It uses simple FIFO semantics
// based on an auto-incrementing id, with NotBefore gating eligibility.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			task_id INTEGER NOT NULL,
			activity TEXT NOT NULL,
			input BLOB,
			attempt INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	input, err := persistence.EncodeValue(t.Input)
	if err != nil {
		return err
	}

	now := time.Now()
	enqueuedAt := now.UnixNano()

	var notBefore int64
	if t.NotBefore.IsZero() {
		notBefore = enqueuedAt
	} else {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (queue_id, instance_id, task_id, activity, input, attempt, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.InstanceID,
		t.TaskID,
		t.Activity,
		input,
		t.Attempt,
		enqueuedAt,
		notBefore,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		now := time.Now().UnixNano()

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			id         int64
			queueID    string
			instanceID string
			taskID     int
			activity   string
			input      []byte
			attempt    int
			enqueuedAt int64
			notBefore  int64
		)

		row := tx.QueryRowContext(ctx, `
			SELECT id, queue_id, instance_id, task_id, activity, input, attempt, enqueued_at, not_before
			FROM tasks
			WHERE not_before <= ?
			ORDER BY not_before, id
			LIMIT 1`, now)
		err = row.Scan(&id, &queueID, &instanceID, &taskID, &activity, &input, &attempt, &enqueuedAt, &notBefore)
		if err != nil {
			_ = tx.Rollback()
			if errors.Is(err, sql.ErrNoRows) {
				// Nothing available: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			return nil, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		inputVal, err := persistence.DecodeValue(input)
		if err != nil {
			return nil, err
		}

		return &Task{
			ID:         queueID,
			InstanceID: instanceID,
			TaskID:     taskID,
			Activity:   activity,
			Input:      inputVal,
			Attempt:    attempt,
			EnqueuedAt: time.Unix(0, enqueuedAt),
			NotBefore:  time.Unix(0, notBefore),
		}, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	row := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`)
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return n
}
