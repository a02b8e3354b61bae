package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mlaakso/orka/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// Like the SQLite store, it is driver-agnostic: the caller opens the *sql.DB
// with the driver of their choice (for example "github.com/lib/pq").
type PostgresInstanceStore struct {
	db *sql.DB
}

var _ InstanceStore = (*PostgresInstanceStore)(nil)

func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			input BYTEA,
			output BYTEA,
			error TEXT,
			created_at BIGINT NOT NULL,
			completed_at BIGINT
		);`,
	)
	return err
}

func (s *PostgresInstanceStore) CreateInstance(inst *api.WorkflowInstance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, workflow, status, input, output, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID,
		inst.Workflow,
		string(inst.Status),
		input,
		output,
		errString(inst.Err),
		inst.CreatedAt.UnixNano(),
		completedNanos(inst.CompletedAt),
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateInstance
	}
	return err
}

func (s *PostgresInstanceStore) UpdateInstance(inst *api.WorkflowInstance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE instances
		SET workflow = $1, status = $2, input = $3, output = $4, error = $5, created_at = $6, completed_at = $7
		WHERE id = $8`,
		inst.Workflow,
		string(inst.Status),
		input,
		output,
		errString(inst.Err),
		inst.CreatedAt.UnixNano(),
		completedNanos(inst.CompletedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *PostgresInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, status, input, output, error, created_at, completed_at
		FROM instances
		WHERE id = $1`,
		id,
	)

	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow, status, input, output, error, created_at, completed_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		clauses = append(clauses, "workflow = $1")
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if len(args) == 1 {
			clauses = append(clauses, "status = $1")
		} else {
			clauses = append(clauses, "status = $2")
		}
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// PostgresHistoryStore stores per-instance history events in PostgreSQL.
type PostgresHistoryStore struct {
	db *sql.DB
}

var _ HistoryStore = (*PostgresHistoryStore)(nil)

func NewPostgresHistoryStore(db *sql.DB) (*PostgresHistoryStore, error) {
	s := &PostgresHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			instance_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			kind TEXT NOT NULL,
			at BIGINT NOT NULL,
			task_id INTEGER NOT NULL DEFAULT -1,
			activity TEXT NOT NULL DEFAULT '',
			event_name TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);`,
	)
	return err
}

func (s *PostgresHistoryStore) AppendEvents(ctx context.Context, instanceID string, events []api.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, ev := range events {
		payload, err := EncodeValue(ev.Payload)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history (instance_id, seq, kind, at, task_id, activity, event_name, payload, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			instanceID,
			ev.Sequence,
			string(ev.Kind),
			at.UnixNano(),
			ev.TaskID,
			ev.Activity,
			ev.EventName,
			payload,
			ev.Error,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresHistoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, at, task_id, activity, event_name, payload, error
		FROM history
		WHERE instance_id = $1
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			ev      api.HistoryEvent
			kind    string
			atN     int64
			payload []byte
		)
		if err := rows.Scan(&ev.Sequence, &kind, &atN, &ev.TaskID, &ev.Activity, &ev.EventName, &payload, &ev.Error); err != nil {
			return nil, err
		}
		ev.Kind = api.EventKind(kind)
		ev.At = time.Unix(0, atN)

		val, err := DecodeValue(payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = val

		out = append(out, ev)
	}
	return out, rows.Err()
}

// PostgresEventStore tracks external-event waiters and buffered events.
type PostgresEventStore struct {
	db *sql.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) initSchema() error {
	// One statement per Exec; pgx's extended protocol rejects batches.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_waiters (
			instance_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			PRIMARY KEY (instance_id, event_name)
		);`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS buffered_events (
			id BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			payload BYTEA
		);`,
	)
	return err
}

func (s *PostgresEventStore) RegisterWaiter(ctx context.Context, instanceID, eventName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_waiters (instance_id, event_name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		instanceID, eventName,
	)
	return err
}

func (s *PostgresEventStore) RemoveWaiter(ctx context.Context, instanceID, eventName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM event_waiters
		WHERE instance_id = $1 AND event_name = $2`,
		instanceID, eventName,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresEventStore) BufferEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO buffered_events (instance_id, event_name, payload)
		VALUES ($1, $2, $3)`,
		instanceID, eventName, data,
	)
	return err
}

func (s *PostgresEventStore) TakeBufferedEvent(ctx context.Context, instanceID, eventName string) (any, bool, error) {
	var data []byte
	// DELETE ... RETURNING pops the oldest row atomically.
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM buffered_events
		WHERE id = (
			SELECT id FROM buffered_events
			WHERE instance_id = $1 AND event_name = $2
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING payload`,
		instanceID, eventName,
	)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	val, err := DecodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
