package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/mlaakso/orka/pkg/api"
)

// SQLiteHistoryStore stores per-instance history events in SQLite. The
// (instance_id, seq) primary key enforces the append-only, totally ordered
// contract at the schema level.
type SQLiteHistoryStore struct {
	db *sql.DB
}

var _ HistoryStore = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			task_id INTEGER NOT NULL DEFAULT -1,
			activity TEXT NOT NULL DEFAULT '',
			event_name TEXT NOT NULL DEFAULT '',
			payload BLOB,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);
	`)
	return err
}

func (s *SQLiteHistoryStore) AppendEvents(ctx context.Context, instanceID string, events []api.HistoryEvent) error {
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
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteHistoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, at, task_id, activity, event_name, payload, error
		FROM history
		WHERE instance_id = ?
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

// SQLiteEventStore tracks external-event waiters and buffered events in
// SQLite so early events survive restarts.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_waiters (
			instance_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			PRIMARY KEY (instance_id, event_name)
		);
		CREATE TABLE IF NOT EXISTS buffered_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			payload BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_buffered_events_pair ON buffered_events(instance_id, event_name, id);
	`)
	return err
}

func (s *SQLiteEventStore) RegisterWaiter(ctx context.Context, instanceID, eventName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_waiters (instance_id, event_name)
		VALUES (?, ?)`,
		instanceID, eventName,
	)
	return err
}

func (s *SQLiteEventStore) RemoveWaiter(ctx context.Context, instanceID, eventName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM event_waiters
		WHERE instance_id = ? AND event_name = ?`,
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

func (s *SQLiteEventStore) BufferEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO buffered_events (instance_id, event_name, payload)
		VALUES (?, ?, ?)`,
		instanceID, eventName, data,
	)
	return err
}

func (s *SQLiteEventStore) TakeBufferedEvent(ctx context.Context, instanceID, eventName string) (any, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}

	var id int64
	var data []byte
	row := tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM buffered_events
		WHERE instance_id = ? AND event_name = ?
		ORDER BY id ASC
		LIMIT 1`,
		instanceID, eventName,
	)
	if err := row.Scan(&id, &data); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buffered_events WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	val, err := DecodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
