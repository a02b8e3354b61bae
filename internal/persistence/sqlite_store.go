package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mlaakso/orka/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
	)
	return err
}

func (s *SQLiteInstanceStore) CreateInstance(inst *api.WorkflowInstance) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Workflow,
		string(inst.Status),
		input,
		output,
		errString(inst.Err),
		inst.CreatedAt.UnixNano(),
		completedNanos(inst.CompletedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateInstance
	}
	return err
}

func (s *SQLiteInstanceStore) UpdateInstance(inst *api.WorkflowInstance) error {
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
		SET workflow = ?, status = ?, input = ?, output = ?, error = ?, created_at = ?, completed_at = ?
		WHERE id = ?`,
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

func (s *SQLiteInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, status, input, output, error, created_at, completed_at
		FROM instances
		WHERE id = ?`,
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

func (s *SQLiteInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow, status, input, output, error, created_at, completed_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

// scanInstance reads one instances row via the given Scan function. The
// column order must match the SELECT lists above.
func scanInstance(scan func(dest ...any) error) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	var statusStr string
	var input, output []byte
	var errStr sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	if err := scan(&inst.ID, &inst.Workflow, &statusStr, &input, &output, &errStr, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.CreatedAt = time.Unix(0, createdAt)
	if completedAt.Valid && completedAt.Int64 != 0 {
		inst.CompletedAt = time.Unix(0, completedAt.Int64)
	}

	inVal, err := DecodeValue(input)
	if err != nil {
		return nil, err
	}
	inst.Input = inVal

	outVal, err := DecodeValue(output)
	if err != nil {
		return nil, err
	}
	inst.Output = outVal

	if errStr.Valid && errStr.String != "" {
		inst.Err = errors.New(errStr.String)
	}

	return &inst, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func completedNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
