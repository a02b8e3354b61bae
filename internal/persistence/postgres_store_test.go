package persistence

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/mlaakso/orka/pkg/api"
)

// newTestPostgresStores connects to the server named by ORKA_POSTGRES_DSN,
// skipping the test when it is unset. The tables are shared across tests, so
// they are truncated up front and the tests run serially.
func newTestPostgresStores(t *testing.T) (*PostgresInstanceStore, *PostgresHistoryStore, *PostgresEventStore) {
	t.Helper()

	dsn := os.Getenv("ORKA_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORKA_POSTGRES_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Ping(), "postgres ping failed")

	instances, err := NewPostgresInstanceStore(db)
	require.NoError(t, err)
	history, err := NewPostgresHistoryStore(db)
	require.NoError(t, err)
	events, err := NewPostgresEventStore(db)
	require.NoError(t, err)

	for _, table := range []string{"instances", "history", "event_waiters", "buffered_events"} {
		_, err := db.Exec("TRUNCATE TABLE " + table)
		require.NoError(t, err)
	}

	return instances, history, events
}

func TestPostgresStore_InstanceLifecycle(t *testing.T) {
	s, _, _ := newTestPostgresStores(t)

	created := time.Now()
	inst := &api.WorkflowInstance{
		ID:        "i1",
		Workflow:  "wf",
		Status:    api.StatusPending,
		Input:     map[string]any{"msg": "hello"},
		CreatedAt: created,
	}
	require.NoError(t, s.CreateInstance(inst))
	require.ErrorIs(t, s.CreateInstance(inst), ErrDuplicateInstance)

	got, err := s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusPending, got.Status)
	require.Equal(t, map[string]any{"msg": "hello"}, got.Input)
	require.True(t, got.CreatedAt.Equal(created))
	require.True(t, got.CompletedAt.IsZero())

	inst.Status = api.StatusCompleted
	inst.Output = "out"
	inst.CompletedAt = time.Now()
	require.NoError(t, s.UpdateInstance(inst))

	got, err = s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, got.Status)
	require.Equal(t, "out", got.Output)
	require.False(t, got.CompletedAt.IsZero())

	_, err = s.GetInstance("nope")
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.ErrorIs(t, s.UpdateInstance(&api.WorkflowInstance{ID: "nope"}), ErrInstanceNotFound)
}

func TestPostgresStore_ListInstancesFilters(t *testing.T) {
	s, _, _ := newTestPostgresStores(t)

	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "a", Workflow: "wf1", Status: api.StatusRunning, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "b", Workflow: "wf1", Status: api.StatusCompleted, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "c", Workflow: "wf2", Status: api.StatusRunning, CreatedAt: time.Now()}))

	all, err := s.ListInstances(InstanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	wf1, err := s.ListInstances(InstanceFilter{Workflow: "wf1"})
	require.NoError(t, err)
	require.Len(t, wf1, 2)

	running, err := s.ListInstances(InstanceFilter{Status: api.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 2)

	both, err := s.ListInstances(InstanceFilter{Workflow: "wf1", Status: api.StatusRunning})
	require.NoError(t, err)
	require.Len(t, both, 1)
	require.Equal(t, "a", both[0].ID)
}

func TestPostgresStore_HistoryOrdering(t *testing.T) {
	ctx := context.Background()
	_, s, _ := newTestPostgresStores(t)

	require.NoError(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 0, Kind: api.EventOrchestrationStarted, TaskID: -1, Payload: "in"},
		{Sequence: 1, Kind: api.EventActivityScheduled, TaskID: 0, Activity: "A"},
	}))
	require.NoError(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 2, Kind: api.EventActivityCompleted, TaskID: 0, Activity: "A", Payload: 42},
	}))

	// (instance_id, seq) is the primary key; replays must not overwrite.
	require.Error(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 2, Kind: api.EventActivityCompleted, TaskID: 0, Activity: "A"},
	}))

	got, err := s.ListEvents(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ev := range got {
		require.Equal(t, int64(i), ev.Sequence)
	}
	require.Equal(t, api.EventActivityCompleted, got[2].Kind)
	require.Equal(t, 42, got[2].Payload)

	empty, err := s.ListEvents(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestPostgresStore_WaitersAndBufferedEvents(t *testing.T) {
	ctx := context.Background()
	_, _, s := newTestPostgresStores(t)

	require.NoError(t, s.RegisterWaiter(ctx, "i1", "go"))
	require.NoError(t, s.RegisterWaiter(ctx, "i1", "go"))

	removed, err := s.RemoveWaiter(ctx, "i1", "go")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.RemoveWaiter(ctx, "i1", "go")
	require.NoError(t, err)
	require.False(t, removed)

	require.NoError(t, s.BufferEvent(ctx, "i1", "go", "one"))
	require.NoError(t, s.BufferEvent(ctx, "i1", "go", "two"))
	require.NoError(t, s.BufferEvent(ctx, "i1", "other", "x"))

	v, ok, err := s.TakeBufferedEvent(ctx, "i1", "go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	v, ok, err = s.TakeBufferedEvent(ctx, "i1", "go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", v)

	_, ok, err = s.TakeBufferedEvent(ctx, "i1", "go")
	require.NoError(t, err)
	require.False(t, ok)
}
