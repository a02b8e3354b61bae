package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlaakso/orka/pkg/api"
)

func TestInMemoryStore_InstanceLifecycle(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()

	inst := &api.WorkflowInstance{
		ID:        "i1",
		Workflow:  "wf",
		Status:    api.StatusPending,
		Input:     "in",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateInstance(inst))
	require.ErrorIs(t, s.CreateInstance(inst), ErrDuplicateInstance)

	got, err := s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusPending, got.Status)

	// Mutating the returned snapshot must not affect the store.
	got.Status = api.StatusFailed
	again, err := s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusPending, again.Status)

	inst.Status = api.StatusCompleted
	inst.Output = "out"
	require.NoError(t, s.UpdateInstance(inst))

	got, err = s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, got.Status)
	require.Equal(t, "out", got.Output)

	_, err = s.GetInstance("nope")
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.ErrorIs(t, s.UpdateInstance(&api.WorkflowInstance{ID: "nope"}), ErrInstanceNotFound)
}

func TestInMemoryStore_ListInstancesFilters(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "a", Workflow: "wf1", Status: api.StatusRunning}))
	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "b", Workflow: "wf1", Status: api.StatusCompleted}))
	require.NoError(t, s.CreateInstance(&api.WorkflowInstance{ID: "c", Workflow: "wf2", Status: api.StatusRunning}))

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

func TestInMemoryStore_HistoryOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	events := []api.HistoryEvent{
		{Sequence: 0, Kind: api.EventOrchestrationStarted, TaskID: -1, Payload: "in"},
		{Sequence: 1, Kind: api.EventActivityScheduled, TaskID: 0, Activity: "A"},
	}
	require.NoError(t, s.AppendEvents(ctx, "i1", events))
	require.NoError(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 2, Kind: api.EventActivityCompleted, TaskID: 0, Activity: "A", Payload: 42},
	}))

	got, err := s.ListEvents(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ev := range got {
		require.Equal(t, int64(i), ev.Sequence)
	}
	require.Equal(t, 42, got[2].Payload)

	empty, err := s.ListEvents(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestInMemoryStore_WaitersAndBufferedEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	// Registration is idempotent; removal reports presence.
	require.NoError(t, s.RegisterWaiter(ctx, "i1", "go"))
	require.NoError(t, s.RegisterWaiter(ctx, "i1", "go"))

	removed, err := s.RemoveWaiter(ctx, "i1", "go")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.RemoveWaiter(ctx, "i1", "go")
	require.NoError(t, err)
	require.False(t, removed)

	// Buffered events come back FIFO per (instance, name).
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
