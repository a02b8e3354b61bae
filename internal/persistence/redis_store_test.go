package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mlaakso/orka/pkg/api"
)

func TestRedisInstanceCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Now().Truncate(0)
	completed := created.Add(3 * time.Second)
	inst := &api.WorkflowInstance{
		ID:          "r1",
		Workflow:    "wf",
		Status:      api.StatusFailed,
		Input:       map[string]any{"msg": "hello", "n": 42},
		Output:      "partial",
		Err:         errors.New("something happened"),
		CreatedAt:   created,
		CompletedAt: completed,
	}

	data, err := encodeRedisInstance(inst)
	require.NoError(t, err)

	got, err := decodeRedisInstance(data)
	require.NoError(t, err)
	require.Equal(t, inst.ID, got.ID)
	require.Equal(t, inst.Workflow, got.Workflow)
	require.Equal(t, inst.Status, got.Status)
	require.Equal(t, inst.Input, got.Input)
	require.Equal(t, inst.Output, got.Output)
	require.EqualError(t, got.Err, "something happened")
	require.True(t, got.CreatedAt.Equal(created))
	require.True(t, got.CompletedAt.Equal(completed))
}

func TestRedisInstanceCodec_ZeroCompletedAtAndNilError(t *testing.T) {
	t.Parallel()

	data, err := encodeRedisInstance(&api.WorkflowInstance{
		ID:        "r2",
		Workflow:  "wf",
		Status:    api.StatusRunning,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	got, err := decodeRedisInstance(data)
	require.NoError(t, err)
	require.NoError(t, got.Err)
	require.True(t, got.CompletedAt.IsZero())

	_, err = decodeRedisInstance(nil)
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

// newTestRedisStore connects to the server named by ORKA_REDIS_ADDR, skipping
// the test when it is unset. Each test gets its own key prefix, cleared up
// front so reruns start from a clean slate.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("ORKA_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORKA_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err(), "redis ping failed")

	testPrefix := "orka:test:" + t.Name() + ":"
	iter := client.Scan(ctx, 0, testPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		require.NoError(t, client.Del(ctx, iter.Val()).Err())
	}
	require.NoError(t, iter.Err(), "redis SCAN failed")

	return NewRedisStore(client, testPrefix)
}

func TestRedisStore_InstanceLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)

	inst := &api.WorkflowInstance{
		ID:        "i1",
		Workflow:  "wf",
		Status:    api.StatusPending,
		Input:     map[string]any{"msg": "hello"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateInstance(inst))
	require.ErrorIs(t, s.CreateInstance(inst), ErrDuplicateInstance)

	got, err := s.GetInstance("i1")
	require.NoError(t, err)
	require.Equal(t, api.StatusPending, got.Status)
	require.Equal(t, map[string]any{"msg": "hello"}, got.Input)

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

func TestRedisStore_ListInstancesFilters(t *testing.T) {
	t.Parallel()

	s := newTestRedisStore(t)
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

func TestRedisStore_HistoryOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 0, Kind: api.EventOrchestrationStarted, TaskID: -1, Payload: "in"},
		{Sequence: 1, Kind: api.EventActivityScheduled, TaskID: 0, Activity: "A"},
	}))
	require.NoError(t, s.AppendEvents(ctx, "i1", []api.HistoryEvent{
		{Sequence: 2, Kind: api.EventActivityCompleted, TaskID: 0, Activity: "A", Payload: 42},
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

func TestRedisStore_WaitersAndBufferedEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestRedisStore(t)

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
