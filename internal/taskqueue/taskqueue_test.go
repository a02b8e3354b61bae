package taskqueue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_FIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := NewInMemoryQueue(8)
	require.NoError(t, q.Enqueue(ctx, Task{ID: "1", InstanceID: "i1", Activity: "a"}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "2", InstanceID: "i1", Activity: "b"}))
	require.Equal(t, 2, q.Len())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", second.ID)
	require.Equal(t, 0, q.Len())
}

func TestInMemoryQueue_DequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewInMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_NotBeforeDelaysDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := NewInMemoryQueue(1)
	delay := 50 * time.Millisecond
	require.NoError(t, q.Enqueue(ctx, Task{ID: "1", NotBefore: time.Now().Add(delay)}))

	start := time.Now()
	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", task.ID)
	require.GreaterOrEqual(t, time.Since(start), delay)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue_test.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteQueue_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, err := NewSQLiteQueue(openTestDB(t))
	require.NoError(t, err)

	enqueued := Task{
		ID:         "q1",
		InstanceID: "i1",
		TaskID:     3,
		Activity:   "notify",
		Input:      map[string]any{"order": "PO-1"},
		Attempt:    1,
	}
	require.NoError(t, q.Enqueue(ctx, enqueued))
	require.Equal(t, 1, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "q1", got.ID)
	require.Equal(t, "i1", got.InstanceID)
	require.Equal(t, 3, got.TaskID)
	require.Equal(t, "notify", got.Activity)
	require.Equal(t, map[string]any{"order": "PO-1"}, got.Input)
	require.Equal(t, 1, got.Attempt)
	require.Equal(t, 0, q.Len())
}

func TestSQLiteQueue_NotBeforeGatesEligibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, err := NewSQLiteQueue(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, Task{ID: "late", NotBefore: time.Now().Add(80 * time.Millisecond)}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "now"}))

	// The eligible task is delivered even though the delayed one is older.
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "now", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "late", second.ID)
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "durable_queue.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	q1, err := NewSQLiteQueue(db1)
	require.NoError(t, err)
	require.NoError(t, q1.Enqueue(ctx, Task{ID: "persisted", Activity: "a"}))
	require.NoError(t, db1.Close())

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()
	q2, err := NewSQLiteQueue(db2)
	require.NoError(t, err)

	got, err := q2.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "persisted", got.ID)
}
