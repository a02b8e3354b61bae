package orka

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	workerpkg "github.com/mlaakso/orka/pkg/worker"
	"github.com/mlaakso/orka/purchase"
)

// TestSQLiteBundle_DurableAcrossRestart starts a workflow, simulates a crash
// before any activity runs, then recovers on a fresh engine over the same
// database and drives the workflow to completion.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "orka_bundle.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	// --- Phase 1: start the instance, never run a worker.

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	bundle1, err := NewSQLiteBundle(db1, workerpkg.Config{MaxAttempts: 3})
	require.NoError(t, err)

	orders1, err := purchase.NewSQLiteOrderStore(db1)
	require.NoError(t, err)
	require.NoError(t, purchase.Register(bundle1.Engine,
		purchase.NewActivities(purchase.LogNotifier{}, orders1)))

	order := purchase.Order{OrderID: "PO-9", Status: "Draft", Details: "srv", Amount: "200"}
	inst, err := bundle1.Engine.StartInstance(ctx, "D1", purchase.WorkflowName, order)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, inst.Status, "first activity is queued, not yet executed")

	require.NoError(t, db1.Close())

	// --- Phase 2: "restart": fresh handles over the same file.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	bundle2, err := NewSQLiteBundle(db2, workerpkg.Config{MaxAttempts: 3})
	require.NoError(t, err)

	orders2, err := purchase.NewSQLiteOrderStore(db2)
	require.NoError(t, err)
	require.NoError(t, purchase.Register(bundle2.Engine,
		purchase.NewActivities(purchase.LogNotifier{}, orders2)))

	recovered, err := RecoverInstances(ctx, bundle2.Engine)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	bundle2.Worker.Start(ctx)
	defer bundle2.Worker.Stop()

	waitForStatus(t, ctx, bundle2.Engine, "D1", StatusWaiting)
	require.NoError(t, bundle2.Engine.RaiseEvent(ctx, "D1", purchase.EventApprovalResponse, "Approved"))
	final := waitForStatus(t, ctx, bundle2.Engine, "D1", StatusCompleted)

	result, ok := final.Output.(purchase.Result)
	require.True(t, ok, "output is %T", final.Output)
	require.Equal(t, "Validated", result.ValidationResult)
	require.Equal(t, purchase.TierAuto, result.ApprovalResult)

	status, found, err := orders2.GetStatus(ctx, "PO-9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Approved", status)
}

// TestSQLiteDSN_EnablesWALAndBusyTimeout pins the DSN shape the daemon and
// the docs use. modernc.org/sqlite only honors pragmas passed as
// _pragma=name(value); with the defaults (journal_mode=delete, busy_timeout=0)
// concurrent workers over one file fail immediately with SQLITE_BUSY.
func TestSQLiteDSN_EnablesWALAndBusyTimeout(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "orka_pragma.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	require.Equal(t, 5000, timeout)
}

func waitForStatus(t *testing.T, ctx context.Context, eng Engine, instanceID string, want Status) *WorkflowInstance {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		inst, err := eng.GetStatus(ctx, instanceID)
		require.NoError(t, err)
		if inst.Status == want {
			return inst
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance %s stuck in %s, want %s", instanceID, inst.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
