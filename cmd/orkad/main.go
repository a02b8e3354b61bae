// Command orkad serves the purchase-order approval workflow over HTTP,
// backed by a SQLite database shared between the engine and its task queue.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mlaakso/orka"
	"github.com/mlaakso/orka/pkg/server"
	"github.com/mlaakso/orka/pkg/worker"
	"github.com/mlaakso/orka/purchase"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "HTTP listen address")
		dbPath   = flag.String("db", "orka.db", "SQLite database path")
		workers  = flag.Int("workers", 4, "activity worker concurrency")
		jsonLogs = flag.Bool("json-logs", false, "emit JSON logs instead of console output")
	)
	flag.Parse()

	log := orka.NewLogger()
	if *jsonLogs {
		log = orka.NewJSONLogger()
	}
	slog.SetDefault(log)

	if err := run(log, *addr, *dbPath, *workers); err != nil {
		log.Error("orkad exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, addr, dbPath string, workers int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer db.Close()

	bundle, err := orka.NewSQLiteBundle(db, worker.Config{
		Concurrency: workers,
		MaxAttempts: 3,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	orders, err := purchase.NewSQLiteOrderStore(db)
	if err != nil {
		return err
	}
	acts := purchase.NewActivities(purchase.LogNotifier{Logger: log}, orders)
	if err := purchase.Register(bundle.Engine, acts); err != nil {
		return err
	}

	// Re-dispatch tasks and resume instances interrupted by a previous
	// shutdown before accepting new traffic.
	recovered, err := orka.RecoverInstances(ctx, bundle.Engine)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Info("recovered instances", "count", recovered)
	}

	bundle.Worker.Start(ctx)
	defer bundle.Worker.Stop()

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(bundle.Engine, log).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "db", dbPath, "workers", workers)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
