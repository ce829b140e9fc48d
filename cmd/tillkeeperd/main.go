// Command tillkeeperd runs the terminal-resident durability core: it owns the
// local store, keeps backups, and tracks backend connectivity. Catalog sync
// and queue draining are driven by the Sync Orchestrator process over this
// core's services.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/2jz-code/tillkeeper/internal/monitor"
	"github.com/2jz-code/tillkeeper/internal/repository/sqlite"
	"github.com/2jz-code/tillkeeper/internal/service"
	"github.com/2jz-code/tillkeeper/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	dbPath := flag.String("db", "tillkeeper.db", "database file path")
	backupDir := flag.String("backup-dir", "", "backup directory (default <db dir>/backups)")
	backupInterval := flag.Duration("backup-interval", time.Hour, "interval between backups")
	backupRetention := flag.Duration("backup-retention", 7*24*time.Hour, "how long backups are kept")
	backupKeep := flag.Int("backup-keep", 10, "max backups kept")
	reset := flag.Bool("reset", false, "delete the database file before starting")
	healthURL := flag.String("health-url", "", "backend health endpoint (required)")
	probeInterval := flag.Duration("probe-interval", 30*time.Second, "interval between health probes")
	probeTimeout := flag.Duration("probe-timeout", 5*time.Second, "health probe timeout")
	failureThreshold := flag.Int("failure-threshold", 3, "consecutive probe failures before going offline")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("db", *dbPath),
	)

	if *healthURL == "" {
		logger.Fatal("missing health endpoint (--health-url)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(store.Options{
		Path:            *dbPath,
		BackupDir:       *backupDir,
		Reset:           *reset,
		BackupRetention: *backupRetention,
		BackupKeep:      *backupKeep,
	}, logger)
	if err := st.Initialize(ctx); err != nil {
		logger.Fatal("store initialize", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	metaSvc := service.NewMetadataService(sqlite.NewMetadataRepo(st))

	mon := monitor.New(
		monitor.HTTPProber(*healthURL, nil),
		metaSvc,
		monitor.Options{
			Interval:         *probeInterval,
			ProbeTimeout:     *probeTimeout,
			FailureThreshold: *failureThreshold,
		},
		logger,
	)

	go st.RunPeriodicBackups(ctx, *backupInterval)
	go mon.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown complete")
}
