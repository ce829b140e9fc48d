// Package store owns the terminal's embedded SQLite database file: open and
// schema lifecycle, durability pragmas, backups, and corruption recovery.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/migrate"
)

// Options configure the store. Zero values fall back to defaults.
type Options struct {
	// Path is the database file. Required.
	Path string
	// BackupDir holds timestamped snapshot files. Defaults to
	// "<dir of Path>/backups".
	BackupDir string
	// Reset deletes the database file before initializing.
	Reset bool
	// BackupRetention is how long snapshots are kept. Default 7 days.
	BackupRetention time.Duration
	// BackupKeep caps the number of snapshots kept. Default 10.
	BackupKeep int
}

const (
	defaultBackupRetention = 7 * 24 * time.Hour
	defaultBackupKeep      = 10
)

// Store owns exactly one on-disk database file per terminal. All repositories
// operate through its handle. Access is single-process; the store enforces a
// single writer by capping the pool at one connection.
type Store struct {
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
}

// New constructs a store. Initialize must be called before Handle.
func New(opts Options, log *zap.Logger) *Store {
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(filepath.Dir(opts.Path), "backups")
	}
	if opts.BackupRetention <= 0 {
		opts.BackupRetention = defaultBackupRetention
	}
	if opts.BackupKeep <= 0 {
		opts.BackupKeep = defaultBackupKeep
	}
	return &Store{opts: opts, log: log}
}

// Initialize opens the database, applies pragmas and migrations, and marks
// the store ready. On failure it attempts restore-from-latest-backup; if that
// also fails it deletes the corrupt file and reinitializes empty. Losing local
// state is preferred over a terminal that cannot start.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if s.opts.Reset {
		s.log.Info("reset requested, removing database file", zap.String("path", s.opts.Path))
		removeDatabaseFiles(s.opts.Path)
	}

	if err := s.openLocked(ctx); err != nil {
		s.log.Warn("initialization failed, attempting restore from backup", zap.Error(err))
		s.closeHandleLocked()
		removeDatabaseFiles(s.opts.Path)

		if rerr := s.restoreLatestLocked(); rerr != nil {
			s.log.Warn("restore failed, starting fresh", zap.Error(rerr))
		}
		if err := s.openLocked(ctx); err != nil {
			s.closeHandleLocked()
			removeDatabaseFiles(s.opts.Path)
			if err := s.openLocked(ctx); err != nil {
				return fmt.Errorf("reinitialize empty: %w", err)
			}
		}
	}

	s.initialized = true

	// Best-effort startup snapshot. Never blocks startup.
	if _, err := s.backupLocked(ctx); err != nil {
		s.log.Warn("startup backup failed", zap.Error(err))
	}
	return nil
}

// openLocked opens the file, verifies it, and migrates the schema.
// Caller holds s.mu.
func (s *Store) openLocked(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0o755); err != nil {
		return err
	}

	dsn := s.opts.Path + "?_journal_mode=WAL&_foreign_keys=on&_secure_delete=on&_busy_timeout=5000&_cache_size=-8000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a larger pool only buys lock contention.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if check != "ok" {
		return fmt.Errorf("quick_check: %s", check)
	}

	if err := migrate.Up(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Handle returns the open database handle. It fails fast before Initialize:
// calling it early is a programmer error, not a retryable condition.
func (s *Store) Handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.db == nil {
		return nil, errs.ErrNotInitialized
	}
	return s.db, nil
}

// Close shuts the database down. Initialize may be called again afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) closeHandleLocked() {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

// removeDatabaseFiles deletes the main file plus WAL/SHM sidecars.
func removeDatabaseFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}
