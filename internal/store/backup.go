package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/2jz-code/tillkeeper/internal/errs"
)

const (
	backupPrefix = "tillkeeper-"
	backupSuffix = ".db"
)

// Backup snapshots the database into the backups directory and prunes old
// snapshots. The preferred path is VACUUM INTO, which is a point-in-time
// snapshot safe under concurrent writers. If that fails, a WAL checkpoint
// followed by a file copy is used instead; the copy is not point-in-time if a
// write races it, which is accepted for a best-effort disaster-recovery
// artifact. The WAL itself remains the primary durability mechanism.
func (s *Store) Backup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.db == nil {
		return "", errs.ErrNotInitialized
	}
	return s.backupLocked(ctx)
}

func (s *Store) backupLocked(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.opts.BackupDir, 0o755); err != nil {
		return "", err
	}

	name := backupPrefix + time.Now().UTC().Format("20060102T150405.000000000") + backupSuffix
	target := filepath.Join(s.opts.BackupDir, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		s.log.Warn("vacuum snapshot failed, falling back to file copy", zap.Error(err))
		_ = os.Remove(target)
		if _, cerr := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); cerr != nil {
			return "", fmt.Errorf("checkpoint: %w", cerr)
		}
		if cerr := copyFile(s.opts.Path, target); cerr != nil {
			return "", fmt.Errorf("copy database: %w", cerr)
		}
	}

	s.pruneBackupsLocked()
	return target, nil
}

// RestoreFromLatestBackup replaces the database file with the most recent
// snapshot and reopens the store.
func (s *Store) RestoreFromLatestBackup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeHandleLocked()
	s.initialized = false

	if err := s.restoreLatestLocked(); err != nil {
		return err
	}
	if err := s.openLocked(ctx); err != nil {
		s.closeHandleLocked()
		return err
	}
	s.initialized = true
	return nil
}

// restoreLatestLocked copies the newest snapshot over the main database file.
// The handle must be closed. Caller holds s.mu.
func (s *Store) restoreLatestLocked() error {
	latest, err := s.latestBackupLocked()
	if err != nil {
		return err
	}
	removeDatabaseFiles(s.opts.Path)
	if err := copyFile(latest, s.opts.Path); err != nil {
		return fmt.Errorf("restore %s: %w", filepath.Base(latest), err)
	}
	s.log.Info("restored database from backup", zap.String("backup", filepath.Base(latest)))
	return nil
}

// latestBackupLocked returns the newest snapshot path, or ErrNotFound.
// Snapshot names embed a UTC timestamp, so lexical order is chronological.
func (s *Store) latestBackupLocked() (string, error) {
	names, err := s.backupNamesLocked()
	if err != nil || len(names) == 0 {
		if err == nil {
			err = errs.ErrNotFound
		}
		return "", err
	}
	return filepath.Join(s.opts.BackupDir, names[len(names)-1]), nil
}

// backupNamesLocked lists snapshot file names sorted oldest-first.
func (s *Store) backupNamesLocked() ([]string, error) {
	entries, err := os.ReadDir(s.opts.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// pruneBackupsLocked enforces the retention window: snapshots older than the
// retention duration or beyond the newest BackupKeep are removed. Prune
// failures are logged and swallowed.
func (s *Store) pruneBackupsLocked() {
	names, err := s.backupNamesLocked()
	if err != nil {
		s.log.Warn("backup prune: list failed", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-s.opts.BackupRetention)
	for i, n := range names {
		path := filepath.Join(s.opts.BackupDir, n)
		tooMany := len(names)-i > s.opts.BackupKeep
		expired := false
		if info, ierr := os.Stat(path); ierr == nil {
			expired = info.ModTime().Before(cutoff)
		}
		if tooMany || expired {
			if rerr := os.Remove(path); rerr != nil {
				s.log.Warn("backup prune: remove failed", zap.String("backup", n), zap.Error(rerr))
			}
		}
	}
}

// RunPeriodicBackups snapshots the database on a fixed interval until ctx is
// cancelled. It runs on its own timer, independent of sync and probe timers,
// and never surfaces errors to foreground operations.
func (s *Store) RunPeriodicBackups(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if path, err := s.Backup(ctx); err != nil {
				s.log.Warn("periodic backup failed", zap.Error(err))
			} else {
				s.log.Debug("backup written", zap.String("path", path))
			}
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
