package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/store"
)

// MetadataRepo implements MetadataRepository on the device_metadata table.
type MetadataRepo struct{ store *store.Store }

// NewMetadataRepo constructs a metadata repository.
func NewMetadataRepo(st *store.Store) *MetadataRepo { return &MetadataRepo{store: st} }

// Get returns a value and its last update time.
func (r *MetadataRepo) Get(ctx context.Context, key string) (string, time.Time, error) {
	db, err := r.store.Handle()
	if err != nil {
		return "", time.Time{}, err
	}
	const q = `SELECT value, updated_at FROM device_metadata WHERE key=?`
	var value, updatedAt string
	if err := db.QueryRowContext(ctx, q, key).Scan(&value, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, errs.ErrNotFound
		}
		return "", time.Time{}, err
	}
	return value, parseTime(updatedAt), nil
}

// Set upserts one key.
func (r *MetadataRepo) Set(ctx context.Context, key, value string) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO device_metadata (key, value, updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
	_, err = db.ExecContext(ctx, q, key, value, fmtTime(time.Now()))
	return err
}

// SetMany upserts several keys atomically.
func (r *MetadataRepo) SetMany(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO device_metadata (key, value, updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
	now := fmtTime(time.Now())
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, q, k, v, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes keys; missing keys are ignored.
func (r *MetadataRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM device_metadata WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	return err
}
