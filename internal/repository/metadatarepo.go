// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"
)

// MetadataRepository is a generic key/value store with update timestamps.
// Typed helpers (network status, pairing, sync stamps) live in the service layer.
type MetadataRepository interface {
	// Get returns the value and its last update time, or errs.ErrNotFound.
	Get(ctx context.Context, key string) (string, time.Time, error)
	// Set writes a value and stamps updated_at.
	Set(ctx context.Context, key, value string) error
	// SetMany writes several keys in one transaction.
	SetMany(ctx context.Context, kv map[string]string) error
	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
