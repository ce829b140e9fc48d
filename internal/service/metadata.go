// Package service contains application services over the repository layer:
// device metadata helpers, catalog sync application, the pending-operation
// queue, and the offline transaction ledger.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/repository"
)

// Metadata keys. Pairing keys are written and cleared together.
const (
	keyNetworkStatus   = "network_status"
	keyOfflineSince    = "offline_since"
	keyLastSyncAttempt = "last_sync_attempt_at"
	keyLastSyncSuccess = "last_sync_success_at"
	keyTerminalID      = "terminal_id"
	keyTenantID        = "tenant_id"
	keyLocationID      = "location_id"
	keySigningSecret   = "signing_secret"
	keyPairedAt        = "paired_at"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// MetadataService provides typed helpers over the device metadata store.
type MetadataService interface {
	// UpdateNetworkStatus persists the connectivity decision. The
	// online->offline transition stamps offline_since; offline->online
	// clears it.
	UpdateNetworkStatus(ctx context.Context, online bool) error
	// GetNetworkStatus returns the persisted decision. A terminal that has
	// never recorded a status reports online.
	GetNetworkStatus(ctx context.Context) (model.NetworkStatus, error)
	// UpdateSyncTimestamp stamps the last attempt, and on success also the
	// last success.
	UpdateSyncTimestamp(ctx context.Context, success bool) error
	// GetSyncStatus returns last attempt/success timestamps (nil if never).
	GetSyncStatus(ctx context.Context) (model.SyncStatus, error)
	// StorePairingInfo persists the terminal's bootstrap identity.
	StorePairingInfo(ctx context.Context, info model.PairingInfo) error
	// GetPairingInfo returns the pairing record, or errs.ErrNotPaired unless
	// terminal, tenant, and location ids are all present.
	GetPairingInfo(ctx context.Context) (*model.PairingInfo, error)
	// ClearPairingInfo removes all pairing fields.
	ClearPairingInfo(ctx context.Context) error
}

type MetadataServiceImpl struct {
	repo repository.MetadataRepository
}

// NewMetadataService constructs MetadataService.
func NewMetadataService(repo repository.MetadataRepository) *MetadataServiceImpl {
	return &MetadataServiceImpl{repo: repo}
}

// UpdateNetworkStatus persists the online/offline decision with the
// offline_since side effect.
func (s *MetadataServiceImpl) UpdateNetworkStatus(ctx context.Context, online bool) error {
	if online {
		if err := s.repo.Set(ctx, keyNetworkStatus, statusOnline); err != nil {
			return err
		}
		return s.repo.Delete(ctx, keyOfflineSince)
	}

	kv := map[string]string{keyNetworkStatus: statusOffline}
	// Keep the original offline_since across repeated offline updates.
	if _, _, err := s.repo.Get(ctx, keyOfflineSince); errors.Is(err, errs.ErrNotFound) {
		kv[keyOfflineSince] = time.Now().UTC().Format(time.RFC3339Nano)
	} else if err != nil {
		return err
	}
	return s.repo.SetMany(ctx, kv)
}

// GetNetworkStatus returns the persisted connectivity decision.
func (s *MetadataServiceImpl) GetNetworkStatus(ctx context.Context) (model.NetworkStatus, error) {
	value, updatedAt, err := s.repo.Get(ctx, keyNetworkStatus)
	if errors.Is(err, errs.ErrNotFound) {
		return model.NetworkStatus{Online: true}, nil
	}
	if err != nil {
		return model.NetworkStatus{}, err
	}

	st := model.NetworkStatus{Online: value == statusOnline, UpdatedAt: updatedAt}
	if !st.Online {
		if since, _, err := s.repo.Get(ctx, keyOfflineSince); err == nil {
			if t, perr := time.Parse(time.RFC3339Nano, since); perr == nil {
				st.OfflineSince = &t
			}
		}
	}
	return st, nil
}

// UpdateSyncTimestamp stamps sync bookkeeping after each orchestrator round.
func (s *MetadataServiceImpl) UpdateSyncTimestamp(ctx context.Context, success bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	kv := map[string]string{keyLastSyncAttempt: now}
	if success {
		kv[keyLastSyncSuccess] = now
	}
	return s.repo.SetMany(ctx, kv)
}

// GetSyncStatus returns the last attempt/success timestamps.
func (s *MetadataServiceImpl) GetSyncStatus(ctx context.Context) (model.SyncStatus, error) {
	var st model.SyncStatus
	for _, e := range []struct {
		key string
		dst **time.Time
	}{
		{keyLastSyncAttempt, &st.LastAttemptAt},
		{keyLastSyncSuccess, &st.LastSuccessAt},
	} {
		value, _, err := s.repo.Get(ctx, e.key)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.SyncStatus{}, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, value); perr == nil {
			*e.dst = &t
		}
	}
	return st, nil
}

// StorePairingInfo persists the full pairing record atomically.
func (s *MetadataServiceImpl) StorePairingInfo(ctx context.Context, info model.PairingInfo) error {
	if info.TerminalID == "" || info.TenantID == "" || info.LocationID == "" || info.SigningSecret == "" {
		return errors.New("validation: pairing requires terminal, tenant, location ids and secret")
	}
	if info.PairedAt.IsZero() {
		info.PairedAt = time.Now()
	}
	return s.repo.SetMany(ctx, map[string]string{
		keyTerminalID:    info.TerminalID,
		keyTenantID:      info.TenantID,
		keyLocationID:    info.LocationID,
		keySigningSecret: info.SigningSecret,
		keyPairedAt:      info.PairedAt.UTC().Format(time.RFC3339Nano),
	})
}

// GetPairingInfo returns the pairing record. The gate is all-or-none: a
// partial record (any of terminal, tenant, location missing) reports
// ErrNotPaired.
func (s *MetadataServiceImpl) GetPairingInfo(ctx context.Context) (*model.PairingInfo, error) {
	var info model.PairingInfo
	for _, e := range []struct {
		key      string
		dst      *string
		required bool
	}{
		{keyTerminalID, &info.TerminalID, true},
		{keyTenantID, &info.TenantID, true},
		{keyLocationID, &info.LocationID, true},
		{keySigningSecret, &info.SigningSecret, false},
	} {
		value, _, err := s.repo.Get(ctx, e.key)
		if errors.Is(err, errs.ErrNotFound) {
			if e.required {
				return nil, errs.ErrNotPaired
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		*e.dst = value
	}
	if paired, _, err := s.repo.Get(ctx, keyPairedAt); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, paired); perr == nil {
			info.PairedAt = t
		}
	}
	return &info, nil
}

// ClearPairingInfo removes all pairing fields.
func (s *MetadataServiceImpl) ClearPairingInfo(ctx context.Context) error {
	return s.repo.Delete(ctx, keyTerminalID, keyTenantID, keyLocationID, keySigningSecret, keyPairedAt)
}
