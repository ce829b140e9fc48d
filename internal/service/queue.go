package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/repository"
)

// QueueService manages the durable queue of mutations awaiting transmission.
//
// Retry policy is deliberately NOT implemented here: the queue records what
// happened on each attempt and nothing more. The Sync Orchestrator owns the
// retry ceiling and backoff schedule; left alone, a FAILED operation stays
// FAILED forever and Retry may be called an unbounded number of times.
type QueueService interface {
	// Enqueue stores a new PENDING operation with a signature computed from
	// the terminal's pairing secret. Fails with errs.ErrNotPaired on an
	// unpaired terminal. The payload is opaque and never validated.
	Enqueue(ctx context.Context, typ model.OperationType, payload json.RawMessage, orderLocalID *uuid.UUID) (*model.PendingOperation, error)
	// Get returns one operation.
	Get(ctx context.Context, id uuid.UUID) (*model.PendingOperation, error)
	// List returns operations oldest-first, filtered by status and/or type.
	List(ctx context.Context, status *model.OperationStatus, typ *model.OperationType) ([]model.PendingOperation, error)
	// CountByStatus returns queue depth per status for dashboards.
	CountByStatus(ctx context.Context) (map[model.OperationStatus]int, error)
	// MarkSending records that a delivery attempt has started.
	MarkSending(ctx context.Context, id uuid.UUID) error
	// MarkSynced records a successful delivery with the backend response.
	MarkSynced(ctx context.Context, id uuid.UUID, response string) error
	// MarkFailed records a failed delivery attempt.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	// Retry requeues a FAILED operation and increments its retry counter.
	Retry(ctx context.Context, id uuid.UUID) error
	// Delete removes one operation.
	Delete(ctx context.Context, id uuid.UUID) error
	// PurgeSuccessful removes SENT operations older than the given age.
	PurgeSuccessful(ctx context.Context, olderThanDays int) (int64, error)
	// ClearAll wipes the queue and offline ledger. Administrative reset.
	ClearAll(ctx context.Context) error
}

type QueueServiceImpl struct {
	repo repository.QueueRepository
	meta MetadataService
}

// NewQueueService constructs QueueService.
func NewQueueService(repo repository.QueueRepository, meta MetadataService) *QueueServiceImpl {
	return &QueueServiceImpl{repo: repo, meta: meta}
}

func validOperationType(t model.OperationType) bool {
	switch t {
	case model.OpOrder, model.OpInventory, model.OpApproval:
		return true
	}
	return false
}

// Enqueue validates input, signs the operation, and stores it PENDING.
func (s *QueueServiceImpl) Enqueue(ctx context.Context, typ model.OperationType, payload json.RawMessage, orderLocalID *uuid.UUID) (*model.PendingOperation, error) {
	if !validOperationType(typ) {
		return nil, fmt.Errorf("validation: unknown operation type %q", typ)
	}
	if len(payload) == 0 {
		return nil, errors.New("validation: empty payload")
	}

	pairing, err := s.meta.GetPairingInfo(ctx)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	sig, err := signOperation(id, typ, payload, pairing)
	if err != nil {
		return nil, fmt.Errorf("sign operation: %w", err)
	}

	op := &model.PendingOperation{
		ID:           id,
		Type:         typ,
		Payload:      payload,
		OrderLocalID: orderLocalID,
		Signature:    sig,
	}
	if err := s.repo.Insert(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// signOperation produces an HS256 JWS binding the operation to this paired
// terminal. The payload itself stays out of the token; only its digest is
// signed, so large payloads do not bloat the signature.
func signOperation(id uuid.UUID, typ model.OperationType, payload json.RawMessage, pairing *model.PairingInfo) (string, error) {
	digest := sha256.Sum256(payload)
	claims := jwt.MapClaims{
		"op_id":          id.String(),
		"op_type":        string(typ),
		"payload_sha256": hex.EncodeToString(digest[:]),
		"terminal_id":    pairing.TerminalID,
		"tenant_id":      pairing.TenantID,
		"location_id":    pairing.LocationID,
		"iat":            time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(pairing.SigningSecret))
}

// Get returns one operation.
func (s *QueueServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.PendingOperation, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	return s.repo.Get(ctx, id)
}

// List returns operations oldest-first.
func (s *QueueServiceImpl) List(ctx context.Context, status *model.OperationStatus, typ *model.OperationType) ([]model.PendingOperation, error) {
	return s.repo.List(ctx, status, typ)
}

// CountByStatus returns queue depth per status.
func (s *QueueServiceImpl) CountByStatus(ctx context.Context) (map[model.OperationStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}

// MarkSending moves PENDING -> SENDING.
func (s *QueueServiceImpl) MarkSending(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkSending(ctx, id)
}

// MarkSynced moves SENDING -> SENT.
func (s *QueueServiceImpl) MarkSynced(ctx context.Context, id uuid.UUID, response string) error {
	return s.repo.MarkSynced(ctx, id, response)
}

// MarkFailed moves SENDING -> FAILED.
func (s *QueueServiceImpl) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return s.repo.MarkFailed(ctx, id, errorMessage)
}

// Retry moves FAILED -> PENDING with retries+1. No ceiling is enforced; see
// the interface contract.
func (s *QueueServiceImpl) Retry(ctx context.Context, id uuid.UUID) error {
	return s.repo.Retry(ctx, id)
}

// Delete removes one operation.
func (s *QueueServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// PurgeSuccessful removes SENT rows older than olderThanDays days.
func (s *QueueServiceImpl) PurgeSuccessful(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, errors.New("validation: olderThanDays must be positive")
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	return s.repo.PurgeSuccessful(ctx, cutoff)
}

// ClearAll wipes queue and ledger.
func (s *QueueServiceImpl) ClearAll(ctx context.Context) error {
	return s.repo.ClearAll(ctx)
}
