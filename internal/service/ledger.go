package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/2jz-code/tillkeeper/internal/crypto"
	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/repository"
)

// LedgerService records orders, payments, and manager approvals taken while
// the terminal cannot reach the backend, and tracks their reconciliation.
type LedgerService interface {
	// RecordOrder durably stores an order payload and returns it with a new
	// local id (status PENDING). Recording is allowed even while online so a
	// durable row exists before network confirmation.
	RecordOrder(ctx context.Context, payload json.RawMessage) (*model.OfflineOrder, error)
	// Order returns one order by local id.
	Order(ctx context.Context, localID uuid.UUID) (*model.OfflineOrder, error)
	// Orders lists orders oldest-first, optionally by status.
	Orders(ctx context.Context, status *model.OrderStatus) ([]model.OfflineOrder, error)
	// UpdateOrderStatus records the reconciliation outcome: SYNCED with the
	// backend ids, or CONFLICT with a non-empty reason kept verbatim.
	UpdateOrderStatus(ctx context.Context, localID uuid.UUID, status model.OrderStatus, serverOrderID, serverOrderNumber, conflictReason string) error
	// DeleteOrder removes an order (and its payments). Only call after the
	// order is confirmed SYNCED.
	DeleteOrder(ctx context.Context, localID uuid.UUID) error

	// RecordPayment stores a payment against an order.
	RecordPayment(ctx context.Context, p model.OfflinePayment) (*model.OfflinePayment, error)
	// Payments lists an order's payments.
	Payments(ctx context.Context, orderLocalID uuid.UUID) ([]model.OfflinePayment, error)

	// RecordApproval hashes the manager PIN and stores the approval.
	RecordApproval(ctx context.Context, typ model.ApprovalType, managerPIN string, value int64, orderLocalID *uuid.UUID) (*model.OfflineApproval, error)
	// VerifyApproval checks a PIN against a stored approval's hash.
	VerifyApproval(ctx context.Context, id uuid.UUID, managerPIN string) (bool, error)
	// UnsyncedApprovals lists approvals awaiting batch acknowledgement.
	UnsyncedApprovals(ctx context.Context) ([]model.OfflineApproval, error)
	// MarkApprovalsSynced acknowledges a batch of approvals by id.
	MarkApprovalsSynced(ctx context.Context, ids []uuid.UUID) error
}

type LedgerServiceImpl struct {
	repo repository.LedgerRepository
}

// NewLedgerService constructs LedgerService.
func NewLedgerService(repo repository.LedgerRepository) *LedgerServiceImpl {
	return &LedgerServiceImpl{repo: repo}
}

// RecordOrder stores an order payload under a fresh local id.
func (s *LedgerServiceImpl) RecordOrder(ctx context.Context, payload json.RawMessage) (*model.OfflineOrder, error) {
	if len(payload) == 0 {
		return nil, errors.New("validation: empty payload")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	o := &model.OfflineOrder{LocalID: id, Payload: payload}
	if err := s.repo.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Order returns one order.
func (s *LedgerServiceImpl) Order(ctx context.Context, localID uuid.UUID) (*model.OfflineOrder, error) {
	if localID == uuid.Nil {
		return nil, errors.New("validation: empty local id")
	}
	return s.repo.GetOrder(ctx, localID)
}

// Orders lists orders.
func (s *LedgerServiceImpl) Orders(ctx context.Context, status *model.OrderStatus) ([]model.OfflineOrder, error) {
	return s.repo.ListOrders(ctx, status)
}

// UpdateOrderStatus validates the outcome and delegates to the repository.
func (s *LedgerServiceImpl) UpdateOrderStatus(ctx context.Context, localID uuid.UUID, status model.OrderStatus, serverOrderID, serverOrderNumber, conflictReason string) error {
	if localID == uuid.Nil {
		return errors.New("validation: empty local id")
	}
	if status == model.OrderConflict && conflictReason == "" {
		return errors.New("validation: conflict requires a reason")
	}
	return s.repo.UpdateOrderStatus(ctx, localID, status, serverOrderID, serverOrderNumber, conflictReason)
}

// DeleteOrder removes a confirmed-synced order.
func (s *LedgerServiceImpl) DeleteOrder(ctx context.Context, localID uuid.UUID) error {
	if localID == uuid.Nil {
		return errors.New("validation: empty local id")
	}
	return s.repo.DeleteOrder(ctx, localID)
}

// RecordPayment validates and stores a payment.
func (s *LedgerServiceImpl) RecordPayment(ctx context.Context, p model.OfflinePayment) (*model.OfflinePayment, error) {
	if p.OrderLocalID == uuid.Nil {
		return nil, errors.New("validation: payment requires an order local id")
	}
	if p.Method != model.PayCash && p.Method != model.PayCard {
		return nil, fmt.Errorf("validation: unknown payment method %q", p.Method)
	}
	if p.Amount < 0 || p.Tip < 0 || p.Surcharge < 0 {
		return nil, errors.New("validation: negative amount")
	}
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		p.ID = id
	}
	if err := s.repo.InsertPayment(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Payments lists an order's payments.
func (s *LedgerServiceImpl) Payments(ctx context.Context, orderLocalID uuid.UUID) ([]model.OfflinePayment, error) {
	if orderLocalID == uuid.Nil {
		return nil, errors.New("validation: empty order local id")
	}
	return s.repo.ListPayments(ctx, orderLocalID)
}

func validApprovalType(t model.ApprovalType) bool {
	switch t {
	case model.ApprovalDiscount, model.ApprovalVoid, model.ApprovalRefund, model.ApprovalPriceOverride:
		return true
	}
	return false
}

// RecordApproval hashes the PIN with a per-approval salt and stores the row.
// The plaintext PIN is never persisted.
func (s *LedgerServiceImpl) RecordApproval(ctx context.Context, typ model.ApprovalType, managerPIN string, value int64, orderLocalID *uuid.UUID) (*model.OfflineApproval, error) {
	if !validApprovalType(typ) {
		return nil, fmt.Errorf("validation: unknown approval type %q", typ)
	}
	if managerPIN == "" {
		return nil, errors.New("validation: empty manager PIN")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return nil, err
	}
	a := &model.OfflineApproval{
		ID:           id,
		OrderLocalID: orderLocalID,
		Type:         typ,
		ManagerHash:  pkgcrypto.HashPIN([]byte(managerPIN), salt),
		Salt:         salt,
		Value:        value,
	}
	if err := s.repo.InsertApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyApproval checks a PIN against the stored hash in constant time.
func (s *LedgerServiceImpl) VerifyApproval(ctx context.Context, id uuid.UUID, managerPIN string) (bool, error) {
	a, err := s.repo.GetApproval(ctx, id)
	if err != nil {
		return false, err
	}
	return pkgcrypto.VerifyPIN([]byte(managerPIN), a.Salt, a.ManagerHash), nil
}

// UnsyncedApprovals lists approvals awaiting acknowledgement.
func (s *LedgerServiceImpl) UnsyncedApprovals(ctx context.Context) ([]model.OfflineApproval, error) {
	return s.repo.ListUnsyncedApprovals(ctx)
}

// MarkApprovalsSynced acknowledges a batch.
func (s *LedgerServiceImpl) MarkApprovalsSynced(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.repo.MarkApprovalsSynced(ctx, ids)
}
