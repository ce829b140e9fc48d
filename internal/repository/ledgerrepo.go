package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/2jz-code/tillkeeper/internal/model"
)

// LedgerRepository persists offline orders, their payments, and manager
// approvals recorded while disconnected.
type LedgerRepository interface {
	// InsertOrder stores a new offline order (status PENDING).
	InsertOrder(ctx context.Context, o *model.OfflineOrder) error
	// GetOrder returns an order by local id, or errs.ErrNotFound.
	GetOrder(ctx context.Context, localID uuid.UUID) (*model.OfflineOrder, error)
	// ListOrders returns orders oldest-first, optionally filtered by status.
	ListOrders(ctx context.Context, status *model.OrderStatus) ([]model.OfflineOrder, error)
	// UpdateOrderStatus records the reconciliation outcome. SYNCED stamps
	// synced_at and the backend ids; CONFLICT stores the reason and leaves
	// the payload untouched.
	UpdateOrderStatus(ctx context.Context, localID uuid.UUID, status model.OrderStatus, serverOrderID, serverOrderNumber, conflictReason string) error
	// DeleteOrder removes an order and cascades to its payments. Callers only
	// delete after confirmed SYNCED.
	DeleteOrder(ctx context.Context, localID uuid.UUID) error

	// InsertPayment stores a payment against an order's local id.
	InsertPayment(ctx context.Context, p *model.OfflinePayment) error
	// ListPayments returns an order's payments oldest-first.
	ListPayments(ctx context.Context, orderLocalID uuid.UUID) ([]model.OfflinePayment, error)

	// InsertApproval stores a manager approval with its hashed credential.
	InsertApproval(ctx context.Context, a *model.OfflineApproval) error
	// GetApproval returns an approval by id, or errs.ErrNotFound.
	GetApproval(ctx context.Context, id uuid.UUID) (*model.OfflineApproval, error)
	// ListUnsyncedApprovals returns approvals with synced=false, oldest-first.
	ListUnsyncedApprovals(ctx context.Context) ([]model.OfflineApproval, error)
	// MarkApprovalsSynced sets the synced flag for a batch of ids.
	MarkApprovalsSynced(ctx context.Context, ids []uuid.UUID) error
}
