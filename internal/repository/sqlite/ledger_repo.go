package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/store"
)

// LedgerRepo implements LedgerRepository on the offline_* tables.
type LedgerRepo struct{ store *store.Store }

// NewLedgerRepo constructs a ledger repository.
func NewLedgerRepo(st *store.Store) *LedgerRepo { return &LedgerRepo{store: st} }

const orderColumns = `local_id, payload, status, server_order_id, server_order_number, conflict_reason, created_at, synced_at`

// InsertOrder stores a new offline order. Orders always start PENDING, even
// when recorded speculatively while online: the durable row must exist before
// any network confirmation.
func (r *LedgerRepo) InsertOrder(ctx context.Context, o *model.OfflineOrder) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.Status = model.OrderPending
	const q = `
INSERT INTO offline_orders (local_id, payload, status, created_at)
VALUES (?,?,?,?)`
	_, err = db.ExecContext(ctx, q,
		o.LocalID.String(), string(o.Payload), string(o.Status), fmtTime(o.CreatedAt))
	return err
}

// GetOrder returns an order by its local id.
func (r *LedgerRepo) GetOrder(ctx context.Context, localID uuid.UUID) (*model.OfflineOrder, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM offline_orders WHERE local_id=?`, localID.String())
	o, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// ListOrders returns orders oldest-first, optionally filtered by status.
func (r *LedgerRepo) ListOrders(ctx context.Context, status *model.OrderStatus) ([]model.OfflineOrder, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + orderColumns + ` FROM offline_orders`
	var args []any
	if status != nil {
		q += ` WHERE status=?`
		args = append(args, string(*status))
	}
	q += ` ORDER BY created_at ASC, local_id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OfflineOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus records a reconciliation outcome. A conflicted order keeps
// its payload verbatim and is never auto-discarded; the reason is stored for
// out-of-band resolution.
func (r *LedgerRepo) UpdateOrderStatus(ctx context.Context, localID uuid.UUID, status model.OrderStatus, serverOrderID, serverOrderNumber, conflictReason string) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}

	var res sql.Result
	switch status {
	case model.OrderSynced:
		res, err = db.ExecContext(ctx, `
UPDATE offline_orders
SET status=?, server_order_id=?, server_order_number=?, conflict_reason='', synced_at=?
WHERE local_id=?`,
			string(status), serverOrderID, serverOrderNumber, fmtTime(time.Now()), localID.String())
	case model.OrderConflict:
		res, err = db.ExecContext(ctx, `
UPDATE offline_orders SET status=?, conflict_reason=? WHERE local_id=?`,
			string(status), conflictReason, localID.String())
	default:
		return fmt.Errorf("order status %q: %w", status, errs.ErrInvalidTransition)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteOrder removes an order; its payments go with it via the foreign-key
// cascade.
func (r *LedgerRepo) DeleteOrder(ctx context.Context, localID uuid.UUID) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM offline_orders WHERE local_id=?`, localID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// InsertPayment stores a payment row against an order.
func (r *LedgerRepo) InsertPayment(ctx context.Context, p *model.OfflinePayment) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	var provider any
	if p.ProviderResponse != nil {
		provider = string(p.ProviderResponse)
	}
	const q = `
INSERT INTO offline_payments
    (id, order_local_id, method, amount, tip, surcharge, provider_response, cash_tendered, cash_change, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`
	_, err = db.ExecContext(ctx, q,
		p.ID.String(), p.OrderLocalID.String(), string(p.Method),
		p.Amount, p.Tip, p.Surcharge, provider, p.CashTendered, p.CashChange,
		fmtTime(p.CreatedAt))
	return err
}

// ListPayments returns an order's payments oldest-first.
func (r *LedgerRepo) ListPayments(ctx context.Context, orderLocalID uuid.UUID) ([]model.OfflinePayment, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	const q = `
SELECT id, order_local_id, method, amount, tip, surcharge, provider_response, cash_tendered, cash_change, created_at
FROM offline_payments WHERE order_local_id=? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, q, orderLocalID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OfflinePayment
	for rows.Next() {
		var p model.OfflinePayment
		var id, orderID, method, createdAt string
		var provider sql.NullString
		if err := rows.Scan(&id, &orderID, &method, &p.Amount, &p.Tip, &p.Surcharge,
			&provider, &p.CashTendered, &p.CashChange, &createdAt); err != nil {
			return nil, err
		}
		p.ID = uuid.FromStringOrNil(id)
		p.OrderLocalID = uuid.FromStringOrNil(orderID)
		p.Method = model.PaymentMethod(method)
		p.CreatedAt = parseTime(createdAt)
		if provider.Valid {
			p.ProviderResponse = []byte(provider.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertApproval stores a manager approval.
func (r *LedgerRepo) InsertApproval(ctx context.Context, a *model.OfflineApproval) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	var orderRef any
	if a.OrderLocalID != nil {
		orderRef = a.OrderLocalID.String()
	}
	const q = `
INSERT INTO offline_approvals (id, order_local_id, approval_type, manager_hash, salt, value, synced, created_at)
VALUES (?,?,?,?,?,?,?,?)`
	_, err = db.ExecContext(ctx, q,
		a.ID.String(), orderRef, string(a.Type), a.ManagerHash, a.Salt,
		a.Value, a.Synced, fmtTime(a.CreatedAt))
	return err
}

// GetApproval returns an approval by id.
func (r *LedgerRepo) GetApproval(ctx context.Context, id uuid.UUID) (*model.OfflineApproval, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
SELECT id, order_local_id, approval_type, manager_hash, salt, value, synced, created_at
FROM offline_approvals WHERE id=?`, id.String())
	a, err := scanApproval(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListUnsyncedApprovals returns approvals awaiting batch acknowledgement.
func (r *LedgerRepo) ListUnsyncedApprovals(ctx context.Context) ([]model.OfflineApproval, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT id, order_local_id, approval_type, manager_hash, salt, value, synced, created_at
FROM offline_approvals WHERE synced=0 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OfflineApproval
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkApprovalsSynced flags a batch of approvals as acknowledged. Approvals
// are acknowledged as a side-channel batch, decoupled from the queue pipeline.
func (r *LedgerRepo) MarkApprovalsSynced(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	_, err = db.ExecContext(ctx,
		`UPDATE offline_approvals SET synced=1 WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

func scanOrder(scan func(...any) error) (*model.OfflineOrder, error) {
	var o model.OfflineOrder
	var id, payload, status, createdAt string
	var syncedAt sql.NullString
	if err := scan(&id, &payload, &status, &o.ServerOrderID, &o.ServerOrderNumber,
		&o.ConflictReason, &createdAt, &syncedAt); err != nil {
		return nil, err
	}
	o.LocalID = uuid.FromStringOrNil(id)
	o.Payload = []byte(payload)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.SyncedAt = parseTimePtr(syncedAt)
	return &o, nil
}

func scanApproval(scan func(...any) error) (*model.OfflineApproval, error) {
	var a model.OfflineApproval
	var id, approvalType, createdAt string
	var orderRef sql.NullString
	if err := scan(&id, &orderRef, &approvalType, &a.ManagerHash, &a.Salt,
		&a.Value, &a.Synced, &createdAt); err != nil {
		return nil, err
	}
	a.ID = uuid.FromStringOrNil(id)
	a.Type = model.ApprovalType(approvalType)
	a.CreatedAt = parseTime(createdAt)
	if orderRef.Valid && orderRef.String != "" {
		ref := uuid.FromStringOrNil(orderRef.String)
		a.OrderLocalID = &ref
	}
	return &a, nil
}
