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

// QueueRepo implements QueueRepository on the pending_operations table.
type QueueRepo struct{ store *store.Store }

// NewQueueRepo constructs a queue repository.
func NewQueueRepo(st *store.Store) *QueueRepo { return &QueueRepo{store: st} }

const opColumns = `id, op_type, payload, order_local_id, status, retries, signature, response, error_message, created_at, updated_at`

// Insert stores a new operation. The payload is opaque: it is written as
// received and never inspected.
func (r *QueueRepo) Insert(ctx context.Context, op *model.PendingOperation) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	now := time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	op.Status = model.OpPending

	var orderRef any
	if op.OrderLocalID != nil {
		orderRef = op.OrderLocalID.String()
	}
	const q = `
INSERT INTO pending_operations (` + opColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err = db.ExecContext(ctx, q,
		op.ID.String(), string(op.Type), string(op.Payload), orderRef,
		string(op.Status), op.Retries, op.Signature, op.Response, op.ErrorMessage,
		fmtTime(op.CreatedAt), fmtTime(op.UpdatedAt),
	)
	return err
}

// Get returns one operation by id.
func (r *QueueRepo) Get(ctx context.Context, id uuid.UUID) (*model.PendingOperation, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations WHERE id=?`, id.String())
	op, err := scanOperation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return op, nil
}

// List returns operations oldest-first with optional status/type filters.
func (r *QueueRepo) List(ctx context.Context, status *model.OperationStatus, typ *model.OperationType) ([]model.PendingOperation, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}

	q := `SELECT ` + opColumns + ` FROM pending_operations`
	var conds []string
	var args []any
	if status != nil {
		conds = append(conds, `status=?`)
		args = append(args, string(*status))
	}
	if typ != nil {
		conds = append(conds, `op_type=?`)
		args = append(args, string(*typ))
	}
	for i, c := range conds {
		if i == 0 {
			q += ` WHERE ` + c
		} else {
			q += ` AND ` + c
		}
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

// CountByStatus returns row counts per status.
func (r *QueueRepo) CountByStatus(ctx context.Context) (map[model.OperationStatus]int, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_operations GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.OperationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.OperationStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkSending moves PENDING -> SENDING.
func (r *QueueRepo) MarkSending(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, model.OpPending,
		`status=?, updated_at=?`, string(model.OpSending), fmtTime(time.Now()))
}

// MarkSynced moves SENDING -> SENT and stores the backend response.
func (r *QueueRepo) MarkSynced(ctx context.Context, id uuid.UUID, response string) error {
	return r.transition(ctx, id, model.OpSending,
		`status=?, response=?, error_message='', updated_at=?`,
		string(model.OpSent), response, fmtTime(time.Now()))
}

// MarkFailed moves SENDING -> FAILED and stores the delivery error.
func (r *QueueRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return r.transition(ctx, id, model.OpSending,
		`status=?, error_message=?, updated_at=?`,
		string(model.OpFailed), errorMessage, fmtTime(time.Now()))
}

// Retry moves FAILED -> PENDING and increments the retry counter. This is the
// only way back to PENDING; it is never taken implicitly.
func (r *QueueRepo) Retry(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, model.OpFailed,
		`status=?, retries=retries+1, updated_at=?`,
		string(model.OpPending), fmtTime(time.Now()))
}

// transition applies a guarded status update. A zero-row update is mapped to
// ErrNotFound (no such operation) or ErrInvalidTransition (wrong current
// status) by re-checking existence.
func (r *QueueRepo) transition(ctx context.Context, id uuid.UUID, from model.OperationStatus, set string, args ...any) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	q := `UPDATE pending_operations SET ` + set + ` WHERE id=? AND status=?`
	res, err := db.ExecContext(ctx, q, append(args, id.String(), string(from))...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx,
		`SELECT 1 FROM pending_operations WHERE id=?`, id.String()).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errs.ErrNotFound
	case err != nil:
		return err
	default:
		return fmt.Errorf("operation %s: %w", id, errs.ErrInvalidTransition)
	}
}

// Delete removes one operation.
func (r *QueueRepo) Delete(ctx context.Context, id uuid.UUID) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id=?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// PurgeSuccessful removes SENT rows last touched before the cutoff. PENDING,
// SENDING, FAILED and recent SENT rows are untouched.
func (r *QueueRepo) PurgeSuccessful(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := r.store.Handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE status=? AND updated_at < ?`,
		string(model.OpSent), fmtTime(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearAll wipes the queue and the offline ledger in one transaction.
func (r *QueueRepo) ClearAll(ctx context.Context) error {
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"pending_operations", "offline_payments", "offline_approvals", "offline_orders"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanOperation(scan func(...any) error) (*model.PendingOperation, error) {
	var op model.PendingOperation
	var id, opType, payload, status, createdAt, updatedAt string
	var orderRef sql.NullString
	if err := scan(&id, &opType, &payload, &orderRef, &status, &op.Retries,
		&op.Signature, &op.Response, &op.ErrorMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	op.ID = uuid.FromStringOrNil(id)
	op.Type = model.OperationType(opType)
	op.Payload = []byte(payload)
	op.Status = model.OperationStatus(status)
	op.CreatedAt = parseTime(createdAt)
	op.UpdatedAt = parseTime(updatedAt)
	if orderRef.Valid && orderRef.String != "" {
		ref := uuid.FromStringOrNil(orderRef.String)
		op.OrderLocalID = &ref
	}
	return &op, nil
}
