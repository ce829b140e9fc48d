package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/2jz-code/tillkeeper/internal/model"
)

// QueueRepository persists pending operations and their delivery state.
type QueueRepository interface {
	// Insert stores a new operation (status PENDING).
	Insert(ctx context.Context, op *model.PendingOperation) error
	// Get returns an operation by id, or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.PendingOperation, error)
	// List returns operations oldest-first, optionally filtered by status
	// and/or type (nil means no filter).
	List(ctx context.Context, status *model.OperationStatus, typ *model.OperationType) ([]model.PendingOperation, error)
	// CountByStatus returns row counts per status.
	CountByStatus(ctx context.Context) (map[model.OperationStatus]int, error)

	// MarkSending moves PENDING -> SENDING.
	MarkSending(ctx context.Context, id uuid.UUID) error
	// MarkSynced moves SENDING -> SENT and stores the backend response.
	MarkSynced(ctx context.Context, id uuid.UUID, response string) error
	// MarkFailed moves SENDING -> FAILED and stores the delivery error.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	// Retry moves FAILED -> PENDING and increments the retry counter.
	Retry(ctx context.Context, id uuid.UUID) error

	// Delete removes one operation.
	Delete(ctx context.Context, id uuid.UUID) error
	// PurgeSuccessful removes SENT rows updated before the cutoff and reports
	// how many were removed. Other statuses are never touched.
	PurgeSuccessful(ctx context.Context, olderThan time.Time) (int64, error)
	// ClearAll wipes the queue and the offline ledger in one transaction.
	// Administrative reset only.
	ClearAll(ctx context.Context) error
}
