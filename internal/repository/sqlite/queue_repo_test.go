package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/store"
)

func newOp(t *testing.T, typ model.OperationType) *model.PendingOperation {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return &model.PendingOperation{
		ID:      id,
		Type:    typ,
		Payload: []byte(`{"total":"12.00"}`),
	}
}

func TestQueueRepo_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo(newTestStore(t))

	op := newOp(t, model.OpOrder)
	op.Status = model.OpSent // ignored; inserts always start PENDING
	op.Signature = "sig"
	require.NoError(t, r.Insert(ctx, op))

	got, err := r.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OpPending, got.Status)
	require.Equal(t, model.OpOrder, got.Type)
	require.JSONEq(t, `{"total":"12.00"}`, string(got.Payload))
	require.Equal(t, "sig", got.Signature)
	require.Zero(t, got.Retries)
	require.Nil(t, got.OrderLocalID)

	_, err = r.Get(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestQueueRepo_StateMachine(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo(newTestStore(t))

	op := newOp(t, model.OpOrder)
	require.NoError(t, r.Insert(ctx, op))

	// Transitions out of order are rejected without touching the row.
	require.ErrorIs(t, r.MarkSynced(ctx, op.ID, "{}"), errs.ErrInvalidTransition)
	require.ErrorIs(t, r.MarkFailed(ctx, op.ID, "boom"), errs.ErrInvalidTransition)
	require.ErrorIs(t, r.Retry(ctx, op.ID), errs.ErrInvalidTransition)

	require.NoError(t, r.MarkSending(ctx, op.ID))
	require.ErrorIs(t, r.MarkSending(ctx, op.ID), errs.ErrInvalidTransition)

	require.NoError(t, r.MarkFailed(ctx, op.ID, "timeout"))
	got, err := r.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OpFailed, got.Status)
	require.Equal(t, "timeout", got.ErrorMessage)

	// Only an explicit retry goes back to PENDING, and it counts.
	require.NoError(t, r.Retry(ctx, op.ID))
	got, err = r.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OpPending, got.Status)
	require.Equal(t, 1, got.Retries)

	require.NoError(t, r.MarkSending(ctx, op.ID))
	require.NoError(t, r.MarkSynced(ctx, op.ID, `{"order_id":"srv-1"}`))
	got, err = r.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OpSent, got.Status)
	require.Equal(t, `{"order_id":"srv-1"}`, got.Response)
	require.Empty(t, got.ErrorMessage)

	// Missing rows map to ErrNotFound, not ErrInvalidTransition.
	require.ErrorIs(t, r.MarkSending(ctx, uuid.Must(uuid.NewV4())), errs.ErrNotFound)
}

func TestQueueRepo_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo(newTestStore(t))

	first := newOp(t, model.OpOrder)
	first.CreatedAt = time.Now().Add(-2 * time.Minute)
	second := newOp(t, model.OpInventory)
	second.CreatedAt = time.Now().Add(-time.Minute)
	third := newOp(t, model.OpOrder)
	for _, op := range []*model.PendingOperation{first, second, third} {
		require.NoError(t, r.Insert(ctx, op))
	}
	require.NoError(t, r.MarkSending(ctx, third.ID))

	all, err := r.List(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, first.ID, all[0].ID)
	require.Equal(t, second.ID, all[1].ID)

	pending := model.OpPending
	got, err := r.List(ctx, &pending, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	orders := model.OpOrder
	got, err = r.List(ctx, &pending, &orders)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, first.ID, got[0].ID)

	counts, err := r.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[model.OpPending])
	require.Equal(t, 1, counts[model.OpSending])
}

func TestQueueRepo_Delete(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo(newTestStore(t))

	op := newOp(t, model.OpApproval)
	require.NoError(t, r.Insert(ctx, op))
	require.NoError(t, r.Delete(ctx, op.ID))
	require.ErrorIs(t, r.Delete(ctx, op.ID), errs.ErrNotFound)
}

func TestQueueRepo_PurgeSuccessfulIsSelective(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := NewQueueRepo(st)

	oldSent := newOp(t, model.OpOrder)
	newSent := newOp(t, model.OpOrder)
	failed := newOp(t, model.OpOrder)
	pending := newOp(t, model.OpOrder)
	for _, op := range []*model.PendingOperation{oldSent, newSent, failed, pending} {
		require.NoError(t, r.Insert(ctx, op))
	}
	for _, id := range []uuid.UUID{oldSent.ID, newSent.ID, failed.ID} {
		require.NoError(t, r.MarkSending(ctx, id))
	}
	require.NoError(t, r.MarkSynced(ctx, oldSent.ID, "{}"))
	require.NoError(t, r.MarkSynced(ctx, newSent.ID, "{}"))
	require.NoError(t, r.MarkFailed(ctx, failed.ID, "boom"))

	// Age one SENT row past the cutoff.
	ageOperation(t, st, oldSent.ID, time.Now().Add(-48*time.Hour))

	n, err := r.PurgeSuccessful(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = r.Get(ctx, oldSent.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	for _, id := range []uuid.UUID{newSent.ID, failed.ID, pending.ID} {
		_, err := r.Get(ctx, id)
		require.NoError(t, err)
	}
}

func ageOperation(t *testing.T, st *store.Store, id uuid.UUID, ts time.Time) {
	t.Helper()
	db, err := st.Handle()
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(),
		`UPDATE pending_operations SET updated_at=? WHERE id=?`, fmtTime(ts), id.String())
	require.NoError(t, err)
}

func TestQueueRepo_ClearAllWipesLedgerToo(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	qr := NewQueueRepo(st)
	lr := NewLedgerRepo(st)

	op := newOp(t, model.OpOrder)
	require.NoError(t, qr.Insert(ctx, op))

	order := &model.OfflineOrder{LocalID: uuid.Must(uuid.NewV4()), Payload: []byte(`{}`)}
	require.NoError(t, lr.InsertOrder(ctx, order))
	require.NoError(t, lr.InsertPayment(ctx, &model.OfflinePayment{
		ID: uuid.Must(uuid.NewV4()), OrderLocalID: order.LocalID,
		Method: model.PayCash, Amount: 500,
	}))

	require.NoError(t, qr.ClearAll(ctx))

	ops, err := qr.List(ctx, nil, nil)
	require.NoError(t, err)
	require.Empty(t, ops)
	_, err = lr.GetOrder(ctx, order.LocalID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	pays, err := lr.ListPayments(ctx, order.LocalID)
	require.NoError(t, err)
	require.Empty(t, pays)
}
