package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
)

type fakeQueueRepo struct {
	inserted []*model.PendingOperation
	retried  []uuid.UUID
	purgedAt time.Time
}

func (f *fakeQueueRepo) Insert(_ context.Context, op *model.PendingOperation) error {
	op.Status = model.OpPending
	f.inserted = append(f.inserted, op)
	return nil
}

func (f *fakeQueueRepo) Get(_ context.Context, id uuid.UUID) (*model.PendingOperation, error) {
	for _, op := range f.inserted {
		if op.ID == id {
			return op, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeQueueRepo) List(_ context.Context, _ *model.OperationStatus, _ *model.OperationType) ([]model.PendingOperation, error) {
	var out []model.PendingOperation
	for _, op := range f.inserted {
		out = append(out, *op)
	}
	return out, nil
}

func (f *fakeQueueRepo) CountByStatus(context.Context) (map[model.OperationStatus]int, error) {
	return map[model.OperationStatus]int{model.OpPending: len(f.inserted)}, nil
}

func (f *fakeQueueRepo) MarkSending(context.Context, uuid.UUID) error        { return nil }
func (f *fakeQueueRepo) MarkSynced(context.Context, uuid.UUID, string) error { return nil }
func (f *fakeQueueRepo) MarkFailed(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeQueueRepo) Retry(_ context.Context, id uuid.UUID) error {
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeQueueRepo) Delete(context.Context, uuid.UUID) error { return nil }

func (f *fakeQueueRepo) PurgeSuccessful(_ context.Context, olderThan time.Time) (int64, error) {
	f.purgedAt = olderThan
	return 0, nil
}

func (f *fakeQueueRepo) ClearAll(context.Context) error { return nil }

func pairedMetadata(t *testing.T) MetadataService {
	t.Helper()
	svc := NewMetadataService(newFakeMetadataRepo())
	require.NoError(t, svc.StorePairingInfo(context.Background(), model.PairingInfo{
		TerminalID:    "t-1",
		TenantID:      "acme",
		LocationID:    "loc-9",
		SigningSecret: "sekrit",
	}))
	return svc
}

func TestQueueService_EnqueueRequiresPairing(t *testing.T) {
	ctx := context.Background()
	repo := &fakeQueueRepo{}
	svc := NewQueueService(repo, NewMetadataService(newFakeMetadataRepo()))

	_, err := svc.Enqueue(ctx, model.OpOrder, []byte(`{}`), nil)
	require.ErrorIs(t, err, errs.ErrNotPaired)
	require.Empty(t, repo.inserted)
}

func TestQueueService_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewQueueService(&fakeQueueRepo{}, pairedMetadata(t))

	_, err := svc.Enqueue(ctx, "REBOOT", []byte(`{}`), nil)
	require.Error(t, err)
	_, err = svc.Enqueue(ctx, model.OpOrder, nil, nil)
	require.Error(t, err)
}

func TestQueueService_EnqueueSignsWithPairingSecret(t *testing.T) {
	ctx := context.Background()
	repo := &fakeQueueRepo{}
	svc := NewQueueService(repo, pairedMetadata(t))

	payload := []byte(`{"total":"9.00"}`)
	orderRef := uuid.Must(uuid.NewV4())
	op, err := svc.Enqueue(ctx, model.OpOrder, payload, &orderRef)
	require.NoError(t, err)
	require.Equal(t, model.OpPending, op.Status)
	require.NotEqual(t, uuid.Nil, op.ID)
	require.Equal(t, &orderRef, op.OrderLocalID)
	require.Len(t, repo.inserted, 1)

	token, err := jwt.Parse(op.Signature, func(*jwt.Token) (any, error) {
		return []byte("sekrit"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, op.ID.String(), claims["op_id"])
	require.Equal(t, "ORDER", claims["op_type"])
	require.Equal(t, "t-1", claims["terminal_id"])
	require.Equal(t, "acme", claims["tenant_id"])
	require.Equal(t, "loc-9", claims["location_id"])
	digest := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(digest[:]), claims["payload_sha256"])

	// The wrong secret fails verification.
	_, err = jwt.Parse(op.Signature, func(*jwt.Token) (any, error) {
		return []byte("other"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.Error(t, err)
}

func TestQueueService_PurgeSuccessful(t *testing.T) {
	ctx := context.Background()
	repo := &fakeQueueRepo{}
	svc := NewQueueService(repo, pairedMetadata(t))

	_, err := svc.PurgeSuccessful(ctx, 0)
	require.Error(t, err)
	_, err = svc.PurgeSuccessful(ctx, -1)
	require.Error(t, err)

	_, err = svc.PurgeSuccessful(ctx, 7)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, -7), repo.purgedAt, 5*time.Second)
}

func TestQueueService_GetRejectsNilID(t *testing.T) {
	svc := NewQueueService(&fakeQueueRepo{}, pairedMetadata(t))
	_, err := svc.Get(context.Background(), uuid.Nil)
	require.Error(t, err)
}
