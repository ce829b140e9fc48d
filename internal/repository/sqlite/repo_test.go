package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/2jz-code/tillkeeper/internal/store"
)

// newTestStore opens a real temp-file store with the full schema applied.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(store.Options{
		Path: filepath.Join(t.TempDir(), "till.db"),
	}, zap.NewNop())
	require.NoError(t, st.Initialize(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}
