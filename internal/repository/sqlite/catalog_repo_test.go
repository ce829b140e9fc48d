package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
)

func productSnapshot(id, name, barcode, categoryID string, active bool) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"name":%q,"barcode":%q,"category_id":%q,"is_active":%v,"price":"4.50"}`,
		id, name, barcode, categoryID, active))
}

func TestCatalogRepo_UnknownDatasetRejected(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	err := r.UpsertBatch(ctx, "widgets", []json.RawMessage{[]byte(`{"id":"1"}`)})
	require.Error(t, err)
	_, err = r.ListRows(ctx, "widgets", false)
	require.Error(t, err)
	err = r.SaveCursor(ctx, model.DatasetCursor{Dataset: "widgets", Version: "v1"})
	require.Error(t, err)
}

func TestCatalogRepo_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	batch := []json.RawMessage{
		productSnapshot("p1", "Latte", "111", "cat-drinks", true),
		productSnapshot("p2", "Muffin", "222", "cat-food", true),
		productSnapshot("p3", "Mocha", "333", "cat-drinks", true),
	}
	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, batch))
	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, batch))

	products, err := r.ListProducts(ctx, model.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 3)

	// A later snapshot for the same id wins.
	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{
		productSnapshot("p1", "Oat Latte", "111", "cat-drinks", true),
	}))
	p, err := r.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Oat Latte", p.Name)
}

func TestCatalogRepo_UpsertRejectsBadSnapshot(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	err := r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{[]byte(`{"name":"no id"}`)})
	require.Error(t, err)
	err = r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{[]byte(`not json`)})
	require.Error(t, err)
}

func TestCatalogRepo_DeleteBatchIgnoresMissing(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{
		productSnapshot("p1", "Latte", "111", "", true),
		productSnapshot("p2", "Muffin", "222", "", true),
	}))
	require.NoError(t, r.DeleteBatch(ctx, model.DatasetProducts, []string{"p1", "ghost"}))

	products, err := r.ListProducts(ctx, model.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "p2", products[0].ID)
}

func TestCatalogRepo_ProductFilters(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{
		productSnapshot("p1", "Latte", "111", "cat-drinks", true),
		productSnapshot("p2", "Muffin", "222", "cat-food", true),
		productSnapshot("p3", "Old Latte", "333", "cat-drinks", false),
	}))

	// Active-only is the default.
	got, err := r.ListProducts(ctx, model.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = r.ListProducts(ctx, model.ProductFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Search matches name case-insensitively.
	got, err = r.ListProducts(ctx, model.ProductFilter{Search: "latte"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ID)

	// Search also matches barcode.
	got, err = r.ListProducts(ctx, model.ProductFilter{Search: "222"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p2", got[0].ID)

	got, err = r.ListProducts(ctx, model.ProductFilter{CategoryID: "cat-food"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Muffin", got[0].Name)

	_, err = r.GetProduct(ctx, "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCatalogRepo_CategoryParentHydration(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	require.NoError(t, r.UpsertBatch(ctx, model.DatasetCategories, []json.RawMessage{
		[]byte(`{"id":"c1","name":"Drinks"}`),
		[]byte(`{"id":"c2","name":"Coffee","parent_id":"c1"}`),
		[]byte(`{"id":"c3","name":"Tea","parent_id":"missing"}`),
	}))

	cats, err := r.ListCategories(ctx, false)
	require.NoError(t, err)
	require.Len(t, cats, 3)

	byID := make(map[string]model.Category)
	for _, c := range cats {
		byID[c.ID] = c
	}
	require.Nil(t, byID["c1"].Parent)
	require.NotNil(t, byID["c2"].Parent)
	require.Equal(t, "Drinks", byID["c2"].Parent.Name)
	// Dangling parent ids stay unresolved rather than failing the list.
	require.Nil(t, byID["c3"].Parent)
}

func TestCatalogRepo_StockHydration(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{
		productSnapshot("p1", "Latte", "111", "", true),
	}))
	require.NoError(t, r.UpsertBatch(ctx, model.DatasetInventoryLocations, []json.RawMessage{
		[]byte(`{"id":"loc1","name":"Front Bar"}`),
	}))
	require.NoError(t, r.UpsertBatch(ctx, model.DatasetInventoryStocks, []json.RawMessage{
		[]byte(`{"id":"s1","product_id":"p1","location_id":"loc1","quantity":12.5}`),
		[]byte(`{"id":"s2","product_id":"gone","location_id":"loc2","quantity":3}`),
	}))

	stocks, err := r.ListStocks(ctx, "loc1")
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	require.Equal(t, 12.5, stocks[0].Quantity)
	require.Equal(t, "Latte", stocks[0].Product.Name)
	require.Equal(t, "Front Bar", stocks[0].Location.Name)

	// Rows whose product/location never synced still list, with empty refs.
	stocks, err = r.ListStocks(ctx, "")
	require.NoError(t, err)
	require.Len(t, stocks, 2)
}

func TestCatalogRepo_Cursor(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	_, err := r.GetCursor(ctx, model.DatasetProducts)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, r.SaveCursor(ctx, model.DatasetCursor{
		Dataset: model.DatasetProducts, Version: "v10", AppliedCount: 5, DeletedCount: 1,
	}))
	require.NoError(t, r.SaveCursor(ctx, model.DatasetCursor{
		Dataset: model.DatasetProducts, Version: "v11", AppliedCount: 2,
	}))

	cur, err := r.GetCursor(ctx, model.DatasetProducts)
	require.NoError(t, err)
	require.Equal(t, "v11", cur.Version)
	require.Equal(t, 2, cur.AppliedCount)
	require.False(t, cur.SyncedAt.IsZero())
}

func TestCatalogRepo_ClearDataset(t *testing.T) {
	ctx := context.Background()
	r := NewCatalogRepo(newTestStore(t))

	require.NoError(t, r.UpsertBatch(ctx, model.DatasetProducts, []json.RawMessage{
		productSnapshot("p1", "Latte", "111", "", true),
	}))
	require.NoError(t, r.SaveCursor(ctx, model.DatasetCursor{Dataset: model.DatasetProducts, Version: "v1"}))

	require.NoError(t, r.ClearDataset(ctx, model.DatasetProducts))

	rows, err := r.ListRows(ctx, model.DatasetProducts, true)
	require.NoError(t, err)
	require.Empty(t, rows)
	_, err = r.GetCursor(ctx, model.DatasetProducts)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
