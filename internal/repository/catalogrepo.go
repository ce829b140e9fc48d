package repository

import (
	"context"
	"encoding/json"

	"github.com/2jz-code/tillkeeper/internal/model"
)

// CatalogRepository provides versioned bulk writes and reads for the cached
// catalog. The backend is the sole writer: rows only change through
// UpsertBatch/DeleteBatch applied during sync, or a full reset.
type CatalogRepository interface {
	// UpsertBatch replaces-or-inserts each snapshot by its "id" field inside
	// one transaction: all rows in the call succeed or none do. Applying the
	// same batch twice is idempotent.
	UpsertBatch(ctx context.Context, dataset string, snapshots []json.RawMessage) error
	// DeleteBatch removes rows by id from a dataset; missing ids are ignored.
	DeleteBatch(ctx context.Context, dataset string, ids []string) error
	// ClearDataset wipes a dataset and its cursor (full resync).
	ClearDataset(ctx context.Context, dataset string) error

	// GetRow returns one cached entity from any dataset, or errs.ErrNotFound.
	GetRow(ctx context.Context, dataset, id string) (*model.CatalogRow, error)
	// ListRows returns a dataset's rows, active-only unless includeInactive.
	ListRows(ctx context.Context, dataset string, includeInactive bool) ([]model.CatalogRow, error)

	// ListProducts applies search (name/barcode substring, case-insensitive)
	// and category filters.
	ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	// GetProduct returns a product by id, or errs.ErrNotFound.
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	// ListCategories returns categories with the parent reference hydrated.
	ListCategories(ctx context.Context, includeInactive bool) ([]model.Category, error)
	// ListStocks returns stock rows hydrated with product/location summaries.
	// Empty locationID means all locations.
	ListStocks(ctx context.Context, locationID string) ([]model.InventoryStock, error)

	// GetCursor returns a dataset's version cursor, or errs.ErrNotFound before
	// the first sync.
	GetCursor(ctx context.Context, dataset string) (*model.DatasetCursor, error)
	// SaveCursor overwrites a dataset's cursor after a successful sync batch.
	SaveCursor(ctx context.Context, cur model.DatasetCursor) error
}
