package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/repository"
)

// CatalogService applies incremental sync batches to the catalog cache and
// serves read queries for the POS UI and Sync Orchestrator.
type CatalogService interface {
	// ApplySync applies one dataset's sync round: upserts, then tombstone
	// deletes, then the cursor overwrite. Each dataset round is its own
	// atomic unit; a crash between datasets is recovered by each dataset's
	// own cursor on the next sync.
	ApplySync(ctx context.Context, dataset string, upserts []json.RawMessage, deletes []string, version string) error
	// Reset wipes one dataset and its cursor for a full resync.
	Reset(ctx context.Context, dataset string) error

	// Products lists products with search/category filters.
	Products(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	// Product returns one product by id.
	Product(ctx context.Context, id string) (*model.Product, error)
	// Categories lists categories with hydrated parent references.
	Categories(ctx context.Context, includeInactive bool) ([]model.Category, error)
	// Stocks lists hydrated inventory stock rows, optionally by location.
	Stocks(ctx context.Context, locationID string) ([]model.InventoryStock, error)
	// Rows lists any dataset's cached rows (settings, users, taxes, ...).
	Rows(ctx context.Context, dataset string, includeInactive bool) ([]model.CatalogRow, error)
	// Row returns one cached entity from any dataset.
	Row(ctx context.Context, dataset, id string) (*model.CatalogRow, error)
	// Cursor returns a dataset's version cursor (errs.ErrNotFound before the
	// first sync). The orchestrator sends it to the backend as "since".
	Cursor(ctx context.Context, dataset string) (*model.DatasetCursor, error)
}

type CatalogServiceImpl struct {
	repo repository.CatalogRepository
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo repository.CatalogRepository) *CatalogServiceImpl {
	return &CatalogServiceImpl{repo: repo}
}

// ApplySync upserts, deletes, and advances the cursor for one dataset.
func (s *CatalogServiceImpl) ApplySync(ctx context.Context, dataset string, upserts []json.RawMessage, deletes []string, version string) error {
	if version == "" {
		return errors.New("validation: empty version token")
	}
	if err := s.repo.UpsertBatch(ctx, dataset, upserts); err != nil {
		return fmt.Errorf("apply %s upserts: %w", dataset, err)
	}
	if err := s.repo.DeleteBatch(ctx, dataset, deletes); err != nil {
		return fmt.Errorf("apply %s deletes: %w", dataset, err)
	}
	cur := model.DatasetCursor{
		Dataset:      dataset,
		Version:      version,
		SyncedAt:     time.Now(),
		AppliedCount: len(upserts),
		DeletedCount: len(deletes),
	}
	if err := s.repo.SaveCursor(ctx, cur); err != nil {
		return fmt.Errorf("save %s cursor: %w", dataset, err)
	}
	return nil
}

// Reset wipes one dataset and its cursor.
func (s *CatalogServiceImpl) Reset(ctx context.Context, dataset string) error {
	return s.repo.ClearDataset(ctx, dataset)
}

// Products lists products.
func (s *CatalogServiceImpl) Products(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, f)
}

// Product returns one product.
func (s *CatalogServiceImpl) Product(ctx context.Context, id string) (*model.Product, error) {
	if id == "" {
		return nil, errors.New("validation: empty id")
	}
	return s.repo.GetProduct(ctx, id)
}

// Categories lists categories.
func (s *CatalogServiceImpl) Categories(ctx context.Context, includeInactive bool) ([]model.Category, error) {
	return s.repo.ListCategories(ctx, includeInactive)
}

// Stocks lists hydrated stock rows.
func (s *CatalogServiceImpl) Stocks(ctx context.Context, locationID string) ([]model.InventoryStock, error) {
	return s.repo.ListStocks(ctx, locationID)
}

// Rows lists a dataset's cached rows.
func (s *CatalogServiceImpl) Rows(ctx context.Context, dataset string, includeInactive bool) ([]model.CatalogRow, error) {
	return s.repo.ListRows(ctx, dataset, includeInactive)
}

// Row returns one cached entity.
func (s *CatalogServiceImpl) Row(ctx context.Context, dataset, id string) (*model.CatalogRow, error) {
	if id == "" {
		return nil, errors.New("validation: empty id")
	}
	return s.repo.GetRow(ctx, dataset, id)
}

// Cursor returns a dataset's version cursor.
func (s *CatalogServiceImpl) Cursor(ctx context.Context, dataset string) (*model.DatasetCursor, error) {
	return s.repo.GetCursor(ctx, dataset)
}
