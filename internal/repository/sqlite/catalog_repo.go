package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2jz-code/tillkeeper/internal/errs"
	"github.com/2jz-code/tillkeeper/internal/model"
	"github.com/2jz-code/tillkeeper/internal/store"
)

// datasetTables maps dataset names to their cache tables. Datasets outside
// this map are rejected rather than interpolated into SQL.
var datasetTables = map[string]string{
	model.DatasetProducts:           "products",
	model.DatasetCategories:         "categories",
	model.DatasetModifierSets:       "modifier_sets",
	model.DatasetDiscounts:          "discounts",
	model.DatasetTaxes:              "taxes",
	model.DatasetProductTypes:       "product_types",
	model.DatasetInventoryLocations: "inventory_locations",
	model.DatasetInventoryStocks:    "inventory_stocks",
	model.DatasetSettings:           "settings",
	model.DatasetUsers:              "users",
}

// snapshotFields are the columns extracted from a raw snapshot for indexed
// reads. Everything else stays inside the opaque blob.
type snapshotFields struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Barcode    string  `json:"barcode"`
	CategoryID string  `json:"category_id"`
	ParentID   string  `json:"parent_id"`
	ProductID  string  `json:"product_id"`
	LocationID string  `json:"location_id"`
	Quantity   float64 `json:"quantity"`
	Active     *bool   `json:"is_active"`
}

func (f snapshotFields) active() bool {
	// Backend snapshots omit is_active for datasets without archiving.
	return f.Active == nil || *f.Active
}

// CatalogRepo implements CatalogRepository over the catalog cache tables.
type CatalogRepo struct{ store *store.Store }

// NewCatalogRepo constructs a catalog repository.
func NewCatalogRepo(st *store.Store) *CatalogRepo { return &CatalogRepo{store: st} }

func tableFor(dataset string) (string, error) {
	t, ok := datasetTables[dataset]
	if !ok {
		return "", fmt.Errorf("unknown dataset %q", dataset)
	}
	return t, nil
}

// UpsertBatch replaces-or-inserts each snapshot by id in one transaction.
// There is deliberately no per-record version check: the backend is the sole
// writer, so the incoming snapshot always wins.
func (r *CatalogRepo) UpsertBatch(ctx context.Context, dataset string, snapshots []json.RawMessage) error {
	table, err := tableFor(dataset)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, raw := range snapshots {
		var f snapshotFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("%s[%d]: %w", dataset, i, err)
		}
		if f.ID == "" {
			return fmt.Errorf("%s[%d]: snapshot has no id", dataset, i)
		}
		if err := upsertRow(ctx, tx, table, dataset, f, raw); err != nil {
			return fmt.Errorf("%s[%d]: %w", dataset, i, err)
		}
	}
	return tx.Commit()
}

func upsertRow(ctx context.Context, tx *sql.Tx, table, dataset string, f snapshotFields, raw json.RawMessage) error {
	var q string
	var args []any
	switch dataset {
	case model.DatasetProducts:
		q = `
INSERT INTO products (id, name, barcode, category_id, active, snapshot) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    name=excluded.name, barcode=excluded.barcode, category_id=excluded.category_id,
    active=excluded.active, snapshot=excluded.snapshot`
		args = []any{f.ID, f.Name, f.Barcode, f.CategoryID, f.active(), string(raw)}
	case model.DatasetCategories:
		q = `
INSERT INTO categories (id, name, parent_id, active, snapshot) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    name=excluded.name, parent_id=excluded.parent_id,
    active=excluded.active, snapshot=excluded.snapshot`
		args = []any{f.ID, f.Name, f.ParentID, f.active(), string(raw)}
	case model.DatasetInventoryStocks:
		q = `
INSERT INTO inventory_stocks (id, product_id, location_id, quantity, active, snapshot) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    product_id=excluded.product_id, location_id=excluded.location_id,
    quantity=excluded.quantity, active=excluded.active, snapshot=excluded.snapshot`
		args = []any{f.ID, f.ProductID, f.LocationID, f.Quantity, f.active(), string(raw)}
	default:
		q = `
INSERT INTO ` + table + ` (id, name, active, snapshot) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    name=excluded.name, active=excluded.active, snapshot=excluded.snapshot`
		args = []any{f.ID, f.Name, f.active(), string(raw)}
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// DeleteBatch removes rows by id; ids not present are silently ignored.
// Deletes arrive as explicit backend tombstone batches, never inferred locally.
func (r *CatalogRepo) DeleteBatch(ctx context.Context, dataset string, ids []string) error {
	table, err := tableFor(dataset)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

// ClearDataset wipes a dataset and its cursor so the next sync starts over.
func (r *CatalogRepo) ClearDataset(ctx context.Context, dataset string) error {
	table, err := tableFor(dataset)
	if err != nil {
		return err
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_cursors WHERE dataset=?`, dataset); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRow returns one cached entity from any dataset.
func (r *CatalogRepo) GetRow(ctx context.Context, dataset, id string) (*model.CatalogRow, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return nil, err
	}
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	q := `SELECT id, ` + nameColumn(dataset) + `, active, snapshot FROM ` + table + ` WHERE id=?`
	var row model.CatalogRow
	var snapshot string
	if err := db.QueryRowContext(ctx, q, id).Scan(&row.ID, &row.Name, &row.Active, &snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	row.Snapshot = json.RawMessage(snapshot)
	return &row, nil
}

// ListRows returns a dataset's rows, active-only by default.
func (r *CatalogRepo) ListRows(ctx context.Context, dataset string, includeInactive bool) ([]model.CatalogRow, error) {
	table, err := tableFor(dataset)
	if err != nil {
		return nil, err
	}
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	q := `SELECT id, ` + nameColumn(dataset) + `, active, snapshot FROM ` + table
	if !includeInactive {
		q += ` WHERE active=1`
	}
	q += ` ORDER BY ` + nameColumn(dataset) + `, id`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CatalogRow
	for rows.Next() {
		var row model.CatalogRow
		var snapshot string
		if err := rows.Scan(&row.ID, &row.Name, &row.Active, &snapshot); err != nil {
			return nil, err
		}
		row.Snapshot = json.RawMessage(snapshot)
		out = append(out, row)
	}
	return out, rows.Err()
}

// nameColumn works around the stocks table, which has no name of its own.
func nameColumn(dataset string) string {
	if dataset == model.DatasetInventoryStocks {
		return `''`
	}
	return "name"
}

// ListProducts applies the search/category filters with an active-only default.
func (r *CatalogRepo) ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}

	q := `SELECT id, name, barcode, category_id, active, snapshot FROM products`
	var conds []string
	var args []any
	if !f.IncludeInactive {
		conds = append(conds, `active=1`)
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		conds = append(conds, `(LOWER(name) LIKE ? OR LOWER(barcode) LIKE ?)`)
		args = append(args, pattern, pattern)
	}
	if f.CategoryID != "" {
		conds = append(conds, `category_id=?`)
		args = append(args, f.CategoryID)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY name, id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct returns a product by id.
func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	const q = `SELECT id, name, barcode, category_id, active, snapshot FROM products WHERE id=?`
	row := db.QueryRowContext(ctx, q, id)
	var p model.Product
	var snapshot string
	if err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.Active, &snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	p.Snapshot = json.RawMessage(snapshot)
	return &p, nil
}

func scanProduct(rows *sql.Rows) (model.Product, error) {
	var p model.Product
	var snapshot string
	if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.Active, &snapshot); err != nil {
		return p, err
	}
	p.Snapshot = json.RawMessage(snapshot)
	return p, nil
}

// ListCategories hydrates each category's parent reference on read. No
// materialized tree is kept; the hierarchy is rebuilt here every time.
func (r *CatalogRepo) ListCategories(ctx context.Context, includeInactive bool) ([]model.Category, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	const q = `SELECT id, name, parent_id, active, snapshot FROM categories ORDER BY name, id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []model.Category
	refs := make(map[string]model.CategoryRef)
	for rows.Next() {
		var c model.Category
		var snapshot string
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.Active, &snapshot); err != nil {
			return nil, err
		}
		c.Snapshot = json.RawMessage(snapshot)
		refs[c.ID] = model.CategoryRef{ID: c.ID, Name: c.Name}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []model.Category
	for _, c := range all {
		if !includeInactive && !c.Active {
			continue
		}
		if ref, ok := refs[c.ParentID]; ok {
			parent := ref
			c.Parent = &parent
		}
		out = append(out, c)
	}
	return out, nil
}

// ListStocks returns stock rows hydrated with product and location summaries
// so readers get a display-ready shape without joining themselves.
func (r *CatalogRepo) ListStocks(ctx context.Context, locationID string) ([]model.InventoryStock, error) {
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}

	q := `
SELECT s.id, s.quantity, s.snapshot,
       s.product_id, COALESCE(p.name,''), COALESCE(p.barcode,''),
       s.location_id, COALESCE(l.name,'')
FROM inventory_stocks s
LEFT JOIN products p ON p.id = s.product_id
LEFT JOIN inventory_locations l ON l.id = s.location_id
WHERE s.active=1`
	var args []any
	if locationID != "" {
		q += ` AND s.location_id=?`
		args = append(args, locationID)
	}
	q += ` ORDER BY p.name, s.id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InventoryStock
	for rows.Next() {
		var st model.InventoryStock
		var snapshot string
		if err := rows.Scan(&st.ID, &st.Quantity, &snapshot,
			&st.Product.ID, &st.Product.Name, &st.Product.Barcode,
			&st.Location.ID, &st.Location.Name); err != nil {
			return nil, err
		}
		st.Snapshot = json.RawMessage(snapshot)
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetCursor returns a dataset's version cursor.
func (r *CatalogRepo) GetCursor(ctx context.Context, dataset string) (*model.DatasetCursor, error) {
	if _, err := tableFor(dataset); err != nil {
		return nil, err
	}
	db, err := r.store.Handle()
	if err != nil {
		return nil, err
	}
	const q = `SELECT dataset, version, synced_at, applied_count, deleted_count FROM sync_cursors WHERE dataset=?`
	var cur model.DatasetCursor
	var syncedAt string
	if err := db.QueryRowContext(ctx, q, dataset).Scan(
		&cur.Dataset, &cur.Version, &syncedAt, &cur.AppliedCount, &cur.DeletedCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	cur.SyncedAt = parseTime(syncedAt)
	return &cur, nil
}

// SaveCursor overwrites a dataset's cursor. The version token is opaque and
// server-issued; it is stored, never compared.
func (r *CatalogRepo) SaveCursor(ctx context.Context, cur model.DatasetCursor) error {
	if _, err := tableFor(cur.Dataset); err != nil {
		return err
	}
	db, err := r.store.Handle()
	if err != nil {
		return err
	}
	if cur.SyncedAt.IsZero() {
		cur.SyncedAt = time.Now()
	}
	const q = `
INSERT INTO sync_cursors (dataset, version, synced_at, applied_count, deleted_count) VALUES (?,?,?,?,?)
ON CONFLICT(dataset) DO UPDATE SET
    version=excluded.version, synced_at=excluded.synced_at,
    applied_count=excluded.applied_count, deleted_count=excluded.deleted_count`
	_, err = db.ExecContext(ctx, q, cur.Dataset, cur.Version, fmtTime(cur.SyncedAt), cur.AppliedCount, cur.DeletedCount)
	return err
}
