// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// OperationType classifies a pending operation awaiting delivery.
type OperationType string

// Operation types accepted by the queue.
const (
	OpOrder     OperationType = "ORDER"
	OpInventory OperationType = "INVENTORY"
	OpApproval  OperationType = "APPROVAL"
)

// OperationStatus is the delivery state of a pending operation.
type OperationStatus string

// Queue state machine: PENDING -> SENDING -> SENT, or SENDING -> FAILED.
// FAILED -> PENDING is reachable only through an explicit retry.
const (
	OpPending OperationStatus = "PENDING"
	OpSending OperationStatus = "SENDING"
	OpSent    OperationStatus = "SENT"
	OpFailed  OperationStatus = "FAILED"
)

// PendingOperation is a queued mutation awaiting backend confirmation.
// Payload is opaque to the queue: it is never inspected or validated here.
type PendingOperation struct {
	ID           uuid.UUID
	Type         OperationType
	Payload      json.RawMessage
	OrderLocalID *uuid.UUID // set when the operation relates to an offline order
	Status       OperationStatus
	Retries      int
	Signature    string // JWS computed at enqueue time with the pairing secret
	Response     string // backend response body after a successful attempt
	ErrorMessage string // last delivery error after a failed attempt
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderStatus is the reconciliation state of an offline order.
type OrderStatus string

// Offline order lifecycle.
const (
	OrderPending  OrderStatus = "PENDING"
	OrderSynced   OrderStatus = "SYNCED"
	OrderConflict OrderStatus = "CONFLICT"
)

// OfflineOrder is an order captured locally before backend confirmation.
// LocalID never changes; it correlates the ledger row, its payments, and the
// eventual backend record.
type OfflineOrder struct {
	LocalID           uuid.UUID
	Payload           json.RawMessage
	Status            OrderStatus
	ServerOrderID     string // assigned by the backend once synced
	ServerOrderNumber string
	ConflictReason    string // preserved verbatim for out-of-band resolution
	CreatedAt         time.Time
	SyncedAt          *time.Time
}

// PaymentMethod identifies how an offline payment was taken.
type PaymentMethod string

// Payment methods recorded in the ledger.
const (
	PayCash PaymentMethod = "CASH"
	PayCard PaymentMethod = "CARD"
)

// OfflinePayment belongs to exactly one offline order and is deleted with it.
// Monetary fields are minor units (cents).
type OfflinePayment struct {
	ID               uuid.UUID
	OrderLocalID     uuid.UUID
	Method           PaymentMethod
	Amount           int64
	Tip              int64
	Surcharge        int64
	ProviderResponse json.RawMessage // raw card-provider blob, nil for cash
	CashTendered     int64           // cash only
	CashChange       int64           // cash only
	CreatedAt        time.Time
}

// ApprovalType classifies a manager-authorized override.
type ApprovalType string

// Approval types captured offline.
const (
	ApprovalDiscount      ApprovalType = "DISCOUNT"
	ApprovalVoid          ApprovalType = "VOID"
	ApprovalRefund        ApprovalType = "REFUND"
	ApprovalPriceOverride ApprovalType = "PRICE_OVERRIDE"
)

// OfflineApproval records a manager override with a hashed credential.
// Approvals carry their own synced flag: they are acknowledged in batches,
// independent of the order/queue pipeline.
type OfflineApproval struct {
	ID           uuid.UUID
	OrderLocalID *uuid.UUID
	Type         ApprovalType
	ManagerHash  []byte // Argon2id(pin, Salt)
	Salt         []byte
	Value        int64 // minor units affected by the override
	Synced       bool
	CreatedAt    time.Time
}

// PairingInfo is the terminal's bootstrap identity. A terminal is paired only
// when terminal, tenant, and location ids are all present.
type PairingInfo struct {
	TerminalID    string
	TenantID      string
	LocationID    string
	SigningSecret string
	PairedAt      time.Time
}

// NetworkStatus is the persisted connectivity decision.
type NetworkStatus struct {
	Online       bool
	OfflineSince *time.Time // set on the online->offline transition
	UpdatedAt    time.Time
}

// SyncStatus carries the last sync attempt/success timestamps.
type SyncStatus struct {
	LastAttemptAt *time.Time
	LastSuccessAt *time.Time
}

// DatasetCursor marks how far a catalog dataset's incremental sync has
// progressed. Version is a server-issued opaque token, never compared locally.
type DatasetCursor struct {
	Dataset      string
	Version      string
	SyncedAt     time.Time
	AppliedCount int
	DeletedCount int
}

// Catalog datasets cached on the terminal.
const (
	DatasetProducts           = "products"
	DatasetCategories         = "categories"
	DatasetModifierSets       = "modifier_sets"
	DatasetDiscounts          = "discounts"
	DatasetTaxes              = "taxes"
	DatasetProductTypes       = "product_types"
	DatasetInventoryLocations = "inventory_locations"
	DatasetInventoryStocks    = "inventory_stocks"
	DatasetSettings           = "settings"
	DatasetUsers              = "users"
)

// CatalogRow is a cached catalog entity: the raw backend snapshot plus the
// handful of fields extracted for indexed queries. The snapshot is the source
// of truth; extracted fields exist only so lists can filter without
// deserializing every row.
type CatalogRow struct {
	ID       string
	Name     string
	Active   bool
	Snapshot json.RawMessage
}

// Product is the product read model with its indexed columns.
type Product struct {
	CatalogRow
	Barcode    string
	CategoryID string
}

// CategoryRef is a shallow category summary used for hydration.
type CategoryRef struct {
	ID   string
	Name string
}

// Category exposes a hydrated parent back-reference for display. The cache
// keeps no materialized tree; hierarchy is rebuilt on read.
type Category struct {
	CatalogRow
	ParentID string
	Parent   *CategoryRef
}

// ProductRef is a shallow product summary used for stock hydration.
type ProductRef struct {
	ID      string
	Name    string
	Barcode string
}

// LocationRef is a shallow inventory-location summary used for stock hydration.
type LocationRef struct {
	ID   string
	Name string
}

// InventoryStock is a stock row hydrated with product/location summaries so
// readers need no join at display time.
type InventoryStock struct {
	ID       string
	Quantity float64
	Product  ProductRef
	Location LocationRef
	Snapshot json.RawMessage
}

// ProductFilter narrows product list queries. Search matches name or barcode
// case-insensitively; zero values mean "no filter".
type ProductFilter struct {
	Search          string
	CategoryID      string
	IncludeInactive bool
}
