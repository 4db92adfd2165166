// Package procurement covers goods-received notes and purchase returns.
// A received GRN is the only way stock enters the system from a
// supplier; a purchase return sends it back.
package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

var (
	// ErrGRNNotFound indicates a missing or inactive GRN.
	ErrGRNNotFound = errors.New("procurement: grn not found")
	// ErrReturnNotFound indicates a missing or inactive purchase return.
	ErrReturnNotFound = errors.New("procurement: purchase return not found")
	// ErrNotDraft indicates a header edit outside draft status.
	ErrNotDraft = errors.New("procurement: grn is not editable outside draft")
	// ErrNoLines indicates a document without lines.
	ErrNoLines = errors.New("procurement: at least one line required")
	// ErrBadLine indicates a line with a non-positive quantity or negative cost.
	ErrBadLine = errors.New("procurement: invalid line")
)

// GRN is a goods-received note header.
type GRN struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	SupplierID     int64           `json:"supplier_id"`
	StoreID        int64           `json:"store_id"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	Status         docflow.Status  `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	Note           string          `json:"note,omitempty"`
	IsActive       bool            `json:"is_active"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Lines          []GRNLine       `json:"lines,omitempty"`
}

// GRNLine is one received item.
type GRNLine struct {
	ID          int64           `json:"id"`
	GRNID       int64           `json:"grn_id"`
	ItemID      int64           `json:"item_id"`
	ReceivedQty float64         `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
	LineTotal   decimal.Decimal `json:"line_total"`
	BatchNumber *string         `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// GRNInput creates a GRN. Receive posts it immediately instead of
// leaving a draft.
type GRNInput struct {
	SupplierID    int64
	StoreID       int64
	InvoiceNumber string
	Note          string
	Receive       bool
	ActorID       int64
	Lines         []GRNLineInput
}

// GRNLineInput is one requested line.
type GRNLineInput struct {
	ItemID      int64
	ReceivedQty float64
	UnitCost    decimal.Decimal
	DiscountPct decimal.Decimal
	BatchNumber *string
	ExpiryDate  *time.Time
}

// GRNPatch updates the draft-only header allowlist.
type GRNPatch struct {
	InvoiceNumber *string
	Note          *string
}

// PurchaseReturn sends received stock back to a supplier. Posting is
// immediate; there is no draft state.
type PurchaseReturn struct {
	ID         int64                `json:"id"`
	Number     string               `json:"number"`
	SupplierID int64                `json:"supplier_id"`
	StoreID    int64                `json:"store_id"`
	GRNID      *int64               `json:"grn_id,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	NetAmount  decimal.Decimal      `json:"net_amount"`
	IsActive   bool                 `json:"is_active"`
	CreatedBy  int64                `json:"created_by"`
	CreatedAt  time.Time            `json:"created_at"`
	Lines      []PurchaseReturnLine `json:"lines,omitempty"`
}

// PurchaseReturnLine is one returned item.
type PurchaseReturnLine struct {
	ID        int64           `json:"id"`
	ReturnID  int64           `json:"return_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  float64         `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PurchaseReturnInput creates a purchase return.
type PurchaseReturnInput struct {
	SupplierID int64
	StoreID    int64
	GRNID      *int64
	Reason     string
	ActorID    int64
	Lines      []PurchaseReturnLineInput
}

// PurchaseReturnLineInput is one requested return line.
type PurchaseReturnLineInput struct {
	ItemID   int64
	Quantity float64
	UnitCost decimal.Decimal
}

// ListFilter narrows GRN / return listings.
type ListFilter struct {
	SupplierID int64
	StoreID    int64
	Status     docflow.Status
	Search     string
	Limit      int
	Offset     int
}
