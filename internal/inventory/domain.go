package inventory

import (
	"errors"
	"time"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TypeGRN            TransactionType = "grn"
	TypeGRNReversal    TransactionType = "grn_reversal"
	TypeSale           TransactionType = "sale"
	TypeSaleReturn     TransactionType = "sale_return"
	TypePurchaseReturn TransactionType = "purchase_return"
	TypeDispatchOut    TransactionType = "dispatch_out"
	TypeDispatchIn     TransactionType = "dispatch_in"
	TypeAdjustmentIn   TransactionType = "adjustment_in"
	TypeAdjustmentOut  TransactionType = "adjustment_out"
	TypeOpeningStock   TransactionType = "opening_stock"
)

// reversalOf maps each movement type to the type logged when its
// document is soft-deleted. Reversal rows are regular ledger entries;
// nothing is ever updated or removed. A purchase-return reversal is an
// adjustment_in, not a grn: it restores quantity without counting as a
// fresh supplier receipt.
var reversalOf = map[TransactionType]TransactionType{
	TypeGRN:            TypeGRNReversal,
	TypeSale:           TypeSaleReturn,
	TypeSaleReturn:     TypeSale,
	TypePurchaseReturn: TypeAdjustmentIn,
	TypeAdjustmentIn:   TypeAdjustmentOut,
	TypeAdjustmentOut:  TypeAdjustmentIn,
	TypeDispatchOut:    TypeDispatchIn,
	TypeDispatchIn:     TypeDispatchOut,
	TypeOpeningStock:   TypeAdjustmentOut,
}

// Restocking types stamp last_restock_at on the balance row.
func (t TransactionType) restocks() bool {
	return t == TypeGRN || t == TypeOpeningStock
}

// Balance summarises stock per (item, store) pair. Rows are only ever
// updated in place, never deleted.
type Balance struct {
	ItemID        int64      `json:"item_id"`
	StoreID       int64      `json:"store_id"`
	QtyOnHand     float64    `json:"quantity_on_hand"`
	ReservedQty   float64    `json:"reserved_quantity"`
	LastRestockAt *time.Time `json:"last_restock_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Transaction is one immutable stock ledger row.
type Transaction struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	StoreID       int64           `json:"store_id"`
	Type          TransactionType `json:"transaction_type"`
	Quantity      float64         `json:"quantity"`
	BatchNumber   *string         `json:"batch_number,omitempty"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	Note          string          `json:"note,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Movement describes one requested quantity delta.
type Movement struct {
	ItemID        int64
	StoreID       int64
	Type          TransactionType
	Quantity      float64 // signed
	BatchNumber   *string
	ExpiryDate    *time.Time
	ReferenceType string
	ReferenceID   int64
	Note          string
	ActorID       int64
}

// AdjustmentInput describes a manual stock adjustment document.
type AdjustmentInput struct {
	StoreID int64
	Note    string
	ActorID int64
	Lines   []AdjustmentLineInput
}

// AdjustmentLineInput is one adjusted item; Quantity is signed.
type AdjustmentLineInput struct {
	ItemID      int64
	Quantity    float64
	BatchNumber *string
	Note        string
}

// Adjustment is the persisted adjustment document.
type Adjustment struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	StoreID   int64     `json:"store_id"`
	Note      string    `json:"note,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// OpeningStockInput seeds balances during migration.
type OpeningStockInput struct {
	StoreID int64
	ActorID int64
	Lines   []OpeningStockLine
}

// OpeningStockLine is one seeded item quantity.
type OpeningStockLine struct {
	ItemID      int64
	Quantity    float64
	BatchNumber *string
	ExpiryDate  *time.Time
}

// TransactionFilter filters ledger listings.
type TransactionFilter struct {
	ItemID  int64
	StoreID int64
	Type    TransactionType
	RefType string
	RefID   int64
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

var (
	// ErrInsufficientStock triggered when a movement would drive a
	// balance negative and negative stock is disallowed.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrNoReversal indicates a movement type without a reversal mapping.
	ErrNoReversal = errors.New("inventory: movement type has no reversal")
)

// ReversalType returns the ledger type used to undo movements of t.
func ReversalType(t TransactionType) (TransactionType, error) {
	rt, ok := reversalOf[t]
	if !ok {
		return "", ErrNoReversal
	}
	return rt, nil
}
