// Package sales covers retail sales, sales returns and quotations.
// Sales post immediately and carry store-scoped invoice numbers;
// quotations never touch stock until converted.
package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

var (
	// ErrSaleNotFound indicates a missing or inactive sale.
	ErrSaleNotFound = errors.New("sales: sale not found")
	// ErrReturnNotFound indicates a missing or inactive sales return.
	ErrReturnNotFound = errors.New("sales: sales return not found")
	// ErrQuotationNotFound indicates a missing or inactive quotation.
	ErrQuotationNotFound = errors.New("sales: quotation not found")
	// ErrNoLines indicates a document without lines.
	ErrNoLines = errors.New("sales: at least one line required")
	// ErrBadLine indicates a line with a non-positive quantity or negative price.
	ErrBadLine = errors.New("sales: invalid line")
	// ErrReturnExceedsSale indicates a return of more than was sold.
	ErrReturnExceedsSale = errors.New("sales: return quantity exceeds sold quantity")
)

// Sale is a posted retail sale.
type Sale struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	CustomerID     *int64          `json:"customer_id,omitempty"` // nil for walk-in
	StoreID        int64           `json:"store_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	Note           string          `json:"note,omitempty"`
	IsActive       bool            `json:"is_active"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []SaleLine      `json:"lines,omitempty"`
}

// SaleLine is one sold item.
type SaleLine struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ItemID      int64           `json:"item_id"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// SaleInput creates a sale.
type SaleInput struct {
	CustomerID *int64
	StoreID    int64
	Note       string
	ActorID    int64
	Lines      []SaleLineInput
}

// SaleLineInput is one requested sale line.
type SaleLineInput struct {
	ItemID      int64
	Quantity    float64
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
}

// SalesReturn brings sold stock back against a sale.
type SalesReturn struct {
	ID        int64             `json:"id"`
	Number    string            `json:"number"`
	SaleID    int64             `json:"sale_id"`
	StoreID   int64             `json:"store_id"`
	Reason    string            `json:"reason,omitempty"`
	NetAmount decimal.Decimal   `json:"net_amount"`
	IsActive  bool              `json:"is_active"`
	CreatedBy int64             `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
	Lines     []SalesReturnLine `json:"lines,omitempty"`
}

// SalesReturnLine is one returned item.
type SalesReturnLine struct {
	ID        int64           `json:"id"`
	ReturnID  int64           `json:"return_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  float64         `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SalesReturnInput creates a sales return.
type SalesReturnInput struct {
	SaleID  int64
	Reason  string
	ActorID int64
	Lines   []SalesReturnLineInput
}

// SalesReturnLineInput is one requested return line.
type SalesReturnLineInput struct {
	ItemID   int64
	Quantity float64
}

// Quotation is a priced offer with no stock effect.
type Quotation struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	StoreID        int64           `json:"store_id"`
	Status         docflow.Status  `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	Note           string          `json:"note,omitempty"`
	SaleID         *int64          `json:"sale_id,omitempty"` // set once converted
	IsActive       bool            `json:"is_active"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Lines          []QuotationLine `json:"lines,omitempty"`
}

// QuotationLine is one quoted item.
type QuotationLine struct {
	ID          int64           `json:"id"`
	QuotationID int64           `json:"quotation_id"`
	ItemID      int64           `json:"item_id"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// QuotationInput creates a quotation in pending status.
type QuotationInput struct {
	CustomerID *int64
	StoreID    int64
	ValidUntil *time.Time
	Note       string
	ActorID    int64
	Lines      []SaleLineInput
}

// ListFilter narrows sales listings.
type ListFilter struct {
	CustomerID int64
	StoreID    int64
	Status     docflow.Status
	Search     string
	Limit      int
	Offset     int
}
