// Package payments records money moving against parties and applies it
// to open documents. A payment carries allocations against sales
// invoices or GRNs; the allocated sum can never exceed the payment.
package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/openings"
)

// Direction tells whether money came in or went out.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Valid reports whether the direction is a known one.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// DocKind identifies what an allocation is applied against.
type DocKind string

const (
	DocSale DocKind = "sale"
	DocGRN  DocKind = "grn"
)

// Valid reports whether the document kind is a known one.
func (k DocKind) Valid() bool {
	return k == DocSale || k == DocGRN
}

var (
	// ErrNotFound indicates a missing or inactive payment.
	ErrNotFound = errors.New("payments: payment not found")
	// ErrBadAmount indicates a non-positive payment amount.
	ErrBadAmount = errors.New("payments: amount must be positive")
	// ErrBadDirection indicates an unknown direction.
	ErrBadDirection = errors.New("payments: unknown direction")
	// ErrOverAllocated indicates allocations exceeding the payment
	// amount or a document's outstanding balance.
	ErrOverAllocated = errors.New("payments: allocation exceeds available amount")
	// ErrBadDoc indicates an allocation against an unknown document or
	// one belonging to another party.
	ErrBadDoc = errors.New("payments: allocation references an invalid document")
	// ErrNotDeletable indicates an attempt to delete a paid payment.
	ErrNotDeletable = errors.New("payments: paid payments cannot be deleted")
)

// Payment is one recorded receipt or disbursement.
type Payment struct {
	ID          int64              `json:"id"`
	Number      string             `json:"number"`
	PartyType   openings.PartyType `json:"party_type"`
	PartyID     int64              `json:"party_id"`
	Direction   Direction          `json:"direction"`
	Amount      decimal.Decimal    `json:"amount"`
	Method      string             `json:"method"`
	PaidOn      time.Time          `json:"paid_on"`
	Note        string             `json:"note,omitempty"`
	Status      docflow.Status     `json:"status"`
	IsActive    bool               `json:"is_active"`
	CreatedBy   int64              `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Allocations []Allocation       `json:"allocations,omitempty"`
}

// Allocation applies part of a payment against one document.
type Allocation struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"payment_id"`
	DocKind   DocKind         `json:"doc_kind"`
	DocID     int64           `json:"doc_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Input creates a payment in pending status.
type Input struct {
	PartyType   openings.PartyType
	PartyID     int64
	Direction   Direction
	Amount      decimal.Decimal
	Method      string
	PaidOn      time.Time
	Note        string
	ActorID     int64
	Allocations []AllocationInput
}

// AllocationInput is one requested allocation.
type AllocationInput struct {
	DocKind DocKind
	DocID   int64
	Amount  decimal.Decimal
}

// OutstandingDoc is one open document in a party statement.
type OutstandingDoc struct {
	DocKind     DocKind         `json:"doc_kind"`
	DocID       int64           `json:"doc_id"`
	Number      string          `json:"number"`
	Total       decimal.Decimal `json:"total"`
	Allocated   decimal.Decimal `json:"allocated"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// OutstandingSummary is a party's open position: document balances plus
// the opening balance carried in from before go-live.
type OutstandingSummary struct {
	PartyType openings.PartyType `json:"party_type"`
	PartyID   int64              `json:"party_id"`
	Opening   decimal.Decimal    `json:"opening"`
	Docs      []OutstandingDoc   `json:"docs"`
	Total     decimal.Decimal    `json:"total"`
}

// ListFilter narrows payment listings.
type ListFilter struct {
	PartyType openings.PartyType
	PartyID   int64
	Direction Direction
	Status    docflow.Status
	Search    string
	Limit     int
	Offset    int
}
