// Package openings carries the balances a party brought into the
// system before it went live. Each party keeps at most one active
// opening row; reposting replaces it and keeps the old row as history.
package openings

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PartyType distinguishes who an opening balance belongs to.
type PartyType string

const (
	PartyCustomer PartyType = "customer"
	PartySupplier PartyType = "supplier"
)

// Valid reports whether the party type is a known one.
func (p PartyType) Valid() bool {
	return p == PartyCustomer || p == PartySupplier
}

var (
	// ErrNotFound indicates the party has no active opening balance.
	ErrNotFound = errors.New("openings: opening balance not found")
	// ErrBadParty indicates an unknown party type.
	ErrBadParty = errors.New("openings: unknown party type")
)

// Opening is one signed opening-balance row. A positive customer
// amount means the customer owes us; a positive supplier amount means
// we owe the supplier.
type Opening struct {
	ID        int64           `json:"id"`
	PartyType PartyType       `json:"party_type"`
	PartyID   int64           `json:"party_id"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Input posts (or reposts) an opening balance.
type Input struct {
	PartyType PartyType
	PartyID   int64
	Amount    decimal.Decimal
	Note      string
	ActorID   int64
}

// ListFilter narrows opening listings.
type ListFilter struct {
	PartyType PartyType
	PartyID   int64
	Limit     int
	Offset    int
}
