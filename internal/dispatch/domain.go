// Package dispatch moves stock between stores with a pending ->
// dispatched -> received note lifecycle. Quantity is reserved at the
// source while a note is in flight; the ledger rows land only on
// receipt.
package dispatch

import (
	"errors"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

var (
	// ErrNotFound indicates a missing or inactive dispatch note.
	ErrNotFound = errors.New("dispatch: note not found")
	// ErrSameStore indicates source and destination are equal.
	ErrSameStore = errors.New("dispatch: source and destination stores must differ")
	// ErrNoLines indicates a note without lines.
	ErrNoLines = errors.New("dispatch: at least one line required")
	// ErrBadLine indicates a line with a non-positive quantity.
	ErrBadLine = errors.New("dispatch: invalid line")
	// ErrNotDeletable indicates a delete on an in-flight note.
	ErrNotDeletable = errors.New("dispatch: dispatched note must be received or cancelled first")
)

// Note is an inter-store dispatch document.
type Note struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	FromStoreID int64          `json:"from_store_id"`
	ToStoreID   int64          `json:"to_store_id"`
	Status      docflow.Status `json:"status"`
	Note        string         `json:"note,omitempty"`
	IsActive    bool           `json:"is_active"`
	CreatedBy   int64          `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Lines       []Line         `json:"lines,omitempty"`
}

// Line is one transferred item.
type Line struct {
	ID       int64   `json:"id"`
	NoteID   int64   `json:"note_id"`
	ItemID   int64   `json:"item_id"`
	Quantity float64 `json:"quantity"`
}

// Input creates a dispatch note in pending status.
type Input struct {
	FromStoreID int64
	ToStoreID   int64
	Note        string
	ActorID     int64
	Lines       []LineInput
}

// LineInput is one requested line.
type LineInput struct {
	ItemID   int64
	Quantity float64
}

// ListFilter narrows note listings.
type ListFilter struct {
	StoreID int64 // matches either side
	Status  docflow.Status
	Search  string
	Limit   int
	Offset  int
}
