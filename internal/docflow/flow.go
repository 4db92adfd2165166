// Package docflow holds the status workflows shared by every document
// kind. One table-driven flow replaces the per-feature transition maps
// so GRNs, dispatch notes, quotations and payments all enforce the
// same rules the same way.
package docflow

import (
	"errors"
	"fmt"
)

// Status is a document lifecycle state.
type Status string

// Dispatch note lifecycle.
const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusReceived   Status = "received"
	StatusCancelled  Status = "cancelled"
)

// GRN lifecycle.
const (
	StatusDraft Status = "draft"
)

// Quotation lifecycle.
const (
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusConverted Status = "converted"
)

// Payment lifecycle.
const (
	StatusPaid Status = "paid"
)

// ErrInvalidTransition is returned when a requested transition is not
// in the flow table. Callers must apply zero side effects on it.
var ErrInvalidTransition = errors.New("docflow: invalid status transition")

// Flow is a transition table for one document kind.
type Flow struct {
	name        string
	transitions map[Status][]Status
}

// NewFlow builds a flow from a transition table. Terminal statuses may
// be omitted from the map.
func NewFlow(name string, transitions map[Status][]Status) Flow {
	return Flow{name: name, transitions: transitions}
}

// Allowed returns the permitted target statuses for the current one.
// Terminal statuses return an empty set.
func (f Flow) Allowed(from Status) []Status {
	return f.transitions[from]
}

// Can reports whether from -> to is a legal transition.
func (f Flow) Can(from, to Status) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Step validates a transition, returning ErrInvalidTransition with
// context when it is not allowed.
func (f Flow) Step(from, to Status) error {
	if !f.Can(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, f.name, from, to)
	}
	return nil
}

// Terminal reports whether the status permits no further transitions.
func (f Flow) Terminal(s Status) bool {
	return len(f.transitions[s]) == 0
}

// Dispatch is the inter-store dispatch note workflow.
var Dispatch = NewFlow("dispatch", map[Status][]Status{
	StatusPending:    {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusReceived, StatusCancelled},
})

// GRN is the goods-received note workflow.
var GRN = NewFlow("grn", map[Status][]Status{
	StatusDraft: {StatusReceived, StatusCancelled},
})

// Quotation is the sales quotation workflow.
var Quotation = NewFlow("quotation", map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusConverted, StatusRejected},
})

// Payment is the payment document workflow.
var Payment = NewFlow("payment", map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled},
})
