package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/openings"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is what the service needs from storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Payment, error)
	List(ctx context.Context, f ListFilter) ([]Payment, int, error)
	OutstandingDocs(ctx context.Context, partyType openings.PartyType, partyID int64) ([]OutstandingDoc, error)
}

// OpeningsPort supplies opening balances for outstanding statements.
type OpeningsPort interface {
	Amount(ctx context.Context, partyType openings.PartyType, partyID int64) (decimal.Decimal, error)
}

// AuditPort records who changed what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies the payment rules.
type Service struct {
	repo     RepositoryPort
	openings OpeningsPort
	audit    AuditPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort, op OpeningsPort, audit AuditPort) *Service {
	return &Service{repo: repo, openings: op, audit: audit}
}

// Create records a pending payment with its allocations. Every
// allocation is checked against the document's remaining balance inside
// the same transaction that inserts the rows.
func (s *Service) Create(ctx context.Context, input Input) (Payment, error) {
	if !input.PartyType.Valid() {
		return Payment{}, fmt.Errorf("%w: %q", openings.ErrBadParty, input.PartyType)
	}
	if !input.Direction.Valid() {
		return Payment{}, fmt.Errorf("%w: %q", ErrBadDirection, input.Direction)
	}
	if !input.Amount.IsPositive() {
		return Payment{}, ErrBadAmount
	}

	allocated := decimal.Zero
	for _, a := range input.Allocations {
		if !a.DocKind.Valid() || a.DocID <= 0 {
			return Payment{}, fmt.Errorf("%w: %s %d", ErrBadDoc, a.DocKind, a.DocID)
		}
		if !a.Amount.IsPositive() {
			return Payment{}, fmt.Errorf("%w: allocation amounts must be positive", ErrBadAmount)
		}
		allocated = allocated.Add(a.Amount)
	}
	if allocated.GreaterThan(input.Amount) {
		return Payment{}, fmt.Errorf("%w: %s allocated against a %s payment",
			ErrOverAllocated, allocated, input.Amount)
	}

	paidOn := input.PaidOn
	if paidOn.IsZero() {
		paidOn = time.Now()
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypePayment)
		if err != nil {
			return err
		}
		id, err = tx.InsertPayment(ctx, Payment{
			Number:    number,
			PartyType: input.PartyType,
			PartyID:   input.PartyID,
			Direction: input.Direction,
			Amount:    input.Amount,
			Method:    input.Method,
			PaidOn:    paidOn,
			Note:      input.Note,
			Status:    docflow.StatusPending,
			CreatedBy: input.ActorID,
		})
		if err != nil {
			return err
		}

		allocs := make([]Allocation, 0, len(input.Allocations))
		for _, a := range input.Allocations {
			_, total, err := tx.DocTotal(ctx, a.DocKind, a.DocID, input.PartyType, input.PartyID)
			if err != nil {
				return err
			}
			already, err := tx.AllocatedSum(ctx, a.DocKind, a.DocID)
			if err != nil {
				return err
			}
			if a.Amount.GreaterThan(total.Sub(already)) {
				return fmt.Errorf("%w: %s %d has %s outstanding",
					ErrOverAllocated, a.DocKind, a.DocID, total.Sub(already))
			}
			allocs = append(allocs, Allocation{DocKind: a.DocKind, DocID: a.DocID, Amount: a.Amount})
		}
		return tx.InsertAllocations(ctx, id, allocs)
	})
	if err != nil {
		return Payment{}, err
	}

	s.record(ctx, input.ActorID, "PAYMENT_CREATE", id, map[string]any{
		"party_type": input.PartyType, "party_id": input.PartyID,
		"direction": input.Direction, "amount": input.Amount,
	})
	return s.repo.Get(ctx, id)
}

// Transition moves a payment through its workflow.
func (s *Service) Transition(ctx context.Context, id int64, to docflow.Status, actorID int64) (Payment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if !p.IsActive {
		return Payment{}, ErrNotFound
	}
	if err := docflow.Payment.Step(p.Status, to); err != nil {
		return Payment{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, p.Status, to)
	})
	if err != nil {
		return Payment{}, err
	}

	s.record(ctx, actorID, "PAYMENT_"+string(to), id, nil)
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes a payment that never reached paid. Deleting frees
// its allocations, so the documents become outstanding again.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrNotFound
	}
	if p.Status == docflow.StatusPaid {
		return ErrNotDeletable
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeletePayment(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "PAYMENT_DELETE", id, nil)
	return nil
}

// Get loads one payment.
func (s *Service) Get(ctx context.Context, id int64) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// List pages payments.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Payment, int, error) {
	return s.repo.List(ctx, f)
}

// Outstanding builds a party statement: per-document balances plus the
// opening balance, summed into the party's total position.
func (s *Service) Outstanding(ctx context.Context, partyType openings.PartyType, partyID int64) (OutstandingSummary, error) {
	if !partyType.Valid() {
		return OutstandingSummary{}, fmt.Errorf("%w: %q", openings.ErrBadParty, partyType)
	}
	docs, err := s.repo.OutstandingDocs(ctx, partyType, partyID)
	if err != nil {
		return OutstandingSummary{}, err
	}
	opening := decimal.Zero
	if s.openings != nil {
		opening, err = s.openings.Amount(ctx, partyType, partyID)
		if err != nil {
			return OutstandingSummary{}, err
		}
	}

	total := opening
	for _, d := range docs {
		total = total.Add(d.Outstanding)
	}
	return OutstandingSummary{
		PartyType: partyType,
		PartyID:   partyID,
		Opening:   opening,
		Docs:      docs,
		Total:     total,
	}, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
