package openings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort is what the service needs from storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetActive(ctx context.Context, partyType PartyType, partyID int64) (Opening, error)
	ActiveAmount(ctx context.Context, partyType PartyType, partyID int64) (decimal.Decimal, error)
	List(ctx context.Context, f ListFilter) ([]Opening, int, error)
}

// AuditPort records who changed what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies the opening-balance rules.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Set posts an opening balance for a party. Reposting replaces the
// active row; earlier rows stay behind as history.
func (s *Service) Set(ctx context.Context, input Input) (Opening, error) {
	if !input.PartyType.Valid() {
		return Opening{}, fmt.Errorf("%w: %q", ErrBadParty, input.PartyType)
	}
	if input.PartyID <= 0 {
		return Opening{}, fmt.Errorf("%w: party id required", ErrBadParty)
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.DeactivateOpenings(ctx, input.PartyType, input.PartyID); err != nil {
			return err
		}
		var err error
		id, err = tx.InsertOpening(ctx, Opening{
			PartyType: input.PartyType,
			PartyID:   input.PartyID,
			Amount:    input.Amount,
			Note:      input.Note,
			CreatedBy: input.ActorID,
		})
		return err
	})
	if err != nil {
		return Opening{}, err
	}

	s.record(ctx, input.ActorID, "OPENING_SET", input.PartyType, id, map[string]any{
		"party_id": input.PartyID,
		"amount":   input.Amount,
	})
	return s.repo.GetActive(ctx, input.PartyType, input.PartyID)
}

// Clear removes the party's active opening balance.
func (s *Service) Clear(ctx context.Context, partyType PartyType, partyID int64, actorID int64) error {
	if !partyType.Valid() {
		return fmt.Errorf("%w: %q", ErrBadParty, partyType)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.DeactivateOpenings(ctx, partyType, partyID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "OPENING_CLEAR", partyType, partyID, nil)
	return nil
}

// Get returns the party's active opening balance.
func (s *Service) Get(ctx context.Context, partyType PartyType, partyID int64) (Opening, error) {
	if !partyType.Valid() {
		return Opening{}, fmt.Errorf("%w: %q", ErrBadParty, partyType)
	}
	return s.repo.GetActive(ctx, partyType, partyID)
}

// Amount returns the party's opening amount, zero when none is set.
// Payments use it when computing outstanding balances.
func (s *Service) Amount(ctx context.Context, partyType PartyType, partyID int64) (decimal.Decimal, error) {
	if !partyType.Valid() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrBadParty, partyType)
	}
	return s.repo.ActiveAmount(ctx, partyType, partyID)
}

// List pages opening rows, active and historical.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Opening, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, partyType PartyType, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "opening_" + string(partyType),
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
