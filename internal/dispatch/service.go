package dispatch

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Note, error)
	List(ctx context.Context, f ListFilter) ([]Note, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockCachePort invalidates cached stock summaries after movements.
type StockCachePort interface {
	BumpCache(ctx context.Context)
}

// Service owns the dispatch note lifecycle.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	stock StockCachePort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, stock StockCachePort) *Service {
	return &Service{repo: repo, audit: audit, stock: stock}
}

// Create opens a note in pending status. No stock is touched yet.
func (s *Service) Create(ctx context.Context, input Input) (Note, error) {
	if input.FromStoreID == 0 || input.ToStoreID == 0 {
		return Note{}, fmt.Errorf("%w: both stores required", ErrBadLine)
	}
	if input.FromStoreID == input.ToStoreID {
		return Note{}, ErrSameStore
	}
	if len(input.Lines) == 0 {
		return Note{}, ErrNoLines
	}
	lines := make([]Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.ItemID == 0 || in.Quantity <= 0 {
			return Note{}, fmt.Errorf("%w: item %d", ErrBadLine, in.ItemID)
		}
		lines = append(lines, Line{ItemID: in.ItemID, Quantity: in.Quantity})
	}

	var created Note
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypeDispatch)
		if err != nil {
			return err
		}
		note := Note{
			Number:      number,
			FromStoreID: input.FromStoreID,
			ToStoreID:   input.ToStoreID,
			Status:      docflow.StatusPending,
			Note:        input.Note,
			IsActive:    true,
			CreatedBy:   input.ActorID,
		}
		id, err := tx.InsertNote(ctx, note)
		if err != nil {
			return err
		}
		note.ID = id
		note.Lines = lines
		if err := tx.InsertLines(ctx, id, lines); err != nil {
			return err
		}
		created = note
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	s.record(ctx, input.ActorID, "DISPATCH_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// Transition moves a note along its workflow. A rejected transition
// mutates nothing. pending -> dispatched reserves stock at the source;
// dispatched -> received releases the reservation and posts, per line,
// a -qty dispatch_out at the source and a +qty dispatch_in at the
// destination, all in one transaction; a cancel after dispatch only
// releases the reservation.
func (s *Service) Transition(ctx context.Context, id int64, target docflow.Status, actorID int64) (Note, error) {
	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return Note{}, err
	}
	if !note.IsActive {
		return Note{}, ErrNotFound
	}
	if err := docflow.Dispatch.Step(note.Status, target); err != nil {
		return Note{}, err
	}

	moved := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, note.Status, target); err != nil {
			return err
		}
		switch {
		case note.Status == docflow.StatusPending && target == docflow.StatusDispatched:
			for _, l := range note.Lines {
				if err := tx.Reserve(ctx, l.ItemID, note.FromStoreID, l.Quantity); err != nil {
					return err
				}
			}
		case note.Status == docflow.StatusDispatched && target == docflow.StatusReceived:
			moved = true
			for _, l := range note.Lines {
				if err := tx.Release(ctx, l.ItemID, note.FromStoreID, l.Quantity); err != nil {
					return err
				}
				if _, err := tx.Apply(ctx, inventory.Movement{
					ItemID:        l.ItemID,
					StoreID:       note.FromStoreID,
					Type:          inventory.TypeDispatchOut,
					Quantity:      -l.Quantity,
					ReferenceType: inventory.RefDispatchNote,
					ReferenceID:   id,
					Note:          note.Number,
					ActorID:       actorID,
				}); err != nil {
					return err
				}
				if _, err := tx.Apply(ctx, inventory.Movement{
					ItemID:        l.ItemID,
					StoreID:       note.ToStoreID,
					Type:          inventory.TypeDispatchIn,
					Quantity:      l.Quantity,
					ReferenceType: inventory.RefDispatchNote,
					ReferenceID:   id,
					Note:          note.Number,
					ActorID:       actorID,
				}); err != nil {
					return err
				}
			}
		case note.Status == docflow.StatusDispatched && target == docflow.StatusCancelled:
			for _, l := range note.Lines {
				if err := tx.Release(ctx, l.ItemID, note.FromStoreID, l.Quantity); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	if moved {
		s.bump(ctx)
	}
	note.Status = target
	s.record(ctx, actorID, "DISPATCH_TRANSITION", id, map[string]any{"number": note.Number, "status": string(target)})
	return note, nil
}

// Delete soft-deletes a note. A received note gets its ledger effect
// reversed; an in-flight note must be cancelled or received first so
// reservations cannot leak.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !note.IsActive {
		return ErrNotFound
	}
	if note.Status == docflow.StatusDispatched {
		return ErrNotDeletable
	}
	received := note.Status == docflow.StatusReceived
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDelete(ctx, id); err != nil {
			return err
		}
		if received {
			// Reverse both sides: dispatch_in rows at the destination come
			// back out, dispatch_out rows at the source come back in.
			for _, l := range note.Lines {
				if _, err := tx.Apply(ctx, inventory.Movement{
					ItemID: l.ItemID, StoreID: note.ToStoreID,
					Type: inventory.TypeDispatchOut, Quantity: -l.Quantity,
					ReferenceType: inventory.RefDispatchNote, ReferenceID: id,
					Note: fmt.Sprintf("reversal of %s", note.Number), ActorID: actorID,
				}); err != nil {
					return err
				}
				if _, err := tx.Apply(ctx, inventory.Movement{
					ItemID: l.ItemID, StoreID: note.FromStoreID,
					Type: inventory.TypeDispatchIn, Quantity: l.Quantity,
					ReferenceType: inventory.RefDispatchNote, ReferenceID: id,
					Note: fmt.Sprintf("reversal of %s", note.Number), ActorID: actorID,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if received {
		s.bump(ctx)
	}
	s.record(ctx, actorID, "DISPATCH_DELETE", id, map[string]any{"number": note.Number})
	return nil
}

// Get loads a note with lines.
func (s *Service) Get(ctx context.Context, id int64) (Note, error) {
	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return Note{}, err
	}
	if !note.IsActive {
		return Note{}, ErrNotFound
	}
	return note, nil
}

// List pages note headers.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Note, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.List(ctx, f)
}

func (s *Service) bump(ctx context.Context) {
	if s.stock != nil {
		s.stock.BumpCache(ctx)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "dispatch",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
