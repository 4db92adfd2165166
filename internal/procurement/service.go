package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docmath"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGRN(ctx context.Context, id int64) (GRN, error)
	ListGRNs(ctx context.Context, f ListFilter) ([]GRN, int, error)
	GetReturn(ctx context.Context, id int64) (PurchaseReturn, error)
	ListReturns(ctx context.Context, f ListFilter) ([]PurchaseReturn, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockCachePort invalidates cached stock summaries after movements.
type StockCachePort interface {
	BumpCache(ctx context.Context)
}

// Service owns GRN and purchase return lifecycles.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	stock StockCachePort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, stock StockCachePort) *Service {
	return &Service{repo: repo, audit: audit, stock: stock}
}

func (s *Service) buildGRNLines(input GRNInput) ([]GRNLine, docmath.Totals, error) {
	if len(input.Lines) == 0 {
		return nil, docmath.Totals{}, ErrNoLines
	}
	lines := make([]GRNLine, 0, len(input.Lines))
	mlines := make([]docmath.Line, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.ItemID == 0 || in.ReceivedQty <= 0 || in.UnitCost.IsNegative() {
			return nil, docmath.Totals{}, fmt.Errorf("%w: item %d", ErrBadLine, in.ItemID)
		}
		ml := docmath.Line{
			Quantity:    decimal.NewFromFloat(in.ReceivedQty),
			UnitPrice:   in.UnitCost,
			DiscountPct: in.DiscountPct,
		}
		net, err := docmath.LineNet(ml)
		if err != nil {
			return nil, docmath.Totals{}, fmt.Errorf("%w: item %d: %v", ErrBadLine, in.ItemID, err)
		}
		mlines = append(mlines, ml)
		lines = append(lines, GRNLine{
			ItemID:      in.ItemID,
			ReceivedQty: in.ReceivedQty,
			UnitCost:    in.UnitCost,
			DiscountPct: in.DiscountPct,
			LineTotal:   net,
			BatchNumber: in.BatchNumber,
			ExpiryDate:  in.ExpiryDate,
		})
	}
	totals, err := docmath.Sum(mlines)
	if err != nil {
		return nil, docmath.Totals{}, err
	}
	return lines, totals, nil
}

// CreateGRN creates a draft, or receives immediately when asked. A
// received GRN posts one +qty ledger row per line in the same
// transaction as the header and lines.
func (s *Service) CreateGRN(ctx context.Context, input GRNInput) (GRN, error) {
	if input.SupplierID == 0 || input.StoreID == 0 {
		return GRN{}, fmt.Errorf("%w: supplier and store required", ErrBadLine)
	}
	lines, totals, err := s.buildGRNLines(input)
	if err != nil {
		return GRN{}, err
	}

	status := docflow.StatusDraft
	if input.Receive {
		status = docflow.StatusReceived
	}

	var created GRN
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypeGRN)
		if err != nil {
			return err
		}
		grn := GRN{
			Number:         number,
			SupplierID:     input.SupplierID,
			StoreID:        input.StoreID,
			InvoiceNumber:  input.InvoiceNumber,
			Status:         status,
			Subtotal:       totals.Subtotal,
			DiscountAmount: totals.Discount,
			NetAmount:      totals.Net,
			Note:           input.Note,
			IsActive:       true,
			CreatedBy:      input.ActorID,
		}
		id, err := tx.InsertGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		grn.Lines = lines
		if err := tx.InsertGRNLines(ctx, id, lines); err != nil {
			return err
		}
		if input.Receive {
			if err := s.postGRNStock(ctx, tx, grn, input.ActorID); err != nil {
				return err
			}
		}
		created = grn
		return nil
	})
	if err != nil {
		return GRN{}, err
	}
	if input.Receive {
		s.bump(ctx)
	}
	s.record(ctx, input.ActorID, "GRN_CREATE", created.ID, map[string]any{"number": created.Number, "status": string(status)})
	return created, nil
}

func (s *Service) postGRNStock(ctx context.Context, tx TxRepository, grn GRN, actorID int64) error {
	for _, l := range grn.Lines {
		if _, err := tx.Apply(ctx, inventory.Movement{
			ItemID:        l.ItemID,
			StoreID:       grn.StoreID,
			Type:          inventory.TypeGRN,
			Quantity:      l.ReceivedQty,
			BatchNumber:   l.BatchNumber,
			ExpiryDate:    l.ExpiryDate,
			ReferenceType: inventory.RefGRN,
			ReferenceID:   grn.ID,
			Note:          grn.Number,
			ActorID:       actorID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Transition moves a GRN along its workflow. draft -> received posts
// the stock; draft -> cancelled is a no-op on the ledger.
func (s *Service) Transition(ctx context.Context, id int64, target docflow.Status, actorID int64) (GRN, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GRN{}, err
	}
	if !grn.IsActive {
		return GRN{}, ErrGRNNotFound
	}
	if err := docflow.GRN.Step(grn.Status, target); err != nil {
		return GRN{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateGRNStatus(ctx, id, grn.Status, target); err != nil {
			return err
		}
		if target == docflow.StatusReceived {
			return s.postGRNStock(ctx, tx, grn, actorID)
		}
		return nil
	})
	if err != nil {
		return GRN{}, err
	}
	if target == docflow.StatusReceived {
		s.bump(ctx)
	}
	grn.Status = target
	s.record(ctx, actorID, "GRN_TRANSITION", id, map[string]any{"number": grn.Number, "status": string(target)})
	return grn, nil
}

// Update edits the draft-only header allowlist.
func (s *Service) Update(ctx context.Context, id int64, patch GRNPatch, actorID int64) (GRN, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GRN{}, err
	}
	if !grn.IsActive {
		return GRN{}, ErrGRNNotFound
	}
	if grn.Status != docflow.StatusDraft {
		return GRN{}, fmt.Errorf("%w: %s is %s", ErrNotDraft, grn.Number, grn.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateGRNHeader(ctx, id, patch)
	})
	if err != nil {
		return GRN{}, err
	}
	s.record(ctx, actorID, "GRN_UPDATE", id, map[string]any{"number": grn.Number})
	return s.repo.GetGRN(ctx, id)
}

// Delete soft-deletes a GRN. A received GRN also gets its stock effect
// reversed with grn_reversal rows, in the same transaction.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return err
	}
	if !grn.IsActive {
		return ErrGRNNotFound
	}
	received := grn.Status == docflow.StatusReceived
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteGRN(ctx, id); err != nil {
			return err
		}
		if received {
			return tx.Reverse(ctx, inventory.RefGRN, id, actorID, fmt.Sprintf("reversal of %s", grn.Number))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if received {
		s.bump(ctx)
	}
	s.record(ctx, actorID, "GRN_DELETE", id, map[string]any{"number": grn.Number})
	return nil
}

// GetGRN loads a GRN with lines.
func (s *Service) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GRN{}, err
	}
	if !grn.IsActive {
		return GRN{}, ErrGRNNotFound
	}
	return grn, nil
}

// ListGRNs pages headers.
func (s *Service) ListGRNs(ctx context.Context, f ListFilter) ([]GRN, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.ListGRNs(ctx, f)
}

// CreatePurchaseReturn posts a return immediately: header, lines and
// one -qty purchase_return ledger row per line in one transaction.
func (s *Service) CreatePurchaseReturn(ctx context.Context, input PurchaseReturnInput) (PurchaseReturn, error) {
	if input.SupplierID == 0 || input.StoreID == 0 {
		return PurchaseReturn{}, fmt.Errorf("%w: supplier and store required", ErrBadLine)
	}
	if len(input.Lines) == 0 {
		return PurchaseReturn{}, ErrNoLines
	}
	net := decimal.Zero
	lines := make([]PurchaseReturnLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.ItemID == 0 || in.Quantity <= 0 || in.UnitCost.IsNegative() {
			return PurchaseReturn{}, fmt.Errorf("%w: item %d", ErrBadLine, in.ItemID)
		}
		total := decimal.NewFromFloat(in.Quantity).Mul(in.UnitCost).Round(2)
		net = net.Add(total)
		lines = append(lines, PurchaseReturnLine{
			ItemID: in.ItemID, Quantity: in.Quantity, UnitCost: in.UnitCost, LineTotal: total,
		})
	}

	var created PurchaseReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypePurchaseReturn)
		if err != nil {
			return err
		}
		ret := PurchaseReturn{
			Number: number, SupplierID: input.SupplierID, StoreID: input.StoreID,
			GRNID: input.GRNID, Reason: input.Reason, NetAmount: net,
			IsActive: true, CreatedBy: input.ActorID,
		}
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		ret.Lines = lines
		if err := tx.InsertReturnLines(ctx, id, lines); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := tx.Apply(ctx, inventory.Movement{
				ItemID:        l.ItemID,
				StoreID:       input.StoreID,
				Type:          inventory.TypePurchaseReturn,
				Quantity:      -l.Quantity,
				ReferenceType: inventory.RefPurchaseReturn,
				ReferenceID:   id,
				Note:          ret.Number,
				ActorID:       input.ActorID,
			}); err != nil {
				return err
			}
		}
		created = ret
		return nil
	})
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.bump(ctx)
	s.record(ctx, input.ActorID, "PURCHASE_RETURN_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// DeletePurchaseReturn soft-deletes a return and restores its stock.
func (s *Service) DeletePurchaseReturn(ctx context.Context, id int64, actorID int64) error {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return err
	}
	if !ret.IsActive {
		return ErrReturnNotFound
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteReturn(ctx, id); err != nil {
			return err
		}
		return tx.Reverse(ctx, inventory.RefPurchaseReturn, id, actorID, fmt.Sprintf("reversal of %s", ret.Number))
	})
	if err != nil {
		return err
	}
	s.bump(ctx)
	s.record(ctx, actorID, "PURCHASE_RETURN_DELETE", id, map[string]any{"number": ret.Number})
	return nil
}

// GetPurchaseReturn loads a return with lines.
func (s *Service) GetPurchaseReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if !ret.IsActive {
		return PurchaseReturn{}, ErrReturnNotFound
	}
	return ret, nil
}

// ListPurchaseReturns pages return headers.
func (s *Service) ListPurchaseReturns(ctx context.Context, f ListFilter) ([]PurchaseReturn, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.ListReturns(ctx, f)
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
		Entity:   "procurement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
