package sales

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
	StoreCode(ctx context.Context, storeID int64) (string, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, f ListFilter) ([]Sale, int, error)
	ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]float64, error)
	GetReturn(ctx context.Context, id int64) (SalesReturn, error)
	ListReturns(ctx context.Context, f ListFilter) ([]SalesReturn, int, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	ListQuotations(ctx context.Context, f ListFilter) ([]Quotation, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockCachePort invalidates cached stock summaries after movements.
type StockCachePort interface {
	BumpCache(ctx context.Context)
}

// Service owns sales, sales returns and quotations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	stock StockCachePort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, stock StockCachePort) *Service {
	return &Service{repo: repo, audit: audit, stock: stock}
}

func buildPricedLines(inputs []SaleLineInput) ([]SaleLine, docmath.Totals, error) {
	if len(inputs) == 0 {
		return nil, docmath.Totals{}, ErrNoLines
	}
	lines := make([]SaleLine, 0, len(inputs))
	mlines := make([]docmath.Line, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == 0 || in.Quantity <= 0 || in.UnitPrice.IsNegative() {
			return nil, docmath.Totals{}, fmt.Errorf("%w: item %d", ErrBadLine, in.ItemID)
		}
		ml := docmath.Line{
			Quantity:    decimal.NewFromFloat(in.Quantity),
			UnitPrice:   in.UnitPrice,
			DiscountPct: in.DiscountPct,
		}
		net, err := docmath.LineNet(ml)
		if err != nil {
			return nil, docmath.Totals{}, fmt.Errorf("%w: item %d: %v", ErrBadLine, in.ItemID, err)
		}
		mlines = append(mlines, ml)
		lines = append(lines, SaleLine{
			ItemID: in.ItemID, Quantity: in.Quantity, UnitPrice: in.UnitPrice,
			DiscountPct: in.DiscountPct, LineTotal: net,
		})
	}
	totals, err := docmath.Sum(mlines)
	if err != nil {
		return nil, docmath.Totals{}, err
	}
	return lines, totals, nil
}

// CreateSale posts a sale: store-scoped invoice number, header, lines
// and one -qty sale ledger row per line, all in one transaction.
// Insufficient stock on any line rejects the whole sale.
func (s *Service) CreateSale(ctx context.Context, input SaleInput) (Sale, error) {
	if input.StoreID == 0 {
		return Sale{}, fmt.Errorf("%w: store required", ErrBadLine)
	}
	lines, totals, err := buildPricedLines(input.Lines)
	if err != nil {
		return Sale{}, err
	}
	storeCode, err := s.repo.StoreCode(ctx, input.StoreID)
	if err != nil {
		return Sale{}, err
	}

	var created Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextScopedNumber(ctx, docnum.TypeSale, storeCode)
		if err != nil {
			return err
		}
		sale := Sale{
			Number:         number,
			CustomerID:     input.CustomerID,
			StoreID:        input.StoreID,
			Subtotal:       totals.Subtotal,
			DiscountAmount: totals.Discount,
			NetAmount:      totals.Net,
			Note:           input.Note,
			IsActive:       true,
			CreatedBy:      input.ActorID,
		}
		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		sale.Lines = lines
		if err := tx.InsertSaleLines(ctx, id, lines); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := tx.Apply(ctx, inventory.Movement{
				ItemID:        l.ItemID,
				StoreID:       input.StoreID,
				Type:          inventory.TypeSale,
				Quantity:      -l.Quantity,
				ReferenceType: inventory.RefSale,
				ReferenceID:   id,
				Note:          sale.Number,
				ActorID:       input.ActorID,
			}); err != nil {
				return err
			}
		}
		created = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.bump(ctx)
	s.record(ctx, input.ActorID, "SALE_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// DeleteSale soft-deletes a sale and restores its stock with +qty
// sale_return ledger rows in the same transaction.
func (s *Service) DeleteSale(ctx context.Context, id int64, actorID int64) error {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}
	if !sale.IsActive {
		return ErrSaleNotFound
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteSale(ctx, id); err != nil {
			return err
		}
		return tx.Reverse(ctx, inventory.RefSale, id, actorID, fmt.Sprintf("reversal of %s", sale.Number))
	})
	if err != nil {
		return err
	}
	s.bump(ctx)
	s.record(ctx, actorID, "SALE_DELETE", id, map[string]any{"number": sale.Number})
	return nil
}

// GetSale loads a sale with lines.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if !sale.IsActive {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

// ListSales pages sale headers.
func (s *Service) ListSales(ctx context.Context, f ListFilter) ([]Sale, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.ListSales(ctx, f)
}

// CreateReturn posts a sales return against a sale. Quantities are
// capped by what the sale sold minus what earlier returns already took
// back; prices come from the sale lines.
func (s *Service) CreateReturn(ctx context.Context, input SalesReturnInput) (SalesReturn, error) {
	sale, err := s.repo.GetSale(ctx, input.SaleID)
	if err != nil {
		return SalesReturn{}, err
	}
	if !sale.IsActive {
		return SalesReturn{}, ErrSaleNotFound
	}
	if len(input.Lines) == 0 {
		return SalesReturn{}, ErrNoLines
	}

	sold := make(map[int64]float64, len(sale.Lines))
	price := make(map[int64]decimal.Decimal, len(sale.Lines))
	for _, l := range sale.Lines {
		sold[l.ItemID] += l.Quantity
		price[l.ItemID] = l.UnitPrice
	}
	returned, err := s.repo.ReturnedQuantities(ctx, input.SaleID)
	if err != nil {
		return SalesReturn{}, err
	}

	net := decimal.Zero
	lines := make([]SalesReturnLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.ItemID == 0 || in.Quantity <= 0 {
			return SalesReturn{}, fmt.Errorf("%w: item %d", ErrBadLine, in.ItemID)
		}
		remaining := sold[in.ItemID] - returned[in.ItemID]
		if in.Quantity > remaining+1e-9 {
			return SalesReturn{}, fmt.Errorf("%w: item %d sold %.2f, already returned %.2f",
				ErrReturnExceedsSale, in.ItemID, sold[in.ItemID], returned[in.ItemID])
		}
		total := decimal.NewFromFloat(in.Quantity).Mul(price[in.ItemID]).Round(2)
		net = net.Add(total)
		lines = append(lines, SalesReturnLine{
			ItemID: in.ItemID, Quantity: in.Quantity, UnitPrice: price[in.ItemID], LineTotal: total,
		})
	}

	var created SalesReturn
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypeSalesReturn)
		if err != nil {
			return err
		}
		ret := SalesReturn{
			Number: number, SaleID: input.SaleID, StoreID: sale.StoreID,
			Reason: input.Reason, NetAmount: net, IsActive: true, CreatedBy: input.ActorID,
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
				StoreID:       sale.StoreID,
				Type:          inventory.TypeSaleReturn,
				Quantity:      l.Quantity,
				ReferenceType: inventory.RefSalesReturn,
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
		return SalesReturn{}, err
	}
	s.bump(ctx)
	s.record(ctx, input.ActorID, "SALES_RETURN_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// DeleteReturn soft-deletes a sales return and takes the stock back out.
func (s *Service) DeleteReturn(ctx context.Context, id int64, actorID int64) error {
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
		return tx.Reverse(ctx, inventory.RefSalesReturn, id, actorID, fmt.Sprintf("reversal of %s", ret.Number))
	})
	if err != nil {
		return err
	}
	s.bump(ctx)
	s.record(ctx, actorID, "SALES_RETURN_DELETE", id, map[string]any{"number": ret.Number})
	return nil
}

// GetReturn loads a sales return with lines.
func (s *Service) GetReturn(ctx context.Context, id int64) (SalesReturn, error) {
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return SalesReturn{}, err
	}
	if !ret.IsActive {
		return SalesReturn{}, ErrReturnNotFound
	}
	return ret, nil
}

// ListReturns pages sales return headers.
func (s *Service) ListReturns(ctx context.Context, f ListFilter) ([]SalesReturn, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.ListReturns(ctx, f)
}

// CreateQuotation opens a pending quotation. No stock is touched.
func (s *Service) CreateQuotation(ctx context.Context, input QuotationInput) (Quotation, error) {
	if input.StoreID == 0 {
		return Quotation{}, fmt.Errorf("%w: store required", ErrBadLine)
	}
	saleLines, totals, err := buildPricedLines(input.Lines)
	if err != nil {
		return Quotation{}, err
	}
	lines := make([]QuotationLine, 0, len(saleLines))
	for _, l := range saleLines {
		lines = append(lines, QuotationLine{
			ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice,
			DiscountPct: l.DiscountPct, LineTotal: l.LineTotal,
		})
	}

	var created Quotation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docnum.TypeQuotation)
		if err != nil {
			return err
		}
		q := Quotation{
			Number:         number,
			CustomerID:     input.CustomerID,
			StoreID:        input.StoreID,
			Status:         docflow.StatusPending,
			Subtotal:       totals.Subtotal,
			DiscountAmount: totals.Discount,
			NetAmount:      totals.Net,
			ValidUntil:     input.ValidUntil,
			Note:           input.Note,
			IsActive:       true,
			CreatedBy:      input.ActorID,
		}
		id, err := tx.InsertQuotation(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		q.Lines = lines
		if err := tx.InsertQuotationLines(ctx, id, lines); err != nil {
			return err
		}
		created = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.record(ctx, input.ActorID, "QUOTATION_CREATE", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// TransitionQuotation moves a quotation along its workflow.
// approved -> converted creates the sale from the quoted lines.
func (s *Service) TransitionQuotation(ctx context.Context, id int64, target docflow.Status, actorID int64) (Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if !q.IsActive {
		return Quotation{}, ErrQuotationNotFound
	}
	if err := docflow.Quotation.Step(q.Status, target); err != nil {
		return Quotation{}, err
	}

	if target != docflow.StatusConverted {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateQuotationStatus(ctx, id, q.Status, target, nil)
		})
		if err != nil {
			return Quotation{}, err
		}
		q.Status = target
		s.record(ctx, actorID, "QUOTATION_TRANSITION", id, map[string]any{"number": q.Number, "status": string(target)})
		return q, nil
	}

	// Convert: build a sale from the quoted lines and post it in the
	// same transaction as the status change.
	storeCode, err := s.repo.StoreCode(ctx, q.StoreID)
	if err != nil {
		return Quotation{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextScopedNumber(ctx, docnum.TypeSale, storeCode)
		if err != nil {
			return err
		}
		sale := Sale{
			Number:         number,
			CustomerID:     q.CustomerID,
			StoreID:        q.StoreID,
			Subtotal:       q.Subtotal,
			DiscountAmount: q.DiscountAmount,
			NetAmount:      q.NetAmount,
			Note:           fmt.Sprintf("converted from %s", q.Number),
			IsActive:       true,
			CreatedBy:      actorID,
		}
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		saleLines := make([]SaleLine, 0, len(q.Lines))
		for _, l := range q.Lines {
			saleLines = append(saleLines, SaleLine{
				ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice,
				DiscountPct: l.DiscountPct, LineTotal: l.LineTotal,
			})
		}
		if err := tx.InsertSaleLines(ctx, saleID, saleLines); err != nil {
			return err
		}
		for _, l := range saleLines {
			if _, err := tx.Apply(ctx, inventory.Movement{
				ItemID:        l.ItemID,
				StoreID:       q.StoreID,
				Type:          inventory.TypeSale,
				Quantity:      -l.Quantity,
				ReferenceType: inventory.RefSale,
				ReferenceID:   saleID,
				Note:          sale.Number,
				ActorID:       actorID,
			}); err != nil {
				return err
			}
		}
		q.SaleID = &saleID
		return tx.UpdateQuotationStatus(ctx, id, q.Status, docflow.StatusConverted, &saleID)
	})
	if err != nil {
		return Quotation{}, err
	}
	s.bump(ctx)
	q.Status = docflow.StatusConverted
	s.record(ctx, actorID, "QUOTATION_CONVERT", id, map[string]any{"number": q.Number})
	return q, nil
}

// DeleteQuotation soft-deletes a quotation. Converted quotations keep
// their sale; only the offer document goes away.
func (s *Service) DeleteQuotation(ctx context.Context, id int64, actorID int64) error {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return err
	}
	if !q.IsActive {
		return ErrQuotationNotFound
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeleteQuotation(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "QUOTATION_DELETE", id, map[string]any{"number": q.Number})
	return nil
}

// GetQuotation loads a quotation with lines.
func (s *Service) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if !q.IsActive {
		return Quotation{}, ErrQuotationNotFound
	}
	return q, nil
}

// ListQuotations pages quotation headers.
func (s *Service) ListQuotations(ctx context.Context, f ListFilter) ([]Quotation, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.ListQuotations(ctx, f)
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
		Entity:   "sales",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
