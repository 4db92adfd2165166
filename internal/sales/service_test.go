package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type balanceKey struct {
	itemID  int64
	storeID int64
}

// memRepo is an in-memory RepositoryPort for the service tests.
// beforeTx, when set, runs once at the start of the next WithTx and
// stands in for a concurrent transaction that committed first.
type memRepo struct {
	sales        map[int64]*Sale
	returns      map[int64]*SalesReturn
	quotations   map[int64]*Quotation
	balances     map[balanceKey]float64
	transactions []inventory.Transaction
	storeCodes   map[int64]string
	nextID       int64
	counters     map[string]int64
	beforeTx     func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		sales:      make(map[int64]*Sale),
		returns:    make(map[int64]*SalesReturn),
		quotations: make(map[int64]*Quotation),
		balances:   make(map[balanceKey]float64),
		storeCodes: map[int64]string{1: "MAIN", 2: "WH2"},
		counters:   make(map[string]int64),
	}
}

func (m *memRepo) seed(itemID, storeID int64, qty float64) {
	m.balances[balanceKey{itemID, storeID}] = qty
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		hook := m.beforeTx
		m.beforeTx = nil
		hook()
	}
	sales := make(map[int64]*Sale, len(m.sales))
	for k, v := range m.sales {
		cp := *v
		sales[k] = &cp
	}
	rets := make(map[int64]*SalesReturn, len(m.returns))
	for k, v := range m.returns {
		cp := *v
		rets[k] = &cp
	}
	quotes := make(map[int64]*Quotation, len(m.quotations))
	for k, v := range m.quotations {
		cp := *v
		quotes[k] = &cp
	}
	balances := make(map[balanceKey]float64, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	txs := append([]inventory.Transaction(nil), m.transactions...)
	nextID := m.nextID

	if err := fn(ctx, m); err != nil {
		m.sales, m.returns, m.quotations = sales, rets, quotes
		m.balances, m.transactions, m.counters = balances, txs, counters
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memRepo) StoreCode(ctx context.Context, storeID int64) (string, error) {
	code, ok := m.storeCodes[storeID]
	if !ok {
		return "", fmt.Errorf("sales: store %d not found", storeID)
	}
	return code, nil
}

func (m *memRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	m.counters[string(docType)]++
	return fmt.Sprintf("%s-%06d", docType, m.counters[string(docType)]), nil
}

func (m *memRepo) NextScopedNumber(ctx context.Context, docType docnum.DocType, scope string) (string, error) {
	key := string(docType) + ":" + scope
	if m.counters[key] == 0 {
		m.counters[key] = 1000
	}
	m.counters[key]++
	return fmt.Sprintf("%s-INV-%d", scope, m.counters[key]), nil
}

func (m *memRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	m.nextID++
	sale.ID = m.nextID
	sale.CreatedAt = time.Now()
	m.sales[sale.ID] = &sale
	return sale.ID, nil
}

func (m *memRepo) InsertSaleLines(ctx context.Context, saleID int64, lines []SaleLine) error {
	m.sales[saleID].Lines = lines
	return nil
}

func (m *memRepo) SoftDeleteSale(ctx context.Context, id int64) error {
	s, ok := m.sales[id]
	if !ok || !s.IsActive {
		return ErrSaleNotFound
	}
	s.IsActive = false
	return nil
}

func (m *memRepo) InsertReturn(ctx context.Context, ret SalesReturn) (int64, error) {
	m.nextID++
	ret.ID = m.nextID
	ret.CreatedAt = time.Now()
	m.returns[ret.ID] = &ret
	return ret.ID, nil
}

func (m *memRepo) InsertReturnLines(ctx context.Context, returnID int64, lines []SalesReturnLine) error {
	m.returns[returnID].Lines = lines
	return nil
}

func (m *memRepo) SoftDeleteReturn(ctx context.Context, id int64) error {
	ret, ok := m.returns[id]
	if !ok || !ret.IsActive {
		return ErrReturnNotFound
	}
	ret.IsActive = false
	return nil
}

func (m *memRepo) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	m.nextID++
	q.ID = m.nextID
	q.CreatedAt = time.Now()
	m.quotations[q.ID] = &q
	return q.ID, nil
}

func (m *memRepo) InsertQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error {
	m.quotations[quotationID].Lines = lines
	return nil
}

func (m *memRepo) UpdateQuotationStatus(ctx context.Context, id int64, from, to docflow.Status, saleID *int64) error {
	q, ok := m.quotations[id]
	if !ok || !q.IsActive {
		return ErrQuotationNotFound
	}
	if q.Status != from {
		return fmt.Errorf("%w: quotation %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	q.Status = to
	if saleID != nil {
		q.SaleID = saleID
	}
	return nil
}

func (m *memRepo) SoftDeleteQuotation(ctx context.Context, id int64) error {
	q, ok := m.quotations[id]
	if !ok || !q.IsActive {
		return ErrQuotationNotFound
	}
	q.IsActive = false
	return nil
}

func (m *memRepo) Apply(ctx context.Context, mv inventory.Movement) (inventory.Balance, error) {
	key := balanceKey{mv.ItemID, mv.StoreID}
	if m.balances[key]+mv.Quantity < -1e-9 {
		return inventory.Balance{}, inventory.ErrInsufficientStock
	}
	m.balances[key] += mv.Quantity
	m.transactions = append(m.transactions, inventory.Transaction{
		ItemID: mv.ItemID, StoreID: mv.StoreID, Type: mv.Type, Quantity: mv.Quantity,
		ReferenceType: mv.ReferenceType, ReferenceID: mv.ReferenceID,
	})
	return inventory.Balance{ItemID: mv.ItemID, StoreID: mv.StoreID, QtyOnHand: m.balances[key]}, nil
}

func (m *memRepo) Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error {
	var inverses []inventory.Movement
	for _, t := range m.transactions {
		if t.ReferenceType != refType || t.ReferenceID != refID {
			continue
		}
		rt, err := inventory.ReversalType(t.Type)
		if err != nil {
			return err
		}
		inverses = append(inverses, inventory.Movement{
			ItemID: t.ItemID, StoreID: t.StoreID, Type: rt, Quantity: -t.Quantity,
			ReferenceType: refType, ReferenceID: refID,
		})
	}
	for _, mv := range inverses {
		if _, err := m.Apply(ctx, mv); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepo) GetSale(ctx context.Context, id int64) (Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return *s, nil
}

func (m *memRepo) ListSales(ctx context.Context, f ListFilter) ([]Sale, int, error) {
	var out []Sale
	for _, s := range m.sales {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for _, ret := range m.returns {
		if ret.SaleID != saleID || !ret.IsActive {
			continue
		}
		for _, l := range ret.Lines {
			out[l.ItemID] += l.Quantity
		}
	}
	return out, nil
}

func (m *memRepo) GetReturn(ctx context.Context, id int64) (SalesReturn, error) {
	ret, ok := m.returns[id]
	if !ok {
		return SalesReturn{}, ErrReturnNotFound
	}
	return *ret, nil
}

func (m *memRepo) ListReturns(ctx context.Context, f ListFilter) ([]SalesReturn, int, error) {
	var out []SalesReturn
	for _, ret := range m.returns {
		if ret.IsActive {
			out = append(out, *ret)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	return *q, nil
}

func (m *memRepo) ListQuotations(ctx context.Context, f ListFilter) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range m.quotations {
		if q.IsActive {
			out = append(out, *q)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) rowsFor(refType string, refID int64) []inventory.Transaction {
	var out []inventory.Transaction
	for _, t := range m.transactions {
		if t.ReferenceType == refType && t.ReferenceID == refID {
			out = append(out, t)
		}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateSaleDecrementsStock(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 7)
	svc := NewService(repo, nil, nil)

	sale, err := svc.CreateSale(context.Background(), SaleInput{
		StoreID: 1, ActorID: 9,
		Lines: []SaleLineInput{{ItemID: 11, Quantity: 3, UnitPrice: dec("20")}},
	})
	require.NoError(t, err)
	require.Equal(t, "MAIN-INV-1001", sale.Number)
	require.True(t, sale.NetAmount.Equal(dec("60")))
	require.InDelta(t, 4, repo.balances[balanceKey{11, 1}], 1e-9)

	rows := repo.rowsFor(inventory.RefSale, sale.ID)
	require.Len(t, rows, 1)
	require.Equal(t, inventory.TypeSale, rows[0].Type)
	require.InDelta(t, -3, rows[0].Quantity, 1e-9)
}

func TestSaleNumbersScopedPerStore(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 50)
	repo.seed(11, 2, 50)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	first, err := svc.CreateSale(ctx, SaleInput{StoreID: 1, Lines: []SaleLineInput{{ItemID: 11, Quantity: 1, UnitPrice: dec("5")}}})
	require.NoError(t, err)
	second, err := svc.CreateSale(ctx, SaleInput{StoreID: 1, Lines: []SaleLineInput{{ItemID: 11, Quantity: 1, UnitPrice: dec("5")}}})
	require.NoError(t, err)
	other, err := svc.CreateSale(ctx, SaleInput{StoreID: 2, Lines: []SaleLineInput{{ItemID: 11, Quantity: 1, UnitPrice: dec("5")}}})
	require.NoError(t, err)

	require.Equal(t, "MAIN-INV-1001", first.Number)
	require.Equal(t, "MAIN-INV-1002", second.Number)
	require.Equal(t, "WH2-INV-1001", other.Number)
}

func TestCreateSaleInsufficientStockRejectsWholeSale(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 2)
	repo.seed(12, 1, 50)
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateSale(context.Background(), SaleInput{
		StoreID: 1,
		Lines: []SaleLineInput{
			{ItemID: 12, Quantity: 1, UnitPrice: dec("5")},
			{ItemID: 11, Quantity: 3, UnitPrice: dec("20")},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Whole transaction rolled back, including the first line.
	require.Empty(t, repo.sales)
	require.Empty(t, repo.transactions)
	require.InDelta(t, 50, repo.balances[balanceKey{12, 1}], 1e-9)
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 7)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, SaleInput{
		StoreID: 1, ActorID: 9,
		Lines: []SaleLineInput{{ItemID: 11, Quantity: 3, UnitPrice: dec("20")}},
	})
	require.NoError(t, err)
	require.InDelta(t, 4, repo.balances[balanceKey{11, 1}], 1e-9)

	require.NoError(t, svc.DeleteSale(ctx, sale.ID, 9))

	require.InDelta(t, 7, repo.balances[balanceKey{11, 1}], 1e-9)
	rows := repo.rowsFor(inventory.RefSale, sale.ID)
	require.Len(t, rows, 2)
	require.Equal(t, inventory.TypeSaleReturn, rows[1].Type)
	require.InDelta(t, 3, rows[1].Quantity, 1e-9)
}

func TestSalesReturnCappedBySoldQuantity(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, SaleInput{
		StoreID: 1,
		Lines:   []SaleLineInput{{ItemID: 11, Quantity: 4, UnitPrice: dec("25")}},
	})
	require.NoError(t, err)

	ret, err := svc.CreateReturn(ctx, SalesReturnInput{
		SaleID: sale.ID,
		Lines:  []SalesReturnLineInput{{ItemID: 11, Quantity: 3}},
	})
	require.NoError(t, err)
	require.True(t, ret.NetAmount.Equal(dec("75")))
	require.InDelta(t, 9, repo.balances[balanceKey{11, 1}], 1e-9)

	// Only 1 remains returnable.
	_, err = svc.CreateReturn(ctx, SalesReturnInput{
		SaleID: sale.ID,
		Lines:  []SalesReturnLineInput{{ItemID: 11, Quantity: 2}},
	})
	require.ErrorIs(t, err, ErrReturnExceedsSale)
}

func TestQuotationLifecycleConvertsToSale(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	q, err := svc.CreateQuotation(ctx, QuotationInput{
		StoreID: 1,
		Lines:   []SaleLineInput{{ItemID: 11, Quantity: 2, UnitPrice: dec("30")}},
	})
	require.NoError(t, err)
	require.Equal(t, docflow.StatusPending, q.Status)
	require.True(t, q.NetAmount.Equal(dec("60")))
	require.Empty(t, repo.transactions)

	// pending -> converted is not allowed.
	_, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusConverted, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	q, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusApproved, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusApproved, q.Status)
	require.Empty(t, repo.transactions)

	q, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusConverted, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusConverted, q.Status)
	require.NotNil(t, q.SaleID)

	sale, err := repo.GetSale(ctx, *q.SaleID)
	require.NoError(t, err)
	require.True(t, sale.NetAmount.Equal(dec("60")))
	require.InDelta(t, 8, repo.balances[balanceKey{11, 1}], 1e-9)
}

func TestConcurrentConvertCreatesOneSale(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	q, err := svc.CreateQuotation(ctx, QuotationInput{
		StoreID: 1,
		Lines:   []SaleLineInput{{ItemID: 11, Quantity: 2, UnitPrice: dec("30")}},
	})
	require.NoError(t, err)
	_, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusApproved, 9)
	require.NoError(t, err)

	// A second convert request commits between this request's status
	// read and its transaction: it created the sale, moved the stock
	// and stamped the quotation converted. The compare-and-set must
	// reject this request so only one sale exists.
	repo.beforeTx = func() {
		repo.nextID++
		saleID := repo.nextID
		repo.sales[saleID] = &Sale{ID: saleID, Number: "MAIN-INV-1001", StoreID: 1, NetAmount: q.NetAmount, IsActive: true}
		quote := repo.quotations[q.ID]
		quote.Status = docflow.StatusConverted
		quote.SaleID = &saleID
		_, err := repo.Apply(ctx, inventory.Movement{
			ItemID: 11, StoreID: 1, Type: inventory.TypeSale, Quantity: -2,
			ReferenceType: inventory.RefSale, ReferenceID: saleID,
		})
		require.NoError(t, err)
	}

	_, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusConverted, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	// Exactly one sale and one stock decrement.
	require.Len(t, repo.sales, 1)
	require.InDelta(t, 8, repo.balances[balanceKey{11, 1}], 1e-9)
}

func TestQuotationConvertFailsOnInsufficientStock(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 1)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	q, err := svc.CreateQuotation(ctx, QuotationInput{
		StoreID: 1,
		Lines:   []SaleLineInput{{ItemID: 11, Quantity: 5, UnitPrice: dec("30")}},
	})
	require.NoError(t, err)

	_, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusApproved, 9)
	require.NoError(t, err)
	_, err = svc.TransitionQuotation(ctx, q.ID, docflow.StatusConverted, 9)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Rolled back: still approved, no sale created, stock untouched.
	stored, err := repo.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusApproved, stored.Status)
	require.Nil(t, stored.SaleID)
	require.InDelta(t, 1, repo.balances[balanceKey{11, 1}], 1e-9)
}
