package procurement

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

// memRepo is an in-memory RepositoryPort for the service tests. Stock
// bookkeeping mirrors the ledger: balance map plus append-only rows.
// beforeTx, when set, runs once at the start of the next WithTx and
// stands in for a concurrent transaction that committed first.
type memRepo struct {
	grns         map[int64]*GRN
	returns      map[int64]*PurchaseReturn
	balances     map[balanceKey]float64
	transactions []inventory.Transaction
	nextID       int64
	counter      int64
	beforeTx     func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		grns:     make(map[int64]*GRN),
		returns:  make(map[int64]*PurchaseReturn),
		balances: make(map[balanceKey]float64),
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		hook := m.beforeTx
		m.beforeTx = nil
		hook()
	}
	balances := make(map[balanceKey]float64, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	txs := append([]inventory.Transaction(nil), m.transactions...)
	grns := make(map[int64]*GRN, len(m.grns))
	for k, v := range m.grns {
		cp := *v
		grns[k] = &cp
	}
	rets := make(map[int64]*PurchaseReturn, len(m.returns))
	for k, v := range m.returns {
		cp := *v
		rets[k] = &cp
	}
	nextID, counter := m.nextID, m.counter

	if err := fn(ctx, m); err != nil {
		m.balances, m.transactions, m.grns, m.returns = balances, txs, grns, rets
		m.nextID, m.counter = nextID, counter
		return err
	}
	return nil
}

func (m *memRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	m.counter++
	return fmt.Sprintf("%s-%06d", docType, m.counter), nil
}

func (m *memRepo) InsertGRN(ctx context.Context, grn GRN) (int64, error) {
	m.nextID++
	grn.ID = m.nextID
	grn.CreatedAt = time.Now()
	m.grns[grn.ID] = &grn
	return grn.ID, nil
}

func (m *memRepo) InsertGRNLines(ctx context.Context, grnID int64, lines []GRNLine) error {
	m.grns[grnID].Lines = lines
	return nil
}

func (m *memRepo) UpdateGRNStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	grn, ok := m.grns[id]
	if !ok || !grn.IsActive {
		return ErrGRNNotFound
	}
	if grn.Status != from {
		return fmt.Errorf("%w: grn %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	grn.Status = to
	return nil
}

func (m *memRepo) UpdateGRNHeader(ctx context.Context, id int64, patch GRNPatch) error {
	grn, ok := m.grns[id]
	if !ok || !grn.IsActive {
		return ErrGRNNotFound
	}
	if patch.InvoiceNumber != nil {
		grn.InvoiceNumber = *patch.InvoiceNumber
	}
	if patch.Note != nil {
		grn.Note = *patch.Note
	}
	return nil
}

func (m *memRepo) SoftDeleteGRN(ctx context.Context, id int64) error {
	grn, ok := m.grns[id]
	if !ok || !grn.IsActive {
		return ErrGRNNotFound
	}
	grn.IsActive = false
	return nil
}

func (m *memRepo) InsertReturn(ctx context.Context, ret PurchaseReturn) (int64, error) {
	m.nextID++
	ret.ID = m.nextID
	ret.CreatedAt = time.Now()
	m.returns[ret.ID] = &ret
	return ret.ID, nil
}

func (m *memRepo) InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error {
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

func (m *memRepo) GetGRN(ctx context.Context, id int64) (GRN, error) {
	grn, ok := m.grns[id]
	if !ok {
		return GRN{}, ErrGRNNotFound
	}
	return *grn, nil
}

func (m *memRepo) ListGRNs(ctx context.Context, f ListFilter) ([]GRN, int, error) {
	var out []GRN
	for _, g := range m.grns {
		if g.IsActive {
			out = append(out, *g)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	ret, ok := m.returns[id]
	if !ok {
		return PurchaseReturn{}, ErrReturnNotFound
	}
	return *ret, nil
}

func (m *memRepo) ListReturns(ctx context.Context, f ListFilter) ([]PurchaseReturn, int, error) {
	var out []PurchaseReturn
	for _, ret := range m.returns {
		if ret.IsActive {
			out = append(out, *ret)
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

func TestCreateGRNReceivedImmediately(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// One line: qty 5 at 100 with 10% discount -> total 450.
	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2, Receive: true, ActorID: 9,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 5, UnitCost: dec("100"), DiscountPct: dec("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, docflow.StatusReceived, grn.Status)
	require.Equal(t, "grn-000001", grn.Number)
	require.True(t, grn.NetAmount.Equal(dec("450")), "net %s", grn.NetAmount)
	require.True(t, grn.Subtotal.Equal(dec("500")), "subtotal %s", grn.Subtotal)
	require.True(t, grn.DiscountAmount.Equal(dec("50")), "discount %s", grn.DiscountAmount)

	rows := repo.rowsFor(inventory.RefGRN, grn.ID)
	require.Len(t, rows, 1)
	require.Equal(t, inventory.TypeGRN, rows[0].Type)
	require.InDelta(t, 5, rows[0].Quantity, 1e-9)
	require.InDelta(t, 5, repo.balances[balanceKey{11, 2}], 1e-9)
}

func TestCreateGRNDraftHasNoStockEffect(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	grn, err := svc.CreateGRN(context.Background(), GRNInput{
		SupplierID: 1, StoreID: 2,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 10, UnitCost: dec("7")}},
	})
	require.NoError(t, err)
	require.Equal(t, docflow.StatusDraft, grn.Status)
	require.Empty(t, repo.transactions)
	require.Zero(t, repo.balances[balanceKey{11, 2}])
}

func TestReceiveDraftPostsStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 10, UnitCost: dec("7")}},
	})
	require.NoError(t, err)

	updated, err := svc.Transition(ctx, grn.ID, docflow.StatusReceived, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusReceived, updated.Status)
	require.InDelta(t, 10, repo.balances[balanceKey{11, 2}], 1e-9)
	require.Len(t, repo.rowsFor(inventory.RefGRN, grn.ID), 1)
}

func TestConcurrentReceivePostsStockOnce(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 10, UnitCost: dec("7")}},
	})
	require.NoError(t, err)

	// A second receive request commits between this request's status
	// read and its transaction. The compare-and-set must reject this
	// request so the stock is not posted twice.
	repo.beforeTx = func() {
		g := repo.grns[grn.ID]
		g.Status = docflow.StatusReceived
		_, err := repo.Apply(ctx, inventory.Movement{
			ItemID: 11, StoreID: 2, Type: inventory.TypeGRN, Quantity: 10,
			ReferenceType: inventory.RefGRN, ReferenceID: grn.ID,
		})
		require.NoError(t, err)
	}

	_, err = svc.Transition(ctx, grn.ID, docflow.StatusReceived, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	require.InDelta(t, 10, repo.balances[balanceKey{11, 2}], 1e-9)
	require.Len(t, repo.rowsFor(inventory.RefGRN, grn.ID), 1)
}

func TestInvalidTransitionLeavesStateUntouched(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2, Receive: true,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 5, UnitCost: dec("10")}},
	})
	require.NoError(t, err)
	before := len(repo.transactions)

	// received is terminal: no further transitions.
	_, err = svc.Transition(ctx, grn.ID, docflow.StatusDraft, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)
	_, err = svc.Transition(ctx, grn.ID, docflow.StatusCancelled, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	stored, err := repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusReceived, stored.Status)
	require.Len(t, repo.transactions, before)
}

func TestDeleteReceivedGRNReversesStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2, Receive: true, ActorID: 9,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 10, UnitCost: dec("3")}},
	})
	require.NoError(t, err)
	require.InDelta(t, 10, repo.balances[balanceKey{11, 2}], 1e-9)

	require.NoError(t, svc.Delete(ctx, grn.ID, 9))

	require.InDelta(t, 0, repo.balances[balanceKey{11, 2}], 1e-9)
	rows := repo.rowsFor(inventory.RefGRN, grn.ID)
	require.Len(t, rows, 2)
	require.Equal(t, inventory.TypeGRNReversal, rows[1].Type)
	require.InDelta(t, -10, rows[1].Quantity, 1e-9)

	stored, err := repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
}

func TestUpdateAllowlistDraftOnly(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	draft, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 1, UnitCost: dec("1")}},
	})
	require.NoError(t, err)

	inv := "SUP-INV-77"
	updated, err := svc.Update(ctx, draft.ID, GRNPatch{InvoiceNumber: &inv}, 9)
	require.NoError(t, err)
	require.Equal(t, inv, updated.InvoiceNumber)

	received, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2, Receive: true,
		Lines: []GRNLineInput{{ItemID: 12, ReceivedQty: 1, UnitCost: dec("1")}},
	})
	require.NoError(t, err)

	_, err = svc.Update(ctx, received.ID, GRNPatch{InvoiceNumber: &inv}, 9)
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestPurchaseReturnDecrementsStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	grn, err := svc.CreateGRN(ctx, GRNInput{
		SupplierID: 1, StoreID: 2, Receive: true,
		Lines: []GRNLineInput{{ItemID: 11, ReceivedQty: 10, UnitCost: dec("4")}},
	})
	require.NoError(t, err)

	ret, err := svc.CreatePurchaseReturn(ctx, PurchaseReturnInput{
		SupplierID: 1, StoreID: 2, GRNID: &grn.ID,
		Lines: []PurchaseReturnLineInput{{ItemID: 11, Quantity: 4, UnitCost: dec("4")}},
	})
	require.NoError(t, err)
	require.True(t, ret.NetAmount.Equal(dec("16")))
	require.InDelta(t, 6, repo.balances[balanceKey{11, 2}], 1e-9)

	rows := repo.rowsFor(inventory.RefPurchaseReturn, ret.ID)
	require.Len(t, rows, 1)
	require.Equal(t, inventory.TypePurchaseReturn, rows[0].Type)
	require.InDelta(t, -4, rows[0].Quantity, 1e-9)

	// Deleting the return restores the stock as an adjustment, not a
	// fresh supplier receipt.
	require.NoError(t, svc.DeletePurchaseReturn(ctx, ret.ID, 9))
	require.InDelta(t, 10, repo.balances[balanceKey{11, 2}], 1e-9)
	rows = repo.rowsFor(inventory.RefPurchaseReturn, ret.ID)
	require.Len(t, rows, 2)
	require.Equal(t, inventory.TypeAdjustmentIn, rows[1].Type)
	require.InDelta(t, 4, rows[1].Quantity, 1e-9)
}

func TestPurchaseReturnRejectsInsufficientStock(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.CreatePurchaseReturn(context.Background(), PurchaseReturnInput{
		SupplierID: 1, StoreID: 2,
		Lines: []PurchaseReturnLineInput{{ItemID: 11, Quantity: 4, UnitCost: dec("4")}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Empty(t, repo.returns)
	require.Empty(t, repo.transactions)
}
