package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/openings"
)

type memDoc struct {
	kind      DocKind
	partyType openings.PartyType
	partyID   int64
	number    string
	total     decimal.Decimal
}

// beforeTx, when set, runs once at the start of the next WithTx and
// stands in for a concurrent transaction that committed first.
type memRepo struct {
	payments    map[int64]*Payment
	allocations []Allocation
	docs        map[DocKind]map[int64]memDoc
	nextID      int64
	counter     int64
	beforeTx    func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments: make(map[int64]*Payment),
		docs: map[DocKind]map[int64]memDoc{
			DocSale: {},
			DocGRN:  {},
		},
	}
}

func (m *memRepo) seedSale(id, customerID int64, number, total string) {
	m.docs[DocSale][id] = memDoc{
		kind: DocSale, partyType: openings.PartyCustomer, partyID: customerID,
		number: number, total: dec(total),
	}
}

func (m *memRepo) seedGRN(id, supplierID int64, number, total string) {
	m.docs[DocGRN][id] = memDoc{
		kind: DocGRN, partyType: openings.PartySupplier, partyID: supplierID,
		number: number, total: dec(total),
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		hook := m.beforeTx
		m.beforeTx = nil
		hook()
	}
	payments := make(map[int64]*Payment, len(m.payments))
	for k, v := range m.payments {
		cp := *v
		payments[k] = &cp
	}
	allocs := append([]Allocation(nil), m.allocations...)
	nextID, counter := m.nextID, m.counter

	if err := fn(ctx, m); err != nil {
		m.payments, m.allocations = payments, allocs
		m.nextID, m.counter = nextID, counter
		return err
	}
	return nil
}

func (m *memRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	m.counter++
	return fmt.Sprintf("%s-%06d", docType, m.counter), nil
}

func (m *memRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	m.nextID++
	p.ID = m.nextID
	p.IsActive = true
	p.CreatedAt = time.Now()
	m.payments[p.ID] = &p
	return p.ID, nil
}

func (m *memRepo) InsertAllocations(ctx context.Context, paymentID int64, allocs []Allocation) error {
	for _, a := range allocs {
		a.PaymentID = paymentID
		m.allocations = append(m.allocations, a)
	}
	return nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	p, ok := m.payments[id]
	if !ok || !p.IsActive {
		return ErrNotFound
	}
	if p.Status != from {
		return fmt.Errorf("%w: payment %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	p.Status = to
	return nil
}

func (m *memRepo) SoftDeletePayment(ctx context.Context, id int64) error {
	p, ok := m.payments[id]
	if !ok || !p.IsActive {
		return ErrNotFound
	}
	p.IsActive = false
	return nil
}

func (m *memRepo) DocTotal(ctx context.Context, kind DocKind, docID int64, partyType openings.PartyType, partyID int64) (string, decimal.Decimal, error) {
	doc, ok := m.docs[kind][docID]
	if !ok || doc.partyType != partyType || doc.partyID != partyID {
		return "", decimal.Zero, fmt.Errorf("%w: %s %d", ErrBadDoc, kind, docID)
	}
	return doc.number, doc.total, nil
}

func (m *memRepo) AllocatedSum(ctx context.Context, kind DocKind, docID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range m.allocations {
		if a.DocKind != kind || a.DocID != docID {
			continue
		}
		p := m.payments[a.PaymentID]
		if p == nil || !p.IsActive || p.Status == docflow.StatusCancelled {
			continue
		}
		sum = sum.Add(a.Amount)
	}
	return sum, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	out := *p
	for _, a := range m.allocations {
		if a.PaymentID == id {
			out.Allocations = append(out.Allocations, a)
		}
	}
	return out, nil
}

func (m *memRepo) List(ctx context.Context, f ListFilter) ([]Payment, int, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) OutstandingDocs(ctx context.Context, partyType openings.PartyType, partyID int64) ([]OutstandingDoc, error) {
	var out []OutstandingDoc
	for _, docs := range m.docs {
		for id, doc := range docs {
			if doc.partyType != partyType || doc.partyID != partyID {
				continue
			}
			allocated, _ := m.AllocatedSum(ctx, doc.kind, id)
			out = append(out, OutstandingDoc{
				DocKind: doc.kind, DocID: id, Number: doc.number,
				Total: doc.total, Allocated: allocated,
				Outstanding: doc.total.Sub(allocated),
			})
		}
	}
	return out, nil
}

type fixedOpenings struct {
	amount decimal.Decimal
}

func (f fixedOpenings) Amount(ctx context.Context, partyType openings.PartyType, partyID int64) (decimal.Decimal, error) {
	return f.amount, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreatePaymentWithAllocations(t *testing.T) {
	repo := newMemRepo()
	repo.seedSale(10, 5, "MAIN-INV-1001", "300")
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("200"), Method: "cash",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("200")}},
	})
	require.NoError(t, err)
	require.Equal(t, "payment-000001", p.Number)
	require.Equal(t, docflow.StatusPending, p.Status)
	require.Len(t, p.Allocations, 1)
	require.True(t, p.Allocations[0].Amount.Equal(dec("200")))
}

func TestCreateRejectsAllocationsOverPaymentAmount(t *testing.T) {
	repo := newMemRepo()
	repo.seedSale(10, 5, "MAIN-INV-1001", "500")
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(context.Background(), Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("100"), Method: "cash",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("150")}},
	})
	require.ErrorIs(t, err, ErrOverAllocated)
	require.Empty(t, repo.payments)
}

func TestCreateRejectsAllocationOverDocOutstanding(t *testing.T) {
	repo := newMemRepo()
	repo.seedSale(10, 5, "MAIN-INV-1001", "300")
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("250"), Method: "cash",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("250")}},
	})
	require.NoError(t, err)

	// Only 50 remains outstanding on the invoice.
	_, err = svc.Create(ctx, Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("100"), Method: "cash",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("100")}},
	})
	require.ErrorIs(t, err, ErrOverAllocated)
	require.Len(t, repo.payments, 1)
	require.Len(t, repo.allocations, 1)
}

func TestCreateRejectsForeignDocument(t *testing.T) {
	repo := newMemRepo()
	repo.seedSale(10, 5, "MAIN-INV-1001", "300")
	svc := NewService(repo, nil, nil)

	// Invoice 10 belongs to customer 5, not customer 6.
	_, err := svc.Create(context.Background(), Input{
		PartyType: openings.PartyCustomer, PartyID: 6,
		Direction: DirectionIn, Amount: dec("50"), Method: "cash",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("50")}},
	})
	require.ErrorIs(t, err, ErrBadDoc)
	require.Empty(t, repo.payments)
}

func TestTransitionFollowsPaymentFlow(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Input{
		PartyType: openings.PartySupplier, PartyID: 3,
		Direction: DirectionOut, Amount: dec("80"), Method: "bank_transfer",
	})
	require.NoError(t, err)

	p, err = svc.Transition(ctx, p.ID, docflow.StatusPaid, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusPaid, p.Status)

	// paid is terminal.
	_, err = svc.Transition(ctx, p.ID, docflow.StatusCancelled, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)
}

func TestConcurrentTransitionRejected(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("40"), Method: "cash",
	})
	require.NoError(t, err)

	// A cancel commits between this request's status read and its
	// transaction; the compare-and-set must reject marking it paid.
	repo.beforeTx = func() {
		repo.payments[p.ID].Status = docflow.StatusCancelled
	}

	_, err = svc.Transition(ctx, p.ID, docflow.StatusPaid, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	stored, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusCancelled, stored.Status)
}

func TestDeletePaidPaymentRejected(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("40"), Method: "cash",
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, p.ID, docflow.StatusPaid, 9)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, p.ID, 9), ErrNotDeletable)
}

func TestCancelledPaymentFreesOutstanding(t *testing.T) {
	repo := newMemRepo()
	repo.seedSale(10, 5, "MAIN-INV-1001", "300")
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, Input{
		PartyType: openings.PartyCustomer, PartyID: 5,
		Direction: DirectionIn, Amount: dec("300"), Method: "card",
		Allocations: []AllocationInput{{DocKind: DocSale, DocID: 10, Amount: dec("300")}},
	})
	require.NoError(t, err)

	summary, err := svc.Outstanding(ctx, openings.PartyCustomer, 5)
	require.NoError(t, err)
	require.True(t, summary.Total.IsZero())

	_, err = svc.Transition(ctx, p.ID, docflow.StatusCancelled, 9)
	require.NoError(t, err)

	summary, err = svc.Outstanding(ctx, openings.PartyCustomer, 5)
	require.NoError(t, err)
	require.True(t, summary.Total.Equal(dec("300")))
}

func TestOutstandingIncludesOpeningBalance(t *testing.T) {
	repo := newMemRepo()
	repo.seedGRN(20, 3, "GRN-000001", "450")
	svc := NewService(repo, fixedOpenings{amount: dec("1000")}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{
		PartyType: openings.PartySupplier, PartyID: 3,
		Direction: DirectionOut, Amount: dec("450"), Method: "cheque",
		Allocations: []AllocationInput{{DocKind: DocGRN, DocID: 20, Amount: dec("150")}},
	})
	require.NoError(t, err)

	summary, err := svc.Outstanding(ctx, openings.PartySupplier, 3)
	require.NoError(t, err)
	require.True(t, summary.Opening.Equal(dec("1000")))
	require.Len(t, summary.Docs, 1)
	require.True(t, summary.Docs[0].Outstanding.Equal(dec("300")))
	require.True(t, summary.Total.Equal(dec("1300")))
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{PartyType: "vendor", PartyID: 1, Direction: DirectionIn, Amount: dec("10")})
	require.ErrorIs(t, err, openings.ErrBadParty)

	_, err = svc.Create(ctx, Input{PartyType: openings.PartyCustomer, PartyID: 1, Direction: "sideways", Amount: dec("10")})
	require.ErrorIs(t, err, ErrBadDirection)

	_, err = svc.Create(ctx, Input{PartyType: openings.PartyCustomer, PartyID: 1, Direction: DirectionIn, Amount: dec("0")})
	require.ErrorIs(t, err, ErrBadAmount)
}
