package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type balanceKey struct {
	itemID  int64
	storeID int64
}

type memBalance struct {
	onHand   float64
	reserved float64
}

// memRepo is an in-memory RepositoryPort mirroring the transactional
// repository, reservations included. beforeTx, when set, runs once at
// the start of the next WithTx and stands in for a concurrent
// transaction that committed first.
type memRepo struct {
	notes        map[int64]*Note
	balances     map[balanceKey]*memBalance
	transactions []inventory.Transaction
	nextID       int64
	counter      int64
	beforeTx     func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		notes:    make(map[int64]*Note),
		balances: make(map[balanceKey]*memBalance),
	}
}

func (m *memRepo) seed(itemID, storeID int64, qty float64) {
	m.balances[balanceKey{itemID, storeID}] = &memBalance{onHand: qty}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		hook := m.beforeTx
		m.beforeTx = nil
		hook()
	}
	notes := make(map[int64]*Note, len(m.notes))
	for k, v := range m.notes {
		cp := *v
		notes[k] = &cp
	}
	balances := make(map[balanceKey]*memBalance, len(m.balances))
	for k, v := range m.balances {
		cp := *v
		balances[k] = &cp
	}
	txs := append([]inventory.Transaction(nil), m.transactions...)
	nextID, counter := m.nextID, m.counter

	if err := fn(ctx, m); err != nil {
		m.notes, m.balances, m.transactions = notes, balances, txs
		m.nextID, m.counter = nextID, counter
		return err
	}
	return nil
}

func (m *memRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	m.counter++
	return fmt.Sprintf("%s-%06d", docType, m.counter), nil
}

func (m *memRepo) InsertNote(ctx context.Context, note Note) (int64, error) {
	m.nextID++
	note.ID = m.nextID
	note.CreatedAt = time.Now()
	m.notes[note.ID] = &note
	return note.ID, nil
}

func (m *memRepo) InsertLines(ctx context.Context, noteID int64, lines []Line) error {
	m.notes[noteID].Lines = lines
	return nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	note, ok := m.notes[id]
	if !ok || !note.IsActive {
		return ErrNotFound
	}
	if note.Status != from {
		return fmt.Errorf("%w: note %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	note.Status = to
	return nil
}

func (m *memRepo) SoftDelete(ctx context.Context, id int64) error {
	note, ok := m.notes[id]
	if !ok || !note.IsActive {
		return ErrNotFound
	}
	note.IsActive = false
	return nil
}

func (m *memRepo) Apply(ctx context.Context, mv inventory.Movement) (inventory.Balance, error) {
	key := balanceKey{mv.ItemID, mv.StoreID}
	bal, ok := m.balances[key]
	if !ok {
		bal = &memBalance{}
		m.balances[key] = bal
	}
	if bal.onHand+mv.Quantity < -1e-9 {
		return inventory.Balance{}, inventory.ErrInsufficientStock
	}
	bal.onHand += mv.Quantity
	m.transactions = append(m.transactions, inventory.Transaction{
		ItemID: mv.ItemID, StoreID: mv.StoreID, Type: mv.Type, Quantity: mv.Quantity,
		ReferenceType: mv.ReferenceType, ReferenceID: mv.ReferenceID,
	})
	return inventory.Balance{ItemID: mv.ItemID, StoreID: mv.StoreID, QtyOnHand: bal.onHand}, nil
}

func (m *memRepo) Reserve(ctx context.Context, itemID, storeID int64, qty float64) error {
	bal, ok := m.balances[balanceKey{itemID, storeID}]
	if !ok {
		return inventory.ErrBalanceNotFound
	}
	if bal.reserved+qty > bal.onHand+1e-9 {
		return inventory.ErrInsufficientStock
	}
	bal.reserved += qty
	return nil
}

func (m *memRepo) Release(ctx context.Context, itemID, storeID int64, qty float64) error {
	if bal, ok := m.balances[balanceKey{itemID, storeID}]; ok {
		bal.reserved -= qty
		if bal.reserved < 0 {
			bal.reserved = 0
		}
	}
	return nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Note, error) {
	note, ok := m.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return *note, nil
}

func (m *memRepo) List(ctx context.Context, f ListFilter) ([]Note, int, error) {
	var out []Note
	for _, n := range m.notes {
		if n.IsActive {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) rowsFor(id int64) []inventory.Transaction {
	var out []inventory.Transaction
	for _, t := range m.transactions {
		if t.ReferenceType == inventory.RefDispatchNote && t.ReferenceID == id {
			out = append(out, t)
		}
	}
	return out
}

func newNote(t *testing.T, repo *memRepo, svc *Service, qty float64) Note {
	t.Helper()
	note, err := svc.Create(context.Background(), Input{
		FromStoreID: 1, ToStoreID: 2, ActorID: 9,
		Lines: []LineInput{{ItemID: 11, Quantity: qty}},
	})
	require.NoError(t, err)
	return note
}

func TestCreatePendingTouchesNoStock(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)

	note := newNote(t, repo, svc, 5)
	require.Equal(t, docflow.StatusPending, note.Status)
	require.Empty(t, repo.transactions)
	require.Zero(t, repo.balances[balanceKey{11, 1}].reserved)
}

func TestCreateRejectsSameStore(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	_, err := svc.Create(context.Background(), Input{
		FromStoreID: 1, ToStoreID: 1,
		Lines: []LineInput{{ItemID: 11, Quantity: 5}},
	})
	require.ErrorIs(t, err, ErrSameStore)
}

func TestDispatchReservesAtSource(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	updated, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusDispatched, updated.Status)

	bal := repo.balances[balanceKey{11, 1}]
	require.InDelta(t, 20, bal.onHand, 1e-9)
	require.InDelta(t, 5, bal.reserved, 1e-9)
	require.Empty(t, repo.transactions)
}

func TestDispatchRejectsOverReservation(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 3)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Rolled back: status stays pending, nothing reserved.
	stored, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusPending, stored.Status)
	require.Zero(t, repo.balances[balanceKey{11, 1}].reserved)
}

func TestReceiveMovesStockBetweenStores(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, note.ID, docflow.StatusReceived, 9)
	require.NoError(t, err)

	src := repo.balances[balanceKey{11, 1}]
	dst := repo.balances[balanceKey{11, 2}]
	require.InDelta(t, 15, src.onHand, 1e-9)
	require.Zero(t, src.reserved)
	require.InDelta(t, 5, dst.onHand, 1e-9)

	rows := repo.rowsFor(note.ID)
	require.Len(t, rows, 2)
	require.Equal(t, inventory.TypeDispatchOut, rows[0].Type)
	require.InDelta(t, -5, rows[0].Quantity, 1e-9)
	require.Equal(t, inventory.TypeDispatchIn, rows[1].Type)
	require.InDelta(t, 5, rows[1].Quantity, 1e-9)
}

func TestCancelPendingHasZeroLedgerRows(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	updated, err := svc.Transition(ctx, note.ID, docflow.StatusCancelled, 9)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusCancelled, updated.Status)
	require.Empty(t, repo.transactions)
}

func TestCancelAfterDispatchReleasesReservation(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, note.ID, docflow.StatusCancelled, 9)
	require.NoError(t, err)

	bal := repo.balances[balanceKey{11, 1}]
	require.InDelta(t, 20, bal.onHand, 1e-9)
	require.Zero(t, bal.reserved)
	require.Empty(t, repo.transactions)
}

func TestReceivedToDispatchedRejected(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, note.ID, docflow.StatusReceived, 9)
	require.NoError(t, err)
	rowsBefore := len(repo.transactions)

	_, err = svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	stored, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusReceived, stored.Status)
	require.Len(t, repo.transactions, rowsBefore)
}

func TestConcurrentReceiveMovesStockOnce(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)

	// A second receive request commits between this request's status
	// read and its transaction: it posts the movements and stamps the
	// note received. The compare-and-set must reject this request.
	repo.beforeTx = func() {
		n := repo.notes[note.ID]
		n.Status = docflow.StatusReceived
		for _, l := range n.Lines {
			_, err := repo.Apply(ctx, inventory.Movement{
				ItemID: l.ItemID, StoreID: n.FromStoreID,
				Type: inventory.TypeDispatchOut, Quantity: -l.Quantity,
				ReferenceType: inventory.RefDispatchNote, ReferenceID: n.ID,
			})
			require.NoError(t, err)
			_, err = repo.Apply(ctx, inventory.Movement{
				ItemID: l.ItemID, StoreID: n.ToStoreID,
				Type: inventory.TypeDispatchIn, Quantity: l.Quantity,
				ReferenceType: inventory.RefDispatchNote, ReferenceID: n.ID,
			})
			require.NoError(t, err)
		}
		require.NoError(t, repo.Release(ctx, 11, n.FromStoreID, 5))
	}

	_, err = svc.Transition(ctx, note.ID, docflow.StatusReceived, 9)
	require.ErrorIs(t, err, docflow.ErrInvalidTransition)

	// Stock moved exactly once.
	require.InDelta(t, 15, repo.balances[balanceKey{11, 1}].onHand, 1e-9)
	require.InDelta(t, 5, repo.balances[balanceKey{11, 2}].onHand, 1e-9)
	require.Len(t, repo.rowsFor(note.ID), 2)
}

func TestDeleteReceivedReversesBothSides(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, note.ID, docflow.StatusReceived, 9)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, note.ID, 9))
	require.InDelta(t, 20, repo.balances[balanceKey{11, 1}].onHand, 1e-9)
	require.InDelta(t, 0, repo.balances[balanceKey{11, 2}].onHand, 1e-9)
	require.Len(t, repo.rowsFor(note.ID), 4)
}

func TestDeleteInFlightRejected(t *testing.T) {
	repo := newMemRepo()
	repo.seed(11, 1, 20)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	note := newNote(t, repo, svc, 5)
	_, err := svc.Transition(ctx, note.ID, docflow.StatusDispatched, 9)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, note.ID, 9), ErrNotDeletable)
}
