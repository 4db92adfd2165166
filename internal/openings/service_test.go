package openings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	rows   map[int64]*Opening
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]*Opening)}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]*Opening, len(m.rows))
	for k, v := range m.rows {
		cp := *v
		snapshot[k] = &cp
	}
	nextID := m.nextID
	if err := fn(ctx, m); err != nil {
		m.rows, m.nextID = snapshot, nextID
		return err
	}
	return nil
}

func (m *memRepo) DeactivateOpenings(ctx context.Context, partyType PartyType, partyID int64) (int, error) {
	n := 0
	for _, o := range m.rows {
		if o.PartyType == partyType && o.PartyID == partyID && o.IsActive {
			o.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memRepo) InsertOpening(ctx context.Context, o Opening) (int64, error) {
	m.nextID++
	o.ID = m.nextID
	o.IsActive = true
	o.CreatedAt = time.Now()
	m.rows[o.ID] = &o
	return o.ID, nil
}

func (m *memRepo) GetActive(ctx context.Context, partyType PartyType, partyID int64) (Opening, error) {
	for _, o := range m.rows {
		if o.PartyType == partyType && o.PartyID == partyID && o.IsActive {
			return *o, nil
		}
	}
	return Opening{}, ErrNotFound
}

func (m *memRepo) ActiveAmount(ctx context.Context, partyType PartyType, partyID int64) (decimal.Decimal, error) {
	o, err := m.GetActive(ctx, partyType, partyID)
	if err != nil {
		return decimal.Zero, nil
	}
	return o.Amount, nil
}

func (m *memRepo) List(ctx context.Context, f ListFilter) ([]Opening, int, error) {
	var out []Opening
	for _, o := range m.rows {
		if f.PartyType != "" && o.PartyType != f.PartyType {
			continue
		}
		if f.PartyID != 0 && o.PartyID != f.PartyID {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSetRecordsSignedAmount(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)

	o, err := svc.Set(context.Background(), Input{
		PartyType: PartyCustomer, PartyID: 5, Amount: dec("-150.25"), ActorID: 9,
	})
	require.NoError(t, err)
	require.True(t, o.IsActive)
	require.True(t, o.Amount.Equal(dec("-150.25")))
}

func TestRepostReplacesActiveRow(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, Input{PartyType: PartySupplier, PartyID: 3, Amount: dec("1000")})
	require.NoError(t, err)
	o, err := svc.Set(ctx, Input{PartyType: PartySupplier, PartyID: 3, Amount: dec("750")})
	require.NoError(t, err)
	require.True(t, o.Amount.Equal(dec("750")))

	// History kept: two rows total, one active.
	all, total, err := svc.List(ctx, ListFilter{PartyType: PartySupplier, PartyID: 3})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	active := 0
	for _, row := range all {
		if row.IsActive {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func TestRepostIsScopedToParty(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, Input{PartyType: PartyCustomer, PartyID: 1, Amount: dec("100")})
	require.NoError(t, err)
	_, err = svc.Set(ctx, Input{PartyType: PartySupplier, PartyID: 1, Amount: dec("200")})
	require.NoError(t, err)

	cust, err := svc.Get(ctx, PartyCustomer, 1)
	require.NoError(t, err)
	require.True(t, cust.Amount.Equal(dec("100")))
	supp, err := svc.Get(ctx, PartySupplier, 1)
	require.NoError(t, err)
	require.True(t, supp.Amount.Equal(dec("200")))
}

func TestAmountZeroWhenUnset(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)

	amount, err := svc.Amount(context.Background(), PartyCustomer, 99)
	require.NoError(t, err)
	require.True(t, amount.IsZero())
}

func TestClear(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Set(ctx, Input{PartyType: PartyCustomer, PartyID: 5, Amount: dec("40")})
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, PartyCustomer, 5, 9))
	_, err = svc.Get(ctx, PartyCustomer, 5)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, svc.Clear(ctx, PartyCustomer, 5, 9), ErrNotFound)
}

func TestRejectsUnknownPartyType(t *testing.T) {
	svc := NewService(newMemRepo(), nil)

	_, err := svc.Set(context.Background(), Input{PartyType: "vendor", PartyID: 1})
	require.ErrorIs(t, err, ErrBadParty)
	_, err = svc.Get(context.Background(), "", 1)
	require.ErrorIs(t, err, ErrBadParty)
}
