package docnum

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// memCounters mimics the upsert-increment counter table.
type memCounters struct {
	values map[string]int64
}

type memRow struct {
	value int64
	err   error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int64); ok {
		*p = r.value
	}
	return nil
}

func (m *memCounters) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	docType, _ := args[0].(string)
	scope, _ := args[1].(string)
	seed, _ := args[2].(int64)
	key := docType + ":" + scope
	if _, ok := m.values[key]; !ok {
		m.values[key] = seed
	} else {
		m.values[key]++
	}
	return memRow{value: m.values[key]}
}

func newMemCounters() *memCounters {
	return &memCounters{values: make(map[string]int64)}
}

func TestSequentialNumbersIncrease(t *testing.T) {
	gen := New(newMemCounters())
	ctx := context.Background()

	first, err := gen.Next(ctx, TypeGRN)
	require.NoError(t, err)
	require.Equal(t, "GRN-000001", first)

	second, err := gen.Next(ctx, TypeGRN)
	require.NoError(t, err)
	require.Equal(t, "GRN-000002", second)

	third, err := gen.Next(ctx, TypeGRN)
	require.NoError(t, err)
	require.Equal(t, "GRN-000003", third)
}

func TestStoreScopedSaleNumbers(t *testing.T) {
	gen := New(newMemCounters())
	ctx := context.Background()

	n, err := gen.NextScoped(ctx, TypeSale, "MAIN")
	require.NoError(t, err)
	require.Equal(t, "MAIN-INV-1001", n)

	n, err = gen.NextScoped(ctx, TypeSale, "MAIN")
	require.NoError(t, err)
	require.Equal(t, "MAIN-INV-1002", n)

	// A different store keeps its own counter.
	n, err = gen.NextScoped(ctx, TypeSale, "WH2")
	require.NoError(t, err)
	require.Equal(t, "WH2-INV-1001", n)
}

func TestScopedFamilyRequiresScope(t *testing.T) {
	gen := New(newMemCounters())
	_, err := gen.Next(context.Background(), TypeSale)
	require.Error(t, err)
}

func TestUnknownDocType(t *testing.T) {
	gen := New(newMemCounters())
	_, err := gen.Next(context.Background(), DocType("bogus"))
	require.ErrorIs(t, err, ErrUnknownDocType)

	_, err = Format(DocType("bogus"), "", 1)
	require.ErrorIs(t, err, ErrUnknownDocType)
}

func TestSeeds(t *testing.T) {
	s, err := Seed(TypeSale)
	require.NoError(t, err)
	require.EqualValues(t, 1001, s)

	s, err = Seed(TypeDispatch)
	require.NoError(t, err)
	require.EqualValues(t, 1, s)
}
