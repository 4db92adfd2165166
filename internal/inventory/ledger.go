package inventory

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the pgx surface the ledger needs. Both pgxpool.Pool and
// pgx.Tx satisfy it, so document repositories can apply movements
// inside their own transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger applies stock movements: one atomic balance increment plus one
// immutable transaction row, always on the caller's transaction. It is
// the only code that writes stock_balances or inventory_transactions.
type Ledger struct {
	allowNegative bool
}

// NewLedger constructs a Ledger.
func NewLedger(allowNegative bool) *Ledger {
	return &Ledger{allowNegative: allowNegative}
}

// Apply posts a single movement and returns the resulting balance.
func (l *Ledger) Apply(ctx context.Context, q Executor, m Movement) (Balance, error) {
	if math.Abs(m.Quantity) < 1e-9 {
		return Balance{}, ErrInvalidQuantity
	}
	if m.ItemID == 0 || m.StoreID == 0 {
		return Balance{}, fmt.Errorf("%w: item and store required", ErrInvalidQuantity)
	}

	// Lock the pair first so the negative-stock check and the increment
	// cannot interleave with a concurrent movement.
	var onHand, reserved float64
	err := q.QueryRow(ctx,
		`SELECT quantity_on_hand, reserved_quantity FROM stock_balances WHERE item_id = $1 AND store_id = $2 FOR UPDATE`,
		m.ItemID, m.StoreID,
	).Scan(&onHand, &reserved)
	if err != nil && err != pgx.ErrNoRows {
		return Balance{}, fmt.Errorf("inventory: lock balance: %w", err)
	}

	newQty := onHand + m.Quantity
	if !l.allowNegative && newQty < -1e-9 {
		return Balance{}, fmt.Errorf("%w: item %d store %d has %.2f, requested %.2f",
			ErrInsufficientStock, m.ItemID, m.StoreID, onHand, -m.Quantity)
	}

	var bal Balance
	err = q.QueryRow(ctx, `
		INSERT INTO stock_balances (item_id, store_id, quantity_on_hand, last_restock_at, updated_at)
		VALUES ($1, $2, $3, CASE WHEN $4 THEN NOW() END, NOW())
		ON CONFLICT (item_id, store_id) DO UPDATE SET
			quantity_on_hand = stock_balances.quantity_on_hand + EXCLUDED.quantity_on_hand,
			last_restock_at  = CASE WHEN $4 THEN NOW() ELSE stock_balances.last_restock_at END,
			updated_at       = NOW()
		RETURNING item_id, store_id, quantity_on_hand, reserved_quantity, last_restock_at, updated_at`,
		m.ItemID, m.StoreID, m.Quantity, m.Type.restocks(),
	).Scan(&bal.ItemID, &bal.StoreID, &bal.QtyOnHand, &bal.ReservedQty, &bal.LastRestockAt, &bal.UpdatedAt)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: upsert balance: %w", err)
	}

	if err := l.insertTransaction(ctx, q, m); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// ApplyAll posts movements in order, failing on the first violation.
func (l *Ledger) ApplyAll(ctx context.Context, q Executor, movements []Movement) error {
	for _, m := range movements {
		if _, err := l.Apply(ctx, q, m); err != nil {
			return err
		}
	}
	return nil
}

// Reverse undoes every ledger row written for a reference by emitting
// inverse transactions. Original rows stay untouched.
func (l *Ledger) Reverse(ctx context.Context, q Executor, refType string, refID int64, actorID int64, note string) error {
	rows, err := q.Query(ctx,
		`SELECT item_id, store_id, transaction_type, quantity, batch_number, expiry_date
		 FROM inventory_transactions WHERE reference_type = $1 AND reference_id = $2
		 ORDER BY id`,
		refType, refID,
	)
	if err != nil {
		return fmt.Errorf("inventory: load reference ledger: %w", err)
	}
	defer rows.Close()

	var inverses []Movement
	for rows.Next() {
		var m Movement
		var txType TransactionType
		if err := rows.Scan(&m.ItemID, &m.StoreID, &txType, &m.Quantity, &m.BatchNumber, &m.ExpiryDate); err != nil {
			return err
		}
		rt, err := ReversalType(txType)
		if err != nil {
			return err
		}
		m.Type = rt
		m.Quantity = -m.Quantity
		m.ReferenceType = refType
		m.ReferenceID = refID
		m.Note = note
		m.ActorID = actorID
		inverses = append(inverses, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return l.ApplyAll(ctx, q, inverses)
}

// Reserve increases the reserved quantity at a store, used while a
// dispatch note is in flight. Reservations never exceed on-hand stock
// unless negative stock is allowed.
func (l *Ledger) Reserve(ctx context.Context, q Executor, itemID, storeID int64, qty float64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	var onHand, reserved float64
	err := q.QueryRow(ctx,
		`SELECT quantity_on_hand, reserved_quantity FROM stock_balances WHERE item_id = $1 AND store_id = $2 FOR UPDATE`,
		itemID, storeID,
	).Scan(&onHand, &reserved)
	if err == pgx.ErrNoRows {
		return ErrBalanceNotFound
	}
	if err != nil {
		return err
	}
	if !l.allowNegative && reserved+qty > onHand+1e-9 {
		return fmt.Errorf("%w: item %d store %d has %.2f free, requested %.2f",
			ErrInsufficientStock, itemID, storeID, onHand-reserved, qty)
	}
	_, err = q.Exec(ctx,
		`UPDATE stock_balances SET reserved_quantity = reserved_quantity + $3, updated_at = NOW() WHERE item_id = $1 AND store_id = $2`,
		itemID, storeID, qty,
	)
	return err
}

// Release drops a reservation, clamping at zero.
func (l *Ledger) Release(ctx context.Context, q Executor, itemID, storeID int64, qty float64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := q.Exec(ctx,
		`UPDATE stock_balances SET reserved_quantity = GREATEST(reserved_quantity - $3, 0), updated_at = NOW() WHERE item_id = $1 AND store_id = $2`,
		itemID, storeID, qty,
	)
	return err
}

func (l *Ledger) insertTransaction(ctx context.Context, q Executor, m Movement) error {
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_transactions
			(item_id, store_id, transaction_type, quantity, batch_number, expiry_date,
			 reference_type, reference_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		m.ItemID, m.StoreID, string(m.Type), m.Quantity, m.BatchNumber, m.ExpiryDate,
		m.ReferenceType, m.ReferenceID, m.Note, m.ActorID,
	)
	if err != nil {
		return fmt.Errorf("inventory: insert transaction: %w", err)
	}
	return nil
}
