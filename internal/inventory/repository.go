package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *Ledger
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, ledger *Ledger) *Repository {
	return &Repository{pool: pool, ledger: ledger}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	NextNumber(ctx context.Context, docType docnum.DocType) (string, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
	SoftDeleteAdjustment(ctx context.Context, id int64) error
	HasOpeningStock(ctx context.Context, itemID, storeID int64) (bool, error)
	Apply(ctx context.Context, m Movement) (Balance, error)
	Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error
}

type txRepo struct {
	tx     pgx.Tx
	ledger *Ledger
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: r.ledger})
	})
}

func (r *Repository) GetBalance(ctx context.Context, itemID, storeID int64) (Balance, error) {
	var b Balance
	err := r.pool.QueryRow(ctx,
		`SELECT item_id, store_id, quantity_on_hand, reserved_quantity, last_restock_at, updated_at
		 FROM stock_balances WHERE item_id = $1 AND store_id = $2`,
		itemID, storeID,
	).Scan(&b.ItemID, &b.StoreID, &b.QtyOnHand, &b.ReservedQty, &b.LastRestockAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

func (r *Repository) ListBalances(ctx context.Context, storeID int64, limit, offset int) ([]Balance, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_balances WHERE ($1 = 0 OR store_id = $1)`, storeID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT item_id, store_id, quantity_on_hand, reserved_quantity, last_restock_at, updated_at
		 FROM stock_balances
		 WHERE ($1 = 0 OR store_id = $1)
		 ORDER BY store_id, item_id
		 LIMIT $2 OFFSET $3`,
		storeID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.StoreID, &b.QtyOnHand, &b.ReservedQty, &b.LastRestockAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		balances = append(balances, b)
	}
	return balances, total, rows.Err()
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	conditions := "WHERE ($1 = 0 OR item_id = $1) AND ($2 = 0 OR store_id = $2)" +
		" AND ($3 = '' OR transaction_type = $3) AND ($4 = '' OR reference_type = $4) AND ($5 = 0 OR reference_id = $5)" +
		" AND ($6::timestamptz IS NULL OR created_at >= $6) AND ($7::timestamptz IS NULL OR created_at <= $7)"
	args := []any{filter.ItemID, filter.StoreID, string(filter.Type), filter.RefType, filter.RefID,
		nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM inventory_transactions "+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, item_id, store_id, transaction_type, quantity, batch_number, expiry_date,
		       reference_type, reference_id, note, created_by, created_at
		FROM inventory_transactions %s
		ORDER BY id DESC
		LIMIT $8 OFFSET $9`, conditions)
	rows, err := r.pool.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ItemID, &t.StoreID, &t.Type, &t.Quantity, &t.BatchNumber, &t.ExpiryDate,
			&t.ReferenceType, &t.ReferenceID, &t.Note, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

func (r *Repository) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	var a Adjustment
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, store_id, note, is_active, created_by, created_at FROM stock_adjustments WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Number, &a.StoreID, &a.Note, &a.IsActive, &a.CreatedBy, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return a, err
}

// StoreSummary aggregates stock per store for the cached summary view.
type StoreSummary struct {
	StoreID       int64   `json:"store_id"`
	ItemCount     int     `json:"item_count"`
	TotalOnHand   float64 `json:"total_on_hand"`
	TotalReserved float64 `json:"total_reserved"`
}

func (r *Repository) Summary(ctx context.Context, storeID int64) ([]StoreSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT store_id, COUNT(*), COALESCE(SUM(quantity_on_hand), 0), COALESCE(SUM(reserved_quantity), 0)
		FROM stock_balances
		WHERE ($1 = 0 OR store_id = $1)
		GROUP BY store_id
		ORDER BY store_id`,
		storeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoreSummary
	for rows.Next() {
		var s StoreSummary
		if err := rows.Scan(&s.StoreID, &s.ItemCount, &s.TotalOnHand, &s.TotalReserved); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Drift is one (item, store) pair whose balance disagrees with the
// signed sum of its ledger rows.
type Drift struct {
	ItemID    int64
	StoreID   int64
	OnHand    float64
	LedgerSum float64
}

// LedgerDrift reports pairs violating the balance-equals-ledger-sum
// invariant. With every write transactional this should stay empty; the
// nightly integrity job alerts when it is not.
func (r *Repository) LedgerDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.item_id, b.store_id, b.quantity_on_hand, COALESCE(t.total, 0)
		FROM stock_balances b
		LEFT JOIN (
			SELECT item_id, store_id, SUM(quantity) AS total
			FROM inventory_transactions
			GROUP BY item_id, store_id
		) t ON t.item_id = b.item_id AND t.store_id = b.store_id
		WHERE ABS(b.quantity_on_hand - COALESCE(t.total, 0)) > 0.0001`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ItemID, &d.StoreID, &d.OnHand, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	return docnum.New(r.tx).Next(ctx, docType)
}

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_adjustments (number, store_id, note, is_active, created_by, created_at)
		 VALUES ($1, $2, $3, TRUE, $4, NOW()) RETURNING id`,
		adj.Number, adj.StoreID, adj.Note, adj.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) SoftDeleteAdjustment(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_adjustments SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAdjustmentNotFound
	}
	return nil
}

// HasOpeningStock reports whether a pair is already seeded. The balance
// row is locked first so two concurrent loads for the same pair cannot
// both pass the check.
func (r *txRepo) HasOpeningStock(ctx context.Context, itemID, storeID int64) (bool, error) {
	var onHand float64
	err := r.tx.QueryRow(ctx,
		`SELECT quantity_on_hand FROM stock_balances WHERE item_id = $1 AND store_id = $2 FOR UPDATE`,
		itemID, storeID,
	).Scan(&onHand)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	var exists bool
	err = r.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_transactions WHERE item_id = $1 AND store_id = $2 AND transaction_type = 'opening_stock')`,
		itemID, storeID,
	).Scan(&exists)
	return exists, err
}

func (r *txRepo) Apply(ctx context.Context, m Movement) (Balance, error) {
	return r.ledger.Apply(ctx, r.tx, m)
}

func (r *txRepo) Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error {
	return r.ledger.Reverse(ctx, r.tx, refType, refID, actorID, note)
}

// ErrAdjustmentNotFound indicates a missing or inactive adjustment.
var ErrAdjustmentNotFound = errors.New("inventory: adjustment not found")

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
