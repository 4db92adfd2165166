package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists procurement documents in PostgreSQL. Stock writes
// go through the shared ledger on the same transaction as the document.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *inventory.Ledger
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, ledger *inventory.Ledger) *Repository {
	return &Repository{pool: pool, ledger: ledger}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	NextNumber(ctx context.Context, docType docnum.DocType) (string, error)
	InsertGRN(ctx context.Context, grn GRN) (int64, error)
	InsertGRNLines(ctx context.Context, grnID int64, lines []GRNLine) error
	UpdateGRNStatus(ctx context.Context, id int64, from, to docflow.Status) error
	UpdateGRNHeader(ctx context.Context, id int64, patch GRNPatch) error
	SoftDeleteGRN(ctx context.Context, id int64) error
	InsertReturn(ctx context.Context, ret PurchaseReturn) (int64, error)
	InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error
	SoftDeleteReturn(ctx context.Context, id int64) error
	Apply(ctx context.Context, m inventory.Movement) (inventory.Balance, error)
	Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error
}

type txRepo struct {
	tx     pgx.Tx
	ledger *inventory.Ledger
}

// WithTx runs the callback inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: r.ledger})
	})
}

// GetGRN loads a header with its lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GRN, error) {
	var g GRN
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, supplier_id, store_id, invoice_number, status, subtotal,
		       discount_amount, net_amount, note, is_active, created_by, created_at, updated_at
		FROM grns WHERE id = $1`, id,
	).Scan(&g.ID, &g.Number, &g.SupplierID, &g.StoreID, &g.InvoiceNumber, &g.Status, &g.Subtotal,
		&g.DiscountAmount, &g.NetAmount, &g.Note, &g.IsActive, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GRN{}, ErrGRNNotFound
	}
	if err != nil {
		return GRN{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, grn_id, item_id, received_qty, unit_cost, discount_percent, line_total, batch_number, expiry_date
		FROM grn_lines WHERE grn_id = $1 ORDER BY id`, id)
	if err != nil {
		return GRN{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.ItemID, &l.ReceivedQty, &l.UnitCost, &l.DiscountPct,
			&l.LineTotal, &l.BatchNumber, &l.ExpiryDate); err != nil {
			return GRN{}, err
		}
		g.Lines = append(g.Lines, l)
	}
	return g, rows.Err()
}

// ListGRNs pages headers without lines.
func (r *Repository) ListGRNs(ctx context.Context, f ListFilter) ([]GRN, int, error) {
	where := `WHERE is_active
		AND ($1 = 0 OR supplier_id = $1) AND ($2 = 0 OR store_id = $2)
		AND ($3 = '' OR status = $3)
		AND ($4 = '' OR number ILIKE '%' || $4 || '%' OR invoice_number ILIKE '%' || $4 || '%')`
	args := []any{f.SupplierID, f.StoreID, string(f.Status), f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM grns `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, supplier_id, store_id, invoice_number, status, subtotal,
		       discount_amount, net_amount, note, is_active, created_by, created_at, updated_at
		FROM grns %s ORDER BY id DESC LIMIT $5 OFFSET $6`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []GRN
	for rows.Next() {
		var g GRN
		if err := rows.Scan(&g.ID, &g.Number, &g.SupplierID, &g.StoreID, &g.InvoiceNumber, &g.Status,
			&g.Subtotal, &g.DiscountAmount, &g.NetAmount, &g.Note, &g.IsActive, &g.CreatedBy,
			&g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, g)
	}
	return out, total, rows.Err()
}

// GetReturn loads a purchase return with lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (PurchaseReturn, error) {
	var p PurchaseReturn
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, supplier_id, store_id, grn_id, reason, net_amount, is_active, created_by, created_at
		FROM purchase_returns WHERE id = $1`, id,
	).Scan(&p.ID, &p.Number, &p.SupplierID, &p.StoreID, &p.GRNID, &p.Reason, &p.NetAmount,
		&p.IsActive, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseReturn{}, ErrReturnNotFound
	}
	if err != nil {
		return PurchaseReturn{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, return_id, item_id, quantity, unit_cost, line_total
		FROM purchase_return_lines WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l PurchaseReturnLine
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.ItemID, &l.Quantity, &l.UnitCost, &l.LineTotal); err != nil {
			return PurchaseReturn{}, err
		}
		p.Lines = append(p.Lines, l)
	}
	return p, rows.Err()
}

// ListReturns pages purchase return headers.
func (r *Repository) ListReturns(ctx context.Context, f ListFilter) ([]PurchaseReturn, int, error) {
	where := `WHERE is_active
		AND ($1 = 0 OR supplier_id = $1) AND ($2 = 0 OR store_id = $2)
		AND ($3 = '' OR number ILIKE '%' || $3 || '%')`
	args := []any{f.SupplierID, f.StoreID, f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_returns `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, supplier_id, store_id, grn_id, reason, net_amount, is_active, created_by, created_at
		FROM purchase_returns %s ORDER BY id DESC LIMIT $4 OFFSET $5`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []PurchaseReturn
	for rows.Next() {
		var p PurchaseReturn
		if err := rows.Scan(&p.ID, &p.Number, &p.SupplierID, &p.StoreID, &p.GRNID, &p.Reason,
			&p.NetAmount, &p.IsActive, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	return docnum.New(r.tx).Next(ctx, docType)
}

func (r *txRepo) InsertGRN(ctx context.Context, grn GRN) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO grns (number, supplier_id, store_id, invoice_number, status, subtotal,
			discount_amount, net_amount, note, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, NOW(), NOW())
		RETURNING id`,
		grn.Number, grn.SupplierID, grn.StoreID, grn.InvoiceNumber, string(grn.Status),
		grn.Subtotal, grn.DiscountAmount, grn.NetAmount, grn.Note, grn.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertGRNLines(ctx context.Context, grnID int64, lines []GRNLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO grn_lines (grn_id, item_id, received_qty, unit_cost, discount_percent, line_total, batch_number, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			grnID, l.ItemID, l.ReceivedQty, l.UnitCost, l.DiscountPct, l.LineTotal, l.BatchNumber, l.ExpiryDate,
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateGRNStatus is a compare-and-set on the status column. A GRN
// received concurrently no longer matches from, so the losing request
// rolls back instead of posting its stock twice.
func (r *txRepo) UpdateGRNStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE grns SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2 AND is_active`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grn %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *txRepo) UpdateGRNHeader(ctx context.Context, id int64, patch GRNPatch) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE grns SET
			invoice_number = COALESCE($2, invoice_number),
			note           = COALESCE($3, note),
			updated_at     = NOW()
		WHERE id = $1 AND is_active`,
		id, patch.InvoiceNumber, patch.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGRNNotFound
	}
	return nil
}

func (r *txRepo) SoftDeleteGRN(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE grns SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGRNNotFound
	}
	return nil
}

func (r *txRepo) InsertReturn(ctx context.Context, ret PurchaseReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO purchase_returns (number, supplier_id, store_id, grn_id, reason, net_amount, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW())
		RETURNING id`,
		ret.Number, ret.SupplierID, ret.StoreID, ret.GRNID, ret.Reason, ret.NetAmount, ret.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO purchase_return_lines (return_id, item_id, quantity, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5)`,
			returnID, l.ItemID, l.Quantity, l.UnitCost, l.LineTotal,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) SoftDeleteReturn(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE purchase_returns SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

func (r *txRepo) Apply(ctx context.Context, m inventory.Movement) (inventory.Balance, error) {
	return r.ledger.Apply(ctx, r.tx, m)
}

func (r *txRepo) Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error {
	return r.ledger.Reverse(ctx, r.tx, refType, refID, actorID, note)
}
