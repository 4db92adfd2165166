package sales

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

// Repository persists sales documents in PostgreSQL.
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
	NextScopedNumber(ctx context.Context, docType docnum.DocType, scope string) (string, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleLines(ctx context.Context, saleID int64, lines []SaleLine) error
	SoftDeleteSale(ctx context.Context, id int64) error
	InsertReturn(ctx context.Context, ret SalesReturn) (int64, error)
	InsertReturnLines(ctx context.Context, returnID int64, lines []SalesReturnLine) error
	SoftDeleteReturn(ctx context.Context, id int64) error
	InsertQuotation(ctx context.Context, q Quotation) (int64, error)
	InsertQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error
	UpdateQuotationStatus(ctx context.Context, id int64, from, to docflow.Status, saleID *int64) error
	SoftDeleteQuotation(ctx context.Context, id int64) error
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

// StoreCode resolves the short code used in store-scoped numbering.
func (r *Repository) StoreCode(ctx context.Context, storeID int64) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, `SELECT code FROM stores WHERE id = $1 AND is_active`, storeID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("sales: store %d not found", storeID)
	}
	return code, err
}

// GetSale loads a sale with lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, customer_id, store_id, subtotal, discount_amount, net_amount,
		       note, is_active, created_by, created_at
		FROM sales WHERE id = $1`, id,
	).Scan(&s.ID, &s.Number, &s.CustomerID, &s.StoreID, &s.Subtotal, &s.DiscountAmount,
		&s.NetAmount, &s.Note, &s.IsActive, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, sale_id, item_id, quantity, unit_price, discount_percent, line_total
		FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.DiscountPct, &l.LineTotal); err != nil {
			return Sale{}, err
		}
		s.Lines = append(s.Lines, l)
	}
	return s, rows.Err()
}

// ListSales pages sale headers.
func (r *Repository) ListSales(ctx context.Context, f ListFilter) ([]Sale, int, error) {
	where := `WHERE is_active
		AND ($1 = 0 OR customer_id = $1) AND ($2 = 0 OR store_id = $2)
		AND ($3 = '' OR number ILIKE '%' || $3 || '%')`
	args := []any{f.CustomerID, f.StoreID, f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, customer_id, store_id, subtotal, discount_amount, net_amount,
		       note, is_active, created_by, created_at
		FROM sales %s ORDER BY id DESC LIMIT $4 OFFSET $5`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.Number, &s.CustomerID, &s.StoreID, &s.Subtotal, &s.DiscountAmount,
			&s.NetAmount, &s.Note, &s.IsActive, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ReturnedQuantities sums prior active returns per item for a sale.
func (r *Repository) ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.item_id, COALESCE(SUM(l.quantity), 0)
		FROM sales_return_lines l
		JOIN sales_returns sr ON sr.id = l.return_id
		WHERE sr.sale_id = $1 AND sr.is_active
		GROUP BY l.item_id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]float64)
	for rows.Next() {
		var itemID int64
		var qty float64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

// GetReturn loads a sales return with lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (SalesReturn, error) {
	var sr SalesReturn
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, sale_id, store_id, reason, net_amount, is_active, created_by, created_at
		FROM sales_returns WHERE id = $1`, id,
	).Scan(&sr.ID, &sr.Number, &sr.SaleID, &sr.StoreID, &sr.Reason, &sr.NetAmount,
		&sr.IsActive, &sr.CreatedBy, &sr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesReturn{}, ErrReturnNotFound
	}
	if err != nil {
		return SalesReturn{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, return_id, item_id, quantity, unit_price, line_total
		FROM sales_return_lines WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return SalesReturn{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesReturnLine
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return SalesReturn{}, err
		}
		sr.Lines = append(sr.Lines, l)
	}
	return sr, rows.Err()
}

// ListReturns pages sales return headers.
func (r *Repository) ListReturns(ctx context.Context, f ListFilter) ([]SalesReturn, int, error) {
	where := `WHERE is_active AND ($1 = 0 OR store_id = $1) AND ($2 = '' OR number ILIKE '%' || $2 || '%')`
	args := []any{f.StoreID, f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales_returns `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, sale_id, store_id, reason, net_amount, is_active, created_by, created_at
		FROM sales_returns %s ORDER BY id DESC LIMIT $3 OFFSET $4`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []SalesReturn
	for rows.Next() {
		var sr SalesReturn
		if err := rows.Scan(&sr.ID, &sr.Number, &sr.SaleID, &sr.StoreID, &sr.Reason, &sr.NetAmount,
			&sr.IsActive, &sr.CreatedBy, &sr.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, sr)
	}
	return out, total, rows.Err()
}

// GetQuotation loads a quotation with lines.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	var q Quotation
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, customer_id, store_id, status, subtotal, discount_amount, net_amount,
		       valid_until, note, sale_id, is_active, created_by, created_at, updated_at
		FROM quotations WHERE id = $1`, id,
	).Scan(&q.ID, &q.Number, &q.CustomerID, &q.StoreID, &q.Status, &q.Subtotal, &q.DiscountAmount,
		&q.NetAmount, &q.ValidUntil, &q.Note, &q.SaleID, &q.IsActive, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quotation{}, ErrQuotationNotFound
	}
	if err != nil {
		return Quotation{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, quotation_id, item_id, quantity, unit_price, discount_percent, line_total
		FROM quotation_lines WHERE quotation_id = $1 ORDER BY id`, id)
	if err != nil {
		return Quotation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.DiscountPct, &l.LineTotal); err != nil {
			return Quotation{}, err
		}
		q.Lines = append(q.Lines, l)
	}
	return q, rows.Err()
}

// ListQuotations pages quotation headers.
func (r *Repository) ListQuotations(ctx context.Context, f ListFilter) ([]Quotation, int, error) {
	where := `WHERE is_active
		AND ($1 = 0 OR customer_id = $1) AND ($2 = 0 OR store_id = $2)
		AND ($3 = '' OR status = $3)
		AND ($4 = '' OR number ILIKE '%' || $4 || '%')`
	args := []any{f.CustomerID, f.StoreID, string(f.Status), f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotations `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, customer_id, store_id, status, subtotal, discount_amount, net_amount,
		       valid_until, note, sale_id, is_active, created_by, created_at, updated_at
		FROM quotations %s ORDER BY id DESC LIMIT $5 OFFSET $6`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Quotation
	for rows.Next() {
		var q Quotation
		if err := rows.Scan(&q.ID, &q.Number, &q.CustomerID, &q.StoreID, &q.Status, &q.Subtotal,
			&q.DiscountAmount, &q.NetAmount, &q.ValidUntil, &q.Note, &q.SaleID, &q.IsActive,
			&q.CreatedBy, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	return docnum.New(r.tx).Next(ctx, docType)
}

func (r *txRepo) NextScopedNumber(ctx context.Context, docType docnum.DocType, scope string) (string, error) {
	return docnum.New(r.tx).NextScoped(ctx, docType, scope)
}

func (r *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales (number, customer_id, store_id, subtotal, discount_amount, net_amount,
			note, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, NOW())
		RETURNING id`,
		sale.Number, sale.CustomerID, sale.StoreID, sale.Subtotal, sale.DiscountAmount,
		sale.NetAmount, sale.Note, sale.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertSaleLines(ctx context.Context, saleID int64, lines []SaleLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO sale_lines (sale_id, item_id, quantity, unit_price, discount_percent, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			saleID, l.ItemID, l.Quantity, l.UnitPrice, l.DiscountPct, l.LineTotal,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) SoftDeleteSale(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (r *txRepo) InsertReturn(ctx context.Context, ret SalesReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO sales_returns (number, sale_id, store_id, reason, net_amount, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW())
		RETURNING id`,
		ret.Number, ret.SaleID, ret.StoreID, ret.Reason, ret.NetAmount, ret.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertReturnLines(ctx context.Context, returnID int64, lines []SalesReturnLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO sales_return_lines (return_id, item_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)`,
			returnID, l.ItemID, l.Quantity, l.UnitPrice, l.LineTotal,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) SoftDeleteReturn(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales_returns SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

func (r *txRepo) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO quotations (number, customer_id, store_id, status, subtotal, discount_amount,
			net_amount, valid_until, note, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, NOW(), NOW())
		RETURNING id`,
		q.Number, q.CustomerID, q.StoreID, string(q.Status), q.Subtotal, q.DiscountAmount,
		q.NetAmount, q.ValidUntil, q.Note, q.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO quotation_lines (quotation_id, item_id, quantity, unit_price, discount_percent, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			quotationID, l.ItemID, l.Quantity, l.UnitPrice, l.DiscountPct, l.LineTotal,
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateQuotationStatus is a compare-and-set on the status column so a
// quotation cannot be converted twice by racing requests.
func (r *txRepo) UpdateQuotationStatus(ctx context.Context, id int64, from, to docflow.Status, saleID *int64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE quotations SET status = $3, sale_id = COALESCE($4, sale_id), updated_at = NOW()
		WHERE id = $1 AND status = $2 AND is_active`,
		id, string(from), string(to), saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quotation %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *txRepo) SoftDeleteQuotation(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotations SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

func (r *txRepo) Apply(ctx context.Context, m inventory.Movement) (inventory.Balance, error) {
	return r.ledger.Apply(ctx, r.tx, m)
}

func (r *txRepo) Reverse(ctx context.Context, refType string, refID int64, actorID int64, note string) error {
	return r.ledger.Reverse(ctx, r.tx, refType, refID, actorID, note)
}
