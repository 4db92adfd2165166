package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/docnum"
	"github.com/meridian-erp/meridian-erp/internal/openings"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists payments and allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	NextNumber(ctx context.Context, docType docnum.DocType) (string, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	InsertAllocations(ctx context.Context, paymentID int64, allocs []Allocation) error
	UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error
	SoftDeletePayment(ctx context.Context, id int64) error
	DocTotal(ctx context.Context, kind DocKind, docID int64, partyType openings.PartyType, partyID int64) (string, decimal.Decimal, error)
	AllocatedSum(ctx context.Context, kind DocKind, docID int64) (decimal.Decimal, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs the callback inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads a payment with its allocations.
func (r *Repository) Get(ctx context.Context, id int64) (Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, party_type, party_id, direction, amount, method, paid_on,
		       note, status, is_active, created_by, created_at, updated_at
		FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.Number, &p.PartyType, &p.PartyID, &p.Direction, &p.Amount, &p.Method,
		&p.PaidOn, &p.Note, &p.Status, &p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, payment_id, doc_kind, doc_id, amount
		FROM payment_allocations WHERE payment_id = $1 ORDER BY id`, id)
	if err != nil {
		return Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.DocKind, &a.DocID, &a.Amount); err != nil {
			return Payment{}, err
		}
		p.Allocations = append(p.Allocations, a)
	}
	return p, rows.Err()
}

// List pages payment headers without allocations.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Payment, int, error) {
	where := `WHERE is_active
		AND ($1 = '' OR party_type = $1) AND ($2 = 0 OR party_id = $2)
		AND ($3 = '' OR direction = $3) AND ($4 = '' OR status = $4)
		AND ($5 = '' OR number ILIKE '%' || $5 || '%')`
	args := []any{string(f.PartyType), f.PartyID, string(f.Direction), string(f.Status), f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, party_type, party_id, direction, amount, method, paid_on,
		       note, status, is_active, created_by, created_at, updated_at
		FROM payments %s ORDER BY id DESC LIMIT $6 OFFSET $7`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.PartyType, &p.PartyID, &p.Direction, &p.Amount,
			&p.Method, &p.PaidOn, &p.Note, &p.Status, &p.IsActive, &p.CreatedBy,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// OutstandingDocs lists the party's open documents with their allocated
// sums. Customers owe against sales invoices; suppliers are owed
// against received GRNs. Cancelled payments never count as allocated.
func (r *Repository) OutstandingDocs(ctx context.Context, partyType openings.PartyType, partyID int64) ([]OutstandingDoc, error) {
	var query string
	switch partyType {
	case openings.PartyCustomer:
		query = `
			SELECT 'sale', s.id, s.number, s.net_amount,
			       COALESCE((SELECT SUM(a.amount) FROM payment_allocations a
			                 JOIN payments p ON p.id = a.payment_id
			                 WHERE a.doc_kind = 'sale' AND a.doc_id = s.id
			                   AND p.is_active AND p.status <> 'cancelled'), 0)
			FROM sales s
			WHERE s.is_active AND s.customer_id = $1
			ORDER BY s.id`
	case openings.PartySupplier:
		query = `
			SELECT 'grn', g.id, g.number, g.net_amount,
			       COALESCE((SELECT SUM(a.amount) FROM payment_allocations a
			                 JOIN payments p ON p.id = a.payment_id
			                 WHERE a.doc_kind = 'grn' AND a.doc_id = g.id
			                   AND p.is_active AND p.status <> 'cancelled'), 0)
			FROM grns g
			WHERE g.is_active AND g.status = 'received' AND g.supplier_id = $1
			ORDER BY g.id`
	default:
		return nil, fmt.Errorf("payments: unknown party type %q", partyType)
	}

	rows, err := r.pool.Query(ctx, query, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutstandingDoc
	for rows.Next() {
		var d OutstandingDoc
		if err := rows.Scan(&d.DocKind, &d.DocID, &d.Number, &d.Total, &d.Allocated); err != nil {
			return nil, err
		}
		d.Outstanding = d.Total.Sub(d.Allocated)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	return docnum.New(r.tx).Next(ctx, docType)
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO payments (number, party_type, party_id, direction, amount, method, paid_on,
			note, status, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, NOW(), NOW())
		RETURNING id`,
		p.Number, string(p.PartyType), p.PartyID, string(p.Direction), p.Amount,
		p.Method, p.PaidOn, p.Note, string(p.Status), p.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertAllocations(ctx context.Context, paymentID int64, allocs []Allocation) error {
	for _, a := range allocs {
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO payment_allocations (payment_id, doc_kind, doc_id, amount)
			VALUES ($1, $2, $3, $4)`,
			paymentID, string(a.DocKind), a.DocID, a.Amount,
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus is a compare-and-set on the status column; a payment
// already moved on by a concurrent request fails the guard.
func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE payments SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2 AND is_active`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *txRepo) SoftDeletePayment(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE payments SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DocTotal loads the document's number and net amount, verifying it is
// active and belongs to the paying party. The row is locked so a racing
// payment cannot over-allocate against the same document.
func (r *txRepo) DocTotal(ctx context.Context, kind DocKind, docID int64, partyType openings.PartyType, partyID int64) (string, decimal.Decimal, error) {
	var (
		number string
		total  decimal.Decimal
		err    error
	)
	switch {
	case kind == DocSale && partyType == openings.PartyCustomer:
		err = r.tx.QueryRow(ctx, `
			SELECT number, net_amount FROM sales
			WHERE id = $1 AND is_active AND customer_id = $2
			FOR UPDATE`, docID, partyID,
		).Scan(&number, &total)
	case kind == DocGRN && partyType == openings.PartySupplier:
		err = r.tx.QueryRow(ctx, `
			SELECT number, net_amount FROM grns
			WHERE id = $1 AND is_active AND status = 'received' AND supplier_id = $2
			FOR UPDATE`, docID, partyID,
		).Scan(&number, &total)
	default:
		return "", decimal.Zero, fmt.Errorf("%w: %s for %s party", ErrBadDoc, kind, partyType)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", decimal.Zero, fmt.Errorf("%w: %s %d", ErrBadDoc, kind, docID)
	}
	return number, total, err
}

func (r *txRepo) AllocatedSum(ctx context.Context, kind DocKind, docID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(a.amount), 0)
		FROM payment_allocations a
		JOIN payments p ON p.id = a.payment_id
		WHERE a.doc_kind = $1 AND a.doc_id = $2 AND p.is_active AND p.status <> 'cancelled'`,
		string(kind), docID,
	).Scan(&sum)
	return sum, err
}
