package dispatch

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

// Repository persists dispatch notes in PostgreSQL.
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
	InsertNote(ctx context.Context, note Note) (int64, error)
	InsertLines(ctx context.Context, noteID int64, lines []Line) error
	UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error
	SoftDelete(ctx context.Context, id int64) error
	Apply(ctx context.Context, m inventory.Movement) (inventory.Balance, error)
	Reserve(ctx context.Context, itemID, storeID int64, qty float64) error
	Release(ctx context.Context, itemID, storeID int64, qty float64) error
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

// Get loads a note with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Note, error) {
	var n Note
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, from_store_id, to_store_id, status, note, is_active, created_by, created_at, updated_at
		FROM dispatch_notes WHERE id = $1`, id,
	).Scan(&n.ID, &n.Number, &n.FromStoreID, &n.ToStoreID, &n.Status, &n.Note, &n.IsActive,
		&n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, note_id, item_id, quantity FROM dispatch_lines WHERE note_id = $1 ORDER BY id`, id)
	if err != nil {
		return Note{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.NoteID, &l.ItemID, &l.Quantity); err != nil {
			return Note{}, err
		}
		n.Lines = append(n.Lines, l)
	}
	return n, rows.Err()
}

// List pages note headers.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Note, int, error) {
	where := `WHERE is_active
		AND ($1 = 0 OR from_store_id = $1 OR to_store_id = $1)
		AND ($2 = '' OR status = $2)
		AND ($3 = '' OR number ILIKE '%' || $3 || '%')`
	args := []any{f.StoreID, string(f.Status), f.Search}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_notes `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, from_store_id, to_store_id, status, note, is_active, created_by, created_at, updated_at
		FROM dispatch_notes %s ORDER BY id DESC LIMIT $4 OFFSET $5`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Number, &n.FromStoreID, &n.ToStoreID, &n.Status, &n.Note,
			&n.IsActive, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *txRepo) NextNumber(ctx context.Context, docType docnum.DocType) (string, error) {
	return docnum.New(r.tx).Next(ctx, docType)
}

func (r *txRepo) InsertNote(ctx context.Context, note Note) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO dispatch_notes (number, from_store_id, to_store_id, status, note, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW(), NOW())
		RETURNING id`,
		note.Number, note.FromStoreID, note.ToStoreID, string(note.Status), note.Note, note.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) InsertLines(ctx context.Context, noteID int64, lines []Line) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx,
			`INSERT INTO dispatch_lines (note_id, item_id, quantity) VALUES ($1, $2, $3)`,
			noteID, l.ItemID, l.Quantity,
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStatus is a compare-and-set: the row must still carry the
// status the caller validated against, so a concurrent transition that
// won the race makes this one fail instead of double-posting stock.
func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to docflow.Status) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE dispatch_notes SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2 AND is_active`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: note %d is no longer %s", docflow.ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *txRepo) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE dispatch_notes SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) Apply(ctx context.Context, m inventory.Movement) (inventory.Balance, error) {
	return r.ledger.Apply(ctx, r.tx, m)
}

func (r *txRepo) Reserve(ctx context.Context, itemID, storeID int64, qty float64) error {
	return r.ledger.Reserve(ctx, r.tx, itemID, storeID, qty)
}

func (r *txRepo) Release(ctx context.Context, itemID, storeID int64, qty float64) error {
	return r.ledger.Release(ctx, r.tx, itemID, storeID, qty)
}
