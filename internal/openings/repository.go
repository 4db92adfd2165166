package openings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists opening balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	DeactivateOpenings(ctx context.Context, partyType PartyType, partyID int64) (int, error)
	InsertOpening(ctx context.Context, o Opening) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs the callback inside one repeatable-read transaction, so a
// repost deactivates the old row and inserts the new one atomically.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetActive returns the party's current opening balance.
func (r *Repository) GetActive(ctx context.Context, partyType PartyType, partyID int64) (Opening, error) {
	var o Opening
	err := r.pool.QueryRow(ctx, `
		SELECT id, party_type, party_id, amount, note, is_active, created_by, created_at
		FROM party_openings
		WHERE party_type = $1 AND party_id = $2 AND is_active`,
		string(partyType), partyID,
	).Scan(&o.ID, &o.PartyType, &o.PartyID, &o.Amount, &o.Note, &o.IsActive, &o.CreatedBy, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Opening{}, ErrNotFound
	}
	return o, err
}

// ActiveAmount returns the party's opening amount, zero when none is set.
func (r *Repository) ActiveAmount(ctx context.Context, partyType PartyType, partyID int64) (decimal.Decimal, error) {
	o, err := r.GetActive(ctx, partyType, partyID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return o.Amount, nil
}

// List pages opening rows, history included.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Opening, int, error) {
	where := `WHERE ($1 = '' OR party_type = $1) AND ($2 = 0 OR party_id = $2)`
	args := []any{string(f.PartyType), f.PartyID}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM party_openings `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, party_type, party_id, amount, note, is_active, created_by, created_at
		FROM party_openings %s ORDER BY id DESC LIMIT $3 OFFSET $4`, where),
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Opening
	for rows.Next() {
		var o Opening
		if err := rows.Scan(&o.ID, &o.PartyType, &o.PartyID, &o.Amount, &o.Note,
			&o.IsActive, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *txRepo) DeactivateOpenings(ctx context.Context, partyType PartyType, partyID int64) (int, error) {
	tag, err := r.tx.Exec(ctx,
		`UPDATE party_openings SET is_active = FALSE WHERE party_type = $1 AND party_id = $2 AND is_active`,
		string(partyType), partyID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepo) InsertOpening(ctx context.Context, o Opening) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO party_openings (party_type, party_id, amount, note, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW())
		RETURNING id`,
		string(o.PartyType), o.PartyID, o.Amount, o.Note, o.CreatedBy,
	).Scan(&id)
	return id, err
}
