package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

// --- categories ---

func (r *Repository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO categories (code, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`,
		c.Code, c.Name, c.Description,
	).Scan(&c.ID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, translate(err)
}

func (r *Repository) UpdateCategory(ctx context.Context, c Category) (Category, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE categories SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING code, is_active, created_at, updated_at`,
		c.ID, c.Name, c.Description,
	).Scan(&c.Code, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	return c, translate(err)
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, description, is_active, created_at, updated_at
		FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) ListCategories(ctx context.Context, f shared.ListFilters) ([]Category, int, error) {
	where := `WHERE is_active AND ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM categories `+where, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, code, name, description, is_active, created_at, updated_at
		FROM categories %s ORDER BY code LIMIT $2 OFFSET $3`, where),
		f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *Repository) SoftDeleteCategory(ctx context.Context, id int64) error {
	return r.softDelete(ctx, "categories", id)
}

// --- items ---

func (r *Repository) CreateItem(ctx context.Context, it Item) (Item, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO items (code, name, category_id, unit, cost_price, selling_price, reorder_level, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`,
		it.Code, it.Name, it.CategoryID, it.Unit, it.CostPrice, it.SellingPrice, it.ReorderLevel,
	).Scan(&it.ID, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, translate(err)
}

func (r *Repository) UpdateItem(ctx context.Context, it Item) (Item, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE items SET name = $2, category_id = $3, unit = $4, cost_price = $5,
			selling_price = $6, reorder_level = $7, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING code, is_active, created_at, updated_at`,
		it.ID, it.Name, it.CategoryID, it.Unit, it.CostPrice, it.SellingPrice, it.ReorderLevel,
	).Scan(&it.Code, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, translate(err)
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, category_id, unit, cost_price, selling_price, reorder_level, is_active, created_at, updated_at
		FROM items WHERE id = $1`, id,
	).Scan(&it.ID, &it.Code, &it.Name, &it.CategoryID, &it.Unit, &it.CostPrice, &it.SellingPrice,
		&it.ReorderLevel, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (r *Repository) ListItems(ctx context.Context, f shared.ListFilters) ([]Item, int, error) {
	where := `WHERE is_active AND ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items `+where, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, code, name, category_id, unit, cost_price, selling_price, reorder_level, is_active, created_at, updated_at
		FROM items %s ORDER BY code LIMIT $2 OFFSET $3`, where),
		f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.CategoryID, &it.Unit, &it.CostPrice,
			&it.SellingPrice, &it.ReorderLevel, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}

func (r *Repository) SoftDeleteItem(ctx context.Context, id int64) error {
	return r.softDelete(ctx, "items", id)
}

// ReorderShortfall lists active items whose on-hand quantity at a store
// sits below their reorder level. Used by the low-stock scan job.
type ReorderShortfall struct {
	ItemID       int64
	ItemCode     string
	StoreID      int64
	OnHand       float64
	ReorderLevel float64
}

func (r *Repository) ListReorderShortfalls(ctx context.Context) ([]ReorderShortfall, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.code, b.store_id, b.quantity_on_hand, i.reorder_level
		FROM items i
		JOIN stock_balances b ON b.item_id = i.id
		WHERE i.is_active AND i.reorder_level > 0 AND b.quantity_on_hand < i.reorder_level
		ORDER BY i.code, b.store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReorderShortfall
	for rows.Next() {
		var s ReorderShortfall
		if err := rows.Scan(&s.ItemID, &s.ItemCode, &s.StoreID, &s.OnHand, &s.ReorderLevel); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- stores ---

func (r *Repository) CreateStore(ctx context.Context, s Store) (Store, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stores (code, name, address, phone, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`,
		s.Code, s.Name, s.Address, s.Phone,
	).Scan(&s.ID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, translate(err)
}

func (r *Repository) UpdateStore(ctx context.Context, s Store) (Store, error) {
	// Code is excluded: issued document numbers embed it.
	err := r.pool.QueryRow(ctx, `
		UPDATE stores SET name = $2, address = $3, phone = $4, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING code, is_active, created_at, updated_at`,
		s.ID, s.Name, s.Address, s.Phone,
	).Scan(&s.Code, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	return s, translate(err)
}

func (r *Repository) GetStore(ctx context.Context, id int64) (Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, address, phone, is_active, created_at, updated_at
		FROM stores WHERE id = $1`, id,
	).Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) ListStores(ctx context.Context, f shared.ListFilters) ([]Store, int, error) {
	where := `WHERE is_active AND ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stores `+where, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, code, name, address, phone, is_active, created_at, updated_at
		FROM stores %s ORDER BY code LIMIT $2 OFFSET $3`, where),
		f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *Repository) SoftDeleteStore(ctx context.Context, id int64) error {
	return r.softDelete(ctx, "stores", id)
}

// --- suppliers ---

func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO suppliers (code, name, contact_person, phone, email, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`,
		s.Code, s.Name, s.ContactPerson, s.Phone, s.Email, s.Address,
	).Scan(&s.ID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, translate(err)
}

func (r *Repository) UpdateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE suppliers SET name = $2, contact_person = $3, phone = $4, email = $5, address = $6, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING code, is_active, created_at, updated_at`,
		s.ID, s.Name, s.ContactPerson, s.Phone, s.Email, s.Address,
	).Scan(&s.Code, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	return s, translate(err)
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, contact_person, phone, email, address, is_active, created_at, updated_at
		FROM suppliers WHERE id = $1`, id,
	).Scan(&s.ID, &s.Code, &s.Name, &s.ContactPerson, &s.Phone, &s.Email, &s.Address, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) ListSuppliers(ctx context.Context, f shared.ListFilters) ([]Supplier, int, error) {
	where := `WHERE is_active AND ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers `+where, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, code, name, contact_person, phone, email, address, is_active, created_at, updated_at
		FROM suppliers %s ORDER BY code LIMIT $2 OFFSET $3`, where),
		f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.ContactPerson, &s.Phone, &s.Email, &s.Address,
			&s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *Repository) SoftDeleteSupplier(ctx context.Context, id int64) error {
	return r.softDelete(ctx, "suppliers", id)
}

// --- customers ---

func (r *Repository) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (code, name, phone, email, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING id, is_active, created_at, updated_at`,
		c.Code, c.Name, c.Phone, c.Email, c.Address,
	).Scan(&c.ID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, translate(err)
}

func (r *Repository) UpdateCustomer(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE customers SET name = $2, phone = $3, email = $4, address = $5, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING code, is_active, created_at, updated_at`,
		c.ID, c.Name, c.Phone, c.Email, c.Address,
	).Scan(&c.Code, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, translate(err)
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, name, phone, email, address, is_active, created_at, updated_at
		FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) ListCustomers(ctx context.Context, f shared.ListFilters) ([]Customer, int, error) {
	where := `WHERE is_active AND ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers `+where, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, code, name, phone, email, address, is_active, created_at, updated_at
		FROM customers %s ORDER BY code LIMIT $2 OFFSET $3`, where),
		f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *Repository) SoftDeleteCustomer(ctx context.Context, id int64) error {
	return r.softDelete(ctx, "customers", id)
}

func (r *Repository) softDelete(ctx context.Context, table string, id int64) error {
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
