package masterdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	CreateCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context, f shared.ListFilters) ([]Category, int, error)
	SoftDeleteCategory(ctx context.Context, id int64) error

	CreateItem(ctx context.Context, it Item) (Item, error)
	UpdateItem(ctx context.Context, it Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, f shared.ListFilters) ([]Item, int, error)
	SoftDeleteItem(ctx context.Context, id int64) error

	CreateStore(ctx context.Context, s Store) (Store, error)
	UpdateStore(ctx context.Context, s Store) (Store, error)
	GetStore(ctx context.Context, id int64) (Store, error)
	ListStores(ctx context.Context, f shared.ListFilters) ([]Store, int, error)
	SoftDeleteStore(ctx context.Context, id int64) error

	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context, f shared.ListFilters) ([]Supplier, int, error)
	SoftDeleteSupplier(ctx context.Context, id int64) error

	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) (Customer, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListCustomers(ctx context.Context, f shared.ListFilters) ([]Customer, int, error)
	SoftDeleteCustomer(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns master data CRUD rules: codes are uppercased and
// immutable after creation, deletes are soft.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) record(ctx context.Context, action, entity string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
	})
}

func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	c.Code = normalizeCode(c.Code)
	created, err := s.repo.CreateCategory(ctx, c)
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, "CATEGORY_CREATE", "category", created.ID)
	return created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, c Category) (Category, error) {
	updated, err := s.repo.UpdateCategory(ctx, c)
	if err != nil {
		return Category{}, err
	}
	s.record(ctx, "CATEGORY_UPDATE", "category", updated.ID)
	return updated, nil
}

func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context, f shared.ListFilters) ([]Category, int, error) {
	f.Clamp()
	return s.repo.ListCategories(ctx, f)
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteCategory(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "CATEGORY_DELETE", "category", id)
	return nil
}

func (s *Service) CreateItem(ctx context.Context, it Item) (Item, error) {
	it.Code = normalizeCode(it.Code)
	if it.CostPrice.IsNegative() || it.SellingPrice.IsNegative() {
		return Item{}, fmt.Errorf("masterdata: prices must not be negative")
	}
	if _, err := s.repo.GetCategory(ctx, it.CategoryID); err != nil {
		return Item{}, fmt.Errorf("category %d: %w", it.CategoryID, err)
	}
	created, err := s.repo.CreateItem(ctx, it)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, "ITEM_CREATE", "item", created.ID)
	return created, nil
}

func (s *Service) UpdateItem(ctx context.Context, it Item) (Item, error) {
	if it.CostPrice.IsNegative() || it.SellingPrice.IsNegative() {
		return Item{}, fmt.Errorf("masterdata: prices must not be negative")
	}
	updated, err := s.repo.UpdateItem(ctx, it)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, "ITEM_UPDATE", "item", updated.ID)
	return updated, nil
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, f shared.ListFilters) ([]Item, int, error) {
	f.Clamp()
	return s.repo.ListItems(ctx, f)
}

func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteItem(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "ITEM_DELETE", "item", id)
	return nil
}

func (s *Service) CreateStore(ctx context.Context, st Store) (Store, error) {
	st.Code = normalizeCode(st.Code)
	if len(st.Code) > 8 {
		return Store{}, fmt.Errorf("masterdata: store code too long, max 8 characters")
	}
	created, err := s.repo.CreateStore(ctx, st)
	if err != nil {
		return Store{}, err
	}
	s.record(ctx, "STORE_CREATE", "store", created.ID)
	return created, nil
}

func (s *Service) UpdateStore(ctx context.Context, st Store) (Store, error) {
	updated, err := s.repo.UpdateStore(ctx, st)
	if err != nil {
		return Store{}, err
	}
	s.record(ctx, "STORE_UPDATE", "store", updated.ID)
	return updated, nil
}

func (s *Service) GetStore(ctx context.Context, id int64) (Store, error) {
	return s.repo.GetStore(ctx, id)
}

func (s *Service) ListStores(ctx context.Context, f shared.ListFilters) ([]Store, int, error) {
	f.Clamp()
	return s.repo.ListStores(ctx, f)
}

func (s *Service) DeleteStore(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteStore(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "STORE_DELETE", "store", id)
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, sp Supplier) (Supplier, error) {
	sp.Code = normalizeCode(sp.Code)
	created, err := s.repo.CreateSupplier(ctx, sp)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, "SUPPLIER_CREATE", "supplier", created.ID)
	return created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, sp Supplier) (Supplier, error) {
	updated, err := s.repo.UpdateSupplier(ctx, sp)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, "SUPPLIER_UPDATE", "supplier", updated.ID)
	return updated, nil
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

func (s *Service) ListSuppliers(ctx context.Context, f shared.ListFilters) ([]Supplier, int, error) {
	f.Clamp()
	return s.repo.ListSuppliers(ctx, f)
}

func (s *Service) DeleteSupplier(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "SUPPLIER_DELETE", "supplier", id)
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	c.Code = normalizeCode(c.Code)
	created, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, "CUSTOMER_CREATE", "customer", created.ID)
	return created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, c Customer) (Customer, error) {
	updated, err := s.repo.UpdateCustomer(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, "CUSTOMER_UPDATE", "customer", updated.ID)
	return updated, nil
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) ListCustomers(ctx context.Context, f shared.ListFilters) ([]Customer, int, error) {
	f.Clamp()
	return s.repo.ListCustomers(ctx, f)
}

func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.repo.SoftDeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "CUSTOMER_DELETE", "customer", id)
	return nil
}
