package masterdata

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes master data CRUD over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts all master data endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

// MountRoutes attaches the master data endpoints to an existing router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
		r.Get("/{id}", h.getCategory)
		r.Patch("/{id}", h.updateCategory)
		r.Delete("/{id}", h.deleteCategory)
	})
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Get("/{id}", h.getItem)
		r.Patch("/{id}", h.updateItem)
		r.Delete("/{id}", h.deleteItem)
	})
	r.Route("/stores", func(r chi.Router) {
		r.Get("/", h.listStores)
		r.Post("/", h.createStore)
		r.Get("/{id}", h.getStore)
		r.Patch("/{id}", h.updateStore)
		r.Delete("/{id}", h.deleteStore)
	})
	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.listSuppliers)
		r.Post("/", h.createSupplier)
		r.Get("/{id}", h.getSupplier)
		r.Patch("/{id}", h.updateSupplier)
		r.Delete("/{id}", h.deleteSupplier)
	})
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.listCustomers)
		r.Post("/", h.createCustomer)
		r.Get("/{id}", h.getCustomer)
		r.Patch("/{id}", h.updateCustomer)
		r.Delete("/{id}", h.deleteCustomer)
	})
}

func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrDuplicateCode):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrDuplicate, err))
	default:
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func listFilters(r *http.Request) shared.ListFilters {
	q := r.URL.Query()
	f := shared.ListFilters{Search: q.Get("search")}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

// --- categories ---

type categoryRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.svc.CreateCategory(r.Context(), Category{Code: req.Code, Name: req.Name, Description: req.Description})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name" validate:"required,max=128"`
		Description string `json:"description,omitempty"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.svc.UpdateCategory(r.Context(), Category{ID: id, Name: req.Name, Description: req.Description})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCategory(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	f := listFilters(r)
	f.Clamp()
	out, total, err := h.svc.ListCategories(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCategory(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// --- items ---

type itemRequest struct {
	Code         string          `json:"code" validate:"required,max=32"`
	Name         string          `json:"name" validate:"required,max=128"`
	CategoryID   int64           `json:"category_id" validate:"required"`
	Unit         string          `json:"unit" validate:"required,max=16"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	ReorderLevel float64         `json:"reorder_level" validate:"gte=0"`
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.svc.CreateItem(r.Context(), Item{
		Code: req.Code, Name: req.Name, CategoryID: req.CategoryID, Unit: req.Unit,
		CostPrice: req.CostPrice, SellingPrice: req.SellingPrice, ReorderLevel: req.ReorderLevel,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name         string          `json:"name" validate:"required,max=128"`
		CategoryID   int64           `json:"category_id" validate:"required"`
		Unit         string          `json:"unit" validate:"required,max=16"`
		CostPrice    decimal.Decimal `json:"cost_price"`
		SellingPrice decimal.Decimal `json:"selling_price"`
		ReorderLevel float64         `json:"reorder_level" validate:"gte=0"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.svc.UpdateItem(r.Context(), Item{
		ID: id, Name: req.Name, CategoryID: req.CategoryID, Unit: req.Unit,
		CostPrice: req.CostPrice, SellingPrice: req.SellingPrice, ReorderLevel: req.ReorderLevel,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	it, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	f := listFilters(r)
	f.Clamp()
	out, total, err := h.svc.ListItems(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// --- stores ---

type storeRequest struct {
	Code    string `json:"code" validate:"required,max=8"`
	Name    string `json:"name" validate:"required,max=128"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.svc.CreateStore(r.Context(), Store{Code: req.Code, Name: req.Name, Address: req.Address, Phone: req.Phone})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name    string `json:"name" validate:"required,max=128"`
		Address string `json:"address,omitempty"`
		Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.svc.UpdateStore(r.Context(), Store{ID: id, Name: req.Name, Address: req.Address, Phone: req.Phone})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetStore(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	f := listFilters(r)
	f.Clamp()
	out, total, err := h.svc.ListStores(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteStore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteStore(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// --- suppliers ---

type supplierRequest struct {
	Code          string `json:"code" validate:"required,max=32"`
	Name          string `json:"name" validate:"required,max=128"`
	ContactPerson string `json:"contact_person,omitempty"`
	Phone         string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email         string `json:"email,omitempty"`
	Address       string `json:"address,omitempty"`
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.svc.CreateSupplier(r.Context(), Supplier{
		Code: req.Code, Name: req.Name, ContactPerson: req.ContactPerson,
		Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name          string `json:"name" validate:"required,max=128"`
		ContactPerson string `json:"contact_person,omitempty"`
		Phone         string `json:"phone,omitempty" validate:"omitempty,max=32"`
		Email         string `json:"email,omitempty"`
		Address       string `json:"address,omitempty"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.svc.UpdateSupplier(r.Context(), Supplier{
		ID: id, Name: req.Name, ContactPerson: req.ContactPerson,
		Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sp, err := h.svc.GetSupplier(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	f := listFilters(r)
	f.Clamp()
	out, total, err := h.svc.ListSuppliers(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSupplier(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// --- customers ---

type customerRequest struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=128"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.svc.CreateCustomer(r.Context(), Customer{
		Code: req.Code, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name    string `json:"name" validate:"required,max=128"`
		Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
		Email   string `json:"email,omitempty"`
		Address string `json:"address,omitempty"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.svc.UpdateCustomer(r.Context(), Customer{
		ID: id, Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCustomer(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	f := listFilters(r)
	f.Clamp()
	out, total, err := h.svc.ListCustomers(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCustomer(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
