package sales

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes sales over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts sale, return and quotation endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

// MountRoutes attaches the sales endpoints to an existing router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.listSales)
		r.Post("/", h.createSale)
		r.Get("/{id}", h.getSale)
		r.Delete("/{id}", h.deleteSale)
	})
	r.Route("/sales-returns", func(r chi.Router) {
		r.Get("/", h.listReturns)
		r.Post("/", h.createReturn)
		r.Get("/{id}", h.getReturn)
		r.Delete("/{id}", h.deleteReturn)
	})
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.listQuotations)
		r.Post("/", h.createQuotation)
		r.Get("/{id}", h.getQuotation)
		r.Patch("/{id}", h.transitionQuotation)
		r.Delete("/{id}", h.deleteQuotation)
	})
}

func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrReturnNotFound), errors.Is(err, ErrQuotationNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, docflow.ErrInvalidTransition):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInvalidTransition, err))
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInsufficientStock, err))
	case errors.Is(err, ErrReturnExceedsSale):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrBadLine):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
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

type saleLineRequest struct {
	ItemID      int64           `json:"item_id" validate:"required"`
	Quantity    float64         `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
}

type saleRequest struct {
	CustomerID *int64            `json:"customer_id,omitempty"`
	StoreID    int64             `json:"store_id" validate:"required"`
	Note       string            `json:"note,omitempty"`
	Lines      []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func saleInputFrom(r *http.Request, req saleRequest) SaleInput {
	input := SaleInput{
		CustomerID: req.CustomerID,
		StoreID:    req.StoreID,
		Note:       req.Note,
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, SaleLineInput{
			ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice, DiscountPct: l.DiscountPct,
		})
	}
	return input
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.svc.CreateSale(r.Context(), saleInputFrom(r, req))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sale, err := h.svc.GetSale(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	out, total, err := h.svc.ListSales(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSale(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

type returnLineRequest struct {
	ItemID   int64   `json:"item_id" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

type returnRequest struct {
	SaleID int64               `json:"sale_id" validate:"required"`
	Reason string              `json:"reason,omitempty"`
	Lines  []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SalesReturnInput{
		SaleID:  req.SaleID,
		Reason:  req.Reason,
		ActorID: shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, SalesReturnLineInput{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	ret, err := h.svc.CreateReturn(r.Context(), input)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.svc.GetReturn(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	out, total, err := h.svc.ListReturns(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteReturn(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

type quotationRequest struct {
	CustomerID *int64            `json:"customer_id,omitempty"`
	StoreID    int64             `json:"store_id" validate:"required"`
	ValidUntil *time.Time        `json:"valid_until,omitempty"`
	Note       string            `json:"note,omitempty"`
	Lines      []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var req quotationRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := QuotationInput{
		CustomerID: req.CustomerID,
		StoreID:    req.StoreID,
		ValidUntil: req.ValidUntil,
		Note:       req.Note,
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, SaleLineInput{
			ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice, DiscountPct: l.DiscountPct,
		})
	}
	q, err := h.svc.CreateQuotation(r.Context(), input)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) transitionQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.svc.TransitionQuotation(r.Context(), id, docflow.Status(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, err := h.svc.GetQuotation(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	out, total, err := h.svc.ListQuotations(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteQuotation(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func listFilter(r *http.Request) ListFilter {
	q := r.URL.Query()
	f := ListFilter{
		Status: docflow.Status(q.Get("status")),
		Search: q.Get("search"),
	}
	f.CustomerID, _ = strconv.ParseInt(q.Get("customer_id"), 10, 64)
	f.StoreID, _ = strconv.ParseInt(q.Get("store_id"), 10, 64)
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	clamp := shared.ListFilters{Limit: f.Limit, Offset: f.Offset}
	clamp.Clamp()
	f.Limit, f.Offset = clamp.Limit, clamp.Offset
	return f
}
