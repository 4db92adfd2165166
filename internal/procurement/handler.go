package procurement

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

// Handler exposes procurement over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts GRN and purchase return endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/grns", func(r chi.Router) {
		r.Get("/", h.listGRNs)
		r.Post("/", h.createGRN)
		r.Get("/{id}", h.getGRN)
		r.Patch("/{id}", h.patchGRN)
		r.Delete("/{id}", h.deleteGRN)
	})
	r.Route("/purchase-returns", func(r chi.Router) {
		r.Get("/", h.listReturns)
		r.Post("/", h.createReturn)
		r.Get("/{id}", h.getReturn)
		r.Delete("/{id}", h.deleteReturn)
	})
	return r
}

func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGRNNotFound), errors.Is(err, ErrReturnNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, docflow.ErrInvalidTransition):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInvalidTransition, err))
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInsufficientStock, err))
	case errors.Is(err, ErrNotDraft):
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

type grnLineRequest struct {
	ItemID      int64           `json:"item_id" validate:"required"`
	ReceivedQty float64         `json:"received_qty" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DiscountPct decimal.Decimal `json:"discount_percent"`
	BatchNumber *string         `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

type grnRequest struct {
	SupplierID    int64            `json:"supplier_id" validate:"required"`
	StoreID       int64            `json:"store_id" validate:"required"`
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	Note          string           `json:"note,omitempty"`
	Receive       bool             `json:"receive,omitempty"`
	Lines         []grnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var req grnRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := GRNInput{
		SupplierID:    req.SupplierID,
		StoreID:       req.StoreID,
		InvoiceNumber: req.InvoiceNumber,
		Note:          req.Note,
		Receive:       req.Receive,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, GRNLineInput{
			ItemID: l.ItemID, ReceivedQty: l.ReceivedQty, UnitCost: l.UnitCost,
			DiscountPct: l.DiscountPct, BatchNumber: l.BatchNumber, ExpiryDate: l.ExpiryDate,
		})
	}
	grn, err := h.svc.CreateGRN(r.Context(), input)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

// patchGRN is overloaded the way the API always was: a body carrying
// "status" is a workflow transition, anything else edits the draft
// header allowlist.
func (h *Handler) patchGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status        *string `json:"status,omitempty"`
		InvoiceNumber *string `json:"invoice_number,omitempty"`
		Note          *string `json:"note,omitempty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID := shared.ActorFromContext(r.Context())

	if req.Status != nil {
		grn, err := h.svc.Transition(r.Context(), id, docflow.Status(*req.Status), actorID)
		if err != nil {
			respondErr(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, grn)
		return
	}

	grn, err := h.svc.Update(r.Context(), id, GRNPatch{InvoiceNumber: req.InvoiceNumber, Note: req.Note}, actorID)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	grn, err := h.svc.GetGRN(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	out, total, err := h.svc.ListGRNs(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) deleteGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

type returnLineRequest struct {
	ItemID   int64           `json:"item_id" validate:"required"`
	Quantity float64         `json:"quantity" validate:"required,gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type returnRequest struct {
	SupplierID int64               `json:"supplier_id" validate:"required"`
	StoreID    int64               `json:"store_id" validate:"required"`
	GRNID      *int64              `json:"grn_id,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Lines      []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PurchaseReturnInput{
		SupplierID: req.SupplierID,
		StoreID:    req.StoreID,
		GRNID:      req.GRNID,
		Reason:     req.Reason,
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, PurchaseReturnLineInput{ItemID: l.ItemID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	ret, err := h.svc.CreatePurchaseReturn(r.Context(), input)
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
	ret, err := h.svc.GetPurchaseReturn(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	out, total, err := h.svc.ListPurchaseReturns(r.Context(), f)
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
	if err := h.svc.DeletePurchaseReturn(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
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
	f.SupplierID, _ = strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	f.StoreID, _ = strconv.ParseInt(q.Get("store_id"), 10, 64)
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	clamp := shared.ListFilters{Limit: f.Limit, Offset: f.Offset}
	clamp.Clamp()
	f.Limit, f.Offset = clamp.Limit, clamp.Offset
	return f
}
