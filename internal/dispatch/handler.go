package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes dispatch notes over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the dispatch endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.transition)
	r.Delete("/{id}", h.delete)
	return r
}

func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, docflow.ErrInvalidTransition):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInvalidTransition, err))
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInsufficientStock, err))
	case errors.Is(err, inventory.ErrBalanceNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInsufficientStock, err))
	case errors.Is(err, ErrNotDeletable):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case errors.Is(err, ErrSameStore), errors.Is(err, ErrNoLines), errors.Is(err, ErrBadLine):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}

type lineRequest struct {
	ItemID   int64   `json:"item_id" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

type createRequest struct {
	FromStoreID int64         `json:"from_store_id" validate:"required"`
	ToStoreID   int64         `json:"to_store_id" validate:"required"`
	Note        string        `json:"note,omitempty"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := Input{
		FromStoreID: req.FromStoreID,
		ToStoreID:   req.ToStoreID,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	note, err := h.svc.Create(r.Context(), input)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
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
	note, err := h.svc.Transition(r.Context(), id, docflow.Status(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	note, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		Status: docflow.Status(q.Get("status")),
		Search: q.Get("search"),
	}
	f.StoreID, _ = strconv.ParseInt(q.Get("store_id"), 10, 64)
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	clamp := shared.ListFilters{Limit: f.Limit, Offset: f.Offset}
	clamp.Clamp()
	f.Limit, f.Offset = clamp.Limit, clamp.Offset

	out, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSONList(w, out, httpx.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
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

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
