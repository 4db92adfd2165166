package payments

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/openings"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes payments over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts payment endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/outstanding", h.outstanding)
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
	case errors.Is(err, ErrOverAllocated), errors.Is(err, ErrNotDeletable):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case errors.Is(err, ErrBadAmount), errors.Is(err, ErrBadDirection),
		errors.Is(err, ErrBadDoc), errors.Is(err, openings.ErrBadParty):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}

type allocationRequest struct {
	DocKind string          `json:"doc_kind" validate:"required,oneof=sale grn"`
	DocID   int64           `json:"doc_id" validate:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount"`
}

type paymentRequest struct {
	PartyType   string              `json:"party_type" validate:"required,oneof=customer supplier"`
	PartyID     int64               `json:"party_id" validate:"required,gt=0"`
	Direction   string              `json:"direction" validate:"required,oneof=in out"`
	Amount      decimal.Decimal     `json:"amount"`
	Method      string              `json:"method" validate:"required,oneof=cash card bank_transfer cheque"`
	PaidOn      *time.Time          `json:"paid_on,omitempty"`
	Note        string              `json:"note,omitempty" validate:"omitempty,max=500"`
	Allocations []allocationRequest `json:"allocations,omitempty" validate:"omitempty,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := Input{
		PartyType: openings.PartyType(req.PartyType),
		PartyID:   req.PartyID,
		Direction: Direction(req.Direction),
		Amount:    req.Amount,
		Method:    req.Method,
		Note:      req.Note,
		ActorID:   shared.ActorFromContext(r.Context()),
	}
	if req.PaidOn != nil {
		input.PaidOn = *req.PaidOn
	}
	for _, a := range req.Allocations {
		input.Allocations = append(input.Allocations, AllocationInput{
			DocKind: DocKind(a.DocKind), DocID: a.DocID, Amount: a.Amount,
		})
	}
	p, err := h.svc.Create(r.Context(), input)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		PartyType: openings.PartyType(q.Get("party_type")),
		Direction: Direction(q.Get("direction")),
		Status:    docflow.Status(q.Get("status")),
		Search:    q.Get("search"),
	}
	f.PartyID, _ = strconv.ParseInt(q.Get("party_id"), 10, 64)
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
	p, err := h.svc.Transition(r.Context(), id, docflow.Status(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
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

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	partyID, err := strconv.ParseInt(q.Get("party_id"), 10, 64)
	if err != nil || partyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid party_id")
		return
	}
	summary, err := h.svc.Outstanding(r.Context(), openings.PartyType(q.Get("party_type")), partyID)
	if err != nil {
		respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
