package openings

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

// Handler exposes opening balances over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts customer and supplier opening endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Route("/customers", h.partyRoutes(PartyCustomer))
	r.Route("/suppliers", h.partyRoutes(PartySupplier))
	return r
}

func (h *Handler) partyRoutes(party PartyType) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/", h.set(party))
		r.Get("/{partyID}", h.get(party))
		r.Delete("/{partyID}", h.clear(party))
	}
}

func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrBadParty):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}

type openingRequest struct {
	PartyID int64           `json:"party_id" validate:"required,gt=0"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note,omitempty" validate:"omitempty,max=500"`
}

func (h *Handler) set(party PartyType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openingRequest
		if err := httpx.DecodeValid(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		o, err := h.svc.Set(r.Context(), Input{
			PartyType: party,
			PartyID:   req.PartyID,
			Amount:    req.Amount,
			Note:      req.Note,
			ActorID:   shared.ActorFromContext(r.Context()),
		})
		if err != nil {
			respondErr(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, o)
	}
}

func (h *Handler) get(party PartyType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID, ok := partyID(w, r)
		if !ok {
			return
		}
		o, err := h.svc.Get(r.Context(), party, partyID)
		if err != nil {
			respondErr(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, o)
	}
}

func (h *Handler) clear(party PartyType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID, ok := partyID(w, r)
		if !ok {
			return
		}
		if err := h.svc.Clear(r.Context(), party, partyID, shared.ActorFromContext(r.Context())); err != nil {
			respondErr(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"party_id": partyID, "cleared": true})
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{PartyType: PartyType(q.Get("party_type"))}
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

func partyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "partyID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid party id")
		return 0, false
	}
	return id, true
}
