package inventory

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes stock operations over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the inventory endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/adjustments", h.createAdjustment)
	r.Delete("/adjustments/{id}", h.deleteAdjustment)
	r.Get("/adjustments/{id}", h.getAdjustment)
	r.Post("/opening-stock", h.loadOpeningStock)
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{itemID}", h.getBalance)
	r.Get("/transactions", h.listTransactions)
	r.Get("/summary", h.summary)
	return r
}

type adjustmentLineRequest struct {
	ItemID      int64   `json:"item_id" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"required"`
	BatchNumber *string `json:"batch_number,omitempty"`
	Note        string  `json:"note,omitempty"`
}

type adjustmentRequest struct {
	StoreID int64                   `json:"store_id" validate:"required"`
	Note    string                  `json:"note,omitempty"`
	Lines   []adjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AdjustmentInput{StoreID: req.StoreID, Note: req.Note, ActorID: shared.ActorFromContext(r.Context())}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, AdjustmentLineInput{
			ItemID: line.ItemID, Quantity: line.Quantity, BatchNumber: line.BatchNumber, Note: line.Note,
		})
	}
	adj, err := h.svc.CreateAdjustment(r.Context(), input)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) deleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid adjustment id")
		return
	}
	if err := h.svc.DeleteAdjustment(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid adjustment id")
		return
	}
	adj, err := h.svc.GetAdjustment(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

type openingStockLineRequest struct {
	ItemID      int64      `json:"item_id" validate:"required"`
	Quantity    float64    `json:"quantity" validate:"required,gt=0"`
	BatchNumber *string    `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

type openingStockRequest struct {
	StoreID int64                     `json:"store_id" validate:"required"`
	Lines   []openingStockLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) loadOpeningStock(w http.ResponseWriter, r *http.Request) {
	var req openingStockRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := OpeningStockInput{StoreID: req.StoreID, ActorID: shared.ActorFromContext(r.Context())}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, OpeningStockLine{
			ItemID: line.ItemID, Quantity: line.Quantity, BatchNumber: line.BatchNumber, ExpiryDate: line.ExpiryDate,
		})
	}
	if err := h.svc.LoadOpeningStock(r.Context(), input); err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"store_id": req.StoreID, "lines": len(req.Lines)})
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	filters := shared.ListFilters{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	filters.Clamp()
	balances, total, err := h.svc.ListBalances(r.Context(), storeID, filters.Limit, filters.Offset)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSONList(w, balances, httpx.Pagination{Limit: filters.Limit, Offset: filters.Offset, Total: total})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	bal, err := h.svc.GetBalance(r.Context(), itemID, storeID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{
		Type:    TransactionType(q.Get("type")),
		RefType: q.Get("reference_type"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
	}
	filter.ItemID, _ = strconv.ParseInt(q.Get("item_id"), 10, 64)
	filter.StoreID, _ = strconv.ParseInt(q.Get("store_id"), 10, 64)
	filter.RefID, _ = strconv.ParseInt(q.Get("reference_id"), 10, 64)
	if from := q.Get("from"); from != "" {
		filter.From, _ = time.Parse("2006-01-02", from)
	}
	if to := q.Get("to"); to != "" {
		filter.To, _ = time.Parse("2006-01-02", to)
	}
	clamp := shared.ListFilters{Limit: filter.Limit, Offset: filter.Offset}
	clamp.Clamp()
	filter.Limit, filter.Offset = clamp.Limit, clamp.Offset

	txs, total, err := h.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSONList(w, txs, httpx.Pagination{Limit: filter.Limit, Offset: filter.Offset, Total: total})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	out, err := h.svc.Summary(r.Context(), storeID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// respondErr translates inventory sentinels onto the shared HTTP map.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInsufficientStock, err))
	case errors.Is(err, ErrBalanceNotFound), errors.Is(err, ErrAdjustmentNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidQuantity):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}
