package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/openings"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Idempotency        *shared.IdempotencyStore
	MasterDataHandler  *masterdata.Handler
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	DispatchHandler    *dispatch.Handler
	SalesHandler       *sales.Handler
	OpeningsHandler    *openings.Handler
	PaymentsHandler    *payments.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:      params.Logger,
		Config:      params.Config,
		Idempotency: params.Idempotency,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.MasterDataHandler.MountRoutes(r)
		params.SalesHandler.MountRoutes(r)
		r.Mount("/inventory", params.InventoryHandler.Routes())
		r.Mount("/procurement", params.ProcurementHandler.Routes())
		r.Mount("/dispatches", params.DispatchHandler.Routes())
		r.Mount("/openings", params.OpeningsHandler.Routes())
		r.Mount("/payments", params.PaymentsHandler.Routes())
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
