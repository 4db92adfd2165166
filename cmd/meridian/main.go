package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/openings"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summaries served uncached", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	ledger := inventory.NewLedger(cfg.AllowNegativeStock)

	stockCache := inventory.NewCache(redisClient, cfg.CacheTTL)
	inventoryRepo := inventory.NewRepository(pool, ledger)
	inventoryService := inventory.NewService(inventoryRepo, audit, stockCache)

	masterdataRepo := masterdata.NewRepository(pool)
	masterdataService := masterdata.NewService(masterdataRepo, audit)

	procurementRepo := procurement.NewRepository(pool, ledger)
	procurementService := procurement.NewService(procurementRepo, audit, inventoryService)

	dispatchRepo := dispatch.NewRepository(pool, ledger)
	dispatchService := dispatch.NewService(dispatchRepo, audit, inventoryService)

	salesRepo := sales.NewRepository(pool, ledger)
	salesService := sales.NewService(salesRepo, audit, inventoryService)

	openingsRepo := openings.NewRepository(pool)
	openingsService := openings.NewService(openingsRepo, audit)

	paymentsRepo := payments.NewRepository(pool)
	paymentsService := payments.NewService(paymentsRepo, openingsService, audit)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Idempotency:        idempotency,
		MasterDataHandler:  masterdata.NewHandler(masterdataService),
		InventoryHandler:   inventory.NewHandler(inventoryService),
		ProcurementHandler: procurement.NewHandler(procurementService),
		DispatchHandler:    dispatch.NewHandler(dispatchService),
		SalesHandler:       sales.NewHandler(salesService),
		OpeningsHandler:    openings.NewHandler(openingsService),
		PaymentsHandler:    payments.NewHandler(paymentsService),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
