package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ShortfallSource lists items whose on-hand quantity sits under their
// reorder level.
type ShortfallSource interface {
	ListReorderShortfalls(ctx context.Context) ([]masterdata.ReorderShortfall, error)
}

// AuditSink records scan findings.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockLowScanJob flags items due for reordering.
type StockLowScanJob struct {
	Source ShortfallSource
	Audit  AuditSink
	Logger *slog.Logger
}

// NewStockLowScanJob initialises the low-stock handler.
func NewStockLowScanJob(source ShortfallSource, audit AuditSink, logger *slog.Logger) *StockLowScanJob {
	return &StockLowScanJob{Source: source, Audit: audit, Logger: logger}
}

// Handle executes the low-stock scan.
func (j *StockLowScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("stock low scan: handler not configured")
	}
	var payload StockLowScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	logger := j.logger()
	logger.Info("starting low-stock scan", slog.Int64("store_id", payload.StoreID))

	shortfalls, err := j.Source.ListReorderShortfalls(ctx)
	if err != nil {
		logger.Error("low-stock scan failed", slog.Any("error", err))
		return err
	}

	flagged := 0
	for _, s := range shortfalls {
		if payload.StoreID != 0 && s.StoreID != payload.StoreID {
			continue
		}
		flagged++
		logger.Warn("item under reorder level",
			slog.Int64("item_id", s.ItemID),
			slog.String("item_code", s.ItemCode),
			slog.Int64("store_id", s.StoreID),
			slog.Float64("on_hand", s.OnHand),
			slog.Float64("reorder_level", s.ReorderLevel),
		)
		if j.Audit != nil {
			_ = j.Audit.Record(ctx, shared.AuditLog{
				Action:   "STOCK_LOW",
				Entity:   "item",
				EntityID: fmt.Sprintf("%d", s.ItemID),
				Meta: map[string]any{
					"item_code":     s.ItemCode,
					"store_id":      s.StoreID,
					"on_hand":       s.OnHand,
					"reorder_level": s.ReorderLevel,
				},
			})
		}
	}

	logger.Info("completed low-stock scan",
		slog.Int("flagged", flagged),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *StockLowScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockLowScan))
	}
	return slog.Default().With(slog.String("job", TaskStockLowScan))
}
