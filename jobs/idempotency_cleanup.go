package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyStore purges idempotency keys past their useful life.
type KeyStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob keeps the idempotency table from growing
// without bound.
type IdempotencyCleanupJob struct {
	Store  KeyStore
	Logger *slog.Logger
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store KeyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger}
}

// Handle executes the purge.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanHours <= 0 {
		payload.OlderThanHours = 48
	}

	logger := j.logger()
	olderThan := time.Duration(payload.OlderThanHours) * time.Hour
	if err := j.Store.Cleanup(ctx, olderThan); err != nil {
		logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	logger.Info("purged idempotency keys", slog.Duration("older_than", olderThan))
	return nil
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}
