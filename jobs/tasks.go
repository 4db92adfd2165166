// Package jobs runs the background work: nightly ledger integrity
// checks, low-stock scans and idempotency-key cleanup, all scheduled
// through Asynq.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity recomputes per-(item, store) ledger sums and
	// compares them with the stored balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStockLowScan flags items under their reorder level.
	TaskStockLowScan = "stock:lowscan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerIntegrityPayload tunes the integrity scan.
type LedgerIntegrityPayload struct {
	Tolerance float64 `json:"tolerance"`
}

// NewLedgerIntegrityTask constructs an integrity-check task.
func NewLedgerIntegrityTask(tolerance float64) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Tolerance: tolerance})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// StockLowScanPayload tunes the low-stock scan.
type StockLowScanPayload struct {
	StoreID int64 `json:"store_id"` // zero scans every store
}

// NewStockLowScanTask constructs a low-stock scan task.
func NewStockLowScanTask(storeID int64) (*asynq.Task, error) {
	data, err := json.Marshal(StockLowScanPayload{StoreID: storeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockLowScan, data), nil
}

// IdempotencyCleanupPayload tunes the key purge.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(olderThanHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
