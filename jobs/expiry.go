package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TransferExpirer sweeps overdue transfers. Implemented by the transfer
// service; the worker only knows this interface.
type TransferExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// IdempotencyCleaner prunes processed idempotency keys past retention.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// ExpiryHandler wires the expiry sweep and cleanup tasks.
type ExpiryHandler struct {
	Expirer   TransferExpirer
	Cleaner   IdempotencyCleaner
	Retention time.Duration
	Logger    *slog.Logger
}

// HandleTransferExpiry processes TaskTypeTransferExpiry tasks.
func (h ExpiryHandler) HandleTransferExpiry(ctx context.Context, t *asynq.Task) error {
	n, err := h.Expirer.ExpireStale(ctx)
	if err != nil {
		h.Logger.Error("transfer expiry sweep", slog.Any("error", err))
		return err
	}
	if n > 0 {
		h.Logger.Info("expired stale transfers", slog.Int("count", n))
	}
	return nil
}

// HandleIdempotencyCleanup processes TaskTypeIdempotencyCleanup tasks.
func (h ExpiryHandler) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	retention := h.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if err := h.Cleaner.Cleanup(ctx, retention); err != nil {
		h.Logger.Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	return nil
}
