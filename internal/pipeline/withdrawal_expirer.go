package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// StaleCanceller cancels pending withdrawals older than a cutoff.
type StaleCanceller interface {
	ExpireStale(ctx context.Context, olderThan time.Duration, batch int) (int, error)
}

// WithdrawalExpirer periodically returns reserved stock whose withdrawal
// was never completed.
type WithdrawalExpirer struct {
	svc    StaleCanceller
	ttl    time.Duration
	batch  int
	logger *slog.Logger
}

// NewWithdrawalExpirer creates a WithdrawalExpirer for requests pending
// longer than ttl.
func NewWithdrawalExpirer(svc StaleCanceller, ttl time.Duration, batch int, logger *slog.Logger) *WithdrawalExpirer {
	if batch <= 0 {
		batch = 100
	}
	return &WithdrawalExpirer{svc: svc, ttl: ttl, batch: batch, logger: logger}
}

// RunLoop sweeps every interval until ctx is cancelled.
func (e *WithdrawalExpirer) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("withdrawal expirer stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := e.svc.ExpireStale(ctx, e.ttl, e.batch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.ErrorContext(ctx, "withdrawal expiry sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "expired stale withdrawals", slog.Int("count", n))
			}
		}
	}
}
