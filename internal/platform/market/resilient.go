package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// RetryPolicy bounds the attempts made within one cycle.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
}

// Resilient wraps a QuoteSource with retries and a circuit breaker. Every
// failure it returns wraps domain.ErrSourceUnavailable.
type Resilient struct {
	src     domain.QuoteSource
	policy  RetryPolicy
	breaker *Breaker
	onOpen  func(ctx context.Context, source string, err error)
	logger  *slog.Logger
}

// NewResilient creates a Resilient source. onOpen, if set, is called each
// time the breaker opens.
func NewResilient(src domain.QuoteSource, policy RetryPolicy, breaker *Breaker, onOpen func(ctx context.Context, source string, err error), logger *slog.Logger) *Resilient {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Factor <= 0 {
		policy.Factor = 2
	}
	return &Resilient{
		src:     src,
		policy:  policy,
		breaker: breaker,
		onOpen:  onOpen,
		logger:  logger.With(slog.String("source", src.Name())),
	}
}

// Name returns the wrapped source name.
func (r *Resilient) Name() string { return r.src.Name() }

// FetchQuotes fetches from the wrapped source, retrying transient failures
// with exponential backoff. The whole retry loop counts as one breaker call.
func (r *Resilient) FetchQuotes(ctx context.Context) ([]domain.RawQuote, error) {
	if r.breaker == nil {
		return r.fetchWithRetry(ctx)
	}

	quotes, tripped, err := r.breaker.Execute(func() ([]domain.RawQuote, error) {
		return r.fetchWithRetry(ctx)
	})
	if err == nil {
		return quotes, nil
	}
	if isBreakerRejection(err) {
		return nil, fmt.Errorf("market/%s: circuit open: %w", r.src.Name(), domain.ErrSourceUnavailable)
	}
	if tripped {
		r.logger.WarnContext(ctx, "quote source circuit opened", slog.String("error", err.Error()))
		if r.onOpen != nil {
			r.onOpen(ctx, r.src.Name(), err)
		}
	}
	return nil, err
}

func (r *Resilient) fetchWithRetry(ctx context.Context) ([]domain.RawQuote, error) {
	b := &backoff.Backoff{
		Min:    r.policy.MinDelay,
		Max:    r.policy.MaxDelay,
		Factor: r.policy.Factor,
		Jitter: r.policy.Jitter,
	}

	var lastErr error
retry:
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		quotes, err := r.src.FetchQuotes(ctx)
		if err == nil {
			return quotes, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == r.policy.MaxAttempts {
			break retry
		}

		wait := b.Duration()
		r.logger.DebugContext(ctx, "quote fetch failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("market/%s: %w: %w", r.src.Name(), domain.ErrSourceUnavailable, lastErr)
}

var _ domain.QuoteSource = (*Resilient)(nil)
