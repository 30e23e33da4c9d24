package market

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// Breaker opens after threshold consecutive failed fetches and lets a single
// probe through once cooldown has passed. Canceled fetches are not counted
// against the source.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker[[]domain.RawQuote]
	opened atomic.Bool
}

// NewBreaker creates a closed breaker for the named source.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	b := &Breaker{}
	b.cb = gobreaker.NewCircuitBreaker[[]domain.RawQuote](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.opened.Store(true)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b
}

// Execute runs fetch through the breaker. tripped reports whether this call
// moved the breaker to open.
func (b *Breaker) Execute(fetch func() ([]domain.RawQuote, error)) (quotes []domain.RawQuote, tripped bool, err error) {
	quotes, err = b.cb.Execute(fetch)
	return quotes, b.opened.Swap(false), err
}

// State returns the current state. An open breaker whose cooldown has passed
// reports half-open.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
