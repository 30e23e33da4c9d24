// Package notify alerts operators about integrity-relevant events: quote
// sources going down, failed valuation cycles and ledger verification
// failures. Alerts fan out to every configured Sender and can be filtered by
// event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types.
const (
	EventSourceDown         = "source_down"
	EventCycleFailed        = "cycle_failed"
	EventLedgerInconsistent = "ledger_inconsistent"
)

// Sender delivers one alert to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to its senders. An empty event filter allows
// every event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert if event passes the filter. Every sender is tried;
// the joined sender errors are returned.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SourceDown matches the breaker open callback of the market client.
func (n *Notifier) SourceDown(ctx context.Context, source string, cause error) {
	msg := fmt.Sprintf("Quote source %q stopped responding and was taken out of rotation.\nLast error: %v", source, cause)
	_ = n.Notify(ctx, EventSourceDown, "Quote source down", msg)
}

// CycleFailed reports a valuation cycle that produced no update.
func (n *Notifier) CycleFailed(ctx context.Context, failedSources []string, cause error) {
	msg := fmt.Sprintf("Valuation cycle failed: %v", cause)
	if len(failedSources) > 0 {
		msg += "\nFailed sources: " + strings.Join(failedSources, ", ")
	}
	_ = n.Notify(ctx, EventCycleFailed, "Valuation cycle failed", msg)
}

// LedgerInconsistent reports a user whose ledger does not replay to the
// stored balance.
func (n *Notifier) LedgerInconsistent(ctx context.Context, userID string, cause error) {
	msg := fmt.Sprintf("Ledger verification failed for user %s: %v", userID, cause)
	_ = n.Notify(ctx, EventLedgerInconsistent, "Ledger inconsistency", msg)
}
