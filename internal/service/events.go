package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// publisher fans committed events out over the signal bus. A nil bus makes
// every call a no-op; publish failures are logged and never returned since
// the state change they describe has already committed.
type publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func (p publisher) publish(ctx context.Context, channel string, evt map[string]any) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WarnContext(ctx, "marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// ledger publishes committed ledger entries on the ledger channel and
// appends them to the durable ledger stream.
func (p publisher) ledger(ctx context.Context, entries ...domain.LedgerEntry) {
	if p.bus == nil {
		return
	}
	for _, e := range entries {
		evt := map[string]any{
			"event": "ledger_entry",
			"entry": e,
		}
		p.publish(ctx, domain.ChannelLedger, evt)

		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := p.bus.StreamAppend(ctx, domain.StreamLedger, payload); err != nil {
			p.logger.WarnContext(ctx, "append ledger stream failed",
				slog.Int64("entry_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
