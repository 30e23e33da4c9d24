package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

const maxStreamPage = 500

// StreamReader reads the durable ledger stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// StreamHandler lets consumers that missed live ledger events catch up.
type StreamHandler struct {
	reader StreamReader
	logger *slog.Logger
}

func NewStreamHandler(reader StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{reader: reader, logger: logger}
}

type streamEntry struct {
	ID    string             `json:"id"`
	Entry domain.LedgerEntry `json:"entry"`
}

// ReplayLedger returns ledger entries after the given stream id, optionally
// restricted to one user. "next" is the cursor for the following page.
// GET /api/admin/ledger/stream?after=<id>&count=<n>&user=<id>
func (h *StreamHandler) ReplayLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, maxStreamPage)
	}
	user := q.Get("user")

	msgs, err := h.reader.StreamRead(r.Context(), domain.StreamLedger, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "replay ledger stream", err)
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		var e domain.LedgerEntry
		if err := json.Unmarshal(m.Payload, &e); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skip malformed ledger stream entry",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if user != "" && e.UserID != user {
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Entry: e})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "next": next})
}
