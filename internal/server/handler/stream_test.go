package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

type fakeStream struct {
	msgs      []domain.StreamMessage
	lastAfter string
	lastCount int
}

func (f *fakeStream) StreamRead(_ context.Context, stream, after string, count int) ([]domain.StreamMessage, error) {
	f.lastAfter, f.lastCount = after, count
	return f.msgs, nil
}

func ledgerMsg(t *testing.T, id, user string, delta domain.Money) domain.StreamMessage {
	t.Helper()
	raw, err := json.Marshal(domain.LedgerEntry{UserID: user, Type: domain.LedgerDeposit, AmountDelta: delta})
	require.NoError(t, err)
	return domain.StreamMessage{ID: id, Payload: raw}
}

func TestReplayLedgerFiltersByUser(t *testing.T) {
	fs := &fakeStream{msgs: []domain.StreamMessage{
		ledgerMsg(t, "1-0", "alice", 100),
		{ID: "2-0", Payload: []byte("not json")},
		ledgerMsg(t, "3-0", "bob", 200),
	}}
	h := NewStreamHandler(fs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ReplayLedger(rec, httptest.NewRequest(http.MethodGet, "/api/admin/ledger/stream?after=0-5&count=9999&user=alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0-5", fs.lastAfter)
	require.Equal(t, maxStreamPage, fs.lastCount)

	var body struct {
		Entries []streamEntry `json:"entries"`
		Next    string        `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, "alice", body.Entries[0].Entry.UserID)
	require.Equal(t, "3-0", body.Next)
}

func TestReplayLedgerRejectsBadCount(t *testing.T) {
	h := NewStreamHandler(&fakeStream{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.ReplayLedger(rec, httptest.NewRequest(http.MethodGet, "/api/admin/ledger/stream?count=-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
