package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/server/middleware"
)

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{subs: map[string]chan []byte{}}
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func dial(t *testing.T, srvURL, userID string) *websocket.Conn {
	t.Helper()
	header := map[string][]string{}
	if userID != "" {
		header[middleware.UserHeader] = []string{userID}
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srvURL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHubRoutesLedgerEventsToOwner(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(middleware.User(http.HandlerFunc(hub.HandleWS)))
	defer srv.Close()

	alice := dial(t, srv.URL, "alice")
	bob := dial(t, srv.URL, "bob")

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// channels are forwarded independently, so the ledger frame is read
	// before the valuation is published
	require.NoError(t, bus.Publish(ctx, domain.ChannelLedger, []byte(`{"event":"ledger_entry","entry":{"user_id":"alice","amount_delta":"-10.00"}}`)))
	env := readEnvelope(t, alice)
	require.Equal(t, domain.ChannelLedger, env.Channel)
	require.Contains(t, string(env.Data), `"alice"`)

	require.NoError(t, bus.Publish(ctx, domain.ChannelValuations, []byte(`{"event":"valuation_changed","item_key":"AK-47 | Redline"}`)))
	require.Equal(t, domain.ChannelValuations, readEnvelope(t, alice).Channel)

	// bob never sees alice's ledger entry; the first frame is the valuation
	require.Equal(t, domain.ChannelValuations, readEnvelope(t, bob).Channel)
}

func TestLedgerOwner(t *testing.T) {
	owner, ok := ledgerOwner([]byte(`{"entry":{"user_id":"u1"}}`))
	require.True(t, ok)
	require.Equal(t, "u1", owner)

	_, ok = ledgerOwner([]byte(`{"entry":{}}`))
	require.False(t, ok)
	_, ok = ledgerOwner([]byte(`not json`))
	require.False(t, ok)
}
