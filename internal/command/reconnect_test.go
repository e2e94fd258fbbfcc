package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamedock/internal/api"
	"gamedock/internal/session"
	"gamedock/internal/station"
	"gamedock/internal/ws"
)

// TestCountdownConvergesAcrossReconnects drives repeated connection drops and
// checks that the countdown always lands back on the server's value: each
// re-registration seeds from the ack and the authoritative fetch wins, so a
// flapping socket leaves the same state as an unbroken one.
func TestCountdownConvergesAcrossReconnects(t *testing.T) {
	const serverSeconds = int64(3600)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	fetcher := &fakeFetcher{
		session: &api.Session{SessionID: "44", RemainingSeconds: serverSeconds, Status: "ACTIVE"},
	}
	rec := session.New(&reconcilerAPI{fetcher: fetcher}, clockwork.NewFakeClock(), nil, zap.NewNop(), session.Config{})

	client := ws.NewClient(ws.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 50 * time.Millisecond,
	}, station.Identity{ID: "7"}, clockwork.NewRealClock(), zap.NewNop())
	t.Cleanup(client.Disconnect)

	d := NewDispatcher(client, rec, fetcher, newMemStore(), nil, clockwork.NewFakeClock(), zap.NewNop(), Config{})
	d.Register(context.Background())

	require.NoError(t, client.Connect(context.Background()))

	for cycle := 0; cycle < 3; cycle++ {
		var server *websocket.Conn
		select {
		case server = <-conns:
		case <-time.After(3 * time.Second):
			t.Fatalf("cycle %d: client never reconnected", cycle)
		}

		require.NoError(t, server.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err := server.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		require.Equal(t, "STATION_REGISTER", frame["action"])

		ack := fmt.Sprintf(`{"action":"SESSION_DETAILS","sessionId":"44","timeRemaining":%d}`, serverSeconds)
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(ack)))

		require.Eventually(t, func() bool {
			return rec.Snapshot().RemainingSeconds == serverSeconds
		}, 2*time.Second, 10*time.Millisecond, "cycle %d never converged", cycle)
		assert.Equal(t, session.StatusActive, rec.Snapshot().Status)

		// Drop the connection; the client re-registers after its delay.
		server.Close()
	}
}
