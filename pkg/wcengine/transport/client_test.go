package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/internal/logger"
)

// fakeRelay is a minimal waku_* relay used to exercise the client against a
// real WebSocket connection, grounded on the teacher's httptest-backed
// websocket transport tests.
func fakeRelay(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Authorization"), "relay client must send a bearer token")

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var req envelope
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case MethodWakuPublish:
				_ = conn.WriteJSON(map[string]any{"id": req.ID, "jsonrpc": "2.0", "result": map[string]any{}})
			case MethodWakuSubscribe:
				_ = conn.WriteJSON(map[string]any{"id": req.ID, "jsonrpc": "2.0", "result": map[string]any{"id": "sub-1"}})
				var params WakuSubscribeParams
				_ = json.Unmarshal(req.Params, &params)
				push := map[string]any{
					"jsonrpc": "2.0",
					"method":  MethodWakuSubscription,
					"params": map[string]any{
						"id":   "sub-1",
						"data": map[string]any{"topic": params.Topic, "message": "deadbeef"},
					},
				}
				_ = conn.WriteJSON(push)
			case MethodWakuUnsubscribe:
				_ = conn.WriteJSON(map[string]any{"id": req.ID, "jsonrpc": "2.0", "result": map[string]any{}})
			}
		}
	}))
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	log := logger.NewDefaultLogger()
	return New(Options{URL: wsURL, Secrets: fakeSecretStore{}, Log: log})
}

type fakeSecretStore struct{}

func (fakeSecretStore) RelaySigningKey(context.Context) ([]byte, error) {
	return []byte("test-signing-key"), nil
}

func TestClient_PublishAck(t *testing.T) {
	server := fakeRelay(t)
	defer server.Close()
	c := newTestClient(t, server)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Publish(ctx, "topic-a", "deadbeef", 7*24*time.Hour))
}

func TestClient_SubscribeDeliversInbound(t *testing.T) {
	server := fakeRelay(t)
	defer server.Close()
	c := newTestClient(t, server)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Subscribe(ctx, "topic-a"))

	select {
	case msg := <-c.Inbound():
		require.Equal(t, "topic-a", msg.Topic)
		require.Equal(t, "deadbeef", msg.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	require.NoError(t, c.Unsubscribe(ctx, "topic-a"))
}
