package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
)

var serveTestRelayAddr string

var serveTestRelayCmd = &cobra.Command{
	Use:   "serve-test-relay",
	Short: "Run a minimal in-process relay speaking the waku_* protocol, for local development",
	Long: `serve-test-relay starts a WebSocket server implementing just enough of the
relay protocol (waku_publish/waku_subscribe/waku_unsubscribe/waku_subscription)
to exercise propose/pair/request against a real connection without a
production relay. Every connecting client must present a bearer token signed
with the same key configured at relay.signing_key_env.`,
	RunE: runServeTestRelay,
}

func init() {
	rootCmd.AddCommand(serveTestRelayCmd)
	serveTestRelayCmd.Flags().StringVar(&serveTestRelayAddr, "addr", "127.0.0.1:8787", "address to listen on")
}

func runServeTestRelay(cmd *cobra.Command, args []string) error {
	hub := newTestRelayHub()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := verifyTestRelayToken(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}
		hub.serve(conn)
	})

	log.Printf("test relay listening on ws://%s", serveTestRelayAddr)
	return http.ListenAndServe(serveTestRelayAddr, mux)
}

func verifyTestRelayToken(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return errMissingBearer
	}
	tokenStr := auth[len(prefix):]
	key := testRelaySigningKey()
	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	return err
}

var errMissingBearer = errors.New("missing bearer token")

// testRelaySigningKey resolves the same secret the client signs its bearer
// token with, via the configured relay signing key env var.
func testRelaySigningKey() []byte {
	if v := os.Getenv(cfg.Relay.SigningKeyEnv); v != "" {
		return []byte(v)
	}
	return []byte("wcengine-test-relay-dev-key")
}

// testRelayHub fans out published messages to every subscriber of a topic,
// tracking one subscription id per (connection, topic) pair the way a real
// relay would.
type testRelayHub struct {
	mu   sync.Mutex
	subs map[string]map[*testRelayConn]string // topic -> conn -> subscription id
}

func newTestRelayHub() *testRelayHub {
	return &testRelayHub{subs: make(map[string]map[*testRelayConn]string)}
}

type testRelayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *testRelayConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (h *testRelayHub) serve(ws *websocket.Conn) {
	rc := &testRelayConn{conn: ws}
	defer func() {
		h.dropAll(rc)
		_ = ws.Close()
	}()

	for {
		var req struct {
			ID      int64           `json:"id"`
			JSONRPC string          `json:"jsonrpc"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		switch req.Method {
		case transport.MethodWakuPublish:
			h.handlePublish(rc, req.ID, req.Params)
		case transport.MethodWakuSubscribe:
			h.handleSubscribe(rc, req.ID, req.Params)
		case transport.MethodWakuUnsubscribe:
			h.handleUnsubscribe(rc, req.ID, req.Params)
		default:
			_ = rc.writeJSON(map[string]any{"id": req.ID, "jsonrpc": "2.0",
				"error": map[string]any{"code": -32601, "message": "method not found"}})
		}
	}
}

func (h *testRelayHub) handlePublish(rc *testRelayConn, id int64, raw json.RawMessage) {
	var params transport.WakuPublishParams
	if err := json.Unmarshal(raw, &params); err != nil {
		_ = rc.writeJSON(errorResponse(id, "malformed waku_publish params"))
		return
	}

	h.mu.Lock()
	subscribers := make(map[*testRelayConn]string, len(h.subs[params.Topic]))
	for conn, subID := range h.subs[params.Topic] {
		subscribers[conn] = subID
	}
	h.mu.Unlock()

	for conn, subID := range subscribers {
		push := map[string]any{
			"id":      int64(0),
			"jsonrpc": "2.0",
			"method":  transport.MethodWakuSubscription,
			"params": transport.WakuSubscriptionParams{
				ID: subID,
				Data: transport.WakuSubscriptionData{
					Topic:   params.Topic,
					Message: params.Message,
				},
			},
		}
		_ = conn.writeJSON(push)
	}

	_ = rc.writeJSON(map[string]any{"id": id, "jsonrpc": "2.0", "result": true})
}

func (h *testRelayHub) handleSubscribe(rc *testRelayConn, id int64, raw json.RawMessage) {
	var params transport.WakuSubscribeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		_ = rc.writeJSON(errorResponse(id, "malformed waku_subscribe params"))
		return
	}
	subID := newTestRelaySubID()

	h.mu.Lock()
	if h.subs[params.Topic] == nil {
		h.subs[params.Topic] = make(map[*testRelayConn]string)
	}
	h.subs[params.Topic][rc] = subID
	h.mu.Unlock()

	_ = rc.writeJSON(map[string]any{"id": id, "jsonrpc": "2.0", "result": transport.WakuSubscribeResult{ID: subID}})
}

func (h *testRelayHub) handleUnsubscribe(rc *testRelayConn, id int64, raw json.RawMessage) {
	h.mu.Lock()
	for topic, conns := range h.subs {
		if subID, ok := conns[rc]; ok {
			var params transport.WakuUnsubscribeParams
			if json.Unmarshal(raw, &params) == nil && params.ID == subID {
				delete(conns, rc)
			}
		}
		if len(conns) == 0 {
			delete(h.subs, topic)
		}
	}
	h.mu.Unlock()
	_ = rc.writeJSON(map[string]any{"id": id, "jsonrpc": "2.0", "result": true})
}

func (h *testRelayHub) dropAll(rc *testRelayConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, conns := range h.subs {
		delete(conns, rc)
		if len(conns) == 0 {
			delete(h.subs, topic)
		}
	}
}

func errorResponse(id int64, message string) map[string]any {
	return map[string]any{"id": id, "jsonrpc": "2.0", "error": map[string]any{"code": -32602, "message": message}}
}

func newTestRelaySubID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
