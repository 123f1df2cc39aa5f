package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// SecretStore resolves the bearer credential used to mint the relay's
// WebSocket upgrade authentication (§6, §11.4): an OS-provided secret store
// in production, an in-memory or env-backed implementation otherwise.
type SecretStore interface {
	RelaySigningKey(ctx context.Context) ([]byte, error)
}

// envelope is the superset of every shape that can arrive on the
// connection: a waku_subscription push (Method set) or a response to one of
// our own outbound calls (ID set, Result or Error set).
type envelope struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wire.RPCError  `json:"error,omitempty"`
}

// Client is the single-connection relay transport (§4.3).
type Client struct {
	url     string
	secrets SecretStore
	log     logger.Logger

	dialTimeout         time.Duration
	readTimeout         time.Duration
	writeTimeout        time.Duration
	pingInterval        time.Duration
	reconnectMinBackoff time.Duration
	reconnectMaxBackoff time.Duration

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *wire.Response

	subMu sync.Mutex
	subs  map[string]string // topic -> subscription id

	inbound    chan InboundMessage
	connEvents chan ConnectionEvent

	stop      chan struct{}
	stopOnce  sync.Once
}

// Options configures a new Client. URL, Secrets, and Log are required;
// the timeouts default to the teacher's original hardcoded values when left
// zero, so most callers only need to set the fields config.RelayConfig
// actually overrides.
type Options struct {
	URL     string
	Secrets SecretStore
	Log     logger.Logger

	// DialTimeout bounds the WebSocket handshake (config's HandshakeTimeout).
	DialTimeout time.Duration
	// PingInterval is how often the ping loop sends a control frame.
	PingInterval time.Duration
	// ReconnectMinBackoff/ReconnectMaxBackoff bound the supervisor's
	// exponential backoff between failed reconnect attempts.
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
}

// New creates a relay client for url. Call Connect before Publish/Subscribe.
func New(opts Options) *Client {
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	reconnectMinBackoff := opts.ReconnectMinBackoff
	if reconnectMinBackoff == 0 {
		reconnectMinBackoff = time.Second
	}
	reconnectMaxBackoff := opts.ReconnectMaxBackoff
	if reconnectMaxBackoff == 0 {
		reconnectMaxBackoff = 30 * time.Second
	}

	return &Client{
		url:                 opts.URL,
		secrets:             opts.Secrets,
		log:                 opts.Log,
		dialTimeout:         dialTimeout,
		readTimeout:         60 * time.Second,
		writeTimeout:        30 * time.Second,
		pingInterval:        pingInterval,
		reconnectMinBackoff: reconnectMinBackoff,
		reconnectMaxBackoff: reconnectMaxBackoff,
		pending:             make(map[int64]chan *wire.Response),
		subs:                make(map[string]string),
		inbound:             make(chan InboundMessage, 64),
		connEvents:          make(chan ConnectionEvent, 8),
		stop:                make(chan struct{}),
	}
}

// Inbound is the single listener stream for decoded (topic, message) pushes.
func (c *Client) Inbound() <-chan InboundMessage { return c.inbound }

// ConnectionEvents streams connect/disconnect/reconnect transitions.
func (c *Client) ConnectionEvents() <-chan ConnectionEvent { return c.connEvents }

// Connect dials the relay and starts the read loop, ping loop, and
// reconnect supervisor.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.supervise(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.secrets != nil {
		token, err := c.mintToken(ctx)
		if err != nil {
			return wcerr.Wrap(wcerr.CodeTransport, "mint relay bearer token", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return wcerr.Wrap(wcerr.CodeTransport, fmt.Sprintf("relay dial failed (HTTP %d)", resp.StatusCode), err)
		}
		return wcerr.Wrap(wcerr.CodeTransport, "relay dial failed", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)

	c.connEvents <- EventConnected
	return nil
}

// mintToken signs a short-lived bearer token for the WebSocket upgrade,
// following the same claims+jti+signed-string shape as the OIDC agent's
// JWT bearer grant, HMAC-signed against the secret store's key instead of
// an RSA assertion key.
func (c *Client) mintToken(ctx context.Context) (string, error) {
	key, err := c.secrets.RelaySigningKey(ctx)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "wcengine-client",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// supervise owns the connection's lifetime after a successful dial: it runs
// the read and ping loops, and on loss of connection fails every pending
// completion, emits EventDisconnected, and retries the dial with backoff
// until Close is called.
func (c *Client) supervise(ctx context.Context) {
	for {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.readLoop() })
		g.Go(func() error { return c.pingLoop(gctx) })
		_ = g.Wait()

		c.connected.Store(false)
		c.failAllPending(wcerr.New(wcerr.CodeTransport, "relay connection lost"))

		select {
		case <-c.stop:
			return
		default:
		}
		c.connEvents <- EventDisconnected

		backoff := c.reconnectMinBackoff
		for {
			select {
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			if err := c.dial(ctx); err == nil {
				c.connEvents <- EventReconnected
				break
			}
			c.log.Warn("relay reconnect attempt failed", logger.Field{Key: "backoff", Value: backoff.String()})
			time.Sleep(backoff)
			if backoff < c.reconnectMaxBackoff {
				backoff *= 2
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				return wcerr.New(wcerr.CodeTransport, "ping: no connection")
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return wcerr.Wrap(wcerr.CodeTransport, "ping failed", err)
			}
		}
	}
}

func (c *Client) readLoop() error {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return wcerr.New(wcerr.CodeTransport, "read loop: no connection")
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return wcerr.Wrap(wcerr.CodeTransport, "set read deadline", err)
		}

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("relay read error", logger.Field{Key: "error", Value: err.Error()})
			}
			return wcerr.Wrap(wcerr.CodeTransport, "relay read failed", err)
		}

		if env.Method == MethodWakuSubscription {
			var params WakuSubscriptionParams
			if err := json.Unmarshal(env.Params, &params); err != nil {
				metrics.InboundMessages.WithLabelValues("dropped").Inc()
				c.log.Warn("dropped malformed subscription push", logger.Field{Key: "error", Value: err.Error()})
				continue
			}
			select {
			case c.inbound <- InboundMessage{Topic: params.Data.Topic, Message: params.Data.Message}:
			default:
				c.log.Warn("inbound buffer full, dropping message", logger.Field{Key: "topic", Value: params.Data.Topic})
			}
			continue
		}

		if env.ID == nil {
			metrics.InboundMessages.WithLabelValues("dropped").Inc()
			c.log.Warn("dropped unrecognized relay frame")
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*env.ID]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		resp := &wire.Response{ID: *env.ID, JSONRPC: "2.0", Result: env.Result, Error: env.Error}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- &wire.Response{ID: id, Error: &wire.RPCError{Code: -1, Message: err.Error()}}:
		default:
		}
	}
}

// call sends a JSON-RPC request over the connection and waits for a
// matching response keyed by id, honoring ctx cancellation (§4.3, §9's
// fix keying responses by id rather than topic alone).
func (c *Client) call(ctx context.Context, method string, params any) (*wire.Response, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil || !c.connected.Load() {
		return nil, wcerr.New(wcerr.CodeTransport, "not connected")
	}

	id := c.nextID.Add(1)
	req, err := wire.NewRequest(id, wire.Method(method), params)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeTransport, "build request", err)
	}

	respChan := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.connMu.Unlock()
		return nil, wcerr.Wrap(wcerr.CodeTransport, "set write deadline", err)
	}
	err = conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		c.connected.Store(false)
		return nil, wcerr.Wrap(wcerr.CodeTransport, "write request", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respChan:
		return resp, nil
	}
}

// Publish sends a waku_publish and waits for the server's ack. Not retried
// by this layer (§4.3): higher layers decide.
func (c *Client) Publish(ctx context.Context, topic, messageHex string, ttl time.Duration) error {
	resp, err := c.call(ctx, MethodWakuPublish, WakuPublishParams{Topic: topic, Message: messageHex, TTL: int64(ttl.Seconds())})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return wcerr.New(wcerr.CodeTransport, "publish rejected: "+resp.Error.Message)
	}
	return nil
}

// Subscribe sends a waku_subscribe and records the server-assigned
// subscription id for a later Unsubscribe. Retried at most once on failure.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	err := c.subscribeOnce(ctx, topic)
	if err == nil {
		return nil
	}
	return c.subscribeOnce(ctx, topic)
}

func (c *Client) subscribeOnce(ctx context.Context, topic string) error {
	start := time.Now()
	resp, err := c.call(ctx, MethodWakuSubscribe, WakuSubscribeParams{Topic: topic})
	if err != nil {
		metrics.RelaySubscriptions.WithLabelValues("subscribe", "failure").Inc()
		return err
	}
	if resp.IsError() {
		metrics.RelaySubscriptions.WithLabelValues("subscribe", "failure").Inc()
		return wcerr.New(wcerr.CodeTransport, "subscribe rejected: "+resp.Error.Message)
	}
	var result WakuSubscribeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		metrics.RelaySubscriptions.WithLabelValues("subscribe", "failure").Inc()
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "decode subscribe result", err)
	}
	c.subMu.Lock()
	c.subs[topic] = result.ID
	c.subMu.Unlock()
	metrics.RelaySubscribeLatency.Observe(time.Since(start).Seconds())
	metrics.RelaySubscriptions.WithLabelValues("subscribe", "success").Inc()
	return nil
}

// Unsubscribe sends a waku_unsubscribe for topic's recorded subscription id.
// Retried at most once on failure.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	err := c.unsubscribeOnce(ctx, topic)
	if err == nil {
		return nil
	}
	return c.unsubscribeOnce(ctx, topic)
}

func (c *Client) unsubscribeOnce(ctx context.Context, topic string) error {
	c.subMu.Lock()
	id, ok := c.subs[topic]
	c.subMu.Unlock()
	if !ok {
		return wcerr.New(wcerr.CodeNoSequenceForTopic, "no active subscription for topic "+topic)
	}
	resp, err := c.call(ctx, MethodWakuUnsubscribe, WakuUnsubscribeParams{ID: id})
	if err != nil {
		metrics.RelaySubscriptions.WithLabelValues("unsubscribe", "failure").Inc()
		return err
	}
	if resp.IsError() {
		metrics.RelaySubscriptions.WithLabelValues("unsubscribe", "failure").Inc()
		return wcerr.New(wcerr.CodeTransport, "unsubscribe rejected: "+resp.Error.Message)
	}
	c.subMu.Lock()
	delete(c.subs, topic)
	c.subMu.Unlock()
	metrics.RelaySubscriptions.WithLabelValues("unsubscribe", "success").Inc()
	return nil
}

// Close stops the supervisor and closes the underlying connection.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	return err
}
