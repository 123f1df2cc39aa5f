// Package client wires the crypto store, sequence store, transport, relay
// façade, pairing engine, and session engine into one object a host
// application constructs once per relay connection (§9's "owned object
// that receives engine handles via registration" design note).
package client

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/pairing"
	"github.com/relaymesh/wcengine/pkg/wcengine/relay"
	"github.com/relaymesh/wcengine/pkg/wcengine/secret"
	"github.com/relaymesh/wcengine/pkg/wcengine/session"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// sweepInterval is how often the expiry sweeper checks the sequence store
// for settled sequences past their expiry (§10.5).
const sweepInterval = time.Minute

// Options configures a new Client. RelayURL, Secrets, and SeqStore are
// required; everything else has a working default.
type Options struct {
	RelayURL string
	Secrets  secret.Store
	SeqStore store.SequenceStore
	Log      logger.Logger

	// IsController is this peer's fixed preference for the controller
	// role in every pairing/session it proposes or approves.
	IsController bool

	// Identity optionally signs pairing proposals/approvals (§4.8).
	Identity *crypto.IdentityKeyPair

	// TrustPeerKey optionally verifies a peer's identity signature
	// (§4.8). A nil func means this client never verifies one.
	TrustPeerKey func(identityKeyHex string) bool

	// UseHPKEPresettlement selects the HPKE one-shot-encapsulation
	// pre-settlement channel for proposed sessions over reusing the
	// pairing's raw agreement keys (§11.1, config.RelayConfig's field of
	// the same name).
	UseHPKEPresettlement bool

	// CorrelationTimeout overrides the relay façade's default 60s
	// request/response correlation wait (config.RelayConfig's
	// CorrelationTimeout). Zero keeps the façade's own default.
	CorrelationTimeout time.Duration
	// HandshakeTimeout bounds the transport's WebSocket dial. Zero keeps
	// the transport's own default.
	HandshakeTimeout time.Duration
	// PingInterval is how often the transport sends a WebSocket ping.
	// Zero keeps the transport's own default.
	PingInterval time.Duration
	// ReconnectMinBackoff/ReconnectMaxBackoff bound the transport's
	// exponential backoff between failed reconnect attempts. Zero keeps
	// the transport's own defaults.
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
}

// transportClient is the subset of transport.Client the Client depends on,
// kept as an interface so tests can substitute a fake relay connection
// instead of dialing a real WebSocket (mirrors relay.TransportClient's own
// reason for being an interface).
type transportClient interface {
	relay.TransportClient
	Connect(ctx context.Context) error
	Close() error
}

// Client is the top-level façade a host application drives: Connect to
// open the relay session, Propose/Pair/Approve/Request to run the
// protocol, and Close to tear everything down.
type Client struct {
	transport transportClient
	relay     *relay.Facade
	sub       *relay.Subscriber
	crypto    *crypto.Store
	seqStore  store.SequenceStore
	sweeper   *store.Sweeper
	log       logger.Logger

	pairing *pairing.Engine
	session *session.Engine

	mu       sync.RWMutex
	delegate Delegate

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New constructs a Client and its engines around a real relay connection,
// but does not dial it; call Connect to do that.
func New(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	t := transport.New(transport.Options{
		URL:                 opts.RelayURL,
		Secrets:             opts.Secrets,
		Log:                 log,
		DialTimeout:         opts.HandshakeTimeout,
		PingInterval:        opts.PingInterval,
		ReconnectMinBackoff: opts.ReconnectMinBackoff,
		ReconnectMaxBackoff: opts.ReconnectMaxBackoff,
	})
	return newClient(t, opts, log)
}

// newWithTransport builds a Client around an already-constructed transport,
// letting tests substitute a fake that never dials a real connection.
func newWithTransport(t transportClient, opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return newClient(t, opts, log)
}

func newClient(t transportClient, opts Options, log logger.Logger) *Client {
	c := &Client{
		transport: t,
		crypto:    crypto.NewStore(),
		seqStore:  opts.SeqStore,
		log:       log,
		delegate:  noopDelegate{},
	}

	c.relay = relay.New(c.transport, c.crypto, log)
	if opts.CorrelationTimeout > 0 {
		c.relay.SetCorrelationTimeout(opts.CorrelationTimeout)
	}
	c.sub = relay.NewSubscriber(c.transport, log)

	c.pairing = pairing.New(c.crypto, c.seqStore, c.relay, c.sub, log,
		&pairingDelegateAdapter{c: c}, opts.IsController, opts.Identity, opts.TrustPeerKey)
	c.session = session.New(c.crypto, c.seqStore, c.relay, c.sub, log,
		&sessionDelegateAdapter{c: c}, opts.IsController, opts.UseHPKEPresettlement)

	c.sweeper = store.NewSweeper(c.seqStore, sweepInterval, log, c.onExpired)

	return c
}

// SetDelegate installs the host's event receiver. A nil delegate restores
// the no-op default, so dispatch never needs a nil check (§9's "weak
// delegate" note).
func (c *Client) SetDelegate(d Delegate) {
	if d == nil {
		d = noopDelegate{}
	}
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

func (c *Client) delegateRef() Delegate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delegate
}

// Connect dials the relay, starts the façade/subscriber dispatch loops and
// the expiry sweeper, restores subscriptions for every stored sequence, and
// arranges for a transport reconnect to restore them again.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	go c.relay.Run(c.runCtx)
	go c.sub.Run(c.runCtx, c.relay.InboundRequests())
	go c.watchConnectionEvents(c.runCtx)

	if err := c.RestoreSubscriptions(ctx); err != nil {
		return err
	}
	c.sweeper.Start()
	return nil
}

// RestoreSubscriptions re-subscribes every stored pairing and session
// topic, then re-applies the settled-pairing-topic handoff (pairing's own
// RestoreSubscriptions would otherwise leave its discard handler in place
// on a settled pairing topic the session engine has since taken over).
func (c *Client) RestoreSubscriptions(ctx context.Context) error {
	if err := c.pairing.RestoreSubscriptions(ctx); err != nil {
		return err
	}
	if err := c.session.RestoreSubscriptions(ctx); err != nil {
		return err
	}
	return c.rebindSettledPairingTopics(ctx)
}

// rebindSettledPairingTopics overrides the subscription handler on every
// settled pairing topic with the session engine's HandlePairingPayload,
// completing the handoff pairing.Engine's own doc comment describes.
func (c *Client) rebindSettledPairingTopics(ctx context.Context) error {
	topics, err := c.seqStore.ListTopics(ctx)
	if err != nil {
		return err
	}
	for _, topic := range topics {
		seq, ok, err := c.seqStore.Get(ctx, topic)
		if err != nil || !ok || seq.Kind != store.KindPairing || seq.Settled == nil {
			continue
		}
		if err := c.sub.SetSubscription(ctx, topic, c.session.HandlePairingPayload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) watchConnectionEvents(ctx context.Context) {
	events := c.relay.ConnectionEvents()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev == transport.EventReconnected {
				metrics.ReconnectEvents.WithLabelValues("reconnected").Inc()
				if err := c.RestoreSubscriptions(context.Background()); err != nil {
					c.log.Error("restore subscriptions after reconnect failed", logger.Field{Key: "error", Value: err.Error()})
				}
			} else if ev == transport.EventDisconnected {
				metrics.ReconnectEvents.WithLabelValues("disconnected").Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

// onExpired is the sweeper's cleanup hook (§10.5): it drops the crypto
// agreement, unsubscribes the topic, and notifies the host delegate with
// reason {6000, "expired"}.
func (c *Client) onExpired(ctx context.Context, entry store.ExpiredEntry) {
	c.crypto.Drop(entry.Topic)
	if err := c.sub.RemoveSubscription(ctx, entry.Topic); err != nil {
		c.log.Warn("unsubscribe expired topic failed", logger.Field{Key: "topic", Value: entry.Topic}, logger.Field{Key: "error", Value: err.Error()})
	}
	delegate := c.delegateRef()
	switch entry.Kind {
	case store.KindSession:
		metrics.SessionsActive.Dec()
		metrics.SessionsExpired.Inc()
		metrics.SessionsDeleted.WithLabelValues("expired").Inc()
		delegate.OnSessionDeleted(entry.Topic, expiredReason)
	case store.KindPairing:
		metrics.PairingsActive.Dec()
		metrics.PairingsDeleted.WithLabelValues("expired").Inc()
		delegate.OnPairingDeleted(entry.Topic, expiredReason)
	}
}

// Propose starts a new pairing and returns its pairing URI.
func (c *Client) Propose(ctx context.Context, params pairing.ProposeParams) (string, error) {
	return c.pairing.Propose(ctx, params)
}

// Pair consumes a peer's pairing URI.
func (c *Client) Pair(ctx context.Context, uri string, params pairing.ProposeParams) error {
	return c.pairing.Pair(ctx, uri, params)
}

// ProposeSession starts a new session over an already-settled pairing.
func (c *Client) ProposeSession(ctx context.Context, pairingSettledTopic string, params session.ProposeSessionParams) (string, error) {
	return c.session.ProposeSession(ctx, pairingSettledTopic, params)
}

// ApproveSession accepts a pending session proposal.
func (c *Client) ApproveSession(ctx context.Context, proposalTopic string, accounts []wire.AccountProof) error {
	return c.session.Approve(ctx, proposalTopic, accounts)
}

// RejectSession declines a pending session proposal.
func (c *Client) RejectSession(ctx context.Context, proposalTopic string, reason wire.Reason) error {
	return c.session.Reject(ctx, proposalTopic, reason)
}

// Request sends an application-level JSON-RPC request over a settled
// session.
func (c *Client) Request(ctx context.Context, topic, method string, params []byte, chainID string) (*wire.Response, error) {
	return c.session.Request(ctx, topic, method, params, chainID)
}

// Respond answers an inbound session request delivered via
// Delegate.OnSessionRequest.
func (c *Client) Respond(ctx context.Context, topic string, requestID int64, result []byte, rpcErr *wire.RPCError) error {
	return c.session.Respond(ctx, topic, requestID, result, rpcErr)
}

// DeleteSession tears down a settled session.
func (c *Client) DeleteSession(ctx context.Context, topic string, reason wire.Reason) error {
	return c.session.Delete(ctx, topic, reason)
}

// Close stops the sweeper and dispatch loops and closes the transport.
func (c *Client) Close() error {
	c.sweeper.Close()
	if c.runCancel != nil {
		c.runCancel()
	}
	c.relay.Close()
	return c.transport.Close()
}
