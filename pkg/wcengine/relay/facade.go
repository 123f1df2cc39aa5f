// Package relay is the bridge between the pairing/session engines and the
// transport (§4.4): it serializes/deserializes application payloads,
// correlates responses by JSON-RPC id (not merely by topic, closing the gap
// named in §4.4/§9), and classifies inbound traffic as request, response,
// or error.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// TransportClient is the subset of transport.Client the façade depends on,
// kept as an interface so tests can substitute a fake relay connection.
type TransportClient interface {
	Publish(ctx context.Context, topic, messageHex string, ttl time.Duration) error
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Inbound() <-chan transport.InboundMessage
	ConnectionEvents() <-chan transport.ConnectionEvent
}

// AgreementLookup is the crypto store's subset used for serialize/deserialize.
type AgreementLookup = wire.AgreementLookup

// InboundRequest is a decoded application request tagged with the topic it
// arrived on, destined for the subscriber (§4.4).
type InboundRequest struct {
	Topic   string
	Request *wire.Request
}

const defaultCorrelationTimeout = 60 * time.Second

// Facade implements the relay façade (§4.4).
type Facade struct {
	transport TransportClient
	crypto    AgreementLookup
	log       logger.Logger

	correlationTimeout time.Duration

	pendingMu sync.Mutex
	pending   map[string]map[int64]chan *wire.Response // topic -> id -> completion

	inboundRequests chan InboundRequest

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a relay façade over an already-dialed transport.
func New(t TransportClient, crypto AgreementLookup, log logger.Logger) *Facade {
	return &Facade{
		transport:          t,
		crypto:             crypto,
		log:                log,
		correlationTimeout: defaultCorrelationTimeout,
		pending:            make(map[string]map[int64]chan *wire.Response),
		inboundRequests:    make(chan InboundRequest, 64),
		stop:               make(chan struct{}),
	}
}

// SetCorrelationTimeout overrides the default 60s client-side response
// timeout (§5's "implementation-defined; 60s recommended").
func (f *Facade) SetCorrelationTimeout(d time.Duration) { f.correlationTimeout = d }

// InboundRequests is the stream of decoded requests for the subscriber.
func (f *Facade) InboundRequests() <-chan InboundRequest { return f.inboundRequests }

// ConnectionEvents passes through the transport's connection lifecycle,
// used by engines to restore subscriptions on reconnect (§4.4, §8 scenario 5).
func (f *Facade) ConnectionEvents() <-chan transport.ConnectionEvent {
	return f.transport.ConnectionEvents()
}

// Run starts the inbound dispatch loop; call once after Connect.
func (f *Facade) Run(ctx context.Context) {
	go f.dispatchLoop(ctx)
}

func (f *Facade) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case msg := <-f.transport.Inbound():
			f.classify(msg.Topic, msg.Message)
		}
	}
}

// classify implements §4.4's three-way decode attempt.
func (f *Facade) classify(topic, messageHex string) {
	var req wire.Request
	if err := wire.Deserialize(topic, messageHex, f.crypto, &req); err == nil && req.Method != "" {
		metrics.InboundMessages.WithLabelValues("request").Inc()
		select {
		case f.inboundRequests <- InboundRequest{Topic: topic, Request: &req}:
		default:
			f.log.Warn("inbound request buffer full, dropping", logger.Field{Key: "topic", Value: topic})
		}
		return
	}

	var resp wire.Response
	if err := wire.Deserialize(topic, messageHex, f.crypto, &resp); err == nil && (resp.Result != nil || resp.Error != nil) {
		if resp.Error != nil {
			metrics.InboundMessages.WithLabelValues("error").Inc()
		} else {
			metrics.InboundMessages.WithLabelValues("response").Inc()
		}
		f.completeResponse(topic, &resp)
		return
	}

	metrics.InboundMessages.WithLabelValues("dropped").Inc()
	f.log.Warn("dropped undecodable inbound payload", logger.Field{Key: "topic", Value: topic})
}

func (f *Facade) completeResponse(topic string, resp *wire.Response) {
	f.pendingMu.Lock()
	ch, ok := f.pending[topic][resp.ID]
	if ok {
		delete(f.pending[topic], resp.ID)
		if len(f.pending[topic]) == 0 {
			delete(f.pending, topic)
		}
	}
	f.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (f *Facade) register(topic string, id int64) chan *wire.Response {
	ch := make(chan *wire.Response, 1)
	f.pendingMu.Lock()
	if f.pending[topic] == nil {
		f.pending[topic] = make(map[int64]chan *wire.Response)
	}
	f.pending[topic][id] = ch
	f.pendingMu.Unlock()
	return ch
}

func (f *Facade) unregister(topic string, id int64) {
	f.pendingMu.Lock()
	delete(f.pending[topic], id)
	if len(f.pending[topic]) == 0 {
		delete(f.pending, topic)
	}
	f.pendingMu.Unlock()
}

// PublishAndAwait serializes req, publishes it on topic, and waits for a
// response correlated by req.ID — distinct from, and on top of, the
// transport's own waku_publish ack (§4.4's correctness fix: multiple
// concurrent publishes on one topic each get their own response).
func (f *Facade) PublishAndAwait(ctx context.Context, topic string, req *wire.Request, ttl time.Duration) (*wire.Response, error) {
	payloadHex, err := wire.Serialize(topic, req, f.crypto)
	if err != nil {
		return nil, err
	}

	ch := f.register(topic, req.ID)
	defer f.unregister(topic, req.ID)

	start := time.Now()
	if err := f.transport.Publish(ctx, topic, payloadHex, ttl); err != nil {
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		return nil, err
	}

	timer := time.NewTimer(f.correlationTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		return nil, ctx.Err()
	case resp := <-ch:
		metrics.RelayPublishLatency.Observe(time.Since(start).Seconds())
		metrics.RelayPublishes.WithLabelValues("success").Inc()
		return resp, nil
	case <-timer.C:
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		return nil, wcerr.New(wcerr.CodeTransport, "correlation timeout awaiting response on topic "+topic)
	}
}

// Publish serializes and publishes payload without awaiting a correlated
// response — used for one-way sends like session_reject, session_delete,
// or a JSON-RPC response to an inbound request.
func (f *Facade) Publish(ctx context.Context, topic string, payload any, ttl time.Duration) error {
	payloadHex, err := wire.Serialize(topic, payload, f.crypto)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := f.transport.Publish(ctx, topic, payloadHex, ttl); err != nil {
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		return err
	}
	metrics.RelayPublishLatency.Observe(time.Since(start).Seconds())
	metrics.RelayPublishes.WithLabelValues("success").Inc()
	return nil
}

// Close stops the dispatch loop.
func (f *Facade) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}
