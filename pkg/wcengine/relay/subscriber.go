package relay

import (
	"context"
	"sync"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// RequestHandler processes one decoded inbound request for the topic it
// owns (§4.5). Engines register one handler per topic they hold.
type RequestHandler func(topic string, req *wire.Request)

// Subscriber is the topic-indexed dispatcher (§4.5): it maintains the set
// of subscribed topics and routes every inbound request to the handler
// registered for that topic, so pairing and session engines can share one
// relay connection without cross-talk.
type Subscriber struct {
	transport TransportClient
	log       logger.Logger

	mu     sync.RWMutex
	routes map[string]RequestHandler
}

// NewSubscriber creates a subscriber over an already-connected transport.
func NewSubscriber(t TransportClient, log logger.Logger) *Subscriber {
	return &Subscriber{transport: t, log: log, routes: make(map[string]RequestHandler)}
}

// SetSubscription adds topic to the active set, subscribes on the relay,
// and registers handler to receive every inbound request on that topic.
func (s *Subscriber) SetSubscription(ctx context.Context, topic string, handler RequestHandler) error {
	if err := s.transport.Subscribe(ctx, topic); err != nil {
		return err
	}
	s.mu.Lock()
	s.routes[topic] = handler
	s.mu.Unlock()
	return nil
}

// RemoveSubscription removes topic from the active set and unsubscribes.
func (s *Subscriber) RemoveSubscription(ctx context.Context, topic string) error {
	s.mu.Lock()
	delete(s.routes, topic)
	s.mu.Unlock()
	return s.transport.Unsubscribe(ctx, topic)
}

// Topics returns the currently subscribed topic set, used to drive
// reconnect-time subscription replay (§4.3, §8 scenario 5).
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]string, 0, len(s.routes))
	for t := range s.routes {
		topics = append(topics, t)
	}
	return topics
}

// Dispatch invokes the handler registered for ir.Topic, if any; requests for
// topics with no registered handler are logged and dropped.
func (s *Subscriber) Dispatch(ir InboundRequest) {
	s.mu.RLock()
	handler, ok := s.routes[ir.Topic]
	s.mu.RUnlock()
	if !ok {
		s.log.Warn("dropped inbound request for unowned topic", logger.Field{Key: "topic", Value: ir.Topic})
		return
	}
	handler(ir.Topic, ir.Request)
}

// Run consumes the façade's inbound request stream until ctx is done.
func (s *Subscriber) Run(ctx context.Context, inbound <-chan InboundRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case ir, ok := <-inbound:
			if !ok {
				return
			}
			s.Dispatch(ir)
		}
	}
}
