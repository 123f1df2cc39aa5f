package store

import (
	"context"
	"time"

	"github.com/relaymesh/wcengine/internal/logger"
)

// OnExpired is invoked once per sequence the sweeper removes, after the
// store delete has already succeeded. It is the sweeper's only hook for
// side effects (dropping the crypto agreement, unsubscribing the topic,
// emitting an on_session_deleted/on_pairing_deleted delegate event) since
// this package cannot import the pairing/session engines that own those
// concerns without creating an import cycle — the client facade supplies
// the real implementation.
type OnExpired func(ctx context.Context, entry ExpiredEntry)

// Sweeper periodically removes settled sequences past their expiry (§3's
// "design hook — out of scope for this spec but reserved", resolved per §9
// open questions as a timer-driven GC loop).
type Sweeper struct {
	store     SequenceStore
	interval  time.Duration
	log       logger.Logger
	onExpired OnExpired
	tick      *time.Ticker
	stop      chan struct{}
}

// NewSweeper creates a sweeper over store, checking every interval. onExpired
// may be nil, in which case expired entries are dropped from the store with
// no further side effects.
func NewSweeper(store SequenceStore, interval time.Duration, log logger.Logger, onExpired OnExpired) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		log:       log,
		onExpired: onExpired,
		stop:      make(chan struct{}),
	}
}

// Start launches the background GC loop. Call Close to stop it.
func (s *Sweeper) Start() {
	s.tick = time.NewTicker(s.interval)
	go s.loop()
}

func (s *Sweeper) loop() {
	for {
		select {
		case <-s.tick.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	removed, err := s.store.DeleteExpired(ctx, time.Now().Unix())
	if err != nil {
		s.log.Error("sequence expiry sweep failed", logger.Field{Key: "error", Value: err})
		return
	}
	if len(removed) == 0 {
		return
	}
	s.log.Info("swept expired sequences", logger.Field{Key: "count", Value: len(removed)})
	if s.onExpired == nil {
		return
	}
	for _, entry := range removed {
		s.onExpired(ctx, entry)
	}
}

// Close stops the background GC loop.
func (s *Sweeper) Close() {
	close(s.stop)
	if s.tick != nil {
		s.tick.Stop()
	}
}
