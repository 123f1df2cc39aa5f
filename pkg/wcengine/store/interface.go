package store

import "context"

// SequenceStore is the abstract persistence boundary named in §6: key =
// topic, value = tagged Pending|Settled union. Migrate must be atomic per
// §3's invariant that a partial migration (old topic removed, new not
// inserted) is never observable — implementations run it inside one
// transaction.
type SequenceStore interface {
	// Put inserts or replaces the sequence under seq.Topic.
	Put(ctx context.Context, seq *Sequence) error

	// Get looks up the sequence currently stored under topic.
	Get(ctx context.Context, topic string) (*Sequence, bool, error)

	// Delete removes the sequence stored under topic, if any.
	Delete(ctx context.Context, topic string) error

	// Migrate atomically moves a sequence from oldTopic to settled.Topic and
	// installs settled as its new state, in one transaction.
	Migrate(ctx context.Context, oldTopic string, settled *Sequence) error

	// ListTopics returns every topic currently held, for reconnect-time
	// subscription replay (§4.3, §8 scenario 5).
	ListTopics(ctx context.Context) ([]string, error)

	// DeleteExpired removes every settled sequence whose expiry has passed
	// as of now (unix seconds), returning each removed entry so the caller
	// can also drop its crypto agreement and unsubscribe its topic.
	DeleteExpired(ctx context.Context, now int64) ([]ExpiredEntry, error)

	// Close releases any underlying resources (connections, tickers).
	Close() error
}
