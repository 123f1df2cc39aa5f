package store

import (
	"context"
	"sync"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// MemoryStore is the default in-process SequenceStore: a mutex-guarded map,
// crash-consistent only for the lifetime of the process (§6 names a
// persistent backend as an external collaborator; this is the built-in
// default used by tests and single-process deployments).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Sequence
}

// NewMemoryStore creates an empty in-memory sequence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Sequence)}
}

func (m *MemoryStore) Put(_ context.Context, seq *Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[seq.Topic] = seq
	return nil
}

func (m *MemoryStore) Get(_ context.Context, topic string) (*Sequence, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.data[topic]
	return seq, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, topic)
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context, oldTopic string, settled *Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[oldTopic]; !ok {
		return wcerr.New(wcerr.CodeNoSequenceForTopic, "migrate: no sequence at old topic "+oldTopic)
	}
	delete(m.data, oldTopic)
	m.data[settled.Topic] = settled
	return nil
}

func (m *MemoryStore) ListTopics(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topics := make([]string, 0, len(m.data))
	for t := range m.data {
		topics = append(topics, t)
	}
	return topics, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now int64) ([]ExpiredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []ExpiredEntry
	for topic, seq := range m.data {
		if seq.Settled != nil && seq.Settled.Expiry <= now {
			delete(m.data, topic)
			removed = append(removed, ExpiredEntry{Topic: topic, Kind: seq.Kind})
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
