// Package secret holds the relay bearer credential outside of process
// memory dumps and source control: the engine never hardcodes it, following
// §6's "stored in an OS-provided secret store" requirement. This package
// gives that abstract requirement three concrete, swappable implementations.
package secret

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// Store resolves the signing key used to mint the relay's bearer token.
// Satisfies transport.SecretStore.
type Store interface {
	RelaySigningKey(ctx context.Context) ([]byte, error)
}

// EnvStore reads the signing key from an environment variable, loaded via
// godotenv at process start (§10.3). Suitable for local development and CI.
type EnvStore struct {
	varName string
}

// NewEnvStore creates a Store backed by the named environment variable.
func NewEnvStore(varName string) *EnvStore {
	return &EnvStore{varName: varName}
}

func (e *EnvStore) RelaySigningKey(_ context.Context) ([]byte, error) {
	v := os.Getenv(e.varName)
	if v == "" {
		return nil, wcerr.New(wcerr.CodeKeyNotFound, "relay signing key not set: "+e.varName)
	}
	return []byte(strings.TrimSpace(v)), nil
}

// FileStore reads the signing key from a single file, the minimal
// filesystem-backed analogue of an OS secret store, grounded on the
// directory-scoped file key storage the pack uses for key pairs:
// 0600-permission enforcement, read-once-and-cache under a mutex.
type FileStore struct {
	path string

	mu     sync.RWMutex
	cached []byte
}

// NewFileStore creates a Store that reads path on first use and caches it.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) RelaySigningKey(_ context.Context) ([]byte, error) {
	f.mu.RLock()
	if f.cached != nil {
		defer f.mu.RUnlock()
		return f.cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil {
		return f.cached, nil
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "stat relay secret file", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, wcerr.New(wcerr.CodeKeyNotFound, "relay secret file permissions too permissive: "+f.path)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "read relay secret file", err)
	}
	f.cached = []byte(strings.TrimSpace(string(data)))
	return f.cached, nil
}

// MemoryStore holds the key directly in memory; used by tests and the
// bundled test relay.
type MemoryStore struct {
	key []byte
}

// NewMemoryStore wraps a raw key.
func NewMemoryStore(key []byte) *MemoryStore {
	return &MemoryStore{key: key}
}

func (m *MemoryStore) RelaySigningKey(_ context.Context) ([]byte, error) {
	return m.key, nil
}
