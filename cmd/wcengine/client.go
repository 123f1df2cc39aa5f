package main

import (
	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/client"
	"github.com/relaymesh/wcengine/pkg/wcengine/secret"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
)

var isController bool

// newClient builds a client.Client from the loaded config, using an
// env-backed secret store and an in-process sequence store. Each CLI
// invocation is a fresh process, so persistence across commands is left to
// a future Postgres-backed deployment (store.NewPostgresStore) rather than
// this one-shot CLI maintaining state on disk.
func newClient(delegate client.Delegate) *client.Client {
	log := logger.GetDefaultLogger()
	secrets := secret.NewEnvStore(cfg.Relay.SigningKeyEnv)

	c := client.New(client.Options{
		RelayURL:             cfg.Relay.URL,
		Secrets:              secrets,
		SeqStore:             store.NewMemoryStore(),
		Log:                  log,
		IsController:         isController,
		UseHPKEPresettlement: cfg.Relay.UseHPKEPresettlement,
		CorrelationTimeout:   cfg.Relay.CorrelationTimeout,
		HandshakeTimeout:     cfg.Relay.HandshakeTimeout,
		PingInterval:         cfg.Relay.PingInterval,
		ReconnectMinBackoff:  cfg.Relay.ReconnectMinBackoff,
		ReconnectMaxBackoff:  cfg.Relay.ReconnectMaxBackoff,
	})
	c.SetDelegate(delegate)
	return c
}
