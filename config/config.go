// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the engine's runtime configuration from a YAML or
// JSON file, applying environment-variable substitution and overrides on
// top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for a wcengine process.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Relay       *RelayConfig    `yaml:"relay" json:"relay"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// RelayConfig configures the WebSocket relay transport.
type RelayConfig struct {
	URL                 string        `yaml:"url" json:"url"`
	SigningKeyEnv       string        `yaml:"signing_key_env" json:"signing_key_env"`
	ProjectID           string        `yaml:"project_id" json:"project_id"`
	CorrelationTimeout  time.Duration `yaml:"correlation_timeout" json:"correlation_timeout"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	PingInterval        time.Duration `yaml:"ping_interval" json:"ping_interval"`
	ReconnectMinBackoff time.Duration `yaml:"reconnect_min_backoff" json:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff" json:"reconnect_max_backoff"`
	// UseHPKEPresettlement switches the session engine's pre-settlement
	// channel from reusing the pairing's raw agreement key to a one-shot
	// HPKE context sealed to the peer's pairing public key (§11.1).
	UseHPKEPresettlement bool `yaml:"use_hpke_presettlement" json:"use_hpke_presettlement"`
}

// KeyStoreConfig represents key storage configuration.
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"` // encrypted-file, memory
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay == nil {
		cfg.Relay = &RelayConfig{}
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = "wss://relay.walletconnect.com"
	}
	if cfg.Relay.SigningKeyEnv == "" {
		cfg.Relay.SigningKeyEnv = "WC_RELAY_SIGNING_KEY"
	}
	if cfg.Relay.CorrelationTimeout == 0 {
		cfg.Relay.CorrelationTimeout = 60 * time.Second
	}
	if cfg.Relay.HandshakeTimeout == 0 {
		cfg.Relay.HandshakeTimeout = 30 * time.Second
	}
	if cfg.Relay.PingInterval == 0 {
		cfg.Relay.PingInterval = 30 * time.Second
	}
	if cfg.Relay.ReconnectMinBackoff == 0 {
		cfg.Relay.ReconnectMinBackoff = 500 * time.Millisecond
	}
	if cfg.Relay.ReconnectMaxBackoff == 0 {
		cfg.Relay.ReconnectMaxBackoff = 30 * time.Second
	}

	if cfg.KeyStore != nil {
		if cfg.KeyStore.Type == "" {
			cfg.KeyStore.Type = "encrypted-file"
		}
		if cfg.KeyStore.Directory == "" {
			cfg.KeyStore.Directory = ".wcengine/keys"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9464
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}
}
