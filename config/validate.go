// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import "strings"

// ValidationError describes one configuration problem found by
// ValidateConfiguration. Level is either "error" (fails loading) or "warn"
// (logged, loading proceeds).
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks a loaded Config for obviously broken values.
// It never mutates cfg.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Relay == nil {
		errs = append(errs, ValidationError{Field: "relay", Message: "relay section is required", Level: "error"})
		return errs
	}

	if !strings.HasPrefix(cfg.Relay.URL, "ws://") && !strings.HasPrefix(cfg.Relay.URL, "wss://") {
		errs = append(errs, ValidationError{Field: "relay.url", Message: "must be a ws:// or wss:// URL", Level: "error"})
	}

	if cfg.Relay.ReconnectMinBackoff > cfg.Relay.ReconnectMaxBackoff {
		errs = append(errs, ValidationError{
			Field:   "relay.reconnect_min_backoff",
			Message: "must not exceed reconnect_max_backoff",
			Level:   "error",
		})
	}

	if cfg.KeyStore != nil && cfg.KeyStore.Type != "encrypted-file" && cfg.KeyStore.Type != "memory" {
		errs = append(errs, ValidationError{
			Field:   "keystore.type",
			Message: "unknown keystore type " + cfg.KeyStore.Type,
			Level:   "warn",
		})
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, ValidationError{Field: "logging.level", Message: "unknown log level " + cfg.Logging.Level, Level: "warn"})
		}
	}

	return errs
}
