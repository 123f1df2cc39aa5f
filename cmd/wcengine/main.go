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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/config"
	"github.com/relaymesh/wcengine/internal/metrics"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wcengine",
	Short: "wcengine CLI - pairing and session driver for the relay protocol engine",
	Long: `wcengine drives the pairing/session protocol engine from the command
line: propose or accept a pairing, propose or approve a session over it, send
an application request, and run a local test relay to exercise all of it
without a live production relay.`,
	PersistentPreRunE: loadConfig,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a single config file, bypassing environment-based discovery")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	_ = config.LoadDotEnv(".env")

	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		config.SubstituteEnvVarsInConfig(loaded)
		cfg = loaded
	} else {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	startMetricsServer()
	return nil
}

// startMetricsServer runs the Prometheus /metrics endpoint in the
// background for the lifetime of the invoked subcommand, if enabled.
func startMetricsServer() {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return
	}
	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	go func() {
		if err := metrics.StartServer(addr); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server on %s stopped: %v\n", addr, err)
		}
	}()
}
