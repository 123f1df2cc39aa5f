package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/pkg/wcengine/pairing"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

var (
	pairAppName string
	pairAppURL  string
)

var pairCmd = &cobra.Command{
	Use:   "pair <uri>",
	Short: "Consume a peer's pairing URI and settle the pairing",
	Args:  cobra.ExactArgs(1),
	RunE:  runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().StringVar(&pairAppName, "app-name", "wcengine-cli", "this peer's app name, carried in the pairing approval")
	pairCmd.Flags().StringVar(&pairAppURL, "app-url", "", "this peer's app URL, carried in the pairing approval")
	pairCmd.Flags().BoolVar(&isController, "controller", true, "pair as the fixed controller side of every session over this pairing")
}

func runPair(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.Pair(ctx, args[0], pairing.ProposeParams{
		Metadata: wire.AppMetadata{Name: pairAppName, URL: pairAppURL},
	}); err != nil {
		return fmt.Errorf("pair: %w", err)
	}

	waitForInterrupt()
	return nil
}
