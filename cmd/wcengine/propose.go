package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/pkg/wcengine/pairing"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

var (
	proposeAppName string
	proposeAppURL  string
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a new pairing and print its URI",
	Long: `propose connects to the relay, generates a new pairing proposal, and
prints the pairing URI to hand to the peer out of band (a QR code, a deep
link, or a copy-paste). The process stays connected and prints a
pairing_approved event once the peer pairs.`,
	RunE: runPropose,
}

func init() {
	rootCmd.AddCommand(proposeCmd)
	proposeCmd.Flags().StringVar(&proposeAppName, "app-name", "wcengine-cli", "this peer's app name, carried in the pairing metadata")
	proposeCmd.Flags().StringVar(&proposeAppURL, "app-url", "", "this peer's app URL, carried in the pairing metadata")
	proposeCmd.Flags().BoolVar(&isController, "controller", false, "propose as the fixed controller side of every session over this pairing")
}

func runPropose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	uri, err := c.Propose(ctx, pairing.ProposeParams{
		Metadata: wire.AppMetadata{Name: proposeAppName, URL: proposeAppURL},
	})
	if err != nil {
		return fmt.Errorf("propose pairing: %w", err)
	}
	fmt.Println(uri)

	waitForInterrupt()
	return nil
}
