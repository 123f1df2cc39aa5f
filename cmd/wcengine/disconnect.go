package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

var disconnectReason string

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <settled-session-topic>",
	Short: "Tear down a settled session and notify the peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
	disconnectCmd.Flags().StringVar(&disconnectReason, "reason", "user disconnected", "human-readable reason sent to the peer")
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	reason := wire.Reason{Code: 6000, Message: disconnectReason}
	if err := c.DeleteSession(ctx, args[0], reason); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
