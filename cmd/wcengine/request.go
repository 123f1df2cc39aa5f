package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	requestMethod  string
	requestParams  string
	requestChainID string
)

var requestCmd = &cobra.Command{
	Use:   "request <settled-session-topic>",
	Short: "Send an application-level JSON-RPC request over a settled session and print the response",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&requestMethod, "method", "", "JSON-RPC method name (required)")
	requestCmd.Flags().StringVar(&requestParams, "params", "{}", "JSON-RPC params, as a JSON object or array")
	requestCmd.Flags().StringVar(&requestChainID, "chain", "", "CAIP-2 chain id this request targets, if any")
	_ = requestCmd.MarkFlagRequired("method")
}

func runRequest(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(requestParams)) {
		return fmt.Errorf("--params is not valid JSON: %s", requestParams)
	}

	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	resp, err := c.Request(ctx, args[0], requestMethod, []byte(requestParams), requestChainID)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
