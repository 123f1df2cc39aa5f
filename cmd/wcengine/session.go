package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaymesh/wcengine/pkg/wcengine/session"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

var (
	sessionAppName    string
	sessionAppURL     string
	sessionChains     []string
	sessionMethods    []string
	sessionNoAcctProf bool

	approveAccounts []string
)

var proposeSessionCmd = &cobra.Command{
	Use:   "session-propose <settled-pairing-topic>",
	Short: "Propose a new session over an already-settled pairing",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposeSession,
}

var approveSessionCmd = &cobra.Command{
	Use:   "session-approve <proposal-topic>",
	Short: "Approve a pending session proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runApproveSession,
}

func init() {
	rootCmd.AddCommand(proposeSessionCmd)
	rootCmd.AddCommand(approveSessionCmd)

	proposeSessionCmd.Flags().StringVar(&sessionAppName, "app-name", "wcengine-cli", "this peer's app name")
	proposeSessionCmd.Flags().StringVar(&sessionAppURL, "app-url", "", "this peer's app URL")
	proposeSessionCmd.Flags().StringSliceVar(&sessionChains, "chain", nil, "CAIP-2 chain id to request, repeatable (e.g. eip155:1)")
	proposeSessionCmd.Flags().StringSliceVar(&sessionMethods, "method", nil, "JSON-RPC method to request, repeatable (e.g. eth_sendTransaction)")
	proposeSessionCmd.Flags().BoolVar(&sessionNoAcctProf, "no-account-proof", false, "don't require an account ownership proof at approval")
	proposeSessionCmd.Flags().BoolVar(&isController, "controller", false, "propose as the fixed controller side of this session")

	approveSessionCmd.Flags().StringSliceVar(&approveAccounts, "account", nil, "<caip10-account>:signature:<hex>, repeatable")
	approveSessionCmd.Flags().BoolVar(&isController, "controller", true, "approve as the fixed controller side of this session")
}

func runProposeSession(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	requireProof := !sessionNoAcctProf
	topic, err := c.ProposeSession(ctx, args[0], session.ProposeSessionParams{
		Metadata:            wire.AppMetadata{Name: sessionAppName, URL: sessionAppURL},
		Blockchains:         wire.Blockchains{Chains: sessionChains},
		JSONRPC:             wire.JSONRPCPermission{Methods: sessionMethods},
		RequireAccountProof: &requireProof,
	})
	if err != nil {
		return fmt.Errorf("propose session: %w", err)
	}
	fmt.Println(topic)

	waitForInterrupt()
	return nil
}

func runApproveSession(cmd *cobra.Command, args []string) error {
	accounts, err := parseAccountProofs(approveAccounts)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c := newClient(cliDelegate{})
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.ApproveSession(ctx, args[0], accounts); err != nil {
		return fmt.Errorf("approve session: %w", err)
	}

	waitForInterrupt()
	return nil
}

func parseAccountProofs(raw []string) ([]wire.AccountProof, error) {
	proofs := make([]wire.AccountProof, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":signature:", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed --account %q, expected <caip10-account>:signature:<hex>", r)
		}
		proofs = append(proofs, wire.AccountProof{Account: parts[0], Signature: parts[1]})
	}
	return proofs, nil
}
