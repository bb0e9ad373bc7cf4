package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/verifierclient"
)

func newOutcomeCmd(a *app) *cobra.Command {
	var (
		action  string
		account string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Look up the receipt of the latest redeem, revoke or batch of an account on verifier_url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.VerifierURL == "" {
				return fmt.Errorf("verifier_url is not configured")
			}
			if !common.IsHexAddress(account) {
				return fmt.Errorf("invalid --account %q", account)
			}
			client := verifierclient.New(a.cfg.VerifierURL, verifierclient.WithLogger(a.log))
			outcome, err := client.Outcome(cmd.Context(), action, common.HexToAddress(account), wait)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), outcome)
		},
	}
	cmd.Flags().StringVar(&action, "action", spendauth.ActionRedeem, "redeem, revoke or submit_batch")
	cmd.Flags().StringVar(&account, "account", "", "account the action was taken for")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until a pending action finishes")
	return cmd
}
