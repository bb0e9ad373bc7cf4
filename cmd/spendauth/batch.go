package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/verifierclient"
	"github.com/coinbase/spendauth/wallet"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Work with delegated call batches",
	}
	cmd.AddCommand(newBatchBuildCmd(a))
	cmd.AddCommand(newBatchSendCmd(a))
	return cmd
}

func newBatchBuildCmd(a *app) *cobra.Command {
	var (
		from     string
		callSpec []string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a wallet_sendCalls batch",
		Example: `  spendauth batch build --from 0x... --call 0xRecipient:0.001
  spendauth batch build --from 0x... --call 0xToken:0:0xa9059cbb...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := a.buildBatch(cmd.Context(), from, callSpec)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), batch)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sending account (defaults to the configured signer)")
	cmd.Flags().StringArrayVar(&callSpec, "call", nil, "call as to:value[:data], value in ether")
	return cmd
}

func newBatchSendCmd(a *app) *cobra.Command {
	var (
		from     string
		callSpec []string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build a batch and submit it once through wallet_url or verifier_url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			batch, err := a.buildBatch(ctx, from, callSpec)
			if err != nil {
				return err
			}

			switch {
			case a.cfg.WalletURL != "":
				p, err := wallet.Dial(ctx, a.cfg.WalletURL, wallet.WithLogger(a.log))
				if err != nil {
					return err
				}
				defer p.Close()
				receipt, err := calls.Submit(ctx, batch, p)
				if err != nil {
					return err
				}
				if wait > 0 {
					if receipt, err = a.waitForBatch(ctx, p, receipt.ID, wait); err != nil {
						return err
					}
				}
				return writeJSON(cmd.OutOrStdout(), receipt)
			case a.cfg.VerifierURL != "":
				client := verifierclient.New(a.cfg.VerifierURL, verifierclient.WithLogger(a.log))
				receipt, err := calls.Submit(ctx, batch, client)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), receipt)
			}
			return fmt.Errorf("neither wallet_url nor verifier_url is configured")
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sending account (defaults to the configured signer)")
	cmd.Flags().StringArrayVar(&callSpec, "call", nil, "call as to:value[:data], value in ether")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the wallet to confirm the batch")
	return cmd
}

var errBatchPending = errors.New("batch pending")

// waitForBatch polls wallet_getCallsStatus until the batch is included or timeout passes.
func (a *app) waitForBatch(ctx context.Context, p *wallet.Provider, id string, timeout time.Duration) (*spendauth.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var receipt *spendauth.Receipt
	operation := func() error {
		r, pending, err := p.CallsStatus(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if pending {
			return errBatchPending
		}
		receipt = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.log.Debug("batch not yet included", zap.String("receipt", id), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.NewConstantBackOff(2*time.Second), ctx), notify); err != nil {
		return nil, fmt.Errorf("batch %s: %w", id, err)
	}
	return receipt, nil
}

func (a *app) buildBatch(ctx context.Context, from string, specs []string) (*calls.CallBatch, error) {
	sender, err := a.sender(ctx, from)
	if err != nil {
		return nil, err
	}
	cs := make([]calls.Call, 0, len(specs))
	for _, spec := range specs {
		c, err := parseCall(spec)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return calls.BuildBatch(sender, a.cfg.ChainIDBig(), cs)
}

func (a *app) sender(ctx context.Context, from string) (common.Address, error) {
	if from != "" {
		if !common.IsHexAddress(from) {
			return common.Address{}, fmt.Errorf("invalid from address %q", from)
		}
		return common.HexToAddress(from), nil
	}
	signer, err := a.signer(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("--from is required: %w", err)
	}
	defer signer.Close()
	return signer.Address, nil
}

// parseCall reads "to:value[:data]".
func parseCall(spec string) (calls.Call, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return calls.Call{}, fmt.Errorf("invalid call %q: want to:value[:data]", spec)
	}
	if !common.IsHexAddress(parts[0]) {
		return calls.Call{}, fmt.Errorf("invalid call target %q", parts[0])
	}
	value := new(big.Int)
	if parts[1] != "" {
		v, err := calls.ValueFromDecimal(parts[1])
		if err != nil {
			return calls.Call{}, err
		}
		value = v
	}
	var data []byte
	if len(parts) == 3 {
		d, err := hexutil.Decode(parts[2])
		if err != nil {
			return calls.Call{}, fmt.Errorf("invalid call data %q: %w", parts[2], err)
		}
		data = d
	}
	return calls.NewCall(common.HexToAddress(parts[0]), data, value), nil
}
