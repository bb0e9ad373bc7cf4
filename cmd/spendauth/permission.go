package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/units"
	"github.com/coinbase/spendauth/validator"
)

func newPermissionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Create and check spend permissions",
	}
	cmd.AddCommand(newPermissionCreateCmd(a))
	cmd.AddCommand(newPermissionVerifyCmd(a))
	return cmd
}

func newPermissionCreateCmd(a *app) *cobra.Command {
	var (
		spender   string
		token     string
		allowance string
		decimals  int32
		period    time.Duration
		start     string
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and sign a spend permission with the configured wallet or signer key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := a.signer(cmd.Context())
			if err != nil {
				return err
			}
			defer signer.Close()

			if spender == "" {
				spender = a.cfg.SpenderAddress
			}
			if !common.IsHexAddress(spender) {
				return fmt.Errorf("invalid spender %q", spender)
			}
			tokenAddr := permission.NativeToken
			if token != "" {
				if !common.IsHexAddress(token) {
					return fmt.Errorf("invalid token %q", token)
				}
				tokenAddr = common.HexToAddress(token)
			}
			amount, err := units.ParseUnits(allowance, decimals)
			if err != nil {
				return err
			}

			windowStart := time.Now()
			if start != "" {
				if windowStart, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("invalid start: %w", err)
				}
			}

			p, err := permission.Create(signer.Address, common.HexToAddress(spender), tokenAddr, amount,
				period, windowStart, windowStart.Add(duration))
			if err != nil {
				return err
			}
			sp, err := permission.Sign(cmd.Context(), p, a.cfg.Domain(), signer)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sp)
		},
	}
	cmd.Flags().StringVar(&spender, "spender", "", "spender address (defaults to spender_address)")
	cmd.Flags().StringVar(&token, "token", "", "token address (defaults to the native token)")
	cmd.Flags().StringVar(&allowance, "allowance", "", "allowance per period as a decimal amount")
	cmd.Flags().Int32Var(&decimals, "decimals", 18, "token decimals used to read --allowance")
	cmd.Flags().DurationVar(&period, "period", 24*time.Hour, "allowance period")
	cmd.Flags().StringVar(&start, "start", "", "window start in RFC3339 (defaults to now)")
	cmd.Flags().DurationVar(&duration, "duration", 30*24*time.Hour, "window length")
	_ = cmd.MarkFlagRequired("allowance")
	return cmd
}

func newPermissionVerifyCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a signed permission as a standing grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var sp permission.SignedPermission
			if err := json.Unmarshal(data, &sp); err != nil {
				return fmt.Errorf("failed to decode permission: %w", err)
			}

			opts, err := a.validatorOptions(cmd.Context())
			if err != nil {
				return err
			}
			res, verr := validator.New(opts...).ValidateGrant(cmd.Context(), &sp, false)
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return verr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "signed permission JSON, - for stdin")
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}
