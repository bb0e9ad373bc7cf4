// Command spendauth signs, checks and serves spend permissions and delegated call batches.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth/config"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/logger"
	"github.com/coinbase/spendauth/signers/evm"
	"github.com/coinbase/spendauth/validator"
	"github.com/coinbase/spendauth/wallet"
)

// app carries state shared by the subcommands once the root command has loaded config.
type app struct {
	configFile string
	envFiles   []string
	noRPC      bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "spendauth",
		Short:         "Spend permission and delegated call tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "env files to load instead of ./.env")
	root.PersistentFlags().BoolVar(&a.noRPC, "no-rpc", false, "verify signatures with ECDSA only, without contacting rpc_url")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newPermissionCmd(a))
	root.AddCommand(newBatchCmd(a))
	root.AddCommand(newOutcomeCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(config.Options{EnvFiles: a.envFiles, ConfigFile: a.configFile})
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// signingAccount is a signing service bound to the account it signs for.
type signingAccount struct {
	lifecycle.SigningService
	Address common.Address
	// Wallet is set when signing goes through wallet_url.
	Wallet *wallet.Provider
}

func (s *signingAccount) Close() {
	if s.Wallet != nil {
		s.Wallet.Close()
	}
}

// signer resolves the signing account. wallet_url takes precedence over
// signer_private_key; the first wallet account is used.
func (a *app) signer(ctx context.Context) (*signingAccount, error) {
	if a.cfg.WalletURL != "" {
		p, err := wallet.Dial(ctx, a.cfg.WalletURL, wallet.WithLogger(a.log))
		if err != nil {
			return nil, err
		}
		accounts, err := p.RequestAccounts(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		if len(accounts) == 0 {
			p.Close()
			return nil, fmt.Errorf("wallet returned no accounts")
		}
		return &signingAccount{SigningService: p, Address: accounts[0], Wallet: p}, nil
	}
	if a.cfg.SignerPrivateKey == "" {
		return nil, fmt.Errorf("neither wallet_url nor signer_private_key is configured")
	}
	s, err := evm.NewClientSignerFromPrivateKey(a.cfg.SignerPrivateKey)
	if err != nil {
		return nil, err
	}
	return &signingAccount{SigningService: s, Address: s.Address()}, nil
}

// signatureVerifier verifies EOA signatures locally and falls back to EIP-1271 over
// rpc_url when one is configured.
func (a *app) signatureVerifier(ctx context.Context) (validator.SignatureVerifier, error) {
	if a.noRPC || a.cfg.RPCURL == "" {
		return validator.ECDSAVerifier{}, nil
	}
	client, err := evm.DialContractCaller(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return validator.NewUniversalVerifier(client), nil
}

func (a *app) validatorOptions(ctx context.Context) ([]validator.Option, error) {
	sv, err := a.signatureVerifier(ctx)
	if err != nil {
		return nil, err
	}
	opts := []validator.Option{
		validator.WithLogger(a.log),
		validator.WithSignatureVerifier(sv),
		validator.WithExpectedDomain(a.cfg.Domain()),
	}
	if spender, ok := a.cfg.Spender(); ok {
		opts = append(opts, validator.WithExpectedSpender(spender))
	}
	return opts, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
