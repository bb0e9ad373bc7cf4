// Package config loads runtime settings from the environment, an optional .env file
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/coinbase/spendauth/logger"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
)

// EnvPrefix prefixes every environment variable, e.g. SPENDAUTH_CHAIN_ID.
const EnvPrefix = "SPENDAUTH"

// Config holds the settings shared by the CLI commands.
type Config struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	ChainID        uint64 `mapstructure:"chain_id"`
	RPCURL         string `mapstructure:"rpc_url"`
	VerifierURL    string `mapstructure:"verifier_url"`
	WalletURL      string `mapstructure:"wallet_url"`
	SpenderAddress string `mapstructure:"spender_address"`
	ManagerAddress string `mapstructure:"manager_address"`
	LogLevel       string `mapstructure:"log_level"`
	LogJSON        bool   `mapstructure:"log_json"`
	// CORSAllowedOrigins lists browser origins allowed to call the HTTP service.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	// SignerPrivateKey is for local development only.
	SignerPrivateKey string `mapstructure:"signer_private_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4030")
	v.SetDefault("chain_id", 84532)
	v.SetDefault("rpc_url", "https://sepolia.base.org")
	v.SetDefault("verifier_url", "")
	v.SetDefault("wallet_url", "")
	v.SetDefault("spender_address", "")
	v.SetDefault("manager_address", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("signer_private_key", "")
}

// Options selects the files Load reads.
type Options struct {
	// EnvFiles are loaded into the process environment. When empty, ./.env is loaded if present.
	EnvFiles []string
	// ConfigFile is an optional viper config file (yaml, json or toml).
	ConfigFile string
}

// Load resolves the configuration. Environment variables override the config file,
// which overrides the defaults.
func Load(opts Options) (*Config, error) {
	if len(opts.EnvFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(opts.EnvFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the address fields and the log level.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id must be positive")
	}
	for name, addr := range map[string]string{
		"spender_address": c.SpenderAddress,
		"manager_address": c.ManagerAddress,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ChainIDBig returns the chain id as a *big.Int.
func (c *Config) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(c.ChainID)
}

// Domain returns the signing domain, bound to ManagerAddress when one is set.
func (c *Config) Domain() typeddata.Domain {
	if c.ManagerAddress == "" {
		return permission.DefaultDomain(c.ChainIDBig())
	}
	return permission.Domain(c.ChainIDBig(), common.HexToAddress(c.ManagerAddress))
}

// Spender returns the configured spender, if any.
func (c *Config) Spender() (common.Address, bool) {
	if c.SpenderAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.SpenderAddress), true
}

// Logger returns a config for logger.New.
func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.LogLevel, JSON: c.LogJSON}
}

// AllowedOrigins returns the trimmed, non-empty CORS origins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
