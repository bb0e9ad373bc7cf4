package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/spendauth/permission"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, ":4030", cfg.ListenAddr)
	assert.Equal(t, uint64(84532), cfg.ChainID)
	assert.Equal(t, "https://sepolia.base.org", cfg.RPCURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, permission.ManagerAddress, cfg.Domain().VerifyingContract)
	assert.Empty(t, cfg.AllowedOrigins())

	_, ok := cfg.Spender()
	assert.False(t, ok)
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPENDAUTH_CHAIN_ID", "8453")
	t.Setenv("SPENDAUTH_LOG_JSON", "true")
	t.Setenv("SPENDAUTH_SPENDER_ADDRESS", "0x9876543210987654321098765432109876543210")
	t.Setenv("SPENDAUTH_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(8453), cfg.ChainID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, int64(8453), cfg.Domain().ChainID.Int64())

	spender, ok := cfg.Spender()
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x9876543210987654321098765432109876543210"), spender)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfgFile := filepath.Join(dir, "spendauth.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("listen_addr: \":9000\"\nlog_level: debug\n"), 0o600))

	// Variables already set in the process are not overridden by the env file.
	t.Setenv("SPENDAUTH_VERIFIER_URL", "https://verifier.example")
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SPENDAUTH_VERIFIER_URL=https://ignored.example\nSPENDAUTH_MANAGER_ADDRESS=0x00000000000000000000000000000000000000cc\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SPENDAUTH_MANAGER_ADDRESS") })

	cfg, err := Load(Options{EnvFiles: []string{envFile}, ConfigFile: cfgFile})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://verifier.example", cfg.VerifierURL)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000cc"), cfg.Domain().VerifyingContract)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing env file", func(t *testing.T) {
		_, err := Load(Options{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
		assert.Error(t, err)
	})

	t.Run("invalid spender", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("SPENDAUTH_SPENDER_ADDRESS", "0x1234")
		_, err := Load(Options{})
		assert.ErrorContains(t, err, "spender_address")
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("SPENDAUTH_LOG_LEVEL", "loud")
		_, err := Load(Options{})
		assert.Error(t, err)
	})
}
