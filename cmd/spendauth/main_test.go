package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/internal/devledger"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/server"
	"github.com/coinbase/spendauth/validator"
	"github.com/coinbase/spendauth/verifierclient"
)

const testSpender = "0x9876543210987654321098765432109876543210"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--no-rpc"))
	err := cmd.Execute()
	return out.String(), err
}

func setup(t *testing.T) common.Address {
	t.Helper()
	t.Chdir(t.TempDir())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("SPENDAUTH_SIGNER_PRIVATE_KEY", common.Bytes2Hex(crypto.FromECDSA(key)))
	return crypto.PubkeyToAddress(key.PublicKey)
}

func TestPermissionCreateAndVerify(t *testing.T) {
	account := setup(t)

	out, err := run(t, "", "permission", "create", "--spender", testSpender, "--allowance", "1.5", "--decimals", "6", "--period", "1h")
	require.NoError(t, err, out)

	var sp permission.SignedPermission
	require.NoError(t, json.Unmarshal([]byte(out), &sp))
	assert.Equal(t, account, sp.Permission.Account)
	assert.Equal(t, permission.NativeToken, sp.Permission.Token)
	assert.Equal(t, "1500000", sp.Permission.Allowance.String())
	assert.Equal(t, uint64(3600), sp.Permission.Period)
	assert.Len(t, sp.Signature, 65)

	t.Run("from stdin", func(t *testing.T) {
		res, err := run(t, out, "permission", "verify")
		require.NoError(t, err, res)
		var result validator.Result
		require.NoError(t, json.Unmarshal([]byte(res), &result))
		assert.True(t, result.Valid)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "permission.json")
		require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
		_, err := run(t, "", "permission", "verify", "--file", path)
		require.NoError(t, err)
	})

	t.Run("wrong spender is refused", func(t *testing.T) {
		t.Setenv("SPENDAUTH_SPENDER_ADDRESS", "0x00000000000000000000000000000000000000dd")
		res, err := run(t, out, "permission", "verify")
		require.Error(t, err)
		assert.Equal(t, spendauth.ReasonSpenderMismatch, spendauth.CodeOf(err))
		assert.Contains(t, res, spendauth.ReasonSpenderMismatch)
	})
}

func TestPermissionCreateErrors(t *testing.T) {
	setup(t)

	_, err := run(t, "", "permission", "create", "--allowance", "1")
	assert.ErrorContains(t, err, "invalid spender")

	_, err = run(t, "", "permission", "create", "--spender", testSpender, "--allowance", "0")
	assert.Equal(t, spendauth.ReasonZeroAllowance, spendauth.CodeOf(err))

	t.Setenv("SPENDAUTH_SIGNER_PRIVATE_KEY", "")
	_, err = run(t, "", "permission", "create", "--spender", testSpender, "--allowance", "1")
	assert.ErrorContains(t, err, "signer_private_key")
}

func TestBatchBuild(t *testing.T) {
	account := setup(t)

	out, err := run(t, "", "batch", "build",
		"--call", "0x00000000000000000000000000000000000000aa:0.000000000000000016",
		"--call", "0x00000000000000000000000000000000000000bb:0:0x12345678")
	require.NoError(t, err, out)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &wire))
	assert.Equal(t, account.Hex(), common.HexToAddress(wire["from"].(string)).Hex())
	assert.Equal(t, "0x14a34", wire["chainId"])
	assert.Equal(t, true, wire["atomicRequired"])
	sent := wire["calls"].([]interface{})
	require.Len(t, sent, 2)
	assert.Equal(t, "0x10", sent[0].(map[string]interface{})["value"])
	assert.Equal(t, "0x12345678", sent[1].(map[string]interface{})["data"])

	_, err = run(t, "", "batch", "build", "--from", testSpender)
	assert.ErrorIs(t, err, spendauth.ErrEmptyBatch)

	_, err = run(t, "", "batch", "build", "--call", "0x1234:1")
	assert.ErrorContains(t, err, "invalid call target")
}

func TestBatchSend(t *testing.T) {
	account := setup(t)
	led := devledger.New(spendauth.ChainIDBaseSepolia)
	led.Fund(account, big.NewInt(100))
	srv := httptest.NewServer(server.NewGinRouter(server.NewService(led)))
	defer srv.Close()

	_, err := run(t, "", "batch", "send", "--call", "0x00000000000000000000000000000000000000aa:0.000000000000000016")
	assert.ErrorContains(t, err, "neither wallet_url nor verifier_url")

	t.Setenv("SPENDAUTH_VERIFIER_URL", srv.URL)
	out, err := run(t, "", "batch", "send", "--call", "0x00000000000000000000000000000000000000aa:0.000000000000000016")
	require.NoError(t, err, out)

	var receipt spendauth.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt))
	assert.Equal(t, spendauth.ReceiptStatusSuccess, receipt.Status)
	assert.Zero(t, led.BalanceOf(common.HexToAddress("0x00000000000000000000000000000000000000aa")).Cmp(big.NewInt(16)))
	assert.Zero(t, led.BalanceOf(account).Cmp(big.NewInt(84)))

	out, err = run(t, "", "outcome", "--action", spendauth.ActionSubmitBatch, "--account", account.Hex())
	require.NoError(t, err, out)
	var outcome verifierclient.OutcomeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	require.NotNil(t, outcome.Receipt)
	assert.Equal(t, receipt.ID, outcome.Receipt.ID)
	assert.False(t, outcome.Pending)
}

func TestServeChecksRemoteNetwork(t *testing.T) {
	setup(t)
	svc := server.NewService(devledger.New(spendauth.ChainIDBase), server.WithChainID(spendauth.ChainIDBase))
	srv := httptest.NewServer(server.NewEchoRouter(svc))
	defer srv.Close()
	t.Setenv("SPENDAUTH_VERIFIER_URL", srv.URL)

	a := &app{noRPC: true}
	require.NoError(t, a.init())
	_, err := a.service(t.Context())
	assert.ErrorContains(t, err, "verifier check failed")

	t.Setenv("SPENDAUTH_CHAIN_ID", "8453")
	require.NoError(t, a.init())
	_, err = a.service(t.Context())
	assert.NoError(t, err)
}

func TestNewHandler(t *testing.T) {
	setup(t)
	a := &app{noRPC: true}
	require.NoError(t, a.init())

	svc, err := a.service(t.Context())
	require.NoError(t, err)
	for _, name := range []string{"gin", "echo"} {
		h, err := newHandler(name, svc)
		require.NoError(t, err)
		assert.NotNil(t, h)
	}
	_, err = newHandler("chi", svc)
	assert.Error(t, err)
}
