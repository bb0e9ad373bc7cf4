package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/internal/devledger"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/signers/evm"
	"github.com/coinbase/spendauth/validator"
	"github.com/coinbase/spendauth/verifierclient"
)

const origin = "https://app.example"

var (
	spender   = common.HexToAddress("0x9876543210987654321098765432109876543210")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func init() {
	gin.SetMode(gin.TestMode)
}

var routers = map[string]func(*Service) http.Handler{
	"gin":  func(s *Service) http.Handler { return NewGinRouter(s) },
	"echo": func(s *Service) http.Handler { return NewEchoRouter(s) },
}

type env struct {
	server    *httptest.Server
	ledger    *devledger.Ledger
	directory *devledger.Directory
	signer    *evm.ClientSigner
}

func newEnv(t *testing.T, router func(*Service) http.Handler) *env {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	e := &env{
		ledger:    devledger.New(spendauth.ChainIDBaseSepolia),
		directory: devledger.NewDirectory(),
		signer:    evm.NewClientSigner(key),
	}
	svc := NewService(e.ledger, WithDirectory(e.directory))
	e.server = httptest.NewServer(router(svc))
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) signedPermission(t *testing.T, allowance int64) *permission.SignedPermission {
	t.Helper()
	now := time.Now()
	p, err := permission.Create(e.signer.Address(), spender, permission.NativeToken, big.NewInt(allowance),
		24*time.Hour, now.Add(-time.Minute), now.Add(7*24*time.Hour))
	require.NoError(t, err)
	sp, err := permission.Sign(context.Background(), p, permission.DefaultDomain(spendauth.ChainIDBaseSepolia), e.signer)
	require.NoError(t, err)
	return sp
}

func (e *env) post(t *testing.T, path string, body interface{}) (int, []byte) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (e *env) get(t *testing.T, path string, p *permission.SpendPermission) (int, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path + "?" + verifierclient.KeyQuery(p.Key()).Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func decodeError(t *testing.T, body []byte) *spendauth.Error {
	t.Helper()
	var e spendauth.Error
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return &e
}

func TestPermissionRoutes(t *testing.T) {
	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, router)
			sp := e.signedPermission(t, 1000)
			e.ledger.Fund(sp.Permission.Account, big.NewInt(5000))

			t.Run("accept and fetch", func(t *testing.T) {
				status, body := e.post(t, verifierclient.PathPermissions, sp)
				require.Equal(t, http.StatusOK, status, string(body))
				var accepted AcceptResponse
				require.NoError(t, json.Unmarshal(body, &accepted))
				assert.True(t, accepted.Result.Valid)

				status, body = e.get(t, verifierclient.PathPermissions, sp.Permission)
				require.Equal(t, http.StatusOK, status, string(body))
				var fetched permission.SignedPermission
				require.NoError(t, json.Unmarshal(body, &fetched))
				assert.Equal(t, sp.Permission.Key(), fetched.Permission.Key())
			})

			t.Run("unknown permission is not found", func(t *testing.T) {
				other := e.signedPermission(t, 1000)
				status, _ := e.get(t, verifierclient.PathPermissions, other.Permission)
				assert.Equal(t, http.StatusNotFound, status)
			})

			t.Run("redeem within and over allowance", func(t *testing.T) {
				req := verifierclient.RedeemRequest{Permission: sp, Amount: "600"}
				status, body := e.post(t, verifierclient.PathRedeem, req)
				require.Equal(t, http.StatusOK, status, string(body))
				assert.Zero(t, e.ledger.BalanceOf(spender).Cmp(big.NewInt(600)))

				status, body = e.post(t, verifierclient.PathRedeem, req)
				require.Equal(t, http.StatusUnprocessableEntity, status, string(body))
				assert.Equal(t, spendauth.ReasonAllowanceExceeded, decodeError(t, body).Code)
				assert.Zero(t, e.ledger.BalanceOf(spender).Cmp(big.NewInt(600)))

				status, body = e.get(t, verifierclient.PathPeriodSpend, sp.Permission)
				require.Equal(t, http.StatusOK, status, string(body))
				var spend permission.PeriodSpend
				require.NoError(t, json.Unmarshal(body, &spend))
				assert.Zero(t, spend.Spent.Cmp(big.NewInt(600)))
			})

			t.Run("revoked permission is refused", func(t *testing.T) {
				status, body := e.post(t, verifierclient.PathRevoke, verifierclient.RevokeRequest{Permission: sp})
				require.Equal(t, http.StatusOK, status, string(body))

				status, body = e.get(t, verifierclient.PathRevoked, sp.Permission)
				require.Equal(t, http.StatusOK, status)
				var revoked verifierclient.RevokedResponse
				require.NoError(t, json.Unmarshal(body, &revoked))
				assert.True(t, revoked.Revoked)

				status, body = e.post(t, verifierclient.PathRedeem, verifierclient.RedeemRequest{Permission: sp, Amount: "1"})
				require.Equal(t, http.StatusForbidden, status, string(body))
				assert.Equal(t, spendauth.ReasonPermissionRevoked, decodeError(t, body).Code)

				status, _ = e.get(t, verifierclient.PathPermissions, sp.Permission)
				assert.Equal(t, http.StatusNotFound, status)
			})

			t.Run("tampered signature", func(t *testing.T) {
				other := e.signedPermission(t, 1000)
				other.Signature[10] ^= 0xff
				status, body := e.post(t, verifierclient.PathPermissions, other)
				require.Equal(t, http.StatusUnprocessableEntity, status, string(body))
				assert.Equal(t, spendauth.ReasonInvalidSignature, decodeError(t, body).Code)

				status, body = e.post(t, verifierclient.PathRevoke, verifierclient.RevokeRequest{Permission: other})
				require.Equal(t, http.StatusUnprocessableEntity, status, string(body))
			})

			t.Run("malformed bodies", func(t *testing.T) {
				status, body := e.post(t, verifierclient.PathRedeem, []byte(`{"permission":`))
				require.Equal(t, http.StatusBadRequest, status)
				assert.Equal(t, spendauth.ReasonMalformedRequest, decodeError(t, body).Code)

				status, body = e.post(t, verifierclient.PathPermissions, []byte(`{"permission":{},"domain":{}}`))
				require.Equal(t, http.StatusBadRequest, status)
				assert.Equal(t, spendauth.KindEncoding, decodeError(t, body).Kind)

				status, body = e.post(t, verifierclient.PathRedeem, map[string]interface{}{"permission": sp, "amount": "-5"})
				require.Equal(t, http.StatusBadRequest, status)
				assert.Equal(t, spendauth.ReasonMalformedRequest, decodeError(t, body).Code)
			})

			t.Run("bad query", func(t *testing.T) {
				resp, err := http.Get(e.server.URL + verifierclient.PathRevoked + "?account=0x1")
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			})
		})
	}
}

// smartAccountCaller answers EIP-1271 checks for a deployed account that accepts any signature.
type smartAccountCaller struct {
	account common.Address
}

func (c smartAccountCaller) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if account == c.account {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (c smartAccountCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != c.account {
		return nil, errors.New("execution reverted")
	}
	return common.RightPadBytes([]byte{0x16, 0x26, 0xba, 0x7e}, 32), nil
}

func TestSmartAccountPermission(t *testing.T) {
	smart := common.HexToAddress("0x00000000000000000000000000000000005a5a5a")
	verifier := validator.NewUniversalVerifier(smartAccountCaller{account: smart})

	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			led := devledger.New(spendauth.ChainIDBaseSepolia, devledger.WithSignatureVerifier(verifier))
			led.Fund(smart, big.NewInt(5000))
			svc := NewService(led, WithValidator(validator.New(validator.WithSignatureVerifier(verifier))))
			srv := httptest.NewServer(router(svc))
			defer srv.Close()
			e := &env{server: srv, ledger: led}

			now := time.Now()
			p, err := permission.Create(smart, spender, permission.NativeToken, big.NewInt(1000),
				24*time.Hour, now.Add(-time.Minute), now.Add(7*24*time.Hour))
			require.NoError(t, err)
			sig := bytes.Repeat([]byte{0x01}, 65)
			sp := &permission.SignedPermission{Permission: p, Signature: sig, Domain: permission.DefaultDomain(spendauth.ChainIDBaseSepolia)}

			status, body := e.post(t, verifierclient.PathPermissions, sp)
			require.Equal(t, http.StatusOK, status, string(body))

			status, body = e.post(t, verifierclient.PathRedeem, verifierclient.RedeemRequest{Permission: sp, Amount: "250"})
			require.Equal(t, http.StatusOK, status, string(body))

			status, body = e.post(t, verifierclient.PathRevoke, verifierclient.RevokeRequest{Permission: sp})
			require.Equal(t, http.StatusOK, status, string(body))

			revoked, err := led.IsRevoked(context.Background(), p)
			require.NoError(t, err)
			assert.True(t, revoked)
			assert.Zero(t, led.BalanceOf(spender).Cmp(big.NewInt(250)))
		})
	}
}

func TestOutcome(t *testing.T) {
	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, router)
			client := verifierclient.New(e.server.URL)
			sp := e.signedPermission(t, 1000)
			e.ledger.Fund(sp.Permission.Account, big.NewInt(5000))
			ctx := context.Background()

			outcome, err := client.Outcome(ctx, spendauth.ActionRedeem, sp.Permission.Account, false)
			require.NoError(t, err)
			assert.Nil(t, outcome.Receipt)
			assert.False(t, outcome.Pending)

			receipt, err := client.RedeemPermission(ctx, sp, big.NewInt(300))
			require.NoError(t, err)

			for _, wait := range []bool{false, true} {
				outcome, err = client.Outcome(ctx, spendauth.ActionRedeem, sp.Permission.Account, wait)
				require.NoError(t, err)
				require.NotNil(t, outcome.Receipt, "wait=%v", wait)
				assert.Equal(t, receipt.ID, outcome.Receipt.ID)
				assert.Equal(t, sp.Permission.Account, outcome.Account)
			}

			outcome, err = client.Outcome(ctx, spendauth.ActionRevoke, sp.Permission.Account, false)
			require.NoError(t, err)
			assert.Nil(t, outcome.Receipt)

			_, err = client.Outcome(ctx, spendauth.ActionSign, sp.Permission.Account, false)
			assert.Equal(t, spendauth.ReasonMalformedRequest, spendauth.CodeOf(err))
		})
	}
}

func TestBatchRoutes(t *testing.T) {
	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			batchBody := func(t *testing.T, from, universal common.Address, value int64) verifierclient.BatchRequest {
				t.Helper()
				batch, err := calls.BuildBatch(from, spendauth.ChainIDBaseSepolia, []calls.Call{
					calls.NewCall(recipient, nil, big.NewInt(value)),
				})
				require.NoError(t, err)
				return verifierclient.BatchRequest{Batch: batch, UniversalAccount: universal, Origin: origin}
			}

			t.Run("fallback sender is the universal account", func(t *testing.T) {
				e := newEnv(t, router)
				universal := e.signer.Address()
				e.ledger.Fund(universal, big.NewInt(100))

				status, body := e.post(t, verifierclient.PathBatches, batchBody(t, universal, universal, 40))
				require.Equal(t, http.StatusOK, status, string(body))
				var receipt spendauth.Receipt
				require.NoError(t, json.Unmarshal(body, &receipt))
				assert.Equal(t, spendauth.ReceiptStatusSuccess, receipt.Status)
				assert.Zero(t, e.ledger.BalanceOf(recipient).Cmp(big.NewInt(40)))
			})

			t.Run("known sub-account", func(t *testing.T) {
				e := newEnv(t, router)
				universal := e.signer.Address()
				sub, err := e.directory.CreateSubAccount(context.Background(), universal)
				require.NoError(t, err)
				e.ledger.Fund(sub.Address, big.NewInt(100))

				status, body := e.post(t, verifierclient.PathBatches, batchBody(t, sub.Address, universal, 25))
				require.Equal(t, http.StatusOK, status, string(body))
				assert.Zero(t, e.ledger.BalanceOf(recipient).Cmp(big.NewInt(25)))
			})

			t.Run("unknown sender", func(t *testing.T) {
				e := newEnv(t, router)
				stranger := common.HexToAddress("0x00000000000000000000000000000000000000bb")
				status, body := e.post(t, verifierclient.PathBatches, batchBody(t, stranger, e.signer.Address(), 1))
				require.Equal(t, http.StatusUnprocessableEntity, status, string(body))
				assert.Equal(t, spendauth.ReasonBatchUnknownSender, decodeError(t, body).Code)
				assert.Empty(t, e.ledger.Batches())
			})

			t.Run("reverting call rejects the batch", func(t *testing.T) {
				e := newEnv(t, router)
				universal := e.signer.Address()
				e.ledger.Fund(universal, big.NewInt(100))
				e.ledger.RevertOn(recipient)

				status, body := e.post(t, verifierclient.PathBatches, batchBody(t, universal, universal, 10))
				require.Equal(t, http.StatusBadGateway, status, string(body))
				assert.Zero(t, e.ledger.BalanceOf(universal).Cmp(big.NewInt(100)))
			})

			t.Run("empty batch", func(t *testing.T) {
				e := newEnv(t, router)
				body := []byte(`{"batch":{"version":"2.0.0","from":"0x00000000000000000000000000000000000000bb","chainId":"0x14a34","atomicRequired":true,"calls":[]}}`)
				status, resp := e.post(t, verifierclient.PathBatches, body)
				require.Equal(t, http.StatusBadRequest, status, string(resp))
				assert.Equal(t, spendauth.KindEmptyBatch, decodeError(t, resp).Kind)
			})
		})
	}
}

func TestRequestID(t *testing.T) {
	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, router)

			resp, err := http.Get(e.server.URL + "/healthz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

			req, err := http.NewRequest(http.MethodGet, e.server.URL+"/healthz", nil)
			require.NoError(t, err)
			req.Header.Set(HeaderRequestID, "req-1")
			resp, err = http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, "req-1", resp.Header.Get(HeaderRequestID))
		})
	}
}

func TestCORS(t *testing.T) {
	const allowed = "https://shop.example"
	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			svc := NewService(devledger.New(spendauth.ChainIDBaseSepolia), WithAllowedOrigins(allowed))
			srv := httptest.NewServer(router(svc))
			defer srv.Close()

			get := func(origin string) *http.Response {
				req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
				require.NoError(t, err)
				req.Header.Set("Origin", origin)
				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				resp.Body.Close()
				return resp
			}

			assert.Equal(t, allowed, get(allowed).Header.Get("Access-Control-Allow-Origin"))
			assert.Empty(t, get("https://evil.example").Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

// TestRemoteLifecycle drives a Manager whose verifier is a verifierclient talking to the service.
func TestRemoteLifecycle(t *testing.T) {
	e := newEnv(t, routers["gin"])
	client := verifierclient.New(e.server.URL)
	m := lifecycle.NewManager(e.signer, e.directory, client, lifecycle.WithStateReader(client))
	require.NoError(t, client.CheckNetwork(context.Background(), spendauth.ChainIDBaseSepolia))

	now := time.Now()
	p, err := permission.Create(e.signer.Address(), spender, permission.NativeToken, big.NewInt(1000),
		24*time.Hour, now.Add(-time.Minute), now.Add(7*24*time.Hour))
	require.NoError(t, err)
	e.ledger.Fund(p.Account, big.NewInt(5000))

	a, err := m.Draft(p)
	require.NoError(t, err)
	_, err = m.Sign(context.Background(), a)
	require.NoError(t, err)

	receipt, err := m.Redeem(context.Background(), a, big.NewInt(700))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, spendauth.PermissionRedeemed, a.State())

	_, err = m.Redeem(context.Background(), a, big.NewInt(700))
	require.Error(t, err)
	assert.Equal(t, spendauth.ReasonAllowanceExceeded, spendauth.CodeOf(err))
	assert.Equal(t, spendauth.PermissionRedeemed, a.State())

	require.NoError(t, m.Revoke(context.Background(), a))
	assert.Equal(t, spendauth.PermissionRevoked, a.State())
	revoked, err := client.IsRevoked(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.Zero(t, e.ledger.BalanceOf(spender).Cmp(big.NewInt(700)))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{spendauth.Encodingf(spendauth.ReasonMalformedRequest, "x"), http.StatusBadRequest},
		{spendauth.InvalidPermissionf(spendauth.ReasonZeroPeriod, "x"), http.StatusBadRequest},
		{spendauth.NewError(spendauth.KindValidation, spendauth.ReasonAllowanceExceeded, ""), http.StatusUnprocessableEntity},
		{spendauth.NewError(spendauth.KindExpiredOrRevoked, spendauth.ReasonPermissionRevoked, ""), http.StatusForbidden},
		{spendauth.NewError(spendauth.KindActionInFlight, spendauth.ReasonInFlight, ""), http.StatusConflict},
		{spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected, ""), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}

	body := ErrorBody(errors.New("boom"))
	assert.Equal(t, spendauth.ReasonTransportFailure, body.Code)
}
