package integration_test

import (
	"context"
	"math/big"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/internal/devledger"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/server"
	"github.com/coinbase/spendauth/signers/evm"
	"github.com/coinbase/spendauth/verifierclient"
)

const origin = "https://shop.example"

var (
	spender   = common.HexToAddress("0x9876543210987654321098765432109876543210")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type stack struct {
	ledger    *devledger.Ledger
	directory *devledger.Directory
	client    *verifierclient.Client
	signer    *evm.ClientSigner
	manager   *lifecycle.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	led := devledger.New(spendauth.ChainIDBaseSepolia)
	dir := devledger.NewDirectory()
	svc := server.NewService(led, server.WithDirectory(dir))
	srv := httptest.NewServer(server.NewEchoRouter(svc))
	t.Cleanup(srv.Close)

	client := verifierclient.New(srv.URL)
	signer := evm.NewClientSigner(key)
	return &stack{
		ledger:    led,
		directory: dir,
		client:    client,
		signer:    signer,
		manager:   lifecycle.NewManager(signer, dir, client, lifecycle.WithStateReader(client)),
	}
}

func (s *stack) signedAuthorization(t *testing.T, allowance int64) *lifecycle.Authorization {
	t.Helper()
	now := time.Now()
	p, err := permission.Create(s.signer.Address(), spender, permission.NativeToken, big.NewInt(allowance),
		24*time.Hour, now.Add(-time.Minute), now.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	a, err := s.manager.Draft(p)
	if err != nil {
		t.Fatalf("Failed to draft: %v", err)
	}
	if _, err := s.manager.Sign(context.Background(), a); err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	return a
}

// TestSpendPermissionFlow drives a permission from signing to revocation through the
// HTTP verifier backed by the in-memory ledger.
func TestSpendPermissionFlow(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.ledger.Fund(s.signer.Address(), big.NewInt(10_000))

	var submitted int32
	s.manager.OnAfterSubmit(func(lifecycle.SubmitResultContext) error {
		atomic.AddInt32(&submitted, 1)
		return nil
	})

	a := s.signedAuthorization(t, 1000)
	p := a.Permission()

	if _, err := s.manager.Redeem(ctx, a, big.NewInt(400)); err != nil {
		t.Fatalf("First redemption failed: %v", err)
	}
	if _, err := s.manager.Redeem(ctx, a, big.NewInt(600)); err != nil {
		t.Fatalf("Redemption up to the allowance failed: %v", err)
	}

	spend, err := s.client.PeriodSpend(ctx, p)
	if err != nil {
		t.Fatalf("Failed to read period spend: %v", err)
	}
	if spend.Spent.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Expected 1000 spent, got %s", spend.Spent)
	}

	_, err = s.manager.Redeem(ctx, a, big.NewInt(1))
	if spendauth.CodeOf(err) != spendauth.ReasonAllowanceExceeded {
		t.Fatalf("Expected allowance_exceeded, got %v", err)
	}
	if a.State() != spendauth.PermissionRedeemed {
		t.Errorf("Expected state redeemed, got %s", a.State())
	}

	if err := s.manager.Revoke(ctx, a); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err := s.client.IsRevoked(ctx, p)
	if err != nil {
		t.Fatalf("Failed to read revocation: %v", err)
	}
	if !revoked {
		t.Error("Expected verifier to report the permission revoked")
	}

	_, err = s.manager.Redeem(ctx, a, big.NewInt(1))
	if spendauth.KindOf(err) != spendauth.KindExpiredOrRevoked {
		t.Errorf("Expected expired_or_revoked after revocation, got %v", err)
	}

	if got := s.ledger.BalanceOf(spender); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Expected spender balance 1000, got %s", got)
	}
	if got := atomic.LoadInt32(&submitted); got != 2 {
		t.Errorf("Expected 2 accepted submissions, got %d", got)
	}
}

// TestSubAccountBatchFlow connects a session, which creates a sub-account, and sends
// a batch from it through the HTTP verifier.
func TestSubAccountBatchFlow(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	session, err := s.manager.Connect(ctx, origin)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if session.State() != spendauth.SubAccountReady {
		t.Fatalf("Expected ready session, got %s", session.State())
	}
	if s.directory.CreateCalls() != 1 {
		t.Errorf("Expected one sub-account creation, got %d", s.directory.CreateCalls())
	}

	sub := session.SubAccount().Address
	s.ledger.Fund(sub, big.NewInt(500))

	receipt, err := s.manager.SendCalls(ctx, session, []calls.Call{
		calls.NewCall(recipient, nil, big.NewInt(120)),
		calls.NewCall(recipient, nil, big.NewInt(80)),
	})
	if err != nil {
		t.Fatalf("SendCalls failed: %v", err)
	}
	if receipt.Status != spendauth.ReceiptStatusSuccess {
		t.Errorf("Expected successful receipt, got status %d", receipt.Status)
	}
	if got := s.ledger.BalanceOf(recipient); got.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("Expected recipient balance 200, got %s", got)
	}
	if got := s.ledger.BalanceOf(sub); got.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("Expected sub-account balance 300, got %s", got)
	}

	t.Run("atomic failure leaves balances", func(t *testing.T) {
		s.ledger.RevertOn(common.HexToAddress("0x00000000000000000000000000000000000000bb"))
		_, err := s.manager.SendCalls(ctx, session, []calls.Call{
			calls.NewCall(recipient, nil, big.NewInt(50)),
			calls.NewCall(common.HexToAddress("0x00000000000000000000000000000000000000bb"), nil, big.NewInt(1)),
		})
		if spendauth.KindOf(err) != spendauth.KindSubmissionFailure {
			t.Fatalf("Expected submission failure, got %v", err)
		}
		if got := s.ledger.BalanceOf(recipient); got.Cmp(big.NewInt(200)) != 0 {
			t.Errorf("Expected recipient balance unchanged at 200, got %s", got)
		}
	})
}

// TestUnreachableVerifier checks that a redemption is not attempted when verifier
// state cannot be read.
func TestUnreachableVerifier(t *testing.T) {
	s := newStack(t)
	srv := httptest.NewServer(nil)
	srv.Close()

	client := verifierclient.New(srv.URL, verifierclient.WithRetry(verifierclient.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsedTime:  100 * time.Millisecond,
	}))
	m := lifecycle.NewManager(s.signer, nil, client, lifecycle.WithStateReader(client))

	now := time.Now()
	p, err := permission.Create(s.signer.Address(), spender, permission.NativeToken, big.NewInt(1000),
		time.Hour, now.Add(-time.Minute), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	a, err := m.Draft(p)
	if err != nil {
		t.Fatalf("Failed to draft: %v", err)
	}
	if _, err := m.Sign(context.Background(), a); err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	_, err = m.Redeem(context.Background(), a, big.NewInt(10))
	if spendauth.KindOf(err) != spendauth.KindSubmissionFailure {
		t.Fatalf("Expected submission failure, got %v", err)
	}
	if a.State() != spendauth.PermissionSigned {
		t.Errorf("Expected state to stay signed, got %s", a.State())
	}
}
