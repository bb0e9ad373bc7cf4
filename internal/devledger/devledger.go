// Package devledger is an in-memory verifier and sub-account directory for development
// servers and tests. It enforces permissions and executes call batches against
// in-process balances.
package devledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/validator"
)

// ============================================================================
// Verifier
// ============================================================================

// Ledger implements lifecycle.Verifier, lifecycle.Revoker and permission.StateReader.
type Ledger struct {
	mu sync.Mutex

	chainID   *big.Int
	now       func() time.Time
	validator *validator.Validator

	balances map[common.Address]*big.Int
	reverts  map[common.Address]bool
	spends   map[permission.Key]*permission.PeriodSpend
	revoked  map[permission.Key]bool
	batches  []*calls.CallBatch
	receipts []*spendauth.Receipt
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for period accounting.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithSignatureVerifier sets how permission signatures are checked. Defaults to ECDSA.
func WithSignatureVerifier(v validator.SignatureVerifier) Option {
	return func(l *Ledger) {
		l.validator = validator.New(validator.WithSignatureVerifier(v), validator.WithClock(l.clock))
	}
}

// New creates an empty ledger listening on chainID.
func New(chainID *big.Int, opts ...Option) *Ledger {
	l := &Ledger{
		chainID:  new(big.Int).Set(chainID),
		now:      time.Now,
		balances: make(map[common.Address]*big.Int),
		reverts:  make(map[common.Address]bool),
		spends:   make(map[permission.Key]*permission.PeriodSpend),
		revoked:  make(map[permission.Key]bool),
	}
	l.validator = validator.New(validator.WithClock(l.clock))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now()
}

// Fund credits amount to account.
func (l *Ledger) Fund(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(account).Add(l.balanceLocked(account), amount)
}

// BalanceOf returns a copy of account's balance.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account))
}

// RevertOn makes every call to target revert.
func (l *Ledger) RevertOn(target common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reverts[target] = true
}

// Batches returns the executed batches.
func (l *Ledger) Batches() []*calls.CallBatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*calls.CallBatch(nil), l.batches...)
}

func (l *Ledger) balanceLocked(account common.Address) *big.Int {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	return b
}

// SubmitCallBatch executes the calls in order. Any failing call leaves every balance
// unchanged.
func (l *Ledger) SubmitCallBatch(ctx context.Context, batch *calls.CallBatch) (*spendauth.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if batch.ChainID == nil || batch.ChainID.Cmp(l.chainID) != 0 {
		return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonBatchChainMismatch,
			fmt.Sprintf("ledger is on chain %s", l.chainID))
	}

	staged := make(map[common.Address]*big.Int)
	balance := func(a common.Address) *big.Int {
		if b, ok := staged[a]; ok {
			return b
		}
		b := new(big.Int).Set(l.balanceLocked(a))
		staged[a] = b
		return b
	}

	for i, c := range batch.Calls {
		if l.reverts[c.To] {
			return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected,
				fmt.Sprintf("call %d reverted", i))
		}
		if c.Value == nil || c.Value.Sign() == 0 {
			continue
		}
		from := balance(batch.From)
		if from.Cmp(c.Value) < 0 {
			return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected,
				fmt.Sprintf("call %d: insufficient balance", i))
		}
		from.Sub(from, c.Value)
		to := balance(c.To)
		to.Add(to, c.Value)
	}

	for a, b := range staged {
		l.balances[a] = b
	}
	l.batches = append(l.batches, batch)
	return l.receiptLocked(), nil
}

// RedeemPermission pulls amount from the permission's account to its spender after
// the full validator has accepted it against ledger-held spend.
func (l *Ledger) RedeemPermission(ctx context.Context, sp *permission.SignedPermission, amount *big.Int) (*spendauth.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p := sp.Permission
	key := p.Key()
	req := validator.Redemption{
		Amount:  amount,
		Spend:   l.spendLocked(p),
		Revoked: l.revoked[key],
	}
	if _, err := l.validator.ValidatePermission(ctx, sp, req); err != nil {
		return nil, err
	}

	from := l.balanceLocked(p.Account)
	if from.Cmp(amount) < 0 {
		return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected, "insufficient balance")
	}
	from.Sub(from, amount)
	to := l.balanceLocked(p.Spender)
	to.Add(to, amount)

	period, _ := p.CurrentPeriod(l.now())
	spend, ok := l.spends[key]
	if !ok || spend.Start != period.Start {
		spend = &permission.PeriodSpend{Start: period.Start, End: period.End, Spent: new(big.Int)}
		l.spends[key] = spend
	}
	spend.Spent.Add(spend.Spent, amount)

	return l.receiptLocked(), nil
}

// RevokePermission records a revocation.
func (l *Ledger) RevokePermission(ctx context.Context, sp *permission.SignedPermission) (*spendauth.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[sp.Permission.Key()] = true
	return l.receiptLocked(), nil
}

// PeriodSpend implements permission.StateReader.
func (l *Ledger) PeriodSpend(ctx context.Context, p *permission.SpendPermission) (*permission.PeriodSpend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spendLocked(p), nil
}

// IsRevoked implements permission.StateReader.
func (l *Ledger) IsRevoked(ctx context.Context, p *permission.SpendPermission) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revoked[p.Key()], nil
}

func (l *Ledger) spendLocked(p *permission.SpendPermission) *permission.PeriodSpend {
	spend, ok := l.spends[p.Key()]
	if !ok {
		return nil
	}
	return &permission.PeriodSpend{Start: spend.Start, End: spend.End, Spent: new(big.Int).Set(spend.Spent)}
}

func (l *Ledger) receiptLocked() *spendauth.Receipt {
	id := uuid.New()
	r := &spendauth.Receipt{
		ID:          id.String(),
		TxHash:      crypto.Keccak256Hash(id[:]).Hex(),
		Status:      spendauth.ReceiptStatusSuccess,
		SubmittedAt: l.now(),
	}
	l.receipts = append(l.receipts, r)
	return r
}

// ============================================================================
// Sub-account directory
// ============================================================================

// Directory implements lifecycle.SubAccountDirectory.
type Directory struct {
	mu sync.Mutex

	accounts map[common.Address][]lifecycle.SubAccount
	creates  int
	now      func() time.Time

	// LookupErr and CreateErr, when set, fail the matching call.
	LookupErr error
	CreateErr error
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		accounts: make(map[common.Address][]lifecycle.SubAccount),
		now:      time.Now,
	}
}

// Add registers an existing sub-account.
func (d *Directory) Add(sa lifecycle.SubAccount) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[sa.UniversalAccount] = append(d.accounts[sa.UniversalAccount], sa)
}

// CreateCalls returns how many times CreateSubAccount was called.
func (d *Directory) CreateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates
}

// GetSubAccounts returns the sub-accounts of account scoped to domain. Entries created
// without a domain match any domain.
func (d *Directory) GetSubAccounts(ctx context.Context, account common.Address, domain string, chainID *big.Int) ([]lifecycle.SubAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LookupErr != nil {
		return nil, d.LookupErr
	}
	var out []lifecycle.SubAccount
	for _, sa := range d.accounts[account] {
		if sa.Domain == "" || sa.Domain == domain {
			out = append(out, sa)
		}
	}
	return out, nil
}

// CreateSubAccount derives a new sub-account address for account.
func (d *Directory) CreateSubAccount(ctx context.Context, account common.Address) (*lifecycle.SubAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	seed := append(account.Bytes(), byte(len(d.accounts[account])))
	sa := lifecycle.SubAccount{
		Address:          common.BytesToAddress(crypto.Keccak256(seed)[12:]),
		UniversalAccount: account,
		CreatedAt:        d.now(),
	}
	d.accounts[account] = append(d.accounts[account], sa)
	return &sa, nil
}
