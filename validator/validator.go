// Package validator decides whether a signed spend permission may be redeemed and
// whether a delegated call batch may be executed. Every check runs and every failure
// is reported; any failure rejects.
package validator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
)

// Result is the structured outcome of a validation.
type Result struct {
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	// Remaining is the allowance left in the current period after the requested amount.
	Remaining *big.Int           `json:"remaining,omitempty"`
	Period    *permission.Period `json:"period,omitempty"`
}

func (r *Result) fail(reason string) {
	r.Valid = false
	if r.Reason == "" {
		r.Reason = reason
	}
	r.Reasons = append(r.Reasons, reason)
}

// Err converts a failed result into a *spendauth.Error; nil when valid.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	kind := spendauth.KindValidation
	for _, reason := range r.Reasons {
		if expiryReasons[reason] {
			kind = spendauth.KindExpiredOrRevoked
			break
		}
	}
	if len(r.Reasons) == 1 && r.Reasons[0] == spendauth.ReasonNoCalls {
		kind = spendauth.KindEmptyBatch
	}
	return spendauth.NewError(kind, r.Reason, "validation failed").WithDetail("reasons", r.Reasons)
}

var expiryReasons = map[string]bool{
	spendauth.ReasonPermissionNotYetValid:   true,
	spendauth.ReasonPermissionWindowExpired: true,
	spendauth.ReasonPermissionRevoked:       true,
}

// KeyRegistry remembers which permission digest first used each uniqueness key.
type KeyRegistry interface {
	// Claim records digest for key and reports false if key already belongs to a different digest.
	Claim(key permission.Key, digest common.Hash) bool
	Claimed(key permission.Key, digest common.Hash) bool
}

// MemoryKeys is an in-process KeyRegistry.
type MemoryKeys struct {
	mu   sync.Mutex
	keys map[permission.Key]common.Hash
}

// NewMemoryKeys creates an empty registry.
func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{keys: make(map[permission.Key]common.Hash)}
}

// Claim implements KeyRegistry.
func (m *MemoryKeys) Claim(key permission.Key, digest common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.keys[key]; ok {
		return existing == digest
	}
	m.keys[key] = digest
	return true
}

// Claimed implements KeyRegistry. It reports whether key is free or already owned by digest.
func (m *MemoryKeys) Claimed(key permission.Key, digest common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.keys[key]
	return !ok || existing == digest
}

// Validator holds the verifier-side configuration.
type Validator struct {
	verifier SignatureVerifier
	keys     KeyRegistry
	now      func() time.Time
	logger   *zap.Logger

	spender *common.Address
	domain  *typeddata.Domain
}

// Option configures a Validator.
type Option func(*Validator)

// WithSignatureVerifier replaces the default ECDSA verifier.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(val *Validator) {
		val.verifier = v
	}
}

// WithKeyRegistry sets the salt-reuse registry.
func WithKeyRegistry(k KeyRegistry) Option {
	return func(val *Validator) {
		val.keys = k
	}
}

// WithClock overrides the validation clock.
func WithClock(now func() time.Time) Option {
	return func(val *Validator) {
		val.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(val *Validator) {
		val.logger = l
	}
}

// WithExpectedSpender rejects permissions granted to any other spender.
func WithExpectedSpender(spender common.Address) Option {
	return func(val *Validator) {
		val.spender = &spender
	}
}

// WithExpectedDomain rejects permissions signed under any other domain.
func WithExpectedDomain(d typeddata.Domain) Option {
	return func(val *Validator) {
		val.domain = &d
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		verifier: ECDSAVerifier{},
		keys:     NewMemoryKeys(),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Redemption describes a requested spend and the verifier state it is checked against.
type Redemption struct {
	Amount  *big.Int
	Spend   *permission.PeriodSpend
	Revoked bool
}

// ValidatePermission checks sp for a redemption of req.Amount. The window and
// revocation checks apply even when the signature is valid. On success the
// permission's uniqueness key is claimed.
func (v *Validator) ValidatePermission(ctx context.Context, sp *permission.SignedPermission, req Redemption) (*Result, error) {
	return v.validate(ctx, sp, req, true)
}

// ValidateGrant checks sp as a standing grant, before any redemption: every permission
// rule except the amount.
func (v *Validator) ValidateGrant(ctx context.Context, sp *permission.SignedPermission, revoked bool) (*Result, error) {
	return v.validate(ctx, sp, Redemption{Revoked: revoked}, false)
}

// VerifySignature checks only that sp is signed by its account, using the configured
// SignatureVerifier. The window, revocation and spend rules are not applied.
func (v *Validator) VerifySignature(ctx context.Context, sp *permission.SignedPermission) error {
	if sp == nil || sp.Permission == nil {
		return spendauth.InvalidPermissionf(spendauth.ReasonFieldOutOfRange, "missing permission")
	}
	payload, err := sp.Payload()
	if err != nil {
		return err
	}
	if !v.verify(ctx, sp.Permission.Account, payload.Digest, sp.Signature) {
		return spendauth.NewError(spendauth.KindValidation, spendauth.ReasonInvalidSignature, "signature does not verify")
	}
	return nil
}

func (v *Validator) verify(ctx context.Context, account common.Address, digest common.Hash, sig []byte) bool {
	ok, err := v.verifier.Verify(ctx, account, digest, sig)
	if err != nil {
		v.logger.Debug("signature verification error", zap.String("account", account.Hex()), zap.Error(err))
		return false
	}
	return ok
}

func (v *Validator) validate(ctx context.Context, sp *permission.SignedPermission, req Redemption, withAmount bool) (*Result, error) {
	res := &Result{Valid: true}
	if sp == nil || sp.Permission == nil {
		res.fail(spendauth.ReasonFieldOutOfRange)
		return res, res.Err()
	}
	p := sp.Permission
	now := v.now()

	if err := p.Validate(); err != nil {
		res.fail(spendauth.CodeOf(err))
	}

	payload, encErr := sp.Payload()
	if encErr != nil || !v.verify(ctx, p.Account, payload.Digest, sp.Signature) {
		res.fail(spendauth.ReasonInvalidSignature)
	}

	if v.domain != nil && !v.domain.Equal(sp.Domain) {
		res.fail(spendauth.ReasonDomainMismatch)
	}
	if v.spender != nil && *v.spender != p.Spender {
		res.fail(spendauth.ReasonSpenderMismatch)
	}

	ts := now.Unix()
	switch {
	case ts < 0 || uint64(ts) < p.Start:
		res.fail(spendauth.ReasonPermissionNotYetValid)
	case uint64(ts) > p.End:
		res.fail(spendauth.ReasonPermissionWindowExpired)
	}
	if req.Revoked {
		res.fail(spendauth.ReasonPermissionRevoked)
	}

	if payload != nil && v.keys != nil && !v.keys.Claimed(p.Key(), payload.Digest) {
		res.fail(spendauth.ReasonSaltReused)
	}

	if withAmount {
		v.checkAmount(res, p, req, now)
	}

	if res.Valid && payload != nil && v.keys != nil && !v.keys.Claim(p.Key(), payload.Digest) {
		res.fail(spendauth.ReasonSaltReused)
	}

	fields := []zap.Field{
		zap.String("account", p.Account.Hex()),
		zap.String("spender", p.Spender.Hex()),
		zap.Bool("valid", res.Valid),
	}
	if !res.Valid {
		v.logger.Info("permission refused", append(fields, zap.Strings("reasons", res.Reasons))...)
		return res, res.Err()
	}
	v.logger.Debug("permission accepted", fields...)
	return res, nil
}

func (v *Validator) checkAmount(res *Result, p *permission.SpendPermission, req Redemption, now time.Time) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		res.fail(spendauth.ReasonInvalidAmount)
		return
	}
	if p.Allowance == nil {
		return
	}
	period, ok := p.CurrentPeriod(now)
	if !ok {
		// Outside the window; already reported.
		return
	}
	res.Period = &period

	spent, ok := req.Spend.SpentIn(period)
	if !ok {
		res.fail(spendauth.ReasonStaleSpendState)
		return
	}
	available := new(big.Int).Sub(p.Allowance, spent)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	if req.Amount.Cmp(available) > 0 {
		res.Remaining = available
		res.fail(spendauth.ReasonAllowanceExceeded)
		return
	}
	res.Remaining = new(big.Int).Sub(available, req.Amount)
}

// BatchContext is the session state a batch is checked against.
type BatchContext struct {
	ChainID          *big.Int
	State            spendauth.SubAccountState
	SubAccount       common.Address
	UniversalAccount common.Address
}

// ExpectedSender returns the account a batch must be sent from.
func (c BatchContext) ExpectedSender() (common.Address, bool) {
	switch c.State {
	case spendauth.SubAccountReady:
		return c.SubAccount, true
	case spendauth.SubAccountFallback:
		return c.UniversalAccount, true
	}
	return common.Address{}, false
}

// ValidateBatch checks the batch against the target chain and the session's sender.
func (v *Validator) ValidateBatch(_ context.Context, batch *calls.CallBatch, bc BatchContext) (*Result, error) {
	res := &Result{Valid: true}
	if batch == nil || len(batch.Calls) == 0 {
		res.fail(spendauth.ReasonNoCalls)
		return res, res.Err()
	}

	if batch.Version != calls.BatchVersion {
		res.fail(spendauth.ReasonBatchVersionMismatch)
	}
	if batch.ChainID == nil || bc.ChainID == nil || batch.ChainID.Cmp(bc.ChainID) != 0 {
		res.fail(spendauth.ReasonBatchChainMismatch)
	}
	if sender, ok := bc.ExpectedSender(); !ok || sender != batch.From {
		res.fail(spendauth.ReasonBatchUnknownSender)
	}
	for _, c := range batch.Calls {
		if err := c.Validate(); err != nil {
			res.fail(spendauth.CodeOf(err))
			break
		}
	}

	if !res.Valid {
		v.logger.Info("call batch refused",
			zap.String("from", batch.From.Hex()),
			zap.Strings("reasons", res.Reasons))
		return res, res.Err()
	}
	return res, nil
}
