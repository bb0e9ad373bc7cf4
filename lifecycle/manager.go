package lifecycle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
	"github.com/coinbase/spendauth/validator"
)

// Manager coordinates the signing service, the sub-account directory and the verifier.
// It holds no spend history: redemption checks use verifier-reported state.
type Manager struct {
	signer    SigningService
	directory SubAccountDirectory
	verifier  Verifier
	state     permission.StateReader
	validator *validator.Validator

	chainID *big.Int
	domain  typeddata.Domain
	guard   *spendauth.InFlight
	logger  *zap.Logger
	now     func() time.Time

	keysMu sync.Mutex
	keys   map[permission.Key]struct{}

	hookMu               sync.RWMutex
	beforeSignHooks      []BeforeSignHook
	afterSignHooks       []AfterSignHook
	onSignFailureHooks   []OnSignFailureHook
	beforeSubmitHooks    []BeforeSubmitHook
	afterSubmitHooks     []AfterSubmitHook
	onSubmitFailureHooks []OnSubmitFailureHook
}

// Option configures a Manager.
type Option func(*Manager)

// WithChainID sets the target chain. Defaults to Base Sepolia.
func WithChainID(id *big.Int) Option {
	return func(m *Manager) {
		m.chainID = new(big.Int).Set(id)
	}
}

// WithDomain sets the permission signing domain. Defaults to the manager domain on the chain.
func WithDomain(d typeddata.Domain) Option {
	return func(m *Manager) {
		m.domain = d
	}
}

// WithStateReader sets where period spend and revocation are read from before redemption.
func WithStateReader(r permission.StateReader) Option {
	return func(m *Manager) {
		m.state = r
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validator.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithInFlight shares an in-flight guard between managers.
func WithInFlight(g *spendauth.InFlight) Option {
	return func(m *Manager) {
		m.guard = g
	}
}

// NewManager creates a Manager. directory may be nil, in which case every session
// falls back to the universal account.
func NewManager(signer SigningService, directory SubAccountDirectory, verifier Verifier, opts ...Option) *Manager {
	m := &Manager{
		signer:    signer,
		directory: directory,
		verifier:  verifier,
		chainID:   new(big.Int).Set(spendauth.ChainIDBaseSepolia),
		logger:    zap.NewNop(),
		now:       time.Now,
		keys:      make(map[permission.Key]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.domain.ChainID == nil {
		m.domain = permission.DefaultDomain(m.chainID)
	}
	if m.guard == nil {
		m.guard = spendauth.NewInFlight(5 * time.Minute)
	}
	if m.validator == nil {
		m.validator = validator.New(validator.WithClock(m.now), validator.WithLogger(m.logger))
	}
	return m
}

// Domain returns the permission signing domain.
func (m *Manager) Domain() typeddata.Domain {
	return m.domain
}

// ============================================================================
// Sub-account side
// ============================================================================

// Connect asks the wallet for accounts and resolves the session's sub-account. The
// first account is the universal account.
func (m *Manager) Connect(ctx context.Context, origin string) (*Session, error) {
	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionConnect, origin))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	accounts, err := m.signer.RequestAccounts(ctx)
	if err != nil {
		m.logger.Info("wallet connection refused", zap.String("origin", origin), zap.Error(err))
		return nil, permission.AsSigningRejected(ctx, err)
	}
	if len(accounts) == 0 {
		return nil, spendauth.NewError(spendauth.KindSigningRejected, spendauth.ReasonNoAccounts, "wallet returned no accounts")
	}

	session := NewSession(accounts[0], origin, m.chainID)
	m.logger.Info("wallet connected",
		zap.String("account", session.universal.Hex()),
		zap.String("origin", origin),
		zap.String("chain_id", m.chainID.String()))

	if err := m.ResolveSubAccount(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResolveSubAccount moves an unresolved session to ready or fallback. An existing
// sub-account is used when found, one is created when none exists, and any lookup or
// creation failure falls back to the universal account. Cancellation leaves the
// session unresolved.
func (m *Manager) ResolveSubAccount(ctx context.Context, s *Session) error {
	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionResolveSubAccount, s.universal.Hex()+"@"+s.origin))
	if err != nil {
		return err
	}
	defer ticket.Release()

	if st := s.State(); st != spendauth.SubAccountUnresolved {
		return spendauth.NewError(spendauth.KindInvalidTransition, spendauth.ReasonWrongState,
			"sub-account already "+string(st))
	}

	log := m.logger.With(zap.String("account", s.universal.Hex()), zap.String("origin", s.origin))

	if m.directory == nil {
		s.markFallback("no sub-account directory")
		log.Info("sub-account fallback", zap.String("state", string(spendauth.SubAccountFallback)), zap.String("reason", "no directory"))
		return nil
	}

	existing, err := m.directory.GetSubAccounts(ctx, s.universal, s.origin, s.chainID)
	if err != nil {
		if ctx.Err() != nil {
			return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonRequestCanceled, err)
		}
		s.markFallback(err.Error())
		log.Info("sub-account lookup failed, using universal account",
			zap.String("state", string(spendauth.SubAccountFallback)), zap.Error(err))
		return nil
	}
	if len(existing) > 0 {
		sa := existing[0]
		if sa.UniversalAccount == (common.Address{}) {
			sa.UniversalAccount = s.universal
		}
		if sa.Domain == "" {
			sa.Domain = s.origin
		}
		s.markReady(sa)
		log.Info("sub-account found",
			zap.String("state", string(spendauth.SubAccountReady)),
			zap.String("sub_account", sa.Address.Hex()))
		return nil
	}

	created, err := m.directory.CreateSubAccount(ctx, s.universal)
	if err != nil || created == nil {
		if ctx.Err() != nil {
			return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonRequestCanceled, ctx.Err())
		}
		reason := "directory returned no sub-account"
		if err != nil {
			reason = err.Error()
		}
		s.markFallback(reason)
		log.Info("sub-account creation failed, using universal account",
			zap.String("state", string(spendauth.SubAccountFallback)), zap.String("reason", reason))
		return nil
	}

	sa := *created
	if sa.UniversalAccount == (common.Address{}) {
		sa.UniversalAccount = s.universal
	}
	if sa.Domain == "" {
		sa.Domain = s.origin
	}
	if sa.CreatedAt.IsZero() {
		sa.CreatedAt = m.now()
	}
	s.markReady(sa)
	log.Info("sub-account created",
		zap.String("state", string(spendauth.SubAccountReady)),
		zap.String("sub_account", sa.Address.Hex()))
	return nil
}

// SendCalls builds a batch from the session's effective account, validates it against
// the session and submits it once.
func (m *Manager) SendCalls(ctx context.Context, s *Session, cs []calls.Call) (*spendauth.Receipt, error) {
	from, err := s.EffectiveAccount()
	if err != nil {
		return nil, err
	}
	batch, err := calls.BuildBatch(from, s.chainID, cs)
	if err != nil {
		return nil, err
	}
	return m.SubmitBatch(ctx, s, batch)
}

// SubmitBatch validates and submits a prepared batch.
func (m *Manager) SubmitBatch(ctx context.Context, s *Session, batch *calls.CallBatch) (*spendauth.Receipt, error) {
	if _, err := m.validator.ValidateBatch(ctx, batch, s.BatchContext()); err != nil {
		return nil, err
	}

	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionSubmitBatch, batch.From.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	hc := SubmitContext{
		Ctx:       ctx,
		Action:    spendauth.ActionSubmitBatch,
		Account:   batch.From,
		Batch:     batch,
		Timestamp: m.now(),
	}
	if err := m.runBeforeSubmit(hc); err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := calls.Submit(ctx, batch, m.verifier)
	if err != nil {
		m.logger.Warn("call batch rejected",
			zap.String("account", batch.From.Hex()),
			zap.Int("calls", len(batch.Calls)),
			zap.String("reason", spendauth.CodeOf(err)))
		m.runSubmitFailure(SubmitFailureContext{SubmitContext: hc, Error: err, Duration: time.Since(start)})
		return nil, err
	}

	m.logger.Info("call batch submitted",
		zap.String("account", batch.From.Hex()),
		zap.Int("calls", len(batch.Calls)),
		zap.String("receipt", receipt.ID))
	m.runAfterSubmit(SubmitResultContext{SubmitContext: hc, Receipt: receipt, Duration: time.Since(start)})
	ticket.Complete(receipt)
	return receipt, nil
}

// ============================================================================
// Permission side
// ============================================================================

// Draft registers p as a draft. The (account, spender, token, salt) tuple must not
// have been used by another permission of this manager.
func (m *Manager) Draft(p *permission.SpendPermission) (*Authorization, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	key := p.Key()

	m.keysMu.Lock()
	if _, used := m.keys[key]; used {
		m.keysMu.Unlock()
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonSaltReused, "salt already used for this account, spender and token")
	}
	m.keys[key] = struct{}{}
	m.keysMu.Unlock()

	m.logger.Debug("permission drafted",
		zap.String("account", p.Account.Hex()),
		zap.String("spender", p.Spender.Hex()),
		zap.String("salt", key.Salt),
		zap.String("state", string(spendauth.PermissionDraft)))

	return &Authorization{
		state:      spendauth.PermissionDraft,
		permission: p.Clone(),
		updatedAt:  m.now(),
	}, nil
}

// Sign obtains the account's signature over the draft. On decline or cancellation the
// authorization stays a draft and may be signed again.
func (m *Manager) Sign(ctx context.Context, a *Authorization) (*permission.SignedPermission, error) {
	if err := a.requireState(spendauth.PermissionDraft); err != nil {
		return nil, err
	}
	p := a.Permission()

	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionSign, p.Account.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	hc := SignContext{Ctx: ctx, Account: p.Account, Permission: p, Domain: m.domain, Timestamp: m.now()}
	log := m.logger.With(zap.String("account", p.Account.Hex()), zap.String("spender", p.Spender.Hex()))

	if err := m.runBeforeSign(hc); err != nil {
		return nil, err
	}

	start := time.Now()
	signed, err := permission.Sign(ctx, p, m.domain, m.signer)
	if err != nil {
		log.Info("permission signing rejected",
			zap.String("state", string(spendauth.PermissionDraft)),
			zap.String("reason", spendauth.CodeOf(err)))
		m.runSignFailure(SignFailureContext{SignContext: hc, Error: err, Duration: time.Since(start)})
		return nil, err
	}

	a.mu.Lock()
	if err := a.transitionLocked(spendauth.PermissionSigned, m.now()); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.signed = signed
	a.mu.Unlock()

	log.Info("permission signed", zap.String("state", string(spendauth.PermissionSigned)))
	m.runAfterSign(SignResultContext{SignContext: hc, Signed: signed, Duration: time.Since(start)})
	return signed, nil
}

// Redeem spends amount under a signed permission. Verifier-reported spend and
// revocation are read first and the validator must accept before anything is
// submitted. A refusal for an elapsed window or a revocation moves the authorization
// to the matching terminal state.
func (m *Manager) Redeem(ctx context.Context, a *Authorization, amount *big.Int) (*spendauth.Receipt, error) {
	if err := a.requireState(spendauth.PermissionSigned, spendauth.PermissionRedeemed); err != nil {
		return nil, err
	}
	sp := a.Signed()
	p := sp.Permission
	log := m.logger.With(zap.String("account", p.Account.Hex()), zap.String("spender", p.Spender.Hex()))

	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionRedeem, p.Account.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	req := validator.Redemption{Amount: amount}
	if m.state != nil {
		spend, err := m.state.PeriodSpend(ctx, p)
		if err != nil {
			return nil, calls.AsSubmissionFailure(err)
		}
		revoked, err := m.state.IsRevoked(ctx, p)
		if err != nil {
			return nil, calls.AsSubmissionFailure(err)
		}
		req.Spend = spend
		req.Revoked = revoked
	}

	res, err := m.validator.ValidatePermission(ctx, sp, req)
	if err != nil {
		m.applyRefusal(a, res, log)
		return nil, err
	}

	hc := SubmitContext{
		Ctx:        ctx,
		Action:     spendauth.ActionRedeem,
		Account:    p.Account,
		Permission: sp,
		Amount:     new(big.Int).Set(amount),
		Timestamp:  m.now(),
	}
	if err := m.runBeforeSubmit(hc); err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := m.verifier.RedeemPermission(ctx, sp, amount)
	if err == nil && receipt == nil {
		err = spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected, "verifier returned no receipt")
	}
	if err != nil {
		err = calls.AsSubmissionFailure(err)
		log.Warn("redemption rejected", zap.String("amount", amount.String()), zap.String("reason", spendauth.CodeOf(err)))
		m.runSubmitFailure(SubmitFailureContext{SubmitContext: hc, Error: err, Duration: time.Since(start)})
		return nil, err
	}

	a.mu.Lock()
	if err := a.transitionLocked(spendauth.PermissionRedeemed, m.now()); err != nil {
		// Revoked or expired while the request was in flight; the verifier has already
		// accepted, so keep the receipt and report the conflict.
		a.receipts = append(a.receipts, receipt)
		a.mu.Unlock()
		return receipt, err
	}
	a.receipts = append(a.receipts, receipt)
	a.mu.Unlock()

	log.Info("permission redeemed",
		zap.String("amount", amount.String()),
		zap.String("state", string(spendauth.PermissionRedeemed)),
		zap.String("receipt", receipt.ID))
	m.runAfterSubmit(SubmitResultContext{SubmitContext: hc, Receipt: receipt, Duration: time.Since(start)})
	ticket.Complete(receipt)
	return receipt, nil
}

func (m *Manager) applyRefusal(a *Authorization, res *validator.Result, log *zap.Logger) {
	if res == nil {
		return
	}
	var next spendauth.PermissionState
	for _, r := range res.Reasons {
		switch r {
		case spendauth.ReasonPermissionRevoked:
			next = spendauth.PermissionRevoked
		case spendauth.ReasonPermissionWindowExpired:
			if next == "" {
				next = spendauth.PermissionExpired
			}
		}
	}
	if next == "" {
		log.Info("redemption refused", zap.Strings("reasons", res.Reasons))
		return
	}
	a.mu.Lock()
	err := a.transitionLocked(next, m.now())
	a.mu.Unlock()
	if err == nil {
		log.Info("permission closed", zap.String("state", string(next)), zap.Strings("reasons", res.Reasons))
	}
}

// Revoke closes a signed permission. When the verifier records revocations it is told
// first, and a failure there leaves the state unchanged.
func (m *Manager) Revoke(ctx context.Context, a *Authorization) error {
	if err := a.requireState(spendauth.PermissionSigned, spendauth.PermissionRedeemed); err != nil {
		return err
	}
	sp := a.Signed()

	ticket, err := m.guard.Acquire(spendauth.ActionKey(spendauth.ActionRevoke, sp.Permission.Account.Hex()))
	if err != nil {
		return err
	}
	defer ticket.Release()

	if r, ok := m.verifier.(Revoker); ok {
		if _, err := r.RevokePermission(ctx, sp); err != nil {
			return calls.AsSubmissionFailure(err)
		}
	}

	a.mu.Lock()
	err = a.transitionLocked(spendauth.PermissionRevoked, m.now())
	a.mu.Unlock()
	if err != nil {
		return err
	}
	m.logger.Info("permission revoked",
		zap.String("account", sp.Permission.Account.Hex()),
		zap.String("spender", sp.Permission.Spender.Hex()),
		zap.String("state", string(spendauth.PermissionRevoked)))
	return nil
}

// Expire closes a signed permission whose window has elapsed.
func (m *Manager) Expire(a *Authorization) error {
	if err := a.requireState(spendauth.PermissionSigned, spendauth.PermissionRedeemed); err != nil {
		return err
	}
	now := m.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.permission.InWindow(now) || now.Unix() < int64(a.permission.Start) {
		return spendauth.NewError(spendauth.KindInvalidTransition, spendauth.ReasonWindowOpen, "permission window has not elapsed")
	}
	if err := a.transitionLocked(spendauth.PermissionExpired, now); err != nil {
		return err
	}
	m.logger.Info("permission expired",
		zap.String("account", a.permission.Account.Hex()),
		zap.String("state", string(spendauth.PermissionExpired)))
	return nil
}

// IsCanceled reports whether err came from a cancelled request.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || spendauth.CodeOf(err) == spendauth.ReasonRequestCanceled
}
