// Package server is the spender-side HTTP service. It accepts signed permissions from
// apps, redeems them and relays delegated call batches to the execution backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/validator"
	"github.com/coinbase/spendauth/verifierclient"
)

// Backend executes redemptions and batches and reports permission state.
type Backend interface {
	lifecycle.Verifier
	lifecycle.Revoker
	permission.StateReader
}

// AcceptResponse is returned for an accepted permission.
type AcceptResponse struct {
	Result     *validator.Result            `json:"result"`
	Permission *permission.SignedPermission `json:"permission"`
}

// Service holds the framework-independent request handling shared by the routers.
type Service struct {
	backend   Backend
	directory lifecycle.SubAccountDirectory
	validator *validator.Validator
	chainID   *big.Int
	guard     *spendauth.InFlight
	logger    *zap.Logger
	origins   []string

	mu       sync.RWMutex
	accepted map[permission.Key]*permission.SignedPermission
}

// Option configures a Service.
type Option func(*Service)

// WithDirectory sets the sub-account directory used to identify batch senders.
func WithDirectory(d lifecycle.SubAccountDirectory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validator.Validator) Option {
	return func(s *Service) {
		s.validator = v
	}
}

// WithChainID sets the chain batches must target.
func WithChainID(id *big.Int) Option {
	return func(s *Service) {
		s.chainID = new(big.Int).Set(id)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithAllowedOrigins enables CORS for browser apps served from origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Service) {
		s.origins = append(s.origins, origins...)
	}
}

// NewService creates a Service on top of backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		chainID:  new(big.Int).Set(spendauth.ChainIDBaseSepolia),
		guard:    spendauth.NewInFlight(time.Minute),
		logger:   zap.NewNop(),
		accepted: make(map[permission.Key]*permission.SignedPermission),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validator.New(validator.WithLogger(s.logger))
	}
	return s
}

// Health reports the service status and the network batches must target.
func (s *Service) Health() *verifierclient.HealthResponse {
	return &verifierclient.HealthResponse{Status: "ok", Network: spendauth.NetworkFor(s.chainID)}
}

// AcceptPermission validates a signed permission as a standing grant and stores it.
func (s *Service) AcceptPermission(ctx context.Context, body []byte) (*AcceptResponse, error) {
	if err := validateBody(signedPermissionSchema, body); err != nil {
		return nil, err
	}
	var sp permission.SignedPermission
	if err := decode(body, &sp); err != nil {
		return nil, err
	}

	revoked, err := s.backend.IsRevoked(ctx, sp.Permission)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	res, err := s.validator.ValidateGrant(ctx, &sp, revoked)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.accepted[sp.Permission.Key()] = &sp
	s.mu.Unlock()

	s.logger.Info("permission accepted",
		zap.String("account", sp.Permission.Account.Hex()),
		zap.String("spender", sp.Permission.Spender.Hex()),
		zap.String("salt", sp.Permission.Key().Salt))
	return &AcceptResponse{Result: res, Permission: &sp}, nil
}

// Permission returns a previously accepted permission.
func (s *Service) Permission(query url.Values) (*permission.SignedPermission, error) {
	p, err := verifierclient.ParseKeyQuery(query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.accepted[p.Key()]
	if !ok {
		return nil, nil
	}
	return sp, nil
}

// Redeem validates a redemption against backend state and executes it.
func (s *Service) Redeem(ctx context.Context, body []byte) (*spendauth.Receipt, error) {
	if err := validateBody(redeemSchema, body); err != nil {
		return nil, err
	}
	var req verifierclient.RedeemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonInvalidAmount, "invalid amount %q", req.Amount)
	}
	sp := req.Permission
	p := sp.Permission

	ticket, err := s.guard.Acquire(spendauth.ActionKey(spendauth.ActionRedeem, p.Account.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	spend, err := s.backend.PeriodSpend(ctx, p)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	revoked, err := s.backend.IsRevoked(ctx, p)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	if _, err := s.validator.ValidatePermission(ctx, sp, validator.Redemption{Amount: amount, Spend: spend, Revoked: revoked}); err != nil {
		return nil, err
	}

	receipt, err := s.backend.RedeemPermission(ctx, sp, amount)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	s.logger.Info("permission redeemed",
		zap.String("account", p.Account.Hex()),
		zap.String("spender", p.Spender.Hex()),
		zap.String("amount", amount.String()),
		zap.String("receipt", receipt.ID))
	ticket.Complete(receipt)
	return receipt, nil
}

// Revoke records a revocation. The signature must still verify; an elapsed window does not
// prevent revocation.
func (s *Service) Revoke(ctx context.Context, body []byte) (*spendauth.Receipt, error) {
	if err := validateBody(revokeSchema, body); err != nil {
		return nil, err
	}
	var req verifierclient.RevokeRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	sp := req.Permission

	if err := s.validator.VerifySignature(ctx, sp); err != nil {
		return nil, err
	}

	ticket, err := s.guard.Acquire(spendauth.ActionKey(spendauth.ActionRevoke, sp.Permission.Account.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	receipt, err := s.backend.RevokePermission(ctx, sp)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	s.mu.Lock()
	delete(s.accepted, sp.Permission.Key())
	s.mu.Unlock()

	s.logger.Info("permission revoked",
		zap.String("account", sp.Permission.Account.Hex()),
		zap.String("spender", sp.Permission.Spender.Hex()))
	ticket.Complete(receipt)
	return receipt, nil
}

// Outcome reports the retained receipt of the latest redemption, revocation or batch
// of an account. With wait it blocks until a pending action on the account finishes.
func (s *Service) Outcome(ctx context.Context, query url.Values) (*verifierclient.OutcomeResponse, error) {
	action, account, wait, err := verifierclient.ParseOutcomeQuery(query)
	if err != nil {
		return nil, err
	}
	key := spendauth.ActionKey(action, account.Hex())
	resp := &verifierclient.OutcomeResponse{Action: action, Account: account}
	if wait {
		receipt, err := s.guard.Wait(ctx, key)
		if err != nil {
			return nil, spendauth.WrapError(spendauth.KindSubmissionFailure, spendauth.ReasonRequestCanceled, err)
		}
		resp.Receipt = receipt
		return resp, nil
	}
	resp.Pending = s.guard.Pending(key)
	resp.Receipt = s.guard.Result(key)
	return resp, nil
}

// PeriodSpend reports backend spend for the permission identified by query.
func (s *Service) PeriodSpend(ctx context.Context, query url.Values) (*permission.PeriodSpend, error) {
	p, err := verifierclient.ParseKeyQuery(query)
	if err != nil {
		return nil, err
	}
	spend, err := s.backend.PeriodSpend(ctx, p)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	if spend == nil {
		spend = &permission.PeriodSpend{}
	}
	return spend, nil
}

// Revoked reports whether the permission identified by query is revoked.
func (s *Service) Revoked(ctx context.Context, query url.Values) (*verifierclient.RevokedResponse, error) {
	p, err := verifierclient.ParseKeyQuery(query)
	if err != nil {
		return nil, err
	}
	revoked, err := s.backend.IsRevoked(ctx, p)
	if err != nil {
		return nil, calls.AsSubmissionFailure(err)
	}
	return &verifierclient.RevokedResponse{Revoked: revoked}, nil
}

// SubmitBatch validates a batch against its session and hands it to the backend once.
func (s *Service) SubmitBatch(ctx context.Context, body []byte) (*spendauth.Receipt, error) {
	if err := validateBody(batchSchema, body); err != nil {
		return nil, err
	}
	var req verifierclient.BatchRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if len(req.Batch.Calls) == 0 {
		return nil, spendauth.NewError(spendauth.KindEmptyBatch, spendauth.ReasonNoCalls, "call batch has no calls")
	}

	bc := s.batchContext(ctx, req)
	if _, err := s.validator.ValidateBatch(ctx, req.Batch, bc); err != nil {
		return nil, err
	}

	ticket, err := s.guard.Acquire(spendauth.ActionKey(spendauth.ActionSubmitBatch, req.Batch.From.Hex()))
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	receipt, err := calls.Submit(ctx, req.Batch, s.backend)
	if err != nil {
		return nil, err
	}
	s.logger.Info("call batch submitted",
		zap.String("account", req.Batch.From.Hex()),
		zap.Int("calls", len(req.Batch.Calls)),
		zap.String("receipt", receipt.ID))
	ticket.Complete(receipt)
	return receipt, nil
}

// batchContext rebuilds the session view of a batch. A sender that is not the
// universal account's sub-account for the origin is treated as the universal account.
func (s *Service) batchContext(ctx context.Context, req verifierclient.BatchRequest) validator.BatchContext {
	universal := req.UniversalAccount
	if universal == (common.Address{}) {
		universal = req.Batch.From
	}
	bc := validator.BatchContext{
		ChainID:          s.chainID,
		State:            spendauth.SubAccountFallback,
		UniversalAccount: universal,
	}
	if s.directory == nil || universal == req.Batch.From {
		return bc
	}
	subs, err := s.directory.GetSubAccounts(ctx, universal, req.Origin, s.chainID)
	if err != nil {
		s.logger.Debug("sub-account lookup failed", zap.String("account", universal.Hex()), zap.Error(err))
		return bc
	}
	for _, sa := range subs {
		if sa.Address == req.Batch.From {
			bc.State = spendauth.SubAccountReady
			bc.SubAccount = sa.Address
		}
	}
	return bc
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return spendauth.Encodingf(spendauth.ReasonMalformedRequest, "%v", err)
	}
	return nil
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch spendauth.KindOf(err) {
	case spendauth.KindEncoding, spendauth.KindInvalidPermission, spendauth.KindEmptyBatch, spendauth.KindSigningRejected:
		return http.StatusBadRequest
	case spendauth.KindValidation:
		return http.StatusUnprocessableEntity
	case spendauth.KindExpiredOrRevoked:
		return http.StatusForbidden
	case spendauth.KindActionInFlight, spendauth.KindInvalidTransition:
		return http.StatusConflict
	case spendauth.KindSubmissionFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ErrorBody renders err for a response.
func ErrorBody(err error) *spendauth.Error {
	var e *spendauth.Error
	if errors.As(err, &e) {
		return e
	}
	return spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonTransportFailure, "internal error")
}
