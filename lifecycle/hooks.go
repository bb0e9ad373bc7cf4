package lifecycle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// SignContext contains information passed to sign hooks
type SignContext struct {
	Ctx        context.Context
	Account    common.Address
	Permission *permission.SpendPermission
	Domain     typeddata.Domain
	Timestamp  time.Time
}

// SignResultContext contains the signed permission and context
type SignResultContext struct {
	SignContext
	Signed   *permission.SignedPermission
	Duration time.Duration
}

// SignFailureContext contains the signing failure and context
type SignFailureContext struct {
	SignContext
	Error    error
	Duration time.Duration
}

// SubmitContext contains information passed to submit hooks.
// Batch is set for call batches, Permission and Amount for redemptions.
type SubmitContext struct {
	Ctx        context.Context
	Action     string
	Account    common.Address
	Batch      *calls.CallBatch
	Permission *permission.SignedPermission
	Amount     *big.Int
	Timestamp  time.Time
}

// SubmitResultContext contains the receipt and context
type SubmitResultContext struct {
	SubmitContext
	Receipt  *spendauth.Receipt
	Duration time.Duration
}

// SubmitFailureContext contains the submission failure and context
type SubmitFailureContext struct {
	SubmitContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeSignHook is called before the signing service is asked for a signature.
// If it returns a result with Abort=true, signing is skipped and the permission stays a draft
type BeforeSignHook func(SignContext) (*BeforeHookResult, error)

// AfterSignHook is called after a successful signature.
// Any error returned will be logged but will not affect the result
type AfterSignHook func(SignResultContext) error

// OnSignFailureHook is called when signing fails. Errors are logged
type OnSignFailureHook func(SignFailureContext) error

// BeforeSubmitHook is called before a redemption or call batch reaches the verifier.
// If it returns a result with Abort=true, nothing is submitted
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterSubmitHook is called after the verifier accepted the submission.
// Any error returned will be logged but will not affect the result
type AfterSubmitHook func(SubmitResultContext) error

// OnSubmitFailureHook is called when submission fails. Errors are logged
type OnSubmitFailureHook func(SubmitFailureContext) error

// ============================================================================
// Hook Registration Methods
// ============================================================================

// OnBeforeSign registers a hook to execute before signing
func (m *Manager) OnBeforeSign(hook BeforeSignHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.beforeSignHooks = append(m.beforeSignHooks, hook)
	return m
}

// OnAfterSign registers a hook to execute after successful signing
func (m *Manager) OnAfterSign(hook AfterSignHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.afterSignHooks = append(m.afterSignHooks, hook)
	return m
}

// OnSignFailure registers a hook to execute when signing fails
func (m *Manager) OnSignFailure(hook OnSignFailureHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onSignFailureHooks = append(m.onSignFailureHooks, hook)
	return m
}

// OnBeforeSubmit registers a hook to execute before submission
func (m *Manager) OnBeforeSubmit(hook BeforeSubmitHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.beforeSubmitHooks = append(m.beforeSubmitHooks, hook)
	return m
}

// OnAfterSubmit registers a hook to execute after successful submission
func (m *Manager) OnAfterSubmit(hook AfterSubmitHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.afterSubmitHooks = append(m.afterSubmitHooks, hook)
	return m
}

// OnSubmitFailure registers a hook to execute when submission fails
func (m *Manager) OnSubmitFailure(hook OnSubmitFailureHook) *Manager {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onSubmitFailureHooks = append(m.onSubmitFailureHooks, hook)
	return m
}

func (m *Manager) runBeforeSign(hc SignContext) error {
	m.hookMu.RLock()
	hooks := m.beforeSignHooks
	m.hookMu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(hc)
		if err != nil {
			return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonHookAborted, err)
		}
		if result != nil && result.Abort {
			return spendauth.NewError(spendauth.KindSigningRejected, spendauth.ReasonHookAborted, result.Reason)
		}
	}
	return nil
}

func (m *Manager) runAfterSign(rc SignResultContext) {
	m.hookMu.RLock()
	hooks := m.afterSignHooks
	m.hookMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(rc); err != nil {
			m.logger.Warn("after sign hook failed", zap.Error(err))
		}
	}
}

func (m *Manager) runSignFailure(fc SignFailureContext) {
	m.hookMu.RLock()
	hooks := m.onSignFailureHooks
	m.hookMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(fc); err != nil {
			m.logger.Warn("sign failure hook failed", zap.Error(err))
		}
	}
}

func (m *Manager) runBeforeSubmit(hc SubmitContext) error {
	m.hookMu.RLock()
	hooks := m.beforeSubmitHooks
	m.hookMu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(hc)
		if err != nil {
			return spendauth.WrapError(spendauth.KindSubmissionFailure, spendauth.ReasonHookAborted, err)
		}
		if result != nil && result.Abort {
			return spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonHookAborted, result.Reason)
		}
	}
	return nil
}

func (m *Manager) runAfterSubmit(rc SubmitResultContext) {
	m.hookMu.RLock()
	hooks := m.afterSubmitHooks
	m.hookMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(rc); err != nil {
			m.logger.Warn("after submit hook failed", zap.Error(err))
		}
	}
}

func (m *Manager) runSubmitFailure(fc SubmitFailureContext) {
	m.hookMu.RLock()
	hooks := m.onSubmitFailureHooks
	m.hookMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(fc); err != nil {
			m.logger.Warn("submit failure hook failed", zap.Error(err))
		}
	}
}
