package lifecycle

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/validator"
)

// Session is one connected wallet on one origin. It carries the state that decides
// which account call batches are sent from.
type Session struct {
	mu sync.RWMutex

	universal  common.Address
	origin     string
	chainID    *big.Int
	state      spendauth.SubAccountState
	subAccount *SubAccount
	// fallbackReason records why resolution fell back to the universal account.
	fallbackReason string
}

// NewSession creates an unresolved session for an already connected account.
func NewSession(universal common.Address, origin string, chainID *big.Int) *Session {
	return &Session{
		universal: universal,
		origin:    origin,
		chainID:   new(big.Int).Set(chainID),
		state:     spendauth.SubAccountUnresolved,
	}
}

// UniversalAccount returns the wallet's primary account.
func (s *Session) UniversalAccount() common.Address {
	return s.universal
}

// Origin returns the app origin the session is scoped to.
func (s *Session) Origin() string {
	return s.origin
}

// ChainID returns a copy of the session chain id.
func (s *Session) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// State returns the sub-account resolution state.
func (s *Session) State() spendauth.SubAccountState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SubAccount returns the resolved sub-account, or nil.
func (s *Session) SubAccount() *SubAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.subAccount == nil {
		return nil
	}
	sa := *s.subAccount
	return &sa
}

// FallbackReason explains a fallback resolution.
func (s *Session) FallbackReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallbackReason
}

// EffectiveAccount is the sender for call batches: the sub-account when ready, the
// universal account in fallback mode. Unresolved sessions have none.
func (s *Session) EffectiveAccount() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case spendauth.SubAccountReady:
		return s.subAccount.Address, nil
	case spendauth.SubAccountFallback:
		return s.universal, nil
	}
	return common.Address{}, spendauth.NewError(spendauth.KindInvalidTransition, spendauth.ReasonSessionUnresolved,
		"sub-account not resolved")
}

// BatchContext returns the validator view of the session.
func (s *Session) BatchContext() validator.BatchContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bc := validator.BatchContext{
		ChainID:          new(big.Int).Set(s.chainID),
		State:            s.state,
		UniversalAccount: s.universal,
	}
	if s.subAccount != nil {
		bc.SubAccount = s.subAccount.Address
	}
	return bc
}

func (s *Session) markReady(sa SubAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = spendauth.SubAccountReady
	s.subAccount = &sa
	s.fallbackReason = ""
}

func (s *Session) markFallback(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = spendauth.SubAccountFallback
	s.subAccount = nil
	s.fallbackReason = reason
}
