package lifecycle

import (
	"sync"
	"time"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/permission"
)

// Authorization tracks one spend permission through its lifecycle.
type Authorization struct {
	mu sync.RWMutex

	state      spendauth.PermissionState
	permission *permission.SpendPermission
	signed     *permission.SignedPermission
	receipts   []*spendauth.Receipt
	updatedAt  time.Time
}

// State returns the current lifecycle state.
func (a *Authorization) State() spendauth.PermissionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Permission returns a copy of the permission.
func (a *Authorization) Permission() *permission.SpendPermission {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.permission.Clone()
}

// Signed returns the signed permission, or nil while a draft.
func (a *Authorization) Signed() *permission.SignedPermission {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.signed
}

// Receipts returns the verifier receipts of accepted redemptions.
func (a *Authorization) Receipts() []*spendauth.Receipt {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*spendauth.Receipt, len(a.receipts))
	copy(out, a.receipts)
	return out
}

// UpdatedAt returns the time of the last transition.
func (a *Authorization) UpdatedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updatedAt
}

// allowed lists the transitions out of each state. Redeemed loops on itself because
// the allowance recurs every period.
var allowed = map[spendauth.PermissionState][]spendauth.PermissionState{
	spendauth.PermissionDraft:    {spendauth.PermissionSigned},
	spendauth.PermissionSigned:   {spendauth.PermissionRedeemed, spendauth.PermissionExpired, spendauth.PermissionRevoked},
	spendauth.PermissionRedeemed: {spendauth.PermissionRedeemed, spendauth.PermissionExpired, spendauth.PermissionRevoked},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to spendauth.PermissionState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves a to next under a held write lock.
func (a *Authorization) transitionLocked(next spendauth.PermissionState, now time.Time) error {
	if !CanTransition(a.state, next) {
		return spendauth.NewError(spendauth.KindInvalidTransition, spendauth.ReasonWrongState,
			"cannot move from "+string(a.state)+" to "+string(next)).
			WithDetail("state", string(a.state))
	}
	a.state = next
	a.updatedAt = now
	return nil
}

func (a *Authorization) requireState(states ...spendauth.PermissionState) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range states {
		if a.state == s {
			return nil
		}
	}
	if a.state.Terminal() {
		return spendauth.NewError(spendauth.KindExpiredOrRevoked, reasonForTerminal(a.state),
			"permission is "+string(a.state))
	}
	return spendauth.NewError(spendauth.KindInvalidTransition, spendauth.ReasonWrongState,
		"operation not allowed in state "+string(a.state)).
		WithDetail("state", string(a.state))
}

func reasonForTerminal(s spendauth.PermissionState) string {
	if s == spendauth.PermissionRevoked {
		return spendauth.ReasonPermissionRevoked
	}
	return spendauth.ReasonPermissionWindowExpired
}
