// Package lifecycle drives spend permissions through draft, signed, redeemed, expired
// and revoked, and resolves the delegated sub-account a session sends call batches from.
package lifecycle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/permission"
	"github.com/coinbase/spendauth/typeddata"
)

// SubAccount is an app-scoped account controlled by the universal account.
type SubAccount struct {
	Address          common.Address `json:"address"`
	UniversalAccount common.Address `json:"universalAccount"`
	Domain           string         `json:"domain"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// SigningService connects to the user's wallet and signs typed data.
type SigningService interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SignTypedPayload(ctx context.Context, account common.Address, payload *typeddata.Payload) ([]byte, error)
}

// SubAccountDirectory finds or creates sub-accounts.
type SubAccountDirectory interface {
	GetSubAccounts(ctx context.Context, account common.Address, domain string, chainID *big.Int) ([]SubAccount, error)
	CreateSubAccount(ctx context.Context, account common.Address) (*SubAccount, error)
}

// Verifier is the execution service that enforces permissions and runs call batches.
type Verifier interface {
	SubmitCallBatch(ctx context.Context, batch *calls.CallBatch) (*spendauth.Receipt, error)
	RedeemPermission(ctx context.Context, sp *permission.SignedPermission, amount *big.Int) (*spendauth.Receipt, error)
}

// Revoker is implemented by verifiers that record revocations.
type Revoker interface {
	RevokePermission(ctx context.Context, sp *permission.SignedPermission) (*spendauth.Receipt, error)
}
