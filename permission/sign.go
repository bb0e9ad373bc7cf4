package permission

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/typeddata"
)

const (
	// DomainName and DomainVersion identify the spend permission manager contract.
	DomainName    = "Spend Permission Manager"
	DomainVersion = "1.0.0"
)

// ManagerAddress is the spend permission manager deployment used on Base Sepolia.
var ManagerAddress = common.HexToAddress("0x129918F79fB60dc1AC3f07316f0683f9Fa356178")

// DefaultDomain returns the manager domain for chainID.
func DefaultDomain(chainID *big.Int) typeddata.Domain {
	return Domain(chainID, ManagerAddress)
}

// Domain returns the manager domain for chainID bound to the given manager contract.
func Domain(chainID *big.Int, manager common.Address) typeddata.Domain {
	return typeddata.Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: manager,
	}
}

// Signer produces a typed-data signature on behalf of account.
type Signer interface {
	SignTypedPayload(ctx context.Context, account common.Address, payload *typeddata.Payload) ([]byte, error)
}

// SignedPermission is a permission together with the signature and the domain it was signed under.
type SignedPermission struct {
	Permission *SpendPermission `json:"permission"`
	Signature  hexutil.Bytes    `json:"signature"`
	Domain     typeddata.Domain `json:"domain"`
}

// Payload re-encodes the signed permission under its declared domain.
func (s *SignedPermission) Payload() (*typeddata.Payload, error) {
	return typeddata.Encode(typeddata.KindSpendPermission, s.Permission, s.Domain)
}

// Sign encodes p under domain and asks signer for the account's signature.
// No signed artifact is produced on any failure. A declined, cancelled or failed
// request is reported as a signing rejection and may be re-initiated.
func Sign(ctx context.Context, p *SpendPermission, domain typeddata.Domain, signer Signer) (*SignedPermission, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := typeddata.Encode(typeddata.KindSpendPermission, p, domain)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignTypedPayload(ctx, p.Account, payload)
	if err != nil {
		return nil, AsSigningRejected(ctx, err)
	}
	if len(sig) == 0 {
		return nil, spendauth.NewError(spendauth.KindSigningRejected, spendauth.ReasonSigningFailed, "empty signature")
	}

	return &SignedPermission{
		Permission: p.Clone(),
		Signature:  append(hexutil.Bytes{}, sig...),
		Domain:     payload.Domain,
	}, nil
}

// AsSigningRejected maps a signing service failure onto the signing-rejected kind,
// keeping the reason of errors that already carry one.
func AsSigningRejected(ctx context.Context, err error) error {
	var e *spendauth.Error
	if errors.As(err, &e) && e.Kind == spendauth.KindSigningRejected {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonRequestCanceled, err)
	}
	return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonSigningFailed, err)
}
