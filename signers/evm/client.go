// Package evm provides a private-key signing service and an ethclient-backed contract
// caller for development and tests.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/typeddata"
)

// ClientSigner signs typed-data payloads with a local ECDSA key. It stands in for a
// wallet provider and exposes a single account.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	*ClientSigner usable as a lifecycle.SigningService or permission.Signer
//	Error if private key is invalid
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// NewClientSigner wraps an existing key.
func NewClientSigner(key *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() common.Address {
	return s.address
}

// RequestAccounts returns the signer's only account.
func (s *ClientSigner) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []common.Address{s.address}, nil
}

// SignTypedPayload signs the payload digest.
//
// Returns:
//
//	65-byte signature (r, s, v) with v in {27, 28}
//	SigningRejected if account is not the signer's address
func (s *ClientSigner) SignTypedPayload(ctx context.Context, account common.Address, payload *typeddata.Payload) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if account != s.address {
		return nil, spendauth.NewError(spendauth.KindSigningRejected, spendauth.ReasonSignerMismatch,
			fmt.Sprintf("signer %s cannot sign for %s", s.address.Hex(), account.Hex()))
	}

	signature, err := crypto.Sign(payload.Digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// DialContractCaller connects to an RPC node for EIP-1271 checks. The returned client
// satisfies validator.ContractCaller.
func DialContractCaller(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}
