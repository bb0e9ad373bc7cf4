package typeddata

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignatureLength is returned for signatures that are not 65 bytes.
var ErrInvalidSignatureLength = errors.New("signature must be 65 bytes")

// RecoverSigner recovers the EOA that produced sig over the payload digest.
// The recovery byte may be 0/1 or 27/28.
func RecoverSigner(payload *Payload, sig []byte) (common.Address, error) {
	return RecoverDigestSigner(payload.Digest, sig)
}

// RecoverDigestSigner recovers the EOA that signed digest.
func RecoverDigestSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)

	v := normalized[crypto.RecoveryIDOffset]
	switch v {
	case 0, 1:
	case 27, 28:
		normalized[crypto.RecoveryIDOffset] = v - 27
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", v)
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
