package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/coinbase/spendauth/typeddata"
)

const isValidSignatureABI = `[{"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"magicValue","type":"bytes4"}],"stateMutability":"view","type":"function"}]`

var (
	// eip1271MagicValue is returned by isValidSignature on success.
	eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

	// erc6492MagicSuffix marks a counterfactual signature wrapper:
	// bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1).
	erc6492MagicSuffix = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

	isValidSignature abi.ABI
	erc6492Wrapper   abi.Arguments
)

// ErrUndeployedAccount is returned when a contract signature targets an account with no code.
var ErrUndeployedAccount = errors.New("smart account is not deployed")

func init() {
	var err error
	isValidSignature, err = abi.JSON(strings.NewReader(isValidSignatureABI))
	if err != nil {
		panic(err)
	}
	addressT, _ := abi.NewType("address", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	erc6492Wrapper = abi.Arguments{{Type: addressT}, {Type: bytesT}, {Type: bytesT}}
}

// SignatureVerifier checks that sig is signer's signature over digest.
// A false result with nil error is a definite rejection.
type SignatureVerifier interface {
	Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error)
}

// ContractCaller is the read-only chain access needed for EIP-1271 checks.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// ECDSAVerifier accepts signatures recoverable to the signer's key.
type ECDSAVerifier struct{}

// Verify implements SignatureVerifier.
func (ECDSAVerifier) Verify(_ context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	if len(sig) != 65 {
		return false, nil
	}
	recovered, err := typeddata.RecoverDigestSigner(digest, sig)
	if err != nil {
		return false, nil
	}
	return recovered == signer, nil
}

// ContractVerifier asks the signer's account contract through EIP-1271.
type ContractVerifier struct {
	Caller ContractCaller
}

// Verify implements SignatureVerifier. ERC-6492 wrapped signatures are unwrapped and
// the inner signature checked when the account is already deployed.
func (v ContractVerifier) Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	if v.Caller == nil {
		return false, errors.New("contract verifier has no chain access")
	}

	code, err := v.Caller.CodeAt(ctx, signer, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read account code: %w", err)
	}
	if len(code) == 0 {
		return false, ErrUndeployedAccount
	}

	if inner, ok := unwrapERC6492(sig); ok {
		sig = inner
	}

	input, err := isValidSignature.Pack("isValidSignature", [32]byte(digest), sig)
	if err != nil {
		return false, fmt.Errorf("failed to pack isValidSignature: %w", err)
	}
	out, err := v.Caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: input}, nil)
	if err != nil {
		// A reverting isValidSignature is a rejection.
		return false, nil
	}
	values, err := isValidSignature.Unpack("isValidSignature", out)
	if err != nil || len(values) != 1 {
		return false, nil
	}
	magic, ok := values[0].([4]byte)
	if !ok {
		return false, nil
	}
	return magic == eip1271MagicValue, nil
}

// UniversalVerifier tries EOA recovery first and falls back to EIP-1271.
type UniversalVerifier struct {
	EOA      SignatureVerifier
	Contract SignatureVerifier
}

// NewUniversalVerifier builds a verifier for both EOAs and smart accounts.
func NewUniversalVerifier(caller ContractCaller) *UniversalVerifier {
	return &UniversalVerifier{
		EOA:      ECDSAVerifier{},
		Contract: ContractVerifier{Caller: caller},
	}
}

// Verify implements SignatureVerifier.
func (v *UniversalVerifier) Verify(ctx context.Context, signer common.Address, digest common.Hash, sig []byte) (bool, error) {
	if v.EOA != nil {
		ok, err := v.EOA.Verify(ctx, signer, digest, sig)
		if err == nil && ok {
			return true, nil
		}
	}
	if v.Contract == nil {
		return false, nil
	}
	ok, err := v.Contract.Verify(ctx, signer, digest, sig)
	if errors.Is(err, ErrUndeployedAccount) {
		// Plain EOA whose recovery did not match.
		return false, nil
	}
	return ok, err
}

func unwrapERC6492(sig []byte) ([]byte, bool) {
	if len(sig) < len(erc6492MagicSuffix) || !bytes.HasSuffix(sig, erc6492MagicSuffix) {
		return nil, false
	}
	values, err := erc6492Wrapper.Unpack(sig[:len(sig)-len(erc6492MagicSuffix)])
	if err != nil || len(values) != 3 {
		return nil, false
	}
	inner, ok := values[2].([]byte)
	return inner, ok
}
