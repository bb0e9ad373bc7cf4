// Package calls models an ordered, atomic batch of contract calls executed on behalf of
// an account by its delegated sub-account.
package calls

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/units"
)

// BatchVersion is the wallet_sendCalls request version.
const BatchVersion = "2.0.0"

// selectorLength is the size of an ABI function selector.
const selectorLength = 4

// Call is a single contract invocation. Empty Data is a plain value transfer.
type Call struct {
	To    common.Address
	Data  hexutil.Bytes
	Value *big.Int
}

// NewCall builds a call; a nil value means zero.
func NewCall(to common.Address, data []byte, value *big.Int) Call {
	c := Call{To: to, Data: append(hexutil.Bytes{}, data...)}
	if value != nil {
		c.Value = new(big.Int).Set(value)
	} else {
		c.Value = new(big.Int)
	}
	return c
}

// Validate checks that the call data is empty or starts with a full function selector
// and that the value is a non-negative uint256.
func (c Call) Validate() error {
	if n := len(c.Data); n > 0 && n < selectorLength {
		return spendauth.Encodingf(spendauth.ReasonMalformedCallData, "call data of %d bytes is shorter than a function selector", n)
	}
	if c.Value != nil && (c.Value.Sign() < 0 || c.Value.BitLen() > 256) {
		return spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "call value must be a uint256")
	}
	return nil
}

func (c Call) typedMessage() map[string]interface{} {
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	data := []byte(c.Data)
	if data == nil {
		data = []byte{}
	}
	return map[string]interface{}{
		"to":    c.To,
		"data":  data,
		"value": value,
	}
}

// CallBatch is a non-empty ordered list of calls that succeed or fail together.
type CallBatch struct {
	Version string
	From    common.Address
	ChainID *big.Int
	Calls   []Call
}

// BuildBatch assembles a batch sent from the given account.
func BuildBatch(from common.Address, chainID *big.Int, calls []Call) (*CallBatch, error) {
	if len(calls) == 0 {
		return nil, spendauth.NewError(spendauth.KindEmptyBatch, spendauth.ReasonNoCalls, "call batch has no calls")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "chain id must be positive")
	}

	b := &CallBatch{
		Version: BatchVersion,
		From:    from,
		ChainID: new(big.Int).Set(chainID),
		Calls:   make([]Call, len(calls)),
	}
	for i, c := range calls {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		b.Calls[i] = NewCall(c.To, c.Data, c.Value)
	}
	return b, nil
}

// Validate re-checks the batch invariants, e.g. after decoding from the wire.
func (b *CallBatch) Validate() error {
	if len(b.Calls) == 0 {
		return spendauth.NewError(spendauth.KindEmptyBatch, spendauth.ReasonNoCalls, "call batch has no calls")
	}
	if b.ChainID == nil || b.ChainID.Sign() <= 0 {
		return spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "chain id must be positive")
	}
	for i, c := range b.Calls {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
	}
	return nil
}

// TypedMessage implements typeddata.Encodable.
func (b *CallBatch) TypedMessage() map[string]interface{} {
	items := make([]map[string]interface{}, len(b.Calls))
	for i, c := range b.Calls {
		items[i] = c.typedMessage()
	}
	return map[string]interface{}{
		"version": b.Version,
		"from":    b.From,
		"chainId": b.ChainID,
		"calls":   items,
	}
}

// TotalValue sums the native value moved by the batch.
func (b *CallBatch) TotalValue() *big.Int {
	total := new(big.Int)
	for _, c := range b.Calls {
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	return total
}

// Submitter executes a batch atomically.
type Submitter interface {
	SubmitCallBatch(ctx context.Context, batch *CallBatch) (*spendauth.Receipt, error)
}

// Submit hands the batch to the executor exactly once. Any failure is reported as a
// submission failure carrying the underlying reason; it is never retried here.
func Submit(ctx context.Context, batch *CallBatch, submitter Submitter) (*spendauth.Receipt, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	receipt, err := submitter.SubmitCallBatch(ctx, batch)
	if err != nil {
		return nil, AsSubmissionFailure(err)
	}
	if receipt == nil {
		return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected, "executor returned no receipt")
	}
	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = time.Now()
	}
	return receipt, nil
}

// AsSubmissionFailure wraps err as a submission failure, preserving its reason code.
func AsSubmissionFailure(err error) error {
	var e *spendauth.Error
	if errors.As(err, &e) {
		if e.Kind == spendauth.KindSubmissionFailure || e.Kind == spendauth.KindSigningRejected {
			return err
		}
		return &spendauth.Error{
			Kind:    spendauth.KindSubmissionFailure,
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
			Err:     err,
		}
	}
	return spendauth.WrapError(spendauth.KindSubmissionFailure, spendauth.ReasonTransportFailure, err)
}

// EncodeFunctionCall packs a call to method of the contract described by abiJSON.
func EncodeFunctionCall(abiJSON, method string, args ...interface{}) (hexutil.Bytes, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// ValueFromDecimal converts a human amount of the native token into wei.
func ValueFromDecimal(amount string) (*big.Int, error) {
	return units.ParseUnits(amount, units.EtherDecimals)
}
