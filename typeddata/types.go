// Package typeddata produces the canonical EIP-712 encoding shared by the signer and the
// verifier of spend permissions and delegated call batches.
package typeddata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EntityKind selects the schema an Encodable is encoded with.
type EntityKind string

const (
	KindSpendPermission EntityKind = "SpendPermission"
	KindCallBatch       EntityKind = "CallBatch"
)

// Field is one member of a typed-data struct definition.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Domain is the EIP-712 domain the signature is bound to.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// Equal reports whether d and o describe the same domain.
func (d Domain) Equal(o Domain) bool {
	if d.Name != o.Name || d.Version != o.Version || d.VerifyingContract != o.VerifyingContract {
		return false
	}
	if d.ChainID == nil || o.ChainID == nil {
		return d.ChainID == nil && o.ChainID == nil
	}
	return d.ChainID.Cmp(o.ChainID) == 0
}

// Encodable is implemented by the authorization objects. TypedMessage returns the raw
// field values keyed by schema field name; Encode validates and normalizes them.
//
// Accepted value types: common.Address or hex string for address, *big.Int or uint64 for
// integers, []byte for bytes, string for string, and []map[string]interface{} for struct arrays.
type Encodable interface {
	TypedMessage() map[string]interface{}
}

// EIP712DomainType is the domain struct definition used for every entity kind.
var EIP712DomainType = []Field{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// SpendPermissionType is the SpendPermission struct in canonical field order.
var SpendPermissionType = []Field{
	{Name: "account", Type: "address"},
	{Name: "spender", Type: "address"},
	{Name: "token", Type: "address"},
	{Name: "allowance", Type: "uint160"},
	{Name: "period", Type: "uint48"},
	{Name: "start", Type: "uint48"},
	{Name: "end", Type: "uint48"},
	{Name: "salt", Type: "uint256"},
	{Name: "extraData", Type: "bytes"},
}

// CallBatchType is the CallBatch struct in canonical field order.
var CallBatchType = []Field{
	{Name: "version", Type: "string"},
	{Name: "from", Type: "address"},
	{Name: "chainId", Type: "uint256"},
	{Name: "calls", Type: "Call[]"},
}

// CallType is the Call struct in canonical field order.
var CallType = []Field{
	{Name: "to", Type: "address"},
	{Name: "data", Type: "bytes"},
	{Name: "value", Type: "uint256"},
}

// schema is the ordered set of struct definitions for one entity kind.
// The primary type always comes first after EIP712Domain.
type schema struct {
	primaryType string
	order       []string
	types       map[string][]Field
}

var schemas = map[EntityKind]schema{
	KindSpendPermission: {
		primaryType: "SpendPermission",
		order:       []string{"EIP712Domain", "SpendPermission"},
		types: map[string][]Field{
			"EIP712Domain":    EIP712DomainType,
			"SpendPermission": SpendPermissionType,
		},
	},
	KindCallBatch: {
		primaryType: "CallBatch",
		order:       []string{"EIP712Domain", "CallBatch", "Call"},
		types: map[string][]Field{
			"EIP712Domain": EIP712DomainType,
			"CallBatch":    CallBatchType,
			"Call":         CallType,
		},
	},
}

// Schema returns the primary type and ordered struct definitions for kind.
func Schema(kind EntityKind) (string, map[string][]Field, bool) {
	s, ok := schemas[kind]
	if !ok {
		return "", nil, false
	}
	return s.primaryType, s.types, true
}
