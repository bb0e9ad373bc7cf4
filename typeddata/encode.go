package typeddata

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/coinbase/spendauth"
)

// Message is a normalized struct value. Values holds checksummed addresses, decimal
// integer strings, 0x-hex byte strings, plain strings, or []*Message for struct arrays.
type Message struct {
	Type   string
	Fields []Field
	Values map[string]interface{}
}

// Map converts m into the generic form consumed by apitypes.
func (m *Message) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Fields {
		switch v := m.Values[f.Name].(type) {
		case []*Message:
			items := make([]interface{}, len(v))
			for i, item := range v {
				items[i] = item.Map()
			}
			out[f.Name] = items
		default:
			out[f.Name] = v
		}
	}
	return out
}

// Payload is the canonical typed-data document for one authorization object.
type Payload struct {
	Kind        EntityKind
	Domain      Domain
	PrimaryType string
	Types       map[string][]Field
	Message     *Message
	// Digest is keccak256(0x19 0x01 || domainSeparator || hashStruct(message)).
	Digest common.Hash

	order []string
}

// TypedData returns the payload as go-ethereum typed data.
func (p *Payload) TypedData() apitypes.TypedData {
	return toTypedData(p.Domain, p.Types, p.PrimaryType, p.Message.Map())
}

// Encode validates value against the schema selected by kind and returns its canonical
// payload. Any field outside its declared range fails with an encoding error; no partial
// payload is returned. Encoding is pure: equal inputs give byte-identical payloads.
func Encode(kind EntityKind, value Encodable, domain Domain) (*Payload, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, spendauth.Encodingf(spendauth.ReasonUnknownEntityKind, "unknown entity kind %q", kind)
	}
	if value == nil {
		return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "nil %s", kind)
	}
	if err := validateDomain(domain); err != nil {
		return nil, err
	}

	msg, err := normalizeStruct(s.types, s.primaryType, value.TypedMessage(), s.primaryType)
	if err != nil {
		return nil, err
	}

	digest, err := HashTypedData(domain, s.types, s.primaryType, msg.Map())
	if err != nil {
		return nil, spendauth.WrapError(spendauth.KindEncoding, spendauth.ReasonFieldOutOfRange, err)
	}

	return &Payload{
		Kind:        kind,
		Domain:      copyDomain(domain),
		PrimaryType: s.primaryType,
		Types:       s.types,
		Message:     msg,
		Digest:      common.BytesToHash(digest),
		order:       s.order,
	}, nil
}

// HashTypedData hashes EIP-712 typed data.
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
func HashTypedData(
	domain Domain,
	types map[string][]Field,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := toTypedData(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// DomainSeparator returns hashStruct(EIP712Domain) for domain.
func DomainSeparator(domain Domain) (common.Hash, error) {
	typedData := toTypedData(domain, map[string][]Field{"EIP712Domain": EIP712DomainType}, "EIP712Domain", nil)
	sep, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

func toTypedData(domain Domain, types map[string][]Field, primaryType string, message map[string]interface{}) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}
	return typedData
}

func validateDomain(d Domain) error {
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "domain chainId must be positive")
	}
	if d.ChainID.BitLen() > 256 {
		return spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "domain chainId exceeds uint256")
	}
	return nil
}

func copyDomain(d Domain) Domain {
	d.ChainID = new(big.Int).Set(d.ChainID)
	return d
}

func normalizeStruct(types map[string][]Field, typeName string, raw map[string]interface{}, path string) (*Message, error) {
	fields, ok := types[typeName]
	if !ok {
		return nil, spendauth.Encodingf(spendauth.ReasonUnknownEntityKind, "%s: unknown type %s", path, typeName)
	}
	if len(raw) > len(fields) {
		for name := range raw {
			if !hasField(fields, name) {
				return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: unexpected field %q", path, name)
			}
		}
	}

	msg := &Message{Type: typeName, Fields: fields, Values: make(map[string]interface{}, len(fields))}
	for _, f := range fields {
		fieldPath := path + "." + f.Name
		rawValue, present := raw[f.Name]
		if !present {
			return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: missing", fieldPath)
		}
		v, err := normalizeValue(types, f.Type, rawValue, fieldPath)
		if err != nil {
			return nil, err
		}
		msg.Values[f.Name] = v
	}
	return msg, nil
}

func normalizeValue(types map[string][]Field, typ string, raw interface{}, path string) (interface{}, error) {
	if strings.HasSuffix(typ, "[]") {
		return normalizeArray(types, strings.TrimSuffix(typ, "[]"), raw, path)
	}
	if _, isStruct := types[typ]; isStruct {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: expected %s struct, got %T", path, typ, raw)
		}
		return normalizeStruct(types, typ, m, path)
	}

	switch {
	case typ == "address":
		return normalizeAddress(raw, path)
	case typ == "bytes":
		return normalizeBytes(raw, path)
	case typ == "string":
		s, ok := raw.(string)
		if !ok {
			return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: expected string, got %T", path, raw)
		}
		return s, nil
	case strings.HasPrefix(typ, "uint"):
		bits, err := strconv.Atoi(strings.TrimPrefix(typ, "uint"))
		if err != nil || bits <= 0 || bits > 256 || bits%8 != 0 {
			return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: unsupported type %s", path, typ)
		}
		return normalizeUint(raw, bits, path)
	}
	return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: unsupported type %s", path, typ)
}

func normalizeArray(types map[string][]Field, elemType string, raw interface{}, path string) (interface{}, error) {
	var items []map[string]interface{}
	switch v := raw.(type) {
	case []map[string]interface{}:
		items = v
	case []interface{}:
		items = make([]map[string]interface{}, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s[%d]: expected %s struct, got %T", path, i, elemType, item)
			}
			items[i] = m
		}
	default:
		return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: expected %s[], got %T", path, elemType, raw)
	}

	out := make([]*Message, len(items))
	for i, item := range items {
		m, err := normalizeStruct(types, elemType, item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func normalizeAddress(raw interface{}, path string) (string, error) {
	switch v := raw.(type) {
	case common.Address:
		return v.Hex(), nil
	case *common.Address:
		if v != nil {
			return v.Hex(), nil
		}
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v).Hex(), nil
		}
	case []byte:
		if len(v) == common.AddressLength {
			return common.BytesToAddress(v).Hex(), nil
		}
	}
	return "", spendauth.Encodingf(spendauth.ReasonInvalidAddress, "%s: not a 20-byte address: %v", path, raw)
}

func normalizeBytes(raw interface{}, path string) (string, error) {
	switch v := raw.(type) {
	case []byte:
		return hexutil.Encode(v), nil
	case hexutil.Bytes:
		return hexutil.Encode(v), nil
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return "", spendauth.Encodingf(spendauth.ReasonMalformedCallData, "%s: %v", path, err)
		}
		return hexutil.Encode(b), nil
	case nil:
		return "0x", nil
	}
	return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: expected bytes, got %T", path, raw)
}

func normalizeUint(raw interface{}, bits int, path string) (string, error) {
	var n *big.Int
	switch v := raw.(type) {
	case *big.Int:
		n = v
	case uint64:
		n = new(big.Int).SetUint64(v)
	case uint32:
		n = new(big.Int).SetUint64(uint64(v))
	case int64:
		n = big.NewInt(v)
	case int:
		n = big.NewInt(int64(v))
	case string:
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: invalid integer %q", path, v)
		}
		n = parsed
	default:
		return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: expected integer, got %T", path, raw)
	}
	if n == nil {
		return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: missing integer", path)
	}
	if n.Sign() < 0 {
		return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: negative value for uint%d", path, bits).
			WithDetail("field", path)
	}
	if n.BitLen() > bits {
		return "", spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "%s: value exceeds uint%d", path, bits).
			WithDetail("field", path)
	}
	return n.String(), nil
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
