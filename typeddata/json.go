package typeddata

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON renders the eth_signTypedData_v4 document. Keys are emitted in a fixed order
// (types, primaryType, domain, message) and struct members in declaration order, so two
// payloads for the same value produce identical bytes.
func (p *Payload) JSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"types":{`)
	for i, name := range p.typeOrder() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, name); err != nil {
			return nil, err
		}
		fields, err := json.Marshal(p.Types[name])
		if err != nil {
			return nil, err
		}
		buf.Write(fields)
	}
	buf.WriteString(`},"primaryType":`)
	if err := writeValue(&buf, p.PrimaryType); err != nil {
		return nil, err
	}

	buf.WriteString(`,"domain":{"name":`)
	if err := writeValue(&buf, p.Domain.Name); err != nil {
		return nil, err
	}
	buf.WriteString(`,"version":`)
	if err := writeValue(&buf, p.Domain.Version); err != nil {
		return nil, err
	}
	buf.WriteString(`,"chainId":`)
	buf.WriteString(p.Domain.ChainID.String())
	buf.WriteString(`,"verifyingContract":`)
	if err := writeValue(&buf, p.Domain.VerifyingContract.Hex()); err != nil {
		return nil, err
	}

	buf.WriteString(`},"message":`)
	if err := writeMessage(&buf, p.Message); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler with declaration-ordered members.
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Payload) typeOrder() []string {
	if len(p.order) > 0 {
		return p.order
	}
	// Payloads assembled by hand fall back to the schema order for their kind.
	if s, ok := schemas[p.Kind]; ok {
		return s.order
	}
	return []string{"EIP712Domain", p.PrimaryType}
}

func writeMessage(buf *bytes.Buffer, m *Message) error {
	buf.WriteByte('{')
	for i, f := range m.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, f.Name); err != nil {
			return err
		}
		switch v := m.Values[f.Name].(type) {
		case []*Message:
			buf.WriteByte('[')
			for j, item := range v {
				if j > 0 {
					buf.WriteByte(',')
				}
				if err := writeMessage(buf, item); err != nil {
					return err
				}
			}
			buf.WriteByte(']')
		case string:
			if err := writeValue(buf, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("field %s: unexpected normalized value %T", f.Name, v)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	if err := writeValue(buf, key); err != nil {
		return err
	}
	buf.WriteByte(':')
	return nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
