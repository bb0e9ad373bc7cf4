package calls

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// wireCall and wireBatch follow the wallet_sendCalls parameter format.
type wireCall struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
}

type wireBatch struct {
	Version        string         `json:"version"`
	From           common.Address `json:"from"`
	ChainID        *hexutil.Big   `json:"chainId"`
	AtomicRequired bool           `json:"atomicRequired"`
	Calls          []wireCall     `json:"calls"`
}

// MarshalJSON implements json.Marshaler.
func (c Call) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWireCall(c))
}

// UnmarshalJSON implements json.Unmarshaler. Malformed hex in data or value fails here.
func (c *Call) UnmarshalJSON(data []byte) error {
	var w wireCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = fromWireCall(w)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b *CallBatch) MarshalJSON() ([]byte, error) {
	w := wireBatch{
		Version:        b.Version,
		From:           b.From,
		AtomicRequired: true,
		Calls:          make([]wireCall, len(b.Calls)),
	}
	if b.ChainID != nil {
		w.ChainID = (*hexutil.Big)(b.ChainID)
	}
	for i, c := range b.Calls {
		w.Calls[i] = toWireCall(c)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *CallBatch) UnmarshalJSON(data []byte) error {
	var w wireBatch
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = CallBatch{
		Version: w.Version,
		From:    w.From,
		Calls:   make([]Call, len(w.Calls)),
	}
	if w.ChainID != nil {
		b.ChainID = w.ChainID.ToInt()
	}
	for i, c := range w.Calls {
		b.Calls[i] = fromWireCall(c)
	}
	return nil
}

func toWireCall(c Call) wireCall {
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	data := c.Data
	if data == nil {
		data = hexutil.Bytes{}
	}
	return wireCall{To: c.To, Data: data, Value: (*hexutil.Big)(value)}
}

func fromWireCall(w wireCall) Call {
	c := Call{To: w.To, Data: w.Data, Value: new(big.Int)}
	if w.Value != nil {
		c.Value = w.Value.ToInt()
	}
	if c.Data == nil {
		c.Data = hexutil.Bytes{}
	}
	return c
}
