package permission

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// wirePermission is the hand-off format sent to the spender's backend: integers as
// decimal strings, salt and extraData as 0x-hex.
type wirePermission struct {
	Account   common.Address `json:"account"`
	Spender   common.Address `json:"spender"`
	Token     common.Address `json:"token"`
	Allowance string         `json:"allowance"`
	Period    flexUint       `json:"period"`
	Start     flexUint       `json:"start"`
	End       flexUint       `json:"end"`
	Salt      string         `json:"salt"`
	ExtraData hexutil.Bytes  `json:"extraData"`
}

// MarshalJSON implements json.Marshaler.
func (p *SpendPermission) MarshalJSON() ([]byte, error) {
	w := wirePermission{
		Account:   p.Account,
		Spender:   p.Spender,
		Token:     p.Token,
		Allowance: "0",
		Period:    flexUint(p.Period),
		Start:     flexUint(p.Start),
		End:       flexUint(p.End),
		Salt:      "0x0",
		ExtraData: p.ExtraData,
	}
	if p.Allowance != nil {
		w.Allowance = p.Allowance.String()
	}
	if p.Salt != nil {
		w.Salt = hexutil.EncodeBig(p.Salt)
	}
	if w.ExtraData == nil {
		w.ExtraData = hexutil.Bytes{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Integers may be decimal strings or JSON
// numbers; salt may be 0x-hex or decimal.
func (p *SpendPermission) UnmarshalJSON(data []byte) error {
	var w wirePermission
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	allowance, ok := new(big.Int).SetString(w.Allowance, 10)
	if !ok {
		return fmt.Errorf("invalid allowance %q", w.Allowance)
	}
	salt, err := parseBig(w.Salt)
	if err != nil {
		return fmt.Errorf("invalid salt: %w", err)
	}

	*p = SpendPermission{
		Account:   w.Account,
		Spender:   w.Spender,
		Token:     w.Token,
		Allowance: allowance,
		Period:    uint64(w.Period),
		Start:     uint64(w.Start),
		End:       uint64(w.End),
		Salt:      salt,
		ExtraData: w.ExtraData,
	}
	if p.ExtraData == nil {
		p.ExtraData = hexutil.Bytes{}
	}
	return nil
}

func parseBig(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// DecodeBig rejects leading zero digits, which padded salts carry.
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// flexUint marshals as a decimal string and accepts either a string or a number.
type flexUint uint64

func (u flexUint) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *flexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s", data)
	}
	*u = flexUint(v)
	return nil
}
