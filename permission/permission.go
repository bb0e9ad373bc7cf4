// Package permission models a recurring, time-windowed spend allowance granted by an
// account to a spender, and its EIP-712 signature.
package permission

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/coinbase/spendauth"
)

const (
	maxUint48 = uint64(1)<<48 - 1
	saltBytes = 32
)

var (
	// NativeToken is the sentinel token address for the chain's native currency.
	NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
)

// SpendPermission grants Spender the right to move up to Allowance of Token from Account
// in every Period seconds between Start and End. Allowance is in smallest units.
type SpendPermission struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    uint64
	Start     uint64
	End       uint64
	Salt      *big.Int
	ExtraData hexutil.Bytes
}

// Key identifies a permission for salt-reuse detection.
type Key struct {
	Account common.Address
	Spender common.Address
	Token   common.Address
	Salt    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Account.Hex(), k.Spender.Hex(), k.Token.Hex(), k.Salt)
}

// Key returns the (account, spender, token, salt) tuple.
func (p *SpendPermission) Key() Key {
	salt := "0x0"
	if p.Salt != nil {
		salt = hexutil.EncodeBig(p.Salt)
	}
	return Key{Account: p.Account, Spender: p.Spender, Token: p.Token, Salt: salt}
}

// TypedMessage implements typeddata.Encodable.
func (p *SpendPermission) TypedMessage() map[string]interface{} {
	extra := []byte(p.ExtraData)
	if extra == nil {
		extra = []byte{}
	}
	return map[string]interface{}{
		"account":   p.Account,
		"spender":   p.Spender,
		"token":     p.Token,
		"allowance": p.Allowance,
		"period":    p.Period,
		"start":     p.Start,
		"end":       p.End,
		"salt":      p.Salt,
		"extraData": extra,
	}
}

// Clone returns a deep copy.
func (p *SpendPermission) Clone() *SpendPermission {
	c := *p
	if p.Allowance != nil {
		c.Allowance = new(big.Int).Set(p.Allowance)
	}
	if p.Salt != nil {
		c.Salt = new(big.Int).Set(p.Salt)
	}
	if p.ExtraData != nil {
		c.ExtraData = append(hexutil.Bytes{}, p.ExtraData...)
	}
	return &c
}

// Option configures Create.
type Option func(*createOptions)

type createOptions struct {
	extraData  []byte
	now        func() time.Time
	saltSource io.Reader
}

// WithExtraData sets the opaque extraData field.
func WithExtraData(data []byte) Option {
	return func(o *createOptions) {
		o.extraData = data
	}
}

// WithClock overrides the clock used for the elapsed-window check.
func WithClock(now func() time.Time) Option {
	return func(o *createOptions) {
		o.now = now
	}
}

// WithSaltSource overrides the salt entropy source. The default is crypto/rand.
func WithSaltSource(r io.Reader) Option {
	return func(o *createOptions) {
		o.saltSource = r
	}
}

// Create builds a draft permission with a fresh 256-bit salt.
func Create(
	account, spender, token common.Address,
	allowance *big.Int,
	period time.Duration,
	windowStart, windowEnd time.Time,
	opts ...Option,
) (*SpendPermission, error) {
	o := createOptions{now: time.Now, saltSource: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}

	if windowStart.Unix() < 0 || windowEnd.Unix() < 0 {
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonInvalidWindow, "window precedes the unix epoch")
	}
	if period < time.Second {
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonZeroPeriod, "period must be at least one second")
	}

	salt, err := NewSalt(o.saltSource)
	if err != nil {
		return nil, err
	}

	p := &SpendPermission{
		Account:   account,
		Spender:   spender,
		Token:     token,
		Period:    uint64(period / time.Second),
		Start:     uint64(windowStart.Unix()),
		End:       uint64(windowEnd.Unix()),
		Salt:      salt,
		ExtraData: hexutil.Bytes(o.extraData),
	}
	if allowance != nil {
		p.Allowance = new(big.Int).Set(allowance)
	}
	if p.ExtraData == nil {
		p.ExtraData = hexutil.Bytes{}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.End <= uint64(o.now().Unix()) {
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonWindowElapsed, "window end %d has already elapsed", p.End)
	}
	return p, nil
}

// Validate checks the structural constraints of p independent of time.
func (p *SpendPermission) Validate() error {
	switch {
	case p.Account == (common.Address{}):
		return spendauth.InvalidPermissionf(spendauth.ReasonZeroAccount, "account is the zero address")
	case p.Spender == (common.Address{}):
		return spendauth.InvalidPermissionf(spendauth.ReasonZeroSpender, "spender is the zero address")
	case p.Allowance == nil || p.Allowance.Sign() <= 0:
		return spendauth.InvalidPermissionf(spendauth.ReasonZeroAllowance, "allowance must be positive")
	case p.Allowance.Cmp(maxUint160) > 0:
		return spendauth.InvalidPermissionf(spendauth.ReasonFieldOutOfRange, "allowance exceeds uint160")
	case p.Period == 0:
		return spendauth.InvalidPermissionf(spendauth.ReasonZeroPeriod, "period must be positive")
	case p.Period > maxUint48 || p.Start > maxUint48 || p.End > maxUint48:
		return spendauth.InvalidPermissionf(spendauth.ReasonFieldOutOfRange, "period and window must fit uint48")
	case p.End <= p.Start:
		return spendauth.InvalidPermissionf(spendauth.ReasonInvalidWindow, "end %d must be after start %d", p.End, p.Start)
	case p.Salt == nil || p.Salt.Sign() < 0 || p.Salt.BitLen() > 256:
		return spendauth.InvalidPermissionf(spendauth.ReasonFieldOutOfRange, "salt must be a uint256")
	}
	return nil
}

// NewSalt reads 256 bits from r.
func NewSalt(r io.Reader) (*big.Int, error) {
	buf := make([]byte, saltBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, spendauth.WrapError(spendauth.KindInvalidPermission, spendauth.ReasonSaltUnavailable, err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// Period is a half-open accounting interval [Start, End) in unix seconds.
type Period struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether ts falls inside the period.
func (p Period) Contains(ts uint64) bool {
	return ts >= p.Start && ts < p.End
}

// InWindow reports whether now lies within [Start, End].
func (p *SpendPermission) InWindow(now time.Time) bool {
	ts := now.Unix()
	return ts >= 0 && uint64(ts) >= p.Start && uint64(ts) <= p.End
}

// CurrentPeriod returns the recurring period containing now. The last period is
// truncated at End; at exactly End the final period is returned. ok is false outside
// the window.
func (p *SpendPermission) CurrentPeriod(now time.Time) (period Period, ok bool) {
	if !p.InWindow(now) || p.Period == 0 {
		return Period{}, false
	}
	ts := uint64(now.Unix())
	if ts == p.End && ts > p.Start {
		ts--
	}
	start := p.Start + ((ts-p.Start)/p.Period)*p.Period
	end := start + p.Period
	if end > p.End || end < start {
		end = p.End
	}
	return Period{Start: start, End: end}, true
}
