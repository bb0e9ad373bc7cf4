// Package units converts between human decimal amounts and integer smallest units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coinbase/spendauth"
)

// Common token precisions.
const (
	EtherDecimals = 18
	USDCDecimals  = 6
)

// ParseUnits converts a decimal amount into smallest units with the given precision.
// Digits beyond the precision are truncated toward zero (floor, since amounts are
// non-negative), so "0.0000000000000000019" ether parses to 1 wei.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := parse(amount, decimals)
	if err != nil {
		return nil, err
	}
	return d.Shift(decimals).Floor().BigInt(), nil
}

// ParseUnitsExact is ParseUnits without truncation: an amount with more fractional
// digits than decimals is rejected.
func ParseUnitsExact(amount string, decimals int32) (*big.Int, error) {
	d, err := parse(amount, decimals)
	if err != nil {
		return nil, err
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Floor()) {
		return nil, spendauth.InvalidPermissionf(spendauth.ReasonPrecisionExceeded,
			"amount %s has more than %d fractional digits", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseEther converts an ether amount into wei.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

// FormatUnits renders smallest units as a decimal string without trailing zeros.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// FormatEther renders wei as ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

func parse(amount string, decimals int32) (decimal.Decimal, error) {
	if decimals < 0 || decimals > 77 {
		return decimal.Decimal{}, fmt.Errorf("unsupported precision %d", decimals)
	}
	cleaned := strings.TrimSpace(amount)
	if cleaned == "" {
		return decimal.Decimal{}, spendauth.InvalidPermissionf(spendauth.ReasonInvalidAmount, "empty amount")
	}
	// Plain decimal notation only: "1e999999999" would expand to a billion digits.
	if strings.ContainsAny(cleaned, "eE") {
		return decimal.Decimal{}, spendauth.InvalidPermissionf(spendauth.ReasonInvalidAmount,
			"invalid amount %q: exponent notation is not accepted", amount)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, spendauth.WrapError(spendauth.KindInvalidPermission, spendauth.ReasonInvalidAmount,
			fmt.Errorf("invalid amount %q: %w", amount, err))
	}
	if d.IsNegative() {
		return decimal.Decimal{}, spendauth.InvalidPermissionf(spendauth.ReasonInvalidAmount, "amount cannot be negative: %s", amount)
	}
	return d, nil
}
