package permission

import (
	"context"
	"math/big"
)

// PeriodSpend is the verifier-reported amount already spent in one period.
type PeriodSpend struct {
	Start uint64   `json:"start"`
	End   uint64   `json:"end"`
	Spent *big.Int `json:"spent"`
}

// SpentIn returns the amount spent in period, or zero when the report belongs to an
// earlier period. ok is false when the report is ahead of period, which means the
// caller's clock and the verifier disagree.
func (s *PeriodSpend) SpentIn(period Period) (spent *big.Int, ok bool) {
	if s == nil || s.Spent == nil {
		return new(big.Int), true
	}
	switch {
	case s.Start == period.Start:
		return new(big.Int).Set(s.Spent), true
	case s.Start < period.Start:
		return new(big.Int), true
	default:
		return nil, false
	}
}

// StateReader exposes verifier-held permission state needed before validation.
type StateReader interface {
	PeriodSpend(ctx context.Context, p *SpendPermission) (*PeriodSpend, error)
	IsRevoked(ctx context.Context, p *SpendPermission) (bool, error)
}
