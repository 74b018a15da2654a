package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// RateScale is the fixed-point scale of on-chain rates: 550 means 5.50%
const RateScale = 100

// Rate is a non-negative fixed-point interest rate scaled by RateScale
type Rate uint64

// Decimal returns the rate as a percentage value
func (r Rate) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(r)), -2)
}

// String formats the rate as a percentage, e.g. "5.50%"
func (r Rate) String() string {
	return r.Decimal().StringFixed(2) + "%"
}

// RateSnapshot pairs the operating rate held by the vault with the target
// rate published by the rate source. Read fresh on every run.
type RateSnapshot struct {
	Operating Rate
	Target    Rate
}

// InSync reports whether no synchronization call is needed
func (s RateSnapshot) InSync() bool {
	return s.Operating == s.Target
}

// Delta returns target minus operating as a signed percentage
func (s RateSnapshot) Delta() decimal.Decimal {
	return s.Target.Decimal().Sub(s.Operating.Decimal())
}
