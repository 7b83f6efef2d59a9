package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// AccountRef identifies an account by id or, when ID is zero, by email.
type AccountRef struct {
	ID    int64
	Email string
}

func ByID(id int64) AccountRef        { return AccountRef{ID: id} }
func ByEmail(email string) AccountRef { return AccountRef{Email: email} }

func (r AccountRef) IsZero() bool {
	return r.ID == 0 && r.Email == ""
}

func (r AccountRef) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("#%d", r.ID)
	}
	return r.Email
}

// toMinorUnits converts a request amount to an integral number of minor units.
// Fractions and values outside int64 are rejected.
func toMinorUnits(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number of units", ErrInvalidAmount, d)
	}
	if d.GreaterThan(maxMinorUnits) || d.LessThan(minMinorUnits) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return d.IntPart(), nil
}

// positiveAmount is used for transfers.
func positiveAmount(d decimal.Decimal) (int64, error) {
	v, err := toMinorUnits(d)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, v)
	}
	return v, nil
}

// nonZeroDelta is used for adjustments; MinInt64 is refused because its
// magnitude does not fit a ledger amount.
func nonZeroDelta(d decimal.Decimal) (int64, error) {
	v, err := toMinorUnits(d)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: delta must not be zero", ErrInvalidAmount)
	}
	if v == math.MinInt64 {
		return 0, fmt.Errorf("%w: %d is out of range", ErrInvalidAmount, v)
	}
	return v, nil
}

func addChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
