// Package discount turns a raw sale total and a discount descriptor into
// the total the customer actually pays.
package discount

import (
	"github.com/shopspring/decimal"

	"kasa/backend/internal/domain"
)

var (
	ErrUnknownType   = domain.NewError(domain.KindValidation, "unknown discount type")
	ErrNegativeValue = domain.NewError(domain.KindValidation, "discount value must not be negative")
	ErrPercentRange  = domain.NewError(domain.KindValidation, "percentage discount must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// Apply never returns less than zero or more than raw.
func Apply(raw decimal.Decimal, d *domain.Discount) decimal.Decimal {
	if d == nil || raw.IsNegative() {
		return raw
	}

	var out decimal.Decimal
	switch d.Type {
	case domain.DiscountPercentage:
		out = raw.Mul(decimal.NewFromInt(1).Sub(d.Value.Div(hundred)))
	case domain.DiscountAmount:
		out = raw.Sub(d.Value)
	default:
		return raw
	}

	out = out.Round(2)
	if out.IsNegative() {
		return decimal.Zero
	}
	if out.GreaterThan(raw) {
		return raw
	}
	return out
}

// Validate rejects descriptors Apply would have to silently ignore.
func Validate(d *domain.Discount) error {
	if d == nil {
		return nil
	}
	if d.Value.IsNegative() {
		return ErrNegativeValue
	}
	switch d.Type {
	case domain.DiscountPercentage:
		if d.Value.GreaterThan(hundred) {
			return ErrPercentRange
		}
	case domain.DiscountAmount:
	default:
		return ErrUnknownType
	}
	return nil
}

// Describe returns a copy of d with the resulting total filled in.
func Describe(raw decimal.Decimal, d *domain.Discount) *domain.Discount {
	if d == nil {
		return nil
	}
	out := *d
	out.DiscountedTotal = Apply(raw, d)
	return &out
}
