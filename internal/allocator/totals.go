package allocator

import (
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"kasa/backend/internal/discount"
	"kasa/backend/internal/domain"
)

type Totals struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	OriginalTotal   decimal.Decimal `json:"original_total"`
	DiscountedTotal decimal.Decimal `json:"discounted_total"`
}

// NormalizeItems trims identifiers and merges repeated lines of the same
// product at the same price.
func NormalizeItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		if i, ok := index[item.ProductID]; ok &&
			out[i].UnitPriceWithTax.Equal(item.UnitPriceWithTax) &&
			out[i].UnitSalePrice.Equal(item.UnitSalePrice) {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}

func validateItems(items []domain.LineItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	ids := lo.Map(items, func(item domain.LineItem, _ int) string { return item.ProductID })
	if len(lo.Uniq(ids)) != len(ids) {
		return ErrDuplicateLine
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 {
			return ErrInvalidLine
		}
		if item.UnitSalePrice.IsNegative() || item.UnitPriceWithTax.IsNegative() || item.TaxRate.IsNegative() {
			return ErrInvalidLine
		}
	}
	return nil
}

// ComputeTotals keeps OriginalTotal == Subtotal + TaxAmount and applies
// the discount on top of it.
func ComputeTotals(items []domain.LineItem, d *domain.Discount) (Totals, error) {
	if err := validateItems(items); err != nil {
		return Totals{}, err
	}
	if err := discount.Validate(d); err != nil {
		return Totals{}, err
	}

	subtotal := lo.Reduce(items, func(acc decimal.Decimal, item domain.LineItem, _ int) decimal.Decimal {
		return acc.Add(item.UnitSalePrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}, decimal.Zero)
	original := lo.Reduce(items, func(acc decimal.Decimal, item domain.LineItem, _ int) decimal.Decimal {
		return acc.Add(item.Amount())
	}, decimal.Zero)

	subtotal = subtotal.Round(2)
	original = original.Round(2)
	return Totals{
		Subtotal:        subtotal,
		TaxAmount:       original.Sub(subtotal),
		OriginalTotal:   original,
		DiscountedTotal: discount.Apply(original, d),
	}, nil
}

func sum(values []decimal.Decimal) decimal.Decimal {
	return lo.Reduce(values, func(acc decimal.Decimal, v decimal.Decimal, _ int) decimal.Decimal {
		return acc.Add(v)
	}, decimal.Zero)
}
