package allocator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
)

type RemainingLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocationOutcome is returned as soon as a product allocation is
// accepted; Change is handed back to that payer right away.
type AllocationOutcome struct {
	Cost            decimal.Decimal `json:"cost"`
	Change          decimal.Decimal `json:"change"`
	RemainingQty    int             `json:"remaining_qty"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

// ProductSplit is the working set of unpaid lines for a per-product split.
// A failed Allocate leaves the working set untouched.
type ProductSplit struct {
	lines  []RemainingLine
	result *Result
}

// NewProductSplit spreads the discounted total over the lines pro rata to
// their amounts; the last line absorbs the rounding.
func NewProductSplit(items []domain.LineItem, discountedTotal decimal.Decimal) (*ProductSplit, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	original := decimal.Zero
	for _, item := range items {
		original = original.Add(item.Amount())
	}

	lines := make([]RemainingLine, 0, len(items))
	allocated := decimal.Zero
	for i, item := range items {
		amount := item.Amount()
		switch {
		case original.IsZero():
			amount = decimal.Zero
		case !original.Equal(discountedTotal):
			amount = amount.Mul(discountedTotal).Div(original).Round(2)
		}
		if i == len(items)-1 && !original.IsZero() {
			amount = discountedTotal.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		lines = append(lines, RemainingLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Amount:    amount,
		})
	}

	return &ProductSplit{lines: lines, result: newResult(domain.SplitProduct)}, nil
}

func (p *ProductSplit) find(productID string) int {
	for i, line := range p.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (p *ProductSplit) Allocate(a domain.ProductAllocation) (AllocationOutcome, error) {
	i := p.find(strings.TrimSpace(a.ProductID))
	if i < 0 {
		return AllocationOutcome{}, fmt.Errorf("%w: %s", ErrUnknownLine, a.ProductID)
	}
	if !a.Method.Valid() {
		return AllocationOutcome{}, ErrInvalidMethod
	}
	line := p.lines[i]
	if a.Quantity <= 0 || a.Quantity > line.Quantity {
		return AllocationOutcome{}, fmt.Errorf("%w: %d of %d remaining", ErrInvalidQuantity, a.Quantity, line.Quantity)
	}
	customerID := strings.TrimSpace(a.CustomerID)
	if a.Method == domain.MethodCredit && customerID == "" {
		return AllocationOutcome{}, credit.ErrCustomerRequired
	}

	cost := line.Amount
	if a.Quantity < line.Quantity {
		unitPrice := line.Amount.Div(decimal.NewFromInt(int64(line.Quantity)))
		cost = unitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))).Round(2)
	}

	received := cost
	change := decimal.Zero
	if a.Method != domain.MethodCredit {
		if a.Received.LessThan(cost) {
			return AllocationOutcome{}, fmt.Errorf("%w: received %s, due %s", ErrInsufficientPayment, a.Received.StringFixed(2), cost.StringFixed(2))
		}
		if a.Method.IsCashLike() {
			received = a.Received
			change = a.Received.Sub(cost)
		}
	}

	line.Quantity -= a.Quantity
	line.Amount = line.Amount.Sub(cost)
	if line.Quantity == 0 {
		p.lines = append(p.lines[:i], p.lines[i+1:]...)
	} else {
		p.lines[i] = line
	}

	p.result.attribute(a.Method, cost, customerID)
	p.result.ChangeDue = p.result.ChangeDue.Add(change)
	p.result.Allocations = append(p.result.Allocations, domain.AllocationRecord{
		Method:     a.Method,
		ProductID:  line.ProductID,
		Quantity:   a.Quantity,
		Amount:     cost,
		Received:   received,
		Change:     change,
		CustomerID: customerID,
	})

	return AllocationOutcome{
		Cost:            cost,
		Change:          change,
		RemainingQty:    line.Quantity,
		RemainingAmount: line.Amount,
	}, nil
}

// Remaining lists the lines still to be paid.
func (p *ProductSplit) Remaining() []RemainingLine {
	out := make([]RemainingLine, len(p.lines))
	copy(out, p.lines)
	return out
}

func (p *ProductSplit) Finalizable() bool {
	return len(p.lines) == 0
}

func (p *ProductSplit) Finish() (*Result, error) {
	if !p.Finalizable() {
		return nil, fmt.Errorf("%w: %d lines remaining", ErrPlanNotFinalizable, len(p.lines))
	}
	p.result.seal()
	return p.result, nil
}
