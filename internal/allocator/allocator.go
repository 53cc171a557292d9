// Package allocator splits a sale total across payment methods and payers
// and validates every allocation before anything is charged or posted.
package allocator

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/terminal"
)

var (
	ErrEmptyCart           = domain.NewError(domain.KindValidation, "cart is empty")
	ErrInvalidLine         = domain.NewError(domain.KindValidation, "invalid cart line")
	ErrDuplicateLine       = domain.NewError(domain.KindValidation, "duplicate cart line")
	ErrInvalidPlan         = domain.NewError(domain.KindValidation, "invalid split plan")
	ErrInvalidMethod       = domain.NewError(domain.KindValidation, "unsupported payment method")
	ErrInsufficientPayment = domain.NewError(domain.KindValidation, "insufficient payment")
	ErrUnknownLine         = domain.NewError(domain.KindValidation, "no remaining line for product")
	ErrInvalidQuantity     = domain.NewError(domain.KindValidation, "invalid allocation quantity")
	ErrInvalidParticipants = domain.NewError(domain.KindValidation, "equal split needs at least two participants")
	ErrMissingReceived     = domain.NewError(domain.KindValidation, "participant has not declared a received amount")
	ErrNegativeReceived    = domain.NewError(domain.KindValidation, "received amount must not be negative")
	ErrSurplusNotConfirmed = domain.NewError(domain.KindValidation, "surplus requires confirmation")
	ErrChangeNotCovered    = domain.NewError(domain.KindValidation, "change exceeds cash and card received")
	ErrPlanNotFinalizable  = domain.NewError(domain.KindInvariant, "split plan still has unpaid lines")
)

// Charge is one amount to run through the card terminal.
type Charge struct {
	Method domain.PaymentMethod `json:"method"`
	Amount decimal.Decimal      `json:"amount"`
}

// DebtPosting is one amount to put on a customer's credit account.
type DebtPosting struct {
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Result is a fully validated plan. Producing it has no side effects.
type Result struct {
	Kind         domain.SplitKind          `json:"kind"`
	Method       domain.PaymentMethod      `json:"method"`
	Allocations  []domain.AllocationRecord `json:"allocations"`
	Charges      []Charge                  `json:"charges"`
	Debts        []DebtPosting             `json:"debts"`
	CashAmount   decimal.Decimal           `json:"cash_amount"`
	CardAmount   decimal.Decimal           `json:"card_amount"`
	CreditAmount decimal.Decimal           `json:"credit_amount"`
	ChangeDue    decimal.Decimal           `json:"change_due"`
	Shares       []decimal.Decimal         `json:"shares,omitempty"`
}

func newResult(kind domain.SplitKind) *Result {
	return &Result{
		Kind:         kind,
		Allocations:  make([]domain.AllocationRecord, 0, 4),
		Charges:      make([]Charge, 0, 2),
		Debts:        make([]DebtPosting, 0, 1),
		CashAmount:   decimal.Zero,
		CardAmount:   decimal.Zero,
		CreditAmount: decimal.Zero,
		ChangeDue:    decimal.Zero,
	}
}

// attribute books amount, the part of the tender that pays the sale.
func (r *Result) attribute(method domain.PaymentMethod, amount decimal.Decimal, customerID string) {
	if !amount.IsPositive() {
		return
	}
	switch {
	case method == domain.MethodCredit:
		r.CreditAmount = r.CreditAmount.Add(amount)
		r.Debts = append(r.Debts, DebtPosting{CustomerID: customerID, Amount: amount})
	case method.IsCashLike():
		r.CashAmount = r.CashAmount.Add(amount)
	default:
		r.CardAmount = r.CardAmount.Add(amount)
	}
	if method.UsesTerminal() {
		r.Charges = append(r.Charges, Charge{Method: method, Amount: amount})
	}
}

func (r *Result) seal() {
	methods := lo.Uniq(lo.Map(r.Allocations, func(a domain.AllocationRecord, _ int) domain.PaymentMethod {
		return a.Method
	}))
	if len(methods) == 1 {
		r.Method = methods[0]
	} else {
		r.Method = domain.MethodSplit
	}
}

// DebtByCustomer sums debt postings per customer.
func (r *Result) DebtByCustomer() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.Debts))
	for _, d := range r.Debts {
		out[d.CustomerID] = out[d.CustomerID].Add(d.Amount)
	}
	return out
}

// Plan validates plan against the discounted total and the cart lines.
func Plan(totals Totals, items []domain.LineItem, plan domain.SplitPlan) (*Result, error) {
	switch plan.Kind {
	case domain.SplitSingle, "":
		if plan.Single == nil {
			return nil, fmt.Errorf("%w: single tender missing", ErrInvalidPlan)
		}
		return planSingle(totals.DiscountedTotal, *plan.Single)
	case domain.SplitProduct:
		split, err := NewProductSplit(items, totals.DiscountedTotal)
		if err != nil {
			return nil, err
		}
		for i, a := range plan.Product {
			if _, err := split.Allocate(a); err != nil {
				return nil, fmt.Errorf("allocation %d: %w", i+1, err)
			}
		}
		return split.Finish()
	case domain.SplitEqual:
		if plan.Equal == nil {
			return nil, fmt.Errorf("%w: equal split missing", ErrInvalidPlan)
		}
		return planEqual(totals.DiscountedTotal, *plan.Equal)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidPlan, plan.Kind)
	}
}

func planSingle(total decimal.Decimal, tender domain.SingleTender) (*Result, error) {
	if !tender.Method.Valid() {
		return nil, ErrInvalidMethod
	}
	res := newResult(domain.SplitSingle)
	record := domain.AllocationRecord{Method: tender.Method, Amount: total, Received: total, Change: decimal.Zero}

	switch {
	case tender.Method.IsCashLike():
		if tender.Received.LessThan(total) {
			return nil, fmt.Errorf("%w: received %s, due %s", ErrInsufficientPayment, tender.Received.StringFixed(2), total.StringFixed(2))
		}
		record.Received = tender.Received
		record.Change = tender.Received.Sub(total)
		res.ChangeDue = record.Change
	case tender.Method == domain.MethodCredit:
		customerID := strings.TrimSpace(tender.CustomerID)
		if customerID == "" {
			return nil, credit.ErrCustomerRequired
		}
		record.CustomerID = customerID
	}

	res.attribute(tender.Method, total, record.CustomerID)
	res.Allocations = append(res.Allocations, record)
	res.seal()
	return res, nil
}

// Execute runs the terminal charges of res in order and stops at the
// first failure. Approved charges before a failure stay approved.
func Execute(ctx context.Context, t terminal.Terminal, device string, res *Result, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	approved := make([]Charge, 0, len(res.Charges))
	for _, charge := range res.Charges {
		if !charge.Amount.IsPositive() {
			continue
		}
		if _, err := terminal.Charge(ctx, t, device, charge.Amount, logger); err != nil {
			if len(approved) > 0 {
				logger.Warn("terminal charge failed after earlier approvals",
					zap.Int("approved_charges", len(approved)),
					zap.Stringer("failed_amount", charge.Amount),
					zap.Error(err))
			}
			return err
		}
		approved = append(approved, charge)
	}
	return nil
}
