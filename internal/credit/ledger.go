// Package credit keeps customer veresiye accounts: a running debt bounded
// by a credit limit and an append-only log of debt and payment entries.
package credit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasa/backend/internal/domain"
	"kasa/backend/internal/xid"
)

var (
	ErrInvalidAmount         = domain.NewError(domain.KindValidation, "credit amount must be greater than zero")
	ErrCustomerRequired      = domain.NewError(domain.KindValidation, "customer is required for credit payment")
	ErrCreditLimitExceeded   = domain.NewError(domain.KindBusinessRule, "credit limit exceeded")
	ErrCustomerHasOpenCredit = domain.NewError(domain.KindBusinessRule, "customer has open credit transactions")
)

type TransactionType string

const (
	TypeDebt    TransactionType = "debt"
	TypePayment TransactionType = "payment"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusOverdue Status = "overdue"
	StatusPaid    Status = "paid"
)

type Customer struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone,omitempty"`
	CurrentDebt decimal.Decimal `json:"current_debt"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available is the credit the customer can still draw.
func (c Customer) Available() decimal.Decimal {
	left := c.CreditLimit.Sub(c.CurrentDebt)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

type Transaction struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	SaleID      string          `json:"sale_id,omitempty"`
	// Status is derived on read and never persisted.
	Status Status `json:"status,omitempty"`
}

// OverPayment reports the part of a payment that exceeded the open debt.
type OverPayment struct {
	Excess decimal.Decimal `json:"excess"`
}

func (o *OverPayment) String() string {
	if o == nil {
		return ""
	}
	return fmt.Sprintf("payment exceeds open debt by %s", o.Excess.StringFixed(2))
}

func CanExtendCredit(c Customer, amount decimal.Decimal) bool {
	return c.CurrentDebt.Add(amount).LessThanOrEqual(c.CreditLimit)
}

func PostDebt(c *Customer, amount decimal.Decimal, description string, dueDate *time.Time, now time.Time) (Transaction, error) {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return Transaction{}, ErrCustomerRequired
	}
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if !CanExtendCredit(*c, amount) {
		return Transaction{}, fmt.Errorf("%w: debt %s + %s > limit %s",
			ErrCreditLimitExceeded, c.CurrentDebt.StringFixed(2), amount.StringFixed(2), c.CreditLimit.StringFixed(2))
	}

	c.CurrentDebt = c.CurrentDebt.Add(amount)
	c.UpdatedAt = now
	return Transaction{
		ID:          xid.New("credit"),
		CustomerID:  c.ID,
		Type:        TypeDebt,
		Amount:      amount,
		Date:        now,
		Description: description,
		DueDate:     dueDate,
	}, nil
}

// PostPayment always succeeds for a positive amount. Debt is floored at
// zero and any excess comes back as an OverPayment for the operator.
func PostPayment(c *Customer, amount decimal.Decimal, description string, now time.Time) (Transaction, *OverPayment, error) {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return Transaction{}, nil, ErrCustomerRequired
	}
	if !amount.IsPositive() {
		return Transaction{}, nil, ErrInvalidAmount
	}

	var warning *OverPayment
	if amount.GreaterThan(c.CurrentDebt) {
		warning = &OverPayment{Excess: amount.Sub(c.CurrentDebt)}
		c.CurrentDebt = decimal.Zero
	} else {
		c.CurrentDebt = c.CurrentDebt.Sub(amount)
	}
	c.UpdatedAt = now

	return Transaction{
		ID:          xid.New("credit"),
		CustomerID:  c.ID,
		Type:        TypePayment,
		Amount:      amount,
		Date:        now,
		Description: description,
	}, warning, nil
}

// WithStatus returns the customer's entries in date order with Status
// filled in. Payments settle debts oldest first; a debt not fully
// covered is overdue once its due date has passed.
func WithStatus(txs []Transaction, now time.Time) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})

	paid := decimal.Zero
	for _, tx := range out {
		if tx.Type == TypePayment {
			paid = paid.Add(tx.Amount)
		}
	}

	for i := range out {
		if out[i].Type == TypePayment {
			out[i].Status = StatusPaid
			continue
		}
		if paid.GreaterThanOrEqual(out[i].Amount) {
			paid = paid.Sub(out[i].Amount)
			out[i].Status = StatusPaid
			continue
		}
		paid = decimal.Zero
		if out[i].DueDate != nil && out[i].DueDate.Before(now) {
			out[i].Status = StatusOverdue
		} else {
			out[i].Status = StatusActive
		}
	}
	return out
}

func HasOpenDebt(txs []Transaction, now time.Time) bool {
	for _, tx := range WithStatus(txs, now) {
		if tx.Type == TypeDebt && tx.Status != StatusPaid {
			return true
		}
	}
	return false
}

// CanDelete guards customer removal while credit entries still reference
// an unpaid balance.
func CanDelete(c Customer, txs []Transaction, now time.Time) error {
	if c.CurrentDebt.IsPositive() || HasOpenDebt(txs, now) {
		return ErrCustomerHasOpenCredit
	}
	return nil
}
