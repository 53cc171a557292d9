// Package register models one cash register's session lifecycle and the
// physical-cash ledger kept while it is open.
package register

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasa/backend/internal/domain"
	"kasa/backend/internal/xid"
)

var (
	ErrAlreadyOpen      = domain.NewError(domain.KindBusinessRule, "cash register already open")
	ErrRegisterClosed   = domain.NewError(domain.KindBusinessRule, "cash register is closed")
	ErrNoActiveSession  = domain.NewError(domain.KindBusinessRule, "no active cash register session")
	ErrInsufficientCash = domain.NewError(domain.KindBusinessRule, "insufficient cash in register")
	ErrInvalidAmount    = domain.NewError(domain.KindValidation, "invalid cash amount")
	ErrInvalidType      = domain.NewError(domain.KindValidation, "invalid cash transaction type")
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

type TransactionType string

const (
	Deposit    TransactionType = "DEPOSIT"
	Withdrawal TransactionType = "WITHDRAWAL"
)

type CashTransaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Session struct {
	ID                  string            `json:"id"`
	RegisterID          string            `json:"register_id"`
	Status              Status            `json:"status"`
	OpeningDate         time.Time         `json:"opening_date"`
	OpeningBalance      decimal.Decimal   `json:"opening_balance"`
	CashSalesTotal      decimal.Decimal   `json:"cash_sales_total"`
	CardSalesTotal      decimal.Decimal   `json:"card_sales_total"`
	CashDepositTotal    decimal.Decimal   `json:"cash_deposit_total"`
	CashWithdrawalTotal decimal.Decimal   `json:"cash_withdrawal_total"`
	CountingAmount      *decimal.Decimal  `json:"counting_amount,omitempty"`
	CountingDifference  *decimal.Decimal  `json:"counting_difference,omitempty"`
	ClosingDate         *time.Time        `json:"closing_date,omitempty"`
	Transactions        []CashTransaction `json:"transactions"`
}

// Open starts a new session unless current is still open.
func Open(registerID string, current *Session, openingBalance decimal.Decimal, now time.Time) (*Session, error) {
	if current != nil && current.IsOpen() {
		return nil, ErrAlreadyOpen
	}
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", ErrInvalidAmount)
	}
	return &Session{
		ID:                  xid.New("session"),
		RegisterID:          registerID,
		Status:              StatusOpen,
		OpeningDate:         now,
		OpeningBalance:      openingBalance,
		CashSalesTotal:      decimal.Zero,
		CardSalesTotal:      decimal.Zero,
		CashDepositTotal:    decimal.Zero,
		CashWithdrawalTotal: decimal.Zero,
		Transactions:        make([]CashTransaction, 0, 16),
	}, nil
}

func (s *Session) IsOpen() bool {
	return s != nil && s.Status == StatusOpen
}

func (s *Session) TheoreticalBalance() decimal.Decimal {
	return s.OpeningBalance.Add(s.CashSalesTotal).Add(s.CashDepositTotal).Sub(s.CashWithdrawalTotal)
}

// DailyNetChange is the cash movement of the day without the float.
func (s *Session) DailyNetChange() decimal.Decimal {
	return s.CashSalesTotal.Add(s.CashDepositTotal).Sub(s.CashWithdrawalTotal)
}

func (s *Session) TotalSales() decimal.Decimal {
	return s.CashSalesTotal.Add(s.CardSalesTotal)
}

// RecordSale aggregates sale tenders. Itemized detail lives with the sale.
func (s *Session) RecordSale(cash decimal.Decimal, card decimal.Decimal) error {
	if !s.IsOpen() {
		return ErrRegisterClosed
	}
	if cash.IsNegative() || card.IsNegative() {
		return ErrInvalidAmount
	}
	s.CashSalesTotal = s.CashSalesTotal.Add(cash)
	s.CardSalesTotal = s.CardSalesTotal.Add(card)
	return nil
}

// AddCashTransaction appends a manual movement. A withdrawal larger than
// the theoretical balance needs confirmed set.
func (s *Session) AddCashTransaction(txType TransactionType, amount decimal.Decimal, description string, confirmed bool, now time.Time) (CashTransaction, error) {
	if !s.IsOpen() {
		return CashTransaction{}, ErrRegisterClosed
	}
	if !amount.IsPositive() {
		return CashTransaction{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	switch txType {
	case Deposit:
	case Withdrawal:
		if !confirmed && amount.GreaterThan(s.TheoreticalBalance()) {
			return CashTransaction{}, fmt.Errorf("%w: %s requested, %s available",
				ErrInsufficientCash, amount.StringFixed(2), s.TheoreticalBalance().StringFixed(2))
		}
	default:
		return CashTransaction{}, ErrInvalidType
	}

	tx := CashTransaction{
		ID:          xid.New("cash"),
		SessionID:   s.ID,
		Type:        txType,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}
	if txType == Deposit {
		s.CashDepositTotal = s.CashDepositTotal.Add(amount)
	} else {
		s.CashWithdrawalTotal = s.CashWithdrawalTotal.Add(amount)
	}
	s.Transactions = append(s.Transactions, tx)
	return tx, nil
}

// Count records a physical count. Calling it again overwrites the result.
func (s *Session) Count(amount decimal.Decimal) error {
	if !s.IsOpen() {
		return ErrRegisterClosed
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: counted amount must not be negative", ErrInvalidAmount)
	}
	counted := amount
	diff := amount.Sub(s.TheoreticalBalance())
	s.CountingAmount = &counted
	s.CountingDifference = &diff
	return nil
}

func (s *Session) Close(now time.Time) error {
	if !s.IsOpen() {
		return ErrNoActiveSession
	}
	closedAt := now
	s.ClosingDate = &closedAt
	s.Status = StatusClosed
	return nil
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.CountingAmount != nil {
		v := *s.CountingAmount
		out.CountingAmount = &v
	}
	if s.CountingDifference != nil {
		v := *s.CountingDifference
		out.CountingDifference = &v
	}
	if s.ClosingDate != nil {
		v := *s.ClosingDate
		out.ClosingDate = &v
	}
	out.Transactions = make([]CashTransaction, len(s.Transactions))
	copy(out.Transactions, s.Transactions)
	return &out
}

// ClosedSummary is what reporting consumers get when a session closes.
type ClosedSummary struct {
	SessionID          string           `json:"session_id"`
	TotalSales         decimal.Decimal  `json:"total_sales"`
	CashSales          decimal.Decimal  `json:"cash_sales"`
	CardSales          decimal.Decimal  `json:"card_sales"`
	CountingDifference *decimal.Decimal `json:"counting_difference"`
	TheoreticalBalance decimal.Decimal  `json:"theoretical_balance"`
	DailyNetChange     decimal.Decimal  `json:"daily_net_change"`
	IsHighSales        bool             `json:"is_high_sales"`
	IsLossMaking       bool             `json:"is_loss_making"`
}

// Summary marks high sales at or above highSalesThreshold and a loss when
// the counted cash fell short of the theoretical balance.
func (s *Session) Summary(highSalesThreshold decimal.Decimal) ClosedSummary {
	summary := ClosedSummary{
		SessionID:          s.ID,
		TotalSales:         s.TotalSales(),
		CashSales:          s.CashSalesTotal,
		CardSales:          s.CardSalesTotal,
		TheoreticalBalance: s.TheoreticalBalance(),
		DailyNetChange:     s.DailyNetChange(),
	}
	if s.CountingDifference != nil {
		diff := *s.CountingDifference
		summary.CountingDifference = &diff
		summary.IsLossMaking = diff.IsNegative()
	}
	if highSalesThreshold.IsPositive() {
		summary.IsHighSales = summary.TotalSales.GreaterThanOrEqual(highSalesThreshold)
	}
	return summary
}

const collectionTag = "[veresiye]"

// CollectionDescription tags a deposit as a credit collection.
func CollectionDescription(customerName string) string {
	name := strings.TrimSpace(customerName)
	if name == "" {
		return collectionTag + " collection"
	}
	return fmt.Sprintf("%s collection %s", collectionTag, name)
}

func IsCollection(description string) bool {
	return strings.HasPrefix(description, collectionTag)
}

// CollectionsTotal sums the deposits tagged as credit collections.
func (s *Session) CollectionsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		if tx.Type == Deposit && IsCollection(tx.Description) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}
