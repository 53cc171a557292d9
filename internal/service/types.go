package service

import (
	"time"

	"github.com/shopspring/decimal"

	"kasa/backend/internal/allocator"
	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
)

type OpenRegisterRequest struct {
	RegisterID     string          `json:"register_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CountRegisterRequest struct {
	RegisterID    string          `json:"register_id"`
	CountedAmount decimal.Decimal `json:"counted_amount"`
}

type CloseRegisterRequest struct {
	RegisterID string `json:"register_id"`
}

type CashTransactionRequest struct {
	RegisterID  string          `json:"register_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	// Confirmed lets a withdrawal exceed the theoretical balance.
	Confirmed  bool   `json:"confirmed"`
	ManagerPIN string `json:"manager_pin"`
}

type RegisterResponse struct {
	Session            register.Session `json:"session"`
	TheoreticalBalance decimal.Decimal  `json:"theoretical_balance"`
	DailyNetChange     decimal.Decimal  `json:"daily_net_change"`
	TotalSales         decimal.Decimal  `json:"total_sales"`
	CollectionsTotal   decimal.Decimal  `json:"collections_total"`
}

type CloseRegisterResponse struct {
	Session register.Session       `json:"session"`
	Summary register.ClosedSummary `json:"summary"`
}

type CashTransactionResponse struct {
	Transaction register.CashTransaction `json:"transaction"`
	Register    RegisterResponse         `json:"register"`
}

type CheckoutRequest struct {
	StoreID        string            `json:"store_id"`
	RegisterID     string            `json:"register_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []domain.LineItem `json:"items"`
	Discount       *domain.Discount  `json:"discount,omitempty"`
	Plan           domain.SplitPlan  `json:"plan"`
	CreditDueDate  *time.Time        `json:"credit_due_date,omitempty"`
}

type CheckoutPreview struct {
	Totals      allocator.Totals          `json:"totals"`
	Result      *allocator.Result         `json:"result,omitempty"`
	Shares      []decimal.Decimal         `json:"shares,omitempty"`
	Remaining   []allocator.RemainingLine `json:"remaining,omitempty"`
	Finalizable bool                      `json:"finalizable"`
}

type CheckoutResponse struct {
	Sale domain.Sale `json:"sale"`
	// TillRecorded is false when no register session was open.
	TillRecorded bool `json:"till_recorded"`
}

type SalesQuery struct {
	StoreID    string
	RegisterID string
	SessionID  string
	Status     string
	Date       string
	Limit      int
}

type SaleActionRequest struct {
	Reason     string `json:"reason"`
	RegisterID string `json:"register_id"`
	ManagerPIN string `json:"manager_pin"`
}

type SaleActionResponse struct {
	Sale              domain.Sale `json:"sale"`
	CompensationError string      `json:"compensation_error,omitempty"`
}

type CustomerCreateRequest struct {
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type CustomerStatement struct {
	Customer     credit.Customer      `json:"customer"`
	Available    decimal.Decimal      `json:"available"`
	Transactions []credit.Transaction `json:"transactions"`
	HasOpenDebt  bool                 `json:"has_open_debt"`
}

type CreditPaymentRequest struct {
	RegisterID string          `json:"register_id"`
	Amount     decimal.Decimal `json:"amount"`
}
