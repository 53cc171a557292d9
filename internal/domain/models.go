package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LineItem struct {
	ProductID        string          `json:"product_id"`
	Name             string          `json:"name"`
	UnitSalePrice    decimal.Decimal `json:"unit_sale_price"`
	UnitPriceWithTax decimal.Decimal `json:"unit_price_with_tax"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Quantity         int             `json:"quantity"`
}

// Amount is the tax-inclusive line total before any sale-level discount.
func (l LineItem) Amount() decimal.Decimal {
	return l.UnitPriceWithTax.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountAmount     DiscountType = "amount"
)

type Discount struct {
	Type            DiscountType    `json:"type"`
	Value           decimal.Decimal `json:"value"`
	DiscountedTotal decimal.Decimal `json:"discounted_total"`
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCashTerminal PaymentMethod = "cash_terminal"
	MethodCard         PaymentMethod = "card"
	MethodCredit       PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCashTerminal, MethodCard, MethodCredit:
		return true
	default:
		return false
	}
}

// IsCashLike is true when the tender lands in the till drawer.
func (m PaymentMethod) IsCashLike() bool {
	return m == MethodCash || m == MethodCashTerminal
}

func (m PaymentMethod) UsesTerminal() bool {
	return m == MethodCard || m == MethodCashTerminal
}

type SplitKind string

const (
	SplitSingle  SplitKind = "single"
	SplitProduct SplitKind = "product"
	SplitEqual   SplitKind = "equal"
)

type SingleTender struct {
	Method     PaymentMethod   `json:"method"`
	Received   decimal.Decimal `json:"received"`
	CustomerID string          `json:"customer_id,omitempty"`
}

type ProductAllocation struct {
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	Method     PaymentMethod   `json:"method"`
	Received   decimal.Decimal `json:"received"`
	CustomerID string          `json:"customer_id,omitempty"`
}

// Participant is one payer of an equal split. A nil Received means the
// participant has not declared an amount yet.
type Participant struct {
	Method     PaymentMethod    `json:"method"`
	Received   *decimal.Decimal `json:"received"`
	CustomerID string           `json:"customer_id,omitempty"`
}

type EqualSplit struct {
	Participants   int           `json:"participants"`
	Payments       []Participant `json:"payments"`
	ConfirmSurplus bool          `json:"confirm_surplus"`
}

type SplitPlan struct {
	Kind    SplitKind           `json:"kind"`
	Single  *SingleTender       `json:"single,omitempty"`
	Product []ProductAllocation `json:"product,omitempty"`
	Equal   *EqualSplit         `json:"equal,omitempty"`
}

// AllocationRecord is the settled form of one allocation, kept on the sale.
type AllocationRecord struct {
	Method     PaymentMethod   `json:"method"`
	ProductID  string          `json:"product_id,omitempty"`
	Quantity   int             `json:"quantity,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Received   decimal.Decimal `json:"received"`
	Change     decimal.Decimal `json:"change"`
	CustomerID string          `json:"customer_id,omitempty"`
}

type PaymentDescriptor struct {
	Method      PaymentMethod      `json:"method"`
	Plan        SplitKind          `json:"plan"`
	Allocations []AllocationRecord `json:"allocations"`
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
	SaleRefunded  SaleStatus = "refunded"
)

// MethodSplit marks a sale paid with more than one method.
const MethodSplit PaymentMethod = "split"

type Sale struct {
	ID             string            `json:"id"`
	ReceiptNo      string            `json:"receipt_no"`
	StoreID        string            `json:"store_id"`
	RegisterID     string            `json:"register_id"`
	SessionID      string            `json:"session_id,omitempty"`
	Items          []LineItem        `json:"items"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	OriginalTotal  decimal.Decimal   `json:"original_total"`
	Total          decimal.Decimal   `json:"total"`
	Discount       *Discount         `json:"discount,omitempty"`
	Payment        PaymentDescriptor `json:"payment"`
	CashAmount     decimal.Decimal   `json:"cash_amount"`
	CardAmount     decimal.Decimal   `json:"card_amount"`
	CreditAmount   decimal.Decimal   `json:"credit_amount"`
	ChangeDue      decimal.Decimal   `json:"change_due"`
	Status         SaleStatus        `json:"status"`
	StatusReason   string            `json:"status_reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SaleUpdate carries the fields a sale may change after creation.
type SaleUpdate struct {
	Status       *SaleStatus
	StatusReason *string
	UpdatedAt    time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
)

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
