// Package events carries settlement notifications to reporting consumers.
// Delivery is fire-and-forget.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasa/backend/internal/xid"
)

type Type string

const (
	RegisterOpened  Type = "cash_register.opened"
	RegisterClosed  Type = "cash_register.closed"
	CashMoved       Type = "cash_register.transaction"
	SaleCompleted   Type = "sale.completed"
	SaleCancelled   Type = "sale.cancelled"
	SaleRefunded    Type = "sale.refunded"
	CreditCollected Type = "credit.collected"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(t Type, payload any, at time.Time) Event {
	return Event{ID: xid.New("evt"), Type: t, OccurredAt: at.UTC(), Payload: payload}
}

type RegisterOpenedPayload struct {
	SessionID      string          `json:"session_id"`
	RegisterID     string          `json:"register_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type RegisterClosedPayload struct {
	SessionID          string           `json:"session_id"`
	RegisterID         string           `json:"register_id"`
	TotalSales         decimal.Decimal  `json:"total_sales"`
	CashSales          decimal.Decimal  `json:"cash_sales"`
	CardSales          decimal.Decimal  `json:"card_sales"`
	CountingDifference *decimal.Decimal `json:"counting_difference"`
	TheoreticalBalance decimal.Decimal  `json:"theoretical_balance"`
	IsHighSales        bool             `json:"is_high_sales"`
	IsLossMaking       bool             `json:"is_loss_making"`
}

type CashMovedPayload struct {
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type SalePayload struct {
	SaleID       string          `json:"sale_id"`
	ReceiptNo    string          `json:"receipt_no"`
	Status       string          `json:"status"`
	Total        decimal.Decimal `json:"total"`
	CashAmount   decimal.Decimal `json:"cash_amount"`
	CardAmount   decimal.Decimal `json:"card_amount"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	Reason       string          `json:"reason,omitempty"`
}

type CreditCollectedPayload struct {
	CustomerID  string          `json:"customer_id"`
	SessionID   string          `json:"session_id"`
	Amount      decimal.Decimal `json:"amount"`
	OverPayment decimal.Decimal `json:"over_payment"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error {
	return nil
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	out := make([]Event, 0, 4)
	for _, event := range r.Events() {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

// Log writes events to the application log when no broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Log{logger: logger}
}

func (l Log) Publish(_ context.Context, event Event) error {
	l.logger.Info("event", zap.String("event_id", event.ID), zap.String("type", string(event.Type)), zap.Any("payload", event.Payload))
	return nil
}

// Fanout publishes to every publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
