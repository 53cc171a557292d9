// Package settlement turns a validated payment plan into persisted state.
// Nothing is charged, posted or recorded until every allocation of a plan
// has been accepted.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasa/backend/internal/allocator"
	"kasa/backend/internal/credit"
	"kasa/backend/internal/discount"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/events"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
	"kasa/backend/internal/terminal"
	"kasa/backend/internal/xid"
)

var (
	ErrInvalidStatus    = domain.NewError(domain.KindBusinessRule, "sale status does not allow this change")
	ErrSaleNotFound     = domain.NewError(domain.KindValidation, "sale not found")
	ErrCustomerNotFound = domain.NewError(domain.KindValidation, "customer not found")
)

// StatusSettlementFailed is the reason put on a sale cancelled because a
// later settlement step could not be stored.
const StatusSettlementFailed = "settlement_failed"

// Ledger is the persistence the coordinator writes through.
type Ledger interface {
	store.SalesLedger
	store.Settlements
	GetCustomer(ctx context.Context, id string) (*credit.Customer, error)
	SaveSession(ctx context.Context, session register.Session) error
}

type ReceiptIssuer interface {
	Next() string
}

type Options struct {
	Terminal           terminal.Terminal
	Device             string
	Publisher          events.Publisher
	Receipts           ReceiptIssuer
	Clock              func() time.Time
	Logger             *zap.Logger
	HighSalesThreshold decimal.Decimal
}

type Coordinator struct {
	ledger    Ledger
	terminal  terminal.Terminal
	device    string
	publisher events.Publisher
	receipts  ReceiptIssuer
	now       func() time.Time
	logger    *zap.Logger
	highSales decimal.Decimal
}

func New(ledger Ledger, opts Options) *Coordinator {
	if opts.Terminal == nil {
		opts.Terminal = terminal.Manual{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Receipts == nil {
		seq, err := xid.NewReceiptSequence(0, "R")
		if err != nil {
			panic(fmt.Sprintf("default receipt sequence: %v", err))
		}
		opts.Receipts = seq
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		ledger:    ledger,
		terminal:  opts.Terminal,
		device:    opts.Device,
		publisher: opts.Publisher,
		receipts:  opts.Receipts,
		now:       opts.Clock,
		logger:    opts.Logger,
		highSales: opts.HighSalesThreshold,
	}
}

type CommitInput struct {
	Items          []domain.LineItem
	Discount       *domain.Discount
	Plan           domain.SplitPlan
	StoreID        string
	RegisterID     string
	Session        *register.Session
	IdempotencyKey string
	CreditDueDate  *time.Time
}

// Commit settles one sale. On success the caller's Session handle carries
// the recorded tender totals. A sale rung through without an open session
// still completes.
func (c *Coordinator) Commit(ctx context.Context, in CommitInput) (*domain.Sale, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := c.ledger.FindSaleByIdempotency(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	items := allocator.NormalizeItems(in.Items)
	totals, err := allocator.ComputeTotals(items, in.Discount)
	if err != nil {
		return nil, err
	}
	res, err := allocator.Plan(totals, items, in.Plan)
	if err != nil {
		return nil, err
	}

	now := c.now()
	saleID := xid.New("sale")
	receiptNo := c.receipts.Next()

	customers, creditTxs, err := c.stageDebts(ctx, res, saleID, receiptNo, in.CreditDueDate, now)
	if err != nil {
		return nil, err
	}

	var staged *register.Session
	sessionID := ""
	if in.Session.IsOpen() {
		staged = in.Session.Clone()
		if err := staged.RecordSale(res.CashAmount, res.CardAmount); err != nil {
			return nil, err
		}
		sessionID = staged.ID
	} else {
		c.logger.Warn("no open register session, sale tenders not recorded in the till",
			zap.String("register_id", in.RegisterID),
			zap.String("receipt_no", receiptNo),
			zap.Stringer("cash_amount", res.CashAmount),
			zap.Stringer("card_amount", res.CardAmount))
	}

	if err := allocator.Execute(ctx, c.terminal, c.device, res, c.logger); err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:            saleID,
		ReceiptNo:     receiptNo,
		StoreID:       in.StoreID,
		RegisterID:    in.RegisterID,
		SessionID:     sessionID,
		Items:         items,
		Subtotal:      totals.Subtotal,
		TaxAmount:     totals.TaxAmount,
		OriginalTotal: totals.OriginalTotal,
		Total:         totals.DiscountedTotal,
		Discount:      discount.Describe(totals.OriginalTotal, in.Discount),
		Payment: domain.PaymentDescriptor{
			Method:      res.Method,
			Plan:        res.Kind,
			Allocations: res.Allocations,
		},
		CashAmount:     res.CashAmount,
		CardAmount:     res.CardAmount,
		CreditAmount:   res.CreditAmount,
		ChangeDue:      res.ChangeDue,
		Status:         domain.SaleCompleted,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, err := c.ledger.CommitSettlement(ctx, store.Settlement{
		Sale:      &sale,
		Session:   staged,
		Customers: customers,
		CreditTxs: creditTxs,
	})
	if err != nil {
		if len(res.Charges) > 0 {
			c.logger.Error("terminal charges approved but settlement was not stored",
				zap.String("receipt_no", receiptNo),
				zap.Stringer("card_amount", res.CardAmount),
				zap.Error(err))
		}
		if key != "" && errors.Is(err, store.ErrConflict) {
			if existing, findErr := c.ledger.FindSaleByIdempotency(ctx, key); findErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if staged != nil {
		*in.Session = *staged
	}
	c.publish(ctx, events.New(events.SaleCompleted, salePayload(stored), now))
	return stored, nil
}

// stageDebts posts every debt of res on a copy of its customer. The limit
// is checked against the customer's whole share of the sale.
func (c *Coordinator) stageDebts(ctx context.Context, res *allocator.Result, saleID string, receiptNo string, due *time.Time, now time.Time) ([]credit.Customer, []credit.Transaction, error) {
	debts := res.DebtByCustomer()
	if len(debts) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, 0, len(debts))
	for id := range debts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	customers := make([]credit.Customer, 0, len(ids))
	txs := make([]credit.Transaction, 0, len(ids))
	for _, id := range ids {
		customer, err := c.ledger.GetCustomer(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
			}
			return nil, nil, err
		}
		staged := *customer
		tx, err := credit.PostDebt(&staged, debts[id], "sale "+receiptNo, due, now)
		if err != nil {
			return nil, nil, err
		}
		tx.SaleID = saleID
		customers = append(customers, staged)
		txs = append(txs, tx)
	}
	return customers, txs, nil
}

// Cancel marks a completed sale cancelled and takes its cash out of the
// open session. A *CompensationError comes back together with the updated
// sale when the till could not be adjusted.
func (c *Coordinator) Cancel(ctx context.Context, saleID string, reason string, session *register.Session) (*domain.Sale, error) {
	return c.reverse(ctx, saleID, reason, session, domain.SaleCancelled, "cancel", events.SaleCancelled)
}

func (c *Coordinator) Refund(ctx context.Context, saleID string, reason string, session *register.Session) (*domain.Sale, error) {
	return c.reverse(ctx, saleID, reason, session, domain.SaleRefunded, "refund", events.SaleRefunded)
}

func (c *Coordinator) reverse(ctx context.Context, saleID string, reason string, session *register.Session, to domain.SaleStatus, verb string, eventType events.Type) (*domain.Sale, error) {
	sale, err := c.ledger.GetSaleByID(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidStatus, sale.ReceiptNo, sale.Status)
	}

	now := c.now()
	reason = strings.TrimSpace(reason)
	updated, err := c.ledger.UpdateSale(ctx, sale.ID, domain.SaleUpdate{
		Status:       &to,
		StatusReason: &reason,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, events.New(eventType, salePayload(updated), now))

	if !updated.CashAmount.IsPositive() {
		return updated, nil
	}
	if !session.IsOpen() {
		c.logger.Warn("no open register session, cash not taken out of the till",
			zap.String("receipt_no", updated.ReceiptNo),
			zap.String("action", verb),
			zap.Stringer("cash_amount", updated.CashAmount))
		return updated, nil
	}

	staged := session.Clone()
	description := fmt.Sprintf("%s %s", verb, updated.ReceiptNo)
	tx, err := staged.AddCashTransaction(register.Withdrawal, updated.CashAmount, description, false, now)
	if err == nil {
		err = c.ledger.SaveSession(ctx, *staged)
	}
	if err != nil {
		c.logger.Error("till compensation failed",
			zap.String("receipt_no", updated.ReceiptNo),
			zap.String("action", verb),
			zap.Error(err))
		return updated, &CompensationError{SaleID: updated.ID, Step: "register withdrawal", Err: err}
	}

	*session = *staged
	c.publish(ctx, events.New(events.CashMoved, cashPayload(tx), now))
	return updated, nil
}

type Collection struct {
	Customer        credit.Customer          `json:"customer"`
	Transaction     credit.Transaction       `json:"transaction"`
	CashTransaction register.CashTransaction `json:"cash_transaction"`
	OverPayment     *credit.OverPayment      `json:"over_payment,omitempty"`
}

// CollectCredit takes a cash payment against a customer's debt and puts
// it in the open session as a tagged deposit.
func (c *Coordinator) CollectCredit(ctx context.Context, customerID string, amount decimal.Decimal, session *register.Session) (*Collection, error) {
	if !session.IsOpen() {
		return nil, register.ErrNoActiveSession
	}
	customer, err := c.ledger.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	now := c.now()
	staged := *customer
	payment, over, err := credit.PostPayment(&staged, amount, "cash collection", now)
	if err != nil {
		return nil, err
	}
	stagedSession := session.Clone()
	deposit, err := stagedSession.AddCashTransaction(register.Deposit, amount, register.CollectionDescription(staged.Name), false, now)
	if err != nil {
		return nil, err
	}

	if _, err := c.ledger.CommitSettlement(ctx, store.Settlement{
		Session:   stagedSession,
		Customers: []credit.Customer{staged},
		CreditTxs: []credit.Transaction{payment},
	}); err != nil {
		return nil, err
	}
	if over != nil {
		c.logger.Warn("credit payment exceeds open debt",
			zap.String("customer_id", staged.ID),
			zap.Stringer("excess", over.Excess))
	}

	*session = *stagedSession
	overAmount := decimal.Zero
	if over != nil {
		overAmount = over.Excess
	}
	c.publish(ctx, events.New(events.CreditCollected, events.CreditCollectedPayload{
		CustomerID:  staged.ID,
		SessionID:   stagedSession.ID,
		Amount:      amount,
		OverPayment: overAmount,
	}, now))

	return &Collection{Customer: staged, Transaction: payment, CashTransaction: deposit, OverPayment: over}, nil
}

// OpenRegister starts a session for registerID. current is the session the
// caller holds for that register, if any.
func (c *Coordinator) OpenRegister(ctx context.Context, registerID string, current *register.Session, openingBalance decimal.Decimal) (*register.Session, error) {
	now := c.now()
	session, err := register.Open(registerID, current, openingBalance, now)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.SaveSession(ctx, *session); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, register.ErrAlreadyOpen
		}
		return nil, err
	}
	c.publish(ctx, events.New(events.RegisterOpened, events.RegisterOpenedPayload{
		SessionID:      session.ID,
		RegisterID:     session.RegisterID,
		OpeningBalance: session.OpeningBalance,
	}, now))
	return session, nil
}

func (c *Coordinator) CountRegister(ctx context.Context, session *register.Session, counted decimal.Decimal) error {
	if session == nil {
		return register.ErrNoActiveSession
	}
	staged := session.Clone()
	if err := staged.Count(counted); err != nil {
		return err
	}
	if err := c.ledger.SaveSession(ctx, *staged); err != nil {
		return err
	}
	*session = *staged
	return nil
}

func (c *Coordinator) CloseRegister(ctx context.Context, session *register.Session) (register.ClosedSummary, error) {
	if session == nil {
		return register.ClosedSummary{}, register.ErrNoActiveSession
	}
	now := c.now()
	staged := session.Clone()
	if err := staged.Close(now); err != nil {
		return register.ClosedSummary{}, err
	}
	if err := c.ledger.SaveSession(ctx, *staged); err != nil {
		return register.ClosedSummary{}, err
	}
	*session = *staged

	summary := staged.Summary(c.highSales)
	c.publish(ctx, events.New(events.RegisterClosed, events.RegisterClosedPayload{
		SessionID:          summary.SessionID,
		RegisterID:         staged.RegisterID,
		TotalSales:         summary.TotalSales,
		CashSales:          summary.CashSales,
		CardSales:          summary.CardSales,
		CountingDifference: summary.CountingDifference,
		TheoreticalBalance: summary.TheoreticalBalance,
		IsHighSales:        summary.IsHighSales,
		IsLossMaking:       summary.IsLossMaking,
	}, now))
	return summary, nil
}

// AddCashTransaction records a manual deposit or withdrawal. confirmed lets
// a withdrawal exceed the theoretical balance.
func (c *Coordinator) AddCashTransaction(ctx context.Context, session *register.Session, txType register.TransactionType, amount decimal.Decimal, description string, confirmed bool) (register.CashTransaction, error) {
	if session == nil {
		return register.CashTransaction{}, register.ErrNoActiveSession
	}
	now := c.now()
	staged := session.Clone()
	tx, err := staged.AddCashTransaction(txType, amount, description, confirmed, now)
	if err != nil {
		return register.CashTransaction{}, err
	}
	if err := c.ledger.SaveSession(ctx, *staged); err != nil {
		return register.CashTransaction{}, err
	}
	if confirmed && txType == register.Withdrawal && staged.TheoreticalBalance().IsNegative() {
		c.logger.Warn("confirmed withdrawal took the till below zero",
			zap.String("session_id", staged.ID),
			zap.Stringer("theoretical_balance", staged.TheoreticalBalance()))
	}
	*session = *staged
	c.publish(ctx, events.New(events.CashMoved, cashPayload(tx), now))
	return tx, nil
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("publish event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func salePayload(sale *domain.Sale) events.SalePayload {
	return events.SalePayload{
		SaleID:       sale.ID,
		ReceiptNo:    sale.ReceiptNo,
		Status:       string(sale.Status),
		Total:        sale.Total,
		CashAmount:   sale.CashAmount,
		CardAmount:   sale.CardAmount,
		CreditAmount: sale.CreditAmount,
		Reason:       sale.StatusReason,
	}
}

func cashPayload(tx register.CashTransaction) events.CashMovedPayload {
	return events.CashMovedPayload{
		SessionID:   tx.SessionID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Description: tx.Description,
	}
}
