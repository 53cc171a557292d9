package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/events"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
	"kasa/backend/internal/store/memory"
	"kasa/backend/internal/terminal"
)

type fixture struct {
	coord    *Coordinator
	store    *memory.Store
	recorder *events.Recorder
	logs     *observer.ObservedLogs
}

type fixtureOption func(*Options)

func withTerminal(t terminal.Terminal) fixtureOption {
	return func(o *Options) { o.Terminal = t }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	st := memory.NewSeeded(zaptest.NewLogger(t))
	rec := &events.Recorder{}
	o := Options{
		Publisher:          rec,
		Clock:              func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
		Logger:             zap.New(core),
		HighSalesThreshold: decimal.NewFromInt(1000),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &fixture{coord: New(st, o), store: st, recorder: rec, logs: logs}
}

func (f *fixture) open(t *testing.T, balance int64) *register.Session {
	t.Helper()
	session, err := f.coord.OpenRegister(context.Background(), "reg-1", nil, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return session
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func line(id string, price string, qty int) domain.LineItem {
	return domain.LineItem{ProductID: id, Name: id, UnitSalePrice: dec(price), UnitPriceWithTax: dec(price), Quantity: qty}
}

func single(method domain.PaymentMethod, received string, customerID string) domain.SplitPlan {
	tender := domain.SingleTender{Method: method, CustomerID: customerID}
	if received != "" {
		tender.Received = dec(received)
	}
	return domain.SplitPlan{Kind: domain.SplitSingle, Single: &tender}
}

type decliningTerminal struct {
	payments int
}

func (d *decliningTerminal) IsManualMode() bool { return false }

func (d *decliningTerminal) Connect(context.Context, string) error { return nil }

func (d *decliningTerminal) ProcessPayment(context.Context, decimal.Decimal) (terminal.Result, error) {
	d.payments++
	return terminal.Result{Success: false, Message: "card declined"}, nil
}

func (d *decliningTerminal) Disconnect(context.Context) error { return nil }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("broker unavailable")
}

func TestCommitCashSaleRecordsTillAndChange(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 100)

	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("bread", "20", 2), line("milk", "10", 1)},
		Plan:       single(domain.MethodCash, "60", ""),
		StoreID:    "main-store",
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.True(t, sale.Total.Equal(dec("50")))
	assert.True(t, sale.CashAmount.Equal(dec("50")))
	assert.True(t, sale.ChangeDue.Equal(dec("10")))
	assert.Equal(t, session.ID, sale.SessionID)
	assert.NotEmpty(t, sale.ReceiptNo)

	assert.True(t, session.CashSalesTotal.Equal(dec("50")))
	stored, err := f.store.ActiveSession(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.True(t, stored.CashSalesTotal.Equal(dec("50")))
	assert.True(t, stored.TheoreticalBalance().Equal(dec("150")))

	assert.Len(t, f.recorder.OfType(events.SaleCompleted), 1)
}

func TestCommitWithoutSessionLogsWarning(t *testing.T) {
	f := newFixture(t)

	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("bread", "20", 1)},
		Plan:       single(domain.MethodCard, "", ""),
		RegisterID: "reg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.Empty(t, sale.SessionID)
	assert.Equal(t, 1, f.logs.FilterMessage("no open register session, sale tenders not recorded in the till").Len())
}

func TestCommitTerminalFailureLeavesNoState(t *testing.T) {
	declining := &decliningTerminal{}
	f := newFixture(t, withTerminal(declining))
	session := f.open(t, 100)

	_, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("bread", "30", 1)},
		Plan:       single(domain.MethodCard, "", ""),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.Error(t, err)
	var termErr *terminal.TerminalError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, domain.KindIntegration, domain.KindOf(err))
	assert.Equal(t, 1, declining.payments)

	sales, err := f.store.ListSales(context.Background(), store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.True(t, session.CardSalesTotal.IsZero())
	stored, err := f.store.ActiveSession(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.True(t, stored.CardSalesTotal.IsZero())
}

func TestCommitCreditLimitCountsWholeShare(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 0)

	_, err := f.coord.Commit(context.Background(), CommitInput{
		Items: []domain.LineItem{line("tv", "300", 1), line("radio", "300", 1)},
		Plan: domain.SplitPlan{Kind: domain.SplitProduct, Product: []domain.ProductAllocation{
			{ProductID: "tv", Quantity: 1, Method: domain.MethodCredit, CustomerID: "cust-ayse"},
			{ProductID: "radio", Quantity: 1, Method: domain.MethodCredit, CustomerID: "cust-ayse"},
		}},
		RegisterID: "reg-1",
		Session:    session,
	})
	require.ErrorIs(t, err, credit.ErrCreditLimitExceeded)

	customer, err := f.store.GetCustomer(context.Background(), "cust-ayse")
	require.NoError(t, err)
	assert.True(t, customer.CurrentDebt.IsZero())
	txs, err := f.store.ListTransactions(context.Background(), "cust-ayse")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCommitCreditPostsDebtLinkedToSale(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 0)

	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("rice", "120", 1)},
		Plan:       single(domain.MethodCredit, "", "cust-ayse"),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)
	assert.True(t, sale.CreditAmount.Equal(dec("120")))
	assert.True(t, session.TotalSales().IsZero())

	customer, err := f.store.GetCustomer(context.Background(), "cust-ayse")
	require.NoError(t, err)
	assert.True(t, customer.CurrentDebt.Equal(dec("120")))
	txs, err := f.store.ListTransactions(context.Background(), "cust-ayse")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, sale.ID, txs[0].SaleID)
	assert.Equal(t, credit.TypeDebt, txs[0].Type)
}

func TestCommitUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Commit(context.Background(), CommitInput{
		Items: []domain.LineItem{line("rice", "10", 1)},
		Plan:  single(domain.MethodCredit, "", "cust-nobody"),
	})
	require.ErrorIs(t, err, ErrCustomerNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCommitEqualSplitPoolsTenders(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 20)
	thirty, twenty := dec("30"), dec("20")

	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items: []domain.LineItem{line("pizza", "50", 1)},
		Plan: domain.SplitPlan{Kind: domain.SplitEqual, Equal: &domain.EqualSplit{
			Participants: 2,
			Payments: []domain.Participant{
				{Method: domain.MethodCash, Received: &thirty},
				{Method: domain.MethodCard, Received: &twenty},
			},
		}},
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodSplit, sale.Payment.Method)
	assert.True(t, session.CashSalesTotal.Equal(thirty))
	assert.True(t, session.CardSalesTotal.Equal(twenty))
}

func TestCommitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 0)
	in := CommitInput{
		Items:          []domain.LineItem{line("bread", "50", 1)},
		Plan:           single(domain.MethodCash, "50", ""),
		RegisterID:     "reg-1",
		Session:        session,
		IdempotencyKey: "idem-42",
	}

	first, err := f.coord.Commit(context.Background(), in)
	require.NoError(t, err)
	second, err := f.coord.Commit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, session.CashSalesTotal.Equal(dec("50")))
	sales, err := f.store.ListSales(context.Background(), store.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestCommitSurvivesPublisherFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	st := memory.New()
	coord := New(st, Options{Publisher: failingPublisher{}, Logger: zap.New(core)})

	_, err := coord.Commit(context.Background(), CommitInput{
		Items: []domain.LineItem{line("bread", "5", 1)},
		Plan:  single(domain.MethodCard, "", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("publish event").Len())
}

func TestCancelCashSaleWithdrawsFromTill(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 100)
	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("bread", "50", 1)},
		Plan:       single(domain.MethodCash, "50", ""),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)
	before := session.CashWithdrawalTotal

	cancelled, err := f.coord.Cancel(context.Background(), sale.ID, "wrong item", session)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	assert.Equal(t, "wrong item", cancelled.StatusReason)

	assert.True(t, session.CashWithdrawalTotal.Sub(before).Equal(dec("50")))
	last := session.Transactions[len(session.Transactions)-1]
	assert.Equal(t, register.Withdrawal, last.Type)
	assert.True(t, last.Amount.Equal(dec("50")))
	assert.Equal(t, "cancel "+sale.ReceiptNo, last.Description)

	stored, err := f.store.ActiveSession(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.True(t, stored.CashWithdrawalTotal.Equal(dec("50")))
	assert.Len(t, f.recorder.OfType(events.SaleCancelled), 1)

	_, err = f.coord.Cancel(context.Background(), sale.ID, "again", session)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRefundCompensationFailureStillRefunds(t *testing.T) {
	f := newFixture(t)
	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("bread", "50", 1)},
		Plan:       single(domain.MethodCash, "50", ""),
		RegisterID: "reg-1",
	})
	require.NoError(t, err)
	session := f.open(t, 0)

	refunded, err := f.coord.Refund(context.Background(), sale.ID, "", session)
	require.Error(t, err)
	var compErr *CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.ErrorIs(t, err, register.ErrInsufficientCash)
	require.NotNil(t, refunded)
	assert.Equal(t, domain.SaleRefunded, refunded.Status)
	assert.True(t, session.CashWithdrawalTotal.IsZero())

	stored, err := f.store.GetSaleByID(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleRefunded, stored.Status)
}

func TestCancelCreditSaleKeepsDebt(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 0)
	sale, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("rice", "80", 1)},
		Plan:       single(domain.MethodCredit, "", "cust-mehmet"),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)

	_, err = f.coord.Cancel(context.Background(), sale.ID, "returned", session)
	require.NoError(t, err)
	customer, err := f.store.GetCustomer(context.Background(), "cust-mehmet")
	require.NoError(t, err)
	assert.True(t, customer.CurrentDebt.Equal(dec("80")))
	assert.Empty(t, session.Transactions)
}

func TestCollectCreditDepositsTaggedCash(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 10)
	_, err := f.coord.Commit(context.Background(), CommitInput{
		Items:      []domain.LineItem{line("rice", "120", 1)},
		Plan:       single(domain.MethodCredit, "", "cust-ayse"),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)

	collected, err := f.coord.CollectCredit(context.Background(), "cust-ayse", dec("50"), session)
	require.NoError(t, err)
	assert.Nil(t, collected.OverPayment)
	assert.True(t, collected.Customer.CurrentDebt.Equal(dec("70")))
	assert.True(t, register.IsCollection(collected.CashTransaction.Description))
	assert.True(t, session.CollectionsTotal().Equal(dec("50")))
	assert.True(t, session.TheoreticalBalance().Equal(dec("60")))

	over, err := f.coord.CollectCredit(context.Background(), "cust-ayse", dec("100"), session)
	require.NoError(t, err)
	require.NotNil(t, over.OverPayment)
	assert.True(t, over.OverPayment.Excess.Equal(dec("30")))
	assert.True(t, over.Customer.CurrentDebt.IsZero())
	assert.Len(t, f.recorder.OfType(events.CreditCollected), 2)
}

func TestCollectCreditNeedsOpenSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CollectCredit(context.Background(), "cust-ayse", dec("10"), nil)
	require.ErrorIs(t, err, register.ErrNoActiveSession)
}

func TestRegisterLifecyclePublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t, 100)

	_, err := f.coord.OpenRegister(ctx, "reg-1", session, dec("5"))
	require.ErrorIs(t, err, register.ErrAlreadyOpen)
	_, err = f.coord.OpenRegister(ctx, "reg-1", nil, dec("5"))
	require.ErrorIs(t, err, register.ErrAlreadyOpen)

	_, err = f.coord.AddCashTransaction(ctx, session, register.Withdrawal, dec("500"), "bank", false)
	require.ErrorIs(t, err, register.ErrInsufficientCash)
	_, err = f.coord.AddCashTransaction(ctx, session, register.Deposit, dec("20"), "float", false)
	require.NoError(t, err)

	require.NoError(t, f.coord.CountRegister(ctx, session, dec("115")))
	summary, err := f.coord.CloseRegister(ctx, session)
	require.NoError(t, err)
	assert.True(t, summary.IsLossMaking)
	assert.False(t, summary.IsHighSales)
	assert.Equal(t, register.StatusClosed, session.Status)

	opened := f.recorder.OfType(events.RegisterOpened)
	require.Len(t, opened, 1)
	assert.True(t, opened[0].Payload.(events.RegisterOpenedPayload).OpeningBalance.Equal(dec("100")))
	closed := f.recorder.OfType(events.RegisterClosed)
	require.Len(t, closed, 1)
	payload := closed[0].Payload.(events.RegisterClosedPayload)
	require.NotNil(t, payload.CountingDifference)
	assert.True(t, payload.CountingDifference.Equal(dec("-5")))

	_, err = f.store.ActiveSession(ctx, "reg-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.coord.CloseRegister(ctx, session)
	require.ErrorIs(t, err, register.ErrNoActiveSession)
}

func TestConfirmedWithdrawalOverridesBalance(t *testing.T) {
	f := newFixture(t)
	session := f.open(t, 10)

	_, err := f.coord.AddCashTransaction(context.Background(), session, register.Withdrawal, dec("25"), "supplier", true)
	require.NoError(t, err)
	assert.True(t, session.TheoreticalBalance().Equal(dec("-15")))
	assert.Equal(t, 1, f.logs.FilterMessage("confirmed withdrawal took the till below zero").Len())
}
