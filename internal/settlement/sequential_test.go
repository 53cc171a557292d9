package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/store"
	"kasa/backend/internal/store/memory"
)

type brokenCreditLog struct {
	*memory.Store
}

func (brokenCreditLog) AddTransaction(context.Context, credit.Transaction) error {
	return errors.New("credit log unavailable")
}

func TestSequentialLedgerCancelsSaleWhenCreditStepFails(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	st := memory.NewSeeded(zaptest.NewLogger(t))
	ledger := NewSequentialLedger(st, st, brokenCreditLog{st}, zap.New(core))
	coord := New(ledger, Options{Logger: zap.New(core)})

	_, err := coord.Commit(ctx, CommitInput{
		Items:      []domain.LineItem{line("rice", "40", 1)},
		Plan:       single(domain.MethodCredit, "", "cust-ayse"),
		RegisterID: "reg-1",
	})
	require.Error(t, err)
	var compErr *CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "credit", compErr.Step)

	sales, err := st.ListSales(ctx, store.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, domain.SaleCancelled, sales[0].Status)
	assert.Equal(t, StatusSettlementFailed, sales[0].StatusReason)
	assert.Equal(t, 1, logs.FilterMessage("settlement step failed, sale cancelled").Len())
}

func TestSequentialLedgerCommitsInOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.NewSeeded(zaptest.NewLogger(t))
	coord := New(NewSequentialLedger(st, st, st, zaptest.NewLogger(t)), Options{Logger: zaptest.NewLogger(t)})

	session, err := coord.OpenRegister(ctx, "reg-1", nil, dec("10"))
	require.NoError(t, err)
	sale, err := coord.Commit(ctx, CommitInput{
		Items:      []domain.LineItem{line("rice", "40", 1)},
		Plan:       single(domain.MethodCash, "40", ""),
		RegisterID: "reg-1",
		Session:    session,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCompleted, sale.Status)

	stored, err := st.ActiveSession(ctx, "reg-1")
	require.NoError(t, err)
	assert.True(t, stored.CashSalesTotal.Equal(dec("40")))
}

func TestSequentialLedgerRestoresSessionAndCustomerWhenCreditStepFails(t *testing.T) {
	ctx := context.Background()
	st := memory.NewSeeded(zaptest.NewLogger(t))
	ledger := NewSequentialLedger(st, st, brokenCreditLog{st}, zaptest.NewLogger(t))
	coord := New(ledger, Options{Logger: zaptest.NewLogger(t)})

	session, err := coord.OpenRegister(ctx, "reg-1", nil, dec("10"))
	require.NoError(t, err)
	before, err := st.GetCustomer(ctx, "cust-ayse")
	require.NoError(t, err)

	cash, onCredit := dec("25"), dec("15")
	_, err = coord.Commit(ctx, CommitInput{
		Items: []domain.LineItem{line("rice", "40", 1)},
		Plan: domain.SplitPlan{Kind: domain.SplitEqual, Equal: &domain.EqualSplit{
			Participants: 2,
			Payments: []domain.Participant{
				{Method: domain.MethodCash, Received: &cash},
				{Method: domain.MethodCredit, Received: &onCredit, CustomerID: "cust-ayse"},
			},
		}},
		RegisterID: "reg-1",
		Session:    session,
	})
	var compErr *CompensationError
	require.ErrorAs(t, err, &compErr)

	stored, err := st.ActiveSession(ctx, "reg-1")
	require.NoError(t, err)
	assert.True(t, stored.CashSalesTotal.IsZero())
	assert.True(t, stored.TheoreticalBalance().Equal(dec("10")))
	assert.True(t, session.CashSalesTotal.IsZero())

	after, err := st.GetCustomer(ctx, "cust-ayse")
	require.NoError(t, err)
	assert.True(t, after.CurrentDebt.Equal(before.CurrentDebt))
}
