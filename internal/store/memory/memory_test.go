package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
)

func sampleSale(id string, key string) domain.Sale {
	now := time.Now().UTC()
	return domain.Sale{
		ID:             id,
		ReceiptNo:      "R-" + id,
		StoreID:        "main-store",
		RegisterID:     "reg-1",
		Items:          []domain.LineItem{{ProductID: "p1", Name: "Bread", UnitPriceWithTax: decimal.NewFromInt(10), Quantity: 1}},
		Total:          decimal.NewFromInt(10),
		Status:         domain.SaleCompleted,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCommitSettlementWritesEveryPart(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded(zaptest.NewLogger(t))

	session, err := register.Open("reg-1", nil, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	require.NoError(t, session.RecordSale(decimal.NewFromInt(10), decimal.Zero))

	customer, err := s.GetCustomer(ctx, "cust-ayse")
	require.NoError(t, err)
	tx, err := credit.PostDebt(customer, decimal.NewFromInt(20), "sale", nil, time.Now())
	require.NoError(t, err)

	sale := sampleSale("sale-1", "idem-1")
	stored, err := s.CommitSettlement(ctx, store.Settlement{
		Sale:      &sale,
		Session:   session,
		Customers: []credit.Customer{*customer},
		CreditTxs: []credit.Transaction{tx},
	})
	require.NoError(t, err)
	assert.Equal(t, "sale-1", stored.ID)

	active, err := s.ActiveSession(ctx, "reg-1")
	require.NoError(t, err)
	assert.True(t, active.CashSalesTotal.Equal(decimal.NewFromInt(10)))

	reloaded, err := s.GetCustomer(ctx, "cust-ayse")
	require.NoError(t, err)
	assert.True(t, reloaded.CurrentDebt.Equal(decimal.NewFromInt(20)))

	txs, err := s.ListTransactions(ctx, "cust-ayse")
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	byKey, err := s.FindSaleByIdempotency(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", byKey.ID)
}

func TestCommitSettlementIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded(zaptest.NewLogger(t))

	session, err := register.Open("reg-1", nil, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, *session))
	staged := session.Clone()
	require.NoError(t, staged.RecordSale(decimal.NewFromInt(10), decimal.Zero))

	ghost := credit.Customer{ID: "cust-missing", Name: "Nobody", CreditLimit: decimal.NewFromInt(10)}
	sale := sampleSale("sale-1", "")
	_, err = s.CommitSettlement(ctx, store.Settlement{
		Sale:      &sale,
		Session:   staged,
		Customers: []credit.Customer{ghost},
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetSaleByID(ctx, "sale-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	active, err := s.ActiveSession(ctx, "reg-1")
	require.NoError(t, err)
	assert.True(t, active.CashSalesTotal.IsZero())
}

func TestAddSaleRejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.AddSale(ctx, sampleSale("sale-1", "idem-1"))
	require.NoError(t, err)
	_, err = s.AddSale(ctx, sampleSale("sale-2", "idem-1"))
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestUpdateSaleAppliesStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.AddSale(ctx, sampleSale("sale-1", ""))
	require.NoError(t, err)

	status := domain.SaleCancelled
	reason := "customer changed mind"
	updated, err := s.UpdateSale(ctx, "sale-1", domain.SaleUpdate{Status: &status, StatusReason: &reason})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, updated.Status)
	assert.Equal(t, reason, updated.StatusReason)

	_, err = s.UpdateSale(ctx, "sale-x", domain.SaleUpdate{Status: &status})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListSalesFiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	older := sampleSale("sale-1", "")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := sampleSale("sale-2", "")
	other := sampleSale("sale-3", "")
	other.RegisterID = "reg-2"
	for _, sale := range []domain.Sale{older, newer, other} {
		_, err := s.AddSale(ctx, sale)
		require.NoError(t, err)
	}

	sales, err := s.ListSales(ctx, store.SaleFilter{RegisterID: "reg-1"})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "sale-2", sales[0].ID)
	assert.Equal(t, "sale-1", sales[1].ID)
}

func TestSaveSessionTracksActiveSession(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := register.Open("reg-1", nil, decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, *first))

	second, err := register.Open("reg-1", nil, decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, s.SaveSession(ctx, *second), store.ErrConflict)

	require.NoError(t, first.Close(time.Now()))
	require.NoError(t, s.SaveSession(ctx, *first))
	_, err = s.ActiveSession(ctx, "reg-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	sessions, err := s.ListSessions(ctx, "reg-1", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, register.StatusClosed, sessions[0].Status)
}

func TestSeededUsersUseRoles(t *testing.T) {
	users, err := NewSeeded(zaptest.NewLogger(t)).ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, domain.RoleCashier, users[0].Role)
	assert.Equal(t, domain.RoleManager, users[1].Role)
}
