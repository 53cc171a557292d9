package register

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openWithSale(t *testing.T) *Session {
	t.Helper()
	s, err := Open("reg-1", nil, dec("100"), now)
	require.NoError(t, err)
	require.NoError(t, s.RecordSale(dec("50"), dec("30")))
	_, err = s.AddCashTransaction(Deposit, dec("20"), "test", false, now)
	require.NoError(t, err)
	return s
}

func TestTheoreticalBalanceExcludesCardSales(t *testing.T) {
	s := openWithSale(t)

	assert.True(t, s.TheoreticalBalance().Equal(dec("170")), "got %s", s.TheoreticalBalance())
	assert.True(t, s.DailyNetChange().Equal(dec("70")), "got %s", s.DailyNetChange())
	assert.True(t, s.TotalSales().Equal(dec("80")))
}

func TestWithdrawalAboveBalanceIsRejected(t *testing.T) {
	s := openWithSale(t)
	before := s.Clone()

	_, err := s.AddCashTransaction(Withdrawal, dec("200"), "x", false, now)
	require.ErrorIs(t, err, ErrInsufficientCash)
	assert.Equal(t, before, s, "state must be unchanged")
}

func TestConfirmedWithdrawalOverridesCashCheck(t *testing.T) {
	s := openWithSale(t)

	tx, err := s.AddCashTransaction(Withdrawal, dec("200"), "bank drop", true, now)
	require.NoError(t, err)
	assert.Equal(t, Withdrawal, tx.Type)
	assert.True(t, s.TheoreticalBalance().Equal(dec("-30")))
}

func TestOpenTwiceFails(t *testing.T) {
	s, err := Open("reg-1", nil, dec("0"), now)
	require.NoError(t, err)

	_, err = Open("reg-1", s, dec("10"), now)
	require.ErrorIs(t, err, ErrAlreadyOpen)

	require.NoError(t, s.Close(now))
	reopened, err := Open("reg-1", s, dec("10"), now)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, reopened.ID)
	assert.True(t, reopened.CashSalesTotal.IsZero())
}

func TestOpenRejectsNegativeBalance(t *testing.T) {
	_, err := Open("reg-1", nil, dec("-1"), now)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCountIsOverwritten(t *testing.T) {
	s := openWithSale(t)

	require.NoError(t, s.Count(dec("160")))
	assert.True(t, s.CountingDifference.Equal(dec("-10")))

	require.NoError(t, s.Count(dec("175")))
	assert.True(t, s.CountingAmount.Equal(dec("175")))
	assert.True(t, s.CountingDifference.Equal(dec("5")))
}

func TestClosedSessionRejectsMutations(t *testing.T) {
	s := openWithSale(t)
	require.NoError(t, s.Close(now.Add(8*time.Hour)))
	require.NotNil(t, s.ClosingDate)

	require.ErrorIs(t, s.RecordSale(dec("1"), dec("0")), ErrRegisterClosed)
	_, err := s.AddCashTransaction(Deposit, dec("1"), "", false, now)
	require.ErrorIs(t, err, ErrRegisterClosed)
	require.ErrorIs(t, s.Count(dec("1")), ErrRegisterClosed)
	require.ErrorIs(t, s.Close(now), ErrNoActiveSession)
}

func TestInvalidCashTransactions(t *testing.T) {
	s := openWithSale(t)

	_, err := s.AddCashTransaction(Deposit, decimal.Zero, "", false, now)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.AddCashTransaction("REFUND", dec("5"), "", false, now)
	require.ErrorIs(t, err, ErrInvalidType)
	assert.Len(t, s.Transactions, 1)
}

func TestSummaryFlags(t *testing.T) {
	s := openWithSale(t)
	require.NoError(t, s.Count(dec("150")))

	summary := s.Summary(dec("80"))
	assert.True(t, summary.IsHighSales)
	assert.True(t, summary.IsLossMaking)
	assert.True(t, summary.TotalSales.Equal(dec("80")))
	assert.True(t, summary.TheoreticalBalance.Equal(dec("170")))

	assert.False(t, s.Summary(dec("1000")).IsHighSales)
}

func TestCollectionDeposits(t *testing.T) {
	s := openWithSale(t)
	_, err := s.AddCashTransaction(Deposit, dec("40"), CollectionDescription("Ayşe"), false, now)
	require.NoError(t, err)

	assert.True(t, IsCollection(s.Transactions[1].Description))
	assert.False(t, IsCollection(s.Transactions[0].Description))
	assert.True(t, s.CollectionsTotal().Equal(dec("40")))
}

func TestBalanceIdentityHoldsUnderRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s, err := Open("reg-r", nil, dec("50"), now)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		amount := decimal.NewFromInt(int64(rng.Intn(90) + 1))
		switch rng.Intn(3) {
		case 0:
			_ = s.RecordSale(amount, decimal.NewFromInt(int64(rng.Intn(40))))
		case 1:
			_, _ = s.AddCashTransaction(Deposit, amount, "", false, now)
		default:
			_, _ = s.AddCashTransaction(Withdrawal, amount, "", false, now)
		}
		want := s.OpeningBalance.Add(s.CashSalesTotal).Add(s.CashDepositTotal).Sub(s.CashWithdrawalTotal)
		require.True(t, s.TheoreticalBalance().Equal(want), "step %d", i)
		require.False(t, s.TheoreticalBalance().IsNegative(), "unconfirmed withdrawals never overdraw, step %d", i)
	}
}
