package allocator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
)

// EqualShares is informational only. The last share carries the rounding.
func EqualShares(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		return nil
	}
	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	shares := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		shares[i] = share
	}
	shares[n-1] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares
}

// planEqual pools the participants' money. No one gets change on their
// own; a single aggregate change is due and must be confirmed.
func planEqual(total decimal.Decimal, split domain.EqualSplit) (*Result, error) {
	if split.Participants < 2 || len(split.Payments) != split.Participants {
		return nil, fmt.Errorf("%w: %d participants, %d payments", ErrInvalidParticipants, split.Participants, len(split.Payments))
	}

	received := make([]decimal.Decimal, 0, len(split.Payments))
	refundable := decimal.Zero
	for i, p := range split.Payments {
		if !p.Method.Valid() {
			return nil, fmt.Errorf("participant %d: %w", i+1, ErrInvalidMethod)
		}
		if p.Received == nil {
			return nil, fmt.Errorf("participant %d: %w", i+1, ErrMissingReceived)
		}
		if p.Received.IsNegative() {
			return nil, fmt.Errorf("participant %d: %w", i+1, ErrNegativeReceived)
		}
		if p.Method == domain.MethodCredit && strings.TrimSpace(p.CustomerID) == "" {
			return nil, fmt.Errorf("participant %d: %w", i+1, credit.ErrCustomerRequired)
		}
		received = append(received, *p.Received)
		if p.Method != domain.MethodCredit {
			refundable = refundable.Add(*p.Received)
		}
	}

	pooled := sum(received)
	if pooled.LessThan(total) {
		return nil, fmt.Errorf("%w: received %s, due %s", ErrInsufficientPayment, pooled.StringFixed(2), total.StringFixed(2))
	}
	surplus := pooled.Sub(total)
	if surplus.IsPositive() && !split.ConfirmSurplus {
		return nil, fmt.Errorf("%w: change due %s", ErrSurplusNotConfirmed, surplus.StringFixed(2))
	}
	if surplus.GreaterThan(refundable) {
		return nil, fmt.Errorf("%w: change %s, cash and card %s", ErrChangeNotCovered, surplus.StringFixed(2), refundable.StringFixed(2))
	}

	res := newResult(domain.SplitEqual)
	res.Shares = EqualShares(total, split.Participants)
	res.ChangeDue = surplus

	// Change comes back out of the cash tenders first, then off the card
	// tenders before they are charged. Credit is never reduced.
	amounts := make([]decimal.Decimal, len(received))
	copy(amounts, received)
	owed := surplus
	for _, cashFirst := range []bool{true, false} {
		for i, p := range split.Payments {
			if !owed.IsPositive() {
				break
			}
			if p.Method == domain.MethodCredit || p.Method.IsCashLike() != cashFirst {
				continue
			}
			back := decimal.Min(owed, amounts[i])
			amounts[i] = amounts[i].Sub(back)
			owed = owed.Sub(back)
		}
	}

	for i, p := range split.Payments {
		customerID := strings.TrimSpace(p.CustomerID)
		res.attribute(p.Method, amounts[i], customerID)
		res.Allocations = append(res.Allocations, domain.AllocationRecord{
			Method:     p.Method,
			Amount:     amounts[i],
			Received:   received[i],
			Change:     decimal.Zero,
			CustomerID: customerID,
		})
	}
	res.seal()
	return res, nil
}
