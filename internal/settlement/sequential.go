package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
)

// CompensationError reports a follow-up write that failed after the sale
// itself was already changed.
type CompensationError struct {
	SaleID string
	Step   string
	Err    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("sale %s: %s failed: %v", e.SaleID, e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// SequentialLedger commits a settlement for stores that cannot write it
// as one unit. The order is sale, register, credit. When a later step
// fails the stored sale is cancelled with StatusSettlementFailed and the
// session and customers written so far are put back as they were. Credit
// log lines already appended stay; the stores offer no way to remove them.
type SequentialLedger struct {
	store.SalesLedger
	store.RegisterStore
	store.CreditStore
	logger *zap.Logger
}

func NewSequentialLedger(sales store.SalesLedger, registers store.RegisterStore, credits store.CreditStore, logger *zap.Logger) *SequentialLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequentialLedger{SalesLedger: sales, RegisterStore: registers, CreditStore: credits, logger: logger}
}

// undo holds what a failed settlement has to put back.
type undo struct {
	sale      *domain.Sale
	session   *register.Session
	customers []credit.Customer
}

func (l *SequentialLedger) CommitSettlement(ctx context.Context, settlement store.Settlement) (*domain.Sale, error) {
	var u undo
	if settlement.Sale != nil {
		sale, err := l.AddSale(ctx, *settlement.Sale)
		if err != nil {
			return nil, err
		}
		u.sale = sale
	}

	if settlement.Session != nil {
		prior, err := l.GetSession(ctx, settlement.Session.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, l.compensate(ctx, u, "register", err)
		}
		if err := l.SaveSession(ctx, *settlement.Session); err != nil {
			return nil, l.compensate(ctx, u, "register", err)
		}
		u.session = prior
	}
	for _, customer := range settlement.Customers {
		prior, err := l.GetCustomer(ctx, customer.ID)
		if err != nil {
			return nil, l.compensate(ctx, u, "credit", err)
		}
		if err := l.SaveCustomer(ctx, customer); err != nil {
			return nil, l.compensate(ctx, u, "credit", err)
		}
		u.customers = append(u.customers, *prior)
	}
	for _, tx := range settlement.CreditTxs {
		if err := l.AddTransaction(ctx, tx); err != nil {
			return nil, l.compensate(ctx, u, "credit", err)
		}
	}
	return u.sale, nil
}

func (l *SequentialLedger) compensate(ctx context.Context, u undo, step string, cause error) error {
	if u.session != nil {
		if err := l.SaveSession(ctx, *u.session); err != nil {
			l.logger.Error("could not restore register session",
				zap.String("session_id", u.session.ID),
				zap.Error(err))
		}
	}
	for _, customer := range u.customers {
		if err := l.SaveCustomer(ctx, customer); err != nil {
			l.logger.Error("could not restore customer",
				zap.String("customer_id", customer.ID),
				zap.Error(err))
		}
	}

	created := u.sale
	if created == nil {
		l.logger.Error("settlement step failed", zap.String("step", step), zap.Error(cause))
		return cause
	}

	status := domain.SaleCancelled
	reason := StatusSettlementFailed
	if _, err := l.UpdateSale(ctx, created.ID, domain.SaleUpdate{Status: &status, StatusReason: &reason}); err != nil {
		l.logger.Error("could not cancel partially settled sale",
			zap.String("sale_id", created.ID),
			zap.String("step", step),
			zap.NamedError("cause", cause),
			zap.Error(err))
	} else {
		l.logger.Error("settlement step failed, sale cancelled",
			zap.String("sale_id", created.ID),
			zap.String("step", step),
			zap.Error(cause))
	}
	return &CompensationError{SaleID: created.ID, Step: step, Err: cause}
}
