package store

import (
	"context"
	"errors"
	"time"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

type SaleFilter struct {
	StoreID    string
	RegisterID string
	SessionID  string
	Status     domain.SaleStatus
	From       time.Time
	To         time.Time
	Limit      int
}

// Match reports whether sale passes every non-empty field of f.
func (f SaleFilter) Match(sale domain.Sale) bool {
	if f.StoreID != "" && sale.StoreID != f.StoreID {
		return false
	}
	if f.RegisterID != "" && sale.RegisterID != f.RegisterID {
		return false
	}
	if f.SessionID != "" && sale.SessionID != f.SessionID {
		return false
	}
	if f.Status != "" && sale.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && sale.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !sale.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

type SalesLedger interface {
	AddSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, id string, update domain.SaleUpdate) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
}

// RegisterStore persists sessions together with their cash transactions.
type RegisterStore interface {
	ActiveSession(ctx context.Context, registerID string) (*register.Session, error)
	SaveSession(ctx context.Context, session register.Session) error
	GetSession(ctx context.Context, id string) (*register.Session, error)
	ListSessions(ctx context.Context, registerID string, limit int) ([]register.Session, error)
}

type CreditStore interface {
	ListCustomers(ctx context.Context) ([]credit.Customer, error)
	GetCustomer(ctx context.Context, id string) (*credit.Customer, error)
	SaveCustomer(ctx context.Context, customer credit.Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	AddTransaction(ctx context.Context, tx credit.Transaction) error
	ListTransactions(ctx context.Context, customerID string) ([]credit.Transaction, error)
}

// Settlement is everything one checkout or collection writes. Nil or empty
// parts are skipped.
type Settlement struct {
	Sale      *domain.Sale
	Session   *register.Session
	Customers []credit.Customer
	CreditTxs []credit.Transaction
}

// Settlements writes a Settlement as one unit: either every part is stored
// or none is.
type Settlements interface {
	CommitSettlement(ctx context.Context, settlement Settlement) (*domain.Sale, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	SalesLedger
	RegisterStore
	CreditStore
	Settlements
	AuditStore
	UserStore
}

// ApplySaleUpdate copies the set fields of update onto sale.
func ApplySaleUpdate(sale *domain.Sale, update domain.SaleUpdate) {
	if update.Status != nil {
		sale.Status = *update.Status
	}
	if update.StatusReason != nil {
		sale.StatusReason = *update.StatusReason
	}
	if !update.UpdatedAt.IsZero() {
		sale.UpdatedAt = update.UpdatedAt
	} else {
		sale.UpdatedAt = time.Now().UTC()
	}
}
