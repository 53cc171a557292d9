package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
	"kasa/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	salesByID        map[string]*domain.Sale
	salesByIdem      map[string]string
	sessionsByID     map[string]*register.Session
	activeByRegister map[string]string
	customersByID    map[string]credit.Customer
	creditTxs        map[string][]credit.Transaction
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// New returns an empty store without seeded accounts.
func New() *Store {
	return &Store{
		salesByID:        make(map[string]*domain.Sale),
		salesByIdem:      make(map[string]string),
		sessionsByID:     make(map[string]*register.Session),
		activeByRegister: make(map[string]string),
		customersByID:    make(map[string]credit.Customer),
		creditTxs:        make(map[string][]credit.Transaction),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD, with dev defaults when
// unset. Production runs on PostgreSQL and never sees these.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials",
			zap.String("override", "SEED_MANAGER_PASSWORD, SEED_CASHIER_PASSWORD"))
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo accounts and two credit customers.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	for _, c := range []credit.Customer{
		{ID: "cust-ayse", Name: "Ayse Yilmaz", Phone: "0555 111 22 33", CreditLimit: decimal.NewFromInt(500)},
		{ID: "cust-mehmet", Name: "Mehmet Kaya", Phone: "0555 444 55 66", CreditLimit: decimal.NewFromInt(1000)},
	} {
		c.CurrentDebt = decimal.Zero
		c.CreatedAt = now
		c.UpdatedAt = now
		s.customersByID[c.ID] = c
	}
	return s
}

func (s *Store) AddSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSaleLocked(sale); err != nil {
		return nil, err
	}
	s.putSaleLocked(sale)
	return cloneSale(&sale), nil
}

func (s *Store) checkSaleLocked(sale domain.Sale) error {
	if strings.TrimSpace(sale.ID) == "" || len(sale.Items) == 0 {
		return store.ErrInvalid
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return store.ErrConflict
	}
	if sale.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) putSaleLocked(sale domain.Sale) {
	s.salesByID[sale.ID] = cloneSale(&sale)
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) UpdateSale(_ context.Context, id string, update domain.SaleUpdate) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	store.ApplySaleUpdate(sale, update)
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := lo.FilterMap(lo.Values(s.salesByID), func(sale *domain.Sale, _ int) (domain.Sale, bool) {
		if !filter.Match(*sale) {
			return domain.Sale{}, false
		}
		return *cloneSale(sale), true
	})
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ActiveSession(_ context.Context, registerID string) (*register.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeByRegister[registerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.sessionsByID[id].Clone(), nil
}

func (s *Store) SaveSession(_ context.Context, session register.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSessionLocked(session); err != nil {
		return err
	}
	s.putSessionLocked(session)
	return nil
}

func (s *Store) checkSessionLocked(session register.Session) error {
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.RegisterID) == "" {
		return store.ErrInvalid
	}
	if session.IsOpen() {
		if active, ok := s.activeByRegister[session.RegisterID]; ok && active != session.ID {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) putSessionLocked(session register.Session) {
	s.sessionsByID[session.ID] = session.Clone()
	if session.IsOpen() {
		s.activeByRegister[session.RegisterID] = session.ID
	} else if s.activeByRegister[session.RegisterID] == session.ID {
		delete(s.activeByRegister, session.RegisterID)
	}
}

func (s *Store) GetSession(_ context.Context, id string) (*register.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context, registerID string, limit int) ([]register.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]register.Session, 0, 16)
	for _, session := range s.sessionsByID {
		if registerID != "" && session.RegisterID != registerID {
			continue
		}
		result = append(result, *session.Clone())
	}
	slices.SortFunc(result, func(a, b register.Session) int {
		if a.OpeningDate.Equal(b.OpeningDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.OpeningDate.After(b.OpeningDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]credit.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := lo.Values(s.customersByID)
	slices.SortFunc(result, func(a, b credit.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*credit.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) SaveCustomer(_ context.Context, customer credit.Customer) error {
	if err := checkCustomer(customer); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.customersByID[customer.ID] = customer
	return nil
}

func checkCustomer(customer credit.Customer) error {
	if strings.TrimSpace(customer.ID) == "" || strings.TrimSpace(customer.Name) == "" {
		return store.ErrInvalid
	}
	if customer.CreditLimit.IsNegative() || customer.CurrentDebt.IsNegative() {
		return store.ErrInvalid
	}
	return nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)
	delete(s.creditTxs, id)
	return nil
}

func (s *Store) AddTransaction(_ context.Context, tx credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCreditTxLocked(tx); err != nil {
		return err
	}
	s.creditTxs[tx.CustomerID] = append(s.creditTxs[tx.CustomerID], tx)
	return nil
}

func (s *Store) checkCreditTxLocked(tx credit.Transaction) error {
	if strings.TrimSpace(tx.ID) == "" || !tx.Amount.IsPositive() {
		return store.ErrInvalid
	}
	if _, ok := s.customersByID[tx.CustomerID]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactions(_ context.Context, customerID string) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.creditTxs[customerID]
	out := make([]credit.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

// CommitSettlement checks every part under the write lock before writing
// any of them.
func (s *Store) CommitSettlement(_ context.Context, settlement store.Settlement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settlement.Sale != nil {
		if err := s.checkSaleLocked(*settlement.Sale); err != nil {
			return nil, err
		}
	}
	if settlement.Session != nil {
		if err := s.checkSessionLocked(*settlement.Session); err != nil {
			return nil, err
		}
	}
	for _, c := range settlement.Customers {
		if err := checkCustomer(c); err != nil {
			return nil, err
		}
		if _, ok := s.customersByID[c.ID]; !ok {
			return nil, store.ErrNotFound
		}
	}
	for _, tx := range settlement.CreditTxs {
		if err := s.checkCreditTxLocked(tx); err != nil {
			return nil, err
		}
	}

	for _, c := range settlement.Customers {
		s.customersByID[c.ID] = c
	}
	for _, tx := range settlement.CreditTxs {
		s.creditTxs[tx.CustomerID] = append(s.creditTxs[tx.CustomerID], tx)
	}
	if settlement.Session != nil {
		s.putSessionLocked(*settlement.Session)
	}
	if settlement.Sale == nil {
		return nil, nil
	}
	s.putSaleLocked(*settlement.Sale)
	return cloneSale(settlement.Sale), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.Payment.Allocations = slices.Clone(src.Payment.Allocations)
	if src.Discount != nil {
		d := *src.Discount
		dup.Discount = &d
	}
	return &dup
}
