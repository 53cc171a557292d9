package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kasa/backend/internal/allocator"
	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
	"kasa/backend/internal/settlement"
	"kasa/backend/internal/store"
	"kasa/backend/internal/xid"
)

var ErrInvalidRequest = domain.NewError(domain.KindValidation, "invalid request")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	coord             *settlement.Coordinator
	defaultStoreID    string
	defaultRegisterID string
	logger            *zap.Logger
	registerLocks     sync.Map
}

func New(repo store.Repository, coord *settlement.Coordinator, defaultStoreID string, defaultRegisterID string, logger *zap.Logger) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if defaultRegisterID == "" {
		defaultRegisterID = "register-1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:              repo,
		coord:             coord,
		defaultStoreID:    defaultStoreID,
		defaultRegisterID: defaultRegisterID,
		logger:            logger,
	}
}

// lockRegister serializes every ledger mutation of one register.
func (s *Service) lockRegister(registerID string) func() {
	value, _ := s.registerLocks.LoadOrStore(registerID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) registerID(id string) string {
	return defaultString(strings.TrimSpace(id), s.defaultRegisterID)
}

// activeSession returns nil without error when the register is closed.
func (s *Service) activeSession(ctx context.Context, registerID string) (*register.Session, error) {
	session, err := s.repo.ActiveSession(ctx, registerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

func (s *Service) requireSession(ctx context.Context, registerID string) (*register.Session, error) {
	session, err := s.activeSession(ctx, registerID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, register.ErrNoActiveSession
	}
	return session, nil
}

func toRegisterResponse(session *register.Session) RegisterResponse {
	return RegisterResponse{
		Session:            *session,
		TheoreticalBalance: session.TheoreticalBalance(),
		DailyNetChange:     session.DailyNetChange(),
		TotalSales:         session.TotalSales(),
		CollectionsTotal:   session.CollectionsTotal(),
	}
}

func (s *Service) ActiveRegister(ctx context.Context, registerID string) (RegisterResponse, error) {
	session, err := s.requireSession(ctx, s.registerID(registerID))
	if err != nil {
		return RegisterResponse{}, err
	}
	return toRegisterResponse(session), nil
}

func (s *Service) RegisterHistory(ctx context.Context, registerID string, limit int) ([]register.Session, error) {
	if limit < 1 {
		limit = 30
	}
	return s.repo.ListSessions(ctx, s.registerID(registerID), limit)
}

func (s *Service) OpenRegister(ctx context.Context, req OpenRegisterRequest) (RegisterResponse, error) {
	registerID := s.registerID(req.RegisterID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	current, err := s.activeSession(ctx, registerID)
	if err != nil {
		return RegisterResponse{}, err
	}
	session, err := s.coord.OpenRegister(ctx, registerID, current, req.OpeningBalance)
	if err != nil {
		return RegisterResponse{}, err
	}
	s.logAudit(ctx, "", "register_open", "register_session", session.ID, fmt.Sprintf("register=%s,opening=%s", registerID, req.OpeningBalance.StringFixed(2)))
	return toRegisterResponse(session), nil
}

func (s *Service) CountRegister(ctx context.Context, req CountRegisterRequest) (RegisterResponse, error) {
	registerID := s.registerID(req.RegisterID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.requireSession(ctx, registerID)
	if err != nil {
		return RegisterResponse{}, err
	}
	if err := s.coord.CountRegister(ctx, session, req.CountedAmount); err != nil {
		return RegisterResponse{}, err
	}
	s.logAudit(ctx, "", "register_count", "register_session", session.ID, fmt.Sprintf("counted=%s,difference=%s", req.CountedAmount.StringFixed(2), session.CountingDifference.StringFixed(2)))
	return toRegisterResponse(session), nil
}

func (s *Service) CloseRegister(ctx context.Context, req CloseRegisterRequest) (CloseRegisterResponse, error) {
	registerID := s.registerID(req.RegisterID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.requireSession(ctx, registerID)
	if err != nil {
		return CloseRegisterResponse{}, err
	}
	summary, err := s.coord.CloseRegister(ctx, session)
	if err != nil {
		return CloseRegisterResponse{}, err
	}
	s.logAudit(ctx, "", "register_close", "register_session", session.ID, fmt.Sprintf("total_sales=%s,theoretical=%s", summary.TotalSales.StringFixed(2), summary.TheoreticalBalance.StringFixed(2)))
	return CloseRegisterResponse{Session: *session, Summary: summary}, nil
}

func (s *Service) AddCashTransaction(ctx context.Context, req CashTransactionRequest) (CashTransactionResponse, error) {
	registerID := s.registerID(req.RegisterID)
	txType := register.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type)))
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.requireSession(ctx, registerID)
	if err != nil {
		return CashTransactionResponse{}, err
	}
	tx, err := s.coord.AddCashTransaction(ctx, session, txType, req.Amount, req.Description, req.Confirmed)
	if err != nil {
		return CashTransactionResponse{}, err
	}

	action := "cash_" + strings.ToLower(string(tx.Type))
	if req.Confirmed {
		action += "_override"
	}
	s.logAudit(ctx, "", action, "cash_transaction", tx.ID, fmt.Sprintf("amount=%s,description=%s", tx.Amount.StringFixed(2), tx.Description))
	return CashTransactionResponse{Transaction: tx, Register: toRegisterResponse(session)}, nil
}

// PreviewCheckout validates a plan and reports the resulting split without
// charging or recording anything. A product plan may be partial; the
// preview then lists the lines still unpaid.
func (s *Service) PreviewCheckout(_ context.Context, req CheckoutRequest) (CheckoutPreview, error) {
	items := allocator.NormalizeItems(req.Items)
	totals, err := allocator.ComputeTotals(items, req.Discount)
	if err != nil {
		return CheckoutPreview{}, err
	}
	preview := CheckoutPreview{Totals: totals}

	switch req.Plan.Kind {
	case domain.SplitProduct:
		split, err := allocator.NewProductSplit(items, totals.DiscountedTotal)
		if err != nil {
			return CheckoutPreview{}, err
		}
		for i, a := range req.Plan.Product {
			if _, err := split.Allocate(a); err != nil {
				return CheckoutPreview{}, fmt.Errorf("allocation %d: %w", i+1, err)
			}
		}
		preview.Remaining = split.Remaining()
		preview.Finalizable = split.Finalizable()
		if preview.Finalizable {
			preview.Result, err = split.Finish()
			if err != nil {
				return CheckoutPreview{}, err
			}
		}
		return preview, nil
	case domain.SplitEqual:
		if req.Plan.Equal != nil {
			preview.Shares = allocator.EqualShares(totals.DiscountedTotal, req.Plan.Equal.Participants)
		}
		if req.Plan.Equal == nil || len(req.Plan.Equal.Payments) == 0 {
			return preview, nil
		}
	default:
		if req.Plan.Single == nil {
			return preview, nil
		}
	}

	res, err := allocator.Plan(totals, items, req.Plan)
	if err != nil {
		return CheckoutPreview{}, err
	}
	preview.Result = res
	preview.Finalizable = true
	if len(res.Shares) > 0 {
		preview.Shares = res.Shares
	}
	return preview, nil
}

func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error) {
	storeID := defaultString(req.StoreID, s.defaultStoreID)
	registerID := s.registerID(req.RegisterID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.activeSession(ctx, registerID)
	if err != nil {
		return CheckoutResponse{}, err
	}
	sale, err := s.coord.Commit(ctx, settlement.CommitInput{
		Items:          req.Items,
		Discount:       req.Discount,
		Plan:           req.Plan,
		StoreID:        storeID,
		RegisterID:     registerID,
		Session:        session,
		IdempotencyKey: req.IdempotencyKey,
		CreditDueDate:  req.CreditDueDate,
	})
	if err != nil {
		return CheckoutResponse{}, err
	}

	s.logAudit(ctx, storeID, "sale_complete", "sale", sale.ID, fmt.Sprintf("receipt=%s,total=%s,method=%s", sale.ReceiptNo, sale.Total.StringFixed(2), sale.Payment.Method))
	return CheckoutResponse{Sale: *sale, TillRecorded: sale.SessionID != ""}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, settlement.ErrSaleNotFound
		}
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, query SalesQuery) ([]domain.Sale, error) {
	filter := store.SaleFilter{
		StoreID:    defaultString(query.StoreID, s.defaultStoreID),
		RegisterID: strings.TrimSpace(query.RegisterID),
		SessionID:  strings.TrimSpace(query.SessionID),
		Status:     domain.SaleStatus(strings.TrimSpace(query.Status)),
		Limit:      query.Limit,
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if date := strings.TrimSpace(query.Date); date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		filter.From = parsed.UTC()
		filter.To = filter.From.Add(24 * time.Hour)
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) CancelSale(ctx context.Context, id string, req SaleActionRequest) (SaleActionResponse, error) {
	return s.reverseSale(ctx, id, req, "sale_cancel", s.coord.Cancel)
}

func (s *Service) RefundSale(ctx context.Context, id string, req SaleActionRequest) (SaleActionResponse, error) {
	return s.reverseSale(ctx, id, req, "sale_refund", s.coord.Refund)
}

type reverseFunc func(ctx context.Context, saleID string, reason string, session *register.Session) (*domain.Sale, error)

func (s *Service) reverseSale(ctx context.Context, id string, req SaleActionRequest, action string, reverse reverseFunc) (SaleActionResponse, error) {
	existing, err := s.GetSale(ctx, id)
	if err != nil {
		return SaleActionResponse{}, err
	}
	registerID := defaultString(strings.TrimSpace(req.RegisterID), existing.RegisterID)
	registerID = s.registerID(registerID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.activeSession(ctx, registerID)
	if err != nil {
		return SaleActionResponse{}, err
	}
	sale, err := reverse(ctx, existing.ID, req.Reason, session)
	var compErr *settlement.CompensationError
	if err != nil && !errors.As(err, &compErr) {
		return SaleActionResponse{}, err
	}

	resp := SaleActionResponse{Sale: *sale}
	detail := fmt.Sprintf("receipt=%s,reason=%s", sale.ReceiptNo, strings.TrimSpace(req.Reason))
	if compErr != nil {
		resp.CompensationError = compErr.Error()
		detail += ",compensation_failed=true"
	}
	s.logAudit(ctx, sale.StoreID, action, "sale", sale.ID, detail)
	return resp, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]credit.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (credit.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return credit.Customer{}, settlement.ErrCustomerNotFound
		}
		return credit.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req CustomerCreateRequest) (credit.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return credit.Customer{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.CreditLimit.IsNegative() {
		return credit.Customer{}, fmt.Errorf("%w: credit limit must not be negative", ErrInvalidRequest)
	}

	now := time.Now().UTC()
	customer := credit.Customer{
		ID:          xid.New("cust"),
		Name:        name,
		Phone:       strings.TrimSpace(req.Phone),
		CreditLimit: req.CreditLimit.Round(2),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.SaveCustomer(ctx, customer); err != nil {
		return credit.Customer{}, err
	}
	s.logAudit(ctx, "", "customer_create", "customer", customer.ID, fmt.Sprintf("name=%s,limit=%s", customer.Name, customer.CreditLimit.StringFixed(2)))
	return customer, nil
}

// DeleteCustomer refuses while the customer still owes money.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	customer, err := s.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	txs, err := s.repo.ListTransactions(ctx, customer.ID)
	if err != nil {
		return err
	}
	if err := credit.CanDelete(customer, txs, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, customer.ID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "customer_delete", "customer", customer.ID, customer.Name)
	return nil
}

func (s *Service) CustomerStatement(ctx context.Context, id string) (CustomerStatement, error) {
	customer, err := s.GetCustomer(ctx, id)
	if err != nil {
		return CustomerStatement{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, customer.ID)
	if err != nil {
		return CustomerStatement{}, err
	}
	now := time.Now().UTC()
	return CustomerStatement{
		Customer:     customer,
		Available:    customer.Available(),
		Transactions: credit.WithStatus(txs, now),
		HasOpenDebt:  credit.HasOpenDebt(txs, now),
	}, nil
}

func (s *Service) CollectCredit(ctx context.Context, customerID string, req CreditPaymentRequest) (settlement.Collection, error) {
	registerID := s.registerID(req.RegisterID)
	unlock := s.lockRegister(registerID)
	defer unlock()

	session, err := s.requireSession(ctx, registerID)
	if err != nil {
		return settlement.Collection{}, err
	}
	collected, err := s.coord.CollectCredit(ctx, customerID, req.Amount, session)
	if err != nil {
		return settlement.Collection{}, err
	}
	s.logAudit(ctx, "", "credit_collect", "customer", collected.Customer.ID, fmt.Sprintf("amount=%s,debt=%s", req.Amount.StringFixed(2), collected.Customer.CurrentDebt.StringFixed(2)))
	return *collected, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
