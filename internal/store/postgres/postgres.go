package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasa/backend/internal/credit"
	"kasa/backend/internal/domain"
	"kasa/backend/internal/register"
	"kasa/backend/internal/store"
	"kasa/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const saleColumns = `
	id, receipt_no, store_id, register_id, COALESCE(session_id,''), items,
	subtotal, tax_amount, original_total, total, discount, payment,
	cash_amount, card_amount, credit_amount, change_due,
	status, COALESCE(status_reason,''), COALESCE(idempotency_key,''), created_at, updated_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var items, discount, payment []byte
	err := row.Scan(
		&sale.ID,
		&sale.ReceiptNo,
		&sale.StoreID,
		&sale.RegisterID,
		&sale.SessionID,
		&items,
		&sale.Subtotal,
		&sale.TaxAmount,
		&sale.OriginalTotal,
		&sale.Total,
		&discount,
		&payment,
		&sale.CashAmount,
		&sale.CardAmount,
		&sale.CreditAmount,
		&sale.ChangeDue,
		&sale.Status,
		&sale.StatusReason,
		&sale.IdempotencyKey,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	if err := json.Unmarshal(payment, &sale.Payment); err != nil {
		return nil, fmt.Errorf("decode sale payment: %w", err)
	}
	if len(discount) > 0 && string(discount) != "null" {
		sale.Discount = &domain.Discount{}
		if err := json.Unmarshal(discount, sale.Discount); err != nil {
			return nil, fmt.Errorf("decode sale discount: %w", err)
		}
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) AddSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := insertSale(ctx, s.db, sale); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func insertSale(ctx context.Context, q queryer, sale domain.Sale) error {
	if strings.TrimSpace(sale.ID) == "" || len(sale.Items) == 0 {
		return store.ErrInvalid
	}
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return err
	}
	payment, err := json.Marshal(sale.Payment)
	if err != nil {
		return err
	}
	var discount any
	if sale.Discount != nil {
		raw, err := json.Marshal(sale.Discount)
		if err != nil {
			return err
		}
		discount = string(raw)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_no, store_id, register_id, session_id, items,
			subtotal, tax_amount, original_total, total, discount, payment,
			cash_amount, card_amount, credit_amount, change_due,
			status, status_reason, idempotency_key, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, sale.ID, sale.ReceiptNo, sale.StoreID, sale.RegisterID, nullIfEmpty(sale.SessionID), string(items),
		sale.Subtotal, sale.TaxAmount, sale.OriginalTotal, sale.Total, discount, string(payment),
		sale.CashAmount, sale.CardAmount, sale.CreditAmount, sale.ChangeDue,
		string(sale.Status), nullIfEmpty(sale.StatusReason), nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = $1`, key))
}

func (s *Store) UpdateSale(ctx context.Context, id string, update domain.SaleUpdate) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale, err := scanSale(pgTx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	store.ApplySaleUpdate(sale, update)

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, status_reason = $3, updated_at = $4
		WHERE id = $1
	`, sale.ID, string(sale.Status), nullIfEmpty(sale.StatusReason), sale.UpdatedAt); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	from := filter.From
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR register_id = $2)
			AND ($3 = '' OR session_id = $3)
			AND ($4 = '' OR status = $4)
			AND created_at >= $5
			AND created_at < $6
		ORDER BY created_at DESC, id DESC
		LIMIT $7
	`, filter.StoreID, filter.RegisterID, filter.SessionID, string(filter.Status), from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

const sessionColumns = `
	id, register_id, status, opening_date, opening_balance,
	cash_sales_total, card_sales_total, cash_deposit_total, cash_withdrawal_total,
	counting_amount, counting_difference, closing_date`

func scanSession(row rowScanner) (*register.Session, error) {
	var session register.Session
	var counted, diff decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(
		&session.ID,
		&session.RegisterID,
		&session.Status,
		&session.OpeningDate,
		&session.OpeningBalance,
		&session.CashSalesTotal,
		&session.CardSalesTotal,
		&session.CashDepositTotal,
		&session.CashWithdrawalTotal,
		&counted,
		&diff,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpeningDate = session.OpeningDate.UTC()
	if counted.Valid {
		v := counted.Decimal
		session.CountingAmount = &v
	}
	if diff.Valid {
		v := diff.Decimal
		session.CountingDifference = &v
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosingDate = &at
	}
	return &session, nil
}

func loadCashTransactions(ctx context.Context, q queryer, session *register.Session) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, session_id, type, amount, description, created_at
		FROM cash_transactions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, session.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	session.Transactions = make([]register.CashTransaction, 0, 16)
	for rows.Next() {
		var tx register.CashTransaction
		if err := rows.Scan(&tx.ID, &tx.SessionID, &tx.Type, &tx.Amount, &tx.Description, &tx.CreatedAt); err != nil {
			return err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		session.Transactions = append(session.Transactions, tx)
	}
	return rows.Err()
}

func (s *Store) ActiveSession(ctx context.Context, registerID string) (*register.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM register_sessions
		WHERE register_id = $1 AND status = $2
	`, registerID, string(register.StatusOpen)))
	if err != nil {
		return nil, err
	}
	if err := loadCashTransactions(ctx, s.db, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*register.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := loadCashTransactions(ctx, s.db, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, registerID string, limit int) ([]register.Session, error) {
	if limit < 1 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM register_sessions
		WHERE ($1 = '' OR register_id = $1)
		ORDER BY opening_date DESC, id DESC
		LIMIT $2
	`, registerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]register.Session, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	for i := range sessions {
		if err := loadCashTransactions(ctx, s.db, &sessions[i]); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *Store) SaveSession(ctx context.Context, session register.Session) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := saveSession(ctx, pgTx, session); err != nil {
		return err
	}
	return pgTx.Commit()
}

// saveSession upserts the session row. Cash transactions are append-only,
// so rows already stored are left alone.
func saveSession(ctx context.Context, q queryer, session register.Session) error {
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.RegisterID) == "" {
		return store.ErrInvalid
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO register_sessions (
			id, register_id, status, opening_date, opening_balance,
			cash_sales_total, card_sales_total, cash_deposit_total, cash_withdrawal_total,
			counting_amount, counting_difference, closing_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			cash_sales_total = EXCLUDED.cash_sales_total,
			card_sales_total = EXCLUDED.card_sales_total,
			cash_deposit_total = EXCLUDED.cash_deposit_total,
			cash_withdrawal_total = EXCLUDED.cash_withdrawal_total,
			counting_amount = EXCLUDED.counting_amount,
			counting_difference = EXCLUDED.counting_difference,
			closing_date = EXCLUDED.closing_date
	`, session.ID, session.RegisterID, string(session.Status), session.OpeningDate, session.OpeningBalance,
		session.CashSalesTotal, session.CardSalesTotal, session.CashDepositTotal, session.CashWithdrawalTotal,
		nullDecimal(session.CountingAmount), nullDecimal(session.CountingDifference), nullTime(session.ClosingDate))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, tx := range session.Transactions {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO cash_transactions (id, session_id, type, amount, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO NOTHING
		`, tx.ID, session.ID, string(tx.Type), tx.Amount, tx.Description, tx.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

const customerColumns = `id, name, COALESCE(phone,''), current_debt, credit_limit, created_at, updated_at`

func scanCustomer(row rowScanner) (*credit.Customer, error) {
	var c credit.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CurrentDebt, &c.CreditLimit, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]credit.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]credit.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*credit.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (s *Store) SaveCustomer(ctx context.Context, customer credit.Customer) error {
	return saveCustomer(ctx, s.db, customer)
}

func saveCustomer(ctx context.Context, q queryer, c credit.Customer) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
		return store.ErrInvalid
	}
	if c.CreditLimit.IsNegative() || c.CurrentDebt.IsNegative() {
		return store.ErrInvalid
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, current_debt, credit_limit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			current_debt = EXCLUDED.current_debt,
			credit_limit = EXCLUDED.credit_limit,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Name, nullIfEmpty(c.Phone), c.CurrentDebt, c.CreditLimit, c.CreatedAt, c.UpdatedAt)
	return err
}

// updateCustomer requires the row to exist.
func updateCustomer(ctx context.Context, q queryer, c credit.Customer) error {
	res, err := q.ExecContext(ctx, `
		UPDATE customers
		SET current_debt = $2, credit_limit = $3, updated_at = $4
		WHERE id = $1
	`, c.ID, c.CurrentDebt, c.CreditLimit, c.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddTransaction(ctx context.Context, tx credit.Transaction) error {
	return insertCreditTx(ctx, s.db, tx)
}

func insertCreditTx(ctx context.Context, q queryer, tx credit.Transaction) error {
	if strings.TrimSpace(tx.ID) == "" || !tx.Amount.IsPositive() {
		return store.ErrInvalid
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, customer_id, type, amount, date, description, due_date, sale_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tx.ID, tx.CustomerID, string(tx.Type), tx.Amount, tx.Date, tx.Description, nullTime(tx.DueDate), nullIfEmpty(tx.SaleID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, customerID string) ([]credit.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, type, amount, date, description, due_date, COALESCE(sale_id,'')
		FROM credit_transactions
		WHERE customer_id = $1
		ORDER BY date ASC, id ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]credit.Transaction, 0, 16)
	for rows.Next() {
		var tx credit.Transaction
		var due sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Type, &tx.Amount, &tx.Date, &tx.Description, &due, &tx.SaleID); err != nil {
			return nil, err
		}
		tx.Date = tx.Date.UTC()
		if due.Valid {
			at := due.Time.UTC()
			tx.DueDate = &at
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// CommitSettlement writes the sale, the session totals, the customer
// balances and the credit entries in one serializable transaction.
func (s *Store) CommitSettlement(ctx context.Context, settlement store.Settlement) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if settlement.Sale != nil {
		if err := insertSale(ctx, pgTx, *settlement.Sale); err != nil {
			return nil, err
		}
	}
	if settlement.Session != nil {
		if err := saveSession(ctx, pgTx, *settlement.Session); err != nil {
			return nil, err
		}
	}
	for _, c := range settlement.Customers {
		if err := updateCustomer(ctx, pgTx, c); err != nil {
			return nil, err
		}
	}
	for _, tx := range settlement.CreditTxs {
		if err := insertCreditTx(ctx, pgTx, tx); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	if settlement.Sale == nil {
		return nil, nil
	}
	created := *settlement.Sale
	return &created, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
