/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists terms, users, children, lesson requests, bookings, invoices and
  transfers. Every lifecycle operation in the engine runs inside WithTx, so
  a booking, its invoice and the fulfilled request (or an invoice amount
  and its refund) commit together or not at all.

KEY TABLES:
  terms:     Non-overlapping date ranges, ordered by start_date
  bookings:  Recurring lesson plans (first_date + lessons x interval_days)
  invoices:  One per booking; amount stored as decimal TEXT
  transfers: Append-only payments and refunds against invoices

APPEND-ONLY ENFORCEMENT:
  Transfers are never updated or deleted. Corrections are new refund
  transfers. idempotency_key is UNIQUE so a replayed payment is rejected
  with engine.ErrDuplicateIdempotencyKey. invoices.booking_id is UNIQUE
  too, surfacing as engine.ErrBookingInvoiced.

DECIMALS AND DATES:
  Money is stored as TEXT ("210.00") with its currency so no float ever
  touches an amount. Dates are TEXT in YYYY-MM-DD, which sorts correctly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single writer.

MIGRATION:
  Schema is versioned with goose. The SQL files under migrations/ are
  embedded in the binary and applied on New().

USAGE:
  store, err := sqlite.New("./data/lessons.db", sqlite.WithLogger(log))
  if err != nil {
      log.Fatal("open store", zap.Error(err))
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impala/lesson-engine/engine"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements engine.TxStore using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
	repo
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migration output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, log: zap.NewNop(), repo: repo{q: db}}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return err
	}
	s.log.Info("database migrated", zap.Int("applied", len(results)), zap.Int64("version", version))
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transfers", "invoices", "bookings", "requests", "children", "users", "terms"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (s *Store) SaveTerm(ctx context.Context, t *engine.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveTerm(ctx, t)
}

func (s *Store) GetTerm(ctx context.Context, id engine.TermID) (engine.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetTerm(ctx, id)
}

func (s *Store) ListTerms(ctx context.Context) ([]engine.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListTerms(ctx)
}

func (s *Store) DeleteTerm(ctx context.Context, id engine.TermID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteTerm(ctx, id)
}

func (s *Store) SaveUser(ctx context.Context, u *engine.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetUser(ctx, id)
}

func (s *Store) SaveChild(ctx context.Context, c *engine.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveChild(ctx, c)
}

func (s *Store) GetChild(ctx context.Context, id engine.ChildID) (engine.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetChild(ctx, id)
}

func (s *Store) ListChildren(ctx context.Context, parentID engine.UserID) ([]engine.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListChildren(ctx, parentID)
}

func (s *Store) SaveRequest(ctx context.Context, r *engine.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveRequest(ctx, r)
}

func (s *Store) GetRequest(ctx context.Context, id engine.RequestID) (engine.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetRequest(ctx, id)
}

func (s *Store) ListRequests(ctx context.Context, f engine.RequestFilter) ([]engine.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListRequests(ctx, f)
}

func (s *Store) DeleteRequest(ctx context.Context, id engine.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteRequest(ctx, id)
}

func (s *Store) SaveBooking(ctx context.Context, b *engine.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveBooking(ctx, b)
}

func (s *Store) GetBooking(ctx context.Context, id engine.BookingID) (engine.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetBooking(ctx, id)
}

func (s *Store) ListBookings(ctx context.Context, f engine.BookingFilter) ([]engine.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListBookings(ctx, f)
}

func (s *Store) SaveInvoice(ctx context.Context, inv *engine.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveInvoice(ctx, inv)
}

func (s *Store) GetInvoice(ctx context.Context, id engine.InvoiceID) (engine.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetInvoice(ctx, id)
}

func (s *Store) InvoiceForBooking(ctx context.Context, id engine.BookingID) (engine.Invoice, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.InvoiceForBooking(ctx, id)
}

func (s *Store) ListInvoices(ctx context.Context, clientID engine.UserID) ([]engine.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListInvoices(ctx, clientID)
}

func (s *Store) AppendTransfer(ctx context.Context, t *engine.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.AppendTransfer(ctx, t)
}

func (s *Store) Transfers(ctx context.Context, id engine.InvoiceID) ([]engine.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Transfers(ctx, id)
}

func (s *Store) TransfersForClient(ctx context.Context, clientID engine.UserID) ([]engine.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.TransfersForClient(ctx, clientID)
}

func (s *Store) TransferExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.TransferExists(ctx, key)
}

// =============================================================================
// REPOSITORY - shared by *sql.DB and *sql.Tx
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo runs the queries without locking; Store and WithTx lock around it.
type repo struct {
	q queryer
}

// upsert inserts when *id is zero and stores the new row id, otherwise it
// updates and returns notFound if no row matched.
func (r *repo) upsert(ctx context.Context, id *int64, notFound error, insert, update string, args ...any) error {
	if *id == 0 {
		res, err := r.q.ExecContext(ctx, insert, args...)
		if err != nil {
			return err
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		*id = newID
		return nil
	}
	res, err := r.q.ExecContext(ctx, update, append(args, *id)...)
	if err != nil {
		return err
	}
	return expectRow(res, notFound)
}

func (r *repo) delete(ctx context.Context, query string, id int64, notFound error) error {
	res, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectRow(res, notFound)
}

// =============================================================================
// TERMS
// =============================================================================

const termColumns = `id, name, start_date, end_date`

func (r *repo) SaveTerm(ctx context.Context, t *engine.Term) error {
	id := int64(t.ID)
	err := r.upsert(ctx, &id, engine.ErrTermNotFound,
		`INSERT INTO terms (name, start_date, end_date) VALUES (?, ?, ?)`,
		`UPDATE terms SET name = ?, start_date = ?, end_date = ? WHERE id = ?`,
		t.Name, t.StartDate.String(), t.EndDate.String())
	if err != nil {
		return wrapErr("save term", err)
	}
	t.ID = engine.TermID(id)
	return nil
}

func (r *repo) GetTerm(ctx context.Context, id engine.TermID) (engine.Term, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+termColumns+` FROM terms WHERE id = ?`, id)
	t, err := scanTerm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Term{}, engine.ErrTermNotFound
	}
	return t, err
}

func (r *repo) ListTerms(ctx context.Context) ([]engine.Term, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+termColumns+` FROM terms ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query terms: %w", err)
	}
	defer rows.Close()

	var terms []engine.Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (r *repo) DeleteTerm(ctx context.Context, id engine.TermID) error {
	return r.delete(ctx, `DELETE FROM terms WHERE id = ?`, int64(id), engine.ErrTermNotFound)
}

func scanTerm(row scanner) (engine.Term, error) {
	var (
		t          engine.Term
		start, end string
	)
	if err := row.Scan(&t.ID, &t.Name, &start, &end); err != nil {
		return t, err
	}
	var err error
	if t.StartDate, err = engine.ParseDate(start); err != nil {
		return t, err
	}
	t.EndDate, err = engine.ParseDate(end)
	return t, err
}

// =============================================================================
// USERS & CHILDREN
// =============================================================================

func (r *repo) SaveUser(ctx context.Context, u *engine.User) error {
	id := int64(u.ID)
	err := r.upsert(ctx, &id, engine.ErrUserNotFound,
		`INSERT INTO users (first_name, last_name, email, role) VALUES (?, ?, ?, ?)`,
		`UPDATE users SET first_name = ?, last_name = ?, email = ?, role = ? WHERE id = ?`,
		u.FirstName, u.LastName, nullString(u.Email), string(u.Role))
	if err != nil {
		return wrapErr("save user", err)
	}
	u.ID = engine.UserID(id)
	return nil
}

func (r *repo) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	var (
		u     engine.User
		email sql.NullString
		role  string
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, role FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.User{}, engine.ErrUserNotFound
	}
	if err != nil {
		return engine.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	u.Role = engine.Role(role)
	return u, nil
}

func (r *repo) SaveChild(ctx context.Context, c *engine.Child) error {
	id := int64(c.ID)
	err := r.upsert(ctx, &id, engine.ErrChildNotFound,
		`INSERT INTO children (first_name, last_name, parent_id) VALUES (?, ?, ?)`,
		`UPDATE children SET first_name = ?, last_name = ?, parent_id = ? WHERE id = ?`,
		c.FirstName, c.LastName, c.ParentID)
	if isForeignKeyError(err) {
		return engine.ErrUserNotFound
	}
	if err != nil {
		return wrapErr("save child", err)
	}
	c.ID = engine.ChildID(id)
	return nil
}

func (r *repo) GetChild(ctx context.Context, id engine.ChildID) (engine.Child, error) {
	var c engine.Child
	err := r.q.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, parent_id FROM children WHERE id = ?`, id,
	).Scan(&c.ID, &c.FirstName, &c.LastName, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Child{}, engine.ErrChildNotFound
	}
	if err != nil {
		return engine.Child{}, fmt.Errorf("failed to get child: %w", err)
	}
	return c, nil
}

func (r *repo) ListChildren(ctx context.Context, parentID engine.UserID) ([]engine.Child, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, first_name, last_name, parent_id FROM children WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []engine.Child
	for rows.Next() {
		var c engine.Child
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, client_id, child_id, availability, lessons, interval_days,
	duration_minutes, info, fulfilled, created_at`

func (r *repo) SaveRequest(ctx context.Context, req *engine.Request) error {
	id := int64(req.ID)
	err := r.upsert(ctx, &id, engine.ErrRequestNotFound,
		`INSERT INTO requests (client_id, child_id, availability, lessons, interval_days,
			duration_minutes, info, fulfilled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		`UPDATE requests SET client_id = ?, child_id = ?, availability = ?, lessons = ?,
			interval_days = ?, duration_minutes = ?, info = ?, fulfilled = ?, created_at = ?
		 WHERE id = ?`,
		req.ClientID, nullChild(req.ChildID), req.Availability, req.Lessons, int(req.Interval),
		int(req.Duration), req.Info, req.Fulfilled, req.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isForeignKeyError(err) {
		return engine.ErrUserNotFound
	}
	if err != nil {
		return wrapErr("save request", err)
	}
	req.ID = engine.RequestID(id)
	return nil
}

func (r *repo) GetRequest(ctx context.Context, id engine.RequestID) (engine.Request, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Request{}, engine.ErrRequestNotFound
	}
	return req, err
}

func (r *repo) ListRequests(ctx context.Context, f engine.RequestFilter) ([]engine.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1 = 1`
	var args []any
	if f.ClientID != 0 {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.Fulfilled != nil {
		query += ` AND fulfilled = ?`
		args = append(args, *f.Fulfilled)
	}
	query += ` ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []engine.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *repo) DeleteRequest(ctx context.Context, id engine.RequestID) error {
	return r.delete(ctx, `DELETE FROM requests WHERE id = ?`, int64(id), engine.ErrRequestNotFound)
}

func scanRequest(row scanner) (engine.Request, error) {
	var (
		req       engine.Request
		child     sql.NullInt64
		interval  int
		duration  int
		createdAt string
	)
	err := row.Scan(&req.ID, &req.ClientID, &child, &req.Availability, &req.Lessons,
		&interval, &duration, &req.Info, &req.Fulfilled, &createdAt)
	if err != nil {
		return req, err
	}
	req.ChildID = childPtr(child)
	req.Interval = engine.Interval(interval)
	req.Duration = engine.Duration(duration)
	req.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return req, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, client_id, teacher_id, child_id, lessons, interval_days,
	duration_minutes, first_date, time_of_day`

func (r *repo) SaveBooking(ctx context.Context, b *engine.Booking) error {
	id := int64(b.ID)
	err := r.upsert(ctx, &id, engine.ErrBookingNotFound,
		`INSERT INTO bookings (client_id, teacher_id, child_id, lessons, interval_days,
			duration_minutes, first_date, time_of_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		`UPDATE bookings SET client_id = ?, teacher_id = ?, child_id = ?, lessons = ?,
			interval_days = ?, duration_minutes = ?, first_date = ?, time_of_day = ?
		 WHERE id = ?`,
		b.ClientID, b.TeacherID, nullChild(b.ChildID), b.Lessons, int(b.Interval),
		int(b.Duration), b.FirstDate.String(), b.TimeOfDay.String())
	if isForeignKeyError(err) {
		return engine.ErrUserNotFound
	}
	if err != nil {
		return wrapErr("save booking", err)
	}
	b.ID = engine.BookingID(id)
	return nil
}

func (r *repo) GetBooking(ctx context.Context, id engine.BookingID) (engine.Booking, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Booking{}, engine.ErrBookingNotFound
	}
	return b, err
}

func (r *repo) ListBookings(ctx context.Context, f engine.BookingFilter) ([]engine.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1 = 1`
	var args []any
	if f.ClientID != 0 {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.TeacherID != 0 {
		query += ` AND teacher_id = ?`
		args = append(args, f.TeacherID)
	}
	query += ` ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []engine.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row scanner) (engine.Booking, error) {
	var (
		b                engine.Booking
		child            sql.NullInt64
		interval         int
		duration         int
		firstDate, start string
	)
	err := row.Scan(&b.ID, &b.ClientID, &b.TeacherID, &child, &b.Lessons,
		&interval, &duration, &firstDate, &start)
	if err != nil {
		return b, err
	}
	b.ChildID = childPtr(child)
	b.Interval = engine.Interval(interval)
	b.Duration = engine.Duration(duration)
	if b.FirstDate, err = engine.ParseDate(firstDate); err != nil {
		return b, err
	}
	b.TimeOfDay, err = engine.ParseTimeOfDay(start)
	return b, err
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `i.id, i.booking_id, i.reference, i.issue_date, i.due_date,
	i.amount, i.currency, i.refund`

func (r *repo) SaveInvoice(ctx context.Context, inv *engine.Invoice) error {
	id := int64(inv.ID)
	err := r.upsert(ctx, &id, engine.ErrInvoiceNotFound,
		`INSERT INTO invoices (booking_id, reference, issue_date, due_date, amount, currency, refund)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		`UPDATE invoices SET booking_id = ?, reference = ?, issue_date = ?, due_date = ?,
			amount = ?, currency = ?, refund = ?
		 WHERE id = ?`,
		inv.BookingID, inv.Reference, inv.IssueDate.String(), inv.DueDate.String(),
		inv.Amount.String(), currencyOf(inv.Amount), inv.Refund)
	switch {
	case isUniqueConstraintError(err):
		return engine.ErrBookingInvoiced
	case isForeignKeyError(err):
		return engine.ErrBookingNotFound
	case err != nil:
		return wrapErr("save invoice", err)
	}
	inv.ID = engine.InvoiceID(id)
	return nil
}

func (r *repo) GetInvoice(ctx context.Context, id engine.InvoiceID) (engine.Invoice, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Invoice{}, engine.ErrInvoiceNotFound
	}
	return inv, err
}

// InvoiceForBooking returns the booking's invoice; ok is false if it has none.
func (r *repo) InvoiceForBooking(ctx context.Context, id engine.BookingID) (engine.Invoice, bool, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices i WHERE i.booking_id = ? ORDER BY i.id LIMIT 1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Invoice{}, false, nil
	}
	if err != nil {
		return engine.Invoice{}, false, err
	}
	return inv, true, nil
}

func (r *repo) ListInvoices(ctx context.Context, clientID engine.UserID) ([]engine.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices i JOIN bookings b ON b.id = i.booking_id`
	var args []any
	if clientID != 0 {
		query += ` WHERE b.client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY i.id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []engine.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row scanner) (engine.Invoice, error) {
	var (
		inv              engine.Invoice
		issue, due       string
		amount, currency string
	)
	err := row.Scan(&inv.ID, &inv.BookingID, &inv.Reference, &issue, &due, &amount, &currency, &inv.Refund)
	if err != nil {
		return inv, err
	}
	if inv.IssueDate, err = engine.ParseDate(issue); err != nil {
		return inv, err
	}
	if inv.DueDate, err = engine.ParseDate(due); err != nil {
		return inv, err
	}
	inv.Amount, err = parseMoney(amount, currency)
	return inv, err
}

// =============================================================================
// TRANSFERS (append-only)
// =============================================================================

const transferColumns = `t.id, t.invoice_id, t.amount, t.currency, t.date, t.refund,
	t.idempotency_key, t.created_at`

// AppendTransfer adds a transfer to the ledger. There is no update path.
func (r *repo) AppendTransfer(ctx context.Context, t *engine.Transfer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO transfers (invoice_id, amount, currency, date, refund, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.InvoiceID, t.Amount.String(), currencyOf(t.Amount), t.Date.String(), t.Refund,
		nullString(t.IdempotencyKey), t.CreatedAt.UTC().Format(time.RFC3339Nano))
	switch {
	case isUniqueConstraintError(err):
		return engine.ErrDuplicateIdempotencyKey
	case isForeignKeyError(err):
		return engine.ErrInvoiceNotFound
	case err != nil:
		return fmt.Errorf("failed to append transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = engine.TransferID(id)
	return nil
}

// Transfers returns the invoice's transfers in the order they were recorded.
func (r *repo) Transfers(ctx context.Context, id engine.InvoiceID) ([]engine.Transfer, error) {
	return r.queryTransfers(ctx,
		`SELECT `+transferColumns+` FROM transfers t WHERE t.invoice_id = ? ORDER BY t.id`, id)
}

func (r *repo) TransfersForClient(ctx context.Context, clientID engine.UserID) ([]engine.Transfer, error) {
	if clientID == 0 {
		return r.queryTransfers(ctx, `SELECT `+transferColumns+` FROM transfers t ORDER BY t.id`)
	}
	return r.queryTransfers(ctx, `
		SELECT `+transferColumns+`
		FROM transfers t
		JOIN invoices i ON i.id = t.invoice_id
		JOIN bookings b ON b.id = i.booking_id
		WHERE b.client_id = ?
		ORDER BY t.id`, clientID)
}

func (r *repo) TransferExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE idempotency_key = ?`, key,
	).Scan(&count)
	return count > 0, err
}

func (r *repo) queryTransfers(ctx context.Context, query string, args ...any) ([]engine.Transfer, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []engine.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func scanTransfer(row scanner) (engine.Transfer, error) {
	var (
		t                engine.Transfer
		amount, currency string
		date, createdAt  string
		key              sql.NullString
	)
	err := row.Scan(&t.ID, &t.InvoiceID, &amount, &currency, &date, &t.Refund, &key, &createdAt)
	if err != nil {
		return t, fmt.Errorf("failed to scan transfer: %w", err)
	}
	if t.Amount, err = parseMoney(amount, currency); err != nil {
		return t, err
	}
	if t.Date, err = engine.ParseDate(date); err != nil {
		return t, err
	}
	t.IdempotencyKey = key.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// wrapErr keeps engine sentinels unwrapped and prefixes everything else.
func wrapErr(op string, err error) error {
	if engine.IsNotFound(err) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullChild(id *engine.ChildID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func childPtr(v sql.NullInt64) *engine.ChildID {
	if !v.Valid {
		return nil
	}
	id := engine.ChildID(v.Int64)
	return &id
}

func currencyOf(m engine.Money) string {
	if m.Currency == "" {
		return engine.DefaultCurrency
	}
	return m.Currency
}

func parseMoney(value, currency string) (engine.Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return engine.Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return engine.NewMoney(d, currency), nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
