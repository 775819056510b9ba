/*
store.go - Persistence interface for the engine's records

PURPOSE:
  Defines the interface between the lifecycle services and the database.
  The engine never holds records between calls; every service operation
  loads what it needs through a Store inside a unit of work.

KEY INTERFACES:
  Store:   Record persistence (terms, users, requests, bookings, invoices, transfers)
  TxStore: Store plus WithTx, the unit of work for lifecycle operations

APPEND-ONLY TRANSFERS:
  Transfers have AppendTransfer and no update or delete. Corrections are
  made with refund transfers, so net paid can always be replayed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, migrated with goose
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - booking.go, payment.go, request.go, term.go: the services using TxStore
*/
package engine

import "context"

// Store handles persistence of engine records. Save* methods insert when the
// record's ID is zero (and set it) and update otherwise.
type Store interface {
	SaveTerm(ctx context.Context, t *Term) error
	GetTerm(ctx context.Context, id TermID) (Term, error)
	// ListTerms returns every term ordered by StartDate.
	ListTerms(ctx context.Context) ([]Term, error)
	DeleteTerm(ctx context.Context, id TermID) error

	SaveUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id UserID) (User, error)
	SaveChild(ctx context.Context, c *Child) error
	GetChild(ctx context.Context, id ChildID) (Child, error)
	ListChildren(ctx context.Context, parentID UserID) ([]Child, error)

	SaveRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id RequestID) (Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
	DeleteRequest(ctx context.Context, id RequestID) error

	SaveBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id BookingID) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)

	// SaveInvoice fails with ErrBookingInvoiced if another invoice exists
	// for the same booking.
	SaveInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	// InvoiceForBooking returns ok=false when the booking has no invoice.
	InvoiceForBooking(ctx context.Context, bookingID BookingID) (inv Invoice, ok bool, err error)
	// ListInvoices returns the invoices of clientID's bookings, or all when clientID is 0.
	ListInvoices(ctx context.Context, clientID UserID) ([]Invoice, error)

	// AppendTransfer is the only write for transfers. Fails with
	// ErrDuplicateIdempotencyKey if the key is already recorded.
	AppendTransfer(ctx context.Context, t *Transfer) error
	// Transfers returns an invoice's transfers in the order they were recorded.
	Transfers(ctx context.Context, invoiceID InvoiceID) ([]Transfer, error)
	// TransfersForClient returns all transfers on clientID's invoices, or all when clientID is 0.
	TransfersForClient(ctx context.Context, clientID UserID) ([]Transfer, error)
	TransferExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

type RequestFilter struct {
	ClientID  UserID
	Fulfilled *bool
}

type BookingFilter struct {
	ClientID  UserID
	TeacherID UserID
}
