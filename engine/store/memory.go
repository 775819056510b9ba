// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

type data struct {
	terms       map[engine.TermID]engine.Term
	users       map[engine.UserID]engine.User
	children    map[engine.ChildID]engine.Child
	requests    map[engine.RequestID]engine.Request
	bookings    map[engine.BookingID]engine.Booking
	invoices    map[engine.InvoiceID]engine.Invoice
	transfers   []engine.Transfer
	idempotency map[string]bool
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

func newData() data {
	return data{
		terms:       make(map[engine.TermID]engine.Term),
		users:       make(map[engine.UserID]engine.User),
		children:    make(map[engine.ChildID]engine.Child),
		requests:    make(map[engine.RequestID]engine.Request),
		bookings:    make(map[engine.BookingID]engine.Booking),
		invoices:    make(map[engine.InvoiceID]engine.Invoice),
		idempotency: make(map[string]bool),
	}
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

// clone deep-copies the maps so a failed transaction can be rolled back.
func (d *data) clone() data {
	c := newData()
	for k, v := range d.terms {
		c.terms[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.children {
		c.children[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	c.transfers = append([]engine.Transfer{}, d.transfers...)
	c.seq = d.seq
	return c
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn against the store while holding the write lock.
// On error the state is restored from a snapshot taken before fn ran.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&view{d: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset drops every record.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newData()
	return nil
}

// read runs fn under the read lock against an unlocked view.
func (m *Memory) read(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{d: &m.data})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{d: &m.data})
}

// =============================================================================
// LOCKED ACCESSORS - Memory satisfies engine.Store by delegating to a view
// =============================================================================

func (m *Memory) SaveTerm(ctx context.Context, t *engine.Term) error {
	return m.write(func(v *view) error { return v.SaveTerm(ctx, t) })
}

func (m *Memory) GetTerm(ctx context.Context, id engine.TermID) (t engine.Term, err error) {
	err = m.read(func(v *view) error { t, err = v.GetTerm(ctx, id); return err })
	return t, err
}

func (m *Memory) ListTerms(ctx context.Context) (ts []engine.Term, err error) {
	err = m.read(func(v *view) error { ts, err = v.ListTerms(ctx); return err })
	return ts, err
}

func (m *Memory) DeleteTerm(ctx context.Context, id engine.TermID) error {
	return m.write(func(v *view) error { return v.DeleteTerm(ctx, id) })
}

func (m *Memory) SaveUser(ctx context.Context, u *engine.User) error {
	return m.write(func(v *view) error { return v.SaveUser(ctx, u) })
}

func (m *Memory) GetUser(ctx context.Context, id engine.UserID) (u engine.User, err error) {
	err = m.read(func(v *view) error { u, err = v.GetUser(ctx, id); return err })
	return u, err
}

func (m *Memory) SaveChild(ctx context.Context, c *engine.Child) error {
	return m.write(func(v *view) error { return v.SaveChild(ctx, c) })
}

func (m *Memory) GetChild(ctx context.Context, id engine.ChildID) (c engine.Child, err error) {
	err = m.read(func(v *view) error { c, err = v.GetChild(ctx, id); return err })
	return c, err
}

func (m *Memory) ListChildren(ctx context.Context, parentID engine.UserID) (cs []engine.Child, err error) {
	err = m.read(func(v *view) error { cs, err = v.ListChildren(ctx, parentID); return err })
	return cs, err
}

func (m *Memory) SaveRequest(ctx context.Context, r *engine.Request) error {
	return m.write(func(v *view) error { return v.SaveRequest(ctx, r) })
}

func (m *Memory) GetRequest(ctx context.Context, id engine.RequestID) (r engine.Request, err error) {
	err = m.read(func(v *view) error { r, err = v.GetRequest(ctx, id); return err })
	return r, err
}

func (m *Memory) ListRequests(ctx context.Context, f engine.RequestFilter) (rs []engine.Request, err error) {
	err = m.read(func(v *view) error { rs, err = v.ListRequests(ctx, f); return err })
	return rs, err
}

func (m *Memory) DeleteRequest(ctx context.Context, id engine.RequestID) error {
	return m.write(func(v *view) error { return v.DeleteRequest(ctx, id) })
}

func (m *Memory) SaveBooking(ctx context.Context, b *engine.Booking) error {
	return m.write(func(v *view) error { return v.SaveBooking(ctx, b) })
}

func (m *Memory) GetBooking(ctx context.Context, id engine.BookingID) (b engine.Booking, err error) {
	err = m.read(func(v *view) error { b, err = v.GetBooking(ctx, id); return err })
	return b, err
}

func (m *Memory) ListBookings(ctx context.Context, f engine.BookingFilter) (bs []engine.Booking, err error) {
	err = m.read(func(v *view) error { bs, err = v.ListBookings(ctx, f); return err })
	return bs, err
}

func (m *Memory) SaveInvoice(ctx context.Context, inv *engine.Invoice) error {
	return m.write(func(v *view) error { return v.SaveInvoice(ctx, inv) })
}

func (m *Memory) GetInvoice(ctx context.Context, id engine.InvoiceID) (inv engine.Invoice, err error) {
	err = m.read(func(v *view) error { inv, err = v.GetInvoice(ctx, id); return err })
	return inv, err
}

func (m *Memory) InvoiceForBooking(ctx context.Context, id engine.BookingID) (inv engine.Invoice, ok bool, err error) {
	err = m.read(func(v *view) error { inv, ok, err = v.InvoiceForBooking(ctx, id); return err })
	return inv, ok, err
}

func (m *Memory) ListInvoices(ctx context.Context, clientID engine.UserID) (invs []engine.Invoice, err error) {
	err = m.read(func(v *view) error { invs, err = v.ListInvoices(ctx, clientID); return err })
	return invs, err
}

func (m *Memory) AppendTransfer(ctx context.Context, t *engine.Transfer) error {
	return m.write(func(v *view) error { return v.AppendTransfer(ctx, t) })
}

func (m *Memory) Transfers(ctx context.Context, id engine.InvoiceID) (ts []engine.Transfer, err error) {
	err = m.read(func(v *view) error { ts, err = v.Transfers(ctx, id); return err })
	return ts, err
}

func (m *Memory) TransfersForClient(ctx context.Context, clientID engine.UserID) (ts []engine.Transfer, err error) {
	err = m.read(func(v *view) error { ts, err = v.TransfersForClient(ctx, clientID); return err })
	return ts, err
}

func (m *Memory) TransferExists(ctx context.Context, key string) (ok bool, err error) {
	err = m.read(func(v *view) error { ok, err = v.TransferExists(ctx, key); return err })
	return ok, err
}

// =============================================================================
// VIEW - Unlocked operations on the data; used directly inside WithTx
// =============================================================================

type view struct {
	d *data
}

func (v *view) SaveTerm(_ context.Context, t *engine.Term) error {
	if t.ID == 0 {
		t.ID = engine.TermID(v.d.next())
	} else if _, ok := v.d.terms[t.ID]; !ok {
		return engine.ErrTermNotFound
	}
	v.d.terms[t.ID] = *t
	return nil
}

func (v *view) GetTerm(_ context.Context, id engine.TermID) (engine.Term, error) {
	t, ok := v.d.terms[id]
	if !ok {
		return engine.Term{}, engine.ErrTermNotFound
	}
	return t, nil
}

func (v *view) ListTerms(_ context.Context) ([]engine.Term, error) {
	terms := make([]engine.Term, 0, len(v.d.terms))
	for _, t := range v.d.terms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].StartDate.Equal(terms[j].StartDate) {
			return terms[i].ID < terms[j].ID
		}
		return terms[i].StartDate.Before(terms[j].StartDate)
	})
	return terms, nil
}

func (v *view) DeleteTerm(_ context.Context, id engine.TermID) error {
	if _, ok := v.d.terms[id]; !ok {
		return engine.ErrTermNotFound
	}
	delete(v.d.terms, id)
	return nil
}

func (v *view) SaveUser(_ context.Context, u *engine.User) error {
	if u.ID == 0 {
		u.ID = engine.UserID(v.d.next())
	}
	v.d.users[u.ID] = *u
	return nil
}

func (v *view) GetUser(_ context.Context, id engine.UserID) (engine.User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return engine.User{}, engine.ErrUserNotFound
	}
	return u, nil
}

func (v *view) SaveChild(_ context.Context, c *engine.Child) error {
	if _, ok := v.d.users[c.ParentID]; !ok {
		return engine.ErrUserNotFound
	}
	if c.ID == 0 {
		c.ID = engine.ChildID(v.d.next())
	}
	v.d.children[c.ID] = *c
	return nil
}

func (v *view) GetChild(_ context.Context, id engine.ChildID) (engine.Child, error) {
	c, ok := v.d.children[id]
	if !ok {
		return engine.Child{}, engine.ErrChildNotFound
	}
	return c, nil
}

func (v *view) ListChildren(_ context.Context, parentID engine.UserID) ([]engine.Child, error) {
	var children []engine.Child
	for _, c := range v.d.children {
		if c.ParentID == parentID {
			children = append(children, c)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (v *view) SaveRequest(_ context.Context, r *engine.Request) error {
	if r.ID == 0 {
		r.ID = engine.RequestID(v.d.next())
	} else if _, ok := v.d.requests[r.ID]; !ok {
		return engine.ErrRequestNotFound
	}
	v.d.requests[r.ID] = *r
	return nil
}

func (v *view) GetRequest(_ context.Context, id engine.RequestID) (engine.Request, error) {
	r, ok := v.d.requests[id]
	if !ok {
		return engine.Request{}, engine.ErrRequestNotFound
	}
	return r, nil
}

func (v *view) ListRequests(_ context.Context, f engine.RequestFilter) ([]engine.Request, error) {
	var requests []engine.Request
	for _, r := range v.d.requests {
		if f.ClientID != 0 && r.ClientID != f.ClientID {
			continue
		}
		if f.Fulfilled != nil && r.Fulfilled != *f.Fulfilled {
			continue
		}
		requests = append(requests, r)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests, nil
}

func (v *view) DeleteRequest(_ context.Context, id engine.RequestID) error {
	if _, ok := v.d.requests[id]; !ok {
		return engine.ErrRequestNotFound
	}
	delete(v.d.requests, id)
	return nil
}

func (v *view) SaveBooking(_ context.Context, b *engine.Booking) error {
	if b.ID == 0 {
		b.ID = engine.BookingID(v.d.next())
	} else if _, ok := v.d.bookings[b.ID]; !ok {
		return engine.ErrBookingNotFound
	}
	v.d.bookings[b.ID] = *b
	return nil
}

func (v *view) GetBooking(_ context.Context, id engine.BookingID) (engine.Booking, error) {
	b, ok := v.d.bookings[id]
	if !ok {
		return engine.Booking{}, engine.ErrBookingNotFound
	}
	return b, nil
}

func (v *view) ListBookings(_ context.Context, f engine.BookingFilter) ([]engine.Booking, error) {
	var bookings []engine.Booking
	for _, b := range v.d.bookings {
		if f.ClientID != 0 && b.ClientID != f.ClientID {
			continue
		}
		if f.TeacherID != 0 && b.TeacherID != f.TeacherID {
			continue
		}
		bookings = append(bookings, b)
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].ID < bookings[j].ID })
	return bookings, nil
}

func (v *view) SaveInvoice(_ context.Context, inv *engine.Invoice) error {
	if _, ok := v.d.bookings[inv.BookingID]; !ok {
		return engine.ErrBookingNotFound
	}
	for id, other := range v.d.invoices {
		if other.BookingID == inv.BookingID && id != inv.ID {
			return engine.ErrBookingInvoiced
		}
	}
	if inv.ID == 0 {
		inv.ID = engine.InvoiceID(v.d.next())
	} else if _, ok := v.d.invoices[inv.ID]; !ok {
		return engine.ErrInvoiceNotFound
	}
	v.d.invoices[inv.ID] = *inv
	return nil
}

func (v *view) GetInvoice(_ context.Context, id engine.InvoiceID) (engine.Invoice, error) {
	inv, ok := v.d.invoices[id]
	if !ok {
		return engine.Invoice{}, engine.ErrInvoiceNotFound
	}
	return inv, nil
}

func (v *view) InvoiceForBooking(_ context.Context, id engine.BookingID) (engine.Invoice, bool, error) {
	var found *engine.Invoice
	for _, inv := range v.d.invoices {
		if inv.BookingID == id && (found == nil || inv.ID < found.ID) {
			inv := inv
			found = &inv
		}
	}
	if found == nil {
		return engine.Invoice{}, false, nil
	}
	return *found, true, nil
}

func (v *view) ListInvoices(_ context.Context, clientID engine.UserID) ([]engine.Invoice, error) {
	var invoices []engine.Invoice
	for _, inv := range v.d.invoices {
		if clientID != 0 && v.d.bookings[inv.BookingID].ClientID != clientID {
			continue
		}
		invoices = append(invoices, inv)
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
	return invoices, nil
}

// AppendTransfer adds a transfer. Append-only.
func (v *view) AppendTransfer(_ context.Context, t *engine.Transfer) error {
	if _, ok := v.d.invoices[t.InvoiceID]; !ok {
		return engine.ErrInvoiceNotFound
	}
	if t.IdempotencyKey != "" && v.d.idempotency[t.IdempotencyKey] {
		return engine.ErrDuplicateIdempotencyKey
	}
	t.ID = engine.TransferID(v.d.next())
	v.d.transfers = append(v.d.transfers, *t)
	if t.IdempotencyKey != "" {
		v.d.idempotency[t.IdempotencyKey] = true
	}
	return nil
}

func (v *view) Transfers(_ context.Context, id engine.InvoiceID) ([]engine.Transfer, error) {
	var result []engine.Transfer
	for _, t := range v.d.transfers {
		if t.InvoiceID == id {
			result = append(result, t)
		}
	}
	return result, nil
}

func (v *view) TransfersForClient(_ context.Context, clientID engine.UserID) ([]engine.Transfer, error) {
	var result []engine.Transfer
	for _, t := range v.d.transfers {
		if clientID != 0 {
			inv := v.d.invoices[t.InvoiceID]
			if v.d.bookings[inv.BookingID].ClientID != clientID {
				continue
			}
		}
		result = append(result, t)
	}
	return result, nil
}

func (v *view) TransferExists(_ context.Context, key string) (bool, error) {
	return v.d.idempotency[key], nil
}
