/*
handlers.go - HTTP API handlers for lesson scheduling and billing

PURPOSE:
  Exposes the lesson engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine's services.

ENDPOINTS:
  Terms:
    GET    /api/terms                  List terms in date order
    GET    /api/terms/current          Current, next and default term
    POST   /api/terms                  Create term
    PUT    /api/terms/{id}             Edit term
    DELETE /api/terms/{id}             Delete term

  Users:
    POST   /api/users                  Create client, teacher or admin
    GET    /api/users/{id}             User with children
    PUT    /api/users/{id}             Edit names, email and role
    POST   /api/users/{id}/children    Add a child to a client
    GET    /api/users/{id}/account     Invoiced / paid / refunded / owed
    GET    /api/users/{id}/timetable   Lessons between ?from and ?to

  Lesson requests:
    GET    /api/requests               Own requests (students) or all (staff)
    POST   /api/requests               Submit a request
    PUT    /api/requests/{id}          Edit an unfulfilled request
    DELETE /api/requests/{id}          Withdraw an unfulfilled request
    POST   /api/requests/{id}/booking  Book lessons for a request

  Bookings & invoices:
    GET    /api/bookings               Own bookings, or all (staff, ?client_id)
    POST   /api/bookings               Book lessons from scratch
    GET    /api/bookings/{id}          Booking with its invoice
    PUT    /api/bookings/{id}          Edit booking, reprice invoice
    GET    /api/invoices/{id}          Invoice statement
    POST   /api/invoices/{id}/payments Record a bank transfer
    GET    /api/billing                Every invoice and client balance

ACCESS:
  Students see their own user, account, bookings and invoices; teachers
  their own timetable and the bookings they teach. Someone else's booking
  or invoice answers 404, someone else's user 403.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (validator tags on the DTO)
  3. Call the engine service (one unit of work)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as ErrorResponse JSON:
  - 400: Malformed or invalid input
  - 401: No role, or a student or teacher without a user id
  - 403: Acting on another client's records
  - 404: Record not found, or no terms defined
  - 409: Idempotency key replayed, request already fulfilled, booking
         already invoiced
  - 422: Engine field errors (overlapping term, wrong weekday, ...)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need from persistence.
type Store interface {
	engine.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Store
	Pricer engine.Pricer
	// Clock returns today's date; defaults to engine.Today.
	Clock  func() engine.Date
	Logger *zap.Logger

	terms    *engine.TermService
	requests *engine.RequestService
	bookings *engine.BookingService
	payments *engine.PaymentService
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and pricer.
func NewHandler(store Store, pricer engine.Pricer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		Store:    store,
		Pricer:   pricer,
		Logger:   logger,
		validate: newValidator(),
	}
	h.terms = &engine.TermService{Store: store, Logger: logger}
	h.requests = &engine.RequestService{Store: store, Logger: logger}
	h.bookings = &engine.BookingService{Store: store, Pricer: pricer, Clock: h.today, Logger: logger}
	h.payments = &engine.PaymentService{Store: store, Clock: h.today, Logger: logger}
	return h
}

func (h *Handler) today() engine.Date {
	if h.Clock == nil {
		return engine.Today()
	}
	return h.Clock()
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// TERM HANDLERS
// =============================================================================

// ListTerms returns every term ordered by start date.
func (h *Handler) ListTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := h.Store.ListTerms(r.Context())
	if err != nil {
		h.fail(w, "Failed to list terms", err)
		return
	}

	dtos := make([]TermDTO, len(terms))
	for i, t := range terms {
		dtos[i] = toTermDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CurrentTerms returns the term today falls in and the one after it.
func (h *Handler) CurrentTerms(w http.ResponseWriter, r *http.Request) {
	today := h.today()
	resp := CurrentTermsDTO{Today: today.String()}

	current, next, err := h.terms.Resolve(r.Context(), today)
	if err != nil && !errors.Is(err, engine.ErrNoTerms) {
		h.fail(w, "Failed to resolve terms", err)
		return
	}
	resp.Current = toTermDTOPtr(current)
	resp.Next = toTermDTOPtr(next)
	resp.Default = resp.Current
	if resp.Default == nil {
		resp.Default = resp.Next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateTerm(w http.ResponseWriter, r *http.Request) {
	var req TermRequest
	if !h.decode(w, r, &req) {
		return
	}

	term, err := h.terms.Save(r.Context(), termFromRequest(req))
	if err != nil {
		h.fail(w, "Failed to create term", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTermDTO(term))
}

func (h *Handler) UpdateTerm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TermRequest
	if !h.decode(w, r, &req) {
		return
	}

	term := termFromRequest(req)
	term.ID = engine.TermID(id)
	term, err := h.terms.Save(r.Context(), term)
	if err != nil {
		h.fail(w, "Failed to update term", err)
		return
	}
	writeJSON(w, http.StatusOK, toTermDTO(term))
}

func (h *Handler) DeleteTerm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.terms.Delete(r.Context(), engine.TermID(id)); err != nil {
		h.fail(w, "Failed to delete term", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// termFromRequest leaves unparseable or empty dates zero; the engine
// reports them as missing.
func termFromRequest(req TermRequest) engine.Term {
	t := engine.Term{Name: strings.TrimSpace(req.Name)}
	t.StartDate, _ = engine.ParseDate(req.StartDate)
	t.EndDate, _ = engine.ParseDate(req.EndDate)
	return t
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user := engine.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Role:      engine.Role(req.Role),
	}
	if err := h.Store.SaveUser(r.Context(), &user); err != nil {
		h.fail(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user, nil))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !h.mayActFor(w, r, engine.UserID(id)) {
		return
	}
	ctx := r.Context()

	user, err := h.Store.GetUser(ctx, engine.UserID(id))
	if err != nil {
		h.fail(w, "Failed to get user", err)
		return
	}
	children, err := h.Store.ListChildren(ctx, user.ID)
	if err != nil {
		h.fail(w, "Failed to list children", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user, children))
}

// UpdateUser edits a user's names, email and role.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	user, err := h.Store.GetUser(ctx, engine.UserID(id))
	if err != nil {
		h.fail(w, "Failed to get user", err)
		return
	}
	user.FirstName = req.FirstName
	user.LastName = req.LastName
	user.Email = req.Email
	user.Role = engine.Role(req.Role)
	if err := h.Store.SaveUser(ctx, &user); err != nil {
		h.fail(w, "Failed to update user", err)
		return
	}
	children, err := h.Store.ListChildren(ctx, user.ID)
	if err != nil {
		h.fail(w, "Failed to list children", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user, children))
}

// CreateChild adds a child to a client. Students may only add their own.
func (h *Handler) CreateChild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.mayActFor(w, r, engine.UserID(id)) {
		return
	}
	var req CreateChildRequest
	if !h.decode(w, r, &req) {
		return
	}

	child := engine.Child{FirstName: req.FirstName, LastName: req.LastName, ParentID: engine.UserID(id)}
	if err := h.Store.SaveChild(r.Context(), &child); err != nil {
		h.fail(w, "Failed to create child", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChildDTO(child))
}

// GetAccount returns the client's totals across all their invoices.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !h.mayActFor(w, r, engine.UserID(id)) {
		return
	}
	ctx := r.Context()
	clientID := engine.UserID(id)

	if _, err := h.Store.GetUser(ctx, clientID); err != nil {
		h.fail(w, "Failed to get user", err)
		return
	}
	invoices, err := h.Store.ListInvoices(ctx, clientID)
	if err != nil {
		h.fail(w, "Failed to list invoices", err)
		return
	}
	transfers, err := h.Store.TransfersForClient(ctx, clientID)
	if err != nil {
		h.fail(w, "Failed to list transfers", err)
		return
	}

	currency := h.Pricer.HourlyRate.Currency
	writeJSON(w, http.StatusOK, AccountDTO{
		UserID:     id,
		Currency:   currency,
		SummaryDTO: toSummaryDTO(engine.Summarize(invoices, transfers, currency)),
		Invoices:   toInvoiceDTOs(invoices, transfers),
	})
}

// GetTimetable lists a client's or teacher's lessons between ?from and ?to,
// defaulting to the current month.
func (h *Handler) GetTimetable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok || !h.mayActFor(w, r, engine.UserID(id)) {
		return
	}
	ctx := r.Context()

	user, err := h.Store.GetUser(ctx, engine.UserID(id))
	if err != nil {
		h.fail(w, "Failed to get user", err)
		return
	}

	today := h.today()
	period := engine.Period{
		Start: engine.StartOfMonth(today.Year(), today.Month()),
		End:   engine.EndOfMonth(today.Year(), today.Month()),
	}
	if !queryDate(w, r, "from", &period.Start) || !queryDate(w, r, "to", &period.End) {
		return
	}
	if period.End.Before(period.Start) {
		h.fail(w, "Invalid timetable range", &engine.FieldError{Field: "to", Code: engine.CodeEndBeforeStart})
		return
	}

	filter := engine.BookingFilter{ClientID: user.ID}
	if user.Role == engine.RoleTeacher {
		filter = engine.BookingFilter{TeacherID: user.ID}
	}
	bookings, err := h.Store.ListBookings(ctx, filter)
	if err != nil {
		h.fail(w, "Failed to list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, toTimetableDTO(period, engine.Timetable(bookings, period)))
}

// =============================================================================
// LESSON REQUEST HANDLERS
// =============================================================================

// ListLessonRequests returns a student's own requests, or for staff every
// request (optionally ?client_id=). ?fulfilled=true|false filters both.
func (h *Handler) ListLessonRequests(w http.ResponseWriter, r *http.Request) {
	a := actorFrom(r.Context())
	q := r.URL.Query()

	var filter engine.RequestFilter
	if a.Role == engine.RoleStudent {
		filter.ClientID = a.UserID
	} else if raw := q.Get("client_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid client_id", err)
			return
		}
		filter.ClientID = engine.UserID(id)
	}
	if raw := q.Get("fulfilled"); raw != "" {
		fulfilled, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fulfilled flag", err)
			return
		}
		filter.Fulfilled = &fulfilled
	}

	requests, err := h.Store.ListRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list requests", err)
		return
	}
	dtos := make([]LessonRequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toLessonRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SubmitLessonRequest(w http.ResponseWriter, r *http.Request) {
	var req LessonRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	saved, err := h.requests.Submit(r.Context(), lessonRequestFrom(req, actorFrom(r.Context()).UserID))
	if err != nil {
		h.fail(w, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLessonRequestDTO(saved))
}

func (h *Handler) UpdateLessonRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req LessonRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	clientID := actorFrom(r.Context()).UserID
	lr := lessonRequestFrom(req, clientID)
	lr.ID = engine.RequestID(id)
	saved, err := h.requests.Update(r.Context(), clientID, lr)
	if err != nil {
		h.fail(w, "Failed to update request", err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonRequestDTO(saved))
}

func (h *Handler) WithdrawLessonRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.requests.Withdraw(r.Context(), actorFrom(r.Context()).UserID, engine.RequestID(id)); err != nil {
		h.fail(w, "Failed to withdraw request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BookLessonRequest books the lessons a client asked for and marks the
// request fulfilled.
func (h *Handler) BookLessonRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req BookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.bookings.CreateFromRequest(r.Context(), engine.RequestID(id), bookingInput(req))
	if err != nil {
		h.fail(w, "Failed to book request", err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(result))
}

func lessonRequestFrom(req LessonRequestRequest, clientID engine.UserID) engine.Request {
	return engine.Request{
		ClientID:     clientID,
		ChildID:      childID(req.ChildID),
		Availability: strings.TrimSpace(req.Availability),
		Lessons:      req.Lessons,
		Interval:     engine.Interval(req.DaysBetweenLessons),
		Duration:     engine.Duration(req.Duration),
		Info:         req.Info,
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClientID == 0 {
		h.fail(w, "Failed to create booking", &engine.FieldError{Field: "client_id", Code: engine.CodeMissingField})
		return
	}

	result, err := h.bookings.Create(r.Context(), bookingInput(req))
	if err != nil {
		h.fail(w, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(result))
}

// ListBookings returns a student's or teacher's own bookings, or for staff
// every booking (optionally ?client_id=).
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	a := actorFrom(r.Context())

	var filter engine.BookingFilter
	switch a.Role {
	case engine.RoleStudent:
		filter.ClientID = a.UserID
	case engine.RoleTeacher:
		filter.TeacherID = a.UserID
	default:
		if raw := r.URL.Query().Get("client_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid client_id", err)
				return
			}
			filter.ClientID = engine.UserID(id)
		}
	}

	bookings, err := h.Store.ListBookings(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list bookings", err)
		return
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	booking, err := h.Store.GetBooking(ctx, engine.BookingID(id))
	if err == nil && !mayView(actorFrom(ctx), booking) {
		err = engine.ErrBookingNotFound
	}
	if err != nil {
		h.fail(w, "Failed to get booking", err)
		return
	}
	resp := BookingDetailDTO{Booking: toBookingDTO(booking)}

	invoice, found, err := h.Store.InvoiceForBooking(ctx, booking.ID)
	if err != nil {
		h.fail(w, "Failed to get invoice", err)
		return
	}
	if found {
		history, err := h.Store.Transfers(ctx, invoice.ID)
		if err != nil {
			h.fail(w, "Failed to load transfers", err)
			return
		}
		dto := toInvoiceDTO(invoice, history)
		resp.Invoice = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// EditBooking replans a booking. A lower price refunds anything the client
// paid above it; a higher price is left for the client to pay.
func (h *Handler) EditBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req BookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	result, err := h.bookings.Edit(ctx, engine.BookingID(id), bookingInput(req))
	if err != nil {
		h.fail(w, "Failed to edit booking", err)
		return
	}

	resp := EditBookingResponse{Booking: toBookingDTO(result.Booking), Term: toTermDTO(result.Term)}
	if result.Invoice != nil {
		history, err := h.Store.Transfers(ctx, result.Invoice.ID)
		if err != nil {
			h.fail(w, "Failed to load transfers", err)
			return
		}
		dto := toInvoiceDTO(*result.Invoice, history)
		resp.Invoice = &dto
		resp.Reprice = toRepriceDTO(*result.Reprice)
	}
	writeJSON(w, http.StatusOK, resp)
}

// bookingInput converts the form. The validator has already checked the
// date and time layouts.
func bookingInput(req BookingRequest) engine.BookingInput {
	in := engine.BookingInput{
		ClientID:  engine.UserID(req.ClientID),
		TeacherID: engine.UserID(req.TeacherID),
		ChildID:   childID(req.ChildID),
		TermID:    engine.TermID(req.TermID),
		Interval:  engine.Interval(req.DaysBetweenLessons),
		Duration:  engine.Duration(req.Duration),
		StartDate: optionalDate(req.StartDate),
		EndDate:   optionalDate(req.EndDate),
	}
	if req.DayOfWeek != nil {
		in.Weekday = engine.Weekday(*req.DayOfWeek)
	}
	in.TimeOfDay, _ = engine.ParseTimeOfDay(req.Time)
	return in
}

func bookingResponse(result engine.BookingResult) BookingResponse {
	return BookingResponse{
		Booking: toBookingDTO(result.Booking),
		Invoice: toInvoiceDTO(result.Invoice, nil),
		Term:    toTermDTO(result.Term),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GetInvoice returns the invoice with its transfers and derived position.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	stmt, err := h.payments.Statement(ctx, engine.InvoiceID(id))
	if err == nil {
		var booking engine.Booking
		booking, err = h.Store.GetBooking(ctx, stmt.Invoice.BookingID)
		if err == nil && !mayView(actorFrom(ctx), booking) {
			err = engine.ErrInvoiceNotFound
		}
	}
	if err != nil {
		h.fail(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(stmt.Invoice, stmt.Transfers))
}

// GetBilling totals every invoice and breaks the totals down by client.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bookings, err := h.Store.ListBookings(ctx, engine.BookingFilter{})
	if err != nil {
		h.fail(w, "Failed to list bookings", err)
		return
	}
	invoices, err := h.Store.ListInvoices(ctx, 0)
	if err != nil {
		h.fail(w, "Failed to list invoices", err)
		return
	}
	transfers, err := h.Store.TransfersForClient(ctx, 0)
	if err != nil {
		h.fail(w, "Failed to list transfers", err)
		return
	}

	clientOf := make(map[engine.BookingID]engine.UserID, len(bookings))
	for _, b := range bookings {
		clientOf[b.ID] = b.ClientID
	}
	byClient := make(map[engine.UserID][]engine.Invoice)
	for _, inv := range invoices {
		client := clientOf[inv.BookingID]
		byClient[client] = append(byClient[client], inv)
	}
	clients := make([]engine.UserID, 0, len(byClient))
	for id := range byClient {
		clients = append(clients, id)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	currency := h.Pricer.HourlyRate.Currency
	resp := BillingDTO{
		Currency:   currency,
		SummaryDTO: toSummaryDTO(engine.Summarize(invoices, transfers, currency)),
		Clients:    make([]ClientBalanceDTO, len(clients)),
		Invoices:   toInvoiceDTOs(invoices, transfers),
	}
	for i, id := range clients {
		resp.Clients[i] = ClientBalanceDTO{
			UserID:     int64(id),
			SummaryDTO: toSummaryDTO(engine.Summarize(byClient[id], transfers, currency)),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordPayment records a bank transfer from the calling client. Any excess
// over the amount due is refunded in the same call.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := engine.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	paidOn := h.today()
	if req.Date != "" {
		paidOn, _ = engine.ParseDate(req.Date)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	result, err := h.payments.RecordPayment(r.Context(), engine.PaymentInput{
		InvoiceID:      engine.InvoiceID(id),
		Amount:         amount,
		Date:           paidOn,
		ClientID:       actorFrom(r.Context()).UserID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(result))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine or store error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if fields := engine.FieldErrors(err); fields != nil {
		resp := ErrorResponse{Error: message, Details: err.Error()}
		for _, fe := range fields {
			resp.Fields = append(resp.Fields, FieldErrorDTO{Field: fe.Field, Code: string(fe.Code), Conflict: fe.Conflict})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log().Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoTerms), engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsConflict(err), errors.Is(err, engine.ErrRequestFulfilled):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotRequestOwner):
		return http.StatusForbidden
	case engine.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode reads the JSON body into dst and validates it. It writes the
// error response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		resp := ErrorResponse{Error: "Invalid request body", Details: err.Error()}
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, FieldErrorDTO{Field: fe.Field(), Code: fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// mayActFor lets staff act for anyone, students and teachers only for
// themselves.
func (h *Handler) mayActFor(w http.ResponseWriter, r *http.Request, userID engine.UserID) bool {
	a := actorFrom(r.Context())
	if !a.Role.IsStaff() && a.UserID != userID {
		writeError(w, http.StatusForbidden, "Only staff may act for other users", nil)
		return false
	}
	return true
}

// mayView reports whether a may see booking b and its invoice.
func mayView(a actor, b engine.Booking) bool {
	switch a.Role {
	case engine.RoleStudent:
		return b.ClientID == a.UserID
	case engine.RoleTeacher:
		return b.TeacherID == a.UserID
	}
	return a.Role.IsStaff()
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// queryDate overwrites dst when the query parameter is present.
func queryDate(w http.ResponseWriter, r *http.Request, name string, dst *engine.Date) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return true
	}
	d, err := engine.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" date", err)
		return false
	}
	*dst = d
	return true
}

func childID(id *int64) *engine.ChildID {
	if id == nil {
		return nil
	}
	c := engine.ChildID(*id)
	return &c
}

func optionalDate(s *string) *engine.Date {
	if s == nil || *s == "" {
		return nil
	}
	d, err := engine.ParseDate(*s)
	if err != nil {
		return nil
	}
	return &d
}
