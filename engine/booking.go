/*
booking.go - Booking lifecycle

PURPOSE:
  Orchestrates the calendar, recurrence, pricing and ledger pieces into the
  three writes an administrator makes:

  Create:            input ──▶ schedule ──▶ Booking ──▶ price ──▶ Invoice
  CreateFromRequest: as Create, and the Request is marked fulfilled
  Edit:              input ──▶ schedule ──▶ Booking ──▶ price ──▶ Reprice
                     ──▶ Invoice amount (+ refund transfer if overpaid)

UNIT OF WORK:
  Each operation runs inside a single Store.WithTx. A request is never
  fulfilled without its booking, a booking never lacks its invoice, and
  an invoice amount never changes without the matching refund.

NET PAID:
  Edit replays the invoice's full transfer history inside the transaction
  before repricing. Nothing here caches a running total between calls.

SEE ALSO:
  - recurrence.go: ComputeSchedule
  - ledger.go: Reprice
  - request.go: Request lifecycle before fulfilment
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID        BookingID
	ClientID  UserID
	TeacherID UserID
	ChildID   *ChildID
	Lessons   int
	Interval  Interval
	Duration  Duration
	FirstDate Date
	TimeOfDay TimeOfDay
}

func (b Booking) Schedule() Schedule {
	return Schedule{FirstDate: b.FirstDate, Lessons: b.Lessons, Interval: b.Interval}
}

// Dates returns the date of every lesson in the booking.
func (b Booking) Dates() []Date { return b.Schedule().Dates() }

// DayOfWeek is the weekday all of the booking's lessons fall on.
func (b Booking) DayOfWeek() Weekday { return b.FirstDate.Weekday() }

// BookingInput is the booking form after type validation.
type BookingInput struct {
	ClientID  UserID
	TeacherID UserID
	ChildID   *ChildID
	// TermID zero selects the current term, or the next one between terms.
	TermID    TermID
	Weekday   Weekday
	Interval  Interval
	Duration  Duration
	StartDate *Date
	EndDate   *Date
	TimeOfDay TimeOfDay
}

// InputFromBooking pre-fills an edit form from an existing booking.
func InputFromBooking(b Booking) BookingInput {
	start := b.FirstDate
	return BookingInput{
		ClientID:  b.ClientID,
		TeacherID: b.TeacherID,
		ChildID:   b.ChildID,
		Weekday:   b.DayOfWeek(),
		Interval:  b.Interval,
		Duration:  b.Duration,
		StartDate: &start,
		TimeOfDay: b.TimeOfDay,
	}
}

type BookingResult struct {
	Booking Booking
	Invoice Invoice
	Term    Term
}

type EditResult struct {
	Booking Booking
	Term    Term
	// Invoice and Reprice are nil when the booking has no invoice.
	Invoice *Invoice
	Reprice *RepriceResult
}

// =============================================================================
// BOOKING SERVICE
// =============================================================================

type BookingService struct {
	Store  TxStore
	Pricer Pricer
	// Clock returns today's date; defaults to Today.
	Clock  func() Date
	Logger *zap.Logger
}

func (s *BookingService) today() Date {
	if s.Clock == nil {
		return Today()
	}
	return s.Clock()
}

// Create books lessons from scratch and issues the invoice.
func (s *BookingService) Create(ctx context.Context, in BookingInput) (BookingResult, error) {
	var result BookingResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		var err error
		result, err = s.create(ctx, tx, in)
		return err
	})
	if err != nil {
		return BookingResult{}, err
	}
	s.logCreated(result, 0)
	return result, nil
}

// CreateFromRequest books lessons for an unfulfilled request and marks it
// fulfilled in the same transaction. Zero-valued interval, duration and
// child in the input are taken from the request.
func (s *BookingService) CreateFromRequest(ctx context.Context, requestID RequestID, in BookingInput) (BookingResult, error) {
	var result BookingResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Fulfilled {
			return ErrRequestFulfilled
		}

		in.ClientID = req.ClientID
		if in.Interval == 0 {
			in.Interval = req.Interval
		}
		if in.Duration == 0 {
			in.Duration = req.Duration
		}
		if in.ChildID == nil {
			in.ChildID = req.ChildID
		}

		result, err = s.create(ctx, tx, in)
		if err != nil {
			return err
		}

		req.Fulfilled = true
		if err := tx.SaveRequest(ctx, &req); err != nil {
			return fmt.Errorf("failed to mark request fulfilled: %w", err)
		}
		return nil
	})
	if err != nil {
		return BookingResult{}, err
	}
	s.logCreated(result, requestID)
	return result, nil
}

func (s *BookingService) create(ctx context.Context, tx Store, in BookingInput) (BookingResult, error) {
	term, sched, err := s.plan(ctx, tx, in)
	if err != nil {
		return BookingResult{}, err
	}

	booking := Booking{
		ClientID:  in.ClientID,
		TeacherID: in.TeacherID,
		ChildID:   in.ChildID,
		Lessons:   sched.Lessons,
		Interval:  sched.Interval,
		Duration:  in.Duration,
		FirstDate: sched.FirstDate,
		TimeOfDay: in.TimeOfDay,
	}
	if err := tx.SaveBooking(ctx, &booking); err != nil {
		return BookingResult{}, fmt.Errorf("failed to save booking: %w", err)
	}

	amount := s.Pricer.PriceSchedule(sched, booking.Duration)
	if !amount.IsPositive() {
		return BookingResult{}, ErrNonPositiveAmount
	}
	invoice := Invoice{
		BookingID: booking.ID,
		Reference: InvoiceReference(booking.ClientID, booking.ID),
		IssueDate: s.today(),
		DueDate:   booking.FirstDate,
		Amount:    amount,
	}
	if err := tx.SaveInvoice(ctx, &invoice); err != nil {
		return BookingResult{}, fmt.Errorf("failed to save invoice: %w", err)
	}

	return BookingResult{Booking: booking, Invoice: invoice, Term: term}, nil
}

// Edit recomputes the lesson plan of an existing booking, reprices its
// invoice and refunds the client if they are left overpaid. The client of
// a booking never changes. Zero-valued interval, duration and child in the
// input keep the booking's.
func (s *BookingService) Edit(ctx context.Context, id BookingID, in BookingInput) (EditResult, error) {
	var result EditResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		booking, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		current := InputFromBooking(booking)
		in.ClientID = current.ClientID
		if in.Interval == 0 {
			in.Interval = current.Interval
		}
		if in.Duration == 0 {
			in.Duration = current.Duration
		}
		if in.ChildID == nil {
			in.ChildID = current.ChildID
		}

		term, sched, err := s.plan(ctx, tx, in)
		if err != nil {
			return err
		}

		booking.TeacherID = in.TeacherID
		booking.ChildID = in.ChildID
		booking.Lessons = sched.Lessons
		booking.Interval = sched.Interval
		booking.Duration = in.Duration
		booking.FirstDate = sched.FirstDate
		booking.TimeOfDay = in.TimeOfDay
		if err := tx.SaveBooking(ctx, &booking); err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}
		result = EditResult{Booking: booking, Term: term}

		invoice, ok, err := tx.InvoiceForBooking(ctx, booking.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		history, err := tx.Transfers(ctx, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to load transfers: %w", err)
		}
		newAmount := s.Pricer.PriceSchedule(sched, booking.Duration)
		reprice, err := Reprice(invoice.ID, invoice.Amount, newAmount, NetPaid(invoice, history), s.today())
		if err != nil {
			return err
		}

		if reprice.Change != PriceUnchanged {
			invoice.Amount = newAmount
			if err := tx.SaveInvoice(ctx, &invoice); err != nil {
				return fmt.Errorf("failed to save invoice: %w", err)
			}
		}
		if reprice.Refund != nil {
			reprice.Refund.IdempotencyKey = "reprice-" + uuid.NewString()
			reprice.Refund.CreatedAt = time.Now().UTC()
			if err := tx.AppendTransfer(ctx, reprice.Refund); err != nil {
				return fmt.Errorf("failed to record refund: %w", err)
			}
		}

		result.Invoice = &invoice
		result.Reprice = &reprice
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}

	fields := []zap.Field{zap.Int64("booking_id", int64(id)), zap.Int("lessons", result.Booking.Lessons)}
	if result.Reprice != nil {
		fields = append(fields,
			zap.String("price_change", string(result.Reprice.Change)),
			zap.Stringer("delta", result.Reprice.Delta),
			zap.Bool("refunded", result.Reprice.Refund != nil))
	}
	logger(s.Logger).Info("booking edited", fields...)
	return result, nil
}

// plan resolves the term, checks the parties and computes the schedule.
// Every field problem is returned together.
func (s *BookingService) plan(ctx context.Context, tx Store, in BookingInput) (Term, Schedule, error) {
	term, err := s.resolveTerm(ctx, tx, in.TermID)
	if err != nil {
		return Term{}, Schedule{}, err
	}

	verrs, err := s.checkParties(ctx, tx, in)
	if err != nil {
		return Term{}, Schedule{}, err
	}
	if !in.Duration.Valid() {
		verrs = append(verrs, &FieldError{Field: "duration", Code: CodeInvalidChoice})
	}

	sched, err := ComputeSchedule(RecurrenceSpec{
		Weekday:   in.Weekday,
		Interval:  in.Interval,
		Duration:  in.Duration,
		Term:      term,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
	})
	if err != nil {
		fe := FieldErrors(err)
		if fe == nil {
			return Term{}, Schedule{}, err
		}
		verrs = append(verrs, fe...)
	}
	if err := verrs.orNil(); err != nil {
		return Term{}, Schedule{}, err
	}
	return term, sched, nil
}

func (s *BookingService) resolveTerm(ctx context.Context, tx Store, id TermID) (Term, error) {
	if id != 0 {
		return tx.GetTerm(ctx, id)
	}
	terms, err := tx.ListTerms(ctx)
	if err != nil {
		return Term{}, fmt.Errorf("failed to list terms: %w", err)
	}
	return DefaultTerm(s.today(), terms)
}

func (s *BookingService) checkParties(ctx context.Context, tx Store, in BookingInput) (ValidationErrors, error) {
	var verrs ValidationErrors

	client, err := tx.GetUser(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if client.Role != RoleStudent {
		verrs = append(verrs, &FieldError{Field: "client", Code: CodeWrongRole})
	}

	teacher, err := tx.GetUser(ctx, in.TeacherID)
	if err != nil {
		return nil, err
	}
	if teacher.Role != RoleTeacher {
		verrs = append(verrs, &FieldError{Field: "teacher", Code: CodeWrongRole})
	}

	if in.ChildID != nil {
		child, err := tx.GetChild(ctx, *in.ChildID)
		if err != nil {
			return nil, err
		}
		if err := checkChild(&child, in.ClientID); err != nil {
			verrs = append(verrs, FieldErrors(err)...)
		}
	}
	return verrs, nil
}

func (s *BookingService) logCreated(r BookingResult, from RequestID) {
	logger(s.Logger).Info("booking created",
		zap.Int64("booking_id", int64(r.Booking.ID)),
		zap.Int64("client_id", int64(r.Booking.ClientID)),
		zap.Int64("request_id", int64(from)),
		zap.Int("lessons", r.Booking.Lessons),
		zap.Stringer("first_date", r.Booking.FirstDate),
		zap.String("invoice_ref", r.Invoice.Reference),
		zap.Stringer("amount", r.Invoice.Amount))
}
