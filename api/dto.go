/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts travel as
  decimal strings ("210.00"), dates as "YYYY-MM-DD" and times of day as
  "HH:MM".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags for shape and format
  (required fields, date layouts, numeric amounts). Business rules such as
  term overlap or a start date on the wrong weekday are left to the engine,
  which reports them as field errors.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/errors.go: Field error codes surfaced in ErrorResponse
*/
package api

import (
	"sort"
	"time"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

type FieldErrorDTO struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Conflict string `json:"conflict,omitempty"`
}

// =============================================================================
// TERMS
// =============================================================================

type TermDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type TermRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// CurrentTermsDTO answers "which term is it?" for booking forms.
type CurrentTermsDTO struct {
	Today   string   `json:"today"`
	Current *TermDTO `json:"current"`
	Next    *TermDTO `json:"next"`
	// Default is the term a new booking falls in when none is chosen.
	Default *TermDTO `json:"default"`
}

func toTermDTO(t engine.Term) TermDTO {
	return TermDTO{
		ID:        int64(t.ID),
		Name:      t.Name,
		StartDate: t.StartDate.String(),
		EndDate:   t.EndDate.String(),
	}
}

func toTermDTOPtr(t *engine.Term) *TermDTO {
	if t == nil {
		return nil
	}
	dto := toTermDTO(*t)
	return &dto
}

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID        int64      `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role"`
	Children  []ChildDTO `json:"children,omitempty"`
}

type CreateUserRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Role      string `json:"role" validate:"required,oneof=director super_admin admin teacher student"`
}

// UpdateUserRequest replaces a user's names, email and role.
type UpdateUserRequest CreateUserRequest

type ChildDTO struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ParentID  int64  `json:"parent_id"`
}

type CreateChildRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

func toUserDTO(u engine.User, children []engine.Child) UserDTO {
	dto := UserDTO{
		ID:        int64(u.ID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      string(u.Role),
	}
	for _, c := range children {
		dto.Children = append(dto.Children, toChildDTO(c))
	}
	return dto
}

func toChildDTO(c engine.Child) ChildDTO {
	return ChildDTO{ID: int64(c.ID), FirstName: c.FirstName, LastName: c.LastName, ParentID: int64(c.ParentID)}
}

// =============================================================================
// LESSON REQUESTS
// =============================================================================

type LessonRequestDTO struct {
	ID                 int64  `json:"id"`
	ClientID           int64  `json:"client_id"`
	ChildID            *int64 `json:"child_id,omitempty"`
	Availability       string `json:"availability"`
	Lessons            int    `json:"lessons"`
	DaysBetweenLessons int    `json:"days_between_lessons"`
	Duration           int    `json:"duration"`
	Info               string `json:"info,omitempty"`
	Fulfilled          bool   `json:"fulfilled"`
	CreatedAt          string `json:"created_at"`
}

type LessonRequestRequest struct {
	ChildID            *int64 `json:"child_id"`
	Availability       string `json:"availability" validate:"max=500"`
	Lessons            int    `json:"lessons"`
	DaysBetweenLessons int    `json:"days_between_lessons"`
	Duration           int    `json:"duration"`
	Info               string `json:"info" validate:"max=2000"`
}

func toLessonRequestDTO(r engine.Request) LessonRequestDTO {
	return LessonRequestDTO{
		ID:                 int64(r.ID),
		ClientID:           int64(r.ClientID),
		ChildID:            childIDPtr(r.ChildID),
		Availability:       r.Availability,
		Lessons:            r.Lessons,
		DaysBetweenLessons: int(r.Interval),
		Duration:           int(r.Duration),
		Info:               r.Info,
		Fulfilled:          r.Fulfilled,
		CreatedAt:          r.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID                 int64    `json:"id"`
	ClientID           int64    `json:"client_id"`
	TeacherID          int64    `json:"teacher_id"`
	ChildID            *int64   `json:"child_id,omitempty"`
	Lessons            int      `json:"lessons"`
	DaysBetweenLessons int      `json:"days_between_lessons"`
	Duration           int      `json:"duration"`
	DayOfWeek          string   `json:"day_of_week"`
	FirstDate          string   `json:"first_date"`
	Time               string   `json:"time"`
	Dates              []string `json:"dates"`
}

// BookingRequest is the booking form. ClientID is ignored when booking
// from a lesson request or editing. Interval and duration default to the
// lesson request's when booking from one; an edit that omits them, or the
// child, keeps the booking's.
type BookingRequest struct {
	ClientID           int64   `json:"client_id"`
	TeacherID          int64   `json:"teacher_id" validate:"required"`
	ChildID            *int64  `json:"child_id"`
	TermID             int64   `json:"term_id"`
	DayOfWeek          *int    `json:"day_of_week" validate:"required"`
	DaysBetweenLessons int     `json:"days_between_lessons"`
	Duration           int     `json:"duration"`
	StartDate          *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate            *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Time               string  `json:"time" validate:"required,datetime=15:04"`
}

type BookingResponse struct {
	Booking BookingDTO `json:"booking"`
	Invoice InvoiceDTO `json:"invoice"`
	Term    TermDTO    `json:"term"`
}

// BookingDetailDTO is a booking with its invoice, if it has one.
type BookingDetailDTO struct {
	Booking BookingDTO  `json:"booking"`
	Invoice *InvoiceDTO `json:"invoice,omitempty"`
}

type EditBookingResponse struct {
	Booking BookingDTO  `json:"booking"`
	Term    TermDTO     `json:"term"`
	Invoice *InvoiceDTO `json:"invoice,omitempty"`
	Reprice *RepriceDTO `json:"reprice,omitempty"`
}

type RepriceDTO struct {
	OldAmount string       `json:"old_amount"`
	NewAmount string       `json:"new_amount"`
	Change    string       `json:"change"`
	Delta     string       `json:"delta"`
	NetPaid   string       `json:"net_paid"`
	Refund    *TransferDTO `json:"refund,omitempty"`
}

func toBookingDTO(b engine.Booking) BookingDTO {
	dates := b.Dates()
	dto := BookingDTO{
		ID:                 int64(b.ID),
		ClientID:           int64(b.ClientID),
		TeacherID:          int64(b.TeacherID),
		ChildID:            childIDPtr(b.ChildID),
		Lessons:            b.Lessons,
		DaysBetweenLessons: int(b.Interval),
		Duration:           int(b.Duration),
		DayOfWeek:          b.DayOfWeek().String(),
		FirstDate:          b.FirstDate.String(),
		Time:               b.TimeOfDay.String(),
		Dates:              make([]string, len(dates)),
	}
	for i, d := range dates {
		dto.Dates[i] = d.String()
	}
	return dto
}

func toRepriceDTO(r engine.RepriceResult) *RepriceDTO {
	return &RepriceDTO{
		OldAmount: r.OldAmount.String(),
		NewAmount: r.NewAmount.String(),
		Change:    string(r.Change),
		Delta:     r.Delta.String(),
		NetPaid:   r.NetPaid.String(),
		Refund:    toTransferDTOPtr(r.Refund),
	}
}

// =============================================================================
// INVOICES & PAYMENTS
// =============================================================================

type InvoiceDTO struct {
	ID          int64         `json:"id"`
	BookingID   int64         `json:"booking_id"`
	Reference   string        `json:"reference"`
	IssueDate   string        `json:"issue_date"`
	DueDate     string        `json:"due_date"`
	Amount      string        `json:"amount"`
	Currency    string        `json:"currency"`
	NetPaid     string        `json:"net_paid"`
	Outstanding string        `json:"outstanding"`
	Status      string        `json:"status"`
	Transfers   []TransferDTO `json:"transfers"`
}

type TransferDTO struct {
	ID             int64  `json:"id,omitempty"`
	Amount         string `json:"amount"`
	Date           string `json:"date"`
	Refund         bool   `json:"refund"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PaymentRequest records money a client has sent. The idempotency key may
// also be given in the Idempotency-Key header.
type PaymentRequest struct {
	Amount         string `json:"amount" validate:"required,numeric"`
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type PaymentResponse struct {
	Outcome   string       `json:"outcome"`
	Remaining string       `json:"remaining"`
	Excess    string       `json:"excess"`
	NetPaid   string       `json:"net_paid"`
	Payment   TransferDTO  `json:"payment"`
	Refund    *TransferDTO `json:"refund,omitempty"`
}

func toInvoiceDTO(inv engine.Invoice, history []engine.Transfer) InvoiceDTO {
	dto := InvoiceDTO{
		ID:          int64(inv.ID),
		BookingID:   int64(inv.BookingID),
		Reference:   inv.Reference,
		IssueDate:   inv.IssueDate.String(),
		DueDate:     inv.DueDate.String(),
		Amount:      inv.Amount.String(),
		Currency:    inv.Amount.Currency,
		NetPaid:     engine.NetPaid(inv, history).String(),
		Outstanding: engine.Outstanding(inv, history).String(),
		Status:      string(engine.StatusOf(inv, history)),
		Transfers:   []TransferDTO{},
	}
	for _, t := range history {
		if t.InvoiceID == inv.ID {
			dto.Transfers = append(dto.Transfers, toTransferDTO(t))
		}
	}
	return dto
}

func toTransferDTO(t engine.Transfer) TransferDTO {
	return TransferDTO{
		ID:             int64(t.ID),
		Amount:         t.Amount.String(),
		Date:           t.Date.String(),
		Refund:         t.Refund,
		IdempotencyKey: t.IdempotencyKey,
	}
}

func toTransferDTOPtr(t *engine.Transfer) *TransferDTO {
	if t == nil {
		return nil
	}
	dto := toTransferDTO(*t)
	return &dto
}

func toPaymentResponse(r engine.PaymentResult) PaymentResponse {
	return PaymentResponse{
		Outcome:   string(r.Outcome),
		Remaining: r.Remaining.String(),
		Excess:    r.Excess.String(),
		NetPaid:   r.NetPaid.String(),
		Payment:   toTransferDTO(r.Payment),
		Refund:    toTransferDTOPtr(r.Refund),
	}
}

// =============================================================================
// ACCOUNT & TIMETABLE
// =============================================================================

// SummaryDTO is an engine.AccountSummary. Negative owed means in credit.
type SummaryDTO struct {
	Invoiced string `json:"invoiced"`
	Paid     string `json:"paid"`
	Refunded string `json:"refunded"`
	NetPaid  string `json:"net_paid"`
	Owed     string `json:"owed"`
}

type AccountDTO struct {
	UserID   int64  `json:"user_id"`
	Currency string `json:"currency"`
	SummaryDTO
	Invoices []InvoiceDTO `json:"invoices"`
}

type ClientBalanceDTO struct {
	UserID int64 `json:"user_id"`
	SummaryDTO
}

// BillingDTO is the office view: totals over every invoice, each client's
// balance, and the invoices themselves.
type BillingDTO struct {
	Currency string `json:"currency"`
	SummaryDTO
	Clients  []ClientBalanceDTO `json:"clients"`
	Invoices []InvoiceDTO       `json:"invoices"`
}

func toSummaryDTO(sum engine.AccountSummary) SummaryDTO {
	return SummaryDTO{
		Invoiced: sum.Invoiced.String(),
		Paid:     sum.Paid.String(),
		Refunded: sum.Refunded.String(),
		NetPaid:  sum.NetPaid.String(),
		Owed:     sum.Owed.String(),
	}
}

func toInvoiceDTOs(invoices []engine.Invoice, transfers []engine.Transfer) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv, transfers)
	}
	return dtos
}

type LessonDTO struct {
	BookingID int64  `json:"booking_id"`
	Number    int    `json:"number"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type TimetableDayDTO struct {
	Date    string      `json:"date"`
	Lessons []LessonDTO `json:"lessons"`
}

type TimetableDTO struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []TimetableDayDTO `json:"days"`
}

func toTimetableDTO(p engine.Period, lessons []engine.Lesson) TimetableDTO {
	dto := TimetableDTO{From: p.Start.String(), To: p.End.String(), Days: []TimetableDayDTO{}}
	byDate := engine.LessonsByDate(lessons)

	dates := make([]engine.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, d := range dates {
		day := TimetableDayDTO{Date: d.String()}
		for _, l := range byDate[d] {
			day.Lessons = append(day.Lessons, LessonDTO{
				BookingID: int64(l.BookingID),
				Number:    l.Number,
				Start:     l.Start.String(),
				End:       l.End.String(),
			})
		}
		dto.Days = append(dto.Days, day)
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func childIDPtr(id *engine.ChildID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}
