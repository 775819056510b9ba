/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates terms, staff, a client
	with a child, lesson requests, bookings and payments that demonstrate
	specific features.

AVAILABLE SCENARIOS:

	autumn-term:    Two terms, a booked request, a pending one, a part payment
	overpayment:    Client pays more than the invoice, excess refunded
	reprice-refund: Paid booking edited to fewer lessons, difference refunded

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create terms and users
 3. Submit lesson requests as the client
 4. Book lessons through the booking service (invoice issued)
 5. Optionally record payments and edit bookings

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "autumn-term"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
	Amounts follow the configured hourly rate, so payments are expressed as
	fractions of the invoice rather than fixed sums.

SEE ALSO:
  - handlers.go: Services the loaders drive
  - factory/ratecard.go: Hourly rate configuration
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "autumn-term",
		Name:        "Autumn Term",
		Description: "Weekly Monday lessons booked from a request, half the invoice paid, a second request waiting",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment",
		Description: "Client pays 25.00 more than the invoice and the excess is refunded straight away",
	},
	{
		ID:          "reprice-refund",
		Name:        "Reprice & Refund",
		Description: "Fully paid weekly booking switched to every other week, the price difference refunded",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "autumn-term":
		load = h.loadAutumnTermScenario
	case "overpayment":
		load = h.loadOverpaymentScenario
	case "reprice-refund":
		load = h.loadRepriceRefundScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log().Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadAutumnTermScenario(ctx context.Context) error {
	autumn, spring, err := h.seedTerms(ctx)
	if err != nil {
		return err
	}
	cast, err := h.seedCast(ctx)
	if err != nil {
		return err
	}

	// Weekly 30-minute piano lessons for the child, asked for and booked.
	child := cast.child.ID
	req, err := h.requests.Submit(ctx, engine.Request{
		ClientID:     cast.client.ID,
		ChildID:      &child,
		Availability: "Monday after school",
		Lessons:      7,
		Interval:     engine.EveryWeek,
		Duration:     engine.Minutes30,
		Info:         "Grade 2 piano",
	})
	if err != nil {
		return err
	}
	booked, err := h.bookings.CreateFromRequest(ctx, req.ID, engine.BookingInput{
		TeacherID: cast.teacher.ID,
		TermID:    autumn.ID,
		Weekday:   engine.Monday,
		TimeOfDay: engine.TimeOfDay{Hour: 16},
	})
	if err != nil {
		return err
	}

	// Half the invoice paid by bank transfer on the first lesson day.
	half := booked.Invoice.Amount.Value.Div(decimal.NewFromInt(2)).Round(engine.MoneyPlaces)
	if _, err := h.payments.RecordPayment(ctx, engine.PaymentInput{
		InvoiceID: booked.Invoice.ID,
		Amount:    engine.NewMoney(half, booked.Invoice.Amount.Currency),
		Date:      booked.Booking.FirstDate,
		ClientID:  cast.client.ID,
	}); err != nil {
		return err
	}

	// The client's own lessons next term, not yet booked.
	_, err = h.requests.Submit(ctx, engine.Request{
		ClientID:     cast.client.ID,
		Availability: fmt.Sprintf("Thursday evenings from %s", spring.StartDate),
		Lessons:      5,
		Interval:     engine.EveryOtherWeek,
		Duration:     engine.Minutes60,
	})
	return err
}

func (h *Handler) loadOverpaymentScenario(ctx context.Context) error {
	autumn, _, err := h.seedTerms(ctx)
	if err != nil {
		return err
	}
	cast, err := h.seedCast(ctx)
	if err != nil {
		return err
	}

	booked, err := h.bookings.Create(ctx, engine.BookingInput{
		ClientID:  cast.client.ID,
		TeacherID: cast.teacher.ID,
		TermID:    autumn.ID,
		Weekday:   engine.Wednesday,
		Interval:  engine.EveryWeek,
		Duration:  engine.Minutes45,
		TimeOfDay: engine.TimeOfDay{Hour: 17, Minute: 30},
	})
	if err != nil {
		return err
	}

	extra := engine.MustMoney("25.00")
	_, err = h.payments.RecordPayment(ctx, engine.PaymentInput{
		InvoiceID: booked.Invoice.ID,
		Amount:    booked.Invoice.Amount.Add(extra),
		Date:      booked.Booking.FirstDate,
		ClientID:  cast.client.ID,
	})
	return err
}

func (h *Handler) loadRepriceRefundScenario(ctx context.Context) error {
	autumn, _, err := h.seedTerms(ctx)
	if err != nil {
		return err
	}
	cast, err := h.seedCast(ctx)
	if err != nil {
		return err
	}

	in := engine.BookingInput{
		ClientID:  cast.client.ID,
		TeacherID: cast.teacher.ID,
		TermID:    autumn.ID,
		Weekday:   engine.Monday,
		Interval:  engine.EveryWeek,
		Duration:  engine.Minutes60,
		TimeOfDay: engine.TimeOfDay{Hour: 18},
	}
	booked, err := h.bookings.Create(ctx, in)
	if err != nil {
		return err
	}
	if _, err := h.payments.RecordPayment(ctx, engine.PaymentInput{
		InvoiceID: booked.Invoice.ID,
		Amount:    booked.Invoice.Amount,
		Date:      booked.Invoice.IssueDate,
		ClientID:  cast.client.ID,
	}); err != nil {
		return err
	}

	in.Interval = engine.EveryOtherWeek
	_, err = h.bookings.Edit(ctx, booked.Booking.ID, in)
	return err
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedTerms creates the 2022/23 autumn and spring terms.
func (h *Handler) seedTerms(ctx context.Context) (autumn, spring engine.Term, err error) {
	autumn, err = h.terms.Save(ctx, engine.Term{
		Name:      "Autumn 2022",
		StartDate: engine.NewDate(2022, 9, 1),
		EndDate:   engine.NewDate(2022, 10, 21),
	})
	if err != nil {
		return autumn, spring, err
	}
	spring, err = h.terms.Save(ctx, engine.Term{
		Name:      "Spring 2023",
		StartDate: engine.NewDate(2023, 1, 4),
		EndDate:   engine.NewDate(2023, 3, 31),
	})
	return autumn, spring, err
}

type seededCast struct {
	admin   engine.User
	teacher engine.User
	client  engine.User
	child   engine.Child
}

// seedCast creates an admin, a teacher and a client with one child.
func (h *Handler) seedCast(ctx context.Context) (seededCast, error) {
	c := seededCast{
		admin:   engine.User{FirstName: "Ada", LastName: "Office", Email: "office@example.com", Role: engine.RoleAdmin},
		teacher: engine.User{FirstName: "Clara", LastName: "Keys", Email: "clara@example.com", Role: engine.RoleTeacher},
		client:  engine.User{FirstName: "Sam", LastName: "Parent", Email: "sam@example.com", Role: engine.RoleStudent},
	}
	for _, u := range []*engine.User{&c.admin, &c.teacher, &c.client} {
		if err := h.Store.SaveUser(ctx, u); err != nil {
			return c, err
		}
	}
	c.child = engine.Child{FirstName: "Robin", LastName: "Parent", ParentID: c.client.ID}
	if err := h.Store.SaveChild(ctx, &c.child); err != nil {
		return c, err
	}
	return c, nil
}
