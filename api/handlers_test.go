/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Role checks on staff and student routes
- Term calendar, field errors with 422
- Booking, payment and refund flow end to end on SQLite
- Lesson request lifecycle
- Timetable, account and billing views
- Read access to other users' records
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impala/lesson-engine/engine"
	"github.com/impala/lesson-engine/store/sqlite"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type testServer struct {
	t      *testing.T
	router http.Handler

	client  actor
	teacher engine.UserID
	term    TermDTO
}

var asAdmin = actor{Role: engine.RoleAdmin}

// newTestServer serves a fresh in-memory database with one autumn term,
// a teacher and a client, on 2022-08-20 at 30.00 GBP an hour.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, engine.NewPricer(engine.MustMoney("30.00")), nil)
	h.Clock = func() engine.Date { return engine.NewDate(2022, time.August, 20) }
	s := &testServer{t: t, router: NewRouter(h)}

	rec := s.do(http.MethodPost, "/api/terms", asAdmin, TermRequest{Name: "Autumn 2022", StartDate: "2022-09-01", EndDate: "2022-10-21"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &s.term)

	s.teacher = s.createUser("teacher")
	s.client = actor{Role: engine.RoleStudent, UserID: s.createUser("student")}
	return s
}

func (s *testServer) do(method, path string, as actor, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as.Role != "" {
		req.Header.Set(headerRole, string(as.Role))
	}
	if as.UserID != 0 {
		req.Header.Set(headerUserID, strconv.FormatInt(int64(as.UserID), 10))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createUser(role string) engine.UserID {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/users", asAdmin, CreateUserRequest{FirstName: "Test", LastName: role, Role: role})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var u UserDTO
	decode(s.t, rec, &u)
	return engine.UserID(u.ID)
}

// book creates weekly hour-long Monday lessons at 16:00 for the client.
func (s *testServer) book() BookingResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, s.mondayBooking())
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp BookingResponse
	decode(s.t, rec, &resp)
	return resp
}

func (s *testServer) mondayBooking() map[string]any {
	return map[string]any{
		"client_id":            s.client.UserID,
		"teacher_id":           s.teacher,
		"term_id":              s.term.ID,
		"day_of_week":          0,
		"days_between_lessons": 7,
		"duration":             60,
		"time":                 "16:00",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func fieldCodes(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	codes := make(map[string]string, len(resp.Fields))
	for _, f := range resp.Fields {
		codes[f.Field] = f.Code
	}
	return codes
}

// =============================================================================
// ROLES
// =============================================================================

func TestRoles(t *testing.T) {
	s := newTestServer(t)
	term := TermRequest{Name: "Spring 2023", StartDate: "2023-01-04", EndDate: "2023-03-31"}

	tests := []struct {
		name   string
		method string
		path   string
		as     actor
		body   any
		want   int
	}{
		{"no role", http.MethodPost, "/api/terms", actor{}, term, http.StatusUnauthorized},
		{"unknown role", http.MethodPost, "/api/terms", actor{Role: "janitor"}, term, http.StatusUnauthorized},
		{"student on staff route", http.MethodPost, "/api/terms", s.client, term, http.StatusForbidden},
		{"teacher on staff route", http.MethodPost, "/api/bookings", actor{Role: engine.RoleTeacher}, s.mondayBooking(), http.StatusForbidden},
		{"staff on student route", http.MethodPost, "/api/requests", asAdmin, LessonRequestRequest{}, http.StatusForbidden},
		{"student without id", http.MethodPost, "/api/invoices/1/payments", actor{Role: engine.RoleStudent}, PaymentRequest{Amount: "10"}, http.StatusUnauthorized},
		{"term calendar is open", http.MethodGet, "/api/terms", actor{}, nil, http.StatusOK},
		{"anonymous invoice", http.MethodGet, "/api/invoices/1", actor{}, nil, http.StatusUnauthorized},
		{"anonymous account", http.MethodGet, "/api/users/1/account", actor{}, nil, http.StatusUnauthorized},
		{"teacher without id", http.MethodGet, "/api/users/1/timetable", actor{Role: engine.RoleTeacher}, nil, http.StatusUnauthorized},
		{"teacher on billing", http.MethodGet, "/api/billing", actor{Role: engine.RoleTeacher, UserID: s.teacher}, nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestIdentify_BadUserID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/terms", nil)
	req.Header.Set(headerUserID, "abc")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", actor{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// TERMS
// =============================================================================

func TestTerms_OverlapRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/terms", asAdmin, TermRequest{Name: "Half term club", StartDate: "2022-10-17", EndDate: "2022-10-28"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, FieldErrorDTO{Field: "start_date", Code: "overlaps", Conflict: "Autumn 2022"}, resp.Fields[0])
}

func TestTerms_BadDateLayout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/terms", asAdmin, TermRequest{Name: "Spring", StartDate: "04/01/2023", EndDate: "2023-03-31"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "datetime", fieldCodes(t, rec)["start_date"])
}

func TestTerms_Current(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/terms/current", actor{}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CurrentTermsDTO
	decode(t, rec, &resp)
	assert.Equal(t, "2022-08-20", resp.Today)
	assert.Nil(t, resp.Current)
	require.NotNil(t, resp.Next)
	assert.Equal(t, s.term, *resp.Next)
	assert.Equal(t, resp.Next, resp.Default)
}

func TestTerms_UpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/terms/%d", s.term.ID)

	rec := s.do(http.MethodPut, path, asAdmin, TermRequest{Name: "Autumn 2022", StartDate: "2022-09-05", EndDate: "2022-12-16"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var term TermDTO
	decode(t, rec, &term)
	assert.Equal(t, "2022-09-05", term.StartDate)

	rec = s.do(http.MethodDelete, path, asAdmin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodDelete, path, asAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestCreateBooking(t *testing.T) {
	s := newTestServer(t)

	resp := s.book()

	assert.Equal(t, int64(s.client.UserID), resp.Booking.ClientID)
	assert.Equal(t, []string{"2022-09-05", "2022-09-12", "2022-09-19", "2022-09-26", "2022-10-03", "2022-10-10", "2022-10-17"}, resp.Booking.Dates)
	assert.Equal(t, "Monday", resp.Booking.DayOfWeek)
	assert.Equal(t, "16:00", resp.Booking.Time)
	assert.Equal(t, "210.00", resp.Invoice.Amount)
	assert.Equal(t, "GBP", resp.Invoice.Currency)
	assert.Equal(t, "unpaid", resp.Invoice.Status)
	assert.Equal(t, "2022-09-05", resp.Invoice.DueDate)
	assert.Equal(t, s.term, resp.Term)
}

func TestCreateBooking_FieldErrorsTogether(t *testing.T) {
	s := newTestServer(t)
	body := s.mondayBooking()
	body["start_date"] = "2022-09-06" // a Tuesday
	body["duration"] = 50

	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{
		"start_date": "weekday_mismatch",
		"duration":   "invalid_choice",
	}, fieldCodes(t, rec))
}

func TestCreateBooking_MissingClient(t *testing.T) {
	s := newTestServer(t)
	body := s.mondayBooking()
	delete(body, "client_id")

	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, map[string]string{"client_id": "missing_field"}, fieldCodes(t, rec))
}

func TestCreateBooking_MissingTime(t *testing.T) {
	s := newTestServer(t)
	body := s.mondayBooking()
	delete(body, "time")

	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "required", fieldCodes(t, rec)["time"])
}

func TestCreateBooking_UnknownTeacher(t *testing.T) {
	s := newTestServer(t)
	body := s.mondayBooking()
	body["teacher_id"] = 999

	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBooking(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()

	rec := s.do(http.MethodGet, fmt.Sprintf("/api/bookings/%d", booked.Booking.ID), s.client, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BookingDetailDTO
	decode(t, rec, &resp)
	assert.Equal(t, booked.Booking, resp.Booking)
	require.NotNil(t, resp.Invoice)
	assert.Equal(t, booked.Invoice.ID, resp.Invoice.ID)

	rec = s.do(http.MethodGet, "/api/bookings/999", asAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/bookings/abc", asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadAccess_OwnRecordsOnly(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	other := actor{Role: engine.RoleStudent, UserID: s.createUser("student")}
	teacher := actor{Role: engine.RoleTeacher, UserID: s.teacher}
	otherTeacher := actor{Role: engine.RoleTeacher, UserID: s.createUser("teacher")}
	booking := fmt.Sprintf("/api/bookings/%d", booked.Booking.ID)
	invoice := fmt.Sprintf("/api/invoices/%d", booked.Invoice.ID)
	user := fmt.Sprintf("/api/users/%d", s.client.UserID)

	tests := []struct {
		name string
		path string
		as   actor
		want int
	}{
		{"owner reads invoice", invoice, s.client, http.StatusOK},
		{"other student reads invoice", invoice, other, http.StatusNotFound},
		{"anonymous reads invoice", invoice, actor{}, http.StatusUnauthorized},
		{"teacher reads invoice", invoice, teacher, http.StatusForbidden},
		{"owner reads booking", booking, s.client, http.StatusOK},
		{"other student reads booking", booking, other, http.StatusNotFound},
		{"anonymous reads booking", booking, actor{}, http.StatusUnauthorized},
		{"teacher reads own lesson booking", booking, teacher, http.StatusOK},
		{"other teacher reads booking", booking, otherTeacher, http.StatusNotFound},
		{"staff read booking", booking, asAdmin, http.StatusOK},
		{"other student reads user", user, other, http.StatusForbidden},
		{"other student reads account", user + "/account", other, http.StatusForbidden},
		{"anonymous reads account", user + "/account", actor{}, http.StatusUnauthorized},
		{"other student reads timetable", user + "/timetable", other, http.StatusForbidden},
		{"teacher reads client's timetable", user + "/timetable", teacher, http.StatusForbidden},
		{"staff read account", user + "/account", asAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, tt.path, tt.as, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListBookings(t *testing.T) {
	s := newTestServer(t)
	mine := s.book()
	other := actor{Role: engine.RoleStudent, UserID: s.createUser("student")}
	body := s.mondayBooking()
	body["client_id"] = other.UserID
	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list := func(as actor, query string) []BookingDTO {
		t.Helper()
		rec := s.do(http.MethodGet, "/api/bookings"+query, as, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var dtos []BookingDTO
		decode(t, rec, &dtos)
		return dtos
	}

	own := list(s.client, "")
	require.Len(t, own, 1)
	assert.Equal(t, mine.Booking.ID, own[0].ID)
	assert.Len(t, list(other, "?client_id="+strconv.FormatInt(int64(s.client.UserID), 10)), 1, "students cannot widen the filter")
	assert.Len(t, list(actor{Role: engine.RoleTeacher, UserID: s.teacher}, ""), 2)
	assert.Len(t, list(asAdmin, ""), 2)

	filtered := list(asAdmin, fmt.Sprintf("?client_id=%d", other.UserID))
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(other.UserID), filtered[0].ClientID)

	rec = s.do(http.MethodGet, "/api/bookings?client_id=abc", asAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditBooking_RefundsOnDecrease(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	rec := s.do(http.MethodPost, fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID), s.client, PaymentRequest{Amount: "210.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := s.mondayBooking()
	body["days_between_lessons"] = 14
	rec = s.do(http.MethodPut, fmt.Sprintf("/api/bookings/%d", booked.Booking.ID), asAdmin, body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp EditBookingResponse
	decode(t, rec, &resp)
	assert.Equal(t, []string{"2022-09-05", "2022-09-19", "2022-10-03", "2022-10-17"}, resp.Booking.Dates)
	require.NotNil(t, resp.Reprice)
	assert.Equal(t, "decreased", resp.Reprice.Change)
	assert.Equal(t, "90.00", resp.Reprice.Delta)
	require.NotNil(t, resp.Reprice.Refund)
	assert.Equal(t, "90.00", resp.Reprice.Refund.Amount)
	require.NotNil(t, resp.Invoice)
	assert.Equal(t, "120.00", resp.Invoice.Amount)
	assert.Equal(t, "120.00", resp.Invoice.NetPaid)
	assert.Equal(t, "fully_paid", resp.Invoice.Status)
	assert.Len(t, resp.Invoice.Transfers, 2)
}

func TestEditBooking_IncreaseIsNotCharged(t *testing.T) {
	s := newTestServer(t)
	body := s.mondayBooking()
	body["days_between_lessons"] = 14
	rec := s.do(http.MethodPost, "/api/bookings", asAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booked BookingResponse
	decode(t, rec, &booked)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/bookings/%d", booked.Booking.ID), asAdmin, s.mondayBooking())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp EditBookingResponse
	decode(t, rec, &resp)
	assert.Equal(t, "increased", resp.Reprice.Change)
	assert.Nil(t, resp.Reprice.Refund)
	assert.Equal(t, "210.00", resp.Invoice.Amount)
	assert.Equal(t, "unpaid", resp.Invoice.Status)
	assert.Empty(t, resp.Invoice.Transfers)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRecordPayment_OverpaymentRefunded(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	path := fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID)

	rec := s.do(http.MethodPost, path, s.client, PaymentRequest{Amount: "250.00", Date: "2022-09-01", IdempotencyKey: "bank-1"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp PaymentResponse
	decode(t, rec, &resp)
	assert.Equal(t, "overpaid", resp.Outcome)
	assert.Equal(t, "40.00", resp.Excess)
	assert.Equal(t, "210.00", resp.NetPaid)
	assert.Equal(t, "bank-1", resp.Payment.IdempotencyKey)
	assert.Equal(t, "2022-09-01", resp.Payment.Date)
	require.NotNil(t, resp.Refund)
	assert.Equal(t, "40.00", resp.Refund.Amount)
	assert.True(t, resp.Refund.Refund)

	// Replaying the same bank transfer is rejected and changes nothing.
	rec = s.do(http.MethodPost, path, s.client, PaymentRequest{Amount: "250.00", IdempotencyKey: "bank-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d", booked.Invoice.ID), s.client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inv InvoiceDTO
	decode(t, rec, &inv)
	assert.Equal(t, "fully_paid", inv.Status)
	assert.Equal(t, "0.00", inv.Outstanding)
	assert.Len(t, inv.Transfers, 2)
}

func TestRecordPayment_KeyFromHeader(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	path := fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID)

	pay := func() *httptest.ResponseRecorder {
		body, err := json.Marshal(PaymentRequest{Amount: "50.00"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(headerRole, string(engine.RoleStudent))
		req.Header.Set(headerUserID, strconv.FormatInt(int64(s.client.UserID), 10))
		req.Header.Set("Idempotency-Key", "form-submit-7")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec := pay()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp PaymentResponse
	decode(t, rec, &resp)
	assert.Equal(t, "underpaid", resp.Outcome)
	assert.Equal(t, "160.00", resp.Remaining)
	assert.Equal(t, "form-submit-7", resp.Payment.IdempotencyKey)

	assert.Equal(t, http.StatusConflict, pay().Code)
}

func TestRecordPayment_Rejected(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	other := actor{Role: engine.RoleStudent, UserID: s.createUser("student")}
	path := fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID)

	tests := []struct {
		name string
		path string
		as   actor
		body PaymentRequest
		want int
	}{
		{"another client's invoice", path, other, PaymentRequest{Amount: "10.00"}, http.StatusNotFound},
		{"unknown invoice", "/api/invoices/999/payments", s.client, PaymentRequest{Amount: "10.00"}, http.StatusNotFound},
		{"zero amount", path, s.client, PaymentRequest{Amount: "0"}, http.StatusBadRequest},
		{"negative amount", path, s.client, PaymentRequest{Amount: "-5.00"}, http.StatusBadRequest},
		{"not a number", path, s.client, PaymentRequest{Amount: "ten"}, http.StatusBadRequest},
		{"fraction of a penny", path, s.client, PaymentRequest{Amount: "10.005"}, http.StatusBadRequest},
		{"missing amount", path, s.client, PaymentRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d", booked.Invoice.ID), asAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inv InvoiceDTO
	decode(t, rec, &inv)
	assert.Empty(t, inv.Transfers)
}

// =============================================================================
// LESSON REQUESTS
// =============================================================================

func TestLessonRequests_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	other := actor{Role: engine.RoleStudent, UserID: s.createUser("student")}

	rec := s.do(http.MethodPost, "/api/requests", s.client, LessonRequestRequest{
		Availability:       "Mondays after 4pm",
		Lessons:            7,
		DaysBetweenLessons: 7,
		Duration:           30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var lr LessonRequestDTO
	decode(t, rec, &lr)
	assert.Equal(t, int64(s.client.UserID), lr.ClientID)
	assert.False(t, lr.Fulfilled)
	path := fmt.Sprintf("/api/requests/%d", lr.ID)

	rec = s.do(http.MethodPut, path, other, LessonRequestRequest{Availability: "Any", Lessons: 1, DaysBetweenLessons: 7, Duration: 30})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/requests", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []LessonRequestDTO
	decode(t, rec, &mine)
	assert.Empty(t, mine)

	// Interval and duration come from the request.
	rec = s.do(http.MethodPost, path+"/booking", asAdmin, map[string]any{
		"teacher_id":  s.teacher,
		"day_of_week": 0,
		"time":        "16:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booked BookingResponse
	decode(t, rec, &booked)
	assert.Equal(t, int64(s.client.UserID), booked.Booking.ClientID)
	assert.Equal(t, 30, booked.Booking.Duration)
	assert.Equal(t, "105.00", booked.Invoice.Amount)

	rec = s.do(http.MethodPost, path+"/booking", asAdmin, map[string]any{
		"teacher_id":  s.teacher,
		"day_of_week": 0,
		"time":        "16:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodDelete, path, s.client, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/requests?fulfilled=true", asAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fulfilled []LessonRequestDTO
	decode(t, rec, &fulfilled)
	require.Len(t, fulfilled, 1)
	assert.True(t, fulfilled[0].Fulfilled)
}

func TestLessonRequests_InvalidFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/requests", s.client, LessonRequestRequest{Lessons: 0, DaysBetweenLessons: 10, Duration: 30})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, map[string]string{
		"lessons":              "invalid_choice",
		"days_between_lessons": "invalid_choice",
		"availability":         "missing_field",
	}, fieldCodes(t, rec))
}

// =============================================================================
// ACCOUNT & TIMETABLE
// =============================================================================

func TestGetAccount(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	rec := s.do(http.MethodPost, fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID), s.client, PaymentRequest{Amount: "250.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	s.book()

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/users/%d/account", s.client.UserID), s.client, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acct AccountDTO
	decode(t, rec, &acct)
	assert.Equal(t, "420.00", acct.Invoiced)
	assert.Equal(t, "250.00", acct.Paid)
	assert.Equal(t, "40.00", acct.Refunded)
	assert.Equal(t, "210.00", acct.NetPaid)
	assert.Equal(t, "210.00", acct.Owed)
	assert.Len(t, acct.Invoices, 2)
}

func TestGetTimetable(t *testing.T) {
	s := newTestServer(t)
	s.book()

	teacher := actor{Role: engine.RoleTeacher, UserID: s.teacher}
	for _, as := range []actor{s.client, teacher} {
		rec := s.do(http.MethodGet, fmt.Sprintf("/api/users/%d/timetable?from=2022-09-01&to=2022-09-30", as.UserID), as, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var tt TimetableDTO
		decode(t, rec, &tt)
		require.Len(t, tt.Days, 4)
		assert.Equal(t, "2022-09-05", tt.Days[0].Date)
		assert.Equal(t, LessonDTO{BookingID: tt.Days[0].Lessons[0].BookingID, Number: 1, Start: "16:00", End: "17:00"}, tt.Days[0].Lessons[0])
		assert.Equal(t, 4, tt.Days[3].Lessons[0].Number)
	}

	// Defaults to the current month, which has no lessons.
	rec := s.do(http.MethodGet, fmt.Sprintf("/api/users/%d/timetable", s.client.UserID), asAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tt TimetableDTO
	decode(t, rec, &tt)
	assert.Equal(t, "2022-08-01", tt.From)
	assert.Equal(t, "2022-08-31", tt.To)
	assert.Empty(t, tt.Days)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/users/%d/timetable?from=2022-09-30&to=2022-09-01", s.client.UserID), s.client, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, map[string]string{"to": "end_before_start"}, fieldCodes(t, rec))
}

func TestGetBilling(t *testing.T) {
	s := newTestServer(t)
	booked := s.book()
	rec := s.do(http.MethodPost, fmt.Sprintf("/api/invoices/%d/payments", booked.Invoice.ID), s.client, PaymentRequest{Amount: "250.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	other := s.createUser("student")
	body := s.mondayBooking()
	body["client_id"] = other
	rec = s.do(http.MethodPost, "/api/bookings", asAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/billing", asAdmin, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var billing BillingDTO
	decode(t, rec, &billing)
	assert.Equal(t, "GBP", billing.Currency)
	assert.Equal(t, SummaryDTO{Invoiced: "420.00", Paid: "250.00", Refunded: "40.00", NetPaid: "210.00", Owed: "210.00"}, billing.SummaryDTO)
	assert.Len(t, billing.Invoices, 2)
	require.Len(t, billing.Clients, 2)
	assert.Equal(t, int64(s.client.UserID), billing.Clients[0].UserID)
	assert.Equal(t, "0.00", billing.Clients[0].Owed)
	assert.Equal(t, int64(other), billing.Clients[1].UserID)
	assert.Equal(t, "210.00", billing.Clients[1].Owed)

	rec = s.do(http.MethodGet, "/api/billing", s.client, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateUser(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/users/%d", s.teacher)
	edit := UpdateUserRequest{FirstName: "Clara", LastName: "Keys", Email: "clara@example.com", Role: "admin"}

	rec := s.do(http.MethodPut, path, asAdmin, edit)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var u UserDTO
	decode(t, rec, &u)
	assert.Equal(t, int64(s.teacher), u.ID)
	assert.Equal(t, "Clara", u.FirstName)
	assert.Equal(t, "admin", u.Role)

	rec = s.do(http.MethodGet, path, asAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &u)
	assert.Equal(t, "clara@example.com", u.Email)

	rec = s.do(http.MethodPut, path, asAdmin, UpdateUserRequest{FirstName: "Clara", LastName: "Keys", Role: "janitor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "oneof", fieldCodes(t, rec)["role"])

	rec = s.do(http.MethodPut, "/api/users/999", asAdmin, edit)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/users/%d", s.client.UserID), s.client, edit)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateChild_OwnOnly(t *testing.T) {
	s := newTestServer(t)
	other := actor{Role: engine.RoleStudent, UserID: s.createUser("student")}
	path := fmt.Sprintf("/api/users/%d/children", s.client.UserID)

	rec := s.do(http.MethodPost, path, other, CreateChildRequest{FirstName: "Alice", LastName: "Doe"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, path, s.client, CreateChildRequest{FirstName: "Alice", LastName: "Doe"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/users/%d", s.client.UserID), s.client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var u UserDTO
	decode(t, rec, &u)
	require.Len(t, u.Children, 1)
	assert.Equal(t, "Alice", u.Children[0].FirstName)
}
