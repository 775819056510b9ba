/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. identify:   Caller role and user id from X-Role / X-User-ID

ROUTE GROUPS:
  /api/terms/*       Term calendar (writes: staff)
  /api/users/*       Clients, teachers, children, accounts, timetables
  /api/requests/*    Lesson requests (students), booking them (staff)
  /api/bookings/*    Booking lifecycle (writes: staff)
  /api/invoices/*    Invoice statements, payments (students)
  /api/billing       Every invoice and each student's account (staff)
  /api/scenarios/*   Demo scenarios

ROLES:
  Role checks live here and nowhere in the engine. The engine only checks
  who may be the client or teacher of a booking. Students and teachers
  reach only their own users, bookings and invoices; the handlers answer
  404 for someone else's booking or invoice.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging and role checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/impala/lesson-engine/engine"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log()))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", headerRole, headerUserID},
		AllowCredentials: true,
	}))
	r.Use(identify)

	r.Route("/api", func(r chi.Router) {
		r.Route("/terms", func(r chi.Router) {
			r.Get("/", h.ListTerms)
			r.Get("/current", h.CurrentTerms)
			r.With(staff()).Post("/", h.CreateTerm)
			r.With(staff()).Put("/{id}", h.UpdateTerm)
			r.With(staff()).Delete("/{id}", h.DeleteTerm)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(staff()).Post("/", h.CreateUser)
			r.With(staffOr(engine.RoleStudent)).Get("/{id}", h.GetUser)
			r.With(staff()).Put("/{id}", h.UpdateUser)
			r.With(staffOr(engine.RoleStudent)).Post("/{id}/children", h.CreateChild)
			r.With(staffOr(engine.RoleStudent)).Get("/{id}/account", h.GetAccount)
			r.With(staffOr(engine.RoleStudent, engine.RoleTeacher)).Get("/{id}/timetable", h.GetTimetable)
		})

		r.Route("/requests", func(r chi.Router) {
			r.With(staffOr(engine.RoleStudent)).Get("/", h.ListLessonRequests)
			r.With(requireRole(engine.RoleStudent)).Post("/", h.SubmitLessonRequest)
			r.With(requireRole(engine.RoleStudent)).Put("/{id}", h.UpdateLessonRequest)
			r.With(requireRole(engine.RoleStudent)).Delete("/{id}", h.WithdrawLessonRequest)
			r.With(staff()).Post("/{id}/booking", h.BookLessonRequest)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.With(staffOr(engine.RoleStudent, engine.RoleTeacher)).Get("/", h.ListBookings)
			r.With(staff()).Post("/", h.CreateBooking)
			r.With(staffOr(engine.RoleStudent, engine.RoleTeacher)).Get("/{id}", h.GetBooking)
			r.With(staff()).Put("/{id}", h.EditBooking)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.With(staffOr(engine.RoleStudent)).Get("/{id}", h.GetInvoice)
			r.With(requireRole(engine.RoleStudent)).Post("/{id}/payments", h.RecordPayment)
		})

		r.With(staff()).Get("/billing", h.GetBilling)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
