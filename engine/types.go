/*
Package engine provides the lesson scheduling and billing reconciliation core.

PURPOSE:
  This package turns a weekly or fortnightly lesson pattern inside a term
  into a concrete booking, prices it, and keeps the invoice ledger for that
  booking honest. Everything here is computed from values the caller passes
  in; the services at the bottom of the stack (booking.go, payment.go,
  request.go) load those values from a Store inside a single unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An exact two-place decimal amount with a currency
  - Weekday, Interval, Duration: The closed vocabularies of a lesson plan
  - Entity IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Derivation: net paid is always replayed from the transfer history
  3. Type Safety: Distinct ID types so a BookingID can't be passed as an InvoiceID
  4. Atomicity: every lifecycle write happens inside TxStore.WithTx

USAGE:
  pricer := engine.NewPricer(engine.MustMoney("30.00"))
  sched, err := engine.ComputeSchedule(engine.RecurrenceSpec{
      Weekday:  engine.Monday,
      Interval: engine.EveryWeek,
      Duration: engine.Minutes60,
      Term:     autumn,
  })
  amount := pricer.Price(sched.Lessons, engine.Minutes60)

SEE ALSO:
  - term.go: Term calendar
  - recurrence.go: Schedule computation
  - ledger.go: Net paid, payment classification, repricing
  - booking.go: Booking lifecycle orchestration
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact two-place decimal amount
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount carries.
const MoneyPlaces = 2

// DefaultCurrency is used when an amount is built without one.
const DefaultCurrency = "GBP"

type Money struct {
	Value    decimal.Decimal
	Currency string
}

// NewMoney rounds value half-up to two places.
func NewMoney(value decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Value: value.Round(MoneyPlaces), Currency: currency}
}

// ParseMoney parses a decimal string such as "12.50". Amounts finer than a
// hundredth are rejected, never rounded.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Round(MoneyPlaces)) {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, ErrAmountPrecision)
	}
	return NewMoney(d, DefaultCurrency), nil
}

// In returns the amount in currency.
func (m Money) In(currency string) Money { return Money{Value: m.Value, Currency: currency} }

// MustMoney is ParseMoney for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney(currency string) Money { return NewMoney(decimal.Zero, currency) }

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }

// String renders the amount with exactly two places, e.g. "15.00".
func (m Money) String() string { return m.Value.StringFixed(MoneyPlaces) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type ChildID int64
type TermID int64
type RequestID int64
type BookingID int64
type InvoiceID int64
type TransferID int64

// =============================================================================
// LESSON PLAN VOCABULARY
// =============================================================================

// Weekday counts from Monday, matching the booking form: 0=Monday..6=Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf converts a time.Weekday (Sunday=0) to the Monday-based scale.
func WeekdayOf(wd time.Weekday) Weekday { return Weekday((int(wd) + 6) % 7) }

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return time.Weekday((int(w) + 1) % 7).String()
}

// Interval is the number of days between two lessons of a booking.
type Interval int

const (
	EveryWeek      Interval = 7
	EveryOtherWeek Interval = 14
)

func (i Interval) Valid() bool { return i == EveryWeek || i == EveryOtherWeek }

func (i Interval) Days() int { return int(i) }

// Duration is the length of a single lesson in minutes.
type Duration int

const (
	Minutes30 Duration = 30
	Minutes45 Duration = 45
	Minutes60 Duration = 60
)

func (d Duration) Valid() bool { return d == Minutes30 || d == Minutes45 || d == Minutes60 }

func (d Duration) Minutes() int { return int(d) }
