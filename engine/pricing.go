package engine

import "github.com/shopspring/decimal"

var minutesPerHour = decimal.NewFromInt(60)

// DefaultHourlyRate is the price of one hour of tuition.
var DefaultHourlyRate = MustMoney("30.00")

// Pricer converts a lesson plan into an invoice amount.
type Pricer struct {
	HourlyRate Money
}

func NewPricer(hourlyRate Money) Pricer {
	return Pricer{HourlyRate: hourlyRate}
}

// Price is HourlyRate x lessons x minutes/60, in exact decimal arithmetic,
// rounded half-up to two places once at the end.
func (p Pricer) Price(lessons int, duration Duration) Money {
	v := p.HourlyRate.Value.
		Mul(decimal.NewFromInt(int64(lessons))).
		Mul(decimal.NewFromInt(int64(duration.Minutes()))).
		DivRound(minutesPerHour, MoneyPlaces)
	return NewMoney(v, p.HourlyRate.Currency)
}

// PriceSchedule prices a computed schedule.
func (p Pricer) PriceSchedule(s Schedule, duration Duration) Money {
	return p.Price(s.Lessons, duration)
}
