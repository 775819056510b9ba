/*
Package factory provides JSON to Go rate card conversion.

PURPOSE:
  Converts a JSON rate card into an engine.Pricer. The lesson rate is
  configuration, not code: an administrator changes the hourly rate or the
  currency by editing the card.

JSON SCHEMA:
  {
    "currency": "GBP",
    "hourly_rate": "30.00"
  }

  hourly_rate is a decimal string so the rate is never a float. An empty
  currency defaults to GBP and a missing rate to 30.00 per hour.

USAGE:
  f := factory.NewRateCardFactory()

  pricer, err := f.ParseRateCard(`{"currency":"EUR","hourly_rate":"42.50"}`)
  pricer, err := f.LoadRateCard("./config/ratecard.json")

  amount := pricer.Price(7, engine.Minutes60)

SEE ALSO:
  - engine/pricing.go: Pricer definition
  - config/config.go: RATE_CARD, HOURLY_RATE and CURRENCY settings
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RateCardJSON is the JSON representation of a rate card.
type RateCardJSON struct {
	Currency   string `json:"currency,omitempty"`
	HourlyRate string `json:"hourly_rate,omitempty"`
}

// =============================================================================
// RATE CARD FACTORY
// =============================================================================

// RateCardFactory converts JSON rate cards to pricers.
type RateCardFactory struct{}

func NewRateCardFactory() *RateCardFactory {
	return &RateCardFactory{}
}

// ParseRateCard parses a JSON string into a Pricer.
func (f *RateCardFactory) ParseRateCard(jsonStr string) (engine.Pricer, error) {
	var rc RateCardJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rc); err != nil {
		return engine.Pricer{}, fmt.Errorf("failed to parse rate card JSON: %w", err)
	}
	return f.FromJSON(rc)
}

// LoadRateCard reads and parses a rate card file.
func (f *RateCardFactory) LoadRateCard(path string) (engine.Pricer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.Pricer{}, fmt.Errorf("failed to read rate card: %w", err)
	}
	return f.ParseRateCard(string(raw))
}

// FromJSON converts RateCardJSON to a Pricer, applying defaults.
func (f *RateCardFactory) FromJSON(rc RateCardJSON) (engine.Pricer, error) {
	currency := strings.ToUpper(strings.TrimSpace(rc.Currency))
	if currency == "" {
		currency = engine.DefaultCurrency
	}
	if len(currency) != 3 {
		return engine.Pricer{}, fmt.Errorf("invalid currency %q: want a 3 letter code", rc.Currency)
	}

	rate := engine.DefaultHourlyRate.Value
	if rc.HourlyRate != "" {
		d, err := decimal.NewFromString(rc.HourlyRate)
		if err != nil {
			return engine.Pricer{}, fmt.Errorf("invalid hourly_rate %q: %w", rc.HourlyRate, err)
		}
		rate = d
	}
	if !rate.IsPositive() {
		return engine.Pricer{}, fmt.Errorf("hourly_rate must be positive, got %s", rate)
	}

	return engine.NewPricer(engine.NewMoney(rate, currency)), nil
}

// ToJSON converts a Pricer back to its rate card.
func (f *RateCardFactory) ToJSON(p engine.Pricer) RateCardJSON {
	return RateCardJSON{
		Currency:   p.HourlyRate.Currency,
		HourlyRate: p.HourlyRate.String(),
	}
}
