package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FuelType is the energy carrier a tariff prices.
type FuelType string

const (
	FuelElectricity FuelType = "electricity"
	FuelGas         FuelType = "gas"
)

// TariffKind is the commercial kind of a tariff as authored.
type TariffKind string

const (
	TariffFixed     TariffKind = "fixed"
	TariffVariable  TariffKind = "variable"
	TariffTimeOfUse TariffKind = "time_of_use"
)

// ParseTariffKind validates a stored tariff kind.
func ParseTariffKind(value string) (TariffKind, error) {
	switch TariffKind(value) {
	case TariffFixed, TariffVariable, TariffTimeOfUse:
		return TariffKind(value), nil
	default:
		return "", fmt.Errorf("billing: unknown tariff kind %q", value)
	}
}

// Tariff is a priced energy product. StandingChargePence is per day.
type Tariff struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Code                string          `json:"code"`
	FuelType            FuelType        `json:"fuel_type"`
	Kind                TariffKind      `json:"kind"`
	StandingChargePence decimal.Decimal `json:"standing_charge_pence"`
	Active              bool            `json:"active"`
	ValidFrom           time.Time       `json:"valid_from"`
	ValidTo             *time.Time      `json:"valid_to,omitempty"`
}

// TimeOfDay is a local wall-clock time measured from midnight.
type TimeOfDay time.Duration

// EndOfDay is the exclusive upper bound of a day.
const EndOfDay = TimeOfDay(24 * time.Hour)

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

// TimeOfDayOf returns the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return NewTimeOfDay(h, m, s) + TimeOfDay(time.Duration(t.Nanosecond()))
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("billing: invalid time of day %q", value)
	}
	limits := []int{23, 59, 59}
	fields := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("billing: invalid time of day %q", value)
		}
		fields[i] = n
	}
	return NewTimeOfDay(fields[0], fields[1], fields[2]), nil
}

// String formats the time as HH:MM:SS.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// RateBand is a priced window within a tariff. A band without a start is an
// unconditional flat rate.
type RateBand struct {
	ID              string          `json:"id"`
	TariffID        string          `json:"tariff_id"`
	Label           string          `json:"label"`
	Start           *TimeOfDay      `json:"start,omitempty"`
	End             *TimeOfDay      `json:"end,omitempty"`
	RatePencePerKWh decimal.Decimal `json:"rate_pence_per_kwh"`
}

// Unconditional reports whether the band applies at any time.
func (b RateBand) Unconditional() bool { return b.Start == nil }

// Contains reports whether t falls inside the band window. Windows where
// start > end wrap past midnight.
func (b RateBand) Contains(t TimeOfDay) bool {
	if b.Start == nil {
		return true
	}
	start := *b.Start
	end := EndOfDay
	if b.End != nil {
		end = *b.End
	}
	if start <= end {
		return start <= t && t < end
	}
	return t >= start || t < end
}

// Assignment links a customer to a tariff for [EffectiveFrom, EffectiveTo].
// A nil EffectiveTo is open-ended.
type Assignment struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	TariffID      string     `json:"tariff_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// OpenEnded reports whether the assignment has no end date.
func (a Assignment) OpenEnded() bool { return a.EffectiveTo == nil }
