package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReadingType marks whether a reading was measured or estimated.
type ReadingType string

const (
	ReadingActual    ReadingType = "actual"
	ReadingEstimated ReadingType = "estimated"
)

// Meter is an installed meter point at one of the customer's properties.
type Meter struct {
	ID           string   `json:"id"`
	PropertyID   string   `json:"property_id"`
	MPAN         string   `json:"mpan"`
	SerialNumber string   `json:"serial_number"`
	FuelType     FuelType `json:"fuel_type"`
}

// Reading is a single interval consumption value for a meter.
type Reading struct {
	MeterID   string          `json:"meter_id"`
	Timestamp time.Time       `json:"timestamp"`
	ValueKWh  decimal.Decimal `json:"value_kwh"`
	Type      ReadingType     `json:"type"`
}

// CustomerMeters is a customer's meters together with the id of the
// customer's first property. Meters are in property then meter order.
type CustomerMeters struct {
	FirstPropertyID string
	Meters          []Meter
}

// Representative returns the first meter of the first property, or nil when
// that property has no meters even if later properties do.
func (c CustomerMeters) Representative() *Meter {
	if c.FirstPropertyID == "" || len(c.Meters) == 0 {
		return nil
	}
	m := c.Meters[0]
	if m.PropertyID != c.FirstPropertyID {
		return nil
	}
	return &m
}

// MeterAttribution names how line items are attributed to meters.
type MeterAttribution string

const (
	// MeterAttributionRepresentative puts the representative meter on every
	// line item regardless of which meter produced the usage.
	MeterAttributionRepresentative MeterAttribution = "representative"
	// MeterAttributionNone leaves line items without a meter.
	MeterAttributionNone MeterAttribution = "none"
)

// ParseMeterAttribution maps a configured policy name; empty means representative.
func ParseMeterAttribution(value string) (MeterAttribution, error) {
	switch MeterAttribution(value) {
	case "", MeterAttributionRepresentative:
		return MeterAttributionRepresentative, nil
	case MeterAttributionNone:
		return MeterAttributionNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribution, value)
	}
}

// Attribute returns the meter line items are attributed to under policy.
func (c CustomerMeters) Attribute(policy MeterAttribution) (*Meter, error) {
	switch policy {
	case MeterAttributionRepresentative:
		return c.Representative(), nil
	case MeterAttributionNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribution, policy)
	}
}

// MeterIDs returns the ids of meters in order.
func MeterIDs(meters []Meter) []string {
	ids := make([]string, 0, len(meters))
	for _, m := range meters {
		ids = append(ids, m.ID)
	}
	return ids
}
