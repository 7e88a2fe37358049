package catalog

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/billing/infrastructure/memory"
)

const dateLayout = "2006-01-02"

// Catalog is the YAML seed for the in-memory store.
type Catalog struct {
	Tariffs   []TariffDoc   `yaml:"tariffs"`
	Customers []CustomerDoc `yaml:"customers"`
	Readings  []ReadingDoc  `yaml:"readings"`
}

// TariffDoc describes a tariff and its bands.
type TariffDoc struct {
	ID                  string    `yaml:"id"`
	Name                string    `yaml:"name"`
	Code                string    `yaml:"code"`
	FuelType            string    `yaml:"fuel_type"`
	Kind                string    `yaml:"kind"`
	StandingChargePence string    `yaml:"standing_charge_pence"`
	Active              *bool     `yaml:"active"`
	ValidFrom           string    `yaml:"valid_from"`
	ValidTo             string    `yaml:"valid_to"`
	Bands               []BandDoc `yaml:"bands"`
}

// BandDoc describes a rate band. Start and End are "HH:MM[:SS]".
type BandDoc struct {
	ID              string `yaml:"id"`
	Label           string `yaml:"label"`
	Start           string `yaml:"start"`
	End             string `yaml:"end"`
	RatePencePerKWh string `yaml:"rate_pence_per_kwh"`
}

// CustomerDoc describes a customer's assignments and properties.
type CustomerDoc struct {
	ID          string          `yaml:"id"`
	Assignments []AssignmentDoc `yaml:"assignments"`
	Properties  []PropertyDoc   `yaml:"properties"`
}

// AssignmentDoc links a customer to a tariff.
type AssignmentDoc struct {
	ID            string `yaml:"id"`
	TariffID      string `yaml:"tariff_id"`
	EffectiveFrom string `yaml:"effective_from"`
	EffectiveTo   string `yaml:"effective_to"`
}

// PropertyDoc is a supply address with its meters.
type PropertyDoc struct {
	ID       string     `yaml:"id"`
	Postcode string     `yaml:"postcode"`
	Meters   []MeterDoc `yaml:"meters"`
}

// MeterDoc describes a meter.
type MeterDoc struct {
	ID           string `yaml:"id"`
	MPAN         string `yaml:"mpan"`
	SerialNumber string `yaml:"serial_number"`
	FuelType     string `yaml:"fuel_type"`
}

// ReadingDoc is one interval reading. Timestamp is RFC 3339.
type ReadingDoc struct {
	MeterID   string `yaml:"meter_id"`
	Timestamp string `yaml:"timestamp"`
	ValueKWh  string `yaml:"value_kwh"`
	Type      string `yaml:"type"`
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &c, nil
}

// Apply validates the catalog and writes it into store. Nothing is written
// when validation fails.
func (c *Catalog) Apply(store *memory.Store) error {
	if store == nil {
		return errors.New("catalog: nil store")
	}
	tariffs, bands, err := c.buildTariffs()
	if err != nil {
		return err
	}
	assignments, meters, err := c.buildCustomers(tariffs)
	if err != nil {
		return err
	}
	readings, err := c.buildReadings(meters)
	if err != nil {
		return err
	}

	for id, tariff := range tariffs {
		store.PutTariff(tariff, bands[id])
	}
	for _, a := range assignments {
		store.AddAssignment(a)
	}
	for _, cust := range c.Customers {
		for _, p := range cust.Properties {
			store.AddProperty(cust.ID, p.ID, p.Postcode)
		}
	}
	for _, id := range meterOrder(c.Customers) {
		if err := store.AddMeter(meters[id]); err != nil {
			return err
		}
	}
	store.AddReadings(readings...)
	return nil
}

func (c *Catalog) buildTariffs() (map[string]billing.Tariff, map[string][]billing.RateBand, error) {
	tariffs := make(map[string]billing.Tariff, len(c.Tariffs))
	bands := make(map[string][]billing.RateBand, len(c.Tariffs))
	for _, doc := range c.Tariffs {
		if doc.ID == "" {
			return nil, nil, errors.New("catalog: tariff id required")
		}
		if _, dup := tariffs[doc.ID]; dup {
			return nil, nil, fmt.Errorf("catalog: duplicate tariff %s", doc.ID)
		}
		kind, err := billing.ParseTariffKind(doc.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: tariff %s: %w", doc.ID, err)
		}
		standing, err := parseDecimal(doc.StandingChargePence)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: tariff %s standing charge: %w", doc.ID, err)
		}
		validFrom, err := parseDate(doc.ValidFrom)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: tariff %s valid_from: %w", doc.ID, err)
		}
		validTo, err := parseOptionalDate(doc.ValidTo)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: tariff %s valid_to: %w", doc.ID, err)
		}
		fuel := billing.FuelType(doc.FuelType)
		if fuel == "" {
			fuel = billing.FuelElectricity
		}
		active := true
		if doc.Active != nil {
			active = *doc.Active
		}

		tariffBands := make([]billing.RateBand, 0, len(doc.Bands))
		for i, b := range doc.Bands {
			band, err := buildBand(doc.ID, i, b)
			if err != nil {
				return nil, nil, err
			}
			tariffBands = append(tariffBands, band)
		}
		if err := billing.ValidateRateBands(kind, tariffBands); err != nil {
			return nil, nil, fmt.Errorf("catalog: tariff %s: %w", doc.ID, err)
		}

		tariffs[doc.ID] = billing.Tariff{
			ID:                  doc.ID,
			Name:                doc.Name,
			Code:                doc.Code,
			FuelType:            fuel,
			Kind:                kind,
			StandingChargePence: standing,
			Active:              active,
			ValidFrom:           validFrom,
			ValidTo:             validTo,
		}
		bands[doc.ID] = tariffBands
	}
	return tariffs, bands, nil
}

func buildBand(tariffID string, index int, doc BandDoc) (billing.RateBand, error) {
	rate, err := parseDecimal(doc.RatePencePerKWh)
	if err != nil {
		return billing.RateBand{}, fmt.Errorf("catalog: tariff %s band %d rate: %w", tariffID, index, err)
	}
	id := doc.ID
	if id == "" {
		id = fmt.Sprintf("%s-band-%d", tariffID, index+1)
	}
	band := billing.RateBand{ID: id, TariffID: tariffID, Label: doc.Label, RatePencePerKWh: rate}
	if doc.Start != "" {
		start, err := billing.ParseTimeOfDay(doc.Start)
		if err != nil {
			return billing.RateBand{}, fmt.Errorf("catalog: tariff %s band %s: %w", tariffID, id, err)
		}
		band.Start = &start
	}
	if doc.End != "" {
		end, err := billing.ParseTimeOfDay(doc.End)
		if err != nil {
			return billing.RateBand{}, fmt.Errorf("catalog: tariff %s band %s: %w", tariffID, id, err)
		}
		band.End = &end
	}
	return band, nil
}

func (c *Catalog) buildCustomers(tariffs map[string]billing.Tariff) ([]billing.Assignment, map[string]billing.Meter, error) {
	var assignments []billing.Assignment
	meters := make(map[string]billing.Meter)
	for _, cust := range c.Customers {
		if cust.ID == "" {
			return nil, nil, errors.New("catalog: customer id required")
		}
		for i, doc := range cust.Assignments {
			if _, ok := tariffs[doc.TariffID]; !ok {
				return nil, nil, fmt.Errorf("catalog: customer %s: %w: %s", cust.ID, billing.ErrTariffNotFound, doc.TariffID)
			}
			from, err := parseDate(doc.EffectiveFrom)
			if err != nil {
				return nil, nil, fmt.Errorf("catalog: customer %s effective_from: %w", cust.ID, err)
			}
			to, err := parseOptionalDate(doc.EffectiveTo)
			if err != nil {
				return nil, nil, fmt.Errorf("catalog: customer %s effective_to: %w", cust.ID, err)
			}
			if to != nil && to.Before(from) {
				return nil, nil, fmt.Errorf("catalog: customer %s: assignment ends before it starts", cust.ID)
			}
			id := doc.ID
			if id == "" {
				id = fmt.Sprintf("%s-assignment-%d", cust.ID, i+1)
			}
			assignments = append(assignments, billing.Assignment{
				ID: id, CustomerID: cust.ID, TariffID: doc.TariffID, EffectiveFrom: from, EffectiveTo: to,
			})
		}
		for _, p := range cust.Properties {
			if p.ID == "" {
				return nil, nil, fmt.Errorf("catalog: customer %s: property id required", cust.ID)
			}
			for _, m := range p.Meters {
				if m.ID == "" {
					return nil, nil, fmt.Errorf("catalog: property %s: meter id required", p.ID)
				}
				if _, dup := meters[m.ID]; dup {
					return nil, nil, fmt.Errorf("catalog: duplicate meter %s", m.ID)
				}
				fuel := billing.FuelType(m.FuelType)
				if fuel == "" {
					fuel = billing.FuelElectricity
				}
				meters[m.ID] = billing.Meter{ID: m.ID, PropertyID: p.ID, MPAN: m.MPAN, SerialNumber: m.SerialNumber, FuelType: fuel}
			}
		}
	}
	return assignments, meters, nil
}

func (c *Catalog) buildReadings(meters map[string]billing.Meter) ([]billing.Reading, error) {
	readings := make([]billing.Reading, 0, len(c.Readings))
	for i, doc := range c.Readings {
		if _, ok := meters[doc.MeterID]; !ok {
			return nil, fmt.Errorf("catalog: reading %d: unknown meter %s", i, doc.MeterID)
		}
		ts, err := time.Parse(time.RFC3339, doc.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("catalog: reading %d timestamp: %w", i, err)
		}
		value, err := parseDecimal(doc.ValueKWh)
		if err != nil {
			return nil, fmt.Errorf("catalog: reading %d value: %w", i, err)
		}
		kind := billing.ReadingType(doc.Type)
		if kind == "" {
			kind = billing.ReadingActual
		}
		readings = append(readings, billing.Reading{MeterID: doc.MeterID, Timestamp: ts.UTC(), ValueKWh: value, Type: kind})
	}
	return readings, nil
}

func meterOrder(customers []CustomerDoc) []string {
	var ids []string
	for _, cust := range customers {
		for _, p := range cust.Properties {
			for _, m := range p.Meters {
				ids = append(ids, m.ID)
			}
		}
	}
	return ids
}

func parseDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, value)
}

func parseOptionalDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseDate(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
