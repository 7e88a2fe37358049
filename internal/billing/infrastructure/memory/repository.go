package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	billing "energy-billing/internal/billing/domain"
)

type property struct {
	id         string
	customerID string
	postcode   string
}

type periodKey struct {
	customerID string
	start      time.Time
	end        time.Time
}

// Store is an in-memory billing store. It satisfies application.Store.
type Store struct {
	mu          sync.RWMutex
	tariffs     map[string]billing.Tariff
	bands       map[string][]billing.RateBand
	assignments map[string][]billing.Assignment
	properties  map[string]property
	meters      map[string][]billing.Meter
	readings    map[string][]billing.Reading
	bills       map[string]*billing.Bill
	byPeriod    map[periodKey]string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		tariffs:     make(map[string]billing.Tariff),
		bands:       make(map[string][]billing.RateBand),
		assignments: make(map[string][]billing.Assignment),
		properties:  make(map[string]property),
		meters:      make(map[string][]billing.Meter),
		readings:    make(map[string][]billing.Reading),
		bills:       make(map[string]*billing.Bill),
		byPeriod:    make(map[periodKey]string),
	}
}

// PutTariff stores a tariff with its rate bands, replacing any previous bands.
func (s *Store) PutTariff(tariff billing.Tariff, bands []billing.RateBand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tariffs[tariff.ID] = tariff
	copied := make([]billing.RateBand, len(bands))
	for i, b := range bands {
		b.TariffID = tariff.ID
		copied[i] = b
	}
	s.bands[tariff.ID] = copied
}

// AddAssignment stores a tariff assignment.
func (s *Store) AddAssignment(a billing.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.CustomerID] = append(s.assignments[a.CustomerID], a)
}

// AddProperty registers a customer property.
func (s *Store) AddProperty(customerID, propertyID, postcode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[propertyID] = property{id: propertyID, customerID: customerID, postcode: postcode}
}

// AddMeter attaches a meter to a registered property.
func (s *Store) AddMeter(meter billing.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.properties[meter.PropertyID]; !ok {
		return errors.New("memory store: unknown property " + meter.PropertyID)
	}
	s.meters[meter.PropertyID] = append(s.meters[meter.PropertyID], meter)
	return nil
}

// AddReadings appends interval readings.
func (s *Store) AddReadings(readings ...billing.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range readings {
		s.readings[r.MeterID] = append(s.readings[r.MeterID], r)
	}
}

// ListAssignments returns assignments starting on or before periodEnd.
func (s *Store) ListAssignments(ctx context.Context, customerID string, periodEnd time.Time) ([]billing.Assignment, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Assignment
	for _, a := range s.assignments[customerID] {
		if !a.EffectiveFrom.After(periodEnd) {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetTariff returns nil when the tariff does not exist.
func (s *Store) GetTariff(ctx context.Context, tariffID string) (*billing.Tariff, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	tariff, ok := s.tariffs[tariffID]
	if !ok {
		return nil, nil
	}
	return &tariff, nil
}

// ListRateBands returns the bands of a tariff in insertion order.
func (s *Store) ListRateBands(ctx context.Context, tariffID string) ([]billing.RateBand, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	bands := s.bands[tariffID]
	out := make([]billing.RateBand, len(bands))
	copy(out, bands)
	return out, nil
}

// ListCustomerMeters returns meters ordered by property postcode then MPAN,
// with the first property in that order named even when it has no meters.
func (s *Store) ListCustomerMeters(ctx context.Context, customerID string) (billing.CustomerMeters, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	props := make([]property, 0)
	for _, p := range s.properties {
		if p.customerID == customerID {
			props = append(props, p)
		}
	}
	sort.Slice(props, func(i, j int) bool {
		if props[i].postcode != props[j].postcode {
			return props[i].postcode < props[j].postcode
		}
		return props[i].id < props[j].id
	})

	var out billing.CustomerMeters
	if len(props) > 0 {
		out.FirstPropertyID = props[0].id
	}
	for _, p := range props {
		meters := make([]billing.Meter, len(s.meters[p.id]))
		copy(meters, s.meters[p.id])
		sort.Slice(meters, func(i, j int) bool { return meters[i].MPAN < meters[j].MPAN })
		out.Meters = append(out.Meters, meters...)
	}
	return out, nil
}

// ListReadings returns readings for meterIDs in [from, to), ascending by timestamp.
func (s *Store) ListReadings(ctx context.Context, meterIDs []string, from, to time.Time) ([]billing.Reading, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Reading
	for _, id := range meterIDs {
		for _, r := range s.readings[id] {
			if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// CreateBillAtomic stores a bill unless one exists for its customer and period.
func (s *Store) CreateBillAtomic(ctx context.Context, bill *billing.Bill) error {
	_ = ctx
	if bill == nil {
		return billing.ErrNilBill
	}
	key := periodKey{customerID: bill.CustomerID, start: bill.PeriodStart, end: bill.PeriodEnd}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPeriod[key]; exists {
		return billing.ErrDuplicateBill
	}
	s.bills[bill.ID] = cloneBill(bill)
	s.byPeriod[key] = bill.ID
	return nil
}

// GetBill returns nil when the bill does not exist.
func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	bill, ok := s.bills[id]
	if !ok {
		return nil, nil
	}
	return cloneBill(bill), nil
}

// ListBills returns a customer's bills, newest period first.
func (s *Store) ListBills(ctx context.Context, customerID string) ([]billing.Bill, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Bill, 0)
	for _, bill := range s.bills {
		if bill.CustomerID == customerID {
			out = append(out, *cloneBill(bill))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListBillableCustomers returns customers with an assignment starting on or
// before periodEnd, ascending.
func (s *Store) ListBillableCustomers(ctx context.Context, periodEnd time.Time) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.assignments))
	for customerID, list := range s.assignments {
		for _, a := range list {
			if !a.EffectiveFrom.After(periodEnd) {
				out = append(out, customerID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func cloneBill(bill *billing.Bill) *billing.Bill {
	copied := *bill
	copied.LineItems = make([]billing.LineItem, len(bill.LineItems))
	copy(copied.LineItems, bill.LineItems)
	return &copied
}
