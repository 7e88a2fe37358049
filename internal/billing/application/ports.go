package application

import (
	"context"
	"time"

	billing "energy-billing/internal/billing/domain"
)

// AssignmentReader lists a customer's tariff assignments starting on or before periodEnd.
type AssignmentReader interface {
	ListAssignments(ctx context.Context, customerID string, periodEnd time.Time) ([]billing.Assignment, error)
}

// TariffReader loads tariffs and their rate bands.
type TariffReader interface {
	GetTariff(ctx context.Context, tariffID string) (*billing.Tariff, error)
	ListRateBands(ctx context.Context, tariffID string) ([]billing.RateBand, error)
}

// MeterReader lists a customer's meters, property then meter order, naming
// the first property.
type MeterReader interface {
	ListCustomerMeters(ctx context.Context, customerID string) (billing.CustomerMeters, error)
}

// ReadingReader lists readings for meters in [from, to), ascending by timestamp.
type ReadingReader interface {
	ListReadings(ctx context.Context, meterIDs []string, from, to time.Time) ([]billing.Reading, error)
}

// BillWriter persists a bill and its line items in one atomic unit. A bill
// for an existing (customer, period) must fail with billing.ErrDuplicateBill.
type BillWriter interface {
	CreateBillAtomic(ctx context.Context, bill *billing.Bill) error
}

// BillReader loads persisted bills.
type BillReader interface {
	GetBill(ctx context.Context, id string) (*billing.Bill, error)
	ListBills(ctx context.Context, customerID string) ([]billing.Bill, error)
}

// CustomerLister lists customers with an assignment starting on or before periodEnd.
type CustomerLister interface {
	ListBillableCustomers(ctx context.Context, periodEnd time.Time) ([]string, error)
}

// Store is the full storage collaborator.
type Store interface {
	AssignmentReader
	TariffReader
	MeterReader
	ReadingReader
	BillWriter
	BillReader
	CustomerLister
}

// BillPublisher emits bill generated events.
type BillPublisher interface {
	PublishBillGenerated(ctx context.Context, event BillGenerated) error
}

// BillGenerated is emitted after a bill is created.
type BillGenerated struct {
	BillID           string    `json:"bill_id"`
	CustomerID       string    `json:"customer_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	TotalAmountPence string    `json:"total_amount_pence"`
	TotalKWh         string    `json:"total_kwh"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// EventCustomerID scopes the event to its customer.
func (e BillGenerated) EventCustomerID() string { return e.CustomerID }

// EventOccurredAt is when the bill was generated.
func (e BillGenerated) EventOccurredAt() time.Time { return e.OccurredAt }

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces bill ids.
type IDGenerator interface {
	NewBillID() string
}
