package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"energy-billing/internal/auth"
	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/observability/metrics"
)

// UUIDGenerator issues random bill ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewBillID() string { return uuid.NewString() }

// Option configures a BillService.
type Option func(*BillService)

// WithPublisher sets the bill generated publisher.
func WithPublisher(publisher BillPublisher) Option {
	return func(s *BillService) { s.publisher = publisher }
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *BillService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides bill id generation.
func WithIDGenerator(ids IDGenerator) Option {
	return func(s *BillService) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// WithLocation sets the timezone used for reading dates and band matching.
func WithLocation(loc *time.Location) Option {
	return func(s *BillService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMeterAttribution sets how line items are attributed to meters.
func WithMeterAttribution(policy billing.MeterAttribution) Option {
	return func(s *BillService) {
		if policy != "" {
			s.attribution = policy
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *BillService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// BillService composes, persists and reads customer bills.
type BillService struct {
	resolver  *TariffResolver
	meters    MeterReader
	readings  ReadingReader
	bills     BillWriter
	reader    BillReader
	publisher BillPublisher
	clock     Clock
	ids       IDGenerator
	loc       *time.Location
	logger    *zap.Logger

	attribution billing.MeterAttribution
}

// NewBillService constructs the service over a store.
func NewBillService(resolver *TariffResolver, store Store, opts ...Option) (*BillService, error) {
	if resolver == nil {
		return nil, errors.New("bill service: nil tariff resolver")
	}
	if store == nil {
		return nil, errors.New("bill service: nil store")
	}
	s := &BillService{
		resolver: resolver,
		meters:   store,
		readings: store,
		bills:    store,
		reader:   store,
		clock:    SystemClock{},
		ids:      UUIDGenerator{},
		loc:      time.UTC,
		logger:   zap.NewNop(),

		attribution: billing.MeterAttributionRepresentative,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Location returns the billing timezone.
func (s *BillService) Location() *time.Location {
	return s.loc
}

// GenerateBill builds and stores the draft bill for a customer and period.
// A second bill for the same period fails with billing.ErrDuplicateBill.
func (s *BillService) GenerateBill(ctx context.Context, customerID string, period billing.Period) (*billing.Bill, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveBillGenerate(result, time.Since(start))
	}()

	bill, err := s.generate(ctx, customerID, period)
	if err != nil {
		result = resultFor(err)
		s.logger.Warn("bill generate failed",
			zap.String("customer_id", customerID),
			zap.String("period", period.String()),
			zap.String("result", result),
			zap.Error(err))
		return nil, err
	}
	metrics.ObserveBillAmount(bill.TotalAmountPence.InexactFloat64())
	s.logger.Info("bill generated",
		zap.String("bill_id", bill.ID),
		zap.String("customer_id", bill.CustomerID),
		zap.String("tariff_id", bill.TariffID),
		zap.String("period", period.String()),
		zap.String("total_kwh", bill.TotalKWh.String()),
		zap.String("total_amount_pence", bill.TotalAmountPence.StringFixed(2)),
		zap.Int("line_items", len(bill.LineItems)))

	s.publish(ctx, bill)
	return bill, nil
}

func (s *BillService) generate(ctx context.Context, customerID string, period billing.Period) (*billing.Bill, error) {
	if customerID == "" {
		return nil, billing.ErrEmptyCustomerID
	}
	if period.Start.IsZero() || period.End.Before(period.Start) {
		return nil, billing.ErrInvalidPeriod
	}

	resolved, err := s.resolver.Resolve(ctx, customerID, period)
	if err != nil {
		return nil, err
	}
	meters, err := s.meters.ListCustomerMeters(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("bill service: list meters: %w", err)
	}

	var readings []billing.Reading
	if len(meters.Meters) > 0 {
		from, to := period.Bounds(s.loc)
		fetched, err := s.readings.ListReadings(ctx, billing.MeterIDs(meters.Meters), from, to)
		if err != nil {
			return nil, fmt.Errorf("bill service: list readings: %w", err)
		}
		readings = make([]billing.Reading, 0, len(fetched))
		for _, r := range fetched {
			if period.ContainsLocalDate(r.Timestamp, s.loc) {
				readings = append(readings, r)
			}
		}
		if dropped := len(fetched) - len(readings); dropped > 0 {
			s.logger.Warn("readings outside period ignored",
				zap.String("customer_id", customerID),
				zap.String("period", period.String()),
				zap.Int("dropped", dropped))
		}
	}

	plan, err := billing.PlanFor(resolved.Tariff, resolved.Bands)
	if err != nil {
		return nil, err
	}
	items := billing.AggregateUsage(plan, readings, s.loc)
	items = append(items, billing.StandingChargeLine(resolved.Tariff, period))

	bill, err := billing.NewBill(
		s.ids.NewBillID(),
		customerID,
		resolved.Tariff,
		period,
		items,
		meters,
		s.attribution,
		s.clock.Now(),
	)
	if err != nil {
		return nil, err
	}
	if err := s.bills.CreateBillAtomic(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

// publish never fails the generate call; the bill is already committed.
func (s *BillService) publish(ctx context.Context, bill *billing.Bill) {
	if s.publisher == nil {
		return
	}
	event := BillGenerated{
		BillID:           bill.ID,
		CustomerID:       bill.CustomerID,
		PeriodStart:      bill.PeriodStart,
		PeriodEnd:        bill.PeriodEnd,
		TotalAmountPence: bill.TotalAmountPence.StringFixed(2),
		TotalKWh:         bill.TotalKWh.String(),
		OccurredAt:       s.clock.Now(),
	}
	if err := s.publisher.PublishBillGenerated(ctx, event); err != nil {
		s.logger.Error("publish bill generated failed", zap.String("bill_id", bill.ID), zap.Error(err))
	}
}

// GetBill loads a bill. Customer tokens may only read their own bills.
func (s *BillService) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	if id == "" {
		return nil, billing.ErrBillNotFound
	}
	bill, err := s.reader.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, billing.ErrBillNotFound
	}
	if err := auth.EnsureCustomerAccess(ctx, bill.CustomerID); err != nil {
		return nil, err
	}
	return bill, nil
}

// ListBills lists a customer's bills, newest period first. Customer tokens
// default to their own customer id.
func (s *BillService) ListBills(ctx context.Context, customerID string) ([]billing.Bill, error) {
	if customerID == "" {
		customerID = auth.CustomerIDFromContext(ctx)
	}
	if customerID == "" {
		return nil, billing.ErrEmptyCustomerID
	}
	if err := auth.EnsureCustomerAccess(ctx, customerID); err != nil {
		return nil, err
	}
	return s.reader.ListBills(ctx, customerID)
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, billing.ErrDuplicateBill):
		return metrics.ResultDuplicate
	case errors.Is(err, billing.ErrNoApplicableTariff),
		errors.Is(err, billing.ErrMissingRateBands),
		errors.Is(err, billing.ErrTariffNotFound),
		errors.Is(err, billing.ErrEmptyCustomerID),
		errors.Is(err, billing.ErrInvalidPeriod):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
