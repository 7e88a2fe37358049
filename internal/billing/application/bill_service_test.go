package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-billing/internal/auth"
	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/billing/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sequenceIDs struct{ n atomic.Int64 }

func (s *sequenceIDs) NewBillID() string { return fmt.Sprintf("bill-%d", s.n.Add(1)) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []BillGenerated
	err    error
}

func (p *recordingPublisher) PublishBillGenerated(ctx context.Context, event BillGenerated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func dec(value string) decimal.Decimal { return decimal.RequireFromString(value) }

func date(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func tod(value string) *billing.TimeOfDay {
	t, err := billing.ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return &t
}

func mustPeriod(t *testing.T, start, end string) billing.Period {
	t.Helper()
	p, err := billing.ParsePeriod(start, end)
	require.NoError(t, err)
	return p
}

// seedStore builds customer c1 on Economy 7 with two meters and c2 on a flat
// variable tariff with no meters.
func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.PutTariff(billing.Tariff{
		ID: "t-eco7", Name: "Economy 7", Code: "ECO7", Kind: billing.TariffTimeOfUse,
		FuelType: billing.FuelElectricity, StandingChargePence: dec("45.5"), Active: true,
	}, []billing.RateBand{
		{ID: "b-day", Label: "Day", Start: tod("07:00"), End: tod("00:00"), RatePencePerKWh: dec("30")},
		{ID: "b-night", Label: "Night", Start: tod("00:00"), End: tod("07:00"), RatePencePerKWh: dec("10")},
	})
	store.PutTariff(billing.Tariff{
		ID: "t-var", Name: "Standard Variable", Code: "SVT", Kind: billing.TariffVariable,
		StandingChargePence: dec("51.56"), Active: true,
	}, []billing.RateBand{{ID: "b-std", RatePencePerKWh: dec("24.5")}})
	store.PutTariff(billing.Tariff{ID: "t-empty", Name: "Empty", Code: "EMPTY", Kind: billing.TariffFixed}, nil)

	store.AddAssignment(billing.Assignment{ID: "a1", CustomerID: "c1", TariffID: "t-var", EffectiveFrom: date("2023-01-01")})
	store.AddAssignment(billing.Assignment{ID: "a2", CustomerID: "c1", TariffID: "t-eco7", EffectiveFrom: date("2023-06-01")})
	store.AddAssignment(billing.Assignment{ID: "a3", CustomerID: "c2", TariffID: "t-var", EffectiveFrom: date("2023-01-01")})

	store.AddProperty("c1", "p1", "EC1A 1BB")
	require.NoError(t, store.AddMeter(billing.Meter{ID: "m1", PropertyID: "p1", MPAN: "1000000000001"}))
	require.NoError(t, store.AddMeter(billing.Meter{ID: "m2", PropertyID: "p1", MPAN: "1000000000002"}))
	store.AddReadings(
		billing.Reading{MeterID: "m1", Timestamp: time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC), ValueKWh: dec("1.25")},
		billing.Reading{MeterID: "m2", Timestamp: time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC), ValueKWh: dec("2.5")},
		billing.Reading{MeterID: "m1", Timestamp: time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC), ValueKWh: dec("50")},
		billing.Reading{MeterID: "m1", Timestamp: time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC), ValueKWh: dec("100")},
	)
	return store
}

func newService(t *testing.T, store *memory.Store, opts ...Option) *BillService {
	t.Helper()
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	resolver, err := NewTariffResolver(store, store)
	require.NoError(t, err)
	base := []Option{
		WithClock(fixedClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}),
		WithIDGenerator(&sequenceIDs{}),
		WithLocation(london),
	}
	svc, err := NewBillService(resolver, store, append(base, opts...)...)
	require.NoError(t, err)
	return svc
}

func TestNewBillService_NilDeps(t *testing.T) {
	_, err := NewBillService(nil, memory.NewStore())
	assert.Error(t, err)
	resolver, err := NewTariffResolver(memory.NewStore(), memory.NewStore())
	require.NoError(t, err)
	_, err = NewBillService(resolver, nil)
	assert.Error(t, err)
}

func TestGenerateBill_TimeOfUse(t *testing.T) {
	store := seedStore(t)
	publisher := &recordingPublisher{}
	svc := newService(t, store, WithPublisher(publisher))

	bill, err := svc.GenerateBill(context.Background(), "c1", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)

	assert.Equal(t, "bill-1", bill.ID)
	assert.Equal(t, "t-eco7", bill.TariffID)
	assert.Equal(t, billing.BillStatusDraft, bill.Status)
	require.Len(t, bill.LineItems, 3)

	night, day, standing := bill.LineItems[0], bill.LineItems[1], bill.LineItems[2]
	assert.Equal(t, "Night", night.RateBandLabel)
	assert.Equal(t, "1.25", night.KWh.String())
	assert.Equal(t, "12.50", night.AmountPence.StringFixed(2))
	assert.Equal(t, "Day", day.RateBandLabel)
	assert.Equal(t, "75.00", day.AmountPence.StringFixed(2))
	assert.Equal(t, billing.LineItemStandingCharge, standing.Kind)
	assert.Equal(t, "1365.00", standing.AmountPence.StringFixed(2))

	assert.Equal(t, "3.75", bill.TotalKWh.String())
	assert.Equal(t, "87.50", bill.UsageChargePence.StringFixed(2))
	assert.Equal(t, "1452.50", bill.TotalAmountPence.StringFixed(2))
	assert.True(t, bill.Reconciles())
	for _, item := range bill.LineItems {
		assert.Equal(t, "m1", item.MeterID, "all lines use the representative meter")
	}

	stored, err := store.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.LineItems, 3)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "1452.50", publisher.events[0].TotalAmountPence)
	assert.Equal(t, "c1", publisher.events[0].CustomerID)
}

func TestGenerateBill_FlatWithoutMeters(t *testing.T) {
	svc := newService(t, seedStore(t))

	bill, err := svc.GenerateBill(context.Background(), "c2", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bill.LineItems, 2)
	assert.True(t, bill.LineItems[0].KWh.IsZero())
	assert.Equal(t, "Standard", bill.LineItems[0].RateBandLabel)
	assert.Empty(t, bill.LineItems[0].MeterID)
	assert.Equal(t, "1546.80", bill.TotalAmountPence.StringFixed(2))
}

func TestGenerateBill_FirstPropertyWithoutMetersLeavesLinesUnattributed(t *testing.T) {
	store := seedStore(t)
	store.AddAssignment(billing.Assignment{ID: "a4", CustomerID: "c3", TariffID: "t-var", EffectiveFrom: date("2023-01-01")})
	store.AddProperty("c3", "p-first", "AA1 1AA")
	store.AddProperty("c3", "p-second", "ZZ9 9ZZ")
	require.NoError(t, store.AddMeter(billing.Meter{ID: "m9", PropertyID: "p-second", MPAN: "9000000000001"}))
	store.AddReadings(billing.Reading{MeterID: "m9", Timestamp: time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), ValueKWh: dec("2")})
	svc := newService(t, store)

	bill, err := svc.GenerateBill(context.Background(), "c3", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bill.LineItems, 2)
	assert.Equal(t, "2", bill.TotalKWh.String())
	for _, item := range bill.LineItems {
		assert.Empty(t, item.MeterID)
	}
}

func TestGenerateBill_AttributionNone(t *testing.T) {
	svc := newService(t, seedStore(t), WithMeterAttribution(billing.MeterAttributionNone))

	bill, err := svc.GenerateBill(context.Background(), "c1", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	for _, item := range bill.LineItems {
		assert.Empty(t, item.MeterID)
	}
}

// widenedReadings returns extra readings regardless of the requested range.
type widenedReadings struct {
	*memory.Store
	extra []billing.Reading
}

func (s widenedReadings) ListReadings(ctx context.Context, meterIDs []string, from, to time.Time) ([]billing.Reading, error) {
	readings, err := s.Store.ListReadings(ctx, meterIDs, from, to)
	if err != nil {
		return nil, err
	}
	return append(readings, s.extra...), nil
}

func TestGenerateBill_IgnoresReadingsOutsidePeriod(t *testing.T) {
	store := seedStore(t)
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	resolver, err := NewTariffResolver(store, store)
	require.NoError(t, err)
	wide := widenedReadings{Store: store, extra: []billing.Reading{
		{MeterID: "m1", Timestamp: time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC), ValueKWh: dec("100")},
	}}
	svc, err := NewBillService(resolver, wide, WithLocation(london), WithIDGenerator(&sequenceIDs{}))
	require.NoError(t, err)

	bill, err := svc.GenerateBill(context.Background(), "c1", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "3.75", bill.TotalKWh.String())
	assert.Equal(t, "1452.50", bill.TotalAmountPence.StringFixed(2))
}

func TestGenerateBill_Duplicate(t *testing.T) {
	svc := newService(t, seedStore(t))
	p := mustPeriod(t, "2024-01-01", "2024-01-31")

	_, err := svc.GenerateBill(context.Background(), "c1", p)
	require.NoError(t, err)
	_, err = svc.GenerateBill(context.Background(), "c1", p)
	assert.ErrorIs(t, err, billing.ErrDuplicateBill)
}

func TestGenerateBill_ConcurrentDuplicates(t *testing.T) {
	store := seedStore(t)
	svc := newService(t, store)
	p := mustPeriod(t, "2024-01-01", "2024-01-31")

	var (
		wg         sync.WaitGroup
		created    atomic.Int32
		duplicates atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GenerateBill(context.Background(), "c1", p)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, billing.ErrDuplicateBill):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(7), duplicates.Load())

	bills, err := store.ListBills(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestGenerateBill_Rejections(t *testing.T) {
	store := seedStore(t)
	store.AddAssignment(billing.Assignment{ID: "a9", CustomerID: "c9", TariffID: "t-empty", EffectiveFrom: date("2023-01-01")})
	svc := newService(t, store)
	p := mustPeriod(t, "2024-01-01", "2024-01-31")

	_, err := svc.GenerateBill(context.Background(), "nobody", p)
	assert.ErrorIs(t, err, billing.ErrNoApplicableTariff)

	_, err = svc.GenerateBill(context.Background(), "c9", p)
	assert.ErrorIs(t, err, billing.ErrMissingRateBands)

	_, err = svc.GenerateBill(context.Background(), "", p)
	assert.ErrorIs(t, err, billing.ErrEmptyCustomerID)

	_, err = svc.GenerateBill(context.Background(), "c1", billing.Period{})
	assert.ErrorIs(t, err, billing.ErrInvalidPeriod)

	bills, err := store.ListBills(context.Background(), "c9")
	require.NoError(t, err)
	assert.Empty(t, bills, "nothing is persisted on rejection")
}

func TestGenerateBill_PublisherFailureIsNotFatal(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("outbox down")}
	svc := newService(t, seedStore(t), WithPublisher(publisher))

	bill, err := svc.GenerateBill(context.Background(), "c2", mustPeriod(t, "2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.NotNil(t, bill)
	assert.Len(t, publisher.events, 1)
}

func TestGetBillAndListBills_CustomerScoping(t *testing.T) {
	svc := newService(t, seedStore(t))
	p := mustPeriod(t, "2024-01-01", "2024-01-31")
	bill, err := svc.GenerateBill(context.Background(), "c1", p)
	require.NoError(t, err)

	own := auth.WithIdentity(context.Background(), "c1", auth.RoleCustomer, "u1")
	other := auth.WithIdentity(context.Background(), "c2", auth.RoleCustomer, "u2")
	staff := auth.WithIdentity(context.Background(), "", auth.RoleOperator, "ops")

	got, err := svc.GetBill(own, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, bill.ID, got.ID)

	_, err = svc.GetBill(other, bill.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = svc.GetBill(staff, "missing")
	assert.ErrorIs(t, err, billing.ErrBillNotFound)

	list, err := svc.ListBills(own, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ListBills(other, "c1")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = svc.ListBills(staff, "")
	assert.ErrorIs(t, err, billing.ErrEmptyCustomerID)
}
