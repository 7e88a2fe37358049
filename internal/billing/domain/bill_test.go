package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBill_ReconcilesAndAttributesMeter(t *testing.T) {
	tariff := touTariff()
	p := period(t, "2024-01-01", "2024-01-31")
	items := []LineItem{
		{Kind: LineItemUsage, KWh: d("2.5"), RatePencePerKWh: d("30"), AmountPence: d("75")},
		{Kind: LineItemUsage, KWh: d("2"), RatePencePerKWh: d("10"), AmountPence: d("20")},
		StandingChargeLine(tariff, p),
	}
	meters := CustomerMeters{
		FirstPropertyID: "p-1",
		Meters:          []Meter{{ID: "m-1", PropertyID: "p-1"}, {ID: "m-2", PropertyID: "p-1"}},
	}

	bill, err := NewBill("bill-1", "cust-1", tariff, p, items, meters, MeterAttributionRepresentative, time.Now())
	require.NoError(t, err)

	assert.True(t, bill.Reconciles())
	assert.Equal(t, BillStatusDraft, bill.Status)
	assert.Equal(t, "4.5", bill.TotalKWh.String())
	assert.Equal(t, "95.00", bill.UsageChargePence.StringFixed(2))
	assert.Equal(t, "1365.00", bill.StandingChargePence.StringFixed(2))
	assert.Equal(t, "1460.00", bill.TotalAmountPence.StringFixed(2))
	for _, item := range bill.LineItems {
		assert.Equal(t, "m-1", item.MeterID)
		assert.Equal(t, "bill-1", item.BillID)
	}
	assert.Equal(t, "14.6", bill.TotalPounds().String())
}

func TestNewBill_NoMeters(t *testing.T) {
	bill, err := NewBill("bill-1", "cust-1", touTariff(), period(t, "2024-01-01", "2024-01-01"), []LineItem{
		StandingChargeLine(touTariff(), period(t, "2024-01-01", "2024-01-01")),
	}, CustomerMeters{}, MeterAttributionRepresentative, time.Now())
	require.NoError(t, err)
	assert.Empty(t, bill.LineItems[0].MeterID)
}

func TestNewBill_AttributionPolicy(t *testing.T) {
	p := period(t, "2024-01-01", "2024-01-01")
	items := []LineItem{StandingChargeLine(touTariff(), p)}
	meters := CustomerMeters{FirstPropertyID: "p-1", Meters: []Meter{{ID: "m-1", PropertyID: "p-1"}}}

	bill, err := NewBill("bill-1", "cust-1", touTariff(), p, items, meters, MeterAttributionNone, time.Now())
	require.NoError(t, err)
	assert.Empty(t, bill.LineItems[0].MeterID)

	_, err = NewBill("bill-1", "cust-1", touTariff(), p, items, meters, MeterAttribution("per-meter"), time.Now())
	assert.ErrorIs(t, err, ErrUnknownAttribution)
}

func TestCustomerMeters_Representative(t *testing.T) {
	cases := map[string]struct {
		meters CustomerMeters
		want   string
	}{
		"first meter of first property": {
			meters: CustomerMeters{FirstPropertyID: "p1", Meters: []Meter{{ID: "m1", PropertyID: "p1"}, {ID: "m2", PropertyID: "p2"}}},
			want:   "m1",
		},
		"first property has no meters": {
			meters: CustomerMeters{FirstPropertyID: "p1", Meters: []Meter{{ID: "m2", PropertyID: "p2"}}},
		},
		"no properties": {},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := tc.meters.Representative()
			if tc.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.ID)
		})
	}
}

func TestParseMeterAttribution(t *testing.T) {
	policy, err := ParseMeterAttribution("")
	require.NoError(t, err)
	assert.Equal(t, MeterAttributionRepresentative, policy)

	policy, err = ParseMeterAttribution("none")
	require.NoError(t, err)
	assert.Equal(t, MeterAttributionNone, policy)

	_, err = ParseMeterAttribution("per-meter")
	assert.ErrorIs(t, err, ErrUnknownAttribution)
}

func TestNewBill_RequiresCustomer(t *testing.T) {
	_, err := NewBill("bill-1", "", touTariff(), period(t, "2024-01-01", "2024-01-01"), nil, CustomerMeters{}, MeterAttributionRepresentative, time.Now())
	assert.ErrorIs(t, err, ErrEmptyCustomerID)
}

func TestBill_ReconcilesDetectsDrift(t *testing.T) {
	bill, err := NewBill("bill-1", "cust-1", touTariff(), period(t, "2024-01-01", "2024-01-02"), []LineItem{
		{Kind: LineItemUsage, KWh: d("1"), AmountPence: d("10")},
	}, CustomerMeters{}, MeterAttributionRepresentative, time.Now())
	require.NoError(t, err)
	bill.TotalAmountPence = d("10.01")
	assert.False(t, bill.Reconciles())
}

func TestPeriod(t *testing.T) {
	_, err := ParsePeriod("2024-02-01", "2024-01-31")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = ParsePeriod("2024-02-01", "nope")
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	p := period(t, "2024-03-30", "2024-03-31")
	assert.Equal(t, int64(1), p.Days())
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	// 23:30 UTC on 31 March is 00:30 BST on 1 April
	ts := time.Date(2024, time.March, 31, 23, 30, 0, 0, time.UTC)
	assert.True(t, p.ContainsLocalDate(ts, time.UTC))
	assert.False(t, p.ContainsLocalDate(ts, london))

	from, to := p.Bounds(london)
	assert.Equal(t, time.Date(2024, time.March, 30, 0, 0, 0, 0, time.UTC), from.UTC())
	assert.Equal(t, time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC), to.UTC())
}

func TestValidateRateBands(t *testing.T) {
	day := band("day", clock(t, "06:00"), clock(t, "20:00"), "30")
	night := band("night", clock(t, "20:00"), clock(t, "06:00"), "10")
	flat := band("flat", nil, nil, "20")

	assert.NoError(t, ValidateRateBands(TariffTimeOfUse, []RateBand{day, night}))
	assert.NoError(t, ValidateRateBands(TariffVariable, []RateBand{flat}))
	assert.ErrorIs(t, ValidateRateBands(TariffVariable, nil), ErrMissingRateBands)
	assert.ErrorIs(t, ValidateRateBands(TariffTimeOfUse, []RateBand{flat, day}), ErrInvalidRateBands)
	assert.ErrorIs(t, ValidateRateBands(TariffFixed, []RateBand{flat, band("flat2", nil, nil, "21")}), ErrInvalidRateBands)
	assert.ErrorIs(t, ValidateRateBands(TariffFixed, []RateBand{band("neg", nil, nil, "-1")}), ErrInvalidRateBands)
}

func TestValidateRateBands_RejectsDuplicateIDs(t *testing.T) {
	day := band("day", clock(t, "06:00"), clock(t, "20:00"), "30")
	again := band("day", clock(t, "20:00"), clock(t, "06:00"), "10")

	err := ValidateRateBands(TariffTimeOfUse, []RateBand{day, again})
	require.ErrorIs(t, err, ErrInvalidRateBands)
	assert.Contains(t, err.Error(), "duplicate band id day")
}
