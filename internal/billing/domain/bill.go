package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus is the lifecycle status of a bill. Transitions past draft are
// handled outside the engine.
type BillStatus string

const (
	BillStatusDraft  BillStatus = "draft"
	BillStatusIssued BillStatus = "issued"
	BillStatusPaid   BillStatus = "paid"
	BillStatusVoid   BillStatus = "void"
)

// LineItemKind separates usage lines from the standing charge line.
type LineItemKind string

const (
	LineItemUsage          LineItemKind = "usage"
	LineItemStandingCharge LineItemKind = "standing_charge"
)

// LineItem is one itemised charge on a bill.
type LineItem struct {
	BillID          string          `json:"bill_id"`
	MeterID         string          `json:"meter_id,omitempty"`
	TariffID        string          `json:"tariff_id"`
	Kind            LineItemKind    `json:"kind"`
	Description     string          `json:"description"`
	RateBandLabel   string          `json:"rate_band_label"`
	KWh             decimal.Decimal `json:"kwh"`
	RatePencePerKWh decimal.Decimal `json:"rate_pence_per_kwh"`
	AmountPence     decimal.Decimal `json:"amount_pence"`
}

// Bill is a customer bill for an inclusive date period.
type Bill struct {
	ID                  string          `json:"id"`
	CustomerID          string          `json:"customer_id"`
	TariffID            string          `json:"tariff_id"`
	PeriodStart         time.Time       `json:"period_start"`
	PeriodEnd           time.Time       `json:"period_end"`
	Status              BillStatus      `json:"status"`
	TotalKWh            decimal.Decimal `json:"total_kwh"`
	StandingChargePence decimal.Decimal `json:"standing_charge_pence"`
	UsageChargePence    decimal.Decimal `json:"usage_charge_pence"`
	TotalAmountPence    decimal.Decimal `json:"total_amount_pence"`
	CreatedAt           time.Time       `json:"created_at"`
	LineItems           []LineItem      `json:"line_items"`
}

// NewBill assembles a draft bill whose header totals are derived from items.
// Items are attributed to a meter according to policy.
func NewBill(id, customerID string, tariff Tariff, period Period, items []LineItem, meters CustomerMeters, policy MeterAttribution, now time.Time) (*Bill, error) {
	if customerID == "" {
		return nil, ErrEmptyCustomerID
	}
	meter, err := meters.Attribute(policy)
	if err != nil {
		return nil, err
	}
	lines := make([]LineItem, len(items))
	for i, item := range items {
		item.BillID = id
		if meter != nil {
			item.MeterID = meter.ID
		}
		lines[i] = item
	}
	totals := Totals(lines)
	return &Bill{
		ID:                  id,
		CustomerID:          customerID,
		TariffID:            tariff.ID,
		PeriodStart:         period.Start,
		PeriodEnd:           period.End,
		Status:              BillStatusDraft,
		TotalKWh:            totals.TotalKWh,
		StandingChargePence: totals.StandingChargePence,
		UsageChargePence:    totals.UsageChargePence,
		TotalAmountPence:    totals.TotalAmountPence,
		CreatedAt:           now.UTC(),
		LineItems:           lines,
	}, nil
}

// Reconciles reports whether header totals equal the sums of the line items.
func (b *Bill) Reconciles() bool {
	if b == nil {
		return false
	}
	totals := Totals(b.LineItems)
	return b.TotalKWh.Equal(totals.TotalKWh) && b.TotalAmountPence.Equal(totals.TotalAmountPence)
}

// TotalPounds converts the total to pounds for display.
func (b *Bill) TotalPounds() decimal.Decimal {
	return b.TotalAmountPence.Div(decimal.NewFromInt(100)).Round(2)
}
