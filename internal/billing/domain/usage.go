package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricingPlan is how usage is priced for a tariff. Implementations are
// FlatPlan and TimeOfUsePlan only.
type PricingPlan interface {
	pricingPlan()
}

// FlatPlan prices all usage at a single band.
type FlatPlan struct {
	Tariff Tariff
	Band   RateBand
}

// TimeOfUsePlan prices each reading by the band matching its local time.
type TimeOfUsePlan struct {
	Tariff Tariff
	Bands  []RateBand
}

func (FlatPlan) pricingPlan()      {}
func (TimeOfUsePlan) pricingPlan() {}

// PlanFor selects the pricing plan. Time-of-use pricing needs both a
// time_of_use tariff and more than one band; everything else is flat at the
// first band.
func PlanFor(tariff Tariff, bands []RateBand) (PricingPlan, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: tariff %s", ErrMissingRateBands, tariff.Code)
	}
	if tariff.Kind == TariffTimeOfUse && len(bands) > 1 {
		return TimeOfUsePlan{Tariff: tariff, Bands: bands}, nil
	}
	return FlatPlan{Tariff: tariff, Band: bands[0]}, nil
}

// AggregateUsage turns readings into usage line items. Readings are read in
// loc to find their time of day.
func AggregateUsage(plan PricingPlan, readings []Reading, loc *time.Location) []LineItem {
	if loc == nil {
		loc = time.UTC
	}
	switch p := plan.(type) {
	case FlatPlan:
		return []LineItem{flatUsage(p, readings)}
	case TimeOfUsePlan:
		return timeOfUseUsage(p, readings, loc)
	default:
		panic(fmt.Sprintf("billing: unhandled pricing plan %T", plan))
	}
}

// flatUsage always yields one line, even at zero kWh.
func flatUsage(p FlatPlan, readings []Reading) LineItem {
	total := decimal.Zero
	for _, r := range readings {
		total = total.Add(r.ValueKWh)
	}
	label := p.Band.Label
	if label == "" {
		label = "Standard"
	}
	return LineItem{
		TariffID:        p.Tariff.ID,
		Kind:            LineItemUsage,
		Description:     fmt.Sprintf("%s - usage", p.Tariff.Name),
		RateBandLabel:   label,
		KWh:             total,
		RatePencePerKWh: p.Band.RatePencePerKWh,
		AmountPence:     AmountPence(total, p.Band.RatePencePerKWh),
	}
}

// timeOfUseUsage buckets by band id, which ValidateRateBands keeps unique.
func timeOfUseUsage(p TimeOfUsePlan, readings []Reading, loc *time.Location) []LineItem {
	usage := make(map[string]decimal.Decimal, len(p.Bands))
	for _, r := range readings {
		band, ok := MatchRateBand(TariffTimeOfUse, p.Bands, TimeOfDayOf(r.Timestamp.In(loc)))
		if !ok {
			continue
		}
		usage[band.ID] = usage[band.ID].Add(r.ValueKWh)
	}

	items := make([]LineItem, 0, len(p.Bands))
	for _, band := range p.Bands {
		kwh, ok := usage[band.ID]
		if !ok || !kwh.IsPositive() {
			continue
		}
		label := band.Label
		if label == "" {
			label = "Band"
		}
		items = append(items, LineItem{
			TariffID:        p.Tariff.ID,
			Kind:            LineItemUsage,
			Description:     fmt.Sprintf("%s - %s usage", p.Tariff.Name, label),
			RateBandLabel:   band.Label,
			KWh:             kwh,
			RatePencePerKWh: band.RatePencePerKWh,
			AmountPence:     AmountPence(kwh, band.RatePencePerKWh),
		})
	}
	return items
}

// StandingChargeLine builds the standing charge line for the period.
func StandingChargeLine(tariff Tariff, period Period) LineItem {
	days := period.Days()
	return LineItem{
		TariffID:        tariff.ID,
		Kind:            LineItemStandingCharge,
		Description:     fmt.Sprintf("Standing charge (%d days x %sp/day)", days, tariff.StandingChargePence.String()),
		KWh:             decimal.Zero,
		RatePencePerKWh: decimal.Zero,
		AmountPence:     StandingCharge(tariff.StandingChargePence, days),
	}
}
