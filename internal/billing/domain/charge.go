package billing

import "github.com/shopspring/decimal"

// penceScale is the number of decimal places money is held to.
const penceScale = 2

// RoundPence rounds to two decimal places of a penny, ties to even.
func RoundPence(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(penceScale)
}

// AmountPence prices kwh at rate pence per kWh.
func AmountPence(kwh, ratePencePerKWh decimal.Decimal) decimal.Decimal {
	return RoundPence(kwh.Mul(ratePencePerKWh))
}

// StandingCharge prices the daily standing charge over days.
func StandingCharge(pencePerDay decimal.Decimal, days int64) decimal.Decimal {
	return RoundPence(pencePerDay.Mul(decimal.NewFromInt(days)))
}

// BillTotals are the header figures derived from a full line item set.
type BillTotals struct {
	TotalKWh            decimal.Decimal
	UsageChargePence    decimal.Decimal
	StandingChargePence decimal.Decimal
	TotalAmountPence    decimal.Decimal
}

// Totals sums line items. Usage charge counts only lines with positive kWh.
func Totals(items []LineItem) BillTotals {
	totals := BillTotals{
		TotalKWh:            decimal.Zero,
		UsageChargePence:    decimal.Zero,
		StandingChargePence: decimal.Zero,
		TotalAmountPence:    decimal.Zero,
	}
	for _, item := range items {
		totals.TotalKWh = totals.TotalKWh.Add(item.KWh)
		totals.TotalAmountPence = totals.TotalAmountPence.Add(item.AmountPence)
		if item.KWh.IsPositive() {
			totals.UsageChargePence = totals.UsageChargePence.Add(item.AmountPence)
		}
		if item.Kind == LineItemStandingCharge {
			totals.StandingChargePence = totals.StandingChargePence.Add(item.AmountPence)
		}
	}
	return totals
}
