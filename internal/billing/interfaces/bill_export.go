package interfaces

import (
	"bytes"
	"time"

	"github.com/xuri/excelize/v2"

	billing "energy-billing/internal/billing/domain"
)

// BuildBillXLSX renders a bill as a workbook with a summary and a line item sheet.
func BuildBillXLSX(bill *billing.Bill, loc *time.Location) ([]byte, error) {
	if bill == nil {
		return nil, billing.ErrNilBill
	}
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	itemsSheet := "line_items"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Bill", bill.ID},
		{"Customer", bill.CustomerID},
		{"Tariff", bill.TariffID},
		{"Period start", bill.PeriodStart.Format("2006-01-02")},
		{"Period end", bill.PeriodEnd.Format("2006-01-02")},
		{"Status", string(bill.Status)},
		{"Generated", bill.CreatedAt.In(loc).Format(time.RFC3339)},
		{"Total kWh", bill.TotalKWh.InexactFloat64()},
		{"Usage charge (p)", bill.UsageChargePence.InexactFloat64()},
		{"Standing charge (p)", bill.StandingChargePence.InexactFloat64()},
		{"Total (p)", bill.TotalAmountPence.InexactFloat64()},
		{"Total (GBP)", bill.TotalPounds().InexactFloat64()},
	}
	if err := f.SetCellValue(summarySheet, "A1", "Energy Bill"); err != nil {
		return nil, err
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+3, row[0], row[1]); err != nil {
			return nil, err
		}
	}

	if err := setRow(f, itemsSheet, 1, "Kind", "Description", "Rate band", "Meter", "kWh", "Rate (p/kWh)", "Amount (p)"); err != nil {
		return nil, err
	}
	for i, item := range bill.LineItems {
		err := setRow(f, itemsSheet, i+2,
			string(item.Kind),
			item.Description,
			item.RateBandLabel,
			item.MeterID,
			item.KWh.InexactFloat64(),
			item.RatePencePerKWh.InexactFloat64(),
			item.AmountPence.InexactFloat64(),
		)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}
