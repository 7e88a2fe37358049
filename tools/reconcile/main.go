package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	billing "energy-billing/internal/billing/domain"
)

type config struct {
	dbURL      string
	month      string
	customerID string
	outDir     string
}

type billRow struct {
	ID                  string
	CustomerID          string
	PeriodStart         time.Time
	PeriodEnd           time.Time
	Status              string
	TotalKWh            decimal.Decimal
	UsageChargePence    decimal.Decimal
	StandingChargePence decimal.Decimal
	TotalAmountPence    decimal.Decimal
}

type reportRow struct {
	Bill      billRow
	Items     int
	Derived   billing.BillTotals
	Reconcile bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	monthStart, monthEnd, err := parseMonth(cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx := context.Background()
	bills, err := loadBills(ctx, db, monthStart, monthEnd, cfg.customerID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load bills:", err)
		os.Exit(2)
	}
	items, err := loadLineItems(ctx, db, monthStart, monthEnd, cfg.customerID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load line items:", err)
		os.Exit(2)
	}

	report := reconcile(bills, items)
	if err := writeReport(cfg.outDir, report); err != nil {
		fmt.Fprintln(os.Stderr, "write report:", err)
		os.Exit(2)
	}

	mismatched := 0
	for _, row := range report {
		if !row.Reconcile {
			mismatched++
		}
	}
	fmt.Printf("Reconciled %d bills (%d mismatched), report written to %s\n", len(report), mismatched, cfg.outDir)
	if mismatched > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.month, "month", "", "billing month in YYYY-MM, matched on period start")
	flag.StringVar(&cfg.customerID, "customer", "", "customer id (optional)")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.month == "" {
		return cfg, errors.New("missing --month (YYYY-MM)")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseMonth(value string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("month must be YYYY-MM")
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

func loadBills(ctx context.Context, db *sql.DB, from, to time.Time, customerID string) ([]billRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, customer_id, period_start, period_end, status,
       total_kwh, usage_charge_pence, standing_charge_pence, total_amount_pence
FROM bills
WHERE period_start >= $1 AND period_start < $2 AND ($3 = '' OR customer_id = $3)
ORDER BY customer_id, period_start, id`, from, to, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billRow
	for rows.Next() {
		var b billRow
		if err := rows.Scan(&b.ID, &b.CustomerID, &b.PeriodStart, &b.PeriodEnd, &b.Status,
			&b.TotalKWh, &b.UsageChargePence, &b.StandingChargePence, &b.TotalAmountPence); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func loadLineItems(ctx context.Context, db *sql.DB, from, to time.Time, customerID string) (map[string][]billing.LineItem, error) {
	rows, err := db.QueryContext(ctx, `
SELECT li.bill_id, li.kind, li.kwh, li.amount_pence
FROM bill_line_items li
JOIN bills b ON b.id = li.bill_id
WHERE b.period_start >= $1 AND b.period_start < $2 AND ($3 = '' OR b.customer_id = $3)
ORDER BY li.bill_id, li.line_no`, from, to, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]billing.LineItem)
	for rows.Next() {
		var item billing.LineItem
		var kind string
		if err := rows.Scan(&item.BillID, &kind, &item.KWh, &item.AmountPence); err != nil {
			return nil, err
		}
		item.Kind = billing.LineItemKind(kind)
		result[item.BillID] = append(result[item.BillID], item)
	}
	return result, rows.Err()
}

// reconcile re-derives header totals from line items for every bill.
func reconcile(bills []billRow, items map[string][]billing.LineItem) []reportRow {
	report := make([]reportRow, 0, len(bills))
	for _, b := range bills {
		derived := billing.Totals(items[b.ID])
		report = append(report, reportRow{
			Bill:    b,
			Items:   len(items[b.ID]),
			Derived: derived,
			Reconcile: derived.TotalKWh.Equal(b.TotalKWh) &&
				derived.UsageChargePence.Equal(b.UsageChargePence) &&
				derived.StandingChargePence.Equal(b.StandingChargePence) &&
				derived.TotalAmountPence.Equal(b.TotalAmountPence),
		})
	}
	return report
}

func writeReport(outDir string, rows []reportRow) error {
	path := filepath.Join(outDir, "bill_reconcile.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeCSV(file, rows); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeCSV(w io.Writer, rows []reportRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"bill_id",
		"customer_id",
		"period_start",
		"period_end",
		"status",
		"line_items",
		"total_kwh",
		"derived_total_kwh",
		"total_amount_pence",
		"derived_total_amount_pence",
		"reconciles",
	}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.Bill.ID,
			row.Bill.CustomerID,
			formatDate(row.Bill.PeriodStart),
			formatDate(row.Bill.PeriodEnd),
			row.Bill.Status,
			fmt.Sprintf("%d", row.Items),
			row.Bill.TotalKWh.String(),
			row.Derived.TotalKWh.String(),
			row.Bill.TotalAmountPence.StringFixed(2),
			row.Derived.TotalAmountPence.StringFixed(2),
			fmt.Sprintf("%t", row.Reconcile),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02")
}
