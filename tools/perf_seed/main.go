package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"energy-billing/internal/observability/logger"
)

const (
	flatTariffID = "t-perf-svt"
	touTariffID  = "t-perf-eco7"
	slotsPerDay  = 48
)

type config struct {
	dsn            string
	baseURL        string
	token          string
	customerPrefix string
	customerCount  int
	startDate      string
	days           int
	generateAll    bool
	reportOut      string
}

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "console"})
	defer func() { _ = log.Sync() }()

	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.customerCount <= 0 {
		log.Fatal("customer-count must be > 0")
	}
	if cfg.days <= 0 {
		log.Fatal("days must be > 0")
	}
	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		log.Fatal("invalid start-date", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := seedTariffs(ctx, db, start); err != nil {
		log.Fatal("seed tariffs", zap.Error(err))
	}
	customers := buildCustomerIDs(cfg.customerPrefix, cfg.customerCount)
	for idx, customerID := range customers {
		if err := seedCustomer(ctx, db, idx, customerID, start, cfg.days); err != nil {
			log.Fatal("seed customer", zap.String("customer_id", customerID), zap.Error(err))
		}
		log.Info("seeded customer",
			zap.String("customer_id", customerID),
			zap.Int("n", idx+1),
			zap.Int("of", len(customers)))
	}

	if cfg.generateAll {
		if cfg.baseURL == "" {
			log.Fatal("base-url is required when generate-all is enabled")
		}
		end := start.AddDate(0, 0, cfg.days-1)
		report, err := generateAll(ctx, cfg.baseURL, cfg.token, start, end)
		if err != nil {
			log.Fatal("generate all", zap.Error(err))
		}
		if err := writeFile(cfg.reportOut, report); err != nil {
			log.Fatal("write report", zap.Error(err))
		}
		log.Info("batch report written", zap.String("path", cfg.reportOut))
	}
	log.Info("perf seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for batch generation")
	flag.StringVar(&cfg.token, "token", envOrDefault("AUTH_TOKEN", ""), "bearer token with admin role")
	flag.StringVar(&cfg.customerPrefix, "customer-prefix", envOrDefault("CUSTOMER_PREFIX", "cust-perf-"), "customer id prefix")
	flag.IntVar(&cfg.customerCount, "customer-count", envOrInt("CUSTOMER_COUNT", 100), "number of customers to seed")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "first billed date (YYYY-MM-DD)")
	flag.IntVar(&cfg.days, "days", envOrInt("DAYS", 30), "number of days of half-hourly readings")
	flag.BoolVar(&cfg.generateAll, "generate-all", envOrBool("GENERATE_ALL", false), "run batch generation via API")
	flag.StringVar(&cfg.reportOut, "report-out", envOrDefault("REPORT_OUT", "./out/batch_report.json"), "batch report output path")
	flag.Parse()
	return cfg
}

func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0), nil
	}
	return time.Parse("2006-01-02", value)
}

func buildCustomerIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%05d", prefix, i))
	}
	return list
}

func seedTariffs(ctx context.Context, db *sql.DB, validFrom time.Time) error {
	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO tariffs (id, name, code, tariff_type, standing_charge_pence, valid_from)
VALUES ($1, 'Perf Standard Variable', 'PERF-SVT', 'variable', 51.56, $2) ON CONFLICT (id) DO NOTHING`, []any{flatTariffID, validFrom}},
		{`INSERT INTO rate_bands (id, tariff_id, label, rate_pence_per_kwh)
VALUES ('perf-svt-std', $1, 'Standard', 24.5) ON CONFLICT (id) DO NOTHING`, []any{flatTariffID}},
		{`INSERT INTO tariffs (id, name, code, tariff_type, standing_charge_pence, valid_from)
VALUES ($1, 'Perf Economy 7', 'PERF-ECO7', 'time_of_use', 45.5, $2) ON CONFLICT (id) DO NOTHING`, []any{touTariffID, validFrom}},
		{`INSERT INTO rate_bands (id, tariff_id, label, start_time, end_time, rate_pence_per_kwh)
VALUES ('perf-eco7-day', $1, 'Day', '07:00', '00:00', 30) ON CONFLICT (id) DO NOTHING`, []any{touTariffID}},
		{`INSERT INTO rate_bands (id, tariff_id, label, start_time, end_time, rate_pence_per_kwh)
VALUES ('perf-eco7-night', $1, 'Night', '00:00', '07:00', 10) ON CONFLICT (id) DO NOTHING`, []any{touTariffID}},
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return err
		}
	}
	return nil
}

func seedCustomer(ctx context.Context, db *sql.DB, idx int, customerID string, start time.Time, days int) error {
	tariffID := flatTariffID
	if idx%2 == 1 {
		tariffID = touTariffID
	}
	propertyID := "prop-" + customerID
	meterID := "meter-" + customerID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO customers (id, account_number, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		customerID, "ACC-"+customerID, "Perf "+customerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO customer_tariffs (id, customer_id, tariff_id, effective_from) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		"assign-"+customerID, customerID, tariffID, start); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO properties (id, customer_id, postcode) VALUES ($1, $2, 'SW1A 1AA') ON CONFLICT (id) DO NOTHING`,
		propertyID, customerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO meters (id, property_id, mpan) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		meterID, propertyID, fmt.Sprintf("99%011d", idx+1)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO meter_readings (meter_id, ts, value_kwh) VALUES ($1, $2, $3)
ON CONFLICT (meter_id, ts) DO UPDATE SET value_kwh = EXCLUDED.value_kwh`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for slot := 0; slot < days*slotsPerDay; slot++ {
		ts := start.Add(time.Duration(slot) * 30 * time.Minute)
		if _, err := stmt.ExecContext(ctx, meterID, ts, readingValue(idx, slot)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// readingValue is deterministic so seeded runs bill identically.
func readingValue(idx, slot int) decimal.Decimal {
	return decimal.New(int64(10+5*((idx+slot)%10)), -2)
}

func generateAll(ctx context.Context, baseURL, token string, start, end time.Time) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Minute}
	payload, _ := json.Marshal(map[string]string{
		"period_start": start.Format("2006-01-02"),
		"period_end":   end.Format("2006-01-02"),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/bills/generate-all", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generate-all failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func writeFile(path string, data []byte) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
