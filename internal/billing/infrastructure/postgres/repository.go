package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	billing "energy-billing/internal/billing/domain"
)

const (
	uniqueViolation      = "23505"
	billPeriodConstraint = "uq_bills_customer_period"
)

// Store persists billing data in Postgres. It satisfies application.Store.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListAssignments returns assignments starting on or before periodEnd.
func (s *Store) ListAssignments(ctx context.Context, customerID string, periodEnd time.Time) ([]billing.Assignment, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, customer_id, tariff_id, effective_from, effective_to
FROM customer_tariffs
WHERE customer_id = $1 AND effective_from <= $2
ORDER BY effective_from DESC, id ASC`, customerID, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Assignment
	for rows.Next() {
		var a billing.Assignment
		var to sql.NullTime
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.TariffID, &a.EffectiveFrom, &to); err != nil {
			return nil, err
		}
		a.EffectiveFrom = a.EffectiveFrom.UTC()
		if to.Valid {
			end := to.Time.UTC()
			a.EffectiveTo = &end
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetTariff returns nil when the tariff does not exist.
func (s *Store) GetTariff(ctx context.Context, tariffID string) (*billing.Tariff, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, code, fuel_type, tariff_type, standing_charge_pence, is_active, valid_from, valid_to
FROM tariffs
WHERE id = $1`, tariffID)

	var t billing.Tariff
	var kind string
	var validTo sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.FuelType, &kind, &t.StandingChargePence, &t.Active, &t.ValidFrom, &validTo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if t.Kind, err = billing.ParseTariffKind(kind); err != nil {
		return nil, err
	}
	t.ValidFrom = t.ValidFrom.UTC()
	if validTo.Valid {
		to := validTo.Time.UTC()
		t.ValidTo = &to
	}
	return &t, nil
}

// ListRateBands returns the tariff's bands. Times are read as text so the
// driver's TIME representation does not leak in.
func (s *Store) ListRateBands(ctx context.Context, tariffID string) ([]billing.RateBand, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tariff_id, label,
	to_char(start_time, 'HH24:MI:SS'), to_char(end_time, 'HH24:MI:SS'),
	rate_pence_per_kwh
FROM rate_bands
WHERE tariff_id = $1
ORDER BY start_time ASC NULLS FIRST, id ASC`, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.RateBand
	for rows.Next() {
		var b billing.RateBand
		var start, end sql.NullString
		if err := rows.Scan(&b.ID, &b.TariffID, &b.Label, &start, &end, &b.RatePencePerKWh); err != nil {
			return nil, err
		}
		if b.Start, err = parseClock(start); err != nil {
			return nil, err
		}
		if b.End, err = parseClock(end); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListCustomerMeters returns meters ordered by property postcode then MPAN,
// with the first property in that order named even when it has no meters.
func (s *Store) ListCustomerMeters(ctx context.Context, customerID string) (billing.CustomerMeters, error) {
	if s == nil || s.db == nil {
		return billing.CustomerMeters{}, errors.New("billing store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, m.id, m.mpan, m.serial_number, m.fuel_type
FROM properties p
LEFT JOIN meters m ON m.property_id = p.id
WHERE p.customer_id = $1
ORDER BY p.postcode ASC, p.id ASC, m.mpan ASC NULLS LAST`, customerID)
	if err != nil {
		return billing.CustomerMeters{}, err
	}
	defer rows.Close()

	var result billing.CustomerMeters
	for rows.Next() {
		var (
			propertyID string
			meterID    sql.NullString
			mpan       sql.NullString
			serial     sql.NullString
			fuel       sql.NullString
		)
		if err := rows.Scan(&propertyID, &meterID, &mpan, &serial, &fuel); err != nil {
			return billing.CustomerMeters{}, err
		}
		if result.FirstPropertyID == "" {
			result.FirstPropertyID = propertyID
		}
		if !meterID.Valid {
			continue
		}
		result.Meters = append(result.Meters, billing.Meter{
			ID:           meterID.String,
			PropertyID:   propertyID,
			MPAN:         mpan.String,
			SerialNumber: serial.String,
			FuelType:     billing.FuelType(fuel.String),
		})
	}
	if err := rows.Err(); err != nil {
		return billing.CustomerMeters{}, err
	}
	return result, nil
}

// ListReadings returns readings for meterIDs in [from, to), ascending by timestamp.
func (s *Store) ListReadings(ctx context.Context, meterIDs []string, from, to time.Time) ([]billing.Reading, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	if len(meterIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(meterIDs)+2)
	args = append(args, from, to)
	placeholders := make([]string, 0, len(meterIDs))
	for i, id := range meterIDs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+3))
		args = append(args, id)
	}
	query := fmt.Sprintf(`
SELECT meter_id, ts, value_kwh, reading_type
FROM meter_readings
WHERE ts >= $1 AND ts < $2 AND meter_id IN (%s)
ORDER BY ts ASC, meter_id ASC`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Reading
	for rows.Next() {
		var r billing.Reading
		if err := rows.Scan(&r.MeterID, &r.Timestamp, &r.ValueKWh, &r.Type); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateBillAtomic inserts the bill and its line items in one transaction.
// The unique (customer_id, period_start, period_end) constraint maps to
// billing.ErrDuplicateBill.
func (s *Store) CreateBillAtomic(ctx context.Context, bill *billing.Bill) error {
	if s == nil || s.db == nil {
		return errors.New("billing store: nil db")
	}
	if bill == nil {
		return billing.ErrNilBill
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO bills (
	id, customer_id, tariff_id, period_start, period_end, status,
	total_kwh, standing_charge_pence, usage_charge_pence, total_amount_pence, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`,
		bill.ID, bill.CustomerID, bill.TariffID, bill.PeriodStart, bill.PeriodEnd, string(bill.Status),
		bill.TotalKWh, bill.StandingChargePence, bill.UsageChargePence, bill.TotalAmountPence, bill.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return mapInsertError(err)
	}
	for i, item := range bill.LineItems {
		_, err := tx.ExecContext(ctx, `
INSERT INTO bill_line_items (
	bill_id, line_no, meter_id, tariff_id, kind, description, rate_band_label,
	kwh, rate_pence_per_kwh, amount_pence
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			bill.ID, i+1, nullString(item.MeterID), item.TariffID, string(item.Kind), item.Description, item.RateBandLabel,
			item.KWh, item.RatePencePerKWh, item.AmountPence)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return mapInsertError(tx.Commit())
}

// GetBill returns nil when the bill does not exist.
func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, customer_id, tariff_id, period_start, period_end, status,
	total_kwh, standing_charge_pence, usage_charge_pence, total_amount_pence, created_at
FROM bills
WHERE id = $1`, id)
	bill, err := scanBill(row)
	if err != nil || bill == nil {
		return nil, err
	}
	if bill.LineItems, err = s.listLineItems(ctx, bill.ID); err != nil {
		return nil, err
	}
	return bill, nil
}

// ListBills returns a customer's bill headers, newest period first. Line
// items are not loaded.
func (s *Store) ListBills(ctx context.Context, customerID string) ([]billing.Bill, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, customer_id, tariff_id, period_start, period_end, status,
	total_kwh, standing_charge_pence, usage_charge_pence, total_amount_pence, created_at
FROM bills
WHERE customer_id = $1
ORDER BY period_start DESC, created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]billing.Bill, 0)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		if bill != nil {
			result = append(result, *bill)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListBillableCustomers returns customers with an assignment starting on or
// before periodEnd.
func (s *Store) ListBillableCustomers(ctx context.Context, periodEnd time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("billing store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT customer_id
FROM customer_tariffs
WHERE effective_from <= $1
ORDER BY customer_id ASC`, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) listLineItems(ctx context.Context, billID string) ([]billing.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT bill_id, meter_id, tariff_id, kind, description, rate_band_label,
	kwh, rate_pence_per_kwh, amount_pence
FROM bill_line_items
WHERE bill_id = $1
ORDER BY line_no ASC`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.LineItem
	for rows.Next() {
		var item billing.LineItem
		var meterID sql.NullString
		if err := rows.Scan(&item.BillID, &meterID, &item.TariffID, &item.Kind, &item.Description, &item.RateBandLabel,
			&item.KWh, &item.RatePencePerKWh, &item.AmountPence); err != nil {
			return nil, err
		}
		item.MeterID = meterID.String
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*billing.Bill, error) {
	var bill billing.Bill
	err := row.Scan(
		&bill.ID,
		&bill.CustomerID,
		&bill.TariffID,
		&bill.PeriodStart,
		&bill.PeriodEnd,
		&bill.Status,
		&bill.TotalKWh,
		&bill.StandingChargePence,
		&bill.UsageChargePence,
		&bill.TotalAmountPence,
		&bill.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	bill.PeriodStart = bill.PeriodStart.UTC()
	bill.PeriodEnd = bill.PeriodEnd.UTC()
	bill.CreatedAt = bill.CreatedAt.UTC()
	return &bill, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == billPeriodConstraint {
		return fmt.Errorf("%w: %s", billing.ErrDuplicateBill, pgErr.ConstraintName)
	}
	return err
}

func parseClock(value sql.NullString) (*billing.TimeOfDay, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := billing.ParseTimeOfDay(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
