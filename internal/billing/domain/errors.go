package billing

import "errors"

var (
	// ErrNoApplicableTariff is returned when no assignment covers the period.
	ErrNoApplicableTariff = errors.New("billing: no applicable tariff")
	// ErrMissingRateBands is returned when the resolved tariff has no rate bands.
	ErrMissingRateBands = errors.New("billing: tariff has no rate bands")
	// ErrDuplicateBill is returned when a bill already exists for the customer and period.
	ErrDuplicateBill = errors.New("billing: bill already exists for period")
	// ErrEmptyCustomerID is returned when customer id is empty.
	ErrEmptyCustomerID = errors.New("billing: empty customer id")
	// ErrInvalidPeriod is returned when the period is zero or ends before it starts.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrBillNotFound is returned when a bill is not found.
	ErrBillNotFound = errors.New("billing: bill not found")
	// ErrTariffNotFound is returned when an assignment points to a missing tariff.
	ErrTariffNotFound = errors.New("billing: tariff not found")
	// ErrInvalidRateBands is returned when a tariff's band set is not authorable.
	ErrInvalidRateBands = errors.New("billing: invalid rate bands")
	// ErrUnknownAttribution is returned for an unrecognised meter attribution policy.
	ErrUnknownAttribution = errors.New("billing: unknown meter attribution")
	// ErrNilBill is returned when persisting a nil bill.
	ErrNilBill = errors.New("billing: nil bill")
)
