package application

import (
	"context"
	"errors"
	"fmt"

	billing "energy-billing/internal/billing/domain"
)

// ResolvedTariff is the tariff pricing a period with its bands in match order.
type ResolvedTariff struct {
	Assignment billing.Assignment
	Tariff     billing.Tariff
	Bands      []billing.RateBand
}

// TariffResolver maps a customer and period to a single tariff.
type TariffResolver struct {
	assignments AssignmentReader
	tariffs     TariffReader
}

// NewTariffResolver constructs the resolver.
func NewTariffResolver(assignments AssignmentReader, tariffs TariffReader) (*TariffResolver, error) {
	if assignments == nil {
		return nil, errors.New("tariff resolver: nil assignment reader")
	}
	if tariffs == nil {
		return nil, errors.New("tariff resolver: nil tariff reader")
	}
	return &TariffResolver{assignments: assignments, tariffs: tariffs}, nil
}

// Resolve returns the applicable tariff and its sorted rate bands.
func (r *TariffResolver) Resolve(ctx context.Context, customerID string, period billing.Period) (*ResolvedTariff, error) {
	if customerID == "" {
		return nil, billing.ErrEmptyCustomerID
	}
	candidates, err := r.assignments.ListAssignments(ctx, customerID, period.End)
	if err != nil {
		return nil, err
	}
	assignment, ok := billing.SelectAssignment(candidates, period)
	if !ok {
		return nil, fmt.Errorf("%w: customer %s in %s", billing.ErrNoApplicableTariff, customerID, period)
	}

	tariff, err := r.tariffs.GetTariff(ctx, assignment.TariffID)
	if err != nil {
		return nil, err
	}
	if tariff == nil {
		return nil, fmt.Errorf("%w: %s", billing.ErrTariffNotFound, assignment.TariffID)
	}
	bands, err := r.tariffs.ListRateBands(ctx, tariff.ID)
	if err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: tariff %s", billing.ErrMissingRateBands, tariff.Code)
	}
	return &ResolvedTariff{
		Assignment: assignment,
		Tariff:     *tariff,
		Bands:      billing.SortRateBands(bands),
	}, nil
}
