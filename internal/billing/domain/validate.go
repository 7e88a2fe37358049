package billing

import "fmt"

// ValidateRateBands checks a band set at authoring time.
//
// The matcher short-circuits on the first unconditional band, so a
// time-of-use tariff may not mix an unconditional band with timed bands, and
// no tariff may carry more than one unconditional band.
func ValidateRateBands(kind TariffKind, bands []RateBand) error {
	if len(bands) == 0 {
		return ErrMissingRateBands
	}
	unconditional := 0
	seen := make(map[string]struct{}, len(bands))
	for _, band := range bands {
		if _, dup := seen[band.ID]; dup {
			return fmt.Errorf("%w: duplicate band id %s", ErrInvalidRateBands, band.ID)
		}
		seen[band.ID] = struct{}{}
		if band.RatePencePerKWh.IsNegative() {
			return fmt.Errorf("%w: band %s has a negative rate", ErrInvalidRateBands, band.ID)
		}
		if band.Start == nil {
			if band.End != nil {
				return fmt.Errorf("%w: band %s has an end but no start", ErrInvalidRateBands, band.ID)
			}
			unconditional++
		}
	}
	if unconditional > 1 {
		return fmt.Errorf("%w: %d unconditional bands", ErrInvalidRateBands, unconditional)
	}
	if kind == TariffTimeOfUse && unconditional == 1 && len(bands) > 1 {
		return fmt.Errorf("%w: time-of-use tariff mixes an unconditional band with timed bands", ErrInvalidRateBands)
	}
	return nil
}
