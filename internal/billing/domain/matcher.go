package billing

// MatchRateBand picks the band pricing a reading taken at local time t.
//
// Non time-of-use tariffs and single-band lists always price at the first
// band. Otherwise bands are scanned in order: an unconditional band matches
// immediately wherever it sits, timed bands match their window (wrapping past
// midnight when start > end), and when nothing matches the first band is used.
// The boolean is false only for an empty band list.
func MatchRateBand(kind TariffKind, bands []RateBand, t TimeOfDay) (RateBand, bool) {
	if len(bands) == 0 {
		return RateBand{}, false
	}
	if kind != TariffTimeOfUse || len(bands) <= 1 {
		return bands[0], true
	}
	for _, band := range bands {
		if band.Contains(t) {
			return band, true
		}
	}
	return bands[0], true
}
