package assessment

// DefaultMaxSignals caps how many records survive normalization.
const DefaultMaxSignals = 10

// Normalize converts raw domain records into a bounded, null-stripped signal
// list suitable for prompting. Keys with nil values are dropped (imperfect
// upstream extraction leaves them behind), input order is preserved, and the
// result is capped at max entries keeping the most recent (records arrive
// oldest first). Pure: absent or empty input yields an empty slice, never an
// error.
func Normalize(records []Signal, max int) []Signal {
	if max <= 0 {
		max = DefaultMaxSignals
	}
	if len(records) == 0 {
		return []Signal{}
	}

	start := 0
	if len(records) > max {
		start = len(records) - max
	}

	out := make([]Signal, 0, len(records)-start)
	for _, rec := range records[start:] {
		clean := make(Signal, len(rec))
		for k, v := range rec {
			if v == nil {
				continue
			}
			clean[k] = v
		}
		out = append(out, clean)
	}
	return out
}
