package availability

import "time"

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Grid returns consecutive step-long intervals covering [windowStart, windowEnd),
// skipping any that touch one of the excluded intervals. A trailing remainder
// shorter than step is dropped.
//
// All times are expected to be in the same location (timezone).
func Grid(windowStart, windowEnd time.Time, step time.Duration, excluded []Interval) []Interval {
	if step <= 0 || !windowEnd.After(windowStart) {
		return nil
	}

	var slots []Interval
	for t := windowStart; !t.Add(step).After(windowEnd); t = t.Add(step) {
		slot := Interval{Start: t, End: t.Add(step)}
		if !overlapsAny(slot, excluded) {
			slots = append(slots, slot)
		}
	}
	return slots
}

func overlapsAny(iv Interval, others []Interval) bool {
	for _, o := range others {
		if iv.Overlaps(o) {
			return true
		}
	}
	return false
}
