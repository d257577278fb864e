package availability

import "time"

const (
	DefaultMarginBefore = 30 * time.Minute
	DefaultMarginAfter  = 60 * time.Minute
)

// MarginPolicy keeps buffer time around booked appointments. An appointment
// protects [start-Before, max(start+After, end)); two appointments conflict
// when either one's own interval enters the other's protected window.
type MarginPolicy struct {
	Before time.Duration
	After  time.Duration
}

func DefaultMargins() MarginPolicy {
	return MarginPolicy{Before: DefaultMarginBefore, After: DefaultMarginAfter}
}

func (p MarginPolicy) Protected(iv Interval) Interval {
	end := iv.Start.Add(p.After)
	if iv.End.After(end) {
		end = iv.End
	}
	return Interval{Start: iv.Start.Add(-p.Before), End: end}
}

func (p MarginPolicy) Conflicts(a, b Interval) bool {
	return a.Overlaps(p.Protected(b)) || b.Overlaps(p.Protected(a))
}

// SearchWindow bounds the raw intervals that can possibly conflict with iv.
// Callers query storage with it and then filter with Conflicts.
func (p MarginPolicy) SearchWindow(iv Interval) Interval {
	prot := p.Protected(iv)
	return Interval{Start: iv.Start.Add(-p.After - p.Before), End: prot.End.Add(p.Before)}
}
