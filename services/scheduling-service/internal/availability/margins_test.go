package availability

import (
	"testing"
	"time"
)

func at(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

func iv(h, m, minutes int) Interval {
	s := at(h, m)
	return Interval{Start: s, End: s.Add(time.Duration(minutes) * time.Minute)}
}

func TestMarginConflicts(t *testing.T) {
	p := DefaultMargins()
	booked := iv(10, 0, 30)

	cases := []struct {
		name string
		cand Interval
		want bool
	}{
		{"ends exactly at the before margin", iv(9, 0, 30), false},
		{"enters the before margin", iv(9, 30, 30), true},
		{"same start", iv(10, 0, 30), true},
		{"inside the after margin", iv(10, 15, 30), true},
		{"starts inside the after margin", iv(10, 30, 30), true},
		{"starts when the after margin ends", iv(11, 0, 30), false},
		{"long candidate reaching into the booking", iv(8, 0, 150), true},
		{"earlier visit whose after margin covers the booking start", iv(9, 15, 15), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Conflicts(tc.cand, booked); got != tc.want {
				t.Fatalf("Conflicts(%s-%s) = %v, want %v", tc.cand.Start.Format("15:04"), tc.cand.End.Format("15:04"), got, tc.want)
			}
			if got := p.Conflicts(booked, tc.cand); got != tc.want {
				t.Fatalf("conflict must be symmetric for %s", tc.name)
			}
		})
	}
}

func TestProtectedWindowCoversLongAppointments(t *testing.T) {
	p := DefaultMargins()
	long := iv(10, 0, 120)
	prot := p.Protected(long)
	if !prot.Start.Equal(at(9, 30)) || !prot.End.Equal(at(12, 0)) {
		t.Fatalf("unexpected protected window %s-%s", prot.Start.Format("15:04"), prot.End.Format("15:04"))
	}
}

func TestSearchWindowContainsEveryConflict(t *testing.T) {
	p := DefaultMargins()
	cand := iv(12, 0, 30)
	win := p.SearchWindow(cand)
	for m := -6 * 60; m <= 6*60; m += 5 {
		for _, dur := range []int{15, 30, 90, 240} {
			other := Interval{Start: cand.Start.Add(time.Duration(m) * time.Minute)}
			other.End = other.Start.Add(time.Duration(dur) * time.Minute)
			if p.Conflicts(cand, other) && !other.Overlaps(win) {
				t.Fatalf("conflicting %s-%s falls outside search window", other.Start.Format("15:04"), other.End.Format("15:04"))
			}
		}
	}
}
