// Package availability turns weekly templates into bookable slots.
package availability

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

const DefaultGranularity = 30 * time.Minute

type Repository interface {
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	GetTemplate(ctx context.Context, providerID string) (model.WeeklyTemplate, error)
	FindOverlapping(ctx context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error)
}

type Engine struct {
	repo        Repository
	margins     MarginPolicy
	granularity time.Duration
	now         func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(repo Repository, margins MarginPolicy, granularity time.Duration, opts ...Option) *Engine {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	e := &Engine{repo: repo, margins: margins, granularity: granularity, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DaySlots returns every template slot on date's calendar day (in the
// provider's zone) with its availability. A zero granularity uses the
// engine default. Results are advisory: booking re-checks at write time.
func (e *Engine) DaySlots(ctx context.Context, providerID string, date time.Time, granularity time.Duration) ([]model.Slot, error) {
	if granularity == 0 {
		granularity = e.granularity
	}
	if granularity < time.Minute || granularity%time.Minute != 0 {
		return nil, model.Validation(map[string]string{"granularity_minutes": "must be a positive number of minutes"})
	}

	provider, err := e.repo.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !provider.IsActive {
		return []model.Slot{}, nil
	}
	loc := provider.Location()
	tpl, err := e.repo.GetTemplate(ctx, providerID)
	if err != nil {
		return nil, err
	}

	y, m, d := date.Date()
	day := time.Date(y, m, d, 12, 0, 0, 0, loc)
	dt := tpl.Day(model.WeekdayOf(day))
	if !dt.IsActive || dt.Start == dt.End {
		return []model.Slot{}, nil
	}
	if dt.End < dt.Start {
		return nil, model.Validation(map[string]string{"template": "working hours end before they start"})
	}
	if span := time.Duration(dt.End-dt.Start) * time.Minute; span%granularity != 0 {
		return nil, model.Validation(map[string]string{
			"granularity_minutes": "must divide the working day (" + dt.Start.String() + "-" + dt.End.String() + ") evenly",
		})
	}

	window := Interval{Start: dt.Start.On(day, loc), End: dt.End.On(day, loc)}
	var excluded []Interval
	if dt.Break != nil && dt.Break.Start < dt.Break.End {
		excluded = append(excluded, Interval{Start: dt.Break.Start.On(day, loc), End: dt.Break.End.On(day, loc)})
	}
	grid := Grid(window.Start, window.End, granularity, excluded)
	if len(grid) == 0 {
		return []model.Slot{}, nil
	}

	search := e.margins.SearchWindow(Interval{Start: grid[0].Start, End: grid[len(grid)-1].End})
	booked, err := e.repo.FindOverlapping(ctx, providerID, search.Start, search.End, model.ActiveStatuses)
	if err != nil {
		return nil, err
	}
	busy := make([]Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime()})
	}

	now := e.now()
	slots := make([]model.Slot, 0, len(grid))
	for _, g := range grid {
		available := !g.Start.Before(now)
		for _, b := range busy {
			if !available {
				break
			}
			if e.margins.Conflicts(g, b) {
				available = false
			}
		}
		slots = append(slots, model.Slot{ProviderID: providerID, Start: g.Start, End: g.End, Available: available})
	}
	return slots, nil
}

// ComputeFreeSlots returns only the available slots, in chronological order.
func (e *Engine) ComputeFreeSlots(ctx context.Context, providerID string, date time.Time, granularity time.Duration) ([]model.Slot, error) {
	all, err := e.DaySlots(ctx, providerID, date, granularity)
	if err != nil {
		return nil, err
	}
	free := make([]model.Slot, 0, len(all))
	for _, s := range all {
		if s.Available {
			free = append(free, s)
		}
	}
	return free, nil
}
