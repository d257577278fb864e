package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/realtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage/memory"
)

// 2026-03-02 is a Monday; the clock sits on the Friday before.
var (
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now    = time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC)
)

var (
	doctor  = identity.Identity{UserID: "u-doc", Role: "provider", ProviderIDs: []string{"p1"}}
	alice   = identity.Identity{UserID: "s1", Role: "subject", SubjectIDs: []string{"s1"}}
	bob     = identity.Identity{UserID: "s2", Role: "subject", SubjectIDs: []string{"s2"}}
	admin   = identity.Identity{UserID: "u-admin", Role: "admin"}
	another = identity.Identity{UserID: "u-other", Role: "provider", ProviderIDs: []string{"p2"}}
)

type sentMessage struct {
	room identity.Room
	typ  realtime.MessageType
}

type recordingHub struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (h *recordingHub) Publish(_ context.Context, room identity.Room, msg realtime.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentMessage{room: room, typ: msg.Type()})
	return nil
}

func (h *recordingHub) count(room identity.Room, typ realtime.MessageType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.sent {
		if m.room == room && m.typ == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	store      *memory.Store
	hub        *recordingHub
	dispatcher *notify.Dispatcher
	effects    *Effects
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	for _, p := range []model.Provider{
		{ID: "p1", UserID: "u-doc", DisplayName: "Dr. Rahman", Timezone: "UTC", IsActive: true},
		{ID: "p-off", UserID: "u-off", Timezone: "UTC", IsActive: false},
	} {
		if err := store.UpsertProvider(ctx, p); err != nil {
			t.Fatalf("provider: %v", err)
		}
	}
	if err := store.UpsertSubjectProfile(ctx, model.SubjectProfile{ID: "s1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("subject: %v", err)
	}
	tpl := model.WeeklyTemplate{ProviderID: "p1"}
	tpl.Days[model.Monday] = model.DayTemplate{
		IsActive: true,
		Start:    model.NewClock(9, 0),
		End:      model.NewClock(17, 0),
		Break:    &model.BreakWindow{Start: model.NewClock(12, 0), End: model.NewClock(13, 0)},
	}
	if err := store.PutTemplate(ctx, tpl); err != nil {
		t.Fatalf("template: %v", err)
	}

	clock := func() time.Time { return now }
	hub := &recordingHub{}
	dispatcher := notify.NewDispatcher(store, hub, logger, notify.Options{Now: clock})
	effects := NewEffects(hub, dispatcher, store, logger, time.Second)
	svc := NewService(store, effects, logger, Options{Now: clock})
	return &fixture{store: store, hub: hub, dispatcher: dispatcher, effects: effects, svc: svc}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.effects.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func request(subjectID string, start time.Time) BookingRequest {
	return BookingRequest{
		ProviderID: "p1",
		SubjectID:  subjectID,
		StartTime:  start,
		Type:       model.TypeInPerson,
		Reason:     "persistent headache for two weeks",
	}
}

func TestMondayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := availability.NewEngine(f.store, availability.DefaultMargins(), 30*time.Minute,
		availability.WithClock(func() time.Time { return now }))

	free, err := engine.ComputeFreeSlots(ctx, "p1", monday, 0)
	if err != nil || len(free) != 14 {
		t.Fatalf("expected 14 free slots, got %d err=%v", len(free), err)
	}

	appt, err := f.svc.Book(ctx, alice, request("s1", at(10, 0)))
	if err != nil {
		t.Fatalf("book 10:00: %v", err)
	}
	if appt.Status != model.StatusScheduled || appt.DurationMinutes != 30 || appt.ID == "" {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	if _, err := f.svc.Book(ctx, bob, request("s2", at(10, 15))); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("expected conflict at 10:15, got %v", err)
	}

	free, err = engine.ComputeFreeSlots(ctx, "p1", monday, 0)
	if err != nil {
		t.Fatalf("ComputeFreeSlots: %v", err)
	}
	if len(free) != 11 {
		t.Fatalf("expected 11 free slots, got %d", len(free))
	}
	for _, s := range free {
		switch s.Start.Format("15:04") {
		case "09:30", "10:00", "10:30":
			t.Fatalf("slot %s should be blocked", s.Start.Format("15:04"))
		}
	}
	if free[0].Start.Format("15:04") != "09:00" || free[1].Start.Format("15:04") != "11:00" {
		t.Fatalf("expected 09:00 and 11:00 to stay free, got %s and %s", free[0].Start.Format("15:04"), free[1].Start.Format("15:04"))
	}

	f.drain(t)
	if f.hub.count(identity.ProviderRoom("p1"), realtime.TypePatientNew) != 1 ||
		f.hub.count(identity.ProviderRoom("p1"), realtime.TypePatientListRefresh) != 1 ||
		f.hub.count(identity.SubjectRoom("s1"), realtime.TypeAppointmentBooked) != 1 {
		t.Fatalf("unexpected broadcasts %+v", f.hub.sent)
	}
	if f.hub.count(identity.SubjectRoom("s1"), realtime.TypeAppointmentConfirmed) != 0 {
		t.Fatal("booking alone must not announce a confirmation")
	}
	for _, user := range []string{"s1", "u-doc"} {
		list, err := f.dispatcher.List(ctx, user, true, 0)
		if err != nil || len(list) != 1 || list[0].Kind != model.NotifyAppointmentBooked {
			t.Fatalf("expected one booked notification for %s, got %+v err=%v", user, list, err)
		}
	}

	events := f.store.PendingEvents()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentBooked || events[0].AggregateID != appt.ID {
		t.Fatalf("expected one booked outbox event, got %+v", events)
	}

	confirmed, err := f.svc.Transition(ctx, doctor, appt.ID, model.StatusConfirmed, "")
	if err != nil || confirmed.Status != model.StatusConfirmed {
		t.Fatalf("confirm: %+v err=%v", confirmed, err)
	}
	f.drain(t)
	if f.hub.count(identity.SubjectRoom("s1"), realtime.TypeAppointmentConfirmed) != 1 {
		t.Fatal("expected appointment:confirmed on the subject room")
	}
	if f.hub.count(identity.ProviderRoom("p1"), realtime.TypePatientListRefresh) != 2 {
		t.Fatal("expected a second list refresh for the provider")
	}
	list, _ := f.dispatcher.List(ctx, "s1", false, 0)
	if len(list) != 2 || list[0].Kind != model.NotifyAppointmentConfirmed {
		t.Fatalf("expected confirmation notice for the subject, got %+v", list)
	}
	if docList, _ := f.dispatcher.List(ctx, "u-doc", false, 0); len(docList) != 1 {
		t.Fatalf("the acting provider should not be notified of their own change, got %d", len(docList))
	}
}

func TestConcurrentBookingsProduceOneAppointment(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), admin, request("s1", at(14, 0)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case model.IsKind(err, model.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, successes, conflicts)
	}

	appts, err := f.store.FindOverlapping(context.Background(), "p1", at(13, 0), at(16, 0), model.ActiveStatuses)
	if err != nil || len(appts) != 1 {
		t.Fatalf("expected exactly one stored appointment, got %d err=%v", len(appts), err)
	}
	f.drain(t)
}

func TestDifferentProvidersDoNotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.UpsertProvider(ctx, model.Provider{ID: "p2", UserID: "u-other", Timezone: "UTC", IsActive: true}); err != nil {
		t.Fatalf("provider: %v", err)
	}
	if _, err := f.svc.Book(ctx, alice, request("s1", at(10, 0))); err != nil {
		t.Fatalf("book p1: %v", err)
	}
	req := request("s1", at(10, 0))
	req.ProviderID = "p2"
	if _, err := f.svc.Book(ctx, alice, req); err != nil {
		t.Fatalf("book p2: %v", err)
	}
	f.drain(t)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*BookingRequest)
		field  string
	}{
		"short reason":     {func(r *BookingRequest) { r.Reason = "  pain  " }, "reason"},
		"past start":       {func(r *BookingRequest) { r.StartTime = now.Add(-time.Hour) }, "start_time"},
		"long duration":    {func(r *BookingRequest) { r.DurationMinutes = 481 }, "duration_minutes"},
		"unknown type":     {func(r *BookingRequest) { r.Type = "house_call" }, "type"},
		"missing provider": {func(r *BookingRequest) { r.ProviderID = " " }, "provider_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := request("s1", at(10, 0))
			tc.mutate(&req)
			_, err := f.svc.Book(ctx, alice, req)
			me, ok := err.(*model.Error)
			if !ok || me.Kind != model.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := me.Fields[tc.field]; !ok {
				t.Fatalf("expected field %s in %v", tc.field, me.Fields)
			}
		})
	}

	req := request("s1", at(10, 0))
	req.ProviderID = "missing"
	if _, err := f.svc.Book(ctx, alice, req); !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	req.ProviderID = "p-off"
	if _, err := f.svc.Book(ctx, alice, req); !model.IsKind(err, model.KindValidation) {
		t.Fatalf("expected inactive provider to be rejected, got %v", err)
	}
	if _, err := f.svc.Book(ctx, bob, request("s1", at(10, 0))); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("expected unauthorized booking for another subject, got %v", err)
	}
}

func TestRemoteAppointmentGetsMeetingRef(t *testing.T) {
	f := newFixture(t)
	req := request("", at(15, 0))
	req.Type = model.TypeRemote
	appt, err := f.svc.Book(context.Background(), alice, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.MeetingRef == "" || appt.SubjectID != "s1" {
		t.Fatalf("expected a meeting ref and the caller's subject id, got %+v", appt)
	}
	f.drain(t)
}

func TestIdempotentRetryReturnsFirstAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request("s1", at(9, 0))
	req.IdempotencyKey = "retry-1"

	first, err := f.svc.Book(ctx, alice, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	second, err := f.svc.Book(ctx, alice, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same appointment, got %s and %s", first.ID, second.ID)
	}
	if got := len(f.store.PendingEvents()); got != 1 {
		t.Fatalf("expected a single outbox event, got %d", got)
	}

	other := request("s1", at(16, 0))
	other.IdempotencyKey = "retry-1"
	if _, err := f.svc.Book(ctx, alice, other); !model.IsKind(err, model.KindConflict) {
		t.Fatalf("expected key reuse for another slot to conflict, got %v", err)
	}
	f.drain(t)
}

func TestIdempotencyKeyReusedForDifferentBookingConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request("s1", at(9, 0))
	req.IdempotencyKey = "k1"
	first, err := f.svc.Book(ctx, alice, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	cases := map[string]struct {
		mutate func(*BookingRequest)
		field  string
	}{
		"duration": {func(r *BookingRequest) { r.DurationMinutes = 240 }, "duration_minutes"},
		"type":     {func(r *BookingRequest) { r.Type = model.TypeRemote }, "type"},
		"reason":   {func(r *BookingRequest) { r.Reason = "a different complaint entirely" }, "reason"},
		"provider": {func(r *BookingRequest) { r.ProviderID = "p-off" }, "provider_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			retry := req
			tc.mutate(&retry)
			_, err := f.svc.Book(ctx, alice, retry)
			var me *model.Error
			if !errors.As(err, &me) || me.Kind != model.KindConflict {
				t.Fatalf("expected conflict, got %v", err)
			}
			if _, ok := me.Fields[tc.field]; !ok {
				t.Fatalf("expected field %s in %v", tc.field, me.Fields)
			}
		})
	}

	// Whitespace and the default duration do not make a request different.
	same := req
	same.Reason = "  " + req.Reason + " "
	same.DurationMinutes = DefaultDurationMinutes
	again, err := f.svc.Book(ctx, alice, same)
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected the original appointment, got %+v err=%v", again, err)
	}
	f.drain(t)
}

func TestIdempotentReplayAfterStartTimePassed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	current := now
	svc := NewService(f.store, f.effects, slog.New(slog.NewJSONHandler(io.Discard, nil)), Options{
		Now: func() time.Time { return current },
	})
	req := request("s1", at(9, 0))
	req.IdempotencyKey = "late-retry"
	first, err := svc.Book(ctx, alice, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	current = at(11, 0)
	replayed, err := svc.Book(ctx, alice, req)
	if err != nil {
		t.Fatalf("replay after start: %v", err)
	}
	if replayed.ID != first.ID || replayed.Status != model.StatusMissed {
		t.Fatalf("expected the original appointment read as MISSED, got %+v", replayed)
	}

	fresh := request("s1", at(10, 0))
	if _, err := svc.Book(ctx, alice, fresh); !model.IsKind(err, model.KindValidation) {
		t.Fatalf("a new booking in the past must still be rejected, got %v", err)
	}
	f.drain(t)
}

// faultyStore fails the chosen write inside booking transactions.
type faultyStore struct {
	*memory.Store
	failCreate  bool
	failEnqueue bool
}

func (s *faultyStore) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.WithProviderLock(ctx, providerID, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	storage.Tx
	store *faultyStore
}

func (tx faultyTx) CreateAppointment(ctx context.Context, a model.Appointment) error {
	if tx.store.failCreate {
		return model.Transient("insert appointment", errors.New("connection reset"))
	}
	return tx.Tx.CreateAppointment(ctx, a)
}

func (tx faultyTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	if tx.store.failEnqueue {
		return model.Transient("insert outbox event", errors.New("connection reset"))
	}
	return tx.Tx.Enqueue(ctx, evt)
}

func TestFailedWriteReturnsErrorWithoutSideEffects(t *testing.T) {
	for name, faulty := range map[string]*faultyStore{
		"insert":  {failCreate: true},
		"enqueue": {failEnqueue: true},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			faulty.Store = f.store
			svc := NewService(faulty, f.effects, slog.New(slog.NewJSONHandler(io.Discard, nil)), Options{
				Now: func() time.Time { return now },
			})

			_, err := svc.Book(ctx, alice, request("s1", at(10, 0)))
			if !model.IsKind(err, model.KindTransient) {
				t.Fatalf("expected the write failure to surface, got %v", err)
			}
			f.drain(t)

			appts, err := f.store.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: "p1"})
			if err != nil || len(appts) != 0 {
				t.Fatalf("expected no appointment, got %d err=%v", len(appts), err)
			}
			if got := len(f.store.PendingEvents()); got != 0 {
				t.Fatalf("expected no outbox event, got %d", got)
			}
			f.hub.mu.Lock()
			sent := len(f.hub.sent)
			f.hub.mu.Unlock()
			if sent != 0 {
				t.Fatalf("expected no broadcast, got %d", sent)
			}
			recs, err := f.dispatcher.List(ctx, "s1", false, 0)
			if err != nil || len(recs) != 0 {
				t.Fatalf("expected no notification, got %d err=%v", len(recs), err)
			}
		})
	}
}

type brokenHub struct{ calls atomic.Int32 }

func (h *brokenHub) Publish(context.Context, identity.Room, realtime.Message) error {
	h.calls.Add(1)
	return errors.New("hub unavailable")
}

type brokenNotifier struct{ calls atomic.Int32 }

func (n *brokenNotifier) Dispatch(context.Context, notify.Request) (model.NotificationRecord, error) {
	n.calls.Add(1)
	return model.NotificationRecord{}, model.Transient("insert notification", errors.New("connection reset"))
}

func TestFailingSideEffectsDoNotFailBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := &brokenHub{}
	notifier := &brokenNotifier{}
	effects := NewEffects(hub, notifier, f.store, logger, time.Second)
	svc := NewService(f.store, effects, logger, Options{Now: func() time.Time { return now }})

	appt, err := svc.Book(ctx, alice, request("s1", at(10, 0)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.ID == "" || appt.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := effects.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if hub.calls.Load() == 0 || notifier.calls.Load() == 0 {
		t.Fatalf("expected side effects to be attempted, hub=%d notifier=%d", hub.calls.Load(), notifier.calls.Load())
	}
	stored, err := f.store.GetAppointment(ctx, appt.ID)
	if err != nil || stored.Status != model.StatusScheduled {
		t.Fatalf("expected the appointment to stay booked, got %+v err=%v", stored, err)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, alice, request("s1", at(11, 0)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Transition(ctx, alice, appt.ID, model.StatusCancelled, "feeling better"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, target := range []model.AppointmentStatus{model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled} {
		if _, err := f.svc.Transition(ctx, doctor, appt.ID, target, ""); !model.IsKind(err, model.KindTerminalState) {
			t.Fatalf("expected terminal state for %s, got %v", target, err)
		}
	}
	stored, err := f.svc.Get(ctx, doctor, appt.ID)
	if err != nil || stored.Status != model.StatusCancelled || stored.CancelledBy != "s1" || stored.CancelReason != "feeling better" {
		t.Fatalf("unexpected stored appointment %+v err=%v", stored, err)
	}

	// The cancelled slot is bookable again.
	if _, err := f.svc.Book(ctx, bob, request("s2", at(11, 0))); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
	f.drain(t)
}

func TestTransitionPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, alice, request("s1", at(13, 0)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Transition(ctx, alice, appt.ID, model.StatusConfirmed, ""); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("subject must not confirm, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, another, appt.ID, model.StatusCancelled, ""); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("unrelated provider must not cancel, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, doctor, appt.ID, model.StatusCompleted, ""); !model.IsKind(err, model.KindValidation) {
		t.Fatalf("scheduled cannot complete directly, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, doctor, appt.ID, model.StatusScheduled, ""); !model.IsKind(err, model.KindValidation) {
		t.Fatalf("expected validation for SCHEDULED target, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, admin, appt.ID, model.StatusConfirmed, ""); err != nil {
		t.Fatalf("admin confirm: %v", err)
	}
	if _, err := f.svc.Transition(ctx, doctor, appt.ID, model.StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.Get(ctx, bob, appt.ID); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("other subject must not read, got %v", err)
	}
	f.drain(t)
}

func TestListDerivesMissed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.svc.Book(ctx, alice, request("s1", at(9, 0)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	f.drain(t)

	later := NewService(f.store, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)), Options{Now: func() time.Time { return at(18, 0) }})
	list, err := later.List(ctx, doctor, storage.AppointmentFilter{ProviderID: "p1"})
	if err != nil || len(list) != 1 || list[0].Status != model.StatusMissed {
		t.Fatalf("expected MISSED view, got %+v err=%v", list, err)
	}
	if _, err := later.Transition(ctx, doctor, appt.ID, model.StatusCancelled, "no show"); err != nil {
		t.Fatalf("a missed appointment can still be cancelled: %v", err)
	}
	if _, err := later.List(ctx, bob, storage.AppointmentFilter{ProviderID: "p1"}); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("expected unauthorized list, got %v", err)
	}
}
