package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/realtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage/memory"
)

type recordingHub struct {
	mu    sync.Mutex
	rooms []identity.Room
}

func (h *recordingHub) Publish(_ context.Context, room identity.Room, msg realtime.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Type() != realtime.TypeNotificationUpdated {
		return errors.New("unexpected message type")
	}
	h.rooms = append(h.rooms, room)
	return nil
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// flakyStore fails the first failures inserts with err.
type flakyStore struct {
	*memory.Store
	failures int
	err      error
	calls    int
}

func (s *flakyStore) InsertNotification(ctx context.Context, rec model.NotificationRecord, window time.Duration) (model.NotificationRecord, bool, error) {
	s.calls++
	if s.calls <= s.failures {
		return model.NotificationRecord{}, false, s.err
	}
	return s.Store.InsertNotification(ctx, rec, window)
}

func newTestDispatcher(store Store, hub Broadcaster, now time.Time) *Dispatcher {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewDispatcher(store, hub, logger, Options{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Now:             func() time.Time { return now },
	})
}

func bookedRequest(recipient, appointmentID string) Request {
	return Request{
		RecipientUserID: recipient,
		Kind:            model.NotifyAppointmentBooked,
		Title:           "Appointment booked",
		Message:         "Your appointment is booked",
		Payload:         map[string]any{"appointmentId": appointmentID},
	}
}

func TestDispatchDeduplicatesWithinWindow(t *testing.T) {
	hub := &recordingHub{}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := newTestDispatcher(memory.New(), hub, now)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	second, err := d.Dispatch(ctx, bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same record, got %s and %s", first.ID, second.ID)
	}
	if hub.count() != 1 || hub.rooms[0] != identity.UserRoom("u1") {
		t.Fatalf("expected one push to user:u1, got %v", hub.rooms)
	}

	other, err := d.Dispatch(ctx, bookedRequest("u1", "a2"))
	if err != nil || other.ID == first.ID {
		t.Fatalf("different appointment must not dedup, err=%v", err)
	}

	list, err := d.List(ctx, "u1", false, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 records, got %d err=%v", len(list), err)
	}
}

func TestDispatchAfterWindowCreatesNewRecord(t *testing.T) {
	store := memory.New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	first, err := newTestDispatcher(store, nil, start).Dispatch(context.Background(), bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	later, err := newTestDispatcher(store, nil, start.Add(6*time.Minute)).Dispatch(context.Background(), bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if later.ID == first.ID {
		t.Fatal("expected a new record once the window has passed")
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 2, err: model.Transient("insert notification", errors.New("conn reset"))}
	d := newTestDispatcher(store, nil, time.Now())

	rec, err := d.Dispatch(context.Background(), bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if store.calls != 3 || rec.ID == "" {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 10, err: model.Transient("insert notification", errors.New("conn reset"))}
	d := newTestDispatcher(store, nil, time.Now())

	_, err := d.Dispatch(context.Background(), bookedRequest("u1", "a1"))
	if !model.IsKind(err, model.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
}

func TestDispatchDoesNotRetryPermanentFailures(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 10, err: model.Validation(map[string]string{"kind": "unknown"})}
	d := newTestDispatcher(store, nil, time.Now())

	_, err := d.Dispatch(context.Background(), bookedRequest("u1", "a1"))
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", store.calls)
	}
}

func TestMarkRead(t *testing.T) {
	hub := &recordingHub{}
	d := newTestDispatcher(memory.New(), hub, time.Now())
	ctx := context.Background()

	rec, err := d.Dispatch(ctx, bookedRequest("u1", "a1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := d.MarkRead(ctx, "u2", rec.ID); !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := d.MarkRead(ctx, "u1", "nope"); !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	read, err := d.MarkRead(ctx, "u1", rec.ID)
	if err != nil || !read.IsRead || read.ReadAt == nil {
		t.Fatalf("expected read record, got %+v err=%v", read, err)
	}
	again, err := d.MarkRead(ctx, "u1", rec.ID)
	if err != nil || !again.ReadAt.Equal(*read.ReadAt) {
		t.Fatalf("second mark must be a no-op, err=%v", err)
	}
	if hub.count() != 2 {
		t.Fatalf("expected pushes for dispatch and the first read only, got %d", hub.count())
	}

	unread, err := d.List(ctx, "u1", true, 0)
	if err != nil || len(unread) != 0 {
		t.Fatalf("expected no unread, got %d err=%v", len(unread), err)
	}
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey("u1", model.NotifyAppointmentBooked, map[string]any{"appointmentId": "a1"}); got != "u1|appointment_booked|a1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := DedupKey("u1", model.NotifyAppointmentBooked, nil); got != "" {
		t.Fatalf("expected empty key without an appointment, got %q", got)
	}
}
