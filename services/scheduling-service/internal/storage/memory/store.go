// Package memory is an in-process implementation of storage.Store. It backs
// STORE_DRIVER=memory and doubles as the repository fake in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/carebook/libs/otel"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/keylock"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

type Store struct {
	mu            sync.RWMutex
	providers     map[string]model.Provider
	subjects      map[string]model.SubjectProfile
	templates     map[string]model.WeeklyTemplate
	appointments  map[string]model.Appointment
	notifications map[string]model.NotificationRecord
	notifyOrder   []string

	outboxMu sync.Mutex
	outbox   []outbox.Record
	nextID   int64

	providerLocks *keylock.Map
	rowLocks      *keylock.Map
	dedupLocks    *keylock.Map
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		providers:     map[string]model.Provider{},
		subjects:      map[string]model.SubjectProfile{},
		templates:     map[string]model.WeeklyTemplate{},
		appointments:  map[string]model.Appointment{},
		notifications: map[string]model.NotificationRecord{},
		providerLocks: keylock.New(),
		rowLocks:      keylock.New(),
		dedupLocks:    keylock.New(),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

func (s *Store) WithProviderLock(ctx context.Context, providerID string, fn func(context.Context, storage.Tx) error) error {
	unlock, err := s.providerLocks.Lock(ctx, providerID)
	if err != nil {
		return model.Transient("acquire provider lock", err)
	}
	defer unlock()
	return s.WithTx(ctx, fn)
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	tx := &memTx{store: s, staged: map[string]model.Appointment{}}
	defer tx.releaseLocks()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.Transient("commit", err)
	}
	return tx.commit()
}

func (s *Store) GetProvider(_ context.Context, id string) (model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return model.Provider{}, model.NotFound("provider")
	}
	return p, nil
}

func (s *Store) UpsertProvider(_ context.Context, p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func (s *Store) GetSubjectProfile(_ context.Context, id string) (model.SubjectProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.subjects[id]
	if !ok {
		return model.SubjectProfile{}, model.NotFound("subject")
	}
	return sp, nil
}

func (s *Store) UpsertSubjectProfile(_ context.Context, sp model.SubjectProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sp.ID] = sp
	return nil
}

func (s *Store) GetTemplate(_ context.Context, providerID string) (model.WeeklyTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[providerID]
	if !ok {
		return model.WeeklyTemplate{ProviderID: providerID}, nil
	}
	return t, nil
}

func (s *Store) PutTemplate(_ context.Context, t model.WeeklyTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	s.templates[t.ProviderID] = t
	return nil
}

func (s *Store) FindOverlapping(_ context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlappingLocked(providerID, from, to, statuses, nil), nil
}

func (s *Store) overlappingLocked(providerID string, from, to time.Time, statuses []model.AppointmentStatus, staged map[string]model.Appointment) []model.Appointment {
	var out []model.Appointment
	consider := func(a model.Appointment) {
		if a.ProviderID == providerID && storage.HasStatus(a.Status, statuses) && storage.Overlaps(a, from, to) {
			out = append(out, a)
		}
	}
	for id, a := range s.appointments {
		if st, ok := staged[id]; ok {
			a = st
		}
		consider(a)
	}
	for id, a := range staged {
		if _, ok := s.appointments[id]; !ok {
			consider(a)
		}
	}
	sortByStart(out)
	return out
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, model.NotFound("appointment")
	}
	return a, nil
}

func (s *Store) ListAppointments(_ context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if f.SubjectID != "" && a.SubjectID != f.SubjectID {
			continue
		}
		if !f.From.IsZero() && a.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.StartTime.Before(f.To) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	if limit := storage.ClampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertNotification(ctx context.Context, rec model.NotificationRecord, window time.Duration) (model.NotificationRecord, bool, error) {
	if rec.DedupKey != "" {
		unlock, err := s.dedupLocks.Lock(ctx, rec.DedupKey)
		if err != nil {
			return model.NotificationRecord{}, false, model.Transient("acquire dedup lock", err)
		}
		defer unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.DedupKey != "" && window > 0 {
		cutoff := rec.CreatedAt.Add(-window)
		for i := len(s.notifyOrder) - 1; i >= 0; i-- {
			existing := s.notifications[s.notifyOrder[i]]
			if existing.DedupKey == rec.DedupKey && !existing.CreatedAt.Before(cutoff) {
				return existing, false, nil
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.notifications[rec.ID] = rec
	s.notifyOrder = append(s.notifyOrder, rec.ID)
	return rec, true, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (model.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.notifications[id]
	if !ok {
		return model.NotificationRecord{}, model.NotFound("notification")
	}
	return rec, nil
}

func (s *Store) ListNotifications(_ context.Context, f storage.NotificationFilter) ([]model.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := storage.ClampLimit(f.Limit)
	var out []model.NotificationRecord
	for i := len(s.notifyOrder) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.notifications[s.notifyOrder[i]]
		if rec.RecipientUserID != f.RecipientUserID || (f.UnreadOnly && rec.IsRead) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) (model.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.notifications[id]
	if !ok {
		return model.NotificationRecord{}, model.NotFound("notification")
	}
	if !rec.IsRead {
		rec.IsRead = true
		rec.ReadAt = &at
		s.notifications[id] = rec
	}
	return rec, nil
}

func (s *Store) ProcessBatch(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) (int, error) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	n := min(limit, len(s.outbox))
	if n <= 0 {
		return 0, nil
	}
	batch := append([]outbox.Record(nil), s.outbox[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	// Published rows are dropped; the memory store keeps no history.
	s.outbox = append(s.outbox[:0], s.outbox[n:]...)
	return n, nil
}

// PendingEvents returns a copy of the unpublished outbox.
func (s *Store) PendingEvents() []outbox.Record {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	return append([]outbox.Record(nil), s.outbox...)
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}

type memTx struct {
	store   *Store
	staged  map[string]model.Appointment
	created []string
	events  []outbox.Record
	unlocks []func()
}

func (tx *memTx) AppointmentByIdempotencyKey(_ context.Context, subjectID, key string) (model.Appointment, bool, error) {
	if strings.TrimSpace(key) == "" {
		return model.Appointment{}, false, nil
	}
	for _, a := range tx.staged {
		if a.SubjectID == subjectID && a.IdempotencyKey == key {
			return a, true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, a := range tx.store.appointments {
		if a.SubjectID == subjectID && a.IdempotencyKey == key {
			return a, true, nil
		}
	}
	return model.Appointment{}, false, nil
}

func (tx *memTx) FindOverlapping(_ context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.overlappingLocked(providerID, from, to, statuses, tx.staged), nil
}

func (tx *memTx) CreateAppointment(_ context.Context, a model.Appointment) error {
	tx.store.mu.RLock()
	_, exists := tx.store.appointments[a.ID]
	tx.store.mu.RUnlock()
	if _, staged := tx.staged[a.ID]; exists || staged {
		return model.Errorf(model.KindConflict, "appointment %s already exists", a.ID)
	}
	tx.staged[a.ID] = a
	tx.created = append(tx.created, a.ID)
	return nil
}

func (tx *memTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if a, ok := tx.staged[id]; ok {
		return a, nil
	}
	unlock, err := tx.store.rowLocks.Lock(ctx, id)
	if err != nil {
		return model.Appointment{}, model.Transient("lock appointment", err)
	}
	tx.unlocks = append(tx.unlocks, unlock)
	return tx.store.GetAppointment(ctx, id)
}

func (tx *memTx) UpdateAppointmentStatus(_ context.Context, a model.Appointment) error {
	tx.store.mu.RLock()
	_, exists := tx.store.appointments[a.ID]
	tx.store.mu.RUnlock()
	if _, staged := tx.staged[a.ID]; !exists && !staged {
		return model.NotFound("appointment")
	}
	tx.staged[a.ID] = a
	return nil
}

func (tx *memTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	tx.events = append(tx.events, outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		Traceparent:   tc.Traceparent,
		Tracestate:    tc.Tracestate,
		CreatedAt:     time.Now().UTC(),
	})
	return nil
}

func (tx *memTx) commit() error {
	s := tx.store
	s.mu.Lock()
	for _, id := range tx.created {
		a := tx.staged[id]
		if a.IdempotencyKey == "" {
			continue
		}
		for _, existing := range s.appointments {
			if existing.SubjectID == a.SubjectID && existing.IdempotencyKey == a.IdempotencyKey {
				s.mu.Unlock()
				return model.Errorf(model.KindConflict, "idempotency key already used")
			}
		}
	}
	for id, a := range tx.staged {
		s.appointments[id] = a
	}
	s.mu.Unlock()

	if len(tx.events) > 0 {
		s.outboxMu.Lock()
		for _, evt := range tx.events {
			s.nextID++
			evt.ID = s.nextID
			s.outbox = append(s.outbox, evt)
		}
		s.outboxMu.Unlock()
	}
	return nil
}

func (tx *memTx) releaseLocks() {
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
	tx.unlocks = nil
}
