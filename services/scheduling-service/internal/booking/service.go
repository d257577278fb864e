// Package booking resolves booking requests against a provider's calendar
// and drives appointments through their lifecycle.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/carebook/libs/otel"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/keylock"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDurationMinutes = 30
	MaxDurationMinutes     = 480
	DefaultMinReasonLength = 10
)

type Options struct {
	Margins         availability.MarginPolicy
	MinReasonLength int
	// EffectTimeout bounds the side effects that run after a commit.
	EffectTimeout time.Duration
	Now           func() time.Time
}

type BookingRequest struct {
	ProviderID      string
	SubjectID       string
	StartTime       time.Time
	DurationMinutes int
	Type            model.AppointmentType
	Reason          string
	IdempotencyKey  string
}

type Service struct {
	store   storage.Store
	locks   *keylock.Map
	effects *Effects
	logger  *slog.Logger
	tracer  trace.Tracer
	opts    Options
}

func NewService(store storage.Store, effects *Effects, logger *slog.Logger, opts Options) *Service {
	if opts.Margins == (availability.MarginPolicy{}) {
		opts.Margins = availability.DefaultMargins()
	}
	if opts.MinReasonLength <= 0 {
		opts.MinReasonLength = DefaultMinReasonLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   store,
		locks:   keylock.New(),
		effects: effects,
		logger:  logger,
		tracer:  otelx.Tracer("carebook/booking"),
		opts:    opts,
	}
}

// normalize trims the request and fills defaults so that a replayed request
// compares equal to the one that created the appointment.
func normalize(req *BookingRequest) {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.StartTime = req.StartTime.UTC()
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if t, ok := model.ParseAppointmentType(string(req.Type)); ok {
		req.Type = t
	}
}

func (s *Service) validate(req BookingRequest, now time.Time) error {
	fields := map[string]string{}
	if req.ProviderID == "" {
		fields["provider_id"] = "is required"
	}
	if req.SubjectID == "" {
		fields["subject_id"] = "is required"
	}
	if len([]rune(req.Reason)) < s.opts.MinReasonLength {
		fields["reason"] = fmt.Sprintf("must be at least %d characters", s.opts.MinReasonLength)
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > MaxDurationMinutes {
		fields["duration_minutes"] = fmt.Sprintf("must be between 1 and %d", MaxDurationMinutes)
	}
	if req.StartTime.IsZero() {
		fields["start_time"] = "is required"
	} else if !req.StartTime.After(now) {
		fields["start_time"] = "must be in the future"
	}
	if _, ok := model.ParseAppointmentType(string(req.Type)); !ok {
		fields["type"] = "must be one of in_person, remote, follow_up, urgent"
	}
	if len(fields) > 0 {
		return model.Validation(fields)
	}
	return nil
}

// Book creates a SCHEDULED appointment unless it conflicts, under the margin
// policy, with an active appointment of the same provider. A repeated
// idempotency key returns the appointment the first request created.
func (s *Service) Book(ctx context.Context, who identity.Identity, req BookingRequest) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(attribute.String("provider.id", req.ProviderID)))
	defer span.End()

	appt, created, err := s.book(ctx, who, req)
	if err != nil {
		span.SetStatus(codes.Error, string(model.KindOf(err)))
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID), attribute.Bool("appointment.replayed", !created))
	if created {
		s.effects.Booked(ctx, appt)
	}
	return appt, nil
}

func (s *Service) book(ctx context.Context, who identity.Identity, req BookingRequest) (model.Appointment, bool, error) {
	if req.SubjectID == "" {
		req.SubjectID = who.DefaultSubjectID()
	}
	normalize(&req)
	now := s.opts.Now().UTC()
	if req.SubjectID != "" && !who.IsAdmin() && !who.OwnsSubject(req.SubjectID) && !who.OwnsProvider(req.ProviderID) {
		return model.Appointment{}, false, model.Errorf(model.KindUnauthorized, "not allowed to book for subject %s", req.SubjectID)
	}
	// A replay is answered before validation: the original start time may
	// have passed since the first attempt.
	if req.IdempotencyKey != "" && req.SubjectID != "" {
		prior, ok, err := s.replay(ctx, req)
		if err != nil {
			return model.Appointment{}, false, err
		}
		if ok {
			return prior.WithEffectiveStatus(now), false, nil
		}
	}
	if err := s.validate(req, now); err != nil {
		return model.Appointment{}, false, err
	}

	provider, err := s.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !provider.IsActive {
		return model.Appointment{}, false, model.Validation(map[string]string{"provider_id": "provider is not accepting appointments"})
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		ProviderID:      req.ProviderID,
		SubjectID:       req.SubjectID,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Status:          model.StatusScheduled,
		Reason:          req.Reason,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if appt.Type == model.TypeRemote {
		appt.MeetingRef = "meet-" + uuid.NewString()
	}

	unlock, err := s.locks.Lock(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, false, model.Transient("acquire provider lock", err)
	}
	defer unlock()

	var (
		result  model.Appointment
		created bool
	)
	err = s.store.WithProviderLock(ctx, req.ProviderID, func(ctx context.Context, tx storage.Tx) error {
		if appt.IdempotencyKey != "" {
			prior, ok, err := tx.AppointmentByIdempotencyKey(ctx, appt.SubjectID, appt.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if err := sameBooking(prior, req); err != nil {
					return err
				}
				result = prior
				return nil
			}
		}

		own := availability.Interval{Start: appt.StartTime, End: appt.EndTime()}
		search := s.opts.Margins.SearchWindow(own)
		existing, err := tx.FindOverlapping(ctx, appt.ProviderID, search.Start, search.End, model.ActiveStatuses)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if s.opts.Margins.Conflicts(own, availability.Interval{Start: other.StartTime, End: other.EndTime()}) {
				return &model.Error{
					Kind:    model.KindConflict,
					Message: "the requested time is no longer available; query availability again",
					Fields:  map[string]string{"start_time": "conflicts with an existing appointment"},
				}
			}
		}

		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		evt, err := outbox.AppointmentEvent(appt)
		if err != nil {
			return fmt.Errorf("build booked event: %w", err)
		}
		if err := tx.Enqueue(ctx, evt); err != nil {
			return err
		}
		result, created = appt, true
		return nil
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if created {
		s.logger.Info("appointment booked", "appointment_id", result.ID, "provider_id", result.ProviderID, "subject_id", result.SubjectID, "start_time", result.StartTime)
	}
	return result.WithEffectiveStatus(now), created, nil
}

// replay looks up the appointment an earlier request with the same
// idempotency key created.
func (s *Service) replay(ctx context.Context, req BookingRequest) (model.Appointment, bool, error) {
	var (
		prior model.Appointment
		found bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		prior, found, err = tx.AppointmentByIdempotencyKey(ctx, req.SubjectID, req.IdempotencyKey)
		if err != nil || !found {
			return err
		}
		return sameBooking(prior, req)
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	return prior, found, nil
}

// sameBooking rejects an idempotency key reused for a request that differs
// from the one that created prior.
func sameBooking(prior model.Appointment, req BookingRequest) error {
	fields := map[string]string{}
	if prior.ProviderID != req.ProviderID {
		fields["provider_id"] = "differs from the original request"
	}
	if !prior.StartTime.Equal(req.StartTime) {
		fields["start_time"] = "differs from the original request"
	}
	if prior.DurationMinutes != req.DurationMinutes {
		fields["duration_minutes"] = "differs from the original request"
	}
	if prior.Type != req.Type {
		fields["type"] = "differs from the original request"
	}
	if prior.Reason != req.Reason {
		fields["reason"] = "differs from the original request"
	}
	if len(fields) == 0 {
		return nil
	}
	return &model.Error{
		Kind:    model.KindConflict,
		Message: "idempotency key was already used for a different booking",
		Fields:  fields,
	}
}

// Transition moves an appointment to target on behalf of who.
func (s *Service) Transition(ctx context.Context, who identity.Identity, id string, target model.AppointmentStatus, reason string) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Transition", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("appointment.target", string(target)),
	))
	defer span.End()

	target, ok := model.ParseStatus(string(target))
	if !ok || target == model.StatusScheduled {
		return model.Appointment{}, model.Validation(map[string]string{"status": "must be one of CONFIRMED, COMPLETED, CANCELLED"})
	}

	now := s.opts.Now().UTC()
	var (
		updated model.Appointment
		role    model.ActorRole
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		role = who.ActorRole(current)
		if role == "" {
			return model.Errorf(model.KindUnauthorized, "not allowed to change this appointment")
		}
		if err := model.CheckTransition(current.Status, target, role); err != nil {
			return err
		}

		current.Status = target
		current.UpdatedAt = now
		if target == model.StatusCancelled {
			current.CancelledAt = &now
			current.CancelledBy = who.UserID
			current.CancelReason = strings.TrimSpace(reason)
		}
		if err := tx.UpdateAppointmentStatus(ctx, current); err != nil {
			return err
		}
		evt, err := outbox.AppointmentEvent(current)
		if err != nil {
			return fmt.Errorf("build %s event: %w", target, err)
		}
		if err := tx.Enqueue(ctx, evt); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, string(model.KindOf(err)))
		return model.Appointment{}, err
	}

	s.logger.Info("appointment transitioned", "appointment_id", updated.ID, "status", string(updated.Status), "actor", who.UserID, "role", string(role))
	s.effects.Transitioned(ctx, updated, role)
	return updated.WithEffectiveStatus(now), nil
}

func (s *Service) Get(ctx context.Context, who identity.Identity, id string) (model.Appointment, error) {
	a, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !who.CanView(a) {
		return model.Appointment{}, model.Errorf(model.KindUnauthorized, "not allowed to view this appointment")
	}
	return a.WithEffectiveStatus(s.opts.Now()), nil
}

// List returns appointments for one provider or one subject, oldest first,
// with MISSED derived at read time.
func (s *Service) List(ctx context.Context, who identity.Identity, f storage.AppointmentFilter) ([]model.Appointment, error) {
	switch {
	case f.ProviderID != "":
		if !who.IsAdmin() && !who.OwnsProvider(f.ProviderID) {
			return nil, model.Errorf(model.KindUnauthorized, "not allowed to list provider %s", f.ProviderID)
		}
	case f.SubjectID != "":
		if !who.IsAdmin() && !who.OwnsSubject(f.SubjectID) {
			return nil, model.Errorf(model.KindUnauthorized, "not allowed to list subject %s", f.SubjectID)
		}
	default:
		if len(who.ProviderIDs) > 0 {
			f.ProviderID = who.ProviderIDs[0]
		} else if sid := who.DefaultSubjectID(); sid != "" {
			f.SubjectID = sid
		} else {
			return nil, model.Validation(map[string]string{"provider_id": "provider_id or subject_id is required"})
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, model.Validation(map[string]string{"to": "must be after from"})
	}

	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	for i := range appts {
		appts[i] = appts[i].WithEffectiveStatus(now)
	}
	return appts, nil
}
