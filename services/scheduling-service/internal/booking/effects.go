package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/realtime"
	"golang.org/x/sync/errgroup"
)

const DefaultEffectTimeout = 10 * time.Second

type Broadcaster interface {
	Publish(ctx context.Context, room identity.Room, msg realtime.Message) error
}

type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (model.NotificationRecord, error)
}

type Directory interface {
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	GetSubjectProfile(ctx context.Context, id string) (model.SubjectProfile, error)
}

// Effects runs the work that follows a committed booking or transition:
// realtime pushes and notifications. It runs detached from the request and
// never reports back to the caller; failures are logged.
type Effects struct {
	hub       Broadcaster
	notifier  Notifier
	directory Directory
	logger    *slog.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

func NewEffects(hub Broadcaster, notifier Notifier, directory Directory, logger *slog.Logger, timeout time.Duration) *Effects {
	if timeout <= 0 {
		timeout = DefaultEffectTimeout
	}
	return &Effects{hub: hub, notifier: notifier, directory: directory, logger: logger, timeout: timeout}
}

// Drain waits for in-flight effects or until ctx is done.
func (e *Effects) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Effects) spawn(parent context.Context, appointmentID string, tasks map[string]func(context.Context) error) {
	if e == nil || len(tasks) == 0 {
		return
	}
	ctx := context.WithoutCancel(parent)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		var g errgroup.Group
		for name, task := range tasks {
			g.Go(func() error {
				if err := task(ctx); err != nil {
					e.logger.Error("appointment side effect failed", "effect", name, "appointment_id", appointmentID, "err", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Booked announces a new appointment to the provider and the subject.
func (e *Effects) Booked(ctx context.Context, a model.Appointment) {
	if e == nil {
		return
	}
	e.spawn(ctx, a.ID, map[string]func(context.Context) error{
		"broadcast": func(ctx context.Context) error {
			subject := e.subjectProfile(ctx, a.SubjectID)
			return errors.Join(
				e.publish(ctx, identity.ProviderRoom(a.ProviderID), realtime.PatientNew{Subject: subject, Appointment: a}),
				e.publish(ctx, identity.ProviderRoom(a.ProviderID), realtime.PatientListRefresh{ProviderID: a.ProviderID, AppointmentID: a.ID, Reason: "booked"}),
				e.publish(ctx, identity.SubjectRoom(a.SubjectID), realtime.AppointmentBooked{Appointment: a}),
			)
		},
		"notify_subject": func(ctx context.Context) error {
			provider, _ := e.provider(ctx, a.ProviderID)
			return e.dispatch(ctx, a.SubjectID, model.NotifyAppointmentBooked, a,
				"Appointment booked",
				fmt.Sprintf("Your appointment with %s on %s is booked.", providerName(provider), when(a, provider)))
		},
		"notify_provider": func(ctx context.Context) error {
			provider, err := e.provider(ctx, a.ProviderID)
			if err != nil || provider.UserID == "" {
				return err
			}
			subject := e.subjectProfile(ctx, a.SubjectID)
			return e.dispatch(ctx, provider.UserID, model.NotifyAppointmentBooked, a,
				"New appointment",
				fmt.Sprintf("%s booked %s.", subjectName(subject), when(a, provider)))
		},
	})
}

// Transitioned refreshes the provider's list, confirms to the subject when
// relevant, and notifies the party that did not act.
func (e *Effects) Transitioned(ctx context.Context, a model.Appointment, by model.ActorRole) {
	if e == nil {
		return
	}
	kind := notificationKind(a.Status)
	tasks := map[string]func(context.Context) error{
		"broadcast": func(ctx context.Context) error {
			errs := []error{
				e.publish(ctx, identity.ProviderRoom(a.ProviderID), realtime.PatientListRefresh{
					ProviderID:    a.ProviderID,
					AppointmentID: a.ID,
					Reason:        strings.ToLower(string(a.Status)),
				}),
			}
			if a.Status == model.StatusConfirmed {
				errs = append(errs, e.publish(ctx, identity.SubjectRoom(a.SubjectID), realtime.AppointmentConfirmed{Appointment: a}))
			}
			return errors.Join(errs...)
		},
	}
	title, verb := transitionText(a.Status)
	if by != model.ActorSubject {
		tasks["notify_subject"] = func(ctx context.Context) error {
			provider, _ := e.provider(ctx, a.ProviderID)
			return e.dispatch(ctx, a.SubjectID, kind, a, title,
				fmt.Sprintf("Your appointment with %s on %s was %s.", providerName(provider), when(a, provider), verb))
		}
	}
	if by != model.ActorProvider {
		tasks["notify_provider"] = func(ctx context.Context) error {
			provider, err := e.provider(ctx, a.ProviderID)
			if err != nil || provider.UserID == "" {
				return err
			}
			subject := e.subjectProfile(ctx, a.SubjectID)
			return e.dispatch(ctx, provider.UserID, kind, a, title,
				fmt.Sprintf("The appointment with %s on %s was %s.", subjectName(subject), when(a, provider), verb))
		}
	}
	e.spawn(ctx, a.ID, tasks)
}

func (e *Effects) publish(ctx context.Context, room identity.Room, msg realtime.Message) error {
	if e.hub == nil {
		return nil
	}
	return e.hub.Publish(ctx, room, msg)
}

func (e *Effects) dispatch(ctx context.Context, recipient string, kind model.NotificationKind, a model.Appointment, title, message string) error {
	if e.notifier == nil || recipient == "" {
		return nil
	}
	_, err := e.notifier.Dispatch(ctx, notify.Request{
		RecipientUserID: recipient,
		Kind:            kind,
		Title:           title,
		Message:         message,
		Payload: map[string]any{
			"appointmentId": a.ID,
			"providerId":    a.ProviderID,
			"subjectId":     a.SubjectID,
			"startTime":     a.StartTime.UTC().Format(time.RFC3339),
			"status":        string(a.Status),
		},
	})
	return err
}

func (e *Effects) provider(ctx context.Context, id string) (model.Provider, error) {
	if e.directory == nil {
		return model.Provider{ID: id}, nil
	}
	p, err := e.directory.GetProvider(ctx, id)
	if err != nil {
		return model.Provider{ID: id}, err
	}
	return p, nil
}

func (e *Effects) subjectProfile(ctx context.Context, id string) model.SubjectProfile {
	if e.directory == nil {
		return model.SubjectProfile{ID: id}
	}
	sp, err := e.directory.GetSubjectProfile(ctx, id)
	if err != nil {
		if !model.IsKind(err, model.KindNotFound) {
			e.logger.Warn("subject profile lookup failed", "subject_id", id, "err", err)
		}
		return model.SubjectProfile{ID: id}
	}
	return sp
}

func notificationKind(st model.AppointmentStatus) model.NotificationKind {
	switch st {
	case model.StatusConfirmed:
		return model.NotifyAppointmentConfirmed
	case model.StatusCompleted:
		return model.NotifyAppointmentCompleted
	case model.StatusCancelled:
		return model.NotifyAppointmentCancelled
	default:
		return model.NotifyAppointmentBooked
	}
}

func transitionText(st model.AppointmentStatus) (title, verb string) {
	switch st {
	case model.StatusConfirmed:
		return "Appointment confirmed", "confirmed"
	case model.StatusCompleted:
		return "Appointment completed", "completed"
	case model.StatusCancelled:
		return "Appointment cancelled", "cancelled"
	default:
		return "Appointment updated", "updated"
	}
}

func when(a model.Appointment, p model.Provider) string {
	return a.StartTime.In(p.Location()).Format("Mon Jan 2 15:04 MST")
}

func providerName(p model.Provider) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return "your provider"
}

func subjectName(s model.SubjectProfile) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return "A patient"
}
