// Package storage defines the persistence contract of the scheduling core.
// The postgres and memory subpackages implement it.
package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
)

// Tx is a unit of work. Writes made through it become visible together when
// the surrounding WithProviderLock or WithTx call returns nil.
type Tx interface {
	AppointmentByIdempotencyKey(ctx context.Context, subjectID, key string) (model.Appointment, bool, error)
	FindOverlapping(ctx context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, a model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, a model.Appointment) error
	Enqueue(ctx context.Context, evt outbox.Event) error
}

type AppointmentFilter struct {
	ProviderID string
	SubjectID  string
	From       time.Time
	To         time.Time
	Limit      int
}

type NotificationFilter struct {
	RecipientUserID string
	UnreadOnly      bool
	Limit           int
}

// Store is everything the service needs from persistence.
type Store interface {
	// WithProviderLock runs fn in a transaction that holds the provider's
	// booking lock until commit.
	WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx Tx) error) error
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProvider(ctx context.Context, id string) (model.Provider, error)
	UpsertProvider(ctx context.Context, p model.Provider) error
	GetSubjectProfile(ctx context.Context, id string) (model.SubjectProfile, error)
	UpsertSubjectProfile(ctx context.Context, s model.SubjectProfile) error

	// GetTemplate returns an all-inactive template when none is stored.
	GetTemplate(ctx context.Context, providerID string) (model.WeeklyTemplate, error)
	PutTemplate(ctx context.Context, t model.WeeklyTemplate) error

	FindOverlapping(ctx context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)

	// InsertNotification stores rec unless a record with the same dedup key
	// was created within window, in which case that record is returned with
	// created=false.
	InsertNotification(ctx context.Context, rec model.NotificationRecord, window time.Duration) (stored model.NotificationRecord, created bool, err error)
	GetNotification(ctx context.Context, id string) (model.NotificationRecord, error)
	ListNotifications(ctx context.Context, f NotificationFilter) ([]model.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (model.NotificationRecord, error)

	outbox.Store
	Ping(ctx context.Context) error
	Close()
}

// Overlaps is the half-open interval test shared by both stores.
func Overlaps(a model.Appointment, from, to time.Time) bool {
	return a.StartTime.Before(to) && from.Before(a.EndTime())
}

func HasStatus(st model.AppointmentStatus, statuses []model.AppointmentStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

const DefaultListLimit = 200

func ClampLimit(n int) int {
	if n <= 0 || n > DefaultListLimit {
		return DefaultListLimit
	}
	return n
}
