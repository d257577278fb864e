package model

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	// StatusMissed is never stored. It is reported for active appointments
	// whose end has passed.
	StatusMissed AppointmentStatus = "MISSED"
)

// ActiveStatuses are the statuses that hold a provider's time.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

func ParseStatus(s string) (AppointmentStatus, bool) {
	st := AppointmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type AppointmentType string

const (
	TypeInPerson AppointmentType = "in_person"
	TypeRemote   AppointmentType = "remote"
	TypeFollowUp AppointmentType = "follow_up"
	TypeUrgent   AppointmentType = "urgent"
)

func ParseAppointmentType(s string) (AppointmentType, bool) {
	t := AppointmentType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeInPerson, TypeRemote, TypeFollowUp, TypeUrgent:
		return t, true
	}
	return "", false
}

type Appointment struct {
	ID              string            `json:"id"`
	ProviderID      string            `json:"provider_id"`
	SubjectID       string            `json:"subject_id"`
	StartTime       time.Time         `json:"start_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            AppointmentType   `json:"type"`
	Status          AppointmentStatus `json:"status"`
	Reason          string            `json:"reason"`
	MeetingRef      string            `json:"meeting_ref,omitempty"`
	IdempotencyKey  string            `json:"-"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CancelledBy     string            `json:"cancelled_by,omitempty"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(a.Duration())
}

// EffectiveStatus is the status reported to readers: active appointments
// whose end has passed read as MISSED.
func (a Appointment) EffectiveStatus(now time.Time) AppointmentStatus {
	if a.Status.Active() && now.After(a.EndTime()) {
		return StatusMissed
	}
	return a.Status
}

// WithEffectiveStatus returns a copy whose Status is the read-time view.
func (a Appointment) WithEffectiveStatus(now time.Time) Appointment {
	a.Status = a.EffectiveStatus(now)
	return a
}

// ActorRole says in which capacity an actor touches an appointment.
type ActorRole string

const (
	ActorProvider ActorRole = "provider"
	ActorSubject  ActorRole = "subject"
	ActorAdmin    ActorRole = "admin"
)

// CheckTransition validates moving an appointment from its stored status to
// target on behalf of role.
func CheckTransition(from, target AppointmentStatus, role ActorRole) error {
	if from.Terminal() {
		return Errorf(KindTerminalState, "appointment is %s and can no longer change", from)
	}
	if from == target {
		return Validation(map[string]string{"status": "appointment is already " + string(target)})
	}
	var allowed []ActorRole
	switch {
	case target == StatusConfirmed && from == StatusScheduled:
		allowed = []ActorRole{ActorProvider, ActorAdmin}
	case target == StatusCompleted && from == StatusConfirmed:
		allowed = []ActorRole{ActorProvider, ActorAdmin}
	case target == StatusCancelled:
		allowed = []ActorRole{ActorProvider, ActorSubject, ActorAdmin}
	default:
		return Validation(map[string]string{"status": "cannot move from " + string(from) + " to " + string(target)})
	}
	for _, r := range allowed {
		if r == role {
			return nil
		}
	}
	return Errorf(KindUnauthorized, "%s may not move an appointment to %s", roleName(role), target)
}

func roleName(r ActorRole) string {
	if r == "" {
		return "caller"
	}
	return string(r)
}
