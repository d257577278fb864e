package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Record is a stored outbox row.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

const (
	AggregateAppointment = "appointment"

	EventAppointmentBooked    = "scheduling.appointment.booked.v1"
	EventAppointmentConfirmed = "scheduling.appointment.confirmed.v1"
	EventAppointmentCompleted = "scheduling.appointment.completed.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
)

type appointmentPayload struct {
	AppointmentID   string    `json:"appointment_id"`
	ProviderID      string    `json:"provider_id"`
	SubjectID       string    `json:"subject_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// AppointmentEvent builds the event emitted when an appointment enters its
// current status.
func AppointmentEvent(a model.Appointment) (Event, error) {
	payload, err := json.Marshal(appointmentPayload{
		AppointmentID:   a.ID,
		ProviderID:      a.ProviderID,
		SubjectID:       a.SubjectID,
		StartTime:       a.StartTime.UTC(),
		DurationMinutes: a.DurationMinutes,
		Type:            string(a.Type),
		Status:          string(a.Status),
		OccurredAt:      a.UpdatedAt.UTC(),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     eventTypeFor(a.Status),
		Payload:       payload,
	}, nil
}

func eventTypeFor(st model.AppointmentStatus) string {
	switch st {
	case model.StatusConfirmed:
		return EventAppointmentConfirmed
	case model.StatusCompleted:
		return EventAppointmentCompleted
	case model.StatusCancelled:
		return EventAppointmentCancelled
	default:
		return EventAppointmentBooked
	}
}
