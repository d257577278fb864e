package model

import "time"

// Provider is read from the provider directory.
type Provider struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
	IsActive    bool   `json:"is_active"`
}

// Location resolves the provider's zone, falling back to UTC.
func (p Provider) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SubjectProfile is the summary shown to a provider when a new booking lands.
type SubjectProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Slot struct {
	ProviderID string    `json:"provider_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Available  bool      `json:"available"`
}

type NotificationKind string

const (
	NotifyAppointmentBooked    NotificationKind = "appointment_booked"
	NotifyAppointmentConfirmed NotificationKind = "appointment_confirmed"
	NotifyAppointmentCompleted NotificationKind = "appointment_completed"
	NotifyAppointmentCancelled NotificationKind = "appointment_cancelled"
)

type NotificationRecord struct {
	ID              string           `json:"id"`
	RecipientUserID string           `json:"recipient_user_id"`
	Kind            NotificationKind `json:"kind"`
	Title           string           `json:"title"`
	Message         string           `json:"message"`
	Payload         map[string]any   `json:"payload,omitempty"`
	IsRead          bool             `json:"is_read"`
	CreatedAt       time.Time        `json:"created_at"`
	ReadAt          *time.Time       `json:"read_at,omitempty"`
	DedupKey        string           `json:"-"`
}
