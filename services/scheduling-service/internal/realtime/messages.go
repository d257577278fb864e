package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

type MessageType string

// Server to client.
const (
	TypeAppointmentBooked    MessageType = "appointment:booked"
	TypePatientNew           MessageType = "patient:new"
	TypePatientListRefresh   MessageType = "patient-list:refresh"
	TypeAppointmentConfirmed MessageType = "appointment:confirmed"
	TypeNotificationUpdated  MessageType = "notification:updated"
	TypeSubscribed           MessageType = "subscribed"
	TypeError                MessageType = "error"
)

// Client to server.
const (
	TypeSubscribeProvider MessageType = "subscribe:provider"
	TypeSubscribeSubject  MessageType = "subscribe:subject"
	TypeNotificationRead  MessageType = "notification:read"
)

// Message is one of the server to client variants below. The set is closed.
type Message interface {
	Type() MessageType
	sealed()
}

type AppointmentBooked struct {
	Appointment model.Appointment `json:"appointment"`
}

type PatientNew struct {
	Subject     model.SubjectProfile `json:"subject"`
	Appointment model.Appointment    `json:"appointment"`
}

// PatientListRefresh tells a provider's clients to re-fetch their list.
type PatientListRefresh struct {
	ProviderID    string `json:"providerId"`
	AppointmentID string `json:"appointmentId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type AppointmentConfirmed struct {
	Appointment model.Appointment `json:"appointment"`
}

type NotificationUpdated struct {
	Notification model.NotificationRecord `json:"notification"`
}

type Subscribed struct {
	Room identity.Room `json:"room"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (AppointmentBooked) Type() MessageType    { return TypeAppointmentBooked }
func (PatientNew) Type() MessageType           { return TypePatientNew }
func (PatientListRefresh) Type() MessageType   { return TypePatientListRefresh }
func (AppointmentConfirmed) Type() MessageType { return TypeAppointmentConfirmed }
func (NotificationUpdated) Type() MessageType  { return TypeNotificationUpdated }
func (Subscribed) Type() MessageType           { return TypeSubscribed }
func (ErrorMessage) Type() MessageType         { return TypeError }

func (AppointmentBooked) sealed()    {}
func (PatientNew) sealed()           {}
func (PatientListRefresh) sealed()   {}
func (AppointmentConfirmed) sealed() {}
func (NotificationUpdated) sealed()  {}
func (Subscribed) sealed()           {}
func (ErrorMessage) sealed()         {}

// Encode renders m as a flat JSON object whose first key is "type".
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ClientMessage is one of the client to server variants.
type ClientMessage interface {
	clientType() MessageType
}

type SubscribeProvider struct {
	ProviderID string `json:"providerId"`
}

type SubscribeSubject struct {
	SubjectID string `json:"subjectId"`
}

type NotificationRead struct {
	NotificationID string `json:"notificationId"`
}

func (SubscribeProvider) clientType() MessageType { return TypeSubscribeProvider }
func (SubscribeSubject) clientType() MessageType  { return TypeSubscribeSubject }
func (NotificationRead) clientType() MessageType  { return TypeNotificationRead }

var errUnknownType = errors.New("unknown message type")

// DecodeClient parses an incoming frame. Unknown fields are ignored.
func DecodeClient(data []byte) (ClientMessage, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch head.Type {
	case TypeSubscribeProvider:
		return decodeAs[SubscribeProvider](data)
	case TypeSubscribeSubject:
		return decodeAs[SubscribeSubject](data)
	case TypeNotificationRead:
		return decodeAs[NotificationRead](data)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownType, head.Type)
	}
}

func decodeAs[T ClientMessage](data []byte) (ClientMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return m, nil
}
