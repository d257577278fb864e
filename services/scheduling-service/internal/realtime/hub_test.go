package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func providerConn(t *testing.T, h *Hub, userID, providerID string, queue int) *Conn {
	t.Helper()
	c := NewConn(identity.Identity{UserID: userID, Role: "provider", ProviderIDs: []string{providerID}}, queue)
	if err := h.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Join(c, identity.ProviderRoom(providerID)); err != nil {
		t.Fatalf("join: %v", err)
	}
	return c
}

func drain(c *Conn) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data := <-c.Send():
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishIsolatesRooms(t *testing.T) {
	h := NewHub(testLogger())
	a := providerConn(t, h, "u-a", "p1", 8)
	b := providerConn(t, h, "u-b", "p2", 8)

	if err := h.Publish(context.Background(), identity.ProviderRoom("p1"), PatientListRefresh{ProviderID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := drain(a)
	if len(got) != 1 || got[0]["type"] != string(TypePatientListRefresh) || got[0]["providerId"] != "p1" {
		t.Fatalf("unexpected delivery to p1 member: %v", got)
	}
	if other := drain(b); len(other) != 0 {
		t.Fatalf("p2 member must not receive p1 events, got %v", other)
	}
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	h := NewHub(testLogger())
	if err := h.Publish(context.Background(), identity.SubjectRoom("nobody"), AppointmentBooked{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n := h.DeliverLocal(identity.SubjectRoom("nobody"), []byte(`{}`)); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	h := NewHub(testLogger())
	slow := providerConn(t, h, "u-slow", "p1", 1)
	fast := providerConn(t, h, "u-fast", "p1", 8)

	room := identity.ProviderRoom("p1")
	for i := 0; i < 3; i++ {
		if err := h.Publish(context.Background(), room, PatientListRefresh{ProviderID: "p1"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if !slow.Closed() {
		t.Fatal("expected the slow client to be closed")
	}
	if len(h.Registry().RoomsOf(slow)) != 0 {
		t.Fatal("expected the slow client to leave every room")
	}
	if got := drain(fast); len(got) != 3 {
		t.Fatalf("fast client should get all 3 messages, got %d", len(got))
	}
}

func TestUnauthorizedJoinKeepsConnection(t *testing.T) {
	h := NewHub(testLogger())
	c := providerConn(t, h, "u-a", "p1", 8)

	err := h.Join(c, identity.ProviderRoom("p2"))
	if !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if c.Closed() {
		t.Fatal("a refused join must not close the connection")
	}
	if err := h.Publish(context.Background(), identity.UserRoom("u-a"), NotificationUpdated{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := drain(c); len(got) != 1 {
		t.Fatalf("expected delivery on the user room, got %v", got)
	}
}

type failingRelay struct{ calls int }

func (f *failingRelay) Publish(context.Context, identity.Room, []byte) error {
	f.calls++
	return errors.New("redis down")
}

func TestRelayFailureStillDeliversLocally(t *testing.T) {
	h := NewHub(testLogger())
	relay := &failingRelay{}
	h.SetRelay(relay)
	c := providerConn(t, h, "u-a", "p1", 8)

	if err := h.Publish(context.Background(), identity.ProviderRoom("p1"), PatientListRefresh{ProviderID: "p1"}); err == nil {
		t.Fatal("expected relay error to surface")
	}
	if relay.calls != 1 || len(drain(c)) != 1 {
		t.Fatal("expected local delivery and one relay attempt")
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := NewHub(testLogger())
	c := providerConn(t, h, "u-a", "p1", 8)
	h.Close()
	if !c.Closed() {
		t.Fatal("expected connection closed")
	}
	if err := h.Register(NewConn(identity.Identity{UserID: "late"}, 1)); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}
