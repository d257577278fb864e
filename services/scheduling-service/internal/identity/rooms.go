package identity

import (
	"strings"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

// Room names a broadcast audience.
type Room string

const (
	roomProvider = "provider:"
	roomSubject  = "subject:"
	roomUser     = "user:"
)

func ProviderRoom(id string) Room { return Room(roomProvider + id) }
func SubjectRoom(id string) Room  { return Room(roomSubject + id) }
func UserRoom(id string) Room     { return Room(roomUser + id) }

// CanJoin allows the provider and subject rooms the identity owns, every
// provider and subject room for admins, and only the caller's own user room.
func (id Identity) CanJoin(room Room) error {
	s := string(room)
	var ok bool
	switch {
	case strings.HasPrefix(s, roomProvider):
		ref := strings.TrimPrefix(s, roomProvider)
		ok = id.OwnsProvider(ref) || (id.IsAdmin() && ref != "")
	case strings.HasPrefix(s, roomSubject):
		ref := strings.TrimPrefix(s, roomSubject)
		ok = id.OwnsSubject(ref) || (id.IsAdmin() && ref != "")
	case strings.HasPrefix(s, roomUser):
		ok = id.UserID != "" && strings.TrimPrefix(s, roomUser) == id.UserID
	}
	if !ok {
		return model.Errorf(model.KindUnauthorized, "not allowed to join %s", room)
	}
	return nil
}
