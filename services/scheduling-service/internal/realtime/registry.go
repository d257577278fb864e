package realtime

import (
	"sync"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
)

// Registry tracks which connections belong to which rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[identity.Room]map[*Conn]struct{}
	conns map[*Conn]map[identity.Room]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: map[identity.Room]map[*Conn]struct{}{},
		conns: map[*Conn]map[identity.Room]struct{}{},
	}
}

// Join adds c to room after checking c's identity may see it.
func (r *Registry) Join(c *Conn, room identity.Room) error {
	if err := c.Identity.CanJoin(room); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	if members == nil {
		members = map[*Conn]struct{}{}
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	rooms := r.conns[c]
	if rooms == nil {
		rooms = map[identity.Room]struct{}{}
		r.conns[c] = rooms
	}
	rooms[room] = struct{}{}
	return nil
}

func (r *Registry) Leave(c *Conn, room identity.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, room)
}

// Drop removes c from every room.
func (r *Registry) Drop(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.conns[c] {
		r.leaveLocked(c, room)
	}
	delete(r.conns, c)
}

func (r *Registry) leaveLocked(c *Conn, room identity.Room) {
	if members := r.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms := r.conns[c]; rooms != nil {
		delete(rooms, room)
	}
}

// Members returns a snapshot; later joins and leaves do not affect it.
func (r *Registry) Members(room identity.Room) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) RoomsOf(c *Conn) []identity.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.Room, 0, len(r.conns[c]))
	for room := range r.conns[c] {
		out = append(out, room)
	}
	return out
}

func (r *Registry) Connections() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}
