// Package realtime pushes scheduling events to connected clients.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
)

var ErrHubClosed = errors.New("realtime hub closed")

// Relay mirrors local publishes to other instances.
type Relay interface {
	Publish(ctx context.Context, room identity.Room, data []byte) error
}

// Hub delivers messages to the connections in a room. Delivery is best
// effort and at most once: nothing is buffered for clients that are not
// connected, and a client whose queue is full is disconnected.
type Hub struct {
	registry *Registry
	logger   *slog.Logger

	relayMu sync.RWMutex
	relay   Relay

	closed atomic.Bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{registry: NewRegistry(), logger: logger}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) SetRelay(r Relay) {
	h.relayMu.Lock()
	h.relay = r
	h.relayMu.Unlock()
}

// Register admits c and joins it to its own user room.
func (h *Hub) Register(c *Conn) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	if c.Identity.UserID == "" {
		return errors.New("connection has no user id")
	}
	return h.registry.Join(c, identity.UserRoom(c.Identity.UserID))
}

func (h *Hub) Unregister(c *Conn) {
	h.registry.Drop(c)
	c.Close()
}

func (h *Hub) Join(c *Conn, room identity.Room) error {
	return h.registry.Join(c, room)
}

// Publish sends msg to every connection in room, here and, through the
// relay, on other instances. An empty room is not an error.
func (h *Hub) Publish(ctx context.Context, room identity.Room, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	h.DeliverLocal(room, data)

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, room, data); err != nil {
			return fmt.Errorf("relay %s to %s: %w", msg.Type(), room, err)
		}
	}
	return nil
}

// DeliverLocal queues data on every local member of room and returns how
// many connections accepted it.
func (h *Hub) DeliverLocal(room identity.Room, data []byte) int {
	if h.closed.Load() {
		return 0
	}
	delivered := 0
	for _, c := range h.registry.Members(room) {
		if c.offer(data) {
			delivered++
			continue
		}
		if !c.Closed() {
			h.logger.Warn("dropping slow realtime client", "conn_id", c.ID, "user_id", c.Identity.UserID, "room", string(room))
		}
		h.Unregister(c)
	}
	return delivered
}

// Reply sends msg to a single connection.
func (h *Hub) Reply(c *Conn, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		h.logger.Error("encode realtime reply", "type", string(msg.Type()), "err", err)
		return
	}
	if !c.offer(data) && !c.Closed() {
		h.Unregister(c)
	}
}

// Close disconnects every client. Later publishes are no-ops.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	for _, c := range h.registry.Connections() {
		h.Unregister(c)
	}
}
