package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
)

const DefaultSendQueue = 256

// Conn is one client session. The hub writes encoded frames to its queue and
// the transport drains them.
type Conn struct {
	ID       string
	Identity identity.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id identity.Identity, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	return &Conn{
		ID:       uuid.NewString(),
		Identity: id,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// Send is the outbound queue.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// offer queues data without blocking. It reports false when the queue is
// full or the connection is closed.
func (c *Conn) offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
