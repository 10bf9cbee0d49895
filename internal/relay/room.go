package relay

import (
	"sync"

	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

// Room tracks the open connections subscribed to one room identifier.
// The relay never parses or stores the payloads it forwards; the room is
// purely a fan-out list.
type Room struct {
	id string

	mu    sync.RWMutex
	conns map[string]*Connection
	dead  bool
}

func newRoom(id string) *Room {
	return &Room{
		id:    id,
		conns: make(map[string]*Connection),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// add registers the connection. It reports false if the room was
// already pruned from the server registry; the caller must re-fetch the
// live room, otherwise two members of the same room id could end up in
// disjoint fan-out sets.
func (r *Room) add(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.conns[c.ID()] = c
	return true
}

func (r *Room) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.ID())
}

// Len returns the number of tracked connections.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// broadcast forwards a payload verbatim to every open connection except
// the sender. The member list is snapshotted first so connects and
// disconnects never race the iteration. A failed enqueue closes only the
// offending connection.
func (r *Room) broadcast(from *Connection, payload []byte, logger log.Log) {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.ID() == from.ID() {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if c.State() != StateOpen {
			continue
		}
		if err := c.enqueue(payload); err != nil {
			logger.Warn("dropping connection",
				log.String("conn", c.ID()),
				log.String("room", r.id),
				log.Error(err),
			)
			_ = c.Close()
		}
	}
}
