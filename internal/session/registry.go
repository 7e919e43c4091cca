// Package session tracks which connections belong to which rooms and
// broadcasts room-scoped events. Delivery is best-effort at-most-once:
// closed connections are skipped silently and there are no retries.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is a live transport handle owned by the registry for the
// duration of the underlying network session.
type Conn interface {
	// ID uniquely identifies the connection.
	ID() uuid.UUID
	// Send delivers one event. Implementations must not block
	// indefinitely; an error means the event was not delivered.
	Send(Event) error
	// Open reports whether the connection can still accept events.
	Open() bool
}

type room struct {
	members map[uuid.UUID]Conn
	owner   string // Owning user id; set once, never changed after
}

// Registry is the session/room registry. All operations are safe
// no-ops for unknown rooms or connections.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]*room),
		logger: logger.With("component", "session"),
	}
}

// Join idempotently adds the connection to the room's member set,
// creating the room entry if absent.
func (r *Registry) Join(conn Conn, roomID string) {
	if conn == nil || roomID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]Conn)}
		r.rooms[roomID] = rm
	}
	if _, present := rm.members[conn.ID()]; present {
		return
	}
	rm.members[conn.ID()] = conn

	r.logger.Debug("connection joined room",
		"room", roomID,
		"conn", conn.ID(),
		"members", len(rm.members))
}

// AssociateOwner records the owning user for a room if not already
// recorded. Subsequent calls with a different id are ignored
// (first-wins). Associating an owner enables retrieval and ingestion
// for the room.
func (r *Registry) AssociateOwner(roomID, userID string) {
	if roomID == "" || userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]Conn)}
		r.rooms[roomID] = rm
	}
	if rm.owner != "" {
		return
	}
	rm.owner = userID

	r.logger.Debug("room owner associated", "room", roomID, "user", userID)
}

// OwnerOf returns the owning user for a room, if one was associated.
func (r *Registry) OwnerOf(roomID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.owner == "" {
		return "", false
	}
	return rm.owner, true
}

// Broadcast delivers the event to every currently-open member of the
// room. Connections that are not open, or whose Send fails, are
// skipped silently.
func (r *Registry) Broadcast(roomID string, event Event) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if !ok || len(rm.members) == 0 {
		r.mu.RUnlock()
		return
	}
	// Copy members under read lock to avoid holding it during sends.
	targets := make([]Conn, 0, len(rm.members))
	for _, c := range rm.members {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.Open() {
			continue
		}
		if err := c.Send(event); err != nil {
			r.logger.Debug("dropped event for connection",
				"room", roomID,
				"conn", c.ID(),
				"event", event.Type,
				"error", err)
		}
	}
}

// Leave removes the connection from every room it joined. Rooms left
// with empty membership stay present but inert.
func (r *Registry) Leave(conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, rm := range r.rooms {
		if _, present := rm.members[conn.ID()]; present {
			delete(rm.members, conn.ID())
			r.logger.Debug("connection left room",
				"room", roomID,
				"conn", conn.ID(),
				"members", len(rm.members))
		}
	}
}

// Members returns the number of connections currently in the room.
func (r *Registry) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}
