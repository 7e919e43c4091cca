// Package history keeps the per-room ordered message log. History is
// volatile: it lives in memory, grows only by appends, and whole room
// logs are evicted after a window of inactivity.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one immutable entry in a room's log. Name carries the tool
// name for function-result messages.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh ULID. ULIDs sort
// lexicographically by creation time, so message ids follow append order.
func NewMessage(role, content, name string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Name:      name,
		CreatedAt: now,
	}
}

type roomLog struct {
	messages     []Message
	lastActivity time.Time
}

// Store is the chat history store. All operations are non-blocking and
// none return errors; unknown rooms are safe no-ops or empty results.
type Store struct {
	mu         sync.Mutex
	rooms      map[string]*roomLog
	idleWindow time.Duration
	logger     *slog.Logger
}

// NewStore creates a history store. idleWindow <= 0 defaults to one hour.
func NewStore(idleWindow time.Duration, logger *slog.Logger) *Store {
	if idleWindow <= 0 {
		idleWindow = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		rooms:      make(map[string]*roomLog),
		idleWindow: idleWindow,
		logger:     logger.With("component", "history"),
	}
}

// Append adds a message to the room's log, creating the log if absent,
// and refreshes the room's last-activity timestamp.
func (s *Store) Append(roomID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[roomID]
	if !ok {
		log = &roomLog{}
		s.rooms[roomID] = log
	}
	log.messages = append(log.messages, msg)
	log.lastActivity = time.Now()
}

// Snapshot returns a copy of the room's ordered log. Callers may
// enumerate the result while concurrent appends happen; appends after
// the snapshot call are not reflected.
func (s *Store) Snapshot(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(log.messages))
	copy(out, log.messages)
	return out
}

// Len returns the number of messages in the room's log.
func (s *Store) Len(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.rooms[roomID]; ok {
		return len(log.messages)
	}
	return 0
}

// EvictIdle removes every room log whose last activity is older than
// the idle window relative to now. Lossy and intentional.
func (s *Store) EvictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, log := range s.rooms {
		if now.Sub(log.lastActivity) > s.idleWindow {
			delete(s.rooms, roomID)
			s.logger.Debug("evicted idle room history",
				"room", roomID,
				"messages", len(log.messages))
		}
	}
}

// Run periodically evicts idle room logs until ctx is done. The sweep
// interval is a fraction of the idle window.
func (s *Store) Run(ctx context.Context) {
	interval := s.idleWindow / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.EvictIdle(now)
		}
	}
}
