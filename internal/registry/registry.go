package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
)

// Conn is the transport handle the registry writes to. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one live connection for one user. Writes are serialized by the
// session mutex since websocket connections allow a single concurrent writer.
type Session struct {
	UserID      string
	ConnectedAt time.Time

	mu   sync.Mutex
	conn Conn
}

func (s *Session) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry maps a user id to at most one live session. Delivery is
// fire-and-forget, at most once per connection: no acknowledgement, no retry,
// no backlog for offline users.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *slog.Logger
}

func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{sessions: make(map[string]*Session), log: log}
}

// Register installs the connection as the user's current session, closing any
// superseded one. Last writer wins.
func (r *Registry) Register(userID string, conn Conn) *Session {
	s := &Session{UserID: userID, ConnectedAt: time.Now(), conn: conn}
	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
	} else {
		observability.ConnectedUsers.Inc()
	}
	r.log.Debug("connection registered", "user_id", userID)
	return s
}

// Unregister removes the mapping only if sess is still the user's current
// session. A late close of a superseded connection must not evict a newer one.
func (r *Registry) Unregister(userID string, sess *Session) {
	r.mu.Lock()
	current, ok := r.sessions[userID]
	if ok && current == sess {
		delete(r.sessions, userID)
		observability.ConnectedUsers.Dec()
	}
	r.mu.Unlock()
}

// Send writes the message to the user's live connection, if any. It reports
// whether delivery was attempted, not whether it succeeded: a mid-flight
// write failure tears the connection down so subsequent sends treat the user
// as offline, but the triggering operation is never failed by it.
func (r *Registry) Send(userID string, msg any) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := s.write(msg); err != nil {
		r.log.Warn("connection write failed, dropping session", "user_id", userID, "error", err)
		_ = s.conn.Close()
		r.Unregister(userID, s)
	}
	return true
}

// Connected reports whether the user currently has a live session.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}
