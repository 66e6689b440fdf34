package notify

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one connected client. gorilla/websocket allows a single
// concurrent writer, so every send goes through the session mutex.
type Session struct {
	UserID string
	Role   string // "rider" or "customer"

	conn *websocket.Conn
	mu   sync.Mutex
}

func NewSession(userID, role string, conn *websocket.Conn) *Session {
	return &Session{UserID: userID, Role: role, conn: conn}
}

// Send writes one event envelope. Errors are returned so the fan-out can
// count them, but delivery stays best-effort either way.
func (s *Session) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Data: data})
}

func (s *Session) Close() error { return s.conn.Close() }
