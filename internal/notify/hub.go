package notify

import "sync"

// Hub indexes active sessions by user ID and ride subscriptions by ride ID.
// The per-user index replaces scanning every connection to find "the socket
// belonging to user X" with an O(1) lookup.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Session]struct{}
	subs   map[string]map[string]struct{} // rideID -> subscribed user IDs
}

func NewHub() *Hub {
	return &Hub{
		byUser: make(map[string]map[*Session]struct{}),
		subs:   make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		h.byUser[s.UserID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.UserID)
		}
	}
}

// SessionsFor returns a snapshot slice of the user's active sessions.
func (h *Hub) SessionsFor(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byUser[userID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Subscribe marks userID as interested in real-time updates for rideID.
func (h *Hub) Subscribe(rideID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[rideID]
	if !ok {
		set = make(map[string]struct{})
		h.subs[rideID] = set
	}
	set[userID] = struct{}{}
}

func (h *Hub) Subscribers(rideID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[rideID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// DropRide clears subscriptions once a ride reaches a terminal state.
func (h *Hub) DropRide(rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, rideID)
}
