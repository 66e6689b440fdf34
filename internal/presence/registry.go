// Package presence tracks which riders are currently on duty and where.
// The registry is process-local and rebuildable: riders re-announce after a
// restart, so nothing here needs to survive one.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Entry is one on-duty rider. The vehicle class is cached at go-on-duty
// time and trusted for the duration of the shift.
type Entry struct {
	RiderID      string
	Loc          models.Coord
	HeadingDeg   float64
	VehicleClass string
	DisplayName  string
	Conn         any
	Updated      time.Time
}

// Registry is the single mutation point for on-duty state. Reads return
// copies, never live references, so fan-out iteration cannot observe a
// half-updated entry.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Entry
	byConn map[any]string

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:   make(map[string]Entry),
		byConn: make(map[any]string),
		logger: logger,
	}
}

// SetOnDuty upserts the rider's entry. Repeat calls overwrite coordinates
// and vehicle class, which is how a rider refreshes a stale shift.
func (r *Registry) SetOnDuty(riderID string, loc models.Coord, headingDeg float64, vehicleClass, displayName string, conn any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[riderID]; ok && prev.Conn != nil && prev.Conn != conn {
		delete(r.byConn, prev.Conn)
	}
	r.byID[riderID] = Entry{
		RiderID:      riderID,
		Loc:          loc,
		HeadingDeg:   headingDeg,
		VehicleClass: vehicleClass,
		DisplayName:  displayName,
		Conn:         conn,
		Updated:      time.Now(),
	}
	if conn != nil {
		r.byConn[conn] = riderID
	}
}

func (r *Registry) SetOffDuty(riderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(riderID)
}

// OnDisconnect removes the rider owning conn, if any. A rider who loses the
// connection rarely gets to announce off-duty first, so this is the reverse
// lookup path.
func (r *Registry) OnDisconnect(conn any) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	riderID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	r.removeLocked(riderID)
	return riderID, true
}

func (r *Registry) removeLocked(riderID string) {
	if e, ok := r.byID[riderID]; ok && e.Conn != nil {
		delete(r.byConn, e.Conn)
	}
	delete(r.byID, riderID)
}

// UpdateLocation is a no-op when the rider is not on duty: a location packet
// can race a disconnect and must not resurrect the entry.
func (r *Registry) UpdateLocation(riderID string, loc models.Coord, headingDeg float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[riderID]
	if !ok {
		r.logger.Debug("location update for off-duty rider dropped", "rider_id", riderID)
		return false
	}
	e.Loc = loc
	e.HeadingDeg = headingDeg
	e.Updated = time.Now()
	r.byID[riderID] = e
	return true
}

func (r *Registry) Get(riderID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[riderID]
	return e, ok
}

// ListOnDuty returns a snapshot copy of all entries.
func (r *Registry) ListOnDuty() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
