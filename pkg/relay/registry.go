package relay

import "sync"

// Registry maps room ids to the connections joined to them. Each connection
// is in at most one room. It is owned by the server process and injected
// into the Hub.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Conn]struct{}
	memberOf map[*Conn]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { // A
	return &Registry{
		rooms:    make(map[string]map[*Conn]struct{}),
		memberOf: make(map[*Conn]string),
	}
}

// Join places c in roomID, leaving its previous room. It returns the
// previous room id, or "" if there was none.
func (r *Registry) Join(c *Conn, roomID string) string { // A
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.leaveLocked(c)
	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.rooms[roomID] = set
	}
	set[c] = struct{}{}
	r.memberOf[c] = roomID
	return prev
}

// Leave removes c from its room and returns that room's id.
func (r *Registry) Leave(c *Conn) string { // A
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c)
}

func (r *Registry) leaveLocked(c *Conn) string {
	roomID, ok := r.memberOf[c]
	if !ok {
		return ""
	}
	delete(r.memberOf, c)
	if set, ok := r.rooms[roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, roomID)
		}
	}
	return roomID
}

// RoomOf reports the room c is joined to.
func (r *Registry) RoomOf(c *Conn) (string, bool) { // A
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[c]
	return roomID, ok
}

// Members returns the number of connections in roomID.
func (r *Registry) Members(roomID string) int { // A
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Broadcast queues frame on every connection in roomID except sender.
// Delivery happens under the read lock so it cannot interleave with Evict.
// It returns the number of connections the frame was queued on.
func (r *Registry) Broadcast(roomID string, sender *Conn, frame []byte) int { // A
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for c := range r.rooms[roomID] {
		if c == sender {
			continue
		}
		if c.enqueue(frame) {
			n++
		}
	}
	return n
}

// Evict removes every connection from roomID. Before removal, frame is
// queued on each member except initiator. It returns the evicted
// connections.
func (r *Registry) Evict(roomID string, initiator *Conn, frame []byte) []*Conn { // A
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.rooms[roomID]
	evicted := make([]*Conn, 0, len(set))
	for c := range set {
		if c != initiator && frame != nil {
			c.enqueue(frame)
		}
		delete(r.memberOf, c)
		evicted = append(evicted, c)
	}
	delete(r.rooms, roomID)
	return evicted
}
