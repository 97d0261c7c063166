package room

import (
	"sort"
	"sync"
	"time"
)

// A set of live connections sharing one room id. mu guards members and
// closed; a closed room has been emptied and unlinked from its registry.
type Room[M comparable] struct {
	ID      string
	members map[M]time.Time
	closed  bool
	mu      sync.RWMutex
}

// Creates a new empty room with the given ID
func NewRoom[M comparable](id string) *Room[M] {
	return &Room[M]{
		ID:      id,
		members: make(map[M]time.Time),
	}
}

// Number of live members
func (r *Room[M]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// MemberInfo is the lightweight metadata kept per connection
type MemberInfo struct {
	ID          string    `json:"id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Info is a point-in-time view of a room
type Info struct {
	RoomID     string       `json:"room_id"`
	UsersCount int          `json:"users_count"`
	Users      []MemberInfo `json:"users,omitempty"`
}

// info reads members; the caller holds r.mu
func (r *Room[M]) info(withMembers bool) Info {
	info := Info{RoomID: r.ID, UsersCount: len(r.members)}
	if !withMembers {
		return info
	}
	info.Users = make([]MemberInfo, 0, len(r.members))
	for m, joined := range r.members {
		mi := MemberInfo{ConnectedAt: joined}
		if named, ok := any(m).(interface{ ID() string }); ok {
			mi.ID = named.ID()
		}
		info.Users = append(info.Users, mi)
	}
	sort.Slice(info.Users, func(i, j int) bool {
		return info.Users[i].ConnectedAt.Before(info.Users[j].ConnectedAt)
	})
	return info
}

// Registry maps room ids to their live members. Rooms appear on first
// join and vanish when their last member leaves. A member belongs to at
// most one room at a time.
//
// Each room has its own lock, so joins, leaves and broadcasts in one room
// never wait on another room. The registry lock only covers looking rooms
// up, creating them and unlinking empty ones, and is never held together
// with a room lock.
type Registry[M comparable] struct {
	rooms    map[string]*Room[M]
	mu       sync.RWMutex
	memberOf sync.Map // M -> room id
	now      func() time.Time
}

func NewRegistry[M comparable]() *Registry[M] {
	return &Registry[M]{
		rooms: make(map[string]*Room[M]),
		now:   time.Now,
	}
}

func (reg *Registry[M]) lookup(roomID string) *Room[M] {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[roomID]
}

// open returns the live room for roomID, creating it if it is missing or
// if the registry still points at stale, a room that has since closed
func (reg *Registry[M]) open(roomID string, stale *Room[M]) *Room[M] {
	if stale == nil {
		if r := reg.lookup(roomID); r != nil {
			return r
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok || r == stale {
		r = NewRoom[M](roomID)
		reg.rooms[roomID] = r
	}
	return r
}

// unlink drops r from the registry unless roomID was already reopened
func (reg *Registry[M]) unlink(r *Room[M]) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[r.ID] == r {
		delete(reg.rooms, r.ID)
	}
}

// Join adds m to roomID and returns the new member count. Joining the room
// m is already in changes nothing and reports added=false. A member of a
// different room is moved out of it first.
func (reg *Registry[M]) Join(roomID string, m M) (count int, added bool) {
	if current, ok := reg.memberOf.Load(m); ok && current.(string) != roomID {
		reg.Leave(current.(string), m)
	}

	var stale *Room[M]
	for {
		r := reg.open(roomID, stale)
		r.mu.Lock()
		if r.closed {
			// emptied between lookup and lock
			r.mu.Unlock()
			stale = r
			continue
		}
		if _, ok := r.members[m]; ok {
			count = len(r.members)
			r.mu.Unlock()
			return count, false
		}
		r.members[m] = reg.now()
		reg.memberOf.Store(m, roomID)
		count = len(r.members)
		r.mu.Unlock()
		return count, true
	}
}

// Leave removes m from roomID and returns the remaining member count.
// removed is false when m was not a member, so a second Leave is a no-op.
func (reg *Registry[M]) Leave(roomID string, m M) (count int, removed bool) {
	r := reg.lookup(roomID)
	if r == nil {
		return 0, false
	}

	r.mu.Lock()
	if _, ok := r.members[m]; !ok {
		count = len(r.members)
		r.mu.Unlock()
		return count, false
	}
	delete(r.members, m)
	reg.memberOf.CompareAndDelete(m, roomID)
	count = len(r.members)
	if count == 0 {
		r.closed = true
	}
	r.mu.Unlock()

	if count == 0 {
		reg.unlink(r)
	}
	return count, true
}

// Snapshot returns the room's info, including per-member join times
func (reg *Registry[M]) Snapshot(roomID string) (Info, bool) {
	r := reg.lookup(roomID)
	if r == nil {
		return Info{RoomID: roomID}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Info{RoomID: roomID}, false
	}
	return r.info(true), true
}

// all copies the room pointers out so callers can lock rooms one by one
func (reg *Registry[M]) all() []*Room[M] {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rooms := make([]*Room[M], 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// List returns every live room ordered by id
func (reg *Registry[M]) List() []Info {
	all := reg.all()
	rooms := make([]Info, 0, len(all))
	for _, r := range all {
		r.mu.RLock()
		if !r.closed {
			rooms = append(rooms, r.info(false))
		}
		r.mu.RUnlock()
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })
	return rooms
}

func (reg *Registry[M]) Count(roomID string) int {
	if r := reg.lookup(roomID); r != nil {
		return r.Count()
	}
	return 0
}

// Contains reports whether m is currently registered under roomID
func (reg *Registry[M]) Contains(roomID string, m M) bool {
	r := reg.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[m]
	return ok
}

// Each calls fn for every member of roomID while holding that room's read
// lock, so no join or leave of the room can interleave with the iteration.
// fn must not block or call back into the registry.
func (reg *Registry[M]) Each(roomID string, fn func(M)) {
	r := reg.lookup(roomID)
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for m := range r.members {
		fn(m)
	}
}

// Members returns every live member across all rooms
func (reg *Registry[M]) Members() []M {
	var members []M
	for _, r := range reg.all() {
		r.mu.RLock()
		for m := range r.members {
			members = append(members, m)
		}
		r.mu.RUnlock()
	}
	return members
}

// Stats returns the number of live rooms and members
func (reg *Registry[M]) Stats() (rooms, members int) {
	for _, r := range reg.all() {
		r.mu.RLock()
		if !r.closed {
			rooms++
			members += len(r.members)
		}
		r.mu.RUnlock()
	}
	return rooms, members
}
