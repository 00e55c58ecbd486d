package chat

import (
	"sort"
	"sync"

	"PPRelay/tools/errs"
)

// Registry 连接注册表：连接 / 用户 / 房间三个索引共用一把锁。
// 房间索引随 Add/RemoveMembership 增量维护，不做全量扫描。
type Registry struct {
	mu         sync.RWMutex
	byConn     map[string]*Connection            // connID -> conn
	byUser     map[string]map[string]*Connection // userID -> connID -> conn
	byRoom     map[string]map[string]*Connection // roomID -> connID -> conn
	maxPerUser int                               // <=0 不限制
}

// Eviction is a connection removed by a liveness sweep, with the rooms it held.
type Eviction struct {
	Conn  *Connection
	Rooms []string
}

type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

func NewRegistry(maxPerUser int) *Registry {
	return &Registry{
		byConn:     make(map[string]*Connection),
		byUser:     make(map[string]map[string]*Connection),
		byRoom:     make(map[string]map[string]*Connection),
		maxPerUser: maxPerUser,
	}
}

// Register adds c with an empty room set and the liveness flag set.
func (r *Registry) Register(c *Connection) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[c.ID]; exists {
		panic(errs.ErrRegistryInvariant.WrapMsg("duplicate connection id", "conn", c.ID))
	}
	mm := r.byUser[c.UserID]
	if r.maxPerUser > 0 && len(mm) >= r.maxPerUser {
		return "", errs.ErrTooManyConnections.WrapMsg("per-user limit", "user", c.UserID, "max", r.maxPerUser)
	}

	c.alive = true
	c.rooms = make(map[string]struct{})
	r.byConn[c.ID] = c
	if mm == nil {
		mm = make(map[string]*Connection)
		r.byUser[c.UserID] = mm
	}
	mm[c.ID] = c
	return c.ID, nil
}

// Deregister removes the connection from every index and returns the rooms
// it was in. ok is false when it was already gone.
func (r *Registry) Deregister(connID string) (rooms []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.removeLocked(c), true
}

// 需要在持锁状态下调用
func (r *Registry) removeLocked(c *Connection) []string {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
		if set := r.byRoom[room]; set != nil {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(r.byRoom, room)
			}
		}
	}
	sort.Strings(rooms)
	c.rooms = nil

	if mm := r.byUser[c.UserID]; mm != nil {
		delete(mm, c.ID)
		if len(mm) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	delete(r.byConn, c.ID)
	return rooms
}

func (r *Registry) MarkAlive(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if ok {
		c.alive = true
	}
	return ok
}

func (r *Registry) MarkPendingCheck(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if ok {
		c.alive = false
	}
	return ok
}

// Alive reports the liveness flag; false for unknown connections.
func (r *Registry) Alive(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	return ok && c.alive
}

func (r *Registry) AddMembership(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return errs.ErrConnClosed.WrapMsg("join on unregistered connection", "conn", connID, "room", roomID)
	}
	c.rooms[roomID] = struct{}{}
	set := r.byRoom[roomID]
	if set == nil {
		set = make(map[string]*Connection)
		r.byRoom[roomID] = set
	}
	set[connID] = c
	return nil
}

// RemoveMembership is a no-op for rooms the connection never joined.
func (r *Registry) RemoveMembership(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return errs.ErrConnClosed.WrapMsg("leave on unregistered connection", "conn", connID, "room", roomID)
	}
	delete(c.rooms, roomID)
	if set := r.byRoom[roomID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	return nil
}

// MembersOf returns a snapshot of the connections currently in roomID.
func (r *Registry) MembersOf(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[roomID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for id, c := range set {
		if r.byConn[id] != c {
			panic(errs.ErrRegistryInvariant.WrapMsg("room index points at unregistered connection", "room", roomID, "conn", id))
		}
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[roomID][connID]
	return ok
}

// RoomsOf lists the rooms of one connection, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	return c, ok
}

// Snapshot lists every registered connection.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.byConn), Users: len(r.byUser), Rooms: len(r.byRoom)}
}

// sweep runs one liveness round under a single lock acquisition: connections
// still pending from the previous round are removed, the rest are marked
// pending and returned for probing.
func (r *Registry) sweep() (evicted []Eviction, probe []*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byConn {
		if !c.alive {
			// 收集后统一关闭，避免持锁期间关闭 socket
			evicted = append(evicted, Eviction{Conn: c, Rooms: r.removeLocked(c)})
			continue
		}
		c.alive = false
		probe = append(probe, c)
	}
	return evicted, probe
}
