package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// Role is one of the two asymmetric seats in a room. Each role sees its own
// view of the active challenge and never the other's.
type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// Mode is the per-game ruleset, fixed once both players are ready.
type Mode string

const (
	ModeEasy   Mode = "easy"
	ModeNormal Mode = "normal"
	ModeHard   Mode = "hard"
)

func parseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeEasy, ModeNormal, ModeHard:
		return Mode(s), true
	default:
		return "", false
	}
}

// livesFor returns the starting life count for a mode, or nil for modes
// without the elimination mechanic.
func livesFor(mode Mode) *int {
	var n int
	switch mode {
	case ModeHard:
		n = 3
	case ModeNormal:
		n = 5
	default:
		return nil
	}
	return &n
}

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusBetween Status = "between"
)

// Two live sockets per room; the logical player map is tracked separately.
const maxRoomClients = 2

// connTable is the process-wide connection→room/role binding. A connection
// occupies at most one role in at most one room.
type connTable struct {
	mu sync.Mutex
	m  map[string]connBinding
}

type connBinding struct {
	roomID string
	role   Role
}

func newConnTable() *connTable {
	return &connTable{m: make(map[string]connBinding)}
}

func (ct *connTable) bind(connID, roomID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.m[connID] = connBinding{roomID: roomID}
}

func (ct *connTable) setRole(connID string, role Role) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	b, ok := ct.m[connID]
	if !ok {
		return
	}
	b.role = role
	ct.m[connID] = b
}

func (ct *connTable) lookup(connID string) (connBinding, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	b, ok := ct.m[connID]
	return b, ok
}

func (ct *connTable) release(connID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	delete(ct.m, connID)
}

// activeChallenge is the room's current question: the catalog index, the
// definition, and the subquestion cursor for the nested variant.
type activeChallenge struct {
	index int
	ch    *Challenge
	sub   int
}

type inbound struct {
	client *Client
	msg    ClientMessage
}

// Room is an isolated two-participant session. All state mutation happens on
// the room's own run goroutine; membership changes, client messages, timer
// callbacks, and deferred actions are all funneled through its channels.
type Room struct {
	id       string
	cfg      *Config
	catalog  *Catalog
	registry *RoomRegistry

	register chan *Client
	unreg    chan *Client
	events   chan inbound
	tasks    chan func()
	done     chan struct{}
	closing  sync.Once

	mu sync.RWMutex

	clients map[*Client]bool
	players map[Role]string
	waiting []string
	ready   map[string]bool
	seats   map[string]Role

	status  Status
	mode    Mode
	round   int
	score   int
	lives   *int
	used    map[int]bool
	current *activeChallenge

	timer    *roundTimer
	timerGen uint64

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(cfg *Config, catalog *Catalog, registry *RoomRegistry, id string, mode Mode) *Room {
	now := time.Now()
	return &Room{
		id:         id,
		cfg:        cfg,
		catalog:    catalog,
		registry:   registry,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		events:     make(chan inbound),
		tasks:      make(chan func(), 32),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		players:    make(map[Role]string),
		ready:      make(map[string]bool),
		seats:      make(map[string]Role),
		status:     StatusWaiting,
		mode:       mode,
		lives:      livesFor(mode),
		used:       make(map[int]bool),
		createdAt:  now,
		lastActive: now,
	}
}

func (r *Room) run() {
	for {
		select {
		case c := <-r.register:
			r.handleRegister(c)
		case c := <-r.unreg:
			r.handleUnregister(c)
		case ev := <-r.events:
			r.handleEvent(ev)
		case fn := <-r.tasks:
			fn()
		case <-r.done:
			return
		}
	}
}

// schedule queues fn onto the room's run goroutine. Dropped silently once the
// room has been removed.
func (r *Room) schedule(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.done:
	}
}

// after runs fn on the room's goroutine once d has elapsed. fn must re-check
// room status itself; anything may have happened in the interim.
func (r *Room) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		r.schedule(fn)
	})
}

func (r *Room) handleRegister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if len(r.clients) >= maxRoomClients {
		c.send <- JoinResultMessage{
			Type:  "joinResult",
			Error: ErrRoomFull,
		}
		close(c.send)
		return
	}

	r.clients[c] = true
	r.waiting = append(r.waiting, c.connID)
	r.registry.conns.bind(c.connID, r.id)

	c.send <- JoinResultMessage{
		Type:       "joinResult",
		OK:         true,
		RoomStatus: string(r.status),
	}

	r.broadcastRoomUpdateLocked()

	logf(r.cfg, "ROOMS: Connection %s joined %s", c.connID, r.id)
}

func (r *Room) handleUnregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	close(c.send)

	r.lastActive = time.Now()
	r.releaseClientLocked(c)
	r.broadcastRoomUpdateLocked()

	logf(r.cfg, "ROOMS: Connection %s left %s", c.connID, r.id)
}

// releaseClientLocked frees everything a departed client held: its binding,
// readiness flag, waiting entry, and role seat. The seat it held is
// remembered by playerID so a returning browser can reclaim it. The caller
// has already removed the client from r.clients.
func (r *Room) releaseClientLocked(c *Client) {
	r.registry.conns.release(c.connID)
	delete(r.ready, c.connID)
	r.removeWaitingLocked(c.connID)

	freedRole := false
	for role, id := range r.players {
		if id == c.connID {
			delete(r.players, role)
			if c.playerID != "" {
				r.seats[c.playerID] = role
			}
			freedRole = true
		}
	}

	// A mid-game departure suspends the room; it is never deleted here.
	if freedRole && r.status == StatusPlaying {
		r.stopTimerLocked()
		r.current = nil
		r.status = StatusWaiting
		r.broadcastLocked(SystemMessage{
			Type:    "system",
			Message: "Your partner disconnected. Waiting for a new partner.",
		})
	}
}

// evictLocked drops a client that can no longer keep up with its send
// buffer, releasing its seat and binding exactly as a disconnect would. The
// eventual unregister for its dead socket then finds nothing left to free.
func (r *Room) evictLocked(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	close(c.send)

	r.releaseClientLocked(c)
	r.broadcastRoomUpdateLocked()

	logf(r.cfg, "ROOMS: Evicted unresponsive connection %s from %s", c.connID, r.id)
}

func (r *Room) removeWaitingLocked(connID string) {
	dst := r.waiting[:0]
	for _, id := range r.waiting {
		if id == connID {
			continue
		}
		dst = append(dst, id)
	}
	r.waiting = dst
}

func (r *Room) roleOfLocked(connID string) (Role, bool) {
	for role, id := range r.players {
		if id == connID {
			return role, true
		}
	}
	return "", false
}

// assignRoleLocked honors preferred only if that slot is free; otherwise the
// first free slot in order A, then B.
func (r *Room) assignRoleLocked(connID string, preferred Role) (Role, bool) {
	if preferred == RoleA || preferred == RoleB {
		if _, taken := r.players[preferred]; !taken {
			r.players[preferred] = connID
			return preferred, true
		}
	}

	for _, role := range []Role{RoleA, RoleB} {
		if _, taken := r.players[role]; !taken {
			r.players[role] = connID
			return role, true
		}
	}

	return "", false
}

func (r *Room) clientByConnLocked(connID string) *Client {
	for c := range r.clients {
		if c.connID == connID {
			return c
		}
	}
	return nil
}

func (r *Room) broadcastLocked(msg any) {
	var evicted []*Client

	for client := range r.clients {
		select {
		case client.send <- msg:
		default:
			evicted = append(evicted, client)
		}
	}

	for _, client := range evicted {
		r.evictLocked(client)
	}
}

func (r *Room) unicastLocked(c *Client, msg any) {
	if !r.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		r.evictLocked(c)
	}
}

func (r *Room) broadcastRoomUpdateLocked() {
	_, hasA := r.players[RoleA]
	_, hasB := r.players[RoleB]

	r.broadcastLocked(RoomUpdateMessage{
		Type:    "roomUpdate",
		Players: RolePresence{A: hasA, B: hasB},
		Waiting: len(r.waiting),
	})
}

// stopTimerLocked cancels the live countdown and bumps the timer generation,
// invalidating any tick or expiry the old countdown already queued.
func (r *Room) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
		r.timerGen++
	}
}

// close tears the room down: stops its loop and timer, disconnects clients,
// and releases their bindings.
func (r *Room) close() {
	r.closing.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimerLocked()

	for c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		r.registry.conns.release(c.connID)
		delete(r.clients, c)
	}
}

// RoomRegistry holds every live room, keyed by id, plus the connection table.
// It owns creation, the never-joined grace check, and idle reaping.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	conns *connTable

	cfg     *Config
	catalog *Catalog
}

func newRoomRegistry(cfg *Config, catalog *Catalog) *RoomRegistry {
	reg := &RoomRegistry{
		rooms:   make(map[string]*Room),
		conns:   newConnTable(),
		cfg:     cfg,
		catalog: catalog,
	}

	if cfg.sessionTimeout > 0 {
		go reg.reaperLoop()
	}

	return reg
}

// Create registers a fresh room and schedules its disuse check: a room still
// unjoined and playerless when the grace period lapses is removed.
func (reg *RoomRegistry) Create(mode Mode) *Room {
	id := reg.newRoomID()
	room := newRoom(reg.cfg, reg.catalog, reg, id, mode)

	reg.mu.Lock()
	reg.rooms[id] = room
	reg.mu.Unlock()

	go room.run()

	room.after(reg.cfg.roomGrace, func() {
		room.mu.RLock()
		unused := room.status == StatusWaiting && len(room.players) == 0 && len(room.clients) == 0
		room.mu.RUnlock()

		if unused {
			logf(reg.cfg, "ROOMS: Removing unused room %s", id)
			reg.Remove(id)
		}
	})

	return room
}

func (reg *RoomRegistry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	return room, ok
}

func (reg *RoomRegistry) Remove(id string) {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if ok {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	if ok {
		go room.close()
	}
}

// newRoomID generates a crypto-random room id and ensures it doesn't collide
// with an existing room.
func (reg *RoomRegistry) newRoomID() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	const max = byte(255 - (256 % len(letters)))

	for {
		out := make([]byte, 0, 6)
		buf := make([]byte, 12)

		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max && len(out) < cap(out) {
				out = append(out, letters[int(b)%len(letters)])
			}
		}
		if len(out) < cap(out) {
			continue
		}
		id := string(out)

		reg.mu.Lock()
		_, exists := reg.rooms[id]
		reg.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms idle longer than the session timeout.
func (reg *RoomRegistry) reaperLoop() {
	ticker := time.NewTicker(reg.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.cfg.sessionTimeout)

		stale := make([]string, 0)

		reg.mu.Lock()
		for id, room := range reg.rooms {
			room.mu.RLock()
			last := room.lastActive
			room.mu.RUnlock()

			if last.Before(cutoff) {
				stale = append(stale, id)
			}
		}
		reg.mu.Unlock()

		for _, id := range stale {
			logf(reg.cfg, "ROOMS: Reaping idle room %s", id)
			reg.Remove(id)
		}
	}
}
