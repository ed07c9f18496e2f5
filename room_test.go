package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		rounds:     3,
		roundDelay: 10 * time.Millisecond,
		roomGrace:  25 * time.Millisecond,
	}
}

func newTestClient(id string) *Client {
	return &Client{
		send:     make(chan any, 64),
		connID:   id,
		playerID: id,
	}
}

// waitFor reads from a client's send channel until a message of type T
// arrives, discarding everything else.
func waitFor[T any](t *testing.T, c *Client) T {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				var zero T
				t.Fatalf("send channel closed while waiting for %T", zero)
			}
			if typed, match := msg.(T); match {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func joinRoom(t *testing.T, room *Room, id string) *Client {
	t.Helper()

	c := newTestClient(id)

	select {
	case room.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}

	res := waitFor[JoinResultMessage](t, c)
	require.True(t, res.OK)

	return c
}

func sendEvent(t *testing.T, room *Room, c *Client, msg ClientMessage) {
	t.Helper()

	select {
	case room.events <- inbound{client: c, msg: msg}:
	case <-time.After(time.Second):
		t.Fatal("event send timed out")
	}
}

func leaveRoom(t *testing.T, room *Room, c *Client) {
	t.Helper()

	select {
	case room.unreg <- c:
	case <-time.After(time.Second):
		t.Fatal("unregister timed out")
	}
}

func readyUp(t *testing.T, room *Room, c *Client, role, mode string) ReadyResultMessage {
	t.Helper()

	sendEvent(t, room, c, ClientMessage{Type: "playerReady", PreferredRole: role, Mode: mode})
	res := waitFor[ReadyResultMessage](t, c)
	require.True(t, res.OK)

	return res
}

func TestJoinBindsConnectionAndBroadcastsMembership(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	a := joinRoom(t, room, "conn-a")

	update := waitFor[RoomUpdateMessage](t, a)
	assert.False(t, update.Players.A)
	assert.False(t, update.Players.B)
	assert.Equal(t, 1, update.Waiting)

	binding, ok := reg.conns.lookup("conn-a")
	require.True(t, ok)
	assert.Equal(t, room.id, binding.roomID)
	assert.Empty(t, binding.role)
}

func TestRoomCapacityIsTwoConnections(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	joinRoom(t, room, "conn-a")
	joinRoom(t, room, "conn-b")

	third := newTestClient("conn-c")
	room.register <- third

	res := waitFor[JoinResultMessage](t, third)
	assert.False(t, res.OK)
	assert.Equal(t, ErrRoomFull, res.Error)

	_, bound := reg.conns.lookup("conn-c")
	assert.False(t, bound)
}

func TestPreferredRoleHonoredWhenFree(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	a := joinRoom(t, room, "conn-a")
	b := joinRoom(t, room, "conn-b")

	resA := readyUp(t, room, a, "B", "normal")
	assert.Equal(t, "B", resA.Role)

	// Preferred slot taken: falls back to the first free slot.
	resB := readyUp(t, room, b, "B", "normal")
	assert.Equal(t, "A", resB.Role)

	bindA, _ := reg.conns.lookup("conn-a")
	bindB, _ := reg.conns.lookup("conn-b")
	assert.Equal(t, RoleB, bindA.role)
	assert.Equal(t, RoleA, bindB.role)
}

func TestRoleSlotsHoldOneConnectionEach(t *testing.T) {
	room := newRoom(testConfig(), testCatalog(), nil, "test", "")

	roleA, ok := room.assignRoleLocked("conn-1", "")
	require.True(t, ok)
	assert.Equal(t, RoleA, roleA)

	roleB, ok := room.assignRoleLocked("conn-2", "")
	require.True(t, ok)
	assert.Equal(t, RoleB, roleB)

	_, ok = room.assignRoleLocked("conn-3", "")
	assert.False(t, ok, "both slots taken must refuse a third assignment")
}

func TestReleaseConnectionFreesRole(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	a := joinRoom(t, room, "conn-a")
	b := joinRoom(t, room, "conn-b")
	readyUp(t, room, a, "A", "normal")

	leaveRoom(t, room, a)

	// Skip snapshots queued before the departure; the post-release snapshot
	// is the one with a free A slot and only b left waiting.
	update := waitFor[RoomUpdateMessage](t, b)
	for update.Players.A || update.Waiting != 1 {
		update = waitFor[RoomUpdateMessage](t, b)
	}
	assert.False(t, update.Players.A)

	_, bound := reg.conns.lookup("conn-a")
	assert.False(t, bound)
}

func TestEvictedConnectionReleasesSeatAndBinding(t *testing.T) {
	reg, room, a, b := seatedRoom(t, testCatalog(flatChallenge("n1", "normal")), "normal")

	waitFor[QuestionMessage](t, a)
	waitFor[QuestionMessage](t, b)

	// Wedge b's send buffer so the next broadcast evicts it.
fill:
	for {
		select {
		case b.send <- SystemMessage{Type: "system"}:
		default:
			break fill
		}
	}

	sendEvent(t, room, a, ClientMessage{Type: "chat", Message: "hello"})
	waitFor[ChatMessage](t, a)

	update := waitFor[RoomUpdateMessage](t, a)
	for update.Players.B {
		update = waitFor[RoomUpdateMessage](t, a)
	}

	room.mu.RLock()
	_, seatHeld := room.players[RoleB]
	status := room.status
	room.mu.RUnlock()
	assert.False(t, seatHeld, "an evicted connection must not keep its role seat")
	assert.Equal(t, StatusWaiting, status, "eviction mid-game suspends the room")

	_, bound := reg.conns.lookup("conn-b")
	assert.False(t, bound, "eviction must release the connection binding")

	// The dead socket's eventual unregister finds nothing left to free.
	leaveRoom(t, room, b)

	require.Eventually(t, func() bool {
		room.mu.RLock()
		defer room.mu.RUnlock()
		_, held := room.players[RoleB]
		return !held && room.status == StatusWaiting
	}, time.Second, 5*time.Millisecond)
}

func TestReturningPlayerReclaimsOldSeat(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	a := joinRoom(t, room, "conn-a")
	b := joinRoom(t, room, "conn-b")
	readyUp(t, room, a, "A", "normal")
	readyUp(t, room, b, "B", "normal")

	leaveRoom(t, room, a)
	leaveRoom(t, room, b)

	// Same browser cookie, fresh socket, no stated preference.
	back := &Client{send: make(chan any, 64), connID: "conn-b2", playerID: "conn-b"}
	select {
	case room.register <- back:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	res := waitFor[JoinResultMessage](t, back)
	require.True(t, res.OK)

	ready := readyUp(t, room, back, "", "normal")
	assert.Equal(t, "B", ready.Role, "a returning browser gets its old seat back")
}

func TestUnusedRoomReapedAfterGrace(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	_, ok := reg.Get(room.id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := reg.Get(room.id)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestJoinedRoomSurvivesGrace(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	joinRoom(t, room, "conn-a")

	time.Sleep(3 * cfg.roomGrace)

	_, ok := reg.Get(room.id)
	assert.True(t, ok, "a joined room must survive the disuse check")
}

func TestDisconnectDuringPlayingSuspendsRoom(t *testing.T) {
	cfg := testConfig()
	reg := newRoomRegistry(cfg, testCatalog(flatChallenge("n1", "normal")))
	room := reg.Create("")

	a := joinRoom(t, room, "conn-a")
	b := joinRoom(t, room, "conn-b")
	readyUp(t, room, a, "A", "normal")
	readyUp(t, room, b, "B", "normal")

	waitFor[QuestionMessage](t, b)

	leaveRoom(t, room, a)

	waitFor[SystemMessage](t, b)

	room.mu.RLock()
	defer room.mu.RUnlock()
	assert.Equal(t, StatusWaiting, room.status)
	assert.Nil(t, room.timer, "timer must be stopped on mid-game disconnect")
	assert.Nil(t, room.current)

	_, stillThere := reg.Get(room.id)
	assert.True(t, stillThere, "mid-game disconnect must not delete the room")
}
