package sockets_test

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-game-system/models"
	"pong-game-system/sockets"
	"pong-game-system/store"
)

// fakeConn drives HandleConnection from a test: events pushed into the
// channel come out of ReadJSON, writes are recorded.
type fakeConn struct {
	events chan sockets.Event
	done   chan struct{}

	mu   sync.Mutex
	sent []sockets.Outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan sockets.Event, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	evt, ok := <-c.events
	if !ok {
		return net.ErrClosed
	}
	*(v.(*sockets.Event)) = evt
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v.(sockets.Outbound))
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) push(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	c.events <- sockets.Event{Event: event, Data: data}
}

func (c *fakeConn) disconnect() {
	close(c.events)
	<-c.done
}

func (c *fakeConn) received(event string) []sockets.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sockets.Outbound
	for _, o := range c.sent {
		if o.Event == event {
			out = append(out, o)
		}
	}
	return out
}

// waitFor polls until the connection has received at least n events of the
// given name.
func waitFor(t *testing.T, c *fakeConn, event string, n int) []sockets.Outbound {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.received(event)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %q event(s)", n, event)
	return c.received(event)
}

type fakeResumer struct {
	mu    sync.Mutex
	rooms []string
}

func (r *fakeResumer) RequestResume(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, roomID)
}

func (r *fakeResumer) requested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rooms...)
}

func connect(m *sockets.Manager, userID, username string) *fakeConn {
	c := newFakeConn()
	go func() {
		m.HandleConnection(c, userID, username)
		close(c.done)
	}()
	return c
}

func TestJoinAssignsRolesAndSignalsReady(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)
	resumer := &fakeResumer{}
	m.SetResumer(resumer)

	alice := connect(m, "alice", "Alice")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	joined := waitFor(t, alice, sockets.EventRoomJoined, 1)

	payload := joined[0].Data.(sockets.RoomJoinedPayload)
	assert.Equal(t, "left", payload.Role)

	bob := connect(m, "bob", "Bob")
	bob.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	joined = waitFor(t, bob, sockets.EventRoomJoined, 1)
	assert.Equal(t, "right", joined[0].Data.(sockets.RoomJoinedPayload).Role)

	// both sockets get gameReady, and the game loop is asked to resume
	waitFor(t, alice, sockets.EventGameReady, 1)
	waitFor(t, bob, sockets.EventGameReady, 1)
	assert.Eventually(t, func() bool {
		return len(resumer.requested()) == 1 && resumer.requested()[0] == "match-1"
	}, 2*time.Second, 5*time.Millisecond)

	alice.disconnect()
	bob.disconnect()
}

func TestJoinUnknownRoom(t *testing.T) {
	m := sockets.NewManager(store.NewRoomStore(nil))

	c := connect(m, "alice", "Alice")
	c.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "nope"})
	waitFor(t, c, sockets.EventRoomNotFound, 1)
	assert.Empty(t, c.received(sockets.EventRoomJoined))

	c.disconnect()
}

func TestJoinEphemeralRoomLazilyCreated(t *testing.T) {
	s := store.NewRoomStore(nil)
	m := sockets.NewManager(s)

	c := connect(m, "", "")
	c.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "local_abc"})
	waitFor(t, c, sockets.EventRoomJoined, 1)
	assert.NotNil(t, s.Get("local_abc"))

	c.disconnect()
}

func TestJoinFullRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = connect(m, fmt.Sprintf("user-%d", i), "")
		conns[i].push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
		if i < 2 {
			waitFor(t, conns[i], sockets.EventRoomJoined, 1)
		}
	}
	waitFor(t, conns[2], sockets.EventRoomFull, 1)
	assert.Empty(t, conns[2].received(sockets.EventRoomJoined))

	for _, c := range conns {
		c.disconnect()
	}
}

func TestReconnectKeepsAssignedSide(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	bob := connect(m, "bob", "")
	bob.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	joined := waitFor(t, bob, sockets.EventRoomJoined, 1)
	require.Equal(t, "right", joined[0].Data.(sockets.RoomJoinedPayload).Role)

	// bob drops while the game is still paused, then comes back before
	// alice leaves: alice still holds left, bob goes back to right
	bob.disconnect()

	bob2 := connect(m, "bob", "")
	bob2.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	joined = waitFor(t, bob2, sockets.EventRoomJoined, 1)
	assert.Equal(t, "right", joined[0].Data.(sockets.RoomJoinedPayload).Role)

	alice.disconnect()
	bob2.disconnect()
}

func TestMoveAppliesAndBroadcasts(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	require.NoError(t, s.UpdateVolatile("match-1", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))

	before, _, _ := s.Snapshot("match-1")
	alice.push(sockets.EventMoveUp, sockets.MovePayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventGameState, 1)

	after, _, _ := s.Snapshot("match-1")
	assert.Equal(t, before.Left.Y-before.PaddleSpeed, after.Left.Y)
	assert.Equal(t, before.Right.Y, after.Right.Y)

	alice.disconnect()
}

func TestMoveSuppressedWhilePaused(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	before, _, _ := s.Snapshot("match-1")
	require.True(t, before.Paused)

	alice.push(sockets.EventMoveDown, sockets.MovePayload{RoomID: "match-1"})
	// the next event is processed strictly after the move; use a second
	// join ack as the ordering fence
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 2)

	after, _, _ := s.Snapshot("match-1")
	assert.Equal(t, before.Left.Y, after.Left.Y)
	assert.Empty(t, alice.received(sockets.EventGameState))

	alice.disconnect()
}

func TestMoveOtherSideRejectedInSharedRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	require.NoError(t, s.UpdateVolatile("match-1", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))

	before, _, _ := s.Snapshot("match-1")
	alice.push(sockets.EventMoveUp, sockets.MovePayload{RoomID: "match-1", Side: "right"})
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 2)

	after, _, _ := s.Snapshot("match-1")
	assert.Equal(t, before.Right.Y, after.Right.Y, "left player cannot drive the right paddle")

	alice.disconnect()
}

func TestMoveFromUnjoinedSessionRejected(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	require.NoError(t, s.UpdateVolatile("match-1", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))
	before, _, _ := s.Snapshot("match-1")

	// a connection that never joined names the room and a side outright
	intruder := connect(m, "", "")
	intruder.push(sockets.EventMoveUp, sockets.MovePayload{RoomID: "match-1", Side: "right"})
	intruder.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, intruder, sockets.EventRoomJoined, 1)

	after, _, _ := s.Snapshot("match-1")
	assert.Equal(t, before.Right.Y, after.Right.Y, "unjoined sessions cannot drive a paddle")
	assert.Equal(t, before.Left.Y, after.Left.Y)

	intruder.disconnect()
}

func TestMoveAgainstOtherRoomRejected(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-a", false)
	s.Create("match-b", false)
	m := sockets.NewManager(s)

	require.NoError(t, s.UpdateVolatile("match-b", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-a"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	before, _, _ := s.Snapshot("match-b")
	alice.push(sockets.EventMoveUp, sockets.MovePayload{RoomID: "match-b", Side: "left"})
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-a"})
	waitFor(t, alice, sockets.EventRoomJoined, 2)

	after, _, _ := s.Snapshot("match-b")
	assert.Equal(t, before.Left.Y, after.Left.Y, "a joined session only moves paddles in its own room")

	alice.disconnect()
}

func TestJoinSecondRoomRejected(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-a", false)
	s.Create("match-b", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-a"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	// switching rooms on a live connection is suppressed
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-b"})
	// re-joining the own room still works and fences the previous event
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-a"})
	joined := waitFor(t, alice, sockets.EventRoomJoined, 2)

	for _, evt := range joined {
		assert.Equal(t, "match-a", evt.Data.(sockets.RoomJoinedPayload).RoomID)
	}
	_, playersB, _ := s.Snapshot("match-b")
	assert.Empty(t, playersB, "the other room never gained a phantom player")

	// bob can still take the second slot in match-b
	bob := connect(m, "bob", "")
	bob.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-b"})
	waitFor(t, bob, sockets.EventRoomJoined, 1)

	alice.disconnect()
	bob.disconnect()
}

func TestMoveEitherSideAllowedInEphemeralRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	m := sockets.NewManager(s)

	c := connect(m, "", "")
	c.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "local_abc"})
	waitFor(t, c, sockets.EventRoomJoined, 1)

	require.NoError(t, s.UpdateVolatile("local_abc", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))

	before, _, _ := s.Snapshot("local_abc")
	c.push(sockets.EventMoveDown, sockets.MovePayload{RoomID: "local_abc", Side: "right"})
	waitFor(t, c, sockets.EventGameState, 1)

	after, _, _ := s.Snapshot("local_abc")
	assert.Equal(t, before.Right.Y+before.PaddleSpeed, after.Right.Y)

	c.disconnect()
}

func TestDisconnectMidGameForfeits(t *testing.T) {
	s := store.NewRoomStore(nil)
	s.Create("match-1", false)
	m := sockets.NewManager(s)

	alice := connect(m, "alice", "")
	alice.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, alice, sockets.EventRoomJoined, 1)

	bob := connect(m, "bob", "")
	bob.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "match-1"})
	waitFor(t, bob, sockets.EventRoomJoined, 1)

	require.NoError(t, s.UpdateVolatile("match-1", func(room *store.Room) error {
		room.State.Paused = false
		return nil
	}))

	// bob (right) drops mid-game: alice (left) wins by forfeit
	bob.disconnect()
	waitFor(t, alice, sockets.EventOpponentDisconnected, 1)
	states := waitFor(t, alice, sockets.EventGameState, 1)

	final := states[len(states)-1].Data.(models.GameState)
	assert.True(t, final.Ended)
	assert.Equal(t, final.WinningScore, final.Score.Left)

	alice.disconnect()
}

func TestDisconnectEphemeralResetsInsteadOfForfeiting(t *testing.T) {
	s := store.NewRoomStore(nil)
	m := sockets.NewManager(s)

	a := connect(m, "p1", "")
	a.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "local_x"})
	waitFor(t, a, sockets.EventRoomJoined, 1)

	b := connect(m, "p2", "")
	b.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "local_x"})
	waitFor(t, b, sockets.EventRoomJoined, 1)

	require.NoError(t, s.UpdateVolatile("local_x", func(room *store.Room) error {
		room.State.Paused = false
		room.State.Score.Left = 3
		room.State.WinningScore = 11
		return nil
	}))

	b.disconnect()
	waitFor(t, a, sockets.EventOpponentDisconnected, 1)

	state, _, ok := s.Snapshot("local_x")
	require.True(t, ok, "local rooms survive a disconnect while someone stays")
	assert.Equal(t, 0, state.Score.Left, "score resets, nobody forfeits a local match")
	assert.False(t, state.Ended)
	assert.True(t, state.Paused)
	assert.Equal(t, 11, state.WinningScore, "configuration survives the reset")

	a.disconnect()
}

func TestLastDisconnectDeletesEmptyRoom(t *testing.T) {
	s := store.NewRoomStore(nil)
	m := sockets.NewManager(s)

	c := connect(m, "", "")
	c.push(sockets.EventJoinRoom, sockets.JoinRoomPayload{RoomID: "local_solo"})
	waitFor(t, c, sockets.EventRoomJoined, 1)
	require.NotNil(t, s.Get("local_solo"))

	c.disconnect()
	assert.Nil(t, s.Get("local_solo"))
}
