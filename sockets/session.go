package sockets

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pong-game-system/game"
	"pong-game-system/models"
	"pong-game-system/store"
)

// Conn is the subset of the websocket connection the manager needs. The
// fiber/contrib websocket.Conn satisfies it; tests use fakes.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Resumer is how the session manager asks the game loop to attempt the
// countdown-gated resume once a room fills up.
type Resumer interface {
	RequestResume(roomID string)
}

// Session is one live connection. State machine: Unjoined (RoomID empty) →
// Joined (RoomID+Role set) → gone on disconnect.
type Session struct {
	ID       string
	UserID   string
	Username string
	RoomID   string
	Role     string

	conn    Conn
	writeMu sync.Mutex
}

func (s *Session) send(event string, data any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(Outbound{Event: event, Data: data}); err != nil {
		log.Printf("[SOCKETS] write to session %s failed: %v", s.ID, err)
	}
}

// playerID is the identity recorded in the room's player list: the
// authenticated user id when present, else the session id (guest play).
func (s *Session) playerID() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.ID
}

// Manager maps connections to rooms and validates the join/move/disconnect
// protocol. All room state mutation goes through the store's per-room lock.
type Manager struct {
	mu      sync.RWMutex
	byRoom  map[string]map[*Session]struct{}
	store   *store.RoomStore
	resumer Resumer
}

func NewManager(roomStore *store.RoomStore) *Manager {
	return &Manager{
		byRoom: make(map[string]map[*Session]struct{}),
		store:  roomStore,
	}
}

// SetResumer wires the game loop in after construction (the loop also needs
// the manager, for broadcasting).
func (m *Manager) SetResumer(r Resumer) {
	m.resumer = r
}

// HandleConnection runs the read loop for one websocket connection until it
// drops, then runs the disconnect protocol. userID and username come from
// the gateway's auth headers and may be empty for guests.
func (m *Manager) HandleConnection(conn Conn, userID, username string) {
	sess := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		conn:     conn,
	}

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		m.dispatch(sess, evt)
	}

	m.Disconnect(sess)
}

func (m *Manager) dispatch(sess *Session, evt Event) {
	switch evt.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		m.Join(sess, p.RoomID, p.UserID)
	case EventMoveUp, EventMoveDown:
		var p MovePayload
		if evt.Data != nil {
			_ = json.Unmarshal(evt.Data, &p)
		}
		m.handleMove(sess, p, evt.Event == EventMoveUp)
	default:
		// Unknown events are silently ignored; the live protocol never
		// surfaces routine errors.
	}
}

// Join runs the join protocol: room existence, capacity, role assignment by
// player order, and the room-ready broadcast when the second player arrives.
func (m *Manager) Join(sess *Session, roomID, userID string) {
	if userID != "" && sess.UserID == "" {
		sess.UserID = userID
	}

	// A session holds at most one room. Re-joining the same room is the
	// reconnect path; switching rooms on a live connection is suppressed so
	// the old room never keeps a phantom player.
	if sess.RoomID != "" && sess.RoomID != roomID {
		return
	}

	if m.store.Get(roomID) == nil {
		if !models.IsEphemeralRoomID(roomID) {
			sess.send(EventRoomNotFound, nil)
			return
		}
		// Ephemeral rooms are lazily created on first join.
		m.store.Create(roomID, false)
	}

	role, err := m.store.AddPlayer(roomID, sess.playerID())
	if err == store.ErrRoomFull {
		sess.send(EventRoomFull, nil)
		return
	}
	if err != nil {
		sess.send(EventRoomNotFound, nil)
		return
	}

	sess.RoomID = roomID
	sess.Role = role

	m.mu.Lock()
	if m.byRoom[roomID] == nil {
		m.byRoom[roomID] = make(map[*Session]struct{})
	}
	m.byRoom[roomID][sess] = struct{}{}
	m.mu.Unlock()

	sess.send(EventRoomJoined, RoomJoinedPayload{RoomID: roomID, Role: role})
	log.Printf("[SOCKETS] %s joined room %s as %s", sess.playerID(), roomID, role)

	if _, players, ok := m.store.Snapshot(roomID); ok && len(players) == store.MaxPlayersPerRoom {
		m.BroadcastRoom(roomID, EventGameReady, nil)
		if m.resumer != nil {
			m.resumer.RequestResume(roomID)
		}
	}
}

func (m *Manager) handleMove(sess *Session, p MovePayload, up bool) {
	roomID := p.RoomID
	if roomID == "" {
		roomID = sess.RoomID
	}
	if roomID == "" {
		return
	}

	side := p.Side
	if side != "left" && side != "right" {
		side = sess.Role
	}
	// Non-ephemeral rooms only accept moves from a session joined to that
	// room, and only for its own paddle. Ephemeral rooms accept either side:
	// a local match is one client driving both paddles.
	if !models.IsEphemeralRoomID(roomID) {
		if sess.Role == "" || sess.RoomID != roomID || side != sess.Role {
			return
		}
	}
	if side == "" {
		return
	}

	if err := m.Move(roomID, side, up); err == nil {
		m.BroadcastState(roomID)
	}
}

// errSuppressed marks a move dropped by routine validation (paused or ended
// room). It aborts the store update so nothing is persisted or broadcast.
var errSuppressed = errors.New("move suppressed")

// Move applies one paddle step for side. It is the single entry point for
// both socket commands and the AI control loop. Moves against paused or
// ended rooms are suppressed, not errors.
func (m *Manager) Move(roomID, side string, up bool) error {
	return m.store.UpdateVolatile(roomID, func(room *store.Room) error {
		if room.State.Paused || room.State.Ended {
			return errSuppressed
		}
		step := room.State.PaddleSpeed
		if up {
			step = -step
		}
		if side == "left" {
			room.State.Left.Y = game.ClampPaddle(room.State.Left.Y + step)
		} else {
			room.State.Right.Y = game.ClampPaddle(room.State.Right.Y + step)
		}
		return nil
	})
}

// Disconnect tears a session down and applies the forfeit rules: a mid-match
// disconnect from a persistent room awards the win to the remaining player;
// an ephemeral room is reset instead (a local match has no durable opponent
// to protect).
func (m *Manager) Disconnect(sess *Session) {
	roomID := sess.RoomID
	if roomID == "" {
		return
	}

	m.mu.Lock()
	if conns, ok := m.byRoom[roomID]; ok {
		delete(conns, sess)
		if len(conns) == 0 {
			delete(m.byRoom, roomID)
		}
	}
	m.mu.Unlock()

	ephemeral := models.IsEphemeralRoomID(roomID)
	leaverRole := sess.Role
	forfeited := false

	err := m.store.Update(roomID, func(room *store.Room) error {
		inProgress := !room.State.Paused && !room.State.Ended

		// Remove the leaver from the player list.
		pid := sess.playerID()
		for i, existing := range room.Players {
			if existing == pid {
				room.Players = append(room.Players[:i], room.Players[i+1:]...)
				break
			}
		}

		if !inProgress {
			room.State.Paused = true
			return nil
		}

		if ephemeral {
			cfg := *room.State
			fresh := models.NewGameState()
			fresh.PaddleSpeed = cfg.PaddleSpeed
			fresh.BallSpeedX = cfg.BallSpeedX
			fresh.BallSpeedY = cfg.BallSpeedY
			fresh.WinningScore = cfg.WinningScore
			fresh.PowerUpsEnabled = cfg.PowerUpsEnabled
			fresh.PowerUpMultiplier = cfg.PowerUpMultiplier
			fresh.PowerUpRandom = cfg.PowerUpRandom
			*room.State = *fresh
			return nil
		}

		// Forfeit: the remaining player wins outright.
		now := time.Now()
		if leaverRole == "left" {
			room.State.Score.Right = room.State.WinningScore
		} else {
			room.State.Score.Left = room.State.WinningScore
		}
		room.State.Ended = true
		room.State.EndedAt = &now
		forfeited = true
		return nil
	})
	if err != nil {
		return // room already gone
	}

	_, players, ok := m.store.Snapshot(roomID)
	if !ok {
		return
	}
	if len(players) == 0 && m.ConnCount(roomID) == 0 {
		m.store.Delete(roomID)
		log.Printf("[SOCKETS] room %s deleted (last player left)", roomID)
		return
	}

	m.BroadcastRoom(roomID, EventOpponentDisconnected, nil)
	if forfeited {
		m.BroadcastState(roomID)
	}
}

// ConnCount returns the number of live sockets subscribed to a room.
func (m *Manager) ConnCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byRoom[roomID])
}

// BroadcastRoom sends one event to every socket in the room.
func (m *Manager) BroadcastRoom(roomID, event string, data any) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.byRoom[roomID]))
	for sess := range m.byRoom[roomID] {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		sess.send(event, data)
	}
}

// BroadcastState snapshots the room and pushes a gameState event. The
// existence re-check makes this safe to race with the garbage collector.
func (m *Manager) BroadcastState(roomID string) {
	state, _, ok := m.store.Snapshot(roomID)
	if !ok {
		return
	}
	m.BroadcastRoom(roomID, EventGameState, state)
}
