// Package store owns the canonical in-memory room map. Each room is a single
// mutual-exclusion domain: every mutation goes through Update, which holds
// the room's lock, so move commands, tick advances, and disconnect handling
// on the same room never interleave partially. Operations on different rooms
// never block each other.
package store

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pong-game-system/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// MaxPlayersPerRoom is fixed by the game: one paddle per side.
const MaxPlayersPerRoom = 2

// Room is one match context. Players is ordered by join time; index 0 plays
// left, index 1 plays right. Fields are only touched while the store holds
// the room's lock.
type Room struct {
	ID      string
	Public  bool
	Players []string
	State   *models.GameState

	mu sync.Mutex
}

// RoomInfo is the lock-free listing view of a room.
type RoomInfo struct {
	ID          string `json:"id"`
	Public      bool   `json:"public"`
	PlayerCount int    `json:"player_count"`
	Ended       bool   `json:"ended"`
}

// RoomStore maps room ids to live rooms. A nil db gives a memory-only store
// (used for tests and for deployments without durable rooms); with a db,
// non-ephemeral rooms are snapshotted on every state-changing operation.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	db    *gorm.DB
}

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
		db:    db,
	}
}

// Create registers a new room. An empty roomID gets a generated one. Creating
// an id that already exists returns the existing room untouched, so room
// creation is idempotent for callers that retry.
func (s *RoomStore) Create(roomID string, public bool) *Room {
	if roomID == "" {
		roomID = uuid.NewString()
	}

	s.mu.Lock()
	if existing, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return existing
	}
	room := &Room{
		ID:     roomID,
		Public: public,
		State:  models.NewGameState(),
	}
	s.rooms[roomID] = room
	s.mu.Unlock()

	s.persist(room)
	return room
}

// Get returns the live room, or nil.
func (s *RoomStore) Get(roomID string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// Update runs fn with the room's lock held, then persists the room if it is
// non-ephemeral. Returns ErrRoomNotFound if the room was deleted — callers
// in the tick loop treat that as "skip", not as a fault.
func (s *RoomStore) Update(roomID string, fn func(room *Room) error) error {
	return s.update(roomID, fn, true)
}

// UpdateVolatile is Update without the DB snapshot. Used for high-frequency
// physics mutations (tick advances, paddle moves) where only membership and
// control state need to survive a restart.
func (s *RoomStore) UpdateVolatile(roomID string, fn func(room *Room) error) error {
	return s.update(roomID, fn, false)
}

func (s *RoomStore) update(roomID string, fn func(room *Room) error, persist bool) error {
	room := s.Get(roomID)
	if room == nil {
		return ErrRoomNotFound
	}

	if err := runLocked(room, fn); err != nil {
		return err
	}

	if persist {
		s.persist(room)
	}
	return nil
}

// runLocked holds the room lock for the duration of fn. The deferred unlock
// releases the lock even when fn panics, so a recovered panic upstream (the
// tick loop contains them per room) cannot wedge every later operation on
// the room.
func runLocked(room *Room, fn func(room *Room) error) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	return fn(room)
}

// AddPlayer adds playerID to the room and returns its role ("left" for the
// first occupant, "right" for the second, by join order). Rejoining with an
// id already in the room returns the existing role, which is what makes
// reconnects work. A third distinct player gets ErrRoomFull.
func (s *RoomStore) AddPlayer(roomID, playerID string) (string, error) {
	role := ""
	err := s.Update(roomID, func(room *Room) error {
		for i, existing := range room.Players {
			if existing == playerID {
				role = roleForIndex(i)
				return nil
			}
		}
		if len(room.Players) >= MaxPlayersPerRoom {
			return ErrRoomFull
		}
		room.Players = append(room.Players, playerID)
		role = roleForIndex(len(room.Players) - 1)
		return nil
	})
	return role, err
}

// RemovePlayer drops playerID from the room's player list. Unknown players
// and rooms are no-ops.
func (s *RoomStore) RemovePlayer(roomID, playerID string) {
	_ = s.Update(roomID, func(room *Room) error {
		for i, existing := range room.Players {
			if existing == playerID {
				room.Players = append(room.Players[:i], room.Players[i+1:]...)
				break
			}
		}
		return nil
	})
}

// Delete removes the room from memory and, for non-ephemeral rooms, from the
// DB. Safe to call for unknown ids and concurrently with the tick loop.
func (s *RoomStore) Delete(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if s.db != nil && !models.IsEphemeralRoomID(roomID) {
		if err := s.db.Delete(&models.RoomRecord{}, "id = ?", roomID).Error; err != nil {
			log.Printf("[ROOM_STORE] failed to delete room record %s: %v", roomID, err)
		}
	}
}

// ListIDs returns the ids of all live rooms.
func (s *RoomStore) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// ListRooms returns listing info for all rooms, optionally only public ones.
func (s *RoomStore) ListRooms(publicOnly bool) []RoomInfo {
	ids := s.ListIDs()
	infos := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		room := s.Get(id)
		if room == nil {
			continue
		}
		var info RoomInfo
		_ = runLocked(room, func(room *Room) error {
			info = RoomInfo{
				ID:          room.ID,
				Public:      room.Public,
				PlayerCount: len(room.Players),
				Ended:       room.State.Ended,
			}
			return nil
		})
		if publicOnly && !info.Public {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Snapshot returns a copy of the room's state and player list, or ok=false
// if the room is gone.
func (s *RoomStore) Snapshot(roomID string) (models.GameState, []string, bool) {
	room := s.Get(roomID)
	if room == nil {
		return models.GameState{}, nil, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	stateCopy := *room.State
	players := make([]string, len(room.Players))
	copy(players, room.Players)
	return stateCopy, players, true
}

// Restore loads persisted rooms back into memory after a restart. Recovered
// matches come back paused; membership is authoritative, physics state is
// whatever the last snapshot caught.
func (s *RoomStore) Restore() error {
	if s.db == nil {
		return nil
	}

	var records []models.RoomRecord
	if err := s.db.Find(&records).Error; err != nil {
		return err
	}

	restored := 0
	for _, rec := range records {
		state := models.NewGameState()
		if rec.StateJSON != "" {
			if err := json.Unmarshal([]byte(rec.StateJSON), state); err != nil {
				log.Printf("[ROOM_STORE] corrupt state snapshot for room %s, starting fresh: %v", rec.ID, err)
				state = models.NewGameState()
			}
		}
		state.Paused = true

		var players []string
		if rec.PlayersJSON != "" {
			if err := json.Unmarshal([]byte(rec.PlayersJSON), &players); err != nil {
				players = nil
			}
		}

		s.mu.Lock()
		s.rooms[rec.ID] = &Room{
			ID:      rec.ID,
			Public:  rec.Public,
			Players: players,
			State:   state,
		}
		s.mu.Unlock()
		restored++
	}

	if restored > 0 {
		log.Printf("[ROOM_STORE] restored %d room(s) from DB", restored)
	}
	return nil
}

// persist snapshots state+players for non-ephemeral rooms. Called without
// the room lock held; it takes it briefly to copy.
func (s *RoomStore) persist(room *Room) {
	if s.db == nil || models.IsEphemeralRoomID(room.ID) {
		return
	}

	var rec models.RoomRecord
	_ = runLocked(room, func(room *Room) error {
		stateJSON, _ := json.Marshal(room.State)
		playersJSON, _ := json.Marshal(room.Players)
		rec = models.RoomRecord{
			ID:          room.ID,
			Public:      room.Public,
			PlayersJSON: string(playersJSON),
			StateJSON:   string(stateJSON),
			UpdatedAt:   time.Now(),
		}
		return nil
	})

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		log.Printf("[ROOM_STORE] failed to persist room %s: %v", room.ID, err)
	}
}

func roleForIndex(i int) string {
	if i == 0 {
		return "left"
	}
	return "right"
}
