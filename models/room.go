package models

import (
	"strings"
	"time"
)

// EphemeralRoomPrefix marks rooms that live only in process memory. They are
// never written to the DB and do not survive a restart.
const EphemeralRoomPrefix = "local_"

// IsEphemeralRoomID reports whether a room id names an in-memory-only room.
func IsEphemeralRoomID(roomID string) bool {
	return strings.HasPrefix(roomID, EphemeralRoomPrefix)
}

// RoomRecord is the durable snapshot of a non-ephemeral room. State and the
// player list are written together on every state-changing operation so a
// restart can recover membership (ball-precise physics state is best-effort).
type RoomRecord struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Public      bool      `json:"public" gorm:"default:false"`
	PlayersJSON string    `json:"-" gorm:"type:text"`
	StateJSON   string    `json:"-" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
