// Package sockets implements the live game protocol: the per-connection
// session state machine (join, move, disconnect) and the per-room broadcast
// registry the game loop fans state out through.
package sockets

import "encoding/json"

// Event is the wire envelope for both directions: {"event": ..., "data": ...}.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server-pushed event names.
const (
	EventRoomJoined           = "roomJoined"
	EventRoomFull             = "roomFull"
	EventRoomNotFound         = "roomNotFound"
	EventGameState            = "gameState"
	EventGamePaused           = "gamePaused"
	EventGameStarting         = "gameStarting"
	EventGameReady            = "gameReady"
	EventOpponentDisconnected = "opponentDisconnected"
)

// Client-sent event names.
const (
	EventJoinRoom = "joinRoom"
	EventMoveUp   = "moveUp"
	EventMoveDown = "moveDown"
)

// JoinRoomPayload is the client's joinRoom request. UserID is optional; a
// connection without one plays as a guest under its session id.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

// MovePayload is the client's moveUp/moveDown request. Side is optional for
// joined players (their assigned role is used); ephemeral rooms accept either
// side so one client can drive both paddles in a local match.
type MovePayload struct {
	RoomID string `json:"roomId"`
	Side   string `json:"side,omitempty"`
}

// RoomJoinedPayload acknowledges a successful join with the assigned role.
type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
	Role   string `json:"role"`
}

// PausedPayload carries the room's pause flag.
type PausedPayload struct {
	Paused bool `json:"paused"`
}

// Outbound is a fully-formed server event ready to write.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
