package models

import (
	"time"
)

// Field and paddle geometry. Clients render against the same constants, so
// changing them is a protocol change, not a tuning knob.
const (
	FieldWidth   = 800.0
	FieldHeight  = 600.0
	PaddleWidth  = 10.0
	PaddleHeight = 100.0

	DefaultPaddleSpeed  = 10.0  // px applied per validated move command
	DefaultBallSpeedX   = 300.0 // px/s
	DefaultBallSpeedY   = 300.0 // px/s
	DefaultWinningScore = 5

	DefaultPowerUpMultiplier = 1.15
	PowerUpRandomMin         = 0.85
	PowerUpRandomMax         = 1.35
)

// Paddle holds the vertical offset of one paddle. The offset is the top edge,
// clamped to [0, FieldHeight-PaddleHeight].
type Paddle struct {
	Y float64 `json:"y"`
}

// Ball position and velocity. Velocity is in px/s; the simulation integrates
// it with the tick's dt.
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Score per side.
type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// GameState is the full authoritative state of one room's match. It is
// broadcast as-is in `gameState` events and snapshotted to the DB for
// non-ephemeral rooms.
type GameState struct {
	Left  Paddle `json:"left"`
	Right Paddle `json:"right"`
	Ball  Ball   `json:"ball"`
	Score Score  `json:"score"`

	Paused  bool       `json:"paused"`
	Ended   bool       `json:"ended"`
	EndedAt *time.Time `json:"ended_at,omitempty"`

	PaddleSpeed  float64 `json:"paddle_speed"`
	BallSpeedX   float64 `json:"ball_speed_x"`
	BallSpeedY   float64 `json:"ball_speed_y"`
	WinningScore int     `json:"winning_score"`

	PowerUpsEnabled   bool    `json:"power_ups_enabled"`
	PowerUpMultiplier float64 `json:"power_up_multiplier"`
	PowerUpRandom     bool    `json:"power_up_random"`
}

// NewGameState returns a fresh state: paddles centered, ball at field center,
// serve toward the right, paused until both players are present.
func NewGameState() *GameState {
	centerPaddle := (FieldHeight - PaddleHeight) / 2
	return &GameState{
		Left:  Paddle{Y: centerPaddle},
		Right: Paddle{Y: centerPaddle},
		Ball: Ball{
			X:  FieldWidth / 2,
			Y:  FieldHeight / 2,
			VX: DefaultBallSpeedX,
			VY: DefaultBallSpeedY,
		},
		Paused:            true,
		PaddleSpeed:       DefaultPaddleSpeed,
		BallSpeedX:        DefaultBallSpeedX,
		BallSpeedY:        DefaultBallSpeedY,
		WinningScore:      DefaultWinningScore,
		PowerUpMultiplier: DefaultPowerUpMultiplier,
	}
}
