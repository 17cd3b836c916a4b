package services

import (
	"github.com/gofiber/fiber/v2"

	"pong-game-system/models"
	"pong-game-system/sockets"
	"pong-game-system/store"
)

// Difficulty presets map onto ball speed. Explicit numeric overrides in the
// same request win over these.
var difficultyBallSpeed = map[string]float64{
	"easy":   240,
	"medium": 300,
	"hard":   390,
}

// Game length presets map onto the winning score.
var gameLengthWinningScore = map[string]int{
	"short": 3,
	"long":  11,
}

// maxBallSpeed bounds configured speeds. The collision check is discrete, so
// this is a config-validation bound, not continuous collision detection.
const maxBallSpeed = 900.0

// InitRoomRequest creates a room explicitly (ephemeral rooms may also be
// lazily created by the first socket join).
type InitRoomRequest struct {
	RoomID string `json:"room_id,omitempty"`
	Public bool   `json:"public"`
}

// GameConfigRequest is the typed configuration surface. Every recognized
// option is enumerated here; unknown fields are rejected by omission.
type GameConfigRequest struct {
	PaddleSpeed *float64 `json:"paddle_speed,omitempty"`
	BallSpeedX  *float64 `json:"ball_speed_x,omitempty"`
	BallSpeedY  *float64 `json:"ball_speed_y,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
	GameLength  string   `json:"game_length,omitempty"`
}

// PowerUpsRequest toggles paddle-hit speed power-ups for a room.
type PowerUpsRequest struct {
	Enabled    bool     `json:"enabled"`
	Random     bool     `json:"random"`
	Multiplier *float64 `json:"multiplier,omitempty"`
}

// InitRoom creates (or idempotently returns) a room.
func (s *GameService) InitRoom(c *fiber.Ctx) error {
	var req InitRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	room := s.Store.Create(req.RoomID, req.Public)
	state, players, _ := s.Store.Snapshot(room.ID)
	return c.Status(201).JSON(fiber.Map{
		"room_id": room.ID,
		"public":  room.Public,
		"players": players,
		"state":   state,
	})
}

// ListRooms lists rooms; ?public=true filters to public ones.
func (s *GameService) ListRooms(c *fiber.Ctx) error {
	publicOnly := c.Query("public") == "true"
	return c.JSON(s.Store.ListRooms(publicOnly))
}

// GetState returns a room's current state and players.
func (s *GameService) GetState(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	state, players, ok := s.Store.Snapshot(roomID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}
	return c.JSON(fiber.Map{
		"room_id": roomID,
		"players": players,
		"state":   state,
	})
}

// Pause pauses the room's simulation. Pausing an ended game is rejected;
// pausing a paused game is a no-op.
func (s *GameService) Pause(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	err := s.Store.Update(roomID, func(room *store.Room) error {
		if room.State.Ended {
			return errGameEnded
		}
		room.State.Paused = true
		return nil
	})
	if err != nil {
		return s.controlError(c, err)
	}
	s.Sockets.BroadcastRoom(roomID, sockets.EventGamePaused, sockets.PausedPayload{Paused: true})
	return s.stateResponse(c, roomID)
}

// Resume starts the countdown-gated resume. A persistent room without both
// players present is rejected with OpponentMissing.
func (s *GameService) Resume(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	state, players, ok := s.Store.Snapshot(roomID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}
	if state.Ended {
		return c.Status(409).JSON(fiber.Map{"error": errGameEnded.Error()})
	}
	if !s.roomViable(roomID, players) {
		return c.Status(409).JSON(fiber.Map{"error": errOpponentMissing.Error()})
	}

	s.RequestResume(roomID)
	return c.JSON(fiber.Map{"message": "game starting", "room_id": roomID})
}

// TogglePause resumes a paused room (same gate as Resume) or pauses a
// running one.
func (s *GameService) TogglePause(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	state, _, ok := s.Store.Snapshot(roomID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}
	if state.Paused {
		return s.Resume(c)
	}
	return s.Pause(c)
}

// ResetScore clears the score and restarts the match: ball recentered, the
// ended flag cleared, room paused until resumed.
func (s *GameService) ResetScore(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	err := s.Store.Update(roomID, func(room *store.Room) error {
		room.State.Score = models.Score{}
		room.State.Ended = false
		room.State.EndedAt = nil
		room.State.Paused = true
		s.Engine.ResetBall(room.State, 1)
		return nil
	})
	if err != nil {
		return s.controlError(c, err)
	}
	s.Sockets.BroadcastState(roomID)
	return s.stateResponse(c, roomID)
}

// SetPowerUps toggles power-ups for a room.
func (s *GameService) SetPowerUps(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	var req PowerUpsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Multiplier != nil && (*req.Multiplier <= 0 || *req.Multiplier > models.PowerUpRandomMax) {
		return c.Status(400).JSON(fiber.Map{"error": "multiplier out of range"})
	}

	err := s.Store.Update(roomID, func(room *store.Room) error {
		if room.State.Ended {
			return errGameEnded
		}
		room.State.PowerUpsEnabled = req.Enabled
		room.State.PowerUpRandom = req.Random
		if req.Multiplier != nil {
			room.State.PowerUpMultiplier = *req.Multiplier
		}
		return nil
	})
	if err != nil {
		return s.controlError(c, err)
	}
	return s.stateResponse(c, roomID)
}

// Configure applies speed/difficulty/length settings. Difficulty and game
// length expand to their presets first; explicit numeric values then
// override them.
func (s *GameService) Configure(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	var req GameConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if req.Difficulty != "" {
		if _, ok := difficultyBallSpeed[req.Difficulty]; !ok {
			return c.Status(400).JSON(fiber.Map{"error": "difficulty must be one of easy, medium, hard"})
		}
	}
	if req.GameLength != "" {
		if _, ok := gameLengthWinningScore[req.GameLength]; !ok {
			return c.Status(400).JSON(fiber.Map{"error": "game_length must be one of short, long"})
		}
	}
	for _, v := range []*float64{req.PaddleSpeed, req.BallSpeedX, req.BallSpeedY} {
		if v != nil && (*v <= 0 || *v > maxBallSpeed) {
			return c.Status(400).JSON(fiber.Map{"error": "speed values must be in (0, 900]"})
		}
	}

	err := s.Store.Update(roomID, func(room *store.Room) error {
		if room.State.Ended {
			return errGameEnded
		}
		if req.Difficulty != "" {
			preset := difficultyBallSpeed[req.Difficulty]
			room.State.BallSpeedX = preset
			room.State.BallSpeedY = preset
		}
		if req.GameLength != "" {
			room.State.WinningScore = gameLengthWinningScore[req.GameLength]
		}
		if req.PaddleSpeed != nil {
			room.State.PaddleSpeed = *req.PaddleSpeed
		}
		if req.BallSpeedX != nil {
			room.State.BallSpeedX = *req.BallSpeedX
		}
		if req.BallSpeedY != nil {
			room.State.BallSpeedY = *req.BallSpeedY
		}
		return nil
	})
	if err != nil {
		return s.controlError(c, err)
	}
	return s.stateResponse(c, roomID)
}

func (s *GameService) stateResponse(c *fiber.Ctx, roomID string) error {
	state, players, ok := s.Store.Snapshot(roomID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}
	return c.JSON(fiber.Map{
		"room_id": roomID,
		"players": players,
		"state":   state,
	})
}

func (s *GameService) controlError(c *fiber.Ctx, err error) error {
	switch err {
	case store.ErrRoomNotFound, errRoomNotFound:
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	case errGameEnded:
		return c.Status(409).JSON(fiber.Map{"error": errGameEnded.Error()})
	case errOpponentMissing:
		return c.Status(409).JSON(fiber.Map{"error": errOpponentMissing.Error()})
	case errValidationFailed:
		return c.Status(400).JSON(fiber.Map{"error": errValidationFailed.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": "internal error", "details": err.Error()})
	}
}
