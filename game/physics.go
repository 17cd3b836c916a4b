// Package game implements the authoritative Pong simulation: ball motion,
// wall and paddle collision, scoring, and win detection. It has no knowledge
// of rooms, sockets, or persistence.
package game

import (
	"math/rand"
	"time"

	"pong-game-system/models"
)

// Engine advances game states. It is deterministic given its rand source;
// randomness is drawn only for serve angles and power-up multipliers.
type Engine struct {
	rng *rand.Rand
}

// NewEngine returns an engine seeded from the clock.
func NewEngine() *Engine {
	return NewEngineWithSeed(time.Now().UnixNano())
}

// NewEngineWithSeed returns an engine with a fixed seed, used by tests.
func NewEngineWithSeed(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Advance runs one simulation step of dt seconds. Checks run in a fixed
// order every tick: integrate, wall reflect, paddle collision, scoring.
// A ball fast enough to cross a paddle's thickness band within one tick can
// tunnel through it; that is a known, accepted limitation.
func (e *Engine) Advance(st *models.GameState, dt float64) {
	if st.Ended {
		return
	}

	st.Ball.X += st.Ball.VX * dt
	st.Ball.Y += st.Ball.VY * dt

	// Top/bottom wall reflection. Mirror the overshoot back into the field,
	// then clamp for the degenerate case of overshooting both walls in one
	// tick.
	if st.Ball.Y <= 0 {
		st.Ball.Y = -st.Ball.Y
		st.Ball.VY = -st.Ball.VY
	} else if st.Ball.Y >= models.FieldHeight {
		st.Ball.Y = 2*models.FieldHeight - st.Ball.Y
		st.Ball.VY = -st.Ball.VY
	}
	if st.Ball.Y < 0 {
		st.Ball.Y = 0
	} else if st.Ball.Y > models.FieldHeight {
		st.Ball.Y = models.FieldHeight
	}

	// Left paddle face. Reposition the ball just outside the face so the
	// collision does not re-trigger next tick.
	if st.Ball.VX < 0 &&
		st.Ball.X <= models.PaddleWidth && st.Ball.X >= 0 &&
		st.Ball.Y >= st.Left.Y && st.Ball.Y <= st.Left.Y+models.PaddleHeight {
		st.Ball.VX = -st.Ball.VX
		st.Ball.X = models.PaddleWidth
		e.applyPowerUp(st)
	}

	// Right paddle face.
	if st.Ball.VX > 0 &&
		st.Ball.X >= models.FieldWidth-models.PaddleWidth && st.Ball.X <= models.FieldWidth &&
		st.Ball.Y >= st.Right.Y && st.Ball.Y <= st.Right.Y+models.PaddleHeight {
		st.Ball.VX = -st.Ball.VX
		st.Ball.X = models.FieldWidth - models.PaddleWidth
		e.applyPowerUp(st)
	}

	// Out of bounds: score, reset toward the conceding side.
	if st.Ball.X < 0 {
		st.Score.Right++
		e.ResetBall(st, -1)
		e.checkWin(st)
	} else if st.Ball.X > models.FieldWidth {
		st.Score.Left++
		e.ResetBall(st, 1)
		e.checkWin(st)
	}
}

// ResetBall puts the ball back at field center. dir is the horizontal serve
// direction (+1 toward the right wall, -1 toward the left wall); the vertical
// sign is randomized.
func (e *Engine) ResetBall(st *models.GameState, dir float64) {
	st.Ball.X = models.FieldWidth / 2
	st.Ball.Y = models.FieldHeight / 2
	st.Ball.VX = dir * st.BallSpeedX
	st.Ball.VY = st.BallSpeedY
	if e.rng.Intn(2) == 0 {
		st.Ball.VY = -st.Ball.VY
	}
}

func (e *Engine) applyPowerUp(st *models.GameState) {
	if !st.PowerUpsEnabled {
		return
	}
	m := st.PowerUpMultiplier
	if st.PowerUpRandom {
		m = models.PowerUpRandomMin + e.rng.Float64()*(models.PowerUpRandomMax-models.PowerUpRandomMin)
	}
	st.Ball.VX *= m
	st.Ball.VY *= m
}

func (e *Engine) checkWin(st *models.GameState) {
	if st.Score.Left >= st.WinningScore || st.Score.Right >= st.WinningScore {
		now := time.Now()
		st.Ended = true
		st.EndedAt = &now
	}
}

// ClampPaddle keeps a paddle's top edge inside the field.
func ClampPaddle(y float64) float64 {
	if y < 0 {
		return 0
	}
	if max := models.FieldHeight - models.PaddleHeight; y > max {
		return max
	}
	return y
}
