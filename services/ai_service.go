package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"pong-game-system/models"
	"pong-game-system/sockets"
	"pong-game-system/store"
	"pong-game-system/utils"
)

// aiDecisionWindow is how far ahead the external AI plans per request, and
// also the loop cadence. This is a deliberate low-frequency decision cadence,
// distinct from the 60 Hz simulation tick.
const aiDecisionWindow = 1 * time.Second

// AIKeyEvent is one virtual key event in the AI's returned plan.
type AIKeyEvent struct {
	Type string `json:"type"` // keydown | keyup
	Key  string `json:"key"`  // ArrowUp | ArrowDown
	AtMs int    `json:"atMs"` // offset within the decision window, [0,1000]
}

// AIDecisionResponse is the external AI service's plan plus optional debug
// fields we pass through to logs only.
type AIDecisionResponse struct {
	Events     []AIKeyEvent `json:"events"`
	PredictedY *float64     `json:"predicted_y,omitempty"`
	TargetY    *float64     `json:"target_y,omitempty"`
	Mistake    bool         `json:"mistake,omitempty"`
}

type aiDecisionRequest struct {
	State         models.GameState `json:"state"`
	Side          string           `json:"side"`
	WindowSeconds float64          `json:"window_seconds"`
}

// AIClient calls the external AI decision service.
type AIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewAIClient(baseURL, token string) *AIClient {
	return &AIClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
	}
}

// NewAIClientFromEnv builds the client from AI_SERVICE_URL and
// GAME_SERVICE_TOKEN. The URL is optional: without it, enabling AI for a
// room fails at decision time and the loop stops itself.
func NewAIClientFromEnv() *AIClient {
	baseURL := os.Getenv("AI_SERVICE_URL")
	if baseURL == "" {
		log.Println("⚠️  AI_SERVICE_URL not set — AI takeover will be unavailable")
	}
	return NewAIClient(baseURL, os.Getenv("GAME_SERVICE_TOKEN"))
}

// Decide posts a game-state snapshot and returns the AI's key-event plan.
// Transport failures and non-2xx statuses are returned as errors (the loop
// fail-stops on them); a malformed body degrades to an empty plan.
func (c *AIClient) Decide(ctx context.Context, state models.GameState, side string) (*AIDecisionResponse, error) {
	body, err := json.Marshal(aiDecisionRequest{
		State:         state,
		Side:          side,
		WindowSeconds: aiDecisionWindow.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode AI request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/decide", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create AI request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call AI service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("AI service returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var decision AIDecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		// Malformed plan means no movement this cycle, not a dead loop.
		log.Printf("[AI] malformed decision response, skipping cycle: %v", err)
		return &AIDecisionResponse{}, nil
	}
	return &decision, nil
}

// AIService runs one cancellable control loop per AI-driven room. Each loop
// snapshots the room once per second, asks the decision service for a plan,
// and replays the plan's keydown events as immediate move commands (the atMs
// offsets are intentionally not honored; see DESIGN.md).
type AIService struct {
	Client  *AIClient
	Store   *store.RoomStore
	Sockets *sockets.Manager

	mu    sync.Mutex
	loops map[string]chan struct{}
}

func NewAIService(client *AIClient, roomStore *store.RoomStore, mgr *sockets.Manager) *AIService {
	return &AIService{
		Client:  client,
		Store:   roomStore,
		Sockets: mgr,
		loops:   make(map[string]chan struct{}),
	}
}

// StartLoop begins AI control of one side of a room. Starting an already
// AI-controlled room is a no-op.
func (s *AIService) StartLoop(roomID, side string) {
	s.mu.Lock()
	if _, running := s.loops[roomID]; running {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.loops[roomID] = stop
	s.mu.Unlock()

	log.Printf("[AI] taking over %s paddle in room %s", side, roomID)
	go s.run(roomID, side, stop)
}

// StopLoop cancels a room's AI loop. Stopping an already-stopped loop is a
// no-op, not an error.
func (s *AIService) StopLoop(roomID string) {
	s.mu.Lock()
	stop, running := s.loops[roomID]
	if running {
		delete(s.loops, roomID)
		close(stop)
	}
	s.mu.Unlock()
	if running {
		log.Printf("[AI] stopped loop for room %s", roomID)
	}
}

// StopAll cancels every loop; used on shutdown.
func (s *AIService) StopAll() {
	s.mu.Lock()
	for roomID, stop := range s.loops {
		close(stop)
		delete(s.loops, roomID)
	}
	s.mu.Unlock()
}

// IsRunning reports whether a room currently has an AI loop.
func (s *AIService) IsRunning(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.loops[roomID]
	return running
}

func (s *AIService) run(roomID, side string, stop chan struct{}) {
	ticker := time.NewTicker(aiDecisionWindow)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.cycle(roomID, side) {
				s.StopLoop(roomID)
				return
			}
		}
	}
}

// cycle runs one decision pass; returning false stops the loop (room gone,
// game over, or decision service failed).
func (s *AIService) cycle(roomID, side string) bool {
	state, _, ok := s.Store.Snapshot(roomID)
	if !ok || state.Ended {
		return false
	}
	if state.Paused {
		return true // nothing to do, keep the loop alive
	}

	ctx, cancel := context.WithTimeout(context.Background(), aiDecisionWindow)
	decision, err := s.Client.Decide(ctx, state, side)
	cancel()
	if err != nil {
		// Fail-stop rather than retry forever; a human (or a fresh
		// takeover request) can restart the loop.
		log.Printf("[AI] decision failed for room %s, stopping loop: %v", roomID, err)
		return false
	}

	moved := false
	for _, evt := range decision.Events {
		if evt.Type != "keydown" {
			continue
		}
		switch evt.Key {
		case "ArrowUp":
			if s.Sockets.Move(roomID, side, true) == nil {
				moved = true
			}
		case "ArrowDown":
			if s.Sockets.Move(roomID, side, false) == nil {
				moved = true
			}
		}
	}
	if moved {
		s.Sockets.BroadcastState(roomID)
	}
	return true
}

// EnableAI is the control-surface handler that starts AI takeover of a room
// side.
func (s *AIService) EnableAI(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	type Req struct {
		Side string `json:"side"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Side != "left" && req.Side != "right" {
		return c.Status(400).JSON(fiber.Map{"error": "side must be left or right"})
	}
	if s.Store.Get(roomID) == nil {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}

	s.StartLoop(roomID, req.Side)
	return c.JSON(fiber.Map{"room_id": roomID, "side": req.Side, "ai": true})
}

// DisableAI stops a room's AI loop.
func (s *AIService) DisableAI(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	s.StopLoop(roomID)
	return c.JSON(fiber.Map{"room_id": roomID, "ai": false})
}
