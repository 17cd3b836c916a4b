package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"pong-game-system/game"
	"pong-game-system/models"
	"pong-game-system/sockets"
	"pong-game-system/store"
)

// TickRate is the fixed simulation rate. Clients can send input at any
// cadence; the simulation only steps here.
const TickRate = 60

// Resume countdown: how long clients get between "gameStarting" and the
// simulation actually un-pausing.
const resumeCountdown = 1 * time.Second

// GC policy: ended rooms linger briefly so the final score broadcast lands;
// the orphan sweep catches rooms whose sockets vanished without a disconnect
// event.
const (
	endedSweepInterval  = 5 * time.Second
	endedGracePeriod    = 2 * time.Second
	orphanSweepInterval = 15 * time.Second
)

// GameService owns the game loop, the room garbage collector, and the
// per-room control surface. It also implements the RoomCreator capability
// the tournament engine uses to materialize next-round matches.
type GameService struct {
	DB      *gorm.DB
	Store   *store.RoomStore
	Engine  *game.Engine
	Sockets *sockets.Manager

	sched gocron.Scheduler
}

func NewGameService(db *gorm.DB, roomStore *store.RoomStore, engine *game.Engine, mgr *sockets.Manager) *GameService {
	return &GameService{
		DB:      db,
		Store:   roomStore,
		Engine:  engine,
		Sockets: mgr,
	}
}

// StartGameLoop runs the 60 Hz simulation until ctx is cancelled. Every tick
// advances each unpaused room and broadcasts the result to that room's
// sockets only. A panic while advancing one room is contained; the other
// rooms still step.
func (s *GameService) StartGameLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / TickRate)
	go func() {
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				log.Println("[GAME_LOOP] stopped")
				return
			case now := <-ticker.C:
				dt := now.Sub(last).Seconds()
				last = now
				// Cap dt so a stalled process doesn't teleport the ball.
				if dt > 0.1 {
					dt = 0.1
				}
				s.tick(dt)
			}
		}
	}()
	log.Printf("[GAME_LOOP] running at %d Hz", TickRate)
}

func (s *GameService) tick(dt float64) {
	for _, roomID := range s.Store.ListIDs() {
		s.tickRoom(roomID, dt)
	}
}

func (s *GameService) tickRoom(roomID string, dt float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[GAME_LOOP] panic advancing room %s: %v", roomID, r)
		}
	}()

	advanced := false
	err := s.Store.UpdateVolatile(roomID, func(room *store.Room) error {
		if room.State.Paused || room.State.Ended {
			return nil
		}
		s.Engine.Advance(room.State, dt)
		advanced = true
		if room.State.Ended {
			// The final snapshot must survive a restart for persistent
			// rooms, and the GC's grace period starts from EndedAt.
			log.Printf("[GAME_LOOP] room %s ended %d-%d", roomID, room.State.Score.Left, room.State.Score.Right)
		}
		return nil
	})
	if err != nil || !advanced {
		// Room deleted mid-tick, or paused: nothing to broadcast.
		return
	}
	s.Sockets.BroadcastState(roomID)
}

// StartSweeps schedules the two GC sweeps. Stopped via Shutdown.
func (s *GameService) StartSweeps() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sched

	_, err = sched.NewJob(
		gocron.DurationJob(endedSweepInterval),
		gocron.NewTask(s.sweepEnded),
	)
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(orphanSweepInterval),
		gocron.NewTask(s.sweepOrphans),
	)
	if err != nil {
		return err
	}

	sched.Start()
	log.Println("[GC] ended-room sweep every 5s, orphan sweep every 15s")
	return nil
}

// Shutdown stops the GC scheduler. The game loop stops with its context.
func (s *GameService) Shutdown() {
	if s.sched != nil {
		_ = s.sched.Shutdown()
	}
}

func (s *GameService) sweepEnded() {
	now := time.Now()
	for _, roomID := range s.Store.ListIDs() {
		state, _, ok := s.Store.Snapshot(roomID)
		if !ok || !state.Ended || state.EndedAt == nil {
			continue
		}
		if now.Sub(*state.EndedAt) > endedGracePeriod {
			s.Store.Delete(roomID)
			log.Printf("[GC] deleted ended room %s", roomID)
		}
	}
}

func (s *GameService) sweepOrphans() {
	for _, roomID := range s.Store.ListIDs() {
		if s.Sockets.ConnCount(roomID) == 0 {
			s.Store.Delete(roomID)
			log.Printf("[GC] deleted orphaned room %s (no sockets)", roomID)
		}
	}
}

// RequestResume starts the countdown-gated resume: broadcast gameStarting,
// wait, then re-check the room is still viable before un-pausing. If the
// opponent left during the countdown the resume silently aborts and the room
// stays paused.
func (s *GameService) RequestResume(roomID string) {
	state, players, ok := s.Store.Snapshot(roomID)
	if !ok || state.Ended || !state.Paused {
		return
	}
	if !s.roomViable(roomID, players) {
		return
	}

	s.Sockets.BroadcastRoom(roomID, sockets.EventGameStarting, nil)

	go func() {
		time.Sleep(resumeCountdown)

		_, players, ok := s.Store.Snapshot(roomID)
		if !ok || !s.roomViable(roomID, players) {
			return
		}
		err := s.Store.Update(roomID, func(room *store.Room) error {
			if room.State.Ended {
				return errGameEnded
			}
			room.State.Paused = false
			return nil
		})
		if err != nil {
			return
		}
		s.Sockets.BroadcastRoom(roomID, sockets.EventGamePaused, sockets.PausedPayload{Paused: false})
	}()
}

// roomViable reports whether a resume may proceed: persistent rooms need both
// players connected; an ephemeral room needs one socket (a local match is a
// single client driving both paddles).
func (s *GameService) roomViable(roomID string, players []string) bool {
	if models.IsEphemeralRoomID(roomID) {
		return s.Sockets.ConnCount(roomID) >= 1
	}
	return len(players) == store.MaxPlayersPerRoom && s.Sockets.ConnCount(roomID) >= store.MaxPlayersPerRoom
}

// CreateGameRoom implements the room-creation capability consumed by the
// tournament engine. The id carries a slugged label so bracket rooms are
// recognizable in logs and listings.
func (s *GameService) CreateGameRoom(label string, public bool) (string, error) {
	roomID := uuid.NewString()
	if label != "" {
		roomID = fmt.Sprintf("%s-%s", slug.Make(label), uuid.NewString()[:8])
	}
	room := s.Store.Create(roomID, public)
	return room.ID, nil
}
