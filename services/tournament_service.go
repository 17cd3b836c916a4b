package services

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pong-game-system/models"
)

// RoomCreator is the game subsystem's room-creation capability, consumed by
// the bracket engine to materialize a room per match. Implemented by
// GameService.
type RoomCreator interface {
	CreateGameRoom(label string, public bool) (string, error)
}

// TournamentService maintains tournament/player/match records and the
// bracket-advancement state machine. Round advancement is idempotent under
// concurrent duplicate result reports: matches complete exactly once, and a
// raced advance falls back to filling in missing room ids instead of
// creating a second set of matches.
type TournamentService struct {
	DB    *gorm.DB
	Rooms RoomCreator
}

func NewTournamentService(db *gorm.DB, rooms RoomCreator) *TournamentService {
	return &TournamentService{DB: db, Rooms: rooms}
}

// lockForUpdate adds SELECT ... FOR UPDATE row locking on dialects that have
// it. SQLite does not parse FOR UPDATE; its single-writer model already
// serializes these transactions.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// CreatePlayerInput is one bracket slot in a local-mode create request.
type CreatePlayerInput struct {
	Username string `json:"username"`
	IsAI     bool   `json:"is_ai"`
}

// CreateTournamentRequest creates a tournament. Local mode seeds the given
// alias list (shuffled); remote mode starts empty and players join
// individually.
type CreateTournamentRequest struct {
	Name       string              `json:"name"`
	Mode       string              `json:"mode"`
	MaxPlayers int                 `json:"max_players"`
	Players    []CreatePlayerInput `json:"players,omitempty"`
}

// CreateTournament handles POST /tournaments.
func (s *TournamentService) CreateTournament(c *fiber.Ctx) error {
	var req CreateTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name is required"})
	}
	if req.Mode == "" {
		req.Mode = models.TournamentModeLocal
	}
	if req.Mode != models.TournamentModeLocal && req.Mode != models.TournamentModeRemote {
		return c.Status(400).JSON(fiber.Map{"error": "mode must be local or remote"})
	}
	if req.Mode == models.TournamentModeLocal && len(req.Players) < 2 {
		return c.Status(400).JSON(fiber.Map{"error": "local tournaments need at least 2 players"})
	}
	if req.MaxPlayers != 0 && req.MaxPlayers < 2 {
		return c.Status(400).JSON(fiber.Map{"error": "max_players must be at least 2"})
	}

	creatorID, _ := c.Locals("user_id").(string)

	tournament := &models.Tournament{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Mode:       req.Mode,
		CreatorID:  creatorID,
		Status:     models.TournamentPending,
		MaxPlayers: req.MaxPlayers,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tournament).Error; err != nil {
			return err
		}
		if req.Mode != models.TournamentModeLocal {
			return nil
		}
		// Local mode: aliases are shuffled once at creation; the shuffle is
		// the seeding.
		shuffled := make([]CreatePlayerInput, len(req.Players))
		copy(shuffled, req.Players)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		for seed, p := range shuffled {
			username := strings.TrimSpace(p.Username)
			if username == "" {
				return fmt.Errorf("player %d has an empty username", seed+1)
			}
			player := models.TournamentPlayer{
				ID:           uuid.NewString(),
				TournamentID: tournament.ID,
				Username:     username,
				Seed:         seed,
				IsAI:         p.IsAI,
			}
			if err := tx.Create(&player).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[TOURNAMENT] create failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create tournament"})
	}

	s.DB.Preload("Players").First(tournament, "id = ?", tournament.ID)
	return c.Status(201).JSON(tournament)
}

// JoinTournament handles POST /tournaments/:id/join for remote tournaments.
// Requires an authenticated identity; duplicate joins by the same user and
// joins after start (or past capacity) are rejected.
func (s *TournamentService) JoinTournament(c *fiber.Ctx) error {
	tournamentID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	username, _ := c.Locals("user_name").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "authenticated user required to join"})
	}
	if username == "" {
		username = userID
	}

	var created *models.TournamentPlayer
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var tournament models.Tournament
		if err := lockForUpdate(tx).
			First(&tournament, "id = ?", tournamentID).Error; err != nil {
			return err
		}
		if tournament.Mode != models.TournamentModeRemote {
			return errors.New("only remote tournaments can be joined")
		}
		if tournament.Status != models.TournamentPending {
			return errors.New("tournament has already started")
		}

		var count int64
		tx.Model(&models.TournamentPlayer{}).
			Where("tournament_id = ?", tournamentID).Count(&count)
		if tournament.MaxPlayers > 0 && count >= int64(tournament.MaxPlayers) {
			return errors.New("tournament is full")
		}

		var dup int64
		tx.Model(&models.TournamentPlayer{}).
			Where("tournament_id = ? AND external_user_id = ?", tournamentID, userID).
			Count(&dup)
		if dup > 0 {
			return errors.New("user already joined this tournament")
		}

		player := models.TournamentPlayer{
			ID:             uuid.NewString(),
			TournamentID:   tournamentID,
			Username:       username,
			ExternalUserID: &userID,
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}
		created = &player
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(201).JSON(created)
}

// LeaveTournament handles POST /tournaments/:id/leave. Only possible while
// the tournament is still pending.
func (s *TournamentService) LeaveTournament(c *fiber.Ctx) error {
	tournamentID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "authenticated user required"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var tournament models.Tournament
		if err := tx.First(&tournament, "id = ?", tournamentID).Error; err != nil {
			return err
		}
		if tournament.Status != models.TournamentPending {
			return errors.New("cannot leave after the tournament has started")
		}
		return tx.Where("tournament_id = ? AND external_user_id = ?", tournamentID, userID).
			Delete(&models.TournamentPlayer{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "left tournament"})
}

// StartTournament handles POST /tournaments/:id/start: requires an even
// player count, pairs players by shuffled seed order into round-1 matches,
// and creates a backing room per match.
func (s *TournamentService) StartTournament(c *fiber.Ctx) error {
	tournamentID := c.Params("id")

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var tournament models.Tournament
		if err := lockForUpdate(tx).
			First(&tournament, "id = ?", tournamentID).Error; err != nil {
			return err
		}
		if tournament.Status != models.TournamentPending {
			return errors.New("tournament has already started")
		}

		var players []models.TournamentPlayer
		if err := tx.Where("tournament_id = ?", tournamentID).
			Order("seed ASC, created_at ASC").Find(&players).Error; err != nil {
			return err
		}
		if len(players) < 2 {
			return errors.New("not enough players to start")
		}
		if len(players)%2 != 0 {
			return errors.New("player count must be even to start")
		}

		// Remote players joined unseeded; shuffle now and persist the seeds.
		// Local players keep the seeds drawn at creation.
		if tournament.Mode == models.TournamentModeRemote {
			rand.Shuffle(len(players), func(i, j int) {
				players[i], players[j] = players[j], players[i]
			})
			for seed := range players {
				players[seed].Seed = seed
				if err := tx.Model(&models.TournamentPlayer{}).
					Where("id = ?", players[seed].ID).
					Update("seed", seed).Error; err != nil {
					return err
				}
			}
		}

		if err := s.createRoundMatches(tx, &tournament, 1, playerIDs(players)); err != nil {
			return err
		}

		tournament.Status = models.TournamentInProgress
		tournament.CurrentRound = 1
		return tx.Save(&tournament).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.ensureMatchRooms(tournamentID); err != nil {
		log.Printf("[TOURNAMENT] room creation incomplete for %s: %v", tournamentID, err)
	}

	var tournament models.Tournament
	s.DB.Preload("Players").Preload("Matches", func(db *gorm.DB) *gorm.DB {
		return db.Order("round ASC, sort_order ASC")
	}).First(&tournament, "id = ?", tournamentID)
	return c.JSON(tournament)
}

// ReportResultRequest reports one match's outcome. Scores are optional
// detail; the winner id is authoritative.
type ReportResultRequest struct {
	WinnerID     string `json:"winner_id"`
	Player1Score int    `json:"player1_score"`
	Player2Score int    `json:"player2_score"`
}

// ReportMatchResult handles POST /tournaments/:id/matches/:match_id/result.
// The first report completes the match; repeats are accepted and change
// nothing ("first writer wins"). Each successful first-write re-derives
// round completion.
func (s *TournamentService) ReportMatchResult(c *fiber.Ctx) error {
	tournamentID := c.Params("id")
	matchID := c.Params("match_id")

	var req ReportResultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.WinnerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "winner_id is required"})
	}

	firstWrite, err := s.completeMatch(tournamentID, matchID, req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "match not found"})
		}
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if firstWrite {
		if err := s.advanceRound(tournamentID); err != nil {
			log.Printf("[TOURNAMENT] advance failed for %s: %v", tournamentID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to advance round"})
		}
	}

	var tournament models.Tournament
	s.DB.Preload("Matches", func(db *gorm.DB) *gorm.DB {
		return db.Order("round ASC, sort_order ASC")
	}).First(&tournament, "id = ?", tournamentID)
	return c.JSON(tournament)
}

// AdvanceRequest reports winners for one round in bulk (one winner per
// still-pending match, in match order). Round names the round the winners
// belong to; a request for an already-advanced round is a stale duplicate
// and changes nothing.
type AdvanceRequest struct {
	Round   int      `json:"round,omitempty"`
	Winners []string `json:"winners"`
}

// Advance handles POST /tournaments/:id/advance: bulk result reporting for
// clients that drive a whole round at once (local tournaments).
func (s *TournamentService) Advance(c *fiber.Ctx) error {
	tournamentID := c.Params("id")

	var req AdvanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if len(req.Winners) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "winners is required"})
	}

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	if tournament.Status != models.TournamentInProgress {
		return c.Status(400).JSON(fiber.Map{"error": "tournament is not in progress"})
	}
	if req.Round != 0 && req.Round != tournament.CurrentRound {
		// Retransmit of a round that already advanced: acknowledge without
		// touching the bracket.
		s.DB.Preload("Matches", func(db *gorm.DB) *gorm.DB {
			return db.Order("round ASC, sort_order ASC")
		}).First(&tournament, "id = ?", tournamentID)
		return c.JSON(tournament)
	}

	var matches []models.TournamentMatch
	if err := s.DB.Where("tournament_id = ? AND round = ?", tournamentID, tournament.CurrentRound).
		Order("sort_order ASC").Find(&matches).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load matches"})
	}

	anyFirstWrite := false
	winnerIdx := 0
	for _, match := range matches {
		if winnerIdx >= len(req.Winners) {
			break
		}
		winnerID := req.Winners[winnerIdx]
		if match.Status == models.MatchCompleted {
			if match.WinnerID != nil && *match.WinnerID == winnerID {
				winnerIdx++
			}
			continue
		}
		winnerIdx++
		firstWrite, err := s.completeMatch(tournamentID, match.ID, ReportResultRequest{WinnerID: winnerID})
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		anyFirstWrite = anyFirstWrite || firstWrite
	}

	if anyFirstWrite {
		if err := s.advanceRound(tournamentID); err != nil {
			log.Printf("[TOURNAMENT] advance failed for %s: %v", tournamentID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to advance round"})
		}
	}

	s.DB.Preload("Matches", func(db *gorm.DB) *gorm.DB {
		return db.Order("round ASC, sort_order ASC")
	}).First(&tournament, "id = ?", tournamentID)
	return c.JSON(tournament)
}

// GetTournament handles GET /tournaments/:id.
func (s *TournamentService) GetTournament(c *fiber.Ctx) error {
	var tournament models.Tournament
	err := s.DB.Preload("Players", func(db *gorm.DB) *gorm.DB {
		return db.Order("seed ASC")
	}).Preload("Matches", func(db *gorm.DB) *gorm.DB {
		return db.Order("round ASC, sort_order ASC")
	}).First(&tournament, "id = ?", c.Params("id")).Error
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	return c.JSON(tournament)
}

// ListTournaments handles GET /tournaments.
func (s *TournamentService) ListTournaments(c *fiber.Ctx) error {
	var tournaments []models.Tournament
	if err := s.DB.Order("created_at DESC").Find(&tournaments).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch tournaments"})
	}
	return c.JSON(tournaments)
}

// GetPlayers handles GET /tournaments/:id/players.
func (s *TournamentService) GetPlayers(c *fiber.Ctx) error {
	var players []models.TournamentPlayer
	err := s.DB.Where("tournament_id = ?", c.Params("id")).
		Order("seed ASC, created_at ASC").Find(&players).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch players"})
	}
	return c.JSON(players)
}

// GetMatches handles GET /tournaments/:id/matches. Before responding it
// retries room creation for any match still missing a room id — the
// recovery path for a room-creation failure during a previous advance.
func (s *TournamentService) GetMatches(c *fiber.Ctx) error {
	tournamentID := c.Params("id")
	if err := s.ensureMatchRooms(tournamentID); err != nil {
		log.Printf("[TOURNAMENT] room backfill incomplete for %s: %v", tournamentID, err)
	}

	var matches []models.TournamentMatch
	err := s.DB.Preload("Player1").Preload("Player2").
		Where("tournament_id = ?", tournamentID).
		Order("round ASC, sort_order ASC").Find(&matches).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch matches"})
	}
	return c.JSON(matches)
}

// completeMatch performs the idempotent pending→completed transition inside
// a row-locked transaction. Returns firstWrite=false when the match was
// already completed (the report is accepted but is a no-op).
func (s *TournamentService) completeMatch(tournamentID, matchID string, req ReportResultRequest) (bool, error) {
	firstWrite := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.TournamentMatch
		if err := lockForUpdate(tx).
			First(&match, "id = ? AND tournament_id = ?", matchID, tournamentID).Error; err != nil {
			return err
		}
		if match.Status == models.MatchCompleted {
			return nil
		}
		if req.WinnerID != match.Player1ID && req.WinnerID != match.Player2ID {
			return errors.New("winner_id is not a player of this match")
		}

		loserID := match.Player1ID
		if loserID == req.WinnerID {
			loserID = match.Player2ID
		}

		match.WinnerID = &req.WinnerID
		match.Player1Score = req.Player1Score
		match.Player2Score = req.Player2Score
		match.Status = models.MatchCompleted
		if err := tx.Save(&match).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.TournamentPlayer{}).
			Where("id = ?", loserID).Update("eliminated", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.TournamentPlayer{}).
			Where("id = ?", req.WinnerID).
			Update("score", gorm.Expr("score + 1")).Error; err != nil {
			return err
		}

		firstWrite = true
		return nil
	})
	return firstWrite, err
}

// advanceRound re-derives round completion and advances the bracket. Safe
// under concurrent duplicate invocations: the tournament row is locked, and
// if the next round's matches already exist the only remaining work is
// filling in missing room ids.
func (s *TournamentService) advanceRound(tournamentID string) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var tournament models.Tournament
		if err := lockForUpdate(tx).
			First(&tournament, "id = ?", tournamentID).Error; err != nil {
			return err
		}
		if tournament.Status != models.TournamentInProgress {
			return nil
		}

		var matches []models.TournamentMatch
		if err := tx.Where("tournament_id = ? AND round = ?", tournamentID, tournament.CurrentRound).
			Order("sort_order ASC").Find(&matches).Error; err != nil {
			return err
		}

		winners, done := roundWinners(matches)
		if !done {
			return nil
		}

		if len(winners) == 1 {
			var champion models.TournamentPlayer
			if err := tx.First(&champion, "id = ?", winners[0]).Error; err != nil {
				return err
			}
			tournament.Status = models.TournamentCompleted
			tournament.WinnerID = &champion.ID
			tournament.WinnerName = champion.Username
			log.Printf("[TOURNAMENT] %s completed, champion: %s", tournamentID, champion.Username)
			return tx.Save(&tournament).Error
		}

		nextRound := tournament.CurrentRound + 1
		var existing int64
		tx.Model(&models.TournamentMatch{}).
			Where("tournament_id = ? AND round = ?", tournamentID, nextRound).
			Count(&existing)
		if existing == 0 {
			if err := s.createRoundMatches(tx, &tournament, nextRound, winners); err != nil {
				return err
			}
		}
		// A concurrent advance raced ahead and already created the next
		// round: fall through, only the room backfill below remains.

		tournament.CurrentRound = nextRound
		return tx.Save(&tournament).Error
	})
	if err != nil {
		return err
	}

	return s.ensureMatchRooms(tournamentID)
}

// createRoundMatches pairs ordered player ids two by two into a round's
// matches. Caller guarantees an even count.
func (s *TournamentService) createRoundMatches(tx *gorm.DB, tournament *models.Tournament, round int, ordered []string) error {
	if len(ordered)%2 != 0 {
		return fmt.Errorf("cannot pair %d players for round %d", len(ordered), round)
	}
	for i := 0; i < len(ordered); i += 2 {
		match := models.TournamentMatch{
			ID:           uuid.NewString(),
			TournamentID: tournament.ID,
			Round:        round,
			SortOrder:    i / 2,
			Player1ID:    ordered[i],
			Player2ID:    ordered[i+1],
			Status:       models.MatchPending,
		}
		if err := tx.Create(&match).Error; err != nil {
			return err
		}
	}
	return nil
}

// ensureMatchRooms creates a backing game room for every pending match that
// lacks one. Idempotent: a match that already has a room id is not touched,
// so a raced or retried advance never produces a second room for the same
// match.
func (s *TournamentService) ensureMatchRooms(tournamentID string) error {
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		return err
	}

	var matches []models.TournamentMatch
	err := s.DB.Where("tournament_id = ? AND status = ? AND (room_id = '' OR room_id IS NULL)",
		tournamentID, models.MatchPending).
		Order("round ASC, sort_order ASC").Find(&matches).Error
	if err != nil {
		return err
	}

	var firstErr error
	for _, match := range matches {
		label := fmt.Sprintf("%s r%d m%d", tournament.Name, match.Round, match.SortOrder+1)
		roomID, err := s.Rooms.CreateGameRoom(label, false)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue // surfaced; retried on the next advance or fetch
		}
		res := s.DB.Model(&models.TournamentMatch{}).
			Where("id = ? AND (room_id = '' OR room_id IS NULL)", match.ID).
			Update("room_id", roomID)
		if res.Error != nil && firstErr == nil {
			firstErr = res.Error
		}
	}
	return firstErr
}

func playerIDs(players []models.TournamentPlayer) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}

// roundWinners collects winner ids in match order. done is false until every
// match in the slice is completed.
func roundWinners(matches []models.TournamentMatch) ([]string, bool) {
	if len(matches) == 0 {
		return nil, false
	}
	winners := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Status != models.MatchCompleted || m.WinnerID == nil {
			return nil, false
		}
		winners = append(winners, *m.WinnerID)
	}
	return winners, true
}
