package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pong-game-system/models"
)

func strPtr(s string) *string { return &s }

func TestRoundWinnersIncomplete(t *testing.T) {
	_, done := roundWinners(nil)
	assert.False(t, done, "a round with no matches never completes")

	matches := []models.TournamentMatch{
		{SortOrder: 0, Status: models.MatchCompleted, WinnerID: strPtr("a")},
		{SortOrder: 1, Status: models.MatchPending},
	}
	_, done = roundWinners(matches)
	assert.False(t, done)
}

func TestRoundWinnersOrdered(t *testing.T) {
	matches := []models.TournamentMatch{
		{SortOrder: 0, Status: models.MatchCompleted, WinnerID: strPtr("a")},
		{SortOrder: 1, Status: models.MatchCompleted, WinnerID: strPtr("d")},
		{SortOrder: 2, Status: models.MatchCompleted, WinnerID: strPtr("f")},
		{SortOrder: 3, Status: models.MatchCompleted, WinnerID: strPtr("g")},
	}
	winners, done := roundWinners(matches)
	require.True(t, done)
	assert.Equal(t, []string{"a", "d", "f", "g"}, winners,
		"winners keep match order, so next-round pairing is deterministic")
}

func TestPlayerIDsKeepsOrder(t *testing.T) {
	players := []models.TournamentPlayer{
		{ID: "p1", Seed: 0},
		{ID: "p2", Seed: 1},
		{ID: "p3", Seed: 2},
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, playerIDs(players))
}
