package models

// Tournament status values. A tournament moves pending → in_progress →
// completed and never back.
const (
	TournamentPending    = "pending"
	TournamentInProgress = "in_progress"
	TournamentCompleted  = "completed"
)

// Tournament modes. Local tournaments are seeded from an alias list with no
// linked accounts; remote tournaments are joined individually by
// authenticated users.
const (
	TournamentModeLocal  = "local"
	TournamentModeRemote = "remote"
)

// Match status values. A match transitions pending → completed exactly once;
// repeated result reports for a completed match are no-ops.
const (
	MatchPending   = "pending"
	MatchCompleted = "completed"
)

// Tournament is a bracket-style tournament. CurrentRound starts at 1 when the
// tournament starts; Winner fields are set when a round produces a single
// winner.
type Tournament struct {
	ID           string  `json:"id" gorm:"primaryKey"`
	Name         string  `json:"name" gorm:"not null"`
	Mode         string  `json:"mode" gorm:"type:varchar(16);default:'local'"`
	CreatorID    string  `json:"creator_id" gorm:"index"`
	Status       string  `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	MaxPlayers   int     `json:"max_players" gorm:"default:0"`
	CurrentRound int     `json:"current_round" gorm:"default:0"`
	WinnerID     *string `json:"winner_id,omitempty"`
	WinnerName   string  `json:"winner_name,omitempty"`

	// Relationships
	Players []TournamentPlayer `json:"players,omitempty" gorm:"foreignKey:TournamentID"`
	Matches []TournamentMatch  `json:"matches,omitempty" gorm:"foreignKey:TournamentID"`

	Timestamps
}

// TournamentPlayer is one bracket slot. Seed is the shuffled position used
// for round-1 pairing. ExternalUserID is nil for local-mode aliases and AI
// players.
type TournamentPlayer struct {
	ID             string  `json:"id" gorm:"primaryKey"`
	TournamentID   string  `json:"tournament_id" gorm:"not null;index"`
	Username       string  `json:"username" gorm:"not null"`
	ExternalUserID *string `json:"external_user_id,omitempty" gorm:"index"`
	Seed           int     `json:"seed" gorm:"default:0"`
	Score          int     `json:"score" gorm:"default:0"`
	Eliminated     bool    `json:"eliminated" gorm:"default:false"`
	IsAI           bool    `json:"is_ai" gorm:"default:false"`

	Timestamps
}

// TournamentMatch is one bracket match. RoomID is filled in once the backing
// game room has been created. Winners of a round are collected in match
// creation order to keep the bracket shape deterministic.
type TournamentMatch struct {
	ID           string  `json:"id" gorm:"primaryKey"`
	TournamentID string  `json:"tournament_id" gorm:"not null;index"`
	Round        int     `json:"round" gorm:"not null;index"`
	SortOrder    int     `json:"sort_order" gorm:"column:sort_order;default:0"`
	Player1ID    string  `json:"player1_id" gorm:"not null"`
	Player2ID    string  `json:"player2_id" gorm:"not null"`
	WinnerID     *string `json:"winner_id,omitempty"`
	Player1Score int     `json:"player1_score" gorm:"default:0"`
	Player2Score int     `json:"player2_score" gorm:"default:0"`
	RoomID       string  `json:"room_id,omitempty" gorm:"index"`
	Status       string  `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	Player1 *TournamentPlayer `json:"player1,omitempty" gorm:"foreignKey:Player1ID"`
	Player2 *TournamentPlayer `json:"player2,omitempty" gorm:"foreignKey:Player2ID"`

	Timestamps
}
