package models

import (
	"time"

	"gorm.io/gorm"
)

// TournamentUser is a local snapshot of the profile-service user data the
// tournament engine needs (display names for brackets and results). Populated
// by the profile sync worker; never written back to the profile service.
type TournamentUser struct {
	ID             string `gorm:"primaryKey" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string `gorm:"index;not null" json:"username"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsBanned bool       `json:"is_banned" gorm:"default:false"` // local tournament ban

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
