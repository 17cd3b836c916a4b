package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pong-game-system/models"
)

// ProfileSyncClient pulls changed user profiles from the profile service and
// mirrors them into the local tournament_users table so tournament views can
// show display names without a live lookup.
type ProfileSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewProfileSyncClient(db *gorm.DB) *ProfileSyncClient {
	baseURL := os.Getenv("PROFILE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("GAME_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("GAME_SERVICE_TOKEN environment variable is required for profile sync")
	}

	return &ProfileSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ProfileSyncClient) GetChangedProfiles(ctx context.Context, since time.Time) ([]models.TournamentUser, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/profiles", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Profiles []models.TournamentUser `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode profile service response: %w", err)
	}

	return response.Profiles, nil
}

// PollProfiles mirrors profile changes into the DB on a fixed interval.
func PollProfiles(ctx context.Context, client *ProfileSyncClient, pollInterval time.Duration) {
	log.Println("Starting profile polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Profile polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			profiles, err := client.GetChangedProfiles(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling profiles: %v", err)
				continue
			}

			count := len(profiles)
			if count == 0 {
				continue
			}

			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "external_user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"username",
						"is_banned",
						"last_seen",
						"updated_at",
					}),
				},
			).Create(&profiles).Error; err != nil {
				log.Printf("❌ Failed to upsert %d profile(s): %v", count, err)
				// lastSyncTime stays put — retry the same window next tick
				continue
			}

			lastSyncTime = logTime
			log.Printf("✅ Upserted %d profile(s) into tournament_users table.", count)
		}
	}
}

// GetUserByExternalID looks up a mirrored profile.
func GetUserByExternalID(db *gorm.DB, externalID string) (models.TournamentUser, bool, error) {
	var user models.TournamentUser
	if err := db.Where("external_user_id = ?", externalID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return user, false, nil
		}
		return user, false, err
	}
	return user, true, nil
}
