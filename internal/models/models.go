package models

import "time"

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Discovery records one user finding a cache.
type Discovery struct {
	UserID  string    `json:"user_id"`
	Found   bool      `json:"found"`
	Comment string    `json:"comment"`
	Date    time.Time `json:"date"`
}

// Cache represents a location-tagged cache placed by a user
type Cache struct {
	ID               string      `json:"id"`
	Coordinates      Coordinates `json:"coordinates"`
	CreatorID        string      `json:"creator_id"`
	Difficulty       int         `json:"difficulty"`
	Description      string      `json:"description"`
	Discoveries      []Discovery `json:"discoveries"`
	PhotoKey         string      `json:"-"`
	PhotoContentType string      `json:"-"`
	PhotoURL         string      `json:"photo_url,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// FoundBy reports whether userID already appears in the discoveries.
func (c *Cache) FoundBy(userID string) bool {
	for _, d := range c.Discoveries {
		if d.UserID == userID {
			return true
		}
	}
	return false
}

// HistoryEntry is the user side mirror of a Discovery.
type HistoryEntry struct {
	CacheID string    `json:"cache_id"`
	FoundAt time.Time `json:"found_at"`
	Comment string    `json:"comment"`
}

// User represents a registered user
type User struct {
	ID                string         `json:"id"`
	Email             string         `json:"email"`
	PasswordHash      string         `json:"-"`
	Discoveries       []HistoryEntry `json:"discoveries"`
	AvatarKey         string         `json:"-"`
	AvatarContentType string         `json:"-"`
	AvatarURL         *string        `json:"avatar_url"`
	PushToken         *string        `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
}

// LeaderboardEntry is one row of the user ranking
type LeaderboardEntry struct {
	UserID         string  `json:"-"`
	Email          string  `json:"email"`
	DiscoveryCount int     `json:"discovery_count"`
	AvatarURL      *string `json:"avatar_url"`
}

// CacheRank is one row of the popular or rarely found rankings
type CacheRank struct {
	ID           string `json:"id"`
	FoundByCount int    `json:"found_by_count"`
}
