// Package ranking computes the user leaderboard and the cache popularity
// rankings. Every function is pure and allocates a fresh result.
package ranking

import (
	"cmp"
	"slices"

	"geocaching-backend/internal/models"
)

const (
	// TopN bounds the popular and rarely found rankings.
	TopN = 10
	// PopularThreshold is the discovery count from which a cache is popular.
	PopularThreshold = 2
)

// AvatarURLFunc builds the public avatar URL of a user, or nil when the user
// has no avatar.
type AvatarURLFunc func(u *models.User) *string

// Leaderboard orders users by discovery count, highest first. Ties keep
// storage order. No truncation.
func Leaderboard(users []*models.User, avatarURL AvatarURLFunc) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		e := models.LeaderboardEntry{
			UserID:         u.ID,
			Email:          u.Email,
			DiscoveryCount: len(u.Discoveries),
		}
		if avatarURL != nil {
			e.AvatarURL = avatarURL(u)
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(a, b models.LeaderboardEntry) int {
		return cmp.Compare(b.DiscoveryCount, a.DiscoveryCount)
	})
	return entries
}

// Popular returns up to TopN caches found at least PopularThreshold times,
// most found first.
func Popular(caches []*models.Cache) []models.CacheRank {
	return rank(caches, func(n int) bool { return n >= PopularThreshold })
}

// Rare returns up to TopN caches found fewer than PopularThreshold times.
// Caches found once come before caches never found.
func Rare(caches []*models.Cache) []models.CacheRank {
	return rank(caches, func(n int) bool { return n < PopularThreshold })
}

func rank(caches []*models.Cache, keep func(n int) bool) []models.CacheRank {
	ranks := make([]models.CacheRank, 0)
	for _, c := range caches {
		if n := len(c.Discoveries); keep(n) {
			ranks = append(ranks, models.CacheRank{ID: c.ID, FoundByCount: n})
		}
	}

	slices.SortStableFunc(ranks, func(a, b models.CacheRank) int {
		return cmp.Compare(b.FoundByCount, a.FoundByCount)
	})
	if len(ranks) > TopN {
		ranks = ranks[:TopN]
	}
	return ranks
}
