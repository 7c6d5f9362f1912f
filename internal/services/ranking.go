package services

import (
	"context"
	"time"

	"geocaching-backend/internal/models"
	"geocaching-backend/internal/ranking"
	"geocaching-backend/internal/repository"

	"golang.org/x/sync/singleflight"
)

// scanTimeout bounds a shared scan, which outlives the caller that started it.
const scanTimeout = 10 * time.Second

// RankingService serves the leaderboards. Concurrent requests for the same
// collection share one store scan.
type RankingService struct {
	store repository.Store
	group singleflight.Group
}

// NewRankingService creates a new ranking service
func NewRankingService(store repository.Store) *RankingService {
	return &RankingService{store: store}
}

// Leaderboard ranks every user by discovery count
func (s *RankingService) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	v, err := s.shared(ctx, "users", func(ctx context.Context) (interface{}, error) {
		return s.store.Users().List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return ranking.Leaderboard(v.([]*models.User), AvatarURL), nil
}

// Popular returns the most found caches
func (s *RankingService) Popular(ctx context.Context) ([]models.CacheRank, error) {
	caches, err := s.caches(ctx)
	if err != nil {
		return nil, err
	}
	return ranking.Popular(caches), nil
}

// Rare returns the least found caches
func (s *RankingService) Rare(ctx context.Context) ([]models.CacheRank, error) {
	caches, err := s.caches(ctx)
	if err != nil {
		return nil, err
	}
	return ranking.Rare(caches), nil
}

func (s *RankingService) caches(ctx context.Context) ([]*models.Cache, error) {
	v, err := s.shared(ctx, "caches", func(ctx context.Context) (interface{}, error) {
		return s.store.Caches().List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Cache), nil
}

// shared runs scan once for all concurrent callers of key. The scan does not
// inherit any caller's cancellation; each caller stops waiting on its own ctx.
func (s *RankingService) shared(ctx context.Context, key string, scan func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scanTimeout)
		defer cancel()
		return scan(scanCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
