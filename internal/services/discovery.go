package services

import (
	"context"
	"sync"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

const notifyTimeout = 10 * time.Second

// DiscoveryService records that a user found a cache
type DiscoveryService struct {
	store    repository.Store
	notifier Notifier
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewDiscoveryService creates a new discovery service. notifier may be nil.
func NewDiscoveryService(store repository.Store, notifier Notifier) *DiscoveryService {
	return &DiscoveryService{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// RecordDiscovery marks cacheID as found by finderID. The cache entry and the
// finder's history entry are written in one transaction while the cache is
// locked, so concurrent attempts by the same finder succeed at most once.
func (s *DiscoveryService) RecordDiscovery(ctx context.Context, cacheID, finderID, comment string) error {
	if err := checkID("cache", cacheID); err != nil {
		return err
	}

	now := s.now().UTC()
	var creatorID string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		cache, err := tx.Caches().GetByIDForUpdate(ctx, cacheID)
		if err != nil {
			return err
		}
		if cache.CreatorID == finderID {
			return apperrors.ErrSelfDiscovery
		}
		if cache.FoundBy(finderID) {
			return apperrors.ErrAlreadyDiscovered
		}

		if err := tx.Caches().AddDiscovery(ctx, cacheID, models.Discovery{
			UserID:  finderID,
			Found:   true,
			Comment: comment,
			Date:    now,
		}); err != nil {
			return err
		}
		if err := tx.Users().AddHistory(ctx, finderID, models.HistoryEntry{
			CacheID: cacheID,
			FoundAt: now,
			Comment: comment,
		}); err != nil {
			return err
		}

		creatorID = cache.CreatorID
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("cache_id", cacheID).
		Str("finder_id", finderID).
		Msg("Cache found")

	s.notify(ctx, CacheFoundEvent{
		CacheID:   cacheID,
		CreatorID: creatorID,
		FinderID:  finderID,
		Comment:   comment,
		FoundAt:   now,
	})
	return nil
}

// notify delivers the event in the background. Failures are only logged.
func (s *DiscoveryService) notify(ctx context.Context, event CacheFoundEvent) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyCacheFound(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("cache_id", event.CacheID).
				Str("creator_id", event.CreatorID).
				Msg("Failed to notify cache creator")
		}
	}()
}

// Wait blocks until pending notifications are delivered
func (s *DiscoveryService) Wait() {
	s.wg.Wait()
}
