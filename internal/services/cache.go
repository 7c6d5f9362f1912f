package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/blob"
	"geocaching-backend/internal/geo"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/proximity"
	"geocaching-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDifficulty applies when a cache is created without one.
	DefaultDifficulty = 3
	MinDifficulty     = 1
	MaxDifficulty     = 5
	// MaxPhotoBytes caps cache photo uploads.
	MaxPhotoBytes = 5 << 20
)

// CacheInput carries cache fields as received, before parsing. A nil field
// was not provided.
type CacheInput struct {
	Latitude    *string
	Longitude   *string
	Difficulty  *string
	Description *string
}

// CacheService handles the cache lifecycle
type CacheService struct {
	store      repository.Store
	finder     proximity.Finder
	blobs      blob.Store
	presignTTL time.Duration
	now        func() time.Time
}

// NewCacheService creates a new cache service. When presignTTL is positive
// and the blob store can presign, photo URLs point straight at the store.
func NewCacheService(store repository.Store, finder proximity.Finder, blobs blob.Store, presignTTL time.Duration) *CacheService {
	return &CacheService{
		store:      store,
		finder:     finder,
		blobs:      blobs,
		presignTTL: presignTTL,
		now:        time.Now,
	}
}

// Create places a new cache owned by creatorID
func (s *CacheService) Create(ctx context.Context, creatorID string, in CacheInput, photo *Upload) (*models.Cache, error) {
	point, err := geo.ParsePoint(deref(in.Latitude), deref(in.Longitude))
	if err != nil {
		return nil, err
	}

	difficulty := DefaultDifficulty
	if given(in.Difficulty) {
		if difficulty, err = parseDifficulty(*in.Difficulty); err != nil {
			return nil, err
		}
	}

	cache := &models.Cache{
		ID:          uuid.New().String(),
		Coordinates: models.Coordinates{Latitude: point.Lat, Longitude: point.Lon},
		CreatorID:   creatorID,
		Difficulty:  difficulty,
		Description: deref(in.Description),
		Discoveries: []models.Discovery{},
		CreatedAt:   s.now().UTC(),
	}

	if photo != nil {
		if err := photo.validateImage(MaxPhotoBytes); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("caches/%s/%s", cache.ID, uuid.New().String())
		if err := s.blobs.Put(ctx, key, photo.ContentType, photo.Body, photo.Size); err != nil {
			return nil, fmt.Errorf("failed to store cache photo: %w", err)
		}
		cache.PhotoKey = key
		cache.PhotoContentType = photo.ContentType
	}

	if err := s.store.Caches().Create(ctx, cache); err != nil {
		if cache.PhotoKey != "" {
			deleteBlob(s.blobs, cache.PhotoKey)
		}
		return nil, err
	}

	log.Info().
		Str("cache_id", cache.ID).
		Str("creator_id", creatorID).
		Int("difficulty", difficulty).
		Msg("Cache created")

	s.decorate(ctx, cache)
	return cache, nil
}

// Update changes the provided fields of a cache. Only its creator may do so.
func (s *CacheService) Update(ctx context.Context, userID, cacheID string, in CacheInput) (*models.Cache, error) {
	if err := checkID("cache", cacheID); err != nil {
		return nil, err
	}

	var updated *models.Cache
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		cache, err := tx.Caches().GetByIDForUpdate(ctx, cacheID)
		if err != nil {
			return err
		}
		if cache.CreatorID != userID {
			return fmt.Errorf("%w: only the creator can modify this cache", apperrors.ErrForbidden)
		}

		if in.Latitude != nil || in.Longitude != nil {
			point, err := geo.ParsePoint(deref(in.Latitude), deref(in.Longitude))
			if err != nil {
				return err
			}
			cache.Coordinates = models.Coordinates{Latitude: point.Lat, Longitude: point.Lon}
		}
		if given(in.Difficulty) {
			if cache.Difficulty, err = parseDifficulty(*in.Difficulty); err != nil {
				return err
			}
		}
		if in.Description != nil {
			cache.Description = *in.Description
		}

		if err := tx.Caches().Update(ctx, cache); err != nil {
			return err
		}
		updated = cache
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("cache_id", cacheID).Str("user_id", userID).Msg("Cache updated")
	s.decorate(ctx, updated)
	return updated, nil
}

// Delete removes a cache. Only its creator may do so. Finders keep the
// entry in their history.
func (s *CacheService) Delete(ctx context.Context, userID, cacheID string) error {
	if err := checkID("cache", cacheID); err != nil {
		return err
	}

	var photoKey string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		cache, err := tx.Caches().GetByIDForUpdate(ctx, cacheID)
		if err != nil {
			return err
		}
		if cache.CreatorID != userID {
			return fmt.Errorf("%w: only the creator can delete this cache", apperrors.ErrForbidden)
		}
		photoKey = cache.PhotoKey
		return tx.Caches().Delete(ctx, cacheID)
	})
	if err != nil {
		return err
	}

	if photoKey != "" {
		deleteBlob(s.blobs, photoKey)
	}

	log.Info().Str("cache_id", cacheID).Str("user_id", userID).Msg("Cache deleted")
	return nil
}

// Get returns one cache
func (s *CacheService) Get(ctx context.Context, cacheID string) (*models.Cache, error) {
	if err := checkID("cache", cacheID); err != nil {
		return nil, err
	}
	cache, err := s.store.Caches().GetByID(ctx, cacheID)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, cache)
	return cache, nil
}

// List returns every cache in storage order
func (s *CacheService) List(ctx context.Context) ([]*models.Cache, error) {
	caches, err := s.store.Caches().List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range caches {
		s.decorate(ctx, c)
	}
	return caches, nil
}

// Nearby parses a query and returns the caches within radius of the point.
// An empty radius means proximity.DefaultRadiusKm.
func (s *CacheService) Nearby(ctx context.Context, latRaw, lonRaw, radiusRaw string) ([]*models.Cache, error) {
	origin, err := geo.ParsePoint(latRaw, lonRaw)
	if err != nil {
		return nil, err
	}
	radius, err := proximity.ParseRadius(radiusRaw)
	if err != nil {
		return nil, err
	}

	caches, err := s.finder.Nearby(ctx, origin, radius)
	if err != nil {
		return nil, err
	}
	for _, c := range caches {
		s.decorate(ctx, c)
	}
	return caches, nil
}

// OpenPhoto streams the photo attached to a cache
func (s *CacheService) OpenPhoto(ctx context.Context, cacheID string) (io.ReadCloser, string, error) {
	if err := checkID("cache", cacheID); err != nil {
		return nil, "", err
	}
	cache, err := s.store.Caches().GetByID(ctx, cacheID)
	if err != nil {
		return nil, "", err
	}
	if cache.PhotoKey == "" {
		return nil, "", fmt.Errorf("photo %w", apperrors.ErrNotFound)
	}

	body, contentType, err := s.blobs.Open(ctx, cache.PhotoKey)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = cache.PhotoContentType
	}
	return body, contentType, nil
}

func (s *CacheService) decorate(ctx context.Context, c *models.Cache) {
	if c.PhotoKey == "" {
		return
	}
	if p, ok := s.blobs.(blob.Presigner); ok && s.presignTTL > 0 {
		url, err := p.PresignGet(ctx, c.PhotoKey, s.presignTTL)
		if err == nil {
			c.PhotoURL = url
			return
		}
		log.Warn().Err(err).Str("cache_id", c.ID).Msg("Failed to presign photo URL")
	}
	c.PhotoURL = "/api/v1/caches/" + c.ID + "/photo"
}

// given reports whether an optional field carries a value. Blank counts as absent.
func given(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func parseDifficulty(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	d, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("difficulty %q must be an integer", raw)
	}
	if d < MinDifficulty || d > MaxDifficulty {
		return 0, apperrors.Validation("difficulty must be between %d and %d", MinDifficulty, MaxDifficulty)
	}
	return d, nil
}

// checkID rejects ids that cannot exist. Ids are uuids.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %w", kind, apperrors.ErrNotFound)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func deleteBlob(blobs blob.Store, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := blobs.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete blob")
	}
}
