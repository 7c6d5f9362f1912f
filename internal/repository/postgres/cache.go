package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
)

const cacheColumns = `id, creator_id, latitude, longitude, difficulty, description, photo_key, photo_content_type, created_at`

// CacheRepository handles database operations for caches
type CacheRepository struct {
	db      Querier
	timeout time.Duration
}

// Create creates a new cache
func (r *CacheRepository) Create(ctx context.Context, cache *models.Cache) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO caches (id, creator_id, latitude, longitude, difficulty, description, photo_key, photo_content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		cache.ID, cache.CreatorID, cache.Coordinates.Latitude, cache.Coordinates.Longitude,
		cache.Difficulty, cache.Description, cache.PhotoKey, cache.PhotoContentType, cache.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return fmt.Errorf("creator %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create cache: %w", translateError(err))
	}
	return nil
}

// GetByID retrieves a cache by ID with its discoveries
func (r *CacheRepository) GetByID(ctx context.Context, id string) (*models.Cache, error) {
	return r.get(ctx, `SELECT `+cacheColumns+` FROM caches WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a cache and locks its row until the transaction ends
func (r *CacheRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Cache, error) {
	return r.get(ctx, `SELECT `+cacheColumns+` FROM caches WHERE id = $1 FOR UPDATE`, id)
}

func (r *CacheRepository) get(ctx context.Context, query, id string) (*models.Cache, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	cache, err := scanCache(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cache %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cache: %w", translateError(err))
	}

	if err := r.attachDiscoveries(ctx, []*models.Cache{cache}); err != nil {
		return nil, err
	}
	return cache, nil
}

// List retrieves every cache in storage order
func (r *CacheRepository) List(ctx context.Context) ([]*models.Cache, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return r.list(ctx, `SELECT `+cacheColumns+` FROM caches ORDER BY seq`)
}

// ListInBound retrieves the caches inside a lat/lon box in storage order
func (r *CacheRepository) ListInBound(ctx context.Context, b orb.Bound) ([]*models.Cache, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + cacheColumns + `
		FROM caches
		WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4
		ORDER BY seq
	`
	return r.list(ctx, query, b.Min[1], b.Max[1], b.Min[0], b.Max[0])
}

func (r *CacheRepository) list(ctx context.Context, query string, args ...any) ([]*models.Cache, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", translateError(err))
	}
	defer rows.Close()

	caches := make([]*models.Cache, 0)
	for rows.Next() {
		cache, err := scanCache(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache: %w", translateError(err))
		}
		caches = append(caches, cache)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating caches: %w", translateError(err))
	}

	if err := r.attachDiscoveries(ctx, caches); err != nil {
		return nil, err
	}
	return caches, nil
}

func (r *CacheRepository) attachDiscoveries(ctx context.Context, caches []*models.Cache) error {
	if len(caches) == 0 {
		return nil
	}

	ids := make([]string, len(caches))
	byID := make(map[string]*models.Cache, len(caches))
	for i, c := range caches {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	query := `
		SELECT cache_id, user_id, found, comment, found_at
		FROM cache_discoveries
		WHERE cache_id = ANY($1)
		ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to get discoveries: %w", translateError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var cacheID string
		var d models.Discovery
		if err := rows.Scan(&cacheID, &d.UserID, &d.Found, &d.Comment, &d.Date); err != nil {
			return fmt.Errorf("failed to scan discovery: %w", translateError(err))
		}
		if c, ok := byID[cacheID]; ok {
			c.Discoveries = append(c.Discoveries, d)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating discoveries: %w", translateError(err))
	}
	return nil
}

// Update replaces the mutable fields of a cache
func (r *CacheRepository) Update(ctx context.Context, cache *models.Cache) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE caches
		SET latitude = $1, longitude = $2, difficulty = $3, description = $4
		WHERE id = $5
	`
	result, err := r.db.Exec(ctx, query,
		cache.Coordinates.Latitude, cache.Coordinates.Longitude, cache.Difficulty, cache.Description, cache.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cache: %w", translateError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("cache %w", apperrors.ErrNotFound)
	}
	return nil
}

// Delete deletes a cache by ID. Its discoveries go with it.
func (r *CacheRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.Exec(ctx, `DELETE FROM caches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cache: %w", translateError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("cache %w", apperrors.ErrNotFound)
	}
	return nil
}

// AddDiscovery appends a discovery to a cache
func (r *CacheRepository) AddDiscovery(ctx context.Context, cacheID string, d models.Discovery) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO cache_discoveries (cache_id, user_id, found, comment, found_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, cacheID, d.UserID, d.Found, d.Comment, d.Date)
	if err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return apperrors.ErrAlreadyDiscovered
		case foreignKeyViolation:
			return fmt.Errorf("cache or finder %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to add discovery: %w", translateError(err))
	}
	return nil
}

func scanCache(row pgx.Row) (*models.Cache, error) {
	var c models.Cache
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.Coordinates.Latitude, &c.Coordinates.Longitude,
		&c.Difficulty, &c.Description, &c.PhotoKey, &c.PhotoContentType, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Discoveries = make([]models.Discovery, 0)
	return &c, nil
}
