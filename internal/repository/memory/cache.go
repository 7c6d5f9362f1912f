package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"

	"github.com/paulmach/orb"
)

// CacheRepository keeps caches in memory
type CacheRepository struct {
	store *Store
	lock  func() func()
}

// Create stores a new cache
func (r *CacheRepository) Create(ctx context.Context, cache *models.Cache) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	if _, ok := st.caches[cache.ID]; ok {
		return fmt.Errorf("cache id %w", apperrors.ErrConflict)
	}
	if _, ok := st.users[cache.CreatorID]; !ok {
		return fmt.Errorf("creator %w", apperrors.ErrNotFound)
	}

	c := cloneCache(cache)
	if err := st.tree.Add(pointOf(c)); err != nil {
		return apperrors.Validation("coordinates out of range")
	}
	st.caches[c.ID] = &cacheRecord{seq: st.next(), cache: c}
	st.onRollback(func() {
		removeFromTree(st, c)
		delete(st.caches, c.ID)
	})
	return nil
}

// GetByID returns a copy of the cache
func (r *CacheRepository) GetByID(ctx context.Context, id string) (*models.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	rec, ok := r.store.state.caches[id]
	if !ok {
		return nil, fmt.Errorf("cache %w", apperrors.ErrNotFound)
	}
	return cloneCache(rec.cache), nil
}

// GetByIDForUpdate is GetByID; a transaction already holds the store lock.
func (r *CacheRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Cache, error) {
	return r.GetByID(ctx, id)
}

// List returns every cache in insertion order
func (r *CacheRepository) List(ctx context.Context) ([]*models.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	recs := make([]*cacheRecord, 0, len(r.store.state.caches))
	for _, rec := range r.store.state.caches {
		recs = append(recs, rec)
	}
	return ordered(recs), nil
}

// ListInBound returns the caches inside b in insertion order
func (r *CacheRepository) ListInBound(ctx context.Context, b orb.Bound) ([]*models.Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	st := r.store.state
	hits := st.tree.InBound(nil, b)
	recs := make([]*cacheRecord, 0, len(hits))
	for _, h := range hits {
		if rec, ok := st.caches[h.(cachePoint).id]; ok {
			recs = append(recs, rec)
		}
	}
	return ordered(recs), nil
}

// Update replaces the mutable fields of a cache
func (r *CacheRepository) Update(ctx context.Context, cache *models.Cache) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.caches[cache.ID]
	if !ok {
		return fmt.Errorf("cache %w", apperrors.ErrNotFound)
	}

	prev := cloneCache(rec.cache)
	next := pointOf(cache)
	moved := next.p != pointOf(prev).p
	if moved {
		if !world.Contains(next.p) {
			return apperrors.Validation("coordinates out of range")
		}
		removeFromTree(st, rec.cache)
		_ = st.tree.Add(next)
	}

	rec.cache.Coordinates = cache.Coordinates
	rec.cache.Difficulty = cache.Difficulty
	rec.cache.Description = cache.Description
	st.onRollback(func() {
		if moved {
			removeFromTree(st, rec.cache)
			_ = st.tree.Add(pointOf(prev))
		}
		rec.cache = prev
	})
	return nil
}

// Delete removes a cache together with its discoveries
func (r *CacheRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.caches[id]
	if !ok {
		return fmt.Errorf("cache %w", apperrors.ErrNotFound)
	}
	removeFromTree(st, rec.cache)
	delete(st.caches, id)
	st.onRollback(func() {
		st.caches[id] = rec
		_ = st.tree.Add(pointOf(rec.cache))
	})
	return nil
}

// AddDiscovery appends a discovery. A user can appear once per cache.
func (r *CacheRepository) AddDiscovery(ctx context.Context, cacheID string, d models.Discovery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.caches[cacheID]
	if !ok {
		return fmt.Errorf("cache or finder %w", apperrors.ErrNotFound)
	}
	if _, ok := st.users[d.UserID]; !ok {
		return fmt.Errorf("cache or finder %w", apperrors.ErrNotFound)
	}
	if rec.cache.FoundBy(d.UserID) {
		return apperrors.ErrAlreadyDiscovered
	}
	prev := rec.cache.Discoveries
	rec.cache.Discoveries = append(rec.cache.Discoveries, d)
	st.onRollback(func() { rec.cache.Discoveries = prev })
	return nil
}

func removeFromTree(st *state, c *models.Cache) {
	st.tree.Remove(pointOf(c), func(p orb.Pointer) bool {
		return p.(cachePoint).id == c.ID
	})
}

func ordered(recs []*cacheRecord) []*models.Cache {
	slices.SortFunc(recs, func(a, b *cacheRecord) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*models.Cache, len(recs))
	for i, rec := range recs {
		out[i] = cloneCache(rec.cache)
	}
	return out
}

func pointOf(c *models.Cache) cachePoint {
	return cachePoint{
		id: c.ID,
		p:  orb.Point{c.Coordinates.Longitude, c.Coordinates.Latitude},
	}
}

func cloneCache(c *models.Cache) *models.Cache {
	out := *c
	out.Discoveries = make([]models.Discovery, len(c.Discoveries))
	copy(out.Discoveries, c.Discoveries)
	return &out
}
