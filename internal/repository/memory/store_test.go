package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/repository"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Users().Create(context.Background(), &models.User{
		ID: id, Email: id + "@example.com", PasswordHash: "h", CreatedAt: time.Now(),
	}))
}

func seedCache(t *testing.T, s *Store, id, creator string, lat, lon float64) {
	t.Helper()
	require.NoError(t, s.Caches().Create(context.Background(), &models.Cache{
		ID:          id,
		CreatorID:   creator,
		Coordinates: models.Coordinates{Latitude: lat, Longitude: lon},
		Difficulty:  3,
		CreatedAt:   time.Now(),
	}))
}

func ids(caches []*models.Cache) []string {
	out := make([]string, len(caches))
	for i, c := range caches {
		out[i] = c.ID
	}
	return out
}

func TestCaches_ListKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1")
	for i := 0; i < 20; i++ {
		seedCache(t, s, fmt.Sprintf("c%02d", i), "u1", float64(i), float64(i))
	}

	all, err := s.Caches().List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 20)
	for i, c := range all {
		assert.Equal(t, fmt.Sprintf("c%02d", i), c.ID)
	}
}

func TestCaches_ReturnsCopies(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1")
	seedCache(t, s, "c1", "u1", 1, 1)

	c, err := s.Caches().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	c.Description = "mutated"
	c.Discoveries = append(c.Discoveries, models.Discovery{UserID: "x"})

	again, err := s.Caches().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, again.Description)
	assert.Empty(t, again.Discoveries)
}

func TestCaches_ListInBound(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1")
	seedCache(t, s, "bordeaux", "u1", 44.8378, -0.5792)
	seedCache(t, s, "paris", "u1", 48.8566, 2.3522)
	seedCache(t, s, "merignac", "u1", 44.8386, -0.6436)

	got, err := s.Caches().ListInBound(context.Background(), orb.Bound{
		Min: orb.Point{-1, 44}, Max: orb.Point{0, 45},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bordeaux", "merignac"}, ids(got))
}

func TestCaches_UpdateMovesIndexedPoint(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedCache(t, s, "c1", "u1", 10, 10)

	c, err := s.Caches().GetByID(ctx, "c1")
	require.NoError(t, err)
	c.Coordinates = models.Coordinates{Latitude: -20, Longitude: 30}
	c.Difficulty = 5
	require.NoError(t, s.Caches().Update(ctx, c))

	old, err := s.Caches().ListInBound(ctx, orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{11, 11}})
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := s.Caches().ListInBound(ctx, orb.Bound{Min: orb.Point{29, -21}, Max: orb.Point{31, -19}})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, 5, moved[0].Difficulty)
}

func TestCaches_DeleteRemovesFromIndex(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedCache(t, s, "c1", "u1", 10, 10)

	require.NoError(t, s.Caches().Delete(ctx, "c1"))
	assert.ErrorIs(t, s.Caches().Delete(ctx, "c1"), apperrors.ErrNotFound)

	got, err := s.Caches().ListInBound(ctx, world)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCaches_AddDiscovery(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	seedCache(t, s, "c1", "u1", 1, 1)

	d := models.Discovery{UserID: "u2", Found: true, Date: time.Now()}
	require.NoError(t, s.Caches().AddDiscovery(ctx, "c1", d))
	assert.ErrorIs(t, s.Caches().AddDiscovery(ctx, "c1", d), apperrors.ErrAlreadyDiscovered)
	assert.ErrorIs(t, s.Caches().AddDiscovery(ctx, "nope", d), apperrors.ErrNotFound)
	assert.ErrorIs(t, s.Caches().AddDiscovery(ctx, "c1", models.Discovery{UserID: "ghost"}), apperrors.ErrNotFound)
}

func TestUsers_EmailIsUnique(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1")

	err := s.Users().Create(context.Background(), &models.User{ID: "u2", Email: "u1@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	u, err := s.Users().GetByEmail(context.Background(), "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestUsers_PushTokenAndAvatar(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")

	token := "abc"
	require.NoError(t, s.Users().UpdatePushToken(ctx, "u1", &token))
	require.NoError(t, s.Users().UpdateAvatar(ctx, "u1", "avatars/u1", "image/png"))
	token = "changed"

	u, err := s.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, "abc", *u.PushToken)
	assert.Equal(t, "avatars/u1", u.AvatarKey)

	assert.ErrorIs(t, s.Users().UpdateAvatar(ctx, "ghost", "k", "image/png"), apperrors.ErrNotFound)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	seedCache(t, s, "c1", "u1", 1, 1)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		if err := tx.Caches().AddDiscovery(ctx, "c1", models.Discovery{UserID: "u2", Found: true}); err != nil {
			return err
		}
		if err := tx.Caches().Delete(ctx, "c1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.Caches().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, c.Discoveries)

	indexed, err := s.Caches().ListInBound(ctx, world)
	require.NoError(t, err)
	assert.Len(t, indexed, 1)
}

func TestWithinTx_RollsBackOnPanic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
			_ = tx.Users().AddHistory(ctx, "u1", models.HistoryEntry{CacheID: "c1"})
			panic("boom")
		})
	})

	u, err := s.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.Discoveries)
}

func TestWithinTx_RollsBackEveryMutation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedCache(t, s, "c1", "u1", 10, 10)
	token := "before"
	require.NoError(t, s.Users().UpdatePushToken(ctx, "u1", &token))
	require.NoError(t, s.Users().UpdateAvatar(ctx, "u1", "avatars/old", "image/png"))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		c, err := tx.Caches().GetByIDForUpdate(ctx, "c1")
		require.NoError(t, err)
		c.Coordinates = models.Coordinates{Latitude: -20, Longitude: 30}
		c.Difficulty = 5
		c.Description = "moved"
		require.NoError(t, tx.Caches().Update(ctx, c))
		require.NoError(t, tx.Caches().Create(ctx, &models.Cache{
			ID: "c2", CreatorID: "u1", Coordinates: models.Coordinates{Latitude: 11, Longitude: 11}, Difficulty: 1,
		}))
		require.NoError(t, tx.Users().Create(ctx, &models.User{ID: "u2", Email: "u2@example.com", PasswordHash: "h"}))
		after := "after"
		require.NoError(t, tx.Users().UpdatePushToken(ctx, "u1", &after))
		require.NoError(t, tx.Users().UpdateAvatar(ctx, "u1", "avatars/new", "image/jpeg"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.Caches().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinates{Latitude: 10, Longitude: 10}, c.Coordinates)
	assert.Equal(t, 3, c.Difficulty)
	assert.Empty(t, c.Description)

	near, err := s.Caches().ListInBound(ctx, orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{12, 12}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(near))
	moved, err := s.Caches().ListInBound(ctx, orb.Bound{Min: orb.Point{29, -21}, Max: orb.Point{31, -19}})
	require.NoError(t, err)
	assert.Empty(t, moved)
	_, err = s.Caches().GetByID(ctx, "c2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = s.Users().GetByEmail(ctx, "u2@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	u, err := s.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, "before", *u.PushToken)
	assert.Equal(t, "avatars/old", u.AvatarKey)
	assert.Equal(t, "image/png", u.AvatarContentType)

	// a committed unit after the rollback is not undone later
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		return tx.Users().Create(ctx, &models.User{ID: "u2", Email: "u2@example.com", PasswordHash: "h"})
	}))
	_, err = s.Users().GetByID(ctx, "u2")
	assert.NoError(t, err)
}

func TestWithinTx_SerializesUnits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "owner")
	seedCache(t, s, "c1", "owner", 1, 1)
	seedUser(t, s, "finder")

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
				c, err := tx.Caches().GetByIDForUpdate(ctx, "c1")
				if err != nil {
					return err
				}
				if c.FoundBy("finder") {
					return apperrors.ErrAlreadyDiscovered
				}
				if err := tx.Caches().AddDiscovery(ctx, "c1", models.Discovery{UserID: "finder", Found: true}); err != nil {
					return err
				}
				return tx.Users().AddHistory(ctx, "finder", models.HistoryEntry{CacheID: "c1"})
			})
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyDiscovered)
	}
	assert.Equal(t, 1, ok)

	u, err := s.Users().GetByID(ctx, "finder")
	require.NoError(t, err)
	assert.Len(t, u.Discoveries, 1)
}

func TestCanceledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Caches().List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.WithinTx(ctx, func(context.Context, repository.Unit) error { return nil }), context.Canceled)
}
