package services

import (
	"context"
	"fmt"
	"testing"

	"geocaching-backend/internal/auth"
	"geocaching-backend/internal/blob"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/proximity"
	"geocaching-backend/internal/repository/memory"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fixture struct {
	store       *memory.Store
	blobs       *blob.MemoryStore
	blacklist   *auth.MemoryBlacklist
	users       *UserService
	caches      *CacheService
	discoveries *DiscoveryService
	rankings    *RankingService
}

func newFixture(t *testing.T, notifier Notifier) *fixture {
	t.Helper()
	store := memory.NewStore()
	blobs := blob.NewMemoryStore()
	blacklist := auth.NewMemoryBlacklist()

	return &fixture{
		store:       store,
		blobs:       blobs,
		blacklist:   blacklist,
		users:       NewUserService(store, blobs, blacklist, testSecret, 0),
		caches:      NewCacheService(store, proximity.NewBoundedFinder(store.Caches()), blobs, 0),
		discoveries: NewDiscoveryService(store, notifier),
		rankings:    NewRankingService(store),
	}
}

func (f *fixture) register(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), email, "password")
	require.NoError(t, err)
	return u
}

func (f *fixture) createCache(t *testing.T, creatorID string, lat, lon float64) *models.Cache {
	t.Helper()
	c, err := f.caches.Create(context.Background(), creatorID, CacheInput{
		Latitude:  ptr(fmt.Sprint(lat)),
		Longitude: ptr(fmt.Sprint(lon)),
	}, nil)
	require.NoError(t, err)
	return c
}

func ptr(s string) *string { return &s }

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyCacheFound(ctx context.Context, event CacheFoundEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
