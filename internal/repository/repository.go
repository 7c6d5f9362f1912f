// Package repository declares the storage contracts shared by the Postgres and
// in-memory implementations. Services depend on these interfaces only.
package repository

import (
	"context"

	"geocaching-backend/internal/models"

	"github.com/paulmach/orb"
)

// CacheRepository handles persistence of caches and their discoveries.
type CacheRepository interface {
	Create(ctx context.Context, cache *models.Cache) error
	GetByID(ctx context.Context, id string) (*models.Cache, error)
	// GetByIDForUpdate loads a cache and holds it until the surrounding
	// transaction ends. Outside a transaction it behaves like GetByID.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Cache, error)
	// List returns every cache in storage order.
	List(ctx context.Context) ([]*models.Cache, error)
	// ListInBound returns the caches whose coordinates fall inside b, in storage order.
	ListInBound(ctx context.Context, b orb.Bound) ([]*models.Cache, error)
	Update(ctx context.Context, cache *models.Cache) error
	Delete(ctx context.Context, id string) error
	AddDiscovery(ctx context.Context, cacheID string, d models.Discovery) error
}

// UserRepository handles persistence of users and their discovery history.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// List returns every user in storage order.
	List(ctx context.Context) ([]*models.User, error)
	AddHistory(ctx context.Context, userID string, h models.HistoryEntry) error
	UpdateAvatar(ctx context.Context, userID, key, contentType string) error
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// Unit gives access to the repositories bound to one connection or transaction.
type Unit interface {
	Caches() CacheRepository
	Users() UserRepository
}

// Store is the durable store. WithinTx runs fn in a single transaction: every
// write made through the Unit passed to fn is committed together or not at all.
type Store interface {
	Unit
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Unit) error) error
}
