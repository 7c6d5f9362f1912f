// Package memory implements the repository contracts in process. Caches are
// indexed by an orb quadtree so that bounded lookups avoid a full scan.
package memory

import (
	"context"
	"sync"

	"geocaching-backend/internal/models"
	"geocaching-backend/internal/repository"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

var world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Store is an in-memory repository.Store. A single mutex guards all state;
// WithinTx holds it for the whole unit of work.
type Store struct {
	mu     sync.Mutex
	state  *state
	caches *CacheRepository
	users  *UserRepository
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{state: newState()}
	s.caches = &CacheRepository{store: s, lock: s.lock}
	s.users = &UserRepository{store: s, lock: s.lock}
	return s
}

// Caches returns the cache repository
func (s *Store) Caches() repository.CacheRepository {
	return s.caches
}

// Users returns the user repository
func (s *Store) Users() repository.UserRepository {
	return s.users
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func noLock() func() {
	return func() {}
}

type txUnit struct {
	caches *CacheRepository
	users  *UserRepository
}

func (u *txUnit) Caches() repository.CacheRepository { return u.caches }
func (u *txUnit) Users() repository.UserRepository   { return u.users }

// WithinTx runs fn while holding the store lock. If fn fails or panics, every
// change it made is undone in reverse order.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.journal = make([]func(), 0, 4)
	committed := false
	defer func() {
		if !committed {
			for i := len(st.journal) - 1; i >= 0; i-- {
				st.journal[i]()
			}
		}
		st.journal = nil
	}()

	unit := &txUnit{
		caches: &CacheRepository{store: s, lock: noLock},
		users:  &UserRepository{store: s, lock: noLock},
	}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	committed = true
	return nil
}

// cachePoint places a cache id in the quadtree.
type cachePoint struct {
	id string
	p  orb.Point
}

func (c cachePoint) Point() orb.Point { return c.p }

type cacheRecord struct {
	seq   int64
	cache *models.Cache
}

type userRecord struct {
	seq  int64
	user *models.User
}

type state struct {
	seq     int64
	caches  map[string]*cacheRecord
	tree    *quadtree.Quadtree
	users   map[string]*userRecord
	byEmail map[string]string
	// journal holds the undo steps of the running transaction, nil outside one.
	journal []func()
}

func newState() *state {
	return &state{
		caches:  make(map[string]*cacheRecord),
		tree:    quadtree.New(world),
		users:   make(map[string]*userRecord),
		byEmail: make(map[string]string),
	}
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

// onRollback records how to revert a mutation. Outside a transaction
// mutations are final and nothing is recorded.
func (st *state) onRollback(undo func()) {
	if st.journal != nil {
		st.journal = append(st.journal, undo)
	}
}
