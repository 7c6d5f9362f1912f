package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"
)

// UserRepository keeps users in memory
type UserRepository struct {
	store *Store
	lock  func() func()
}

// Create stores a new user. Emails are unique.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	if _, ok := st.byEmail[user.Email]; ok {
		return fmt.Errorf("email %w", apperrors.ErrConflict)
	}
	if _, ok := st.users[user.ID]; ok {
		return fmt.Errorf("user id %w", apperrors.ErrConflict)
	}

	u := cloneUser(user)
	st.users[u.ID] = &userRecord{seq: st.next(), user: u}
	st.byEmail[u.Email] = u.ID
	st.onRollback(func() {
		delete(st.users, u.ID)
		delete(st.byEmail, u.Email)
	})
	return nil
}

// GetByID returns a copy of the user
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	rec, ok := r.store.state.users[id]
	if !ok {
		return nil, fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	return cloneUser(rec.user), nil
}

// GetByEmail returns a copy of the user registered with email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	st := r.store.state
	id, ok := st.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	return cloneUser(st.users[id].user), nil
}

// List returns every user in registration order
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock()()

	recs := make([]*userRecord, 0, len(r.store.state.users))
	for _, rec := range r.store.state.users {
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b *userRecord) int {
		return cmp.Compare(a.seq, b.seq)
	})

	users := make([]*models.User, len(recs))
	for i, rec := range recs {
		users[i] = cloneUser(rec.user)
	}
	return users, nil
}

// AddHistory appends to the user's discovery history
func (r *UserRepository) AddHistory(ctx context.Context, userID string, h models.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.users[userID]
	if !ok {
		return fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	for _, e := range rec.user.Discoveries {
		if e.CacheID == h.CacheID {
			return apperrors.ErrAlreadyDiscovered
		}
	}
	prev := rec.user.Discoveries
	rec.user.Discoveries = append(rec.user.Discoveries, h)
	st.onRollback(func() { rec.user.Discoveries = prev })
	return nil
}

// UpdateAvatar stores the blob reference of the user's avatar
func (r *UserRepository) UpdateAvatar(ctx context.Context, userID, key, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.users[userID]
	if !ok {
		return fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	prevKey, prevType := rec.user.AvatarKey, rec.user.AvatarContentType
	rec.user.AvatarKey = key
	rec.user.AvatarContentType = contentType
	st.onRollback(func() {
		rec.user.AvatarKey = prevKey
		rec.user.AvatarContentType = prevType
	})
	return nil
}

// UpdatePushToken sets or clears the push token of a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock()()

	st := r.store.state
	rec, ok := st.users[userID]
	if !ok {
		return fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	prev := rec.user.PushToken
	rec.user.PushToken = cloneString(pushToken)
	st.onRollback(func() { rec.user.PushToken = prev })
	return nil
}

func cloneUser(u *models.User) *models.User {
	out := *u
	out.Discoveries = make([]models.HistoryEntry, len(u.Discoveries))
	copy(out.Discoveries, u.Discoveries)
	out.AvatarURL = cloneString(u.AvatarURL)
	out.PushToken = cloneString(u.PushToken)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
