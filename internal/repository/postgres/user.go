package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, avatar_key, avatar_content_type, push_token, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db      Querier
	timeout time.Duration
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO users (id, email, password_hash, avatar_key, avatar_content_type, push_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.AvatarKey, user.AvatarContentType, user.PushToken, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translateError(err))
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by normalized email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepository) get(ctx context.Context, query, arg string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	user, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", translateError(err))
	}

	if err := r.attachHistory(ctx, []*models.User{user}); err != nil {
		return nil, err
	}
	return user, nil
}

// List retrieves every user in storage order with their history
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", translateError(err))
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", translateError(err))
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", translateError(err))
	}

	if err := r.attachHistory(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) attachHistory(ctx context.Context, users []*models.User) error {
	if len(users) == 0 {
		return nil
	}

	ids := make([]string, len(users))
	byID := make(map[string]*models.User, len(users))
	for i, u := range users {
		ids[i] = u.ID
		byID[u.ID] = u
	}

	query := `
		SELECT user_id, cache_id, comment, found_at
		FROM user_discoveries
		WHERE user_id = ANY($1)
		ORDER BY seq
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to get discovery history: %w", translateError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var h models.HistoryEntry
		if err := rows.Scan(&userID, &h.CacheID, &h.Comment, &h.FoundAt); err != nil {
			return fmt.Errorf("failed to scan history entry: %w", translateError(err))
		}
		if u, ok := byID[userID]; ok {
			u.Discoveries = append(u.Discoveries, h)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating history: %w", translateError(err))
	}
	return nil
}

// AddHistory appends an entry to the user's discovery history
func (r *UserRepository) AddHistory(ctx context.Context, userID string, h models.HistoryEntry) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO user_discoveries (user_id, cache_id, comment, found_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, userID, h.CacheID, h.Comment, h.FoundAt)
	if err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return apperrors.ErrAlreadyDiscovered
		case foreignKeyViolation:
			return fmt.Errorf("user %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to add history entry: %w", translateError(err))
	}
	return nil
}

// UpdateAvatar stores the blob reference of the user's avatar
func (r *UserRepository) UpdateAvatar(ctx context.Context, userID, key, contentType string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET avatar_key = $1, avatar_content_type = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, key, contentType, userID)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %w", translateError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	return nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", translateError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %w", apperrors.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.AvatarKey, &u.AvatarContentType, &u.PushToken, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Discoveries = make([]models.HistoryEntry, 0)
	return &u, nil
}
