package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/auth"
	"geocaching-backend/internal/blob"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTokenTTL is the lifetime of issued tokens.
	DefaultTokenTTL = 24 * time.Hour
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	// MaxPasswordBytes is the most bcrypt will hash.
	MaxPasswordBytes = 72
	// MaxAvatarBytes caps avatar uploads.
	MaxAvatarBytes = 5 << 20
)

// UserService handles registration, credentials and profile data
type UserService struct {
	store     repository.Store
	blobs     blob.Store
	blacklist auth.Blacklist
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(
	store repository.Store,
	blobs blob.Store,
	blacklist auth.Blacklist,
	jwtSecret string,
	tokenTTL time.Duration,
) *UserService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &UserService{
		store:     store,
		blobs:     blobs,
		blacklist: blacklist,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// LoginResult is returned on successful login
type LoginResult struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// UserSummary identifies a user in auth responses
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperrors.Validation("email %q is not valid", email)
	}
	if len(password) < MinPasswordLength {
		return nil, apperrors.Validation("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return nil, apperrors.Validation("password must be at most %d bytes", MaxPasswordBytes)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Discoveries:  []models.HistoryEntry{},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Msg("User registered")
	return user, nil
}

// Login checks credentials and issues a token
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperrors.ErrInvalidCredentials
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Token: token,
		User:  UserSummary{ID: user.ID, Email: user.Email},
	}, nil
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken verifies signature, expiry and revocation of a token and
// returns its claims. Every failure wraps apperrors.ErrUnauthenticated.
func (s *UserService) ValidateToken(ctx context.Context, tokenString string) (*jwt.RegisteredClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token required", apperrors.ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject not found in token", apperrors.ErrUnauthenticated)
	}

	if claims.ID != "" {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", apperrors.ErrUnauthenticated)
		}
	}
	return claims, nil
}

// Logout revokes the token described by claims until it would have expired
func (s *UserService) Logout(ctx context.Context, claims *jwt.RegisteredClaims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if err := s.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
		return err
	}
	log.Info().Str("user_id", claims.Subject).Msg("User logged out")
	return nil
}

// Me returns the profile of the authenticated user
func (s *UserService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.AvatarURL = AvatarURL(user)
	return user, nil
}

// UploadAvatar replaces the avatar of a user
func (s *UserService) UploadAvatar(ctx context.Context, userID string, upload Upload) error {
	if err := upload.validateImage(MaxAvatarBytes); err != nil {
		return err
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("avatars/%s/%s", userID, uuid.New().String())
	if err := s.blobs.Put(ctx, key, upload.ContentType, upload.Body, upload.Size); err != nil {
		return fmt.Errorf("failed to store avatar: %w", err)
	}

	if err := s.store.Users().UpdateAvatar(ctx, userID, key, upload.ContentType); err != nil {
		deleteBlob(s.blobs, key)
		return err
	}

	if user.AvatarKey != "" {
		deleteBlob(s.blobs, user.AvatarKey)
	}

	log.Info().Str("user_id", userID).Int64("size", upload.Size).Msg("Avatar uploaded")
	return nil
}

// OpenAvatar streams the avatar of any user
func (s *UserService) OpenAvatar(ctx context.Context, userID string) (io.ReadCloser, string, error) {
	if err := checkID("user", userID); err != nil {
		return nil, "", err
	}

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if user.AvatarKey == "" {
		return nil, "", fmt.Errorf("avatar %w", apperrors.ErrNotFound)
	}

	body, contentType, err := s.blobs.Open(ctx, user.AvatarKey)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = user.AvatarContentType
	}
	return body, contentType, nil
}

// UpdatePushToken registers the APNs device token of a user. An empty token
// clears it.
func (s *UserService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	pushToken = strings.TrimSpace(pushToken)
	var token *string
	if pushToken != "" {
		token = &pushToken
	}
	return s.store.Users().UpdatePushToken(ctx, userID, token)
}

// AvatarURL is the public download path of a user's avatar, nil when the user
// has none.
func AvatarURL(u *models.User) *string {
	if u.AvatarKey == "" {
		return nil
	}
	url := "/api/v1/users/avatar/" + u.ID
	return &url
}
