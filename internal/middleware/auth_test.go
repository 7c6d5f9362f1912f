package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (*jwt.RegisteredClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &jwt.RegisteredClaims{Subject: "user-1", ID: "jti-1"}, nil
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		assert.Equal(t, "jti-1", GetClaims(r.Context()).ID)
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AuthMiddleware(stubValidator{})(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer good", http.StatusNoContent},
		{"lower case scheme", "bearer good", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"no scheme", "good", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"rejected token", "Bearer bad", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, "user-1", seen)
			} else {
				assert.Empty(t, seen)
				assert.JSONEq(t, `{"error":"`+errorMessage(tt.header)+`","code":"UNAUTHENTICATED"}`, rec.Body.String())
			}
		})
	}
}

func errorMessage(header string) string {
	switch header {
	case "":
		return "authorization header required"
	case "Bearer bad":
		return "invalid or expired token"
	default:
		return "invalid authorization header format"
	}
}

func TestGetUserID_NoClaims(t *testing.T) {
	assert.Empty(t, GetUserID(context.Background()))
	assert.Nil(t, GetClaims(context.Background()))
}
