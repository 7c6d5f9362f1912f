package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/auth"
	"geocaching-backend/internal/blob"
	"geocaching-backend/internal/handlers"
	"geocaching-backend/internal/models"
	"geocaching-backend/internal/proximity"
	"geocaching-backend/internal/repository/memory"
	"geocaching-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testServer struct {
	*httptest.Server
	discoveries *services.DiscoveryService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	blobs := blob.NewMemoryStore()
	hub := services.NewWSHub()

	users := services.NewUserService(store, blobs, auth.NewMemoryBlacklist(), "router-secret", time.Hour)
	caches := services.NewCacheService(store, proximity.NewBoundedFinder(store.Caches()), blobs, 0)
	discoveries := services.NewDiscoveryService(store, hub)
	rankings := services.NewRankingService(store)

	h := Handlers{
		Auth:      handlers.NewAuthHandler(users),
		Cache:     handlers.NewCacheHandler(caches, discoveries),
		Ranking:   handlers.NewRankingHandler(rankings),
		User:      handlers.NewUserHandler(users),
		WebSocket: handlers.NewWebSocketHandler(hub, users),
	}
	srv := httptest.NewServer(New(h, users, zerolog.Nop(), []string{"*"}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		discoveries.Wait()
	})
	return &testServer{Server: srv, discoveries: discoveries}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// signUp registers and logs in, returning the token and user id.
func (s *testServer) signUp(t *testing.T, email string) (string, string) {
	t.Helper()
	creds := map[string]string{"email": email, "password": "hunter22"}

	resp, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login services.LoginResult
	require.NoError(t, json.Unmarshal(body, &login))
	require.NotEmpty(t, login.Token)
	return login.Token, login.User.ID
}

func (s *testServer) createCache(t *testing.T, token string, body any) models.Cache {
	t.Helper()
	resp, data := s.do(t, http.MethodPost, "/api/v1/caches", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var c models.Cache
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Code
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, body := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.NotEmpty(t, resp.Header.Get("Request-Id"))
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	token, userID := srv.signUp(t, "Alice@Example.com")

	resp, body := srv.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "alice@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMAIL_TAKEN", errorCode(t, body))

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, userID, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.NotContains(t, string(body), "password")

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/caches", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, body := srv.send(t, req)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "UNAUTHENTICATED", errorCode(t, body))
		})
	}
}

func TestCacheLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ownerToken, ownerID := srv.signUp(t, "owner@example.com")
	finderToken, _ := srv.signUp(t, "finder@example.com")

	c := srv.createCache(t, ownerToken, map[string]any{
		"latitude": "44.8378", "longitude": -0.5792, "description": "under the bridge",
	})
	assert.Equal(t, ownerID, c.CreatorID)
	assert.Equal(t, 3, c.Difficulty)
	assert.Empty(t, c.Discoveries)

	resp, body := srv.do(t, http.MethodPost, "/api/v1/caches", ownerToken, map[string]any{"latitude": "abc", "longitude": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Cache
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/nearby?latitude=44.84&longitude=-0.58&radius=2", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/nearby?latitude=48.85&longitude=2.35", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = srv.do(t, http.MethodPut, "/api/v1/caches/"+c.ID, finderToken, map[string]any{"difficulty": 5})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))

	resp, body = srv.do(t, http.MethodPut, "/api/v1/caches/"+c.ID, ownerToken, map[string]any{
		"coordinates": map[string]any{"latitude": 45, "longitude": "-0.5"},
		"difficulty":  "4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated models.Cache
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, models.Coordinates{Latitude: 45, Longitude: -0.5}, updated.Coordinates)
	assert.Equal(t, 4, updated.Difficulty)
	assert.Equal(t, "under the bridge", updated.Description)

	resp, body = srv.do(t, http.MethodPost, "/api/v1/caches/"+c.ID+"/found", ownerToken, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "SELF_DISCOVERY_FORBIDDEN", errorCode(t, body))

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/caches/"+c.ID+"/found", finderToken, map[string]string{"commentaire": "super"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodPost, "/api/v1/caches/"+c.ID+"/found", finderToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_DISCOVERED", errorCode(t, body))

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/"+c.ID, finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Cache
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Discoveries, 1)
	assert.Equal(t, "super", got.Discoveries[0].Comment)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/users/ranking", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board []models.LeaderboardEntry
	require.NoError(t, json.Unmarshal(body, &board))
	require.Len(t, board, 2)
	assert.Equal(t, "finder@example.com", board[0].Email)
	assert.Equal(t, 1, board[0].DiscoveryCount)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/rarely-found", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rare []models.CacheRank
	require.NoError(t, json.Unmarshal(body, &rare))
	assert.Equal(t, []models.CacheRank{{ID: c.ID, FoundByCount: 1}}, rare)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/popular", finderToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/caches/"+c.ID, finderToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/caches/"+c.ID, ownerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/caches/"+c.ID, ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/caches/not-a-uuid", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "image.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateCacheWithPhoto(t *testing.T) {
	srv := newTestServer(t)
	token, _ := srv.signUp(t, "owner@example.com")

	body, contentType := multipartBody(t, map[string]string{
		"latitude": "44.8", "longitude": "-0.5", "difficulty": "2",
	}, "photo", pngHeader)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/caches", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, data := srv.send(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var c models.Cache
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, 2, c.Difficulty)
	assert.Equal(t, "/api/v1/caches/"+c.ID+"/photo", c.PhotoURL)

	resp, data = srv.do(t, http.MethodGet, c.PhotoURL, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, pngHeader, data)

	body, contentType = multipartBody(t, map[string]string{"latitude": "1", "longitude": "1"}, "photo", []byte("just text"))
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/api/v1/caches", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, data = srv.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, data))
}

func TestAvatarAndPushToken(t *testing.T) {
	srv := newTestServer(t)
	token, userID := srv.signUp(t, "owner@example.com")

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/users/avatar/"+userID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, contentType := multipartBody(t, nil, "avatar", pngHeader)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/users/avatar", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, data := srv.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = srv.do(t, http.MethodGet, "/api/v1/users/avatar/"+userID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pngHeader, data)

	body, contentType = multipartBody(t, nil, "", nil)
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/api/v1/users/avatar", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = srv.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPut, "/api/v1/users/push-token", token, map[string]string{"token": "device-1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWebSocketReceivesCacheFound(t *testing.T) {
	srv := newTestServer(t)
	ownerToken, _ := srv.signUp(t, "owner@example.com")
	finderToken, finderID := srv.signUp(t, "finder@example.com")
	c := srv.createCache(t, ownerToken, map[string]any{"latitude": 10, "longitude": 10})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token="
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+ownerToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() services.WSMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg services.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, "connected", read().Type)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "ping"}))
	assert.Equal(t, "pong", read().Type)

	resp2, _ := srv.do(t, http.MethodPost, "/api/v1/caches/"+c.ID+"/found", finderToken, map[string]string{"comment": "nice"})
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	msg := read()
	assert.Equal(t, "cache_found", msg.Type)
	assert.Equal(t, c.ID, msg.CacheID)
	assert.Equal(t, finderID, msg.FinderID)
	assert.Equal(t, "nice", msg.Comment)
}
