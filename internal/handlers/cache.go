package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/middleware"
	"geocaching-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// CacheHandler handles cache related HTTP requests
type CacheHandler struct {
	cacheService     *services.CacheService
	discoveryService *services.DiscoveryService
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cacheService *services.CacheService, discoveryService *services.DiscoveryService) *CacheHandler {
	return &CacheHandler{
		cacheService:     cacheService,
		discoveryService: discoveryService,
	}
}

// CoordinatesRequest is the nested coordinates object of an update
type CoordinatesRequest struct {
	Latitude  *looseString `json:"latitude"`
	Longitude *looseString `json:"longitude"`
}

// CacheRequest is the body of cache create and update. Coordinates may be
// sent flat or nested.
type CacheRequest struct {
	Latitude    *looseString        `json:"latitude"`
	Longitude   *looseString        `json:"longitude"`
	Coordinates *CoordinatesRequest `json:"coordinates"`
	Difficulty  *looseString        `json:"difficulty"`
	Description *string             `json:"description"`
}

func (req CacheRequest) input() services.CacheInput {
	in := services.CacheInput{
		Latitude:    req.Latitude.ptr(),
		Longitude:   req.Longitude.ptr(),
		Difficulty:  req.Difficulty.ptr(),
		Description: req.Description,
	}
	if req.Coordinates != nil {
		in.Latitude = req.Coordinates.Latitude.ptr()
		in.Longitude = req.Coordinates.Longitude.ptr()
	}
	return in
}

// FoundRequest is the body of POST /caches/{id}/found
type FoundRequest struct {
	Comment     *string `json:"comment"`
	Commentaire *string `json:"commentaire"`
}

func (req FoundRequest) comment() string {
	switch {
	case req.Comment != nil:
		return *req.Comment
	case req.Commentaire != nil:
		return *req.Commentaire
	}
	return ""
}

// List handles GET /api/v1/caches
func (h *CacheHandler) List(w http.ResponseWriter, r *http.Request) {
	caches, err := h.cacheService.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, caches)
}

// Nearby handles GET /api/v1/caches/nearby
func (h *CacheHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	caches, err := h.cacheService.Nearby(r.Context(), query.Get("latitude"), query.Get("longitude"), query.Get("radius"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, caches)
}

// Get handles GET /api/v1/caches/{id}
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	cache, err := h.cacheService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cache)
}

// Photo handles GET /api/v1/caches/{id}/photo
func (h *CacheHandler) Photo(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := h.cacheService.OpenPhoto(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	streamBlob(w, r, body, contentType)
}

// Create handles POST /api/v1/caches. The body is JSON, or a multipart form
// with the same fields and an optional photo.
func (h *CacheHandler) Create(w http.ResponseWriter, r *http.Request) {
	var (
		in    services.CacheInput
		photo *services.Upload
	)

	if isMultipart(r) {
		if err := parseMultipart(w, r, services.MaxPhotoBytes); err != nil {
			respondError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		in = services.CacheInput{
			Latitude:    formValue(r, "latitude"),
			Longitude:   formValue(r, "longitude"),
			Difficulty:  formValue(r, "difficulty"),
			Description: formValue(r, "description"),
		}

		upload, closeFile, err := formUpload(r, "photo")
		if err != nil {
			respondError(w, r, err)
			return
		}
		defer closeFile()
		photo = upload
	} else {
		var req CacheRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		in = req.input()
	}

	cache, err := h.cacheService.Create(r.Context(), middleware.GetUserID(r.Context()), in, photo)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cache)
}

// Update handles PUT /api/v1/caches/{id}
func (h *CacheHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req CacheRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	cache, err := h.cacheService.Update(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.input())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cache)
}

// Delete handles DELETE /api/v1/caches/{id}
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.cacheService.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "cache deleted"})
}

// Found handles POST /api/v1/caches/{id}/found
func (h *CacheHandler) Found(w http.ResponseWriter, r *http.Request) {
	// the body is optional
	var req FoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, apperrors.Validation("invalid request body: %v", err))
		return
	}

	cacheID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if err := h.discoveryService.RecordDiscovery(r.Context(), cacheID, userID, req.comment()); err != nil {
		respondError(w, r, err)
		return
	}

	hlog.FromRequest(r).Debug().Str("cache_id", cacheID).Str("user_id", userID).Msg("Discovery recorded")
	respondJSON(w, http.StatusOK, MessageResponse{Message: "cache marked as found"})
}

// formValue returns a multipart field, or nil when the client did not send it.
func formValue(r *http.Request, key string) *string {
	values, ok := r.MultipartForm.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}
