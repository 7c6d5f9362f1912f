package handlers

import (
	"net/http"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/middleware"
	"geocaching-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// UserHandler handles user profile HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// PushTokenRequest is the body of PUT /api/v1/users/push-token
type PushTokenRequest struct {
	Token string `json:"token"`
}

// UploadAvatar handles POST /api/v1/users/avatar
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		respondError(w, r, apperrors.Validation("expected a multipart form with an avatar file"))
		return
	}
	if err := parseMultipart(w, r, services.MaxAvatarBytes); err != nil {
		respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, closeFile, err := formUpload(r, "avatar")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer closeFile()
	if upload == nil {
		respondError(w, r, apperrors.Validation("avatar file is required"))
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.userService.UploadAvatar(r.Context(), userID, *upload); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Message: "avatar updated"})
}

// Avatar handles GET /api/v1/users/avatar/{userId}
func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := h.userService.OpenAvatar(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	streamBlob(w, r, body, contentType)
}

// UpdatePushToken handles PUT /api/v1/users/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.userService.UpdatePushToken(r.Context(), userID, req.Token); err != nil {
		respondError(w, r, err)
		return
	}

	hlog.FromRequest(r).Debug().Str("user_id", userID).Bool("cleared", req.Token == "").Msg("Push token updated")
	w.WriteHeader(http.StatusNoContent)
}
