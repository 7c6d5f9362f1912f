package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"geocaching-backend/internal/apperrors"

	"github.com/rs/zerolog/hlog"
)

// MessageResponse is the body of acknowledgements
type MessageResponse struct {
	Message string `json:"message"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError maps err to its status and sends the error body. Server side
// failures are logged with the request id; clients only see a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := apperrors.MapErrorToHTTP(err)
	if httpErr.StatusCode >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}
	respondJSON(w, httpErr.StatusCode, httpErr.ToErrorResponse())
}

// decodeJSON reads a JSON body into v
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is empty")
		}
		return apperrors.Validation("invalid request body: %v", err)
	}
	return nil
}

// streamBlob copies a stored object to the response
func streamBlob(w http.ResponseWriter, r *http.Request, body io.ReadCloser, contentType string) {
	defer body.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to stream blob")
	}
}

// looseString accepts a JSON string or number. Clients send coordinates and
// difficulty either way.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = looseString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a number or a string, got %s", data)
	}
	*l = looseString(n)
	return nil
}

func (l *looseString) ptr() *string {
	if l == nil {
		return nil
	}
	s := string(*l)
	return &s
}
