package services

import (
	"io"
	"strings"

	"geocaching-backend/internal/apperrors"
)

// Upload is a file received from a client
type Upload struct {
	ContentType string
	Body        io.Reader
	Size        int64
}

func (u Upload) validateImage(maxBytes int64) error {
	if u.Body == nil || u.Size <= 0 {
		return apperrors.Validation("file is empty")
	}
	if u.Size > maxBytes {
		return apperrors.Validation("file exceeds %d bytes", maxBytes)
	}
	if !strings.HasPrefix(u.ContentType, "image/") {
		return apperrors.Validation("only image files are accepted")
	}
	return nil
}
