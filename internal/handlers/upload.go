package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/services"
)

// multipartOverhead leaves room for form fields next to the file itself.
const multipartOverhead = 1 << 20

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseMultipart bounds the request body and parses the form.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxFile int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFile+multipartOverhead)
	if err := r.ParseMultipartForm(maxFile + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Validation("file exceeds %d bytes", maxFile)
		}
		return apperrors.Validation("invalid multipart form: %v", err)
	}
	return nil
}

// formUpload returns the file sent under field, or nil when absent. The
// content type is sniffed from the first bytes, client headers are ignored.
func formUpload(r *http.Request, field string) (*services.Upload, func(), error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, apperrors.Validation("invalid %s file: %v", field, err)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		file.Close()
		return nil, func() {}, apperrors.Validation("failed to read %s file: %v", field, err)
	}
	head = head[:n]

	upload := &services.Upload{
		ContentType: http.DetectContentType(head),
		Body:        io.MultiReader(bytes.NewReader(head), file),
		Size:        header.Size,
	}
	return upload, func() { file.Close() }, nil
}
