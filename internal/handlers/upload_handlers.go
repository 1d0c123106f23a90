package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"tutor-chat/internal/models"
	"tutor-chat/internal/uploads"
	"tutor-chat/pkg/logger"
)

type UploadHandlers struct {
	uploader *uploads.Uploader
	maxBytes int64
}

func NewUploadHandlers(uploader *uploads.Uploader, maxBytes int64) *UploadHandlers {
	return &UploadHandlers{uploader: uploader, maxBytes: maxBytes}
}

// Upload accepts a multipart form with a single "file" field and returns
// the file metadata to attach to a file or image message.
func (h *UploadHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	kind := models.MessageType(mux.Vars(r)["kind"])

	if h.maxBytes > 0 {
		// leave room for the multipart envelope
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	meta, err := h.uploader.Store(r.Context(), kind, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, meta)
	case errors.Is(err, uploads.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, uploads.ErrInvalidKind), errors.Is(err, uploads.ErrNotImage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("Upload error: %v", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
	}
}
