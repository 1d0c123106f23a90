// Package uploads stores files attached to chat messages and describes
// them with the metadata a file or image message carries.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tutor-chat/internal/config"
	"tutor-chat/internal/models"
)

var (
	ErrTooLarge    = errors.New("file too large")
	ErrInvalidKind = errors.New("invalid upload kind")
	ErrNotImage    = errors.New("file is not an image")
)

// Storage persists an uploaded object under name and returns its public URL.
type Storage interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, mimeType string) (string, error)
}

// Uploader validates uploads and hands them to a Storage.
type Uploader struct {
	store    Storage
	maxBytes int64
}

func NewUploader(store Storage, maxBytes int64) *Uploader {
	return &Uploader{store: store, maxBytes: maxBytes}
}

// New builds the Storage selected by cfg.Backend.
func New(ctx context.Context, cfg config.UploadsConfig) (Storage, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket:  cfg.S3Bucket,
			Region:  cfg.S3Region,
			Prefix:  cfg.S3Prefix,
			BaseURL: cfg.PublicBaseURL,
		})
	case "local", "":
		return NewLocalStorage(cfg.Dir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported upload backend %q", cfg.Backend)
	}
}

// Store saves one file of the given kind ("file" or "image").
func (u *Uploader) Store(ctx context.Context, kind models.MessageType, fileName string, body io.Reader, size int64, mimeType string) (*models.FileMeta, error) {
	if kind != models.MessageTypeFile && kind != models.MessageTypeImage {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if u.maxBytes > 0 && size > u.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, u.maxBytes)
	}

	fileName = path.Base(filepath.ToSlash(strings.TrimSpace(fileName)))
	ext := strings.ToLower(path.Ext(fileName))
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mimeType = byExt
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if kind == models.MessageTypeImage && !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}

	// cap the read so a lying Content-Length cannot exceed the limit
	if u.maxBytes > 0 {
		body = io.LimitReader(body, u.maxBytes+1)
	}

	name := uuid.NewString() + ext
	url, err := u.store.Put(ctx, name, body, size, mimeType)
	if err != nil {
		return nil, err
	}

	return &models.FileMeta{
		URL:      url,
		Name:     fileName,
		Size:     size,
		MimeType: mimeType,
	}, nil
}
