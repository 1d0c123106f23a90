package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes uploads to a directory served by the API at
// baseURL, "/uploads" when unset.
type LocalStorage struct {
	dir     string
	baseURL string
}

func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalStorage{dir: dir, baseURL: baseURL}, nil
}

func (l *LocalStorage) Dir() string {
	return l.dir
}

func (l *LocalStorage) Put(ctx context.Context, name string, body io.Reader, size int64, mimeType string) (string, error) {
	target := filepath.Join(l.dir, filepath.Base(name))
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("write upload: got %d bytes, expected %d", written, size)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	return l.baseURL + "/" + filepath.Base(name), nil
}
