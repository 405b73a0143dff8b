package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes attachments into a directory served under
// PublicBaseURL.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates dir if needed.
func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir is the directory files are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Put writes body to dir/key. Existing files are never overwritten.
func (s *LocalStorage) Put(ctx context.Context, key, _ string, body io.ReadSeeker, _ int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key != filepath.Base(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}

	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

// Delete removes dir/key; a missing file is not an error.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if key != filepath.Base(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
