// Package attachments validates chat file uploads and hands them to a
// storage backend.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMaxSize is the upload ceiling when none is configured.
const DefaultMaxSize int64 = 50 << 20

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrTooLarge        = errors.New("file is too large")
	ErrUnsupportedType = errors.New("file type is not allowed")
)

// allowedTypes maps accepted MIME types to the extension stored files get.
var allowedTypes = []struct {
	mime string
	ext  string
}{
	{"application/pdf", ".pdf"},
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"application/msword", ".doc"},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
}

// File is an upload as received from the client.
type File struct {
	Name    string
	Content io.ReadSeeker
}

// Stored describes a saved attachment.
type Stored struct {
	Key         string
	URL         string
	Name        string
	ContentType string
	Size        int64
}

// Storage is a place attachments can be written to.
type Storage interface {
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker, size int64) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// Uploader validates files and stores them under collision-free names.
type Uploader struct {
	backend Storage
	maxSize int64
}

// NewUploader wraps a backend. maxSize <= 0 means DefaultMaxSize.
func NewUploader(backend Storage, maxSize int64) *Uploader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Uploader{backend: backend, maxSize: maxSize}
}

// Inspect reports the size and sniffed type of f and the stored extension.
// Content is rewound afterwards.
func (u *Uploader) Inspect(f File) (size int64, contentType, ext string, err error) {
	size, err = f.Content.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, "", "", fmt.Errorf("measure upload: %w", err)
	}
	if size == 0 {
		return 0, "", "", ErrEmptyFile
	}
	if size > u.maxSize {
		return size, "", "", ErrTooLarge
	}
	if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
		return 0, "", "", fmt.Errorf("rewind upload: %w", err)
	}

	mt, err := mimetype.DetectReader(f.Content)
	if err != nil {
		return 0, "", "", fmt.Errorf("sniff upload: %w", err)
	}
	if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
		return 0, "", "", fmt.Errorf("rewind upload: %w", err)
	}

	for _, t := range allowedTypes {
		if mt.Is(t.mime) {
			return size, t.mime, t.ext, nil
		}
	}
	return size, mt.String(), "", ErrUnsupportedType
}

// Save validates f and stores it as chat_<chatID>_<random><ext>.
func (u *Uploader) Save(ctx context.Context, chatID int64, f File) (*Stored, error) {
	size, contentType, ext, err := u.Inspect(f)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("chat_%d_%s%s", chatID, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	url, err := u.backend.Put(ctx, key, contentType, f.Content, size)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}

	return &Stored{
		Key:         key,
		URL:         url,
		Name:        DisplayName(f.Name, ext),
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Discard removes a stored attachment whose message could not be written.
func (u *Uploader) Discard(ctx context.Context, s *Stored) error {
	return u.backend.Delete(ctx, s.Key)
}

// DisplayName strips any client path from name, falling back to a generic
// label.
func DisplayName(name, ext string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "attachment" + ext
	}
	if r := []rune(name); len(r) > 120 {
		name = string(r[:120])
	}
	return name
}

// IsValidation reports whether err is a client-side upload problem rather
// than a storage failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrUnsupportedType)
}
