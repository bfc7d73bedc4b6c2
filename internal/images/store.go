package images

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ameliade/crosspost/internal/models"
)

// ErrImageNotFound is returned when a stored image cannot be found.
var ErrImageNotFound = errors.New("image not found")

// Store keeps draft images between save and upload. Implemented by
// FileStore; the interface keeps remote object storage possible without
// touching callers.
type Store interface {
	Save(image models.Image) (string, error)
	Load(name string) (models.Image, error)
	Delete(name string) error
}

// FileStore stores images as flat files in one directory, named by a
// generated id plus the original extension.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the image and returns its stored name.
func (s *FileStore) Save(image models.Image) (string, error) {
	ext := strings.ToLower(filepath.Ext(image.Filename))
	if ext == "" {
		ext = ".png"
	}
	name := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(s.dir, name), image.Bytes, 0o600); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	return name, nil
}

// Load reads a stored image back, reconstructing the mime type from the
// extension.
func (s *FileStore) Load(name string) (models.Image, error) {
	// Stored names are generated server-side, but never trust a name with
	// path separators in it.
	if name != filepath.Base(name) {
		return models.Image{}, ErrImageNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return models.Image{}, ErrImageNotFound
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to load image: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return models.Image{
		Bytes:    data,
		MimeType: mimeType,
		Filename: name,
	}, nil
}

// Delete removes a stored image. Deleting a missing image is not an error.
func (s *FileStore) Delete(name string) error {
	if name != filepath.Base(name) {
		return nil
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
