package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"slideshow/internal/models"
)

// ImageStore keeps uploaded images as files in a single directory.
type ImageStore struct {
	basePath string
}

// NewImageStore creates an image store rooted at basePath.
func NewImageStore(basePath string) *ImageStore {
	return &ImageStore{basePath: basePath}
}

// EnsureDir creates the image directory if it doesn't exist.
func (s *ImageStore) EnsureDir() error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create image directory %s: %w", s.basePath, err)
	}
	return nil
}

// Save writes data to a new file called name. It fails with
// models.ErrDuplicateName if the file already exists.
func (s *ImageStore) Save(name string, data io.Reader) (int64, error) {
	filePath, err := s.Path(name)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %s", models.ErrDuplicateName, name)
		}
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Path returns where name lives on disk. Names that would escape the
// image directory are rejected.
func (s *ImageStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(s.basePath, name), nil
}

// Stat returns the path of an existing image or models.ErrImageNotFound.
func (s *ImageStore) Stat(name string) (string, error) {
	filePath, err := s.Path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", models.ErrImageNotFound, name)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", models.ErrImageNotFound, name)
	}
	return filePath, nil
}

// ReadFile loads the whole image into memory.
func (s *ImageStore) ReadFile(name string) ([]byte, error) {
	filePath, err := s.Stat(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrImageNotFound, name)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes a stored image. Missing files are not an error.
func (s *ImageStore) Delete(name string) error {
	filePath, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}
