package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"
)

// LocalStorage local file system storage
type LocalStorage struct {
	basePath      string
	publicBaseUrl string
	now           func() time.Time
}

// NewLocalStorage create local storage instance
func NewLocalStorage(basePath, publicBaseUrl string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "./data/uploads/media"
	}

	// Ensure directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalStorage{
		basePath:      basePath,
		publicBaseUrl: publicBaseUrl,
		now:           time.Now,
	}, nil
}

// BasePath root directory served under the public media URL
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

func (s *LocalStorage) Type() string {
	return "local"
}

// Promote renames srcPath into {basePath}/{yyyy}/{mm}/. The target name is
// reserved with O_EXCL first so concurrent promotions never overwrite each other.
func (s *LocalStorage) Promote(ctx context.Context, srcPath, name, contentType string) (string, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return "", fmt.Errorf("failed to stat source file: %w", err)
	}

	prefix := datedPrefix(s.now())
	dir := filepath.Join(s.basePath, filepath.FromSlash(prefix))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	name = SanitizeFileName(name)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := candidateName(name, attempt)
		target := filepath.Join(dir, candidate)

		placeholder, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to reserve %s: %w", candidate, err)
		}
		placeholder.Close()

		if err := moveFile(srcPath, target); err != nil {
			os.Remove(target)
			return "", err
		}
		return path.Join(prefix, candidate), nil
	}
	return "", fmt.Errorf("failed to find a free name for %s after %d attempts", name, maxNameAttempts)
}

// moveFile renames src over the reserved target, copying when they live on different devices
func moveFile(src, target string) error {
	err := os.Rename(src, target)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("failed to rename into place: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy into place: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync target file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close target file: %w", err)
	}
	in.Close()
	return os.Remove(src)
}

// Delete delete file
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists check if file exists
func (s *LocalStorage) Exists(ctx context.Context, key string) bool {
	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))

	_, err := os.Stat(filePath)
	return err == nil
}

func (s *LocalStorage) URL(key string) string {
	return joinURL(s.publicBaseUrl, key)
}
