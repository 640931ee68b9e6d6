package upload_service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempFileSuffix marks in-flight chunked uploads in the staging directory
const TempFileSuffix = ".part"

// ChunkStore stages base64 chunks into {dir}/{upload_id}.part, append only
type ChunkStore struct {
	dir         string
	maxFileSize int64
}

func NewChunkStore(dir string, maxFileSize int64) *ChunkStore {
	return &ChunkStore{dir: dir, maxFileSize: maxFileSize}
}

// Dir staging directory
func (cs *ChunkStore) Dir() string {
	return cs.dir
}

// EnsureDirectory creates the staging directory tree, idempotent
func (cs *ChunkStore) EnsureDirectory() error {
	if err := os.MkdirAll(cs.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// PathFor builds the temp path. The id is checked before any path is built.
func (cs *ChunkStore) PathFor(uploadID string) (string, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return "", err
	}
	return filepath.Join(cs.dir, uploadID+TempFileSuffix), nil
}

// Append decodes payload and appends it with a single write. Returns the temp
// path and the total bytes received so far.
func (cs *ChunkStore) Append(uploadID, payload string) (string, int64, error) {
	path, err := cs.PathFor(uploadID)
	if err != nil {
		return "", 0, err
	}

	data, err := decodeChunk(payload)
	if err != nil {
		return "", 0, err
	}

	if err := cs.EnsureDirectory(); err != nil {
		return "", 0, err
	}

	current, err := fileSize(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if cs.maxFileSize > 0 && current+int64(len(data)) > cs.maxFileSize {
		return path, current, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, current+int64(len(data)), cs.maxFileSize)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	n, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil {
		return path, current + int64(n), fmt.Errorf("%w: %v", ErrWriteFailed, writeErr)
	}
	if closeErr != nil {
		return path, current + int64(n), fmt.Errorf("%w: %v", ErrWriteFailed, closeErr)
	}
	return path, current + int64(n), nil
}

// Size bytes received so far, 0 when nothing has been staged
func (cs *ChunkStore) Size(uploadID string) (int64, error) {
	path, err := cs.PathFor(uploadID)
	if err != nil {
		return 0, err
	}
	return fileSize(path)
}

// Remove deletes the temp file, missing files are not an error
func (cs *ChunkStore) Remove(uploadID string) error {
	path, err := cs.PathFor(uploadID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// decodeChunk strict base64 decode. A browser data URL prefix is tolerated.
func decodeChunk(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, "base64,"); i >= 0 {
			payload = payload[i+len("base64,"):]
		}
	}
	data, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunkEncoding, err)
	}
	return data, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
