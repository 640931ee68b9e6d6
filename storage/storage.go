package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"starmus-recorder/conf"
)

// Storage unified permanent storage interface for promoted media
type Storage interface {
	// Promote moves the file at srcPath into permanent storage under a key derived
	// from name, never overwriting an existing object. On success srcPath is gone;
	// on failure it is left in place.
	Promote(ctx context.Context, srcPath, name, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
	// URL resolves the public URL of a stored key
	URL(key string) string
	// Type returns the backend name recorded on assets (local, s3, minio, oss)
	Type() string
}

// PartInfo part information for multipart upload
type PartInfo struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

var (
	ErrNotFound = errors.New("file not found")
	ErrInvalid  = errors.New("invalid storage configuration")
)

// maxNameAttempts bounds the collision suffix loop
const maxNameAttempts = 1000

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewStorage create storage instance by configuration
func NewStorage(cfg conf.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStorage(cfg.Local.BasePath, cfg.PublicBaseUrl)
	case "oss":
		return NewOSSStorage(cfg.OSS.Endpoint, cfg.OSS.AccessKey,
			cfg.OSS.SecretKey, cfg.OSS.Bucket, cfg.OSS.Domain)
	case "s3":
		return NewS3Storage(cfg.S3.Region, cfg.S3.Endpoint,
			cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.Domain, cfg.S3.PartSize)
	case "minio":
		return NewMinIOStorage(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey,
			cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, cfg.MinIO.Domain, cfg.S3.PartSize)
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrInvalid, cfg.Type)
	}
}

// SanitizeFileName reduces a client supplied name to a safe base name
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, ".-")
	if name == "" {
		name = "recording"
	}
	if len(name) > 120 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:120-len(ext)] + ext
	}
	return name
}

// datedPrefix returns the {yyyy}/{mm} directory assets are grouped under
func datedPrefix(now time.Time) string {
	return fmt.Sprintf("%04d/%02d", now.Year(), int(now.Month()))
}

// candidateName returns name for attempt 0 and name-{attempt} after that
func candidateName(name string, attempt int) string {
	if attempt == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%d%s", stem, attempt, ext)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
