package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// OSSStorage Alibaba Cloud OSS storage
type OSSStorage struct {
	bucket   *oss.Bucket
	endpoint string
	domain   string
	now      func() time.Time
}

// NewOSSStorage create OSS storage instance
func NewOSSStorage(endpoint, accessKey, secretKey, bucketName, domain string) (*OSSStorage, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrInvalid
	}

	// Create OSS client instance
	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}

	// Get storage bucket
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStorage{
		bucket:   bucket,
		endpoint: endpoint,
		domain:   domain,
		now:      time.Now,
	}, nil
}

func (s *OSSStorage) Type() string {
	return "oss"
}

// Promote uploads srcPath under a fresh key and removes it afterwards
func (s *OSSStorage) Promote(ctx context.Context, srcPath, name, contentType string) (string, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return "", fmt.Errorf("failed to stat source file: %w", err)
	}

	name = SanitizeFileName(name)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	prefix := "media/" + datedPrefix(s.now())

	var key string
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate := fmt.Sprintf("%s/%s-%s%s", prefix, stem, uuid.NewString()[:8], ext)
		if !s.Exists(ctx, candidate) {
			key = candidate
			break
		}
	}
	if key == "" {
		return "", fmt.Errorf("failed to find a free key for %s", name)
	}

	err := s.bucket.PutObjectFromFile(key, srcPath,
		oss.ContentType(contentType),
		oss.ForbidOverWrite(true),
		oss.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload to oss: %w", err)
	}

	os.Remove(srcPath)
	return key, nil
}

// Delete delete file from OSS
func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	err := s.bucket.DeleteObject(key, oss.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete from oss: %w", err)
	}
	return nil
}

// Exists check if file exists in OSS
func (s *OSSStorage) Exists(ctx context.Context, key string) bool {
	exists, err := s.bucket.IsObjectExist(key, oss.WithContext(ctx))
	if err != nil {
		return false
	}
	return exists
}

func (s *OSSStorage) URL(key string) string {
	if s.domain != "" {
		return joinURL(s.domain, key)
	}
	host := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucket.BucketName, host, key)
}
