package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Storage AWS S3 compatible storage (supports AWS S3 and MinIO)
type S3Storage struct {
	client      *s3.Client
	bucket      string
	region      string
	endpoint    string
	domain      string
	partSize    int64
	storageType string
	now         func() time.Time
}

// NewS3Storage create S3 storage instance
func NewS3Storage(region, endpoint, accessKey, secretKey, bucketName, domain string, partSize int64) (*S3Storage, error) {
	if accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrInvalid
	}
	if partSize < 5*1024*1024 {
		partSize = 5 * 1024 * 1024 // S3 minimum part size
	}

	ctx := context.Background()

	// Create credentials
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if endpoint != "" {
		// Custom endpoint (for MinIO or S3-compatible services)
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	} else {
		client = s3.NewFromConfig(cfg)
	}

	return &S3Storage{
		client:      client,
		bucket:      bucketName,
		region:      region,
		endpoint:    endpoint,
		domain:      domain,
		partSize:    partSize,
		storageType: "s3",
		now:         time.Now,
	}, nil
}

// NewMinIOStorage create MinIO storage instance (S3Storage with path style addressing)
func NewMinIOStorage(endpoint, accessKey, secretKey, bucketName string, useSSL bool, domain string, partSize int64) (*S3Storage, error) {
	if endpoint == "" {
		return nil, ErrInvalid
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}
	// MinIO uses "us-east-1" as default region, but it doesn't really matter
	s, err := NewS3Storage("us-east-1", endpoint, accessKey, secretKey, bucketName, domain, partSize)
	if err != nil {
		return nil, err
	}
	s.storageType = "minio"
	return s, nil
}

func (s *S3Storage) Type() string {
	return s.storageType
}

// uniqueKey builds media/{yyyy}/{mm}/{stem}-{rand}{ext} and probes until unused
func (s *S3Storage) uniqueKey(ctx context.Context, name string) (string, error) {
	name = SanitizeFileName(name)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	prefix := "media/" + datedPrefix(s.now())
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		key := fmt.Sprintf("%s/%s-%s%s", prefix, stem, uuid.NewString()[:8], ext)
		if !s.Exists(ctx, key) {
			return key, nil
		}
	}
	return "", fmt.Errorf("failed to find a free key for %s", name)
}

// Promote uploads srcPath (multipart above partSize) and removes it afterwards
func (s *S3Storage) Promote(ctx context.Context, srcPath, name, contentType string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat source file: %w", err)
	}

	key, err := s.uniqueKey(ctx, name)
	if err != nil {
		return "", err
	}

	if info.Size() <= s.partSize {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType),
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload to s3: %w", err)
		}
	} else if err := s.multipartUpload(ctx, key, contentType, f); err != nil {
		return "", err
	}

	// object is stored; a temp file that cannot be removed is left for the sweeper
	f.Close()
	os.Remove(srcPath)
	return key, nil
}

func (s *S3Storage) multipartUpload(ctx context.Context, key, contentType string, r io.Reader) error {
	uploadId, err := s.initiateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return err
	}

	var parts []PartInfo
	buf := make([]byte, s.partSize)
	for partNumber := 1; ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			etag, err := s.uploadPart(ctx, key, uploadId, partNumber, buf[:n])
			if err != nil {
				s.abortMultipartUpload(context.Background(), key, uploadId)
				return err
			}
			parts = append(parts, PartInfo{PartNumber: partNumber, ETag: etag, Size: int64(n)})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			s.abortMultipartUpload(context.Background(), key, uploadId)
			return fmt.Errorf("failed to read source file: %w", readErr)
		}
	}

	if err := s.completeMultipartUpload(ctx, key, uploadId, parts); err != nil {
		s.abortMultipartUpload(context.Background(), key, uploadId)
		return err
	}
	return nil
}

// initiateMultipartUpload initiate multipart upload
func (s *S3Storage) initiateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	return *result.UploadId, nil
}

// uploadPart upload a part
func (s *S3Storage) uploadPart(ctx context.Context, key, uploadId string, partNumber int, data []byte) (string, error) {
	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadId),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	return *result.ETag, nil
}

// completeMultipartUpload complete multipart upload
func (s *S3Storage) completeMultipartUpload(ctx context.Context, key, uploadId string, parts []PartInfo) error {
	completedParts := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completedParts = append(completedParts, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}

	sort.Slice(completedParts, func(i, j int) bool {
		return *completedParts[i].PartNumber < *completedParts[j].PartNumber
	})

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// abortMultipartUpload abort multipart upload
func (s *S3Storage) abortMultipartUpload(ctx context.Context, key, uploadId string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadId),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	return nil
}

// Delete delete file from S3
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}

	return nil
}

// Exists check if file exists in S3
func (s *S3Storage) Exists(ctx context.Context, key string) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	return err == nil
}

func (s *S3Storage) URL(key string) string {
	switch {
	case s.domain != "":
		return joinURL(s.domain, key)
	case s.endpoint != "":
		return joinURL(joinURL(s.endpoint, s.bucket), key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}
