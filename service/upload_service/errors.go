package upload_service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStorageUnavailable      = errors.New("staging storage unavailable")
	ErrInvalidIdentifierFormat = errors.New("invalid identifier format")
	ErrInvalidChunkEncoding    = errors.New("invalid chunk encoding")
	ErrWriteFailed             = errors.New("chunk write failed")
	ErrFileTooLarge            = errors.New("file too large")
	ErrUnsupportedMediaType    = errors.New("unsupported media type")
	ErrSizeMismatch            = errors.New("received size does not match declared total size")
	ErrRateLimited             = errors.New("rate limited")
	ErrUploadBusy              = errors.New("upload busy")
	ErrPromotionFailed         = errors.New("promotion to permanent storage failed")
	ErrRecordCreateFailed      = errors.New("submission record creation failed")
	ErrLinkFailed              = errors.New("linking record and asset failed")
	ErrNotFound                = errors.New("submission not found")
	ErrForbidden               = errors.New("not allowed to access submission")
)

// ValidationCode tags why a request was rejected
type ValidationCode string

const (
	ValidationMissingField            ValidationCode = "MissingField"
	ValidationInvalidIdentifierFormat ValidationCode = "InvalidIdentifierFormat"
	ValidationInvalidField            ValidationCode = "InvalidField"
)

// ValidationError is returned by the validator instead of panicking or logging
type ValidationError struct {
	Code  ValidationCode
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Field)
}

// Unwrap lets errors.Is(err, ErrInvalidIdentifierFormat) match identifier failures
func (e *ValidationError) Unwrap() error {
	if e.Code == ValidationInvalidIdentifierFormat {
		return ErrInvalidIdentifierFormat
	}
	return nil
}

// RateLimitError carries the retry-after hint for a rejected attempt
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
