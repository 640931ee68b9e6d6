package database

import "errors"

var (
	// ErrNotFound no row / key for the lookup
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey unique upload_key violated by a concurrent finalize
	ErrDuplicateKey      = errors.New("duplicate upload key")
	ErrUnsupportedDBType = errors.New("unsupported database type")
)
