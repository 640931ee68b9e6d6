package database

import (
	"context"

	"starmus-recorder/model"
)

// Database interface for different database implementations
type Database interface {
	// SubmissionRecord operations
	// CreateSubmissionRecord returns ErrDuplicateKey when upload_key is taken
	CreateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error
	GetSubmissionRecordByID(ctx context.Context, id int64) (*model.SubmissionRecord, error)
	GetSubmissionRecordByUploadKey(ctx context.Context, uploadKey string) (*model.SubmissionRecord, error)
	UpdateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error
	DeleteSubmissionRecord(ctx context.Context, id int64) error
	CountSubmissionRecordsByStatus(ctx context.Context, status model.SubmissionStatus) (int64, error)

	// MediaAsset operations
	CreateMediaAsset(ctx context.Context, asset *model.MediaAsset) error
	GetMediaAssetByID(ctx context.Context, id int64) (*model.MediaAsset, error)
	UpdateMediaAsset(ctx context.Context, asset *model.MediaAsset) error
	DeleteMediaAsset(ctx context.Context, id int64) error

	// LinkSubmission sets record.asset_id and asset.record_id together
	LinkSubmission(ctx context.Context, recordID, assetID int64) error

	// General operations
	Close() error
}

// DBType database type
type DBType string

const (
	DBTypeMySQL  DBType = "mysql"
	DBTypePebble DBType = "pebble"
)

// NewDatabase create database with specified type
func NewDatabase(dbType DBType, config interface{}) (Database, error) {
	switch dbType {
	case DBTypeMySQL:
		return NewMySQLDatabase(config)
	case DBTypePebble:
		return NewPebbleDatabase(config)
	default:
		return nil, ErrUnsupportedDBType
	}
}
