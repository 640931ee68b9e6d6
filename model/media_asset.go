package model

import (
	"strconv"
	"time"
)

// MediaAsset a stored audio binary and its storage metadata
type MediaAsset struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	RecordId int64  `gorm:"index;default:0" json:"record_id"` // Parent SubmissionRecord, 0 until linked
	AuthorId uint64 `gorm:"index" json:"author_id"`

	// File information
	FileName string `gorm:"type:varchar(255)" json:"file_name"` // Stored file name
	FileSize int64  `json:"file_size"`
	FileMd5  string `gorm:"type:varchar(64)" json:"file_md5"`
	MimeType string `gorm:"type:varchar(100)" json:"mime_type"` // Sniffed, always in the audio allowlist

	// Storage information
	StorageType string `gorm:"type:varchar(20)" json:"storage_type"` // local/s3/minio/oss
	StorageKey  string `gorm:"type:varchar(500)" json:"storage_key"`
	Url         string `gorm:"type:varchar(1000)" json:"url"`

	Meta map[string]string `gorm:"serializer:json;type:text" json:"meta"`

	// Timestamps
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets custom table name
func (MediaAsset) TableName() string {
	return "tb_media_asset"
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
