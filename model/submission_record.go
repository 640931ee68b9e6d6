package model

import "time"

// SubmissionStatus submission record lifecycle status
type SubmissionStatus string

const (
	SubmissionStatusDraft     SubmissionStatus = "draft"     // Record created, asset not linked yet
	SubmissionStatusPublished SubmissionStatus = "published" // Record and asset linked, metadata written
	SubmissionStatusFailed    SubmissionStatus = "failed"    // Linking failed, left for manual cleanup
)

// KindAudioRecording the only record kind this service creates
const KindAudioRecording = "audio-recording"

// Metadata keys written on records and assets
const (
	MetaTitle            = "title"
	MetaLanguage         = "language"
	MetaRecordingType    = "recording_type"
	MetaTelemetry        = "telemetry"
	MetaUploadId         = "upload_id"
	MetaChunkCount       = "chunk_count"
	MetaOriginalFilename = "original_filename"
	MetaAnnotations      = "annotations"
)

// SubmissionRecord one user submission, linked 1:1 to a MediaAsset
type SubmissionRecord struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Kind      string `gorm:"type:varchar(50);index" json:"kind"`              // audio-recording
	UploadKey string `gorm:"uniqueIndex;type:varchar(191)" json:"upload_key"` // {author_id}:{upload_id} or fallback-{uuid}
	Title     string `gorm:"type:varchar(255)" json:"title"`                  // Sanitized title
	AuthorId  uint64 `gorm:"index" json:"author_id"`                          // Owner user id
	AssetId   int64  `gorm:"index;default:0" json:"asset_id"`                 // Linked MediaAsset, 0 until linked

	Status SubmissionStatus  `gorm:"type:varchar(20);default:'draft'" json:"status"` // draft/published/failed
	Meta   map[string]string `gorm:"serializer:json;type:text" json:"meta"`

	// Timestamps
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets custom table name
func (SubmissionRecord) TableName() string {
	return "tb_submission_record"
}

// UploadKeyForChunked natural key of a chunked upload session
func UploadKeyForChunked(authorId uint64, uploadId string) string {
	return formatUint(authorId) + ":" + uploadId
}
