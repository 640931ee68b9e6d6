package upload_service

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
)

const (
	maxUploadIDLength     = 128
	maxTitleLength        = 200
	maxLanguageLength     = 35
	maxRecordingTypeLen   = 64
	maxTelemetryBytes     = 16 * 1024
	maxOriginalNameLength = 255
)

var (
	uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// audioAllowlist sniffed types accepted as-is, mapped to the stored MIME type
var audioAllowlist = map[string]string{
	"audio/webm":  "audio/webm",
	"audio/ogg":   "audio/ogg",
	"audio/mpeg":  "audio/mpeg",
	"audio/wav":   "audio/wav",
	"audio/x-wav": "audio/wav",
	"audio/wave":  "audio/wav",
	"audio/mp4":   "audio/mp4",
	"audio/x-m4a": "audio/mp4",
	"audio/aac":   "audio/aac",
	"audio/flac":  "audio/flac",
}

// containerAudio container formats sniffed as video that browsers use for audio
// only recordings. Accepted when the declared extension says audio.
var containerAudio = map[string]struct {
	mimeType   string
	extensions []string
}{
	"video/webm": {"audio/webm", []string{".webm", ".weba"}},
	"video/mp4":  {"audio/mp4", []string{".m4a", ".mp4"}},
}

// SubmissionFields free-form metadata sent with an upload
type SubmissionFields struct {
	Title         string
	Language      string
	RecordingType string
	Telemetry     string
}

// ChunkRequest one chunk of a resumable upload
type ChunkRequest struct {
	UploadId    string
	ChunkIndex  *int
	Data        string // base64
	IsLastChunk bool
	TotalSize   *int64
	Filename    string
	Fields      SubmissionFields
}

// FallbackRequest a whole-file upload already spooled to disk by the transport
type FallbackRequest struct {
	FilePath string
	Filename string
	Size     int64
	Fields   SubmissionFields
}

// MimeKind result of content sniffing
type MimeKind struct {
	MimeType  string // stored type, always from the allowlist
	Detected  string // raw sniffed type
	Extension string
}

// ValidateUploadID rejects ids outside [A-Za-z0-9_-]+, which rules out
// path separators, "..", NUL and the empty string.
func ValidateUploadID(uploadID string) error {
	if uploadID == "" || len(uploadID) > maxUploadIDLength || !uploadIDPattern.MatchString(uploadID) {
		return &ValidationError{Code: ValidationInvalidIdentifierFormat, Field: "upload_id"}
	}
	return nil
}

// ValidateChunkRequest structural checks done before any storage side effect
func ValidateChunkRequest(req *ChunkRequest) error {
	if req == nil || req.UploadId == "" {
		return &ValidationError{Code: ValidationMissingField, Field: "upload_id"}
	}
	if req.ChunkIndex == nil {
		return &ValidationError{Code: ValidationMissingField, Field: "chunk_index"}
	}
	if *req.ChunkIndex < 0 {
		return &ValidationError{Code: ValidationInvalidField, Field: "chunk_index", Msg: "must not be negative"}
	}
	if err := ValidateUploadID(req.UploadId); err != nil {
		return err
	}
	if req.Data == "" {
		return &ValidationError{Code: ValidationMissingField, Field: "data"}
	}
	if req.TotalSize != nil && *req.TotalSize < 0 {
		return &ValidationError{Code: ValidationInvalidField, Field: "total_size", Msg: "must not be negative"}
	}
	return validateTelemetry(req.Fields.Telemetry)
}

// ValidateFallbackRequest requires a non-empty spooled file
func ValidateFallbackRequest(req *FallbackRequest) error {
	if req == nil || req.FilePath == "" {
		return &ValidationError{Code: ValidationMissingField, Field: "audio_file"}
	}
	if req.Size <= 0 {
		return &ValidationError{Code: ValidationInvalidField, Field: "audio_file", Msg: "file is empty"}
	}
	return validateTelemetry(req.Fields.Telemetry)
}

func validateTelemetry(telemetry string) error {
	telemetry = strings.TrimSpace(telemetry)
	if telemetry == "" {
		return nil
	}
	if len(telemetry) > maxTelemetryBytes {
		return &ValidationError{Code: ValidationInvalidField, Field: "telemetry", Msg: "too large"}
	}
	if !gjson.Valid(telemetry) {
		return &ValidationError{Code: ValidationInvalidField, Field: "telemetry", Msg: "not valid JSON"}
	}
	if parsed := gjson.Parse(telemetry); !parsed.IsObject() && !parsed.IsArray() {
		return &ValidationError{Code: ValidationInvalidField, Field: "telemetry", Msg: "must be a JSON object or array"}
	}
	return nil
}

// ValidateMime sniffs the file content and checks it against the audio allowlist.
// The client declared type is never consulted, only the filename extension for
// container formats.
func ValidateMime(path, declaredFilename string) (MimeKind, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return MimeKind{}, fmt.Errorf("failed to sniff %s: %w", filepath.Base(path), err)
	}
	detected, _, parseErr := mime.ParseMediaType(m.String())
	if parseErr != nil {
		detected = m.String()
	}

	if stored, ok := audioAllowlist[detected]; ok {
		return MimeKind{MimeType: stored, Detected: detected, Extension: m.Extension()}, nil
	}

	if container, ok := containerAudio[detected]; ok {
		ext := strings.ToLower(filepath.Ext(declaredFilename))
		// chunked uploads without a filename come from the browser recorder
		if declaredFilename == "" {
			return MimeKind{MimeType: container.mimeType, Detected: detected, Extension: m.Extension()}, nil
		}
		for _, allowed := range container.extensions {
			if ext == allowed {
				return MimeKind{MimeType: container.mimeType, Detected: detected, Extension: ext}, nil
			}
		}
	}

	return MimeKind{Detected: detected}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, detected)
}

// SanitizeFields strips tags and control characters, trims and caps lengths
func SanitizeFields(f SubmissionFields) SubmissionFields {
	return SubmissionFields{
		Title:         sanitizeText(f.Title, maxTitleLength),
		Language:      sanitizeText(f.Language, maxLanguageLength),
		RecordingType: sanitizeText(f.RecordingType, maxRecordingTypeLen),
		Telemetry:     strings.TrimSpace(f.Telemetry),
	}
}

// SanitizeOriginalFilename keeps the client name for bookkeeping only
func SanitizeOriginalFilename(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return sanitizeText(filepath.Base(strings.ReplaceAll(name, "\\", "/")), maxOriginalNameLength)
}

func sanitizeText(s string, maxRunes int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			if unicode.IsSpace(r) {
				return ' '
			}
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return strings.TrimSpace(s)
}
