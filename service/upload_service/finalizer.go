package upload_service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"starmus-recorder/database"
	"starmus-recorder/logging"
	"starmus-recorder/model"
	"starmus-recorder/model/dao"
	"starmus-recorder/storage"

	"go.uber.org/zap"
)

// FinalizeState finalization progress, logged on every transition
type FinalizeState string

const (
	StatePendingBytes FinalizeState = "PENDING_BYTES"
	StateValidating   FinalizeState = "VALIDATING"
	StateRejected     FinalizeState = "REJECTED"
	StatePromoting    FinalizeState = "PROMOTING"
	StateFailed       FinalizeState = "FAILED"
	StateAssetCreated FinalizeState = "ASSET_CREATED"
	StateRolledBack   FinalizeState = "ROLLED_BACK"
	StateLinked       FinalizeState = "LINKED"
	StateComplete     FinalizeState = "COMPLETE"
)

// storedExtensions file extension used for each stored MIME type
var storedExtensions = map[string]string{
	"audio/webm": ".webm",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
	"audio/flac": ".flac",
}

// FinalizeInput a complete payload waiting to become a submission
type FinalizeInput struct {
	TempPath         string
	UploadKey        string
	UploadId         string // empty for fallback uploads
	AuthorId         uint64
	DeclaredFilename string
	ChunkCount       int
	Fields           SubmissionFields // already sanitized
}

// FinalResult response of a finished submission. Field names follow the
// attachment/post wording existing clients expect.
type FinalResult struct {
	AttachmentId int64  `json:"attachment_id"`
	PostId       int64  `json:"post_id"`
	Url          string `json:"url"`
	RedirectUrl  string `json:"redirect_url"`

	// Duplicate is set when an earlier finalization of the same upload was returned
	Duplicate bool `json:"-"`
}

// Finalizer turns a complete temp file into a linked SubmissionRecord + MediaAsset
type Finalizer struct {
	records          *dao.SubmissionRecordDAO
	assets           *dao.MediaAssetDAO
	storage          storage.Storage
	observers        []CompletionObserver
	redirectTemplate string
	logger           *logging.Logger
	now              func() time.Time
}

func NewFinalizer(records *dao.SubmissionRecordDAO, assets *dao.MediaAssetDAO, store storage.Storage,
	redirectTemplate string, logger *logging.Logger, observers ...CompletionObserver) *Finalizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Finalizer{
		records:          records,
		assets:           assets,
		storage:          store,
		observers:        observers,
		redirectTemplate: redirectTemplate,
		logger:           logger,
		now:              time.Now,
	}
}

// AddObserver registers a completion observer. Not safe once requests are served.
func (f *Finalizer) AddObserver(o CompletionObserver) {
	f.observers = append(f.observers, o)
}

// Existing returns the result of an earlier finalization of uploadKey, nil when none
func (f *Finalizer) Existing(ctx context.Context, uploadKey string) (*FinalResult, error) {
	record, err := f.records.GetByUploadKey(ctx, uploadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up upload %s: %w", uploadKey, err)
	}
	if record == nil {
		return nil, nil
	}
	return f.resultForExisting(ctx, record)
}

func (f *Finalizer) resultForExisting(ctx context.Context, record *model.SubmissionRecord) (*FinalResult, error) {
	if record.Status != model.SubmissionStatusPublished || record.AssetId == 0 {
		return nil, fmt.Errorf("%w: earlier finalization of record %d ended in status %s", ErrLinkFailed, record.ID, record.Status)
	}
	asset, err := f.assets.GetByID(ctx, record.AssetId)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %d: %w", record.AssetId, err)
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: asset %d of record %d is missing", ErrLinkFailed, record.AssetId, record.ID)
	}
	result := f.result(record.ID, asset.ID, asset.Url)
	result.Duplicate = true
	return result, nil
}

func (f *Finalizer) result(recordID, assetID int64, url string) *FinalResult {
	return &FinalResult{
		AttachmentId: assetID,
		PostId:       recordID,
		Url:          url,
		RedirectUrl:  f.redirectURL(recordID, assetID),
	}
}

func (f *Finalizer) redirectURL(recordID, assetID int64) string {
	if f.redirectTemplate == "" {
		return ""
	}
	return strings.NewReplacer(
		"{record_id}", strconv.FormatInt(recordID, 10),
		"{asset_id}", strconv.FormatInt(assetID, 10),
	).Replace(f.redirectTemplate)
}

func (f *Finalizer) transition(ctx context.Context, in FinalizeInput, state FinalizeState, fields ...zap.Field) {
	f.logger.Debug(ctx, "finalize state",
		append(fields, zap.String("state", string(state)), zap.String("upload_key", in.UploadKey))...)
}

// Finalize runs the state machine for one attempt. Callers hold the upload lock.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (*FinalResult, error) {
	f.transition(ctx, in, StatePendingBytes)

	existing, err := f.Existing(ctx, in.UploadKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		removeQuietly(in.TempPath)
		f.logger.Info(ctx, "upload already finalized, returning existing submission",
			zap.String("upload_key", in.UploadKey), zap.Int64("record_id", existing.PostId))
		return existing, nil
	}

	f.transition(ctx, in, StateValidating)
	kind, err := ValidateMime(in.TempPath, in.DeclaredFilename)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMediaType) {
			removeQuietly(in.TempPath)
			f.transition(ctx, in, StateRejected, zap.String("detected", kind.Detected))
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	size, checksum, err := fileDigest(in.TempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	f.transition(ctx, in, StatePromoting, zap.String("mime_type", kind.MimeType))
	storageKey, err := f.storage.Promote(ctx, in.TempPath, f.storedName(in, kind), kind.MimeType)
	if err != nil {
		f.transition(ctx, in, StateFailed, zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPromotionFailed, err)
	}

	asset := &model.MediaAsset{
		AuthorId:    in.AuthorId,
		FileName:    filepath.Base(storageKey),
		FileSize:    size,
		FileMd5:     checksum,
		MimeType:    kind.MimeType,
		StorageType: f.storage.Type(),
		StorageKey:  storageKey,
		Url:         f.storage.URL(storageKey),
	}
	if err := f.assets.Create(ctx, asset); err != nil {
		f.deleteBlob(ctx, storageKey)
		return nil, fmt.Errorf("%w: asset row: %v", ErrRecordCreateFailed, err)
	}
	f.transition(ctx, in, StateAssetCreated, zap.Int64("asset_id", asset.ID))

	record := &model.SubmissionRecord{
		Kind:      model.KindAudioRecording,
		UploadKey: in.UploadKey,
		Title:     f.title(in.Fields.Title),
		AuthorId:  in.AuthorId,
		Status:    model.SubmissionStatusDraft,
	}
	if err := f.records.Create(ctx, record); err != nil {
		f.rollbackAsset(ctx, asset)
		f.transition(ctx, in, StateRolledBack, zap.Error(err))
		if errors.Is(err, database.ErrDuplicateKey) {
			// lost a race with another finalizer for the same upload
			return f.Existing(ctx, in.UploadKey)
		}
		return nil, fmt.Errorf("%w: %v", ErrRecordCreateFailed, err)
	}

	if err := f.records.Link(ctx, record.ID, asset.ID); err != nil {
		f.markFailed(ctx, record.ID)
		return nil, fmt.Errorf("%w: %v", ErrLinkFailed, err)
	}
	f.transition(ctx, in, StateLinked, zap.Int64("record_id", record.ID), zap.Int64("asset_id", asset.ID))

	meta := f.metadata(in, record.Title)
	if err := f.assets.MergeMeta(ctx, asset.ID, meta); err != nil {
		f.markFailed(ctx, record.ID)
		return nil, fmt.Errorf("%w: asset metadata: %v", ErrLinkFailed, err)
	}
	if err := f.records.Publish(ctx, record.ID, meta); err != nil {
		f.markFailed(ctx, record.ID)
		return nil, fmt.Errorf("%w: record metadata: %v", ErrLinkFailed, err)
	}

	f.transition(ctx, in, StateComplete, zap.Int64("record_id", record.ID), zap.Int64("asset_id", asset.ID))
	notifyObservers(ctx, f.logger, f.observers, SubmissionCompleted{
		RecordID:    record.ID,
		AssetID:     asset.ID,
		AuthorID:    in.AuthorId,
		UploadKey:   in.UploadKey,
		MimeType:    asset.MimeType,
		FileSize:    asset.FileSize,
		Url:         asset.Url,
		CompletedAt: f.now(),
	})

	return f.result(record.ID, asset.ID, asset.Url), nil
}

// rollbackAsset removes the asset row and its blob. Runs even if the request was cancelled.
func (f *Finalizer) rollbackAsset(ctx context.Context, asset *model.MediaAsset) {
	ctx = context.WithoutCancel(ctx)
	if err := f.assets.Delete(ctx, asset.ID); err != nil {
		f.logger.Error(ctx, "rollback: failed to delete asset row",
			zap.Int64("asset_id", asset.ID), zap.Error(err))
	}
	f.deleteBlob(ctx, asset.StorageKey)
}

func (f *Finalizer) deleteBlob(ctx context.Context, key string) {
	if err := f.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
		f.logger.Error(ctx, "rollback: failed to delete stored file",
			zap.String("storage_key", key), zap.Error(err))
	}
}

func (f *Finalizer) markFailed(ctx context.Context, recordID int64) {
	if err := f.records.UpdateStatus(context.WithoutCancel(ctx), recordID, model.SubmissionStatusFailed); err != nil {
		f.logger.Error(ctx, "failed to mark submission failed",
			zap.Int64("record_id", recordID), zap.Error(err))
	}
}

func (f *Finalizer) title(title string) string {
	if title != "" {
		return title
	}
	return "Audio recording " + f.now().Format("2006-01-02 15:04")
}

func (f *Finalizer) metadata(in FinalizeInput, title string) map[string]string {
	meta := map[string]string{
		model.MetaTitle: title,
	}
	if in.Fields.Language != "" {
		meta[model.MetaLanguage] = in.Fields.Language
	}
	if in.Fields.RecordingType != "" {
		meta[model.MetaRecordingType] = in.Fields.RecordingType
	}
	if in.Fields.Telemetry != "" {
		meta[model.MetaTelemetry] = in.Fields.Telemetry
	}
	if in.UploadId != "" {
		meta[model.MetaUploadId] = in.UploadId
		meta[model.MetaChunkCount] = strconv.Itoa(in.ChunkCount)
	}
	if name := SanitizeOriginalFilename(in.DeclaredFilename); name != "" {
		meta[model.MetaOriginalFilename] = name
	}
	return meta
}

// storedName picks the permanent file name: client stem when given, upload id
// otherwise, with the extension of the sniffed type
func (f *Finalizer) storedName(in FinalizeInput, kind MimeKind) string {
	stem := ""
	if in.DeclaredFilename != "" {
		base := filepath.Base(strings.ReplaceAll(in.DeclaredFilename, "\\", "/"))
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if stem == "" || stem == "." {
		stem = in.UploadId
	}
	if stem == "" {
		stem = "recording"
	}
	ext, ok := storedExtensions[kind.MimeType]
	if !ok {
		ext = kind.Extension
	}
	return stem + ext
}

func fileDigest(path string) (int64, string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer fh.Close()
	h := md5.New()
	n, err := io.Copy(h, fh)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	// the sweeper reclaims anything left behind
	_ = os.Remove(path)
}
