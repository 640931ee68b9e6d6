package upload_service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"starmus-recorder/logging"
	"starmus-recorder/model"
	"starmus-recorder/model/dao"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CapabilityUploadFiles     = "upload_files"
	CapabilityEditOthersPosts = "edit_others_posts"

	// ChunkStatusReceived status of an acknowledged intermediate chunk
	ChunkStatusReceived = "chunk_received"

	maxAnnotationRegions   = 500
	maxAnnotationLabelSize = 200
	maxAnnotationIdSize    = 64
)

// Principal authenticated caller
type Principal struct {
	UserId       uint64
	Capabilities map[string]bool
}

// Can reports whether the caller holds capability
func (p *Principal) Can(capability string) bool {
	return p != nil && p.Capabilities[capability]
}

// ChunkAck response for a chunk that did not complete the upload
type ChunkAck struct {
	Status        string `json:"status"`        // chunk_received
	File          string `json:"file"`          // Temp file name
	BytesReceived int64  `json:"bytesReceived"` // Bytes staged so far
}

// ChunkResponse exactly one of Ack or Final is set
type ChunkResponse struct {
	Ack   *ChunkAck
	Final *FinalResult
}

// StatusResponse submission status
type StatusResponse struct {
	Id     int64  `json:"id"`
	Status string `json:"status"`
}

// AnnotationResponse saved annotation summary
type AnnotationResponse struct {
	Id      int64 `json:"id"`
	Regions int   `json:"regions"`
}

// UploadService submission orchestrator: rate limit, validate, stage, finalize
type UploadService struct {
	chunks            *ChunkStore
	submissionLimiter *RateLimiter
	annotationLimiter *RateLimiter
	locker            *UploadLocker
	finalizer         *Finalizer
	records           *dao.SubmissionRecordDAO
	enforceTotalSize  bool
	logger            *logging.Logger
}

// UploadServiceDeps collaborators of UploadService
type UploadServiceDeps struct {
	Chunks            *ChunkStore
	SubmissionLimiter *RateLimiter
	AnnotationLimiter *RateLimiter
	Locker            *UploadLocker
	Finalizer         *Finalizer
	Records           *dao.SubmissionRecordDAO
	EnforceTotalSize  bool
	Logger            *logging.Logger
}

// NewUploadService create upload service instance
func NewUploadService(deps UploadServiceDeps) *UploadService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &UploadService{
		chunks:            deps.Chunks,
		submissionLimiter: deps.SubmissionLimiter,
		annotationLimiter: deps.AnnotationLimiter,
		locker:            deps.Locker,
		finalizer:         deps.Finalizer,
		records:           deps.Records,
		enforceTotalSize:  deps.EnforceTotalSize,
		logger:            logger,
	}
}

// HandleChunk stages one chunk and finalizes the upload on the last one
func (s *UploadService) HandleChunk(ctx context.Context, user *Principal, req *ChunkRequest) (*ChunkResponse, error) {
	if err := ValidateChunkRequest(req); err != nil {
		return nil, err
	}
	fields := SanitizeFields(req.Fields)
	uploadKey := model.UploadKeyForChunked(user.UserId, req.UploadId)

	unlock, err := s.locker.Lock(ctx, uploadKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.IsLastChunk {
		existing, err := s.finalizer.Existing(ctx, uploadKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.chunks.Remove(req.UploadId); err != nil {
				s.logger.Warn(ctx, "failed to remove stray temp file", zap.String("upload_id", req.UploadId), zap.Error(err))
			}
			return &ChunkResponse{Final: existing}, nil
		}
	}

	// a chunk that opens a new temp file starts an upload attempt, whatever
	// chunk_index the client sent
	staged, err := s.chunks.Size(req.UploadId)
	if err != nil {
		return nil, err
	}
	if staged == 0 {
		if err := s.submissionLimiter.CheckAndIncrement(ctx, user.UserId); err != nil {
			return nil, err
		}
	}

	path, received, err := s.chunks.Append(req.UploadId, req.Data)
	if err != nil {
		return nil, err
	}

	if !req.IsLastChunk {
		return &ChunkResponse{Ack: &ChunkAck{
			Status:        ChunkStatusReceived,
			File:          filepath.Base(path),
			BytesReceived: received,
		}}, nil
	}

	if s.enforceTotalSize && req.TotalSize != nil && *req.TotalSize != received {
		return nil, fmt.Errorf("%w: declared %d, received %d", ErrSizeMismatch, *req.TotalSize, received)
	}

	s.logger.Info(ctx, "upload complete, finalizing",
		zap.String("upload_id", req.UploadId), zap.Uint64("author_id", user.UserId),
		zap.Int64("bytes", received), zap.Int("chunks", *req.ChunkIndex+1))

	final, err := s.finalizer.Finalize(ctx, FinalizeInput{
		TempPath:         path,
		UploadKey:        uploadKey,
		UploadId:         req.UploadId,
		AuthorId:         user.UserId,
		DeclaredFilename: req.Filename,
		ChunkCount:       *req.ChunkIndex + 1,
		Fields:           fields,
	})
	if err != nil {
		return nil, err
	}
	return &ChunkResponse{Final: final}, nil
}

// FallbackSpooler writes the transport's file body to path and describes it.
// It runs only once the attempt has been admitted by the rate limiter.
type FallbackSpooler func(path string) (*FallbackRequest, error)

// newFallbackSpoolPath temp path for a whole-file upload. It carries the
// staging suffix so the sweeper reclaims it after a crash.
func (s *UploadService) newFallbackSpoolPath() (string, error) {
	if err := s.chunks.EnsureDirectory(); err != nil {
		return "", err
	}
	return s.chunks.PathFor("fallback-" + uuid.NewString())
}

// HandleFallbackUpload admits a whole-file upload, lets spool write it to the
// staging directory and finalizes it. Nothing is read or written before the
// rate limiter allows the attempt.
func (s *UploadService) HandleFallbackUpload(ctx context.Context, user *Principal, spool FallbackSpooler) (*FinalResult, error) {
	if err := s.submissionLimiter.CheckAndIncrement(ctx, user.UserId); err != nil {
		return nil, err
	}

	spoolPath, err := s.newFallbackSpoolPath()
	if err != nil {
		return nil, err
	}
	// no-op once the finalizer has moved the file
	defer removeQuietly(spoolPath)

	req, err := spool(spoolPath)
	if err != nil {
		return nil, err
	}
	if req != nil {
		req.FilePath = spoolPath
	}
	if err := ValidateFallbackRequest(req); err != nil {
		return nil, err
	}
	if max := s.chunks.maxFileSize; max > 0 && req.Size > max {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, req.Size, max)
	}

	uploadKey := "fallback-" + uuid.NewString()
	unlock, err := s.locker.Lock(ctx, uploadKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.logger.Info(ctx, "fallback upload received, finalizing",
		zap.Uint64("author_id", user.UserId), zap.Int64("bytes", req.Size))

	return s.finalizer.Finalize(ctx, FinalizeInput{
		TempPath:         req.FilePath,
		UploadKey:        uploadKey,
		AuthorId:         user.UserId,
		DeclaredFilename: req.Filename,
		Fields:           SanitizeFields(req.Fields),
	})
}

// HandleStatus returns the status of a submission the caller may see
func (s *UploadService) HandleStatus(ctx context.Context, user *Principal, id int64) (*StatusResponse, error) {
	view, err := s.authorizedRecord(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{Id: view.ID, Status: string(view.Status)}, nil
}

// SaveAnnotations replaces the annotation regions stored on a submission
func (s *UploadService) SaveAnnotations(ctx context.Context, user *Principal, id int64, regions []model.AnnotationRegion) (*AnnotationResponse, error) {
	if err := s.annotationLimiter.CheckAndIncrement(ctx, user.UserId); err != nil {
		return nil, err
	}
	cleaned, err := validateAnnotations(regions)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizedRecord(ctx, user, id); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotations: %w", err)
	}
	if err := s.records.SetMeta(ctx, id, model.MetaAnnotations, string(encoded)); err != nil {
		return nil, fmt.Errorf("failed to save annotations on record %d: %w", id, err)
	}
	return &AnnotationResponse{Id: id, Regions: len(cleaned)}, nil
}

// authorizedRecord loads an audio submission and checks the caller may access it.
// Missing records and records of another kind both read as not found.
func (s *UploadService) authorizedRecord(ctx context.Context, user *Principal, id int64) (*dao.RecordStatusView, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	view, err := s.records.GetStatusView(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	if view == nil || view.Kind != model.KindAudioRecording {
		return nil, ErrNotFound
	}
	if view.AuthorId != user.UserId && !user.Can(CapabilityEditOthersPosts) {
		return nil, ErrForbidden
	}
	return view, nil
}

func validateAnnotations(regions []model.AnnotationRegion) ([]model.AnnotationRegion, error) {
	if len(regions) > maxAnnotationRegions {
		return nil, &ValidationError{Code: ValidationInvalidField, Field: "annotations",
			Msg: fmt.Sprintf("at most %d regions", maxAnnotationRegions)}
	}
	cleaned := make([]model.AnnotationRegion, 0, len(regions))
	for i, r := range regions {
		field := fmt.Sprintf("annotations[%d]", i)
		if r.Start < 0 || r.End < 0 {
			return nil, &ValidationError{Code: ValidationInvalidField, Field: field, Msg: "negative time"}
		}
		if r.Start >= r.End {
			return nil, &ValidationError{Code: ValidationInvalidField, Field: field, Msg: "start must be before end"}
		}
		cleaned = append(cleaned, model.AnnotationRegion{
			Id:    sanitizeText(r.Id, maxAnnotationIdSize),
			Start: r.Start,
			End:   r.End,
			Label: sanitizeText(r.Label, maxAnnotationLabelSize),
		})
	}
	return cleaned, nil
}
