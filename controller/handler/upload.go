package handler

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"starmus-recorder/controller/middleware"
	"starmus-recorder/controller/respond"
	"starmus-recorder/logging"
	"starmus-recorder/model"
	"starmus-recorder/service/upload_service"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// multipartOverhead slack allowed on top of the max file size for form fields
const multipartOverhead = 1 << 20

// UploadHandler upload handler
type UploadHandler struct {
	uploadService *upload_service.UploadService
	maxFileSize   int64
	logger        *logging.Logger
}

// NewUploadHandler create upload handler instance
func NewUploadHandler(uploadService *upload_service.UploadService, maxFileSize int64, logger *logging.Logger) *UploadHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &UploadHandler{
		uploadService: uploadService,
		maxFileSize:   maxFileSize,
		logger:        logger,
	}
}

// bindJSONWithOptionalGzip handles JSON payloads that may be gzip-compressed.
// If the request header specifies gzip encoding, the body is decompressed before binding.
func bindJSONWithOptionalGzip(c *gin.Context, obj interface{}) error {
	encoding := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
	if strings.Contains(encoding, "gzip") {
		defer c.Request.Body.Close()

		gzipReader, err := gzip.NewReader(c.Request.Body)
		if err != nil {
			return err
		}
		defer gzipReader.Close()

		bodyBytes, err := io.ReadAll(gzipReader)
		if err != nil {
			return err
		}

		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		c.Request.ContentLength = int64(len(bodyBytes))
		c.Request.Header.Del("Content-Encoding")
	}

	return c.ShouldBindJSON(obj)
}

// ChunkUploadRequest one base64 chunk of a resumable recording upload
type ChunkUploadRequest struct {
	UploadId      string          `json:"upload_id" example:"abc123"`
	ChunkIndex    *int            `json:"chunk_index" example:"0"`
	Data          string          `json:"data" example:"UklGRiQAAABXQVZF"`
	IsLastChunk   bool            `json:"is_last_chunk" example:"false"`
	TotalSize     *int64          `json:"total_size,omitempty" example:"1048576"`
	Filename      string          `json:"filename,omitempty" example:"recording.webm"`
	Title         string          `json:"title,omitempty" example:"Dawn chorus"`
	Language      string          `json:"language,omitempty" example:"en"`
	RecordingType string          `json:"recording_type,omitempty" example:"field"`
	Telemetry     json.RawMessage `json:"telemetry,omitempty" swaggertype:"object"`
}

// telemetryString accepts telemetry as a JSON document or a JSON-encoded string
func telemetryString(raw []byte) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	parsed := gjson.ParseBytes(raw)
	switch parsed.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return parsed.String()
	default:
		return string(raw)
	}
}

func formFields(c *gin.Context) upload_service.SubmissionFields {
	return upload_service.SubmissionFields{
		Title:         c.PostForm("title"),
		Language:      c.PostForm("language"),
		RecordingType: c.PostForm("recording_type"),
		Telemetry:     c.PostForm("telemetry"),
	}
}

// UploadChunk upload one chunk
// @Summary      Upload recording chunk
// @Description  Appends a base64 chunk to the upload identified by upload_id. The chunk flagged is_last_chunk finalizes the upload and returns the submission. Gzip request bodies are accepted.
// @Tags         Recording Upload
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      ChunkUploadRequest  true  "Chunk"
// @Success      200      {object}  respond.Response{data=respond.ChunkAckResponse}  "Chunk stored; the last chunk returns respond.SubmissionResponse"
// @Failure      400      {object}  respond.Response  "Invalid parameters, encoding, media type or size"
// @Failure      409      {object}  respond.Response  "Upload busy, retry"
// @Failure      413      {object}  respond.Response  "File too large"
// @Failure      429      {object}  respond.Response  "Rate limited"
// @Failure      500      {object}  respond.Response  "Server error"
// @Router       /upload-chunk [post]
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	user, ok := middleware.PrincipalFrom(c)
	if !ok {
		respond.Unauthorized(c, "authentication required")
		return
	}

	var req ChunkUploadRequest
	if err := bindJSONWithOptionalGzip(c, &req); err != nil {
		respond.InvalidParam(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.uploadService.HandleChunk(c.Request.Context(), user, &upload_service.ChunkRequest{
		UploadId:    req.UploadId,
		ChunkIndex:  req.ChunkIndex,
		Data:        req.Data,
		IsLastChunk: req.IsLastChunk,
		TotalSize:   req.TotalSize,
		Filename:    req.Filename,
		Fields: upload_service.SubmissionFields{
			Title:         req.Title,
			Language:      req.Language,
			RecordingType: req.RecordingType,
			Telemetry:     telemetryString(req.Telemetry),
		},
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if resp.Final != nil {
		respond.Success(c, respond.ToSubmissionResponse(resp.Final))
		return
	}
	respond.Success(c, respond.ToChunkAckResponse(resp.Ack))
}

// UploadFallback whole-file upload
// @Summary      Upload recording in one request
// @Description  Fallback for clients that cannot upload in chunks. The file is sniffed and finalized immediately.
// @Tags         Recording Upload
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        audio_file      formData  file    true   "Audio file"
// @Param        title           formData  string  false  "Title"
// @Param        language        formData  string  false  "Language tag"
// @Param        recording_type  formData  string  false  "Recording type"
// @Param        telemetry       formData  string  false  "Session/device telemetry JSON"
// @Success      200  {object}  respond.Response{data=respond.SubmissionResponse}  "Upload finalized"
// @Failure      400  {object}  respond.Response  "Invalid parameters or media type"
// @Failure      413  {object}  respond.Response  "File too large"
// @Failure      429  {object}  respond.Response  "Rate limited"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /upload-fallback [post]
func (h *UploadHandler) UploadFallback(c *gin.Context) {
	user, ok := middleware.PrincipalFrom(c)
	if !ok {
		respond.Unauthorized(c, "authentication required")
		return
	}

	// the body is only parsed once the attempt has been admitted
	result, err := h.uploadService.HandleFallbackUpload(c.Request.Context(), user, func(path string) (*upload_service.FallbackRequest, error) {
		return h.spoolFallback(c, path)
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Success(c, respond.ToSubmissionResponse(result))
}

// spoolFallback parses the multipart body and saves audio_file to path
func (h *UploadHandler) spoolFallback(c *gin.Context, path string) (*upload_service.FallbackRequest, error) {
	if h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	}
	header, err := c.FormFile("audio_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, upload_service.ErrFileTooLarge
		}
		return nil, &upload_service.ValidationError{Code: upload_service.ValidationMissingField, Field: "audio_file"}
	}
	if err := c.SaveUploadedFile(header, path); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, upload_service.ErrFileTooLarge
		}
		return nil, fmt.Errorf("%w: %v", upload_service.ErrWriteFailed, err)
	}
	return &upload_service.FallbackRequest{
		Filename: header.Filename,
		Size:     header.Size,
		Fields:   formFields(c),
	}, nil
}

// GetStatus submission status
// @Summary      Get submission status
// @Tags         Recording Upload
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Submission id (post_id)"
// @Success      200  {object}  respond.Response{data=respond.StatusResponse}
// @Failure      403  {object}  respond.Response  "Not allowed"
// @Failure      404  {object}  respond.Response  "Not found"
// @Failure      500  {object}  respond.Response  "Server error"
// @Router       /status/{id} [get]
func (h *UploadHandler) GetStatus(c *gin.Context) {
	user, ok := middleware.PrincipalFrom(c)
	if !ok {
		respond.Unauthorized(c, "authentication required")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.NotFound(c, "submission not found")
		return
	}

	status, err := h.uploadService.HandleStatus(c.Request.Context(), user, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Success(c, respond.ToStatusResponse(status))
}

// SaveAnnotations replace annotation regions
// @Summary      Save waveform annotations
// @Description  Replaces the annotation regions stored on a submission. At most 500 regions; start must be before end.
// @Tags         Recording Upload
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      int                       true  "Submission id (post_id)"
// @Param        request  body      []model.AnnotationRegion  true  "Regions"
// @Success      200      {object}  respond.Response{data=respond.AnnotationSaveResponse}
// @Failure      400      {object}  respond.Response  "Invalid regions"
// @Failure      403      {object}  respond.Response  "Not allowed"
// @Failure      404      {object}  respond.Response  "Not found"
// @Failure      429      {object}  respond.Response  "Rate limited"
// @Router       /recordings/{id}/annotations [post]
func (h *UploadHandler) SaveAnnotations(c *gin.Context) {
	user, ok := middleware.PrincipalFrom(c)
	if !ok {
		respond.Unauthorized(c, "authentication required")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.NotFound(c, "submission not found")
		return
	}

	var regions []model.AnnotationRegion
	if err := bindJSONWithOptionalGzip(c, &regions); err != nil {
		respond.InvalidParam(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.uploadService.SaveAnnotations(c.Request.Context(), user, id, regions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Success(c, respond.ToAnnotationSaveResponse(resp))
}

// writeError maps service errors to responses. Unexpected errors are logged
// and reported without internal details.
func (h *UploadHandler) writeError(c *gin.Context, err error) {
	var validationErr *upload_service.ValidationError
	var rateErr *upload_service.RateLimitError
	switch {
	case errors.As(err, &validationErr):
		respond.InvalidParam(c, validationErr.Error())
	case errors.As(err, &rateErr):
		respond.TooManyRequests(c, "too many uploads, slow down", rateErr.RetryAfter)
	case errors.Is(err, upload_service.ErrInvalidChunkEncoding):
		respond.InvalidParam(c, "chunk data is not valid base64")
	case errors.Is(err, upload_service.ErrUnsupportedMediaType):
		respond.UnsupportedMediaType(c, "unsupported audio format")
	case errors.Is(err, upload_service.ErrSizeMismatch):
		respond.InvalidParam(c, "received size does not match total_size")
	case errors.Is(err, upload_service.ErrFileTooLarge):
		respond.TooLarge(c, "file too large")
	case errors.Is(err, upload_service.ErrUploadBusy):
		respond.Conflict(c, "upload busy, retry")
	case errors.Is(err, upload_service.ErrNotFound):
		respond.NotFound(c, "submission not found")
	case errors.Is(err, upload_service.ErrForbidden):
		respond.Forbidden(c, "not allowed to access this submission")
	default:
		h.logger.Error(c.Request.Context(), "upload request failed", zap.Error(err))
		respond.ServerError(c, "upload failed")
	}
}
