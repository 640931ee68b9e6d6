package respond

import (
	"starmus-recorder/service/upload_service"
)

// ChunkAckResponse returned for every chunk that does not complete the upload
type ChunkAckResponse struct {
	Status        string `json:"status" example:"chunk_received"`
	File          string `json:"file" example:"abc123.part"`
	BytesReceived int64  `json:"bytes_received" example:"524288"`
}

// SubmissionResponse returned once an upload is finalized. attachment_id is
// the media asset, post_id the submission record.
type SubmissionResponse struct {
	AttachmentId int64  `json:"attachment_id" example:"42"`
	PostId       int64  `json:"post_id" example:"41"`
	Url          string `json:"url" example:"https://example.org/media/2026/10/abc123.webm"`
	RedirectUrl  string `json:"redirect_url" example:"https://example.org/recordings/41"`
}

// StatusResponse submission status
type StatusResponse struct {
	Id     int64  `json:"id" example:"41"`
	Status string `json:"status" example:"published"`
}

// AnnotationSaveResponse annotation save summary
type AnnotationSaveResponse struct {
	Id      int64 `json:"id" example:"41"`
	Regions int   `json:"regions" example:"3"`
}

// HealthResponse liveness probe payload
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Storage string `json:"storage" example:"local"`
}

func ToChunkAckResponse(ack *upload_service.ChunkAck) *ChunkAckResponse {
	return &ChunkAckResponse{
		Status:        ack.Status,
		File:          ack.File,
		BytesReceived: ack.BytesReceived,
	}
}

func ToSubmissionResponse(result *upload_service.FinalResult) *SubmissionResponse {
	return &SubmissionResponse{
		AttachmentId: result.AttachmentId,
		PostId:       result.PostId,
		Url:          result.Url,
		RedirectUrl:  result.RedirectUrl,
	}
}

func ToStatusResponse(status *upload_service.StatusResponse) *StatusResponse {
	return &StatusResponse{Id: status.Id, Status: status.Status}
}

func ToAnnotationSaveResponse(resp *upload_service.AnnotationResponse) *AnnotationSaveResponse {
	return &AnnotationSaveResponse{Id: resp.Id, Regions: resp.Regions}
}
