package upload_service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"starmus-recorder/model"
)

func uploader(id uint64) *Principal {
	return &Principal{UserId: id, Capabilities: map[string]bool{CapabilityUploadFiles: true}}
}

func TestHandleChunkTwoChunkUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uploader(7)
	audio := wavBytes(512)
	total := int64(len(audio))

	first, err := env.service.HandleChunk(ctx, user, &ChunkRequest{
		UploadId: "abc123", ChunkIndex: intPtr(0), Data: b64(audio[:100]), TotalSize: &total,
	})
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if first.Ack == nil || first.Ack.Status != ChunkStatusReceived {
		t.Fatalf("expected chunk ack, got %+v", first)
	}
	if first.Ack.File != "abc123.part" || first.Ack.BytesReceived != 100 {
		t.Errorf("unexpected ack %+v", first.Ack)
	}

	last, err := env.service.HandleChunk(ctx, user, &ChunkRequest{
		UploadId: "abc123", ChunkIndex: intPtr(1), Data: b64(audio[100:]), IsLastChunk: true, TotalSize: &total,
		Filename: "birds.wav", Fields: SubmissionFields{Title: "<b>Birds</b>", Telemetry: `{"device":"phone"}`},
	})
	if err != nil {
		t.Fatalf("last chunk: %v", err)
	}
	if last.Final == nil || last.Final.PostId == 0 {
		t.Fatalf("expected final result, got %+v", last)
	}
	if fileExists(filepath.Join(env.stagingDir, "abc123.part")) {
		t.Errorf("temp file should be gone after finalization")
	}

	record, _ := env.records.GetByID(ctx, last.Final.PostId)
	if record.Title != "Birds" {
		t.Errorf("title should be sanitized, got %q", record.Title)
	}
	if record.Meta[model.MetaTelemetry] != `{"device":"phone"}` {
		t.Errorf("telemetry not stored: %v", record.Meta)
	}
	asset, _ := env.assets.GetByID(ctx, last.Final.AttachmentId)
	if asset.FileSize != total {
		t.Errorf("expected %d bytes stored, got %d", total, asset.FileSize)
	}

	// retried last chunk returns the same submission without appending
	retry, err := env.service.HandleChunk(ctx, user, &ChunkRequest{
		UploadId: "abc123", ChunkIndex: intPtr(1), Data: b64(audio[100:]), IsLastChunk: true,
	})
	if err != nil {
		t.Fatalf("retried last chunk: %v", err)
	}
	if retry.Final == nil || retry.Final.PostId != last.Final.PostId {
		t.Errorf("expected existing submission, got %+v", retry)
	}
	if fileExists(filepath.Join(env.stagingDir, "abc123.part")) {
		t.Errorf("retry must not leave a temp file")
	}
}

func TestHandleChunkValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.HandleChunk(ctx, uploader(1), &ChunkRequest{UploadId: "../etc", ChunkIndex: intPtr(1), Data: "AAAA"})
	if !errors.Is(err, ErrInvalidIdentifierFormat) {
		t.Errorf("expected ErrInvalidIdentifierFormat, got %v", err)
	}

	_, err = env.service.HandleChunk(ctx, uploader(1), &ChunkRequest{UploadId: "abc", Data: "AAAA"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != ValidationMissingField || verr.Field != "chunk_index" {
		t.Errorf("expected missing chunk_index, got %v", err)
	}

	_, err = env.service.HandleChunk(ctx, uploader(1), &ChunkRequest{UploadId: "abc", ChunkIndex: intPtr(1), Data: "not base64!"})
	if !errors.Is(err, ErrInvalidChunkEncoding) {
		t.Errorf("expected ErrInvalidChunkEncoding, got %v", err)
	}
	if fileExists(filepath.Join(env.stagingDir, "abc.part")) {
		t.Errorf("invalid chunk must not create a temp file")
	}
}

func TestHandleChunkSizeMismatchKeepsTemp(t *testing.T) {
	env := newTestEnv(t)
	declared := int64(9999)

	_, err := env.service.HandleChunk(context.Background(), uploader(1), &ChunkRequest{
		UploadId: "short", ChunkIndex: intPtr(0), Data: b64(wavBytes(32)), IsLastChunk: true, TotalSize: &declared,
	})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if !fileExists(filepath.Join(env.stagingDir, "short.part")) {
		t.Errorf("temp file should be kept after a size mismatch")
	}
}

func TestHandleChunkRateLimitsNewUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uploader(3)

	for i := 0; i < 10; i++ {
		id := "up" + string(rune('a'+i))
		if _, err := env.service.HandleChunk(ctx, user, &ChunkRequest{UploadId: id, ChunkIndex: intPtr(0), Data: "AAAA"}); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := env.service.HandleChunk(ctx, user, &ChunkRequest{UploadId: "upk", ChunkIndex: intPtr(0), Data: "AAAA"})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || rlErr.RetryAfter <= 0 {
		t.Fatalf("expected rate limit error with retry-after, got %v", err)
	}
	if fileExists(filepath.Join(env.stagingDir, "upk.part")) {
		t.Errorf("rejected attempt should not stage a temp file")
	}

	// continuation chunks of a running upload are not attempts
	if _, err := env.service.HandleChunk(ctx, user, &ChunkRequest{UploadId: "upa", ChunkIndex: intPtr(1), Data: "AAAA"}); err != nil {
		t.Errorf("continuation chunk should pass: %v", err)
	}
}

func TestHandleChunkRateLimitIgnoresChunkIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uploader(9)
	audio := b64(wavBytes(64))

	var finalized int
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("skip%02d", i)
		resp, err := env.service.HandleChunk(ctx, user, &ChunkRequest{
			UploadId: id, ChunkIndex: intPtr(1), Data: audio, IsLastChunk: true,
		})
		if i < 10 {
			if err != nil {
				t.Fatalf("upload %d: %v", i+1, err)
			}
			if resp.Final != nil {
				finalized++
			}
			continue
		}
		var rlErr *RateLimitError
		if !errors.As(err, &rlErr) {
			t.Fatalf("upload %d starting at chunk 1 should be rate limited, got %v", i+1, err)
		}
	}
	if finalized != 10 {
		t.Errorf("finalized %d uploads, want 10", finalized)
	}
	if n := countFiles(t, env.stagingDir); n != 0 {
		t.Errorf("staging dir holds %d files after rejected uploads", n)
	}
}

// spoolBytes returns a spooler that writes content as audio_file
func spoolBytes(content []byte, filename string) FallbackSpooler {
	return func(path string) (*FallbackRequest, error) {
		if err := os.WriteFile(path, content, 0644); err != nil {
			return nil, err
		}
		return &FallbackRequest{Filename: filename, Size: int64(len(content))}, nil
	}
}

func TestHandleFallbackUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var spooledTo string
	audio := wavBytes(128)
	write := spoolBytes(audio, "memo.wav")
	result, err := env.service.HandleFallbackUpload(ctx, uploader(5), func(path string) (*FallbackRequest, error) {
		spooledTo = path
		return write(path)
	})
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if !strings.HasSuffix(spooledTo, TempFileSuffix) {
		t.Errorf("spool path should carry the temp suffix: %s", spooledTo)
	}
	if fileExists(spooledTo) {
		t.Errorf("spool file should be gone after finalize")
	}
	record, _ := env.records.GetByID(ctx, result.PostId)
	if !strings.HasPrefix(record.UploadKey, "fallback-") {
		t.Errorf("unexpected upload key %q", record.UploadKey)
	}
	if _, ok := record.Meta[model.MetaUploadId]; ok {
		t.Errorf("fallback uploads carry no upload_id")
	}
	if record.Meta[model.MetaOriginalFilename] != "memo.wav" {
		t.Errorf("original filename not recorded: %v", record.Meta)
	}

	_, err = env.service.HandleFallbackUpload(ctx, uploader(5), spoolBytes(nil, "empty.wav"))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "audio_file" {
		t.Errorf("expected invalid audio_file, got %v", err)
	}
	if n := countFiles(t, env.stagingDir); n != 0 {
		t.Errorf("rejected spool should be removed, %d files left", n)
	}
}

func TestHandleFallbackUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.HandleFallbackUpload(context.Background(), uploader(5), func(path string) (*FallbackRequest, error) {
		return &FallbackRequest{Filename: "big.wav", Size: 2 << 20}, nil
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestHandleFallbackUploadRateLimitedBeforeSpool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uploader(6)

	for i := 0; i < 10; i++ {
		if _, err := env.service.HandleFallbackUpload(ctx, user, spoolBytes(wavBytes(32), "a.wav")); err != nil {
			t.Fatalf("upload %d: %v", i+1, err)
		}
	}
	called := false
	_, err := env.service.HandleFallbackUpload(ctx, user, func(path string) (*FallbackRequest, error) {
		called = true
		return nil, nil
	})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if called {
		t.Errorf("spooler ran for a rejected attempt")
	}
}

func TestHandleStatusAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	final, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	status, err := env.service.HandleStatus(ctx, uploader(7), final.PostId)
	if err != nil {
		t.Fatalf("owner status: %v", err)
	}
	if status.Id != final.PostId || status.Status != string(model.SubmissionStatusPublished) {
		t.Errorf("unexpected status %+v", status)
	}

	if _, err := env.service.HandleStatus(ctx, uploader(8), final.PostId); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for another user, got %v", err)
	}

	editor := &Principal{UserId: 8, Capabilities: map[string]bool{CapabilityEditOthersPosts: true}}
	if _, err := env.service.HandleStatus(ctx, editor, final.PostId); err != nil {
		t.Errorf("editor should see any submission: %v", err)
	}

	if _, err := env.service.HandleStatus(ctx, uploader(7), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	other := &model.SubmissionRecord{Kind: "page", UploadKey: "page-1", AuthorId: 7}
	if err := env.records.Create(ctx, other); err != nil {
		t.Fatalf("create other kind: %v", err)
	}
	if _, err := env.service.HandleStatus(ctx, uploader(7), other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("records of another kind read as not found, got %v", err)
	}
}

func TestSaveAnnotations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	final, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	regions := []model.AnnotationRegion{
		{Id: "r1", Start: 0.5, End: 1.25, Label: "robin <i>call</i>"},
		{Id: "r2", Start: 2, End: 3},
	}
	resp, err := env.service.SaveAnnotations(ctx, uploader(7), final.PostId, regions)
	if err != nil {
		t.Fatalf("save annotations: %v", err)
	}
	if resp.Regions != 2 {
		t.Errorf("expected 2 regions, got %d", resp.Regions)
	}
	record, _ := env.records.GetByID(ctx, final.PostId)
	stored := record.Meta[model.MetaAnnotations]
	if !strings.Contains(stored, `"label":"robin call"`) {
		t.Errorf("labels should be sanitized, got %s", stored)
	}

	// second save inside the 2s window is throttled
	if _, err := env.service.SaveAnnotations(ctx, uploader(7), final.PostId, regions); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestValidateAnnotations(t *testing.T) {
	cases := []struct {
		name    string
		regions []model.AnnotationRegion
		ok      bool
	}{
		{"empty", nil, true},
		{"valid", []model.AnnotationRegion{{Start: 0, End: 1}}, true},
		{"negative", []model.AnnotationRegion{{Start: -1, End: 1}}, false},
		{"inverted", []model.AnnotationRegion{{Start: 2, End: 1}}, false},
		{"zero length", []model.AnnotationRegion{{Start: 1, End: 1}}, false},
		{"too many", make([]model.AnnotationRegion, maxAnnotationRegions+1), false},
	}
	for _, c := range cases {
		_, err := validateAnnotations(c.regions)
		if (err == nil) != c.ok {
			t.Errorf("%s: ok=%v, err=%v", c.name, c.ok, err)
		}
	}
}
