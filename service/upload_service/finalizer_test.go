package upload_service

import (
	"context"
	"errors"
	"os"
	"testing"

	"starmus-recorder/database"
	"starmus-recorder/model"
	"starmus-recorder/model/dao"
)

func TestFinalizeCreatesLinkedSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	temp := env.stage(t, "abc123", wavBytes(256))

	var events []SubmissionCompleted
	env.finalizer.AddObserver(ObserverFunc(func(_ context.Context, e SubmissionCompleted) {
		events = append(events, e)
	}))

	result, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath:   temp,
		UploadKey:  model.UploadKeyForChunked(7, "abc123"),
		UploadId:   "abc123",
		AuthorId:   7,
		ChunkCount: 2,
		Fields:     SubmissionFields{Title: "Morning birds", Language: "en"},
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.PostId == 0 || result.AttachmentId == 0 {
		t.Fatalf("expected ids, got %+v", result)
	}
	if result.RedirectUrl == "" || result.Url == "" {
		t.Errorf("expected url and redirect url, got %+v", result)
	}
	if fileExists(temp) {
		t.Errorf("temp file should have been promoted away")
	}

	record, err := env.records.GetByID(ctx, result.PostId)
	if err != nil || record == nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != model.SubmissionStatusPublished {
		t.Errorf("expected published, got %s", record.Status)
	}
	if record.AssetId != result.AttachmentId {
		t.Errorf("record not linked to asset: %d != %d", record.AssetId, result.AttachmentId)
	}
	if record.Title != "Morning birds" {
		t.Errorf("unexpected title %q", record.Title)
	}
	if record.Meta[model.MetaChunkCount] != "2" || record.Meta[model.MetaUploadId] != "abc123" {
		t.Errorf("missing upload bookkeeping in meta: %v", record.Meta)
	}

	asset, err := env.assets.GetByID(ctx, result.AttachmentId)
	if err != nil || asset == nil {
		t.Fatalf("load asset: %v", err)
	}
	if asset.RecordId != record.ID {
		t.Errorf("asset not linked to record")
	}
	if asset.MimeType != "audio/wav" {
		t.Errorf("expected audio/wav, got %s", asset.MimeType)
	}
	if asset.FileSize != int64(len(wavBytes(256))) {
		t.Errorf("unexpected size %d", asset.FileSize)
	}
	if asset.Meta[model.MetaLanguage] != "en" {
		t.Errorf("asset meta not written: %v", asset.Meta)
	}

	if len(events) != 1 || events[0].RecordID != record.ID {
		t.Errorf("expected one completion event for record %d, got %+v", record.ID, events)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := model.UploadKeyForChunked(7, "abc123")

	first, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: key, UploadId: "abc123", AuthorId: 7, ChunkCount: 1,
	})
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	stray := env.stage(t, "abc123", wavBytes(64))
	second, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: stray, UploadKey: key, UploadId: "abc123", AuthorId: 7, ChunkCount: 1,
	})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second.PostId != first.PostId || second.AttachmentId != first.AttachmentId {
		t.Errorf("expected same ids, got %+v and %+v", first, second)
	}
	if !second.Duplicate {
		t.Errorf("second result should be flagged duplicate")
	}
	if fileExists(stray) {
		t.Errorf("stray temp file should be removed")
	}
	if n := countFiles(t, env.mediaDir); n != 1 {
		t.Errorf("expected exactly one stored file, got %d", n)
	}
	if n, _ := env.records.CountByStatus(ctx, model.SubmissionStatusPublished); n != 1 {
		t.Errorf("expected one published record, got %d", n)
	}
}

func TestFinalizeRejectsNonAudio(t *testing.T) {
	env := newTestEnv(t)
	temp := env.stage(t, "notes", []byte("just some plain text, definitely not audio"))

	_, err := env.finalizer.Finalize(context.Background(), FinalizeInput{
		TempPath: temp, UploadKey: "7:notes", UploadId: "notes", AuthorId: 7, DeclaredFilename: "notes.mp3",
	})
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
	if fileExists(temp) {
		t.Errorf("rejected temp file should be deleted")
	}
	if n := countFiles(t, env.mediaDir); n != 0 {
		t.Errorf("nothing should be stored, found %d files", n)
	}
	if record, _ := env.records.GetByUploadKey(context.Background(), "7:notes"); record != nil {
		t.Errorf("no record should exist")
	}
}

func TestFinalizeAcceptsRecorderWebm(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.finalizer.Finalize(context.Background(), FinalizeInput{
		TempPath: env.stage(t, "rec1", webmBytes()), UploadKey: "7:rec1", UploadId: "rec1", AuthorId: 7,
	})
	if err != nil {
		t.Fatalf("finalize webm: %v", err)
	}
	asset, _ := env.assets.GetByID(context.Background(), result.AttachmentId)
	if asset.MimeType != "audio/webm" {
		t.Errorf("expected audio/webm, got %s", asset.MimeType)
	}
}

func TestFinalizeRollsBackAssetWhenRecordFails(t *testing.T) {
	env := newTestEnvWithDB(t, func(db database.Database) database.Database {
		return &failingRecordDB{Database: db, err: errors.New("disk full")}
	})
	ctx := context.Background()
	temp := env.stage(t, "abc123", wavBytes(64))

	_, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: temp, UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if !errors.Is(err, ErrRecordCreateFailed) {
		t.Fatalf("expected ErrRecordCreateFailed, got %v", err)
	}
	if n := countFiles(t, env.mediaDir); n != 0 {
		t.Errorf("stored blob should be removed on rollback, found %d files", n)
	}
	if _, err := env.db.GetMediaAssetByID(ctx, 1); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("asset row should be removed on rollback, got %v", err)
	}
}

// staleLookupDB misses the first upload key lookup, as a concurrent finalizer would see
type staleLookupDB struct {
	database.Database
	misses int
}

func (s *staleLookupDB) GetSubmissionRecordByUploadKey(ctx context.Context, key string) (*model.SubmissionRecord, error) {
	if s.misses > 0 {
		s.misses--
		return nil, database.ErrNotFound
	}
	return s.Database.GetSubmissionRecordByUploadKey(ctx, key)
}

func TestFinalizeDuplicateKeyReturnsExisting(t *testing.T) {
	stale := &staleLookupDB{}
	env := newTestEnvWithDB(t, func(db database.Database) database.Database {
		stale.Database = db
		return stale
	})
	ctx := context.Background()

	first, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	stale.misses = 1
	second, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second.PostId != first.PostId || second.AttachmentId != first.AttachmentId {
		t.Errorf("expected existing ids %+v, got %+v", first, second)
	}
	if n := countFiles(t, env.mediaDir); n != 1 {
		t.Errorf("losing attempt should roll back its blob, found %d files", n)
	}
}

func TestFinalizeLinkFailureMarksRecordFailed(t *testing.T) {
	env := newTestEnvWithDB(t, func(db database.Database) database.Database {
		return &failingLinkDB{Database: db}
	})
	ctx := context.Background()

	_, err := env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if !errors.Is(err, ErrLinkFailed) {
		t.Fatalf("expected ErrLinkFailed, got %v", err)
	}
	record, _ := env.records.GetByUploadKey(ctx, "7:abc123")
	if record == nil || record.Status != model.SubmissionStatusFailed {
		t.Fatalf("expected failed record, got %+v", record)
	}

	// a retry must not silently report success for the broken submission
	_, err = env.finalizer.Finalize(ctx, FinalizeInput{
		TempPath: env.stage(t, "abc123", wavBytes(64)), UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if !errors.Is(err, ErrLinkFailed) {
		t.Errorf("expected ErrLinkFailed on retry, got %v", err)
	}
}

type brokenStorage struct{}

func (brokenStorage) Promote(context.Context, string, string, string) (string, error) {
	return "", errors.New("bucket unreachable")
}
func (brokenStorage) Delete(context.Context, string) error { return nil }
func (brokenStorage) Exists(context.Context, string) bool  { return false }
func (brokenStorage) URL(key string) string                { return key }
func (brokenStorage) Type() string                         { return "broken" }

func TestFinalizePromotionFailureKeepsTemp(t *testing.T) {
	env := newTestEnv(t)
	finalizer := NewFinalizer(env.records, dao.NewMediaAssetDAO(env.db), brokenStorage{}, "", nil)
	temp := env.stage(t, "abc123", wavBytes(64))

	_, err := finalizer.Finalize(context.Background(), FinalizeInput{
		TempPath: temp, UploadKey: "7:abc123", UploadId: "abc123", AuthorId: 7,
	})
	if !errors.Is(err, ErrPromotionFailed) {
		t.Fatalf("expected ErrPromotionFailed, got %v", err)
	}
	if _, statErr := os.Stat(temp); statErr != nil {
		t.Errorf("temp file should be preserved for retry: %v", statErr)
	}
}

func TestStoredName(t *testing.T) {
	f := &Finalizer{}
	cases := []struct {
		in   FinalizeInput
		kind MimeKind
		want string
	}{
		{FinalizeInput{DeclaredFilename: "take.webm", UploadId: "u1"}, MimeKind{MimeType: "audio/webm"}, "take.webm"},
		{FinalizeInput{UploadId: "u1"}, MimeKind{MimeType: "audio/wav"}, "u1.wav"},
		{FinalizeInput{DeclaredFilename: `C:\clips\song.MP3`}, MimeKind{MimeType: "audio/mpeg"}, "song.mp3"},
		{FinalizeInput{}, MimeKind{MimeType: "audio/mp4"}, "recording.m4a"},
	}
	for _, c := range cases {
		if got := f.storedName(c.in, c.kind); got != c.want {
			t.Errorf("storedName(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}
