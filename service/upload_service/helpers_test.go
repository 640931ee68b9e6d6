package upload_service

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"starmus-recorder/database"
	"starmus-recorder/model"
	"starmus-recorder/model/dao"
	"starmus-recorder/storage"
)

// wavBytes a minimal RIFF/WAVE header followed by silence
func wavBytes(samples int) []byte {
	b := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x40\x1f\x00\x00\x80\x3e\x00\x00\x02\x00\x10\x00data")
	return append(b, make([]byte, samples)...)
}

// webmBytes an EBML header declaring the webm doctype
func webmBytes() []byte {
	b := []byte("\x1A\x45\xDF\xA3\x9F\x42\x86\x81\x01\x42\x82\x84webm\x42\x87\x81\x04")
	return append(b, make([]byte, 64)...)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func intPtr(i int) *int { return &i }

type testEnv struct {
	db         database.Database
	records    *dao.SubmissionRecordDAO
	assets     *dao.MediaAssetDAO
	media      *storage.LocalStorage
	chunks     *ChunkStore
	finalizer  *Finalizer
	service    *UploadService
	stagingDir string
	mediaDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, nil)
}

// newTestEnvWithDB wrap, when set, decorates the pebble database
func newTestEnvWithDB(t *testing.T, wrap func(database.Database) database.Database) *testEnv {
	t.Helper()
	root := t.TempDir()

	db, err := database.NewPebbleDatabase(&database.PebbleConfig{DataDir: filepath.Join(root, "pebble")})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if wrap != nil {
		db = wrap(db)
	}

	mediaDir := filepath.Join(root, "media")
	media, err := storage.NewLocalStorage(mediaDir, "http://localhost:7282/media")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	env := &testEnv{
		db:         db,
		records:    dao.NewSubmissionRecordDAO(db, nil, nil),
		assets:     dao.NewMediaAssetDAO(db),
		media:      media,
		stagingDir: filepath.Join(root, "starmus_tmp"),
		mediaDir:   mediaDir,
	}
	env.chunks = NewChunkStore(env.stagingDir, 1<<20)
	env.finalizer = NewFinalizer(env.records, env.assets, media, "/recordings/{record_id}", nil)
	env.service = NewUploadService(UploadServiceDeps{
		Chunks:            env.chunks,
		SubmissionLimiter: NewRateLimiter(RateLimitScopeSubmission, 10, time.Minute, nil, nil),
		AnnotationLimiter: NewRateLimiter(RateLimitScopeAnnotation, 1, 2*time.Second, nil, nil),
		Locker:            NewUploadLocker(time.Second, 0, nil, nil),
		Finalizer:         env.finalizer,
		Records:           env.records,
		EnforceTotalSize:  true,
	})
	return env
}

// stage writes content as a finished temp file for uploadID
func (e *testEnv) stage(t *testing.T, uploadID string, content []byte) string {
	t.Helper()
	path, _, err := e.chunks.Append(uploadID, b64(content))
	if err != nil {
		t.Fatalf("stage %s: %v", uploadID, err)
	}
	return path
}

// countFiles regular files below dir
func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// failingRecordDB fails record creation while the asset side keeps working
type failingRecordDB struct {
	database.Database
	err error
}

func (f *failingRecordDB) CreateSubmissionRecord(ctx context.Context, record *model.SubmissionRecord) error {
	return f.err
}

// failingLinkDB fails linking after both entities exist
type failingLinkDB struct {
	database.Database
}

func (f *failingLinkDB) LinkSubmission(ctx context.Context, recordID, assetID int64) error {
	return errors.New("link unavailable")
}
