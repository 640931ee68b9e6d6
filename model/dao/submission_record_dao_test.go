package dao

import (
	"context"
	"testing"
	"time"

	"starmus-recorder/database"
	"starmus-recorder/logging"
	"starmus-recorder/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDB(t *testing.T) database.Database {
	t.Helper()
	db, err := database.NewPebbleDatabase(&database.PebbleConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetByUploadKeyMissingReturnsNil(t *testing.T) {
	recordDAO := NewSubmissionRecordDAO(newTestDB(t), nil, nil)
	record, err := recordDAO.GetByUploadKey(context.Background(), "1:nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestStatusCacheInvalidatedOnPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	recordDAO := NewSubmissionRecordDAO(newTestDB(t), database.NewCache(client, time.Minute), nil)

	record := &model.SubmissionRecord{Kind: model.KindAudioRecording, UploadKey: "5:s1", AuthorId: 5}
	if err := recordDAO.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := recordDAO.GetStatusView(ctx, record.ID)
	if err != nil || view == nil {
		t.Fatalf("status view: %v %v", view, err)
	}
	if view.Status != model.SubmissionStatusDraft {
		t.Fatalf("expected draft, got %s", view.Status)
	}
	if !mr.Exists(statusCacheKey(record.ID)) {
		t.Fatalf("expected status to be cached")
	}

	if err := recordDAO.Publish(ctx, record.ID, map[string]string{model.MetaTitle: "Song"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if mr.Exists(statusCacheKey(record.ID)) {
		t.Errorf("expected cached status to be dropped")
	}

	view, _ = recordDAO.GetStatusView(ctx, record.ID)
	if view.Status != model.SubmissionStatusPublished {
		t.Errorf("expected published, got %s", view.Status)
	}
	got, _ := recordDAO.GetByID(ctx, record.ID)
	if got.Meta[model.MetaTitle] != "Song" {
		t.Errorf("expected title meta, got %v", got.Meta)
	}
}

func TestStatusViewServedWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := context.Background()
	recordDAO := NewSubmissionRecordDAO(newTestDB(t), database.NewCache(client, time.Minute), logging.New(zap.New(core)))

	record := &model.SubmissionRecord{Kind: model.KindAudioRecording, UploadKey: "5:s2", AuthorId: 5}
	if err := recordDAO.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.Close()

	view, err := recordDAO.GetStatusView(ctx, record.ID)
	if err != nil || view == nil || view.ID != record.ID {
		t.Fatalf("status view should come from the database: %v %v", view, err)
	}
	if logs.FilterMessage("status cache read failed").Len() != 1 {
		t.Errorf("cache read failure should be logged")
	}
	if logs.FilterMessage("status cache write failed").Len() != 1 {
		t.Errorf("cache write failure should be logged")
	}
	entry := logs.FilterMessage("status cache read failed").All()[0]
	if got := entry.ContextMap()["record_id"]; got != record.ID {
		t.Errorf("record_id = %v, want %d", got, record.ID)
	}
}
