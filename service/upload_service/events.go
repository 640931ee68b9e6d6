package upload_service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"starmus-recorder/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SubmissionCompleted fired once per finalized submission for downstream
// processing (waveforms, transcription, mastering)
type SubmissionCompleted struct {
	RecordID    int64     `json:"record_id"`
	AssetID     int64     `json:"asset_id"`
	AuthorID    uint64    `json:"author_id"`
	UploadKey   string    `json:"upload_key"`
	MimeType    string    `json:"mime_type"`
	FileSize    int64     `json:"file_size"`
	Url         string    `json:"url"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompletionObserver consumes completion events. Implementations must not block
// on downstream work.
type CompletionObserver interface {
	OnSubmissionCompleted(ctx context.Context, event SubmissionCompleted)
}

// ObserverFunc adapts a function to CompletionObserver
type ObserverFunc func(ctx context.Context, event SubmissionCompleted)

func (f ObserverFunc) OnSubmissionCompleted(ctx context.Context, event SubmissionCompleted) {
	f(ctx, event)
}

// notifyObservers fans an event out. A panicking observer is logged and skipped.
func notifyObservers(ctx context.Context, logger *logging.Logger, observers []CompletionObserver, event SubmissionCompleted) {
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "completion observer panicked",
						zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				}
			}()
			o.OnSubmissionCompleted(ctx, event)
		}()
	}
}

// LogObserver writes one structured line per completed submission
type LogObserver struct {
	logger *logging.Logger
}

func NewLogObserver(logger *logging.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnSubmissionCompleted(ctx context.Context, event SubmissionCompleted) {
	o.logger.Info(ctx, "submission completed",
		zap.Int64("record_id", event.RecordID),
		zap.Int64("asset_id", event.AssetID),
		zap.Uint64("author_id", event.AuthorID),
		zap.String("mime_type", event.MimeType),
		zap.Int64("file_size", event.FileSize),
	)
}

// RedisPublishObserver publishes events as JSON on a redis pub/sub channel
type RedisPublishObserver struct {
	client  *redis.Client
	channel string
	logger  *logging.Logger
}

func NewRedisPublishObserver(client *redis.Client, channel string, logger *logging.Logger) *RedisPublishObserver {
	return &RedisPublishObserver{client: client, channel: channel, logger: logger}
}

func (o *RedisPublishObserver) OnSubmissionCompleted(ctx context.Context, event SubmissionCompleted) {
	data, err := json.Marshal(event)
	if err != nil {
		o.logger.Error(ctx, "failed to encode completion event", zap.Error(err))
		return
	}
	if err := o.client.Publish(ctx, o.channel, data).Err(); err != nil {
		o.logger.Warn(ctx, "failed to publish completion event",
			zap.String("channel", o.channel), zap.Int64("record_id", event.RecordID), zap.Error(err))
	}
}

func (e SubmissionCompleted) String() string {
	return fmt.Sprintf("record=%d asset=%d", e.RecordID, e.AssetID)
}
