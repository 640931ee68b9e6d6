package upload_service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"starmus-recorder/conf"
	"starmus-recorder/logging"

	"github.com/imroc/req"
	"go.uber.org/zap"
)

const (
	webhookQueueSize   = 256
	webhookMaxAttempts = 3
	SignatureHeader    = "X-Starmus-Signature"
	EventHeader        = "X-Starmus-Event"
)

type webhookJob struct {
	target conf.WebhookConfig
	event  SubmissionCompleted
}

// WebhookProcessor delivers completion events to configured webhooks on a
// small worker pool so finalization never waits for downstream services
type WebhookProcessor struct {
	targets  []conf.WebhookConfig
	client   *req.Req
	queue    chan webhookJob
	stopChan chan struct{}
	stopped  atomic.Bool
	wg       sync.WaitGroup
	workers  int
	backoff  time.Duration
	logger   *logging.Logger
}

// NewWebhookProcessor create webhook processor
func NewWebhookProcessor(targets []conf.WebhookConfig, timeout time.Duration, workers int, logger *logging.Logger) *WebhookProcessor {
	client := req.New()
	client.SetTimeout(timeout)
	if logger == nil {
		logger = logging.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &WebhookProcessor{
		targets:  targets,
		client:   client,
		queue:    make(chan webhookJob, webhookQueueSize),
		stopChan: make(chan struct{}),
		workers:  workers,
		backoff:  time.Second,
		logger:   logger,
	}
}

// Start starts the delivery workers
func (wp *WebhookProcessor) Start() {
	wp.logger.Info(context.Background(), "webhook processor started",
		zap.Int("workers", wp.workers), zap.Int("targets", len(wp.targets)))
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
}

// Stop stops accepting events, delivers what is queued and waits for the workers
func (wp *WebhookProcessor) Stop() {
	if !wp.stopped.CompareAndSwap(false, true) {
		return
	}
	wp.logger.Info(context.Background(), "stopping webhook processor")
	close(wp.stopChan)
	wp.wg.Wait()
}

// OnSubmissionCompleted queues one delivery per target without blocking
func (wp *WebhookProcessor) OnSubmissionCompleted(ctx context.Context, event SubmissionCompleted) {
	if wp.stopped.Load() {
		wp.logger.Warn(ctx, "webhook processor stopped, dropping event", zap.Int64("record_id", event.RecordID))
		return
	}
	for _, target := range wp.targets {
		select {
		case wp.queue <- webhookJob{target: target, event: event}:
		default:
			wp.logger.Warn(ctx, "webhook queue full, dropping event",
				zap.String("url", target.Url), zap.Int64("record_id", event.RecordID))
		}
	}
}

func (wp *WebhookProcessor) run() {
	defer wp.wg.Done()
	for {
		select {
		case job := <-wp.queue:
			wp.process(job)
		case <-wp.stopChan:
			for {
				select {
				case job := <-wp.queue:
					wp.process(job)
				default:
					return
				}
			}
		}
	}
}

func (wp *WebhookProcessor) process(job webhookJob) {
	ctx := context.Background()
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		err := wp.deliver(job)
		if err == nil {
			wp.logger.Debug(ctx, "webhook delivered",
				zap.String("url", job.target.Url), zap.Int64("record_id", job.event.RecordID))
			return
		}
		wp.logger.Warn(ctx, "webhook delivery failed",
			zap.String("url", job.target.Url), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == webhookMaxAttempts {
			return
		}
		select {
		case <-time.After(wp.backoff * time.Duration(attempt)):
		case <-wp.stopChan:
			return
		}
	}
}

func (wp *WebhookProcessor) deliver(job webhookJob) error {
	body, err := json.Marshal(job.event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	header := req.Header{
		"Content-Type": "application/json",
		EventHeader:    "submission.completed",
	}
	for k, v := range job.target.Headers {
		header[k] = v
	}
	if job.target.Secret != "" {
		header[SignatureHeader] = "sha256=" + SignPayload(job.target.Secret, body)
	}

	resp, err := wp.client.Post(job.target.Url, header, req.BodyJSON(body))
	if err != nil {
		return err
	}
	status := resp.Response().StatusCode
	if status < 200 || status >= 300 {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

// SignPayload hex HMAC-SHA256 of body, sent as sha256={sig}
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
