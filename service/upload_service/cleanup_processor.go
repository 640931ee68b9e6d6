package upload_service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"starmus-recorder/logging"

	"go.uber.org/zap"
)

// SweepResult outcome of one sweep over the staging directory
type SweepResult struct {
	Scanned    int   // .part files looked at
	Deleted    int   // Abandoned temp files removed
	Kept       int   // Temp files younger than the threshold
	Failed     int   // Removals that errored
	FreedBytes int64 // Bytes reclaimed
}

// Sweeper removes abandoned chunked-upload temp files
type Sweeper struct {
	dir    string
	maxAge time.Duration
	logger *logging.Logger
}

func NewSweeper(dir string, maxAge time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{dir: dir, maxAge: maxAge, logger: logger}
}

// Candidates .part files currently in the staging directory
func (sw *Sweeper) Candidates() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(sw.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staging dir %s: %w", sw.dir, err)
	}
	parts := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), TempFileSuffix) {
			continue
		}
		parts = append(parts, entry)
	}
	return parts, nil
}

// Sweep deletes .part files last modified strictly before now - maxAge
func (sw *Sweeper) Sweep(now time.Time) (SweepResult, error) {
	return sw.SweepWithProgress(now, nil)
}

// SweepWithProgress Sweep reporting each processed candidate to onEntry
func (sw *Sweeper) SweepWithProgress(now time.Time, onEntry func()) (SweepResult, error) {
	var result SweepResult

	candidates, err := sw.Candidates()
	if err != nil {
		return result, err
	}

	threshold := now.Add(-sw.maxAge)
	for _, entry := range candidates {
		result.Scanned++
		sw.sweepEntry(entry, threshold, &result)
		if onEntry != nil {
			onEntry()
		}
	}
	return result, nil
}

func (sw *Sweeper) sweepEntry(entry os.DirEntry, threshold time.Time, result *SweepResult) {
	info, err := entry.Info()
	if err != nil {
		// removed concurrently by a finalizer
		return
	}
	if !info.ModTime().Before(threshold) {
		result.Kept++
		return
	}
	if err := os.Remove(filepath.Join(sw.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
		sw.logger.Warn(context.Background(), "failed to remove abandoned temp file",
			zap.String("file", entry.Name()), zap.Error(err))
		result.Failed++
		return
	}
	result.Deleted++
	result.FreedBytes += info.Size()
}

// CleanupProcessor runs the sweeper periodically
type CleanupProcessor struct {
	sweeper  *Sweeper
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
	interval time.Duration
}

// NewCleanupProcessor create cleanup processor
func NewCleanupProcessor(sweeper *Sweeper, interval time.Duration) *CleanupProcessor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupProcessor{
		sweeper:  sweeper,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
	}
}

// Start start cleanup processor
func (cp *CleanupProcessor) Start() {
	if !cp.started.CompareAndSwap(false, true) {
		return
	}
	cp.logger().Info(context.Background(), "cleanup processor started",
		zap.String("dir", cp.sweeper.dir), zap.Duration("interval", cp.interval))
	go cp.run()
}

// Stop stop cleanup processor and wait for a running sweep
func (cp *CleanupProcessor) Stop() {
	cp.stopOnce.Do(func() {
		cp.logger().Info(context.Background(), "stopping cleanup processor")
		close(cp.stopChan)
		if cp.started.Load() {
			<-cp.done
		}
	})
}

func (cp *CleanupProcessor) run() {
	defer close(cp.done)

	ticker := time.NewTicker(cp.interval)
	defer ticker.Stop()

	// sweep once at start
	cp.sweep()

	for {
		select {
		case <-cp.stopChan:
			cp.logger().Info(context.Background(), "cleanup processor stopped")
			return
		case <-ticker.C:
			cp.sweep()
		}
	}
}

func (cp *CleanupProcessor) logger() *logging.Logger {
	return cp.sweeper.logger
}

func (cp *CleanupProcessor) sweep() {
	ctx := context.Background()
	result, err := cp.sweeper.Sweep(time.Now())
	if err != nil {
		cp.logger().Error(ctx, "failed to sweep staging directory", zap.Error(err))
		return
	}
	if result.Deleted > 0 || result.Failed > 0 {
		cp.logger().Info(ctx, "swept staging directory",
			zap.Int("deleted", result.Deleted), zap.Int("kept", result.Kept),
			zap.Int("failed", result.Failed), zap.Int64("freed_bytes", result.FreedBytes))
	}
}
