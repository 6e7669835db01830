package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"pictocache/internal/models"
)

// PrefetchTicker is the part of the prefetch service the job drives
type PrefetchTicker interface {
	Tick(ctx context.Context) (*models.PrefetchRunResult, error)
}

// PictogramPrefetchJob evaluates idle prefetching on a fixed interval. The
// first evaluation happens one interval after start, not immediately.
type PictogramPrefetchJob struct {
	prefetch PrefetchTicker
	interval time.Duration
}

// NewPictogramPrefetchJob creates the prefetch job
func NewPictogramPrefetchJob(prefetch PrefetchTicker, interval time.Duration) *PictogramPrefetchJob {
	return &PictogramPrefetchJob{prefetch: prefetch, interval: interval}
}

// Run performs one tick; skipped ticks are silent
func (j *PictogramPrefetchJob) Run(ctx context.Context) error {
	result, err := j.prefetch.Tick(ctx)
	if err != nil {
		return err
	}
	if result != nil {
		log.Printf("🖼️  [PREFETCH] Processed %d ids (%d downloaded, %d cached, %d failed) after %ds idle",
			result.ProcessedIDs, result.Downloaded, result.AlreadyCached, result.Failed, result.IdleSeconds)
	}
	return nil
}

// Definition runs the job every interval
func (j *PictogramPrefetchJob) Definition() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}
