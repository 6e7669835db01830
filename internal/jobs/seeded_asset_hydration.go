package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// SeededAssetHydrator re-downloads missing card-library assets
type SeededAssetHydrator interface {
	HydrateSeededAssets(ctx context.Context) (int, error)
}

// SeededAssetHydrationJob restores system card-library assets that were
// removed from disk (volume reset, manual cleanup) on a cron schedule
type SeededAssetHydrationJob struct {
	hydrator SeededAssetHydrator
	expr     string
	schedule cron.Schedule
}

// NewSeededAssetHydrationJob validates expr (standard 5-field cron, UTC)
func NewSeededAssetHydrationJob(hydrator SeededAssetHydrator, expr string) (*SeededAssetHydrationJob, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid hydration cron expression %q: %w", expr, err)
	}

	return &SeededAssetHydrationJob{hydrator: hydrator, expr: expr, schedule: schedule}, nil
}

// Run hydrates missing assets
func (j *SeededAssetHydrationJob) Run(ctx context.Context) error {
	hydrated, err := j.hydrator.HydrateSeededAssets(ctx)
	if err != nil {
		return err
	}
	if hydrated > 0 {
		log.Printf("🖼️  [HYDRATE] Restored %d seeded pictogram assets", hydrated)
	}
	return nil
}

// Definition runs the job on the configured cron expression
func (j *SeededAssetHydrationJob) Definition() gocron.JobDefinition {
	return gocron.CronJob(j.expr, false)
}

// NextRunAfter returns when the job fires next after t
func (j *SeededAssetHydrationJob) NextRunAfter(t time.Time) time.Time {
	return j.schedule.Next(t.UTC())
}
