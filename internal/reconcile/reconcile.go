// Package reconcile implements the periodic batch job that resumes
// incomplete letter deliveries. The staleness window keeps it from racing a
// live finalize request; everything else is a plain re-invocation of the
// orchestrator, which is already idempotent per channel.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
)

// Processor runs one delivery pass for a letter; satisfied by
// service.Orchestrator.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID) error
}

// Finder supplies the three reconciliation queries.
type Finder interface {
	// FindUnprocessed: letters never marked fully processed, untouched for
	// at least the staleness window.
	FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	// FindFailedChannels: letters whose pass completed but left a channel
	// in the failed state, e.g. a certified mail submission that timed out.
	FindFailedChannels(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	// FindAuthorityEmailGaps: fully-processed letters whose authority email
	// channel has since become eligible. The channel was not-eligible at
	// pass time, so no failed state covers it.
	FindAuthorityEmailGaps(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Options tune one reconciliation run.
type Options struct {
	// Window is the minimum time since last update before a letter is
	// eligible.
	Window time.Duration
	// Max caps the batch size across all criteria.
	Max int
	// DryRun reports what would be processed without side effects.
	DryRun bool
}

// Report summarizes one run.
type Report struct {
	Stale          int
	FailedChannels int
	AuthorityGaps  int
	Processed      int
	Failed         int
	DryRun         bool
}

func (r Report) String() string {
	mode := "processed"
	if r.DryRun {
		mode = "would process"
	}
	return fmt.Sprintf("stale=%d failed_channels=%d authority_gaps=%d %s=%d failed=%d",
		r.Stale, r.FailedChannels, r.AuthorityGaps, mode, r.Processed, r.Failed)
}

// Job wires the queries to the orchestrator.
type Job struct {
	finder    Finder
	processor Processor
	log       zerolog.Logger
	now       func() time.Time
}

func New(finder Finder, processor Processor, log zerolog.Logger) *Job {
	return &Job{finder: finder, processor: processor, log: log, now: time.Now}
}

// Run executes one reconciliation batch sequentially.
func (j *Job) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Max <= 0 {
		opts.Max = 50
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	cutoff := j.now().UTC().Add(-opts.Window)

	stale, err := j.finder.FindUnprocessed(ctx, cutoff, opts.Max)
	if err != nil {
		return Report{}, fmt.Errorf("query unprocessed letters: %w", err)
	}
	failedCh, err := j.finder.FindFailedChannels(ctx, cutoff, opts.Max)
	if err != nil {
		return Report{}, fmt.Errorf("query failed channels: %w", err)
	}
	gaps, err := j.finder.FindAuthorityEmailGaps(ctx, opts.Max)
	if err != nil {
		return Report{}, fmt.Errorf("query authority email gaps: %w", err)
	}

	report := Report{Stale: len(stale), FailedChannels: len(failedCh), AuthorityGaps: len(gaps), DryRun: opts.DryRun}
	criteria := map[uuid.UUID]string{}
	batch := make([]uuid.UUID, 0, opts.Max)
	add := func(ids []uuid.UUID, criterion string) {
		for _, id := range ids {
			if len(batch) >= opts.Max {
				return
			}
			if _, seen := criteria[id]; seen {
				continue
			}
			batch = append(batch, id)
			criteria[id] = criterion
		}
	}
	add(stale, "stale")
	add(failedCh, "failed_channel")
	add(gaps, "authority_gap")

	if opts.DryRun {
		for _, id := range batch {
			metrics.IncReconcileLetter(criteria[id], "dry_run")
			j.log.Info().Str("letter_id", id.String()).Str("criterion", criteria[id]).Msg("dry run: would process")
		}
		report.Processed = len(batch)
		return report, nil
	}

	for _, id := range batch {
		if err := j.processor.Process(ctx, id); err != nil {
			report.Failed++
			metrics.IncReconcileLetter(criteria[id], "failed")
			j.log.Error().Err(err).Str("letter_id", id.String()).Str("criterion", criteria[id]).Msg("reconcile pass failed")
			continue
		}
		report.Processed++
		metrics.IncReconcileLetter(criteria[id], "processed")
	}
	j.log.Info().
		Int("stale", report.Stale).
		Int("failed_channels", report.FailedChannels).
		Int("authority_gaps", report.AuthorityGaps).
		Int("processed", report.Processed).
		Int("failed", report.Failed).
		Msg("reconciliation run complete")
	return report, nil
}
