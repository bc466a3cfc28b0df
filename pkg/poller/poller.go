package poller

import (
	"context"
	"sync"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/rs/zerolog"
)

// Runner runs one full sync.
type Runner interface {
	RunAll(ctx context.Context, scope syncer.Scope) (*syncer.AllSummary, error)
}

// JobLedger is the part of the ledger the scheduler consults before a cycle
// and prunes after it.
type JobLedger interface {
	HasRunning(ctx context.Context, tenantID string, source models.SyncSource, syncType models.SyncType) (bool, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Poller represents the sync scheduler.
type Poller struct {
	config   Config
	runner   Runner
	jobs     JobLedger
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	cycles  int
	skipped int
}

// New returns a Poller. jobs may be nil, which disables the overlap check
// and pruning.
func New(config Config, runner Runner, jobs JobLedger, logger zerolog.Logger) (*Poller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if runner == nil {
		return nil, errNoRunner
	}

	return &Poller{
		config: config,
		runner: runner,
		jobs:   jobs,
		logger: logger.With().Str("component", "poller").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Start begins the polling loop. Cycles never overlap; ticks that arrive
// while a cycle runs are dropped.
func (p *Poller) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.config.Interval).Msg("Starting poller")

	// Do an initial poll immediately
	if p.config.RunOnStart {
		p.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Stop ends the loop. A cycle in progress is canceled through the Start context.
func (p *Poller) Stop(context.Context) error {
	p.stopOnce.Do(func() { close(p.done) })

	return nil
}

// Cycles returns the number of completed poll cycles.
func (p *Poller) Cycles() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cycles
}

// Skipped returns the number of cycles skipped because another sync was
// still running.
func (p *Poller) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.skipped
}

// busy reports whether any sync job is RUNNING, whichever process or API
// call started it. Overlapping runs would race on last-seen timestamps and
// the stale link sweep.
func (p *Poller) busy(ctx context.Context) bool {
	if p.jobs == nil {
		return false
	}

	for _, syncType := range []models.SyncType{models.SyncTypeAgents, models.SyncTypeVulnerabilities} {
		running, err := p.jobs.HasRunning(ctx, "", models.SourceSentinelOne, syncType)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to check for running syncs")

			return true
		}

		if running {
			return true
		}
	}

	return false
}

func (p *Poller) poll(ctx context.Context) {
	if p.busy(ctx) {
		p.logger.Info().Msg("Skipping sync cycle, a sync is already running")

		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()

		return
	}

	p.logger.Info().Msg("Starting sync cycle")

	summary, err := p.runner.RunAll(ctx, p.config.Scope)

	switch {
	case err != nil:
		p.logger.Error().Err(err).Msg("Sync cycle failed")
	case summary != nil && summary.Vulnerabilities != nil:
		p.logger.Info().
			Int("agents", summary.Agents.Processed).
			Int("vulnerabilities", summary.Vulnerabilities.Processed).
			Int64("resolved", summary.Vulnerabilities.Resolved).
			Msg("Sync cycle completed")
	}

	if p.jobs != nil && p.config.JobRetention > 0 && ctx.Err() == nil {
		n, err := p.jobs.Prune(ctx, p.config.JobRetention)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to prune sync jobs")
		} else if n > 0 {
			p.logger.Info().Int64("jobs", n).Msg("Pruned sync jobs")
		}
	}

	p.mu.Lock()
	p.cycles++
	p.mu.Unlock()
}
