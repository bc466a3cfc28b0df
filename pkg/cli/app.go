package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/alerts"
	"github.com/mfreeman451/telemetrysync/pkg/config"
	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/events"
	"github.com/mfreeman451/telemetrysync/pkg/identity"
	"github.com/mfreeman451/telemetrysync/pkg/ledger"
	"github.com/mfreeman451/telemetrysync/pkg/logger"
	"github.com/mfreeman451/telemetrysync/pkg/metrics"
	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/mfreeman451/telemetrysync/pkg/winver"
	"github.com/rs/zerolog"
)

// app holds the configuration and lazily opened collaborators shared by
// every command. Close releases whatever was opened.
type app struct {
	opts   options
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
	errOut io.Writer

	store     *db.DB
	client    *sentinelone.HTTPClient
	metrics   *metrics.Metrics
	publisher *events.Publisher
	hub       *events.Hub
	jobs      *ledger.Ledger
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, logger: zerolog.Nop()}
}

func (a *app) init() error {
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}

	if a.opts.logLevel != "" {
		cfg.Logging.Level = a.opts.logLevel
	}

	log, err := logger.NewWithWriter(cfg.Logging, a.errOut)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = log

	return nil
}

func (a *app) db(ctx context.Context) (*db.DB, error) {
	if a.store != nil {
		return a.store, nil
	}

	store, err := db.New(ctx, a.cfg.Database.Path, a.logger)
	if err != nil {
		return nil, err
	}

	a.store = store

	return store, nil
}

func (a *app) sentinelOne() (*sentinelone.HTTPClient, error) {
	if a.client != nil {
		return a.client, nil
	}

	if err := a.cfg.RequireSentinelOne(); err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if timeout := time.Duration(a.cfg.SentinelOne.Timeout); timeout > 0 {
		httpClient = &http.Client{Timeout: timeout}
	}

	client, err := sentinelone.NewClient(sentinelone.Config{
		BaseURL:           a.cfg.SentinelOne.BaseURL,
		APIToken:          a.cfg.SentinelOne.APIToken,
		RequestsPerSecond: a.cfg.SentinelOne.RequestsPerSecond,
		Burst:             a.cfg.SentinelOne.Burst,
		HTTPClient:        httpClient,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, err
	}

	a.client = client

	return client, nil
}

// ledger is shared by every component of the process so FailOpen sees
// every job the process started.
func (a *app) ledger(ctx context.Context) (*ledger.Ledger, error) {
	if a.jobs != nil {
		return a.jobs, nil
	}

	store, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	a.jobs = ledger.New(store, a.logger)

	return a.jobs, nil
}

func (a *app) resolver(ctx context.Context) (*identity.Resolver, error) {
	store, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	client, err := a.sentinelOne()
	if err != nil {
		return nil, err
	}

	return identity.NewResolver(store, client, a.logger), nil
}

func (a *app) evaluator(ctx context.Context) (*winver.Evaluator, error) {
	store, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	return winver.NewEvaluator(store, a.cfg.Windows.ParseCacheSize, a.logger)
}

func (a *app) runMetrics() *metrics.Metrics {
	if a.metrics == nil {
		a.metrics = metrics.New(a.cfg.Metrics)
	}

	return a.metrics
}

// orchestrator wires the sync engine with every optional sink the
// configuration enables.
func (a *app) orchestrator(ctx context.Context) (*syncer.Orchestrator, error) {
	store, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	client, err := a.sentinelOne()
	if err != nil {
		return nil, err
	}

	jobLedger, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher, err := alerts.NewDispatcher(a.cfg.Webhooks, a.logger)
	if err != nil {
		return nil, err
	}

	deps := syncer.Dependencies{
		Client:   client,
		Store:    store,
		Resolver: identity.NewResolver(store, client, a.logger),
		Ledger:   jobLedger,
		Recorder: a.runMetrics(),
		Alerter:  dispatcher,
		Logger:   a.logger,
	}

	var sinks events.Fanout

	if a.cfg.Events.NATSURL != "" {
		if a.publisher == nil {
			a.publisher, err = events.Connect(a.cfg.Events.NATSURL, a.cfg.Events.SubjectPrefix, a.logger)
			if err != nil {
				return nil, err
			}
		}

		sinks = append(sinks, a.publisher)
	}

	if a.hub != nil {
		sinks = append(sinks, a.hub)
	}

	if len(sinks) > 0 {
		deps.Events = sinks
	}

	return syncer.New(deps, syncer.Options{
		PageSize:    a.cfg.Sync.PageSize,
		MaxPages:    a.cfg.Sync.MaxPages,
		PageTimeout: time.Duration(a.cfg.Sync.PageTimeout),
		Retry: syncer.RetryPolicy{
			Attempts:  a.cfg.Sync.RetryAttempts,
			BaseDelay: time.Duration(a.cfg.Sync.RetryBaseDelay),
			MaxDelay:  time.Duration(a.cfg.Sync.RetryMaxDelay),
		},
	})
}

func (a *app) Close() error {
	var errs []error

	if a.hub != nil {
		errs = append(errs, a.hub.Close())
	}

	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}

	if a.store != nil {
		errs = append(errs, a.store.Close())
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}
