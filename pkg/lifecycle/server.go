package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	ShutdownTimeout = 10 * time.Second
)

// Service defines the interface that all services must implement. Start may
// block until ctx is canceled or Stop is called.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for running a set of services.
type ServerOptions struct {
	ServiceName     string
	Services        []Service
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
	// Signals defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// RunServer starts every service and blocks until a signal arrives, ctx is
// canceled, or a service fails. All services are then stopped.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := opts.Logger.With().Str("service", opts.ServiceName).Logger()
	logger.Info().Int("services", len(opts.Services)).Msg("Starting service")

	// Create error channel for service errors
	errChan := make(chan error, len(opts.Services))

	for _, svc := range opts.Services {
		go func(svc Service) {
			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}(svc)
	}

	return handleShutdown(ctx, cancel, opts, logger, errChan)
}

func handleShutdown(
	ctx context.Context, cancel context.CancelFunc, opts *ServerOptions, logger zerolog.Logger, errChan chan error) error {
	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)

	defer signal.Stop(sigChan)

	var cause error

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, initiating shutdown")
	case err := <-errChan:
		logger.Error().Err(err).Msg("Service failed, initiating shutdown")

		cause = fmt.Errorf("service error: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("Context canceled, initiating shutdown")
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = ShutdownTimeout
	}

	// Create timeout context for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()

	var errs []error

	// Stop in reverse start order
	for i := len(opts.Services) - 1; i >= 0; i-- {
		if err := opts.Services[i].Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during service shutdown")

			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(cause, fmt.Errorf("shutdown error: %w", errors.Join(errs...)))
	}

	logger.Info().Msg("Shutdown complete")

	return cause
}
