package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/stepflow/internal/config"
	"github.com/harun/stepflow/internal/logger"
	"github.com/harun/stepflow/internal/observability"
	"github.com/harun/stepflow/internal/tracing"
	"github.com/harun/stepflow/pkg/planner"
	"github.com/harun/stepflow/pkg/store"
	"github.com/harun/stepflow/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// runtime bundles the collaborators a command needs. Optional pieces are nil
// when disabled in config.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	store   *store.Store
	audit   *observability.AuditLogger
	stream  *stream.Server
	metrics *http.Server

	closers []func(context.Context) error
}

type runtimeOptions struct {
	withStore   bool
	withServers bool
	streamAddr  string // enables the event stream when set
	metricsAddr string // enables the metrics endpoint when set
}

func loadRuntime(cmd *cobra.Command, flags *globalFlags, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if opts.streamAddr != "" {
		cfg.Stream.Enabled = true
		cfg.Stream.Addr = opts.streamAddr
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		log:    log,
		logger: log.Component("cli"),
	}
	rt.closers = append(rt.closers, func(context.Context) error { return log.Close() })

	if err := rt.init(cmd, opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(cmd *cobra.Command, opts runtimeOptions) error {
	cfg := rt.cfg

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Exporter:    cfg.Tracing.Exporter,
			Writer:      cmd.ErrOrStderr(),
		}); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		rt.closers = append(rt.closers, tracing.ShutdownOpenTelemetry)
	}

	if opts.withStore && cfg.Store.Enabled {
		s, err := store.Open(cfg.Store.Path, rt.log.Zerolog())
		if err != nil {
			return err
		}
		rt.store = s
		rt.closers = append(rt.closers, func(context.Context) error { return s.Close() })
	}

	if !opts.withServers {
		return nil
	}

	if cfg.Audit.Enabled {
		audit, err := observability.OpenAuditLogger(cfg.Audit.Path)
		if err != nil {
			return err
		}
		rt.audit = audit
		rt.closers = append(rt.closers, func(context.Context) error { return audit.Close() })
	}

	if cfg.Stream.Enabled {
		srv := stream.NewServer(cfg.Stream.Addr, rt.log.Zerolog())
		if err := srv.Start(); err != nil {
			return err
		}
		rt.stream = srv
		rt.closers = append(rt.closers, srv.Stop)
	}

	if cfg.Metrics.Enabled {
		observability.EnsureRegistered()
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server error")
			}
		}()
		rt.logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
		rt.metrics = srv
		rt.closers = append(rt.closers, srv.Shutdown)
	}

	return nil
}

// Close releases everything in reverse order of acquisition.
func (rt *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// executorOptions maps the engine config onto executor options.
func (rt *runtime) executorOptions() []planner.Option {
	eng := rt.cfg.Engine

	policy := planner.RetryPolicy{MaxAttempts: eng.MaxAttempts}
	if eng.Backoff.Enabled {
		policy.NewBackOff = planner.ExponentialBackOff(eng.Backoff.Initial, eng.Backoff.MaxInterval, eng.Backoff.Multiplier)
	}

	return []planner.Option{
		planner.WithRetryPolicy(policy),
		planner.WithMaxConcurrency(eng.MaxConcurrency),
		planner.WithRoundLimit(eng.RoundLimit),
		planner.WithStepTimeout(eng.StepTimeout),
		planner.WithRunTimeout(eng.RunTimeout),
		planner.WithLogger(rt.log.Zerolog()),
	}
}
