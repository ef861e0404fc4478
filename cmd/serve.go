package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ctut-gis/atm-cli/internal/config"
	"github.com/ctut-gis/atm-cli/internal/monitoring"
	"github.com/ctut-gis/atm-cli/internal/pipeline"
	"github.com/ctut-gis/atm-cli/internal/server"
)

const (
	shutdownTimeout   = 10 * time.Second
	cachePurgeEvery   = 24 * time.Hour
	readHeaderTimeout = 10 * time.Second
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the snapshot and frontend over HTTP",
	Long: "Starts the HTTP server for /api/atm, /api/banks, /health, /metrics, /data and the static frontend. " +
		"With --schedule (or schedule.enabled) enrichment also runs periodically in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveSchedule {
			cfg.Schedule.Enabled = true
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		mode, err := resolveMode("", cfg.Pipeline.Mode)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg, envOptions{mode: mode})
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildHandler(env, cfg),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		var sched *gocron.Scheduler
		if cfg.Schedule.Enabled || (env.Store != nil && cfg.Monitoring.Enabled()) {
			if sched, err = newScheduler(ctx, env, cfg); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("snapshot", env.Snapshots.Path()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if sched != nil {
			g.Go(func() error {
				zap.L().Info("starting scheduler",
					zap.Int("jobs", sched.Len()),
					zap.Bool("enrichment", cfg.Schedule.Enabled),
					zap.Duration("interval", cfg.Schedule.Interval),
				)
				sched.StartAsync()
				<-gctx.Done()
				sched.Stop()
				zap.L().Info("scheduler stopped")
				return nil
			})
		}

		return g.Wait()
	},
}

// buildHandler wires the HTTP router from the configuration.
func buildHandler(env *pipelineEnv, c *config.Config) http.Handler {
	return server.New(server.Config{
		StaticDir:      c.Server.StaticDir,
		DataDir:        c.Server.DataDir,
		AllowedOrigins: c.Server.AllowedOrigins,
	}, env.Snapshots, env.Metrics).Handler()
}

// newScheduler registers the periodic enrichment job when scheduling is
// enabled and, with a store, the geocode cache purge and the alert check.
// Jobs never overlap themselves.
func newScheduler(ctx context.Context, env *pipelineEnv, c *config.Config) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if c.Schedule.Enabled {
		s.Every(c.Schedule.Interval)
		if !c.Schedule.RunOnStart {
			s.WaitForSchedule()
		}
		if _, err := s.Do(func() { scheduledRun(ctx, env.Pipeline) }); err != nil {
			return nil, eris.Wrap(err, "schedule enrichment")
		}
	}

	if env.Store == nil {
		return s, nil
	}
	st := env.Store

	if _, err := s.Every(cachePurgeEvery).Do(func() {
		n, err := st.DeleteExpiredAddresses(ctx)
		if err != nil {
			zap.L().Warn("geocode cache purge failed", zap.Error(err))
			return
		}
		zap.L().Info("geocode cache purged", zap.Int("deleted", n))
	}); err != nil {
		return nil, eris.Wrap(err, "schedule cache purge")
	}

	if c.Monitoring.Enabled() {
		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)
		if _, err := s.Every(checker.Interval()).WaitForSchedule().Do(func() { checker.Check(ctx) }); err != nil {
			return nil, eris.Wrap(err, "schedule alert check")
		}
	}
	return s, nil
}

// scheduledRun runs one pass and logs the outcome; errors never stop the
// scheduler.
func scheduledRun(ctx context.Context, p *pipeline.Pipeline) {
	log := zap.L().With(zap.String("component", "scheduler"))
	res, err := p.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		log.Warn("scheduled run skipped, previous run still in progress")
	case err != nil:
		log.Error("scheduled run failed", zap.Error(err))
	default:
		log.Info("scheduled run complete",
			zap.String("run_id", res.RunID),
			zap.Int("records", res.Records),
			zap.Bool("written", res.Written),
		)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "run enrichment periodically (interval from schedule.interval)")
	rootCmd.AddCommand(serveCmd)
}
