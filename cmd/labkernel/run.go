package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/labkernel/config"
	"github.com/tailored-agentic-units/labkernel/instrument/sim"
	"github.com/tailored-agentic-units/labkernel/microscope"
	"github.com/tailored-agentic-units/labkernel/module"
	"github.com/tailored-agentic-units/labkernel/observability"
)

const (
	pollInterval    = 20 * time.Millisecond
	shutdownTimeout = 2 * time.Second
)

// procedure is one CLI-triggered microscope run.
type procedure struct {
	name   string
	start  func(m *microscope.Microscope) error
	result func(m *microscope.Microscope) any
}

func execute(ctx context.Context, proc procedure) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Observer.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Observer.MetricsAddr = metricsAddr
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	observer, err := buildObserver(cfg.Observer.Observers, logger, slog.String("procedure", proc.name))
	if err != nil {
		return err
	}

	simCfg := cfg.ForSimulation()
	stage := sim.NewStage("stage", simCfg)
	counter := sim.NewCounter("counter", stage, simCfg)
	defer func() {
		if err := counter.Close(shutdownTimeout); err != nil {
			logger.Warn("closing counter", "error", err)
		}
		if err := stage.Close(shutdownTimeout); err != nil {
			logger.Warn("closing stage", "error", err)
		}
	}()

	if home {
		homeCtx, done := context.WithTimeout(ctx, shutdownTimeout)
		err := stage.Home(homeCtx)
		done()
		if err != nil {
			return fmt.Errorf("homing stage: %w", err)
		}
		logger.Info("stage homed")
	}

	scope, err := microscope.New(stage, counter, cfg.ForMicroscope(), microscope.WithObserver(observer))
	if err != nil {
		return err
	}
	mod := module.New(scope, cfg.ForModule(), module.WithObserver(observer))

	logger.Info("starting procedure", "procedure", proc.name, "module", mod.Name())
	if err := run(ctx, mod, scope, proc, cfg.Observer.MetricsAddr, logger); err != nil {
		return err
	}

	return report(os.Stdout, proc.result(scope), scope.Message())
}

// run drives mod until the procedure returns to Ready, ctx is cancelled or
// the loop fails.
func run(ctx context.Context, mod *module.Module, scope *microscope.Microscope, proc procedure, addr string, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return mod.Run(runCtx)
	})

	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	started := make(chan error, 1)
	if err := mod.Post(func() error {
		err := proc.start(scope)
		started <- err
		return err
	}); err != nil {
		return err
	}

	g.Go(func() error {
		defer cancel()

		select {
		case err := <-started:
			if err != nil {
				return err
			}
		case <-runCtx.Done():
			return nil
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				if scope.State() == microscope.Ready {
					return nil
				}
				logger.Debug("procedure running", "status", mod.Status(), "state", scope.State().String())
			}
		}
	})

	err := g.Wait()

	// The loop has exited, so the procedure can be stopped from here.
	if scope.State() != microscope.Ready {
		logger.Warn("procedure interrupted", "state", scope.State().String())
		if stopErr := scope.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}
	if w := mod.Warnings(); w > 0 {
		logger.Warn("procedure raised warnings", "count", w, "last", mod.LastWarning())
	}
	return err
}

// buildObserver resolves the configured observers. The slog observer writes
// to logger with attrs on every record; spans are only opened for events at
// info level and above.
func buildObserver(names []string, logger *slog.Logger, attrs ...slog.Attr) (observability.Observer, error) {
	observers := make([]observability.Observer, 0, len(names))
	for _, name := range names {
		if name == "slog" {
			observers = append(observers, observability.NewSlogObserver(logger, attrs...))
			continue
		}
		obs, err := observability.GetObserver(name)
		if err != nil {
			return nil, err
		}
		if name == "otel" {
			obs = observability.NewLevelFilter(observability.LevelInfo, obs)
		}
		observers = append(observers, obs)
	}
	return observability.NewMultiObserver(observers...), nil
}

func report(w io.Writer, result any, message string) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{
		"message": message,
		"result":  result,
	}); err != nil {
		return err
	}
	return enc.Close()
}
