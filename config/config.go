// Package config loads the labkernel configuration file and converts it into
// the per-package configurations of the module loop, the microscope and the
// simulated instruments.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/instrument/sim"
	"github.com/tailored-agentic-units/labkernel/microscope"
	"github.com/tailored-agentic-units/labkernel/module"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds the file representation of every subsystem's settings.
type Config struct {
	Module     ModuleConfig     `json:"module" yaml:"module"`
	Microscope MicroscopeConfig `json:"microscope" yaml:"microscope"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Observer   ObserverConfig   `json:"observer" yaml:"observer"`
}

type ModuleConfig struct {
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	TickInterval   Duration `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`
	EventBuffer    int      `json:"event_buffer,omitempty" yaml:"event_buffer,omitempty"`
	MaxLockRetries int      `json:"max_lock_retries,omitempty" yaml:"max_lock_retries,omitempty"`
}

type MicroscopeConfig struct {
	LockTimeout      Duration               `json:"lock_timeout,omitempty" yaml:"lock_timeout,omitempty"`
	Optimization     OptimizationConfig     `json:"optimization" yaml:"optimization"`
	Characterization CharacterizationConfig `json:"characterization" yaml:"characterization"`
	Correlation      CorrelationConfig      `json:"correlation" yaml:"correlation"`
	Sample           SampleConfig           `json:"sample" yaml:"sample"`
}

type OptimizationConfig struct {
	XYStep          float64  `json:"xy_step,omitempty" yaml:"xy_step,omitempty"`
	ZStep           float64  `json:"z_step,omitempty" yaml:"z_step,omitempty"`
	SizeTolerance   float64  `json:"size_tolerance,omitempty" yaml:"size_tolerance,omitempty"`
	Tolerance       float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	StallIterations int      `json:"stall_iterations,omitempty" yaml:"stall_iterations,omitempty"`
	MaxIterations   int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	WarnSteps       int      `json:"warn_steps,omitempty" yaml:"warn_steps,omitempty"`
	AbortTimeout    Duration `json:"abort_timeout,omitempty" yaml:"abort_timeout,omitempty"`
}

type CharacterizationConfig struct {
	Attempts        int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Settle          Duration `json:"settle,omitempty" yaml:"settle,omitempty"`
	SkipCorrelation bool     `json:"skip_correlation,omitempty" yaml:"skip_correlation,omitempty"`
}

// CorrelationConfig shapes the photon-correlation histogram.
type CorrelationConfig struct {
	BinWidth    Duration `json:"bin_width,omitempty" yaml:"bin_width,omitempty"`
	Bins        int      `json:"bins,omitempty" yaml:"bins,omitempty"`
	Integration Duration `json:"integration,omitempty" yaml:"integration,omitempty"`
}

type SampleConfig struct {
	Threshold  float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Separation float64 `json:"separation,omitempty" yaml:"separation,omitempty"`
}

type SimulationConfig struct {
	Settle        Duration        `json:"settle,omitempty" yaml:"settle,omitempty"`
	Exposure      Duration        `json:"exposure,omitempty" yaml:"exposure,omitempty"`
	QueueCapacity int             `json:"queue_capacity,omitempty" yaml:"queue_capacity,omitempty"`
	LockTimeout   Duration        `json:"lock_timeout,omitempty" yaml:"lock_timeout,omitempty"`
	Lifetime      Duration        `json:"lifetime,omitempty" yaml:"lifetime,omitempty"`
	Background    float64         `json:"background,omitempty" yaml:"background,omitempty"`
	Emitters      []EmitterConfig `json:"emitters,omitempty" yaml:"emitters,omitempty"`
}

type EmitterConfig struct {
	Position instrument.Position `json:"position" yaml:"position"`
	Peak     float64             `json:"peak" yaml:"peak"`
	Sigma    float64             `json:"sigma" yaml:"sigma"`
}

// ObserverConfig selects the registered observers events are sent to and the
// log level of the slog handler.
type ObserverConfig struct {
	Observers   []string `json:"observers,omitempty" yaml:"observers,omitempty"`
	Level       string   `json:"level,omitempty" yaml:"level,omitempty"`
	MetricsAddr string   `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration built from every subsystem's defaults.
func Default() Config {
	mod := module.DefaultConfig()
	scope := microscope.DefaultConfig()
	simulation := sim.DefaultConfig()

	emitters := make([]EmitterConfig, len(simulation.Field.Emitters))
	for i, e := range simulation.Field.Emitters {
		emitters[i] = EmitterConfig{Position: e.Position, Peak: e.Peak, Sigma: e.Sigma}
	}

	return Config{
		Module: ModuleConfig{
			Name:           scope.Name,
			TickInterval:   Duration(mod.TickInterval),
			EventBuffer:    mod.EventBuffer,
			MaxLockRetries: mod.MaxLockRetries,
		},
		Microscope: MicroscopeConfig{
			LockTimeout: Duration(scope.LockTimeout),
			Optimization: OptimizationConfig{
				XYStep:          scope.Optimization.XYStep,
				ZStep:           scope.Optimization.ZStep,
				SizeTolerance:   scope.Optimization.SizeTolerance,
				Tolerance:       scope.Optimization.Tolerance,
				StallIterations: scope.Optimization.StallIterations,
				MaxIterations:   scope.Optimization.MaxIterations,
				WarnSteps:       scope.Optimization.WarnSteps,
				AbortTimeout:    Duration(scope.Optimization.AbortTimeout),
			},
			Characterization: CharacterizationConfig{
				Attempts:        scope.Characterization.Attempts,
				Settle:          Duration(scope.Characterization.Settle),
				SkipCorrelation: scope.Characterization.SkipCorrelation,
			},
			Correlation: CorrelationConfig{
				BinWidth:    Duration(scope.Correlation.BinWidth),
				Bins:        scope.Correlation.Bins,
				Integration: Duration(scope.Correlation.Integration),
			},
			Sample: SampleConfig{
				Threshold:  scope.Sample.Threshold,
				Separation: scope.Sample.Separation,
			},
		},
		Simulation: SimulationConfig{
			Settle:        Duration(simulation.Settle),
			Exposure:      Duration(simulation.Exposure),
			QueueCapacity: simulation.QueueCapacity,
			LockTimeout:   Duration(simulation.LockTimeout),
			Lifetime:      Duration(simulation.Lifetime),
			Background:    simulation.Field.Background,
			Emitters:      emitters,
		},
		Observer: ObserverConfig{
			Observers: []string{"slog"},
			Level:     "info",
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Module.Name != "" {
		c.Module.Name = source.Module.Name
	}
	if source.Module.TickInterval > 0 {
		c.Module.TickInterval = source.Module.TickInterval
	}
	if source.Module.EventBuffer > 0 {
		c.Module.EventBuffer = source.Module.EventBuffer
	}
	if source.Module.MaxLockRetries > 0 {
		c.Module.MaxLockRetries = source.Module.MaxLockRetries
	}

	if source.Microscope.LockTimeout > 0 {
		c.Microscope.LockTimeout = source.Microscope.LockTimeout
	}
	c.Microscope.Optimization.merge(&source.Microscope.Optimization)
	if source.Microscope.Characterization.Attempts > 0 {
		c.Microscope.Characterization.Attempts = source.Microscope.Characterization.Attempts
	}
	if source.Microscope.Characterization.Settle > 0 {
		c.Microscope.Characterization.Settle = source.Microscope.Characterization.Settle
	}
	if source.Microscope.Characterization.SkipCorrelation {
		c.Microscope.Characterization.SkipCorrelation = true
	}
	if source.Microscope.Correlation.BinWidth > 0 {
		c.Microscope.Correlation.BinWidth = source.Microscope.Correlation.BinWidth
	}
	if source.Microscope.Correlation.Bins > 0 {
		c.Microscope.Correlation.Bins = source.Microscope.Correlation.Bins
	}
	if source.Microscope.Correlation.Integration > 0 {
		c.Microscope.Correlation.Integration = source.Microscope.Correlation.Integration
	}
	if source.Microscope.Sample.Threshold > 0 {
		c.Microscope.Sample.Threshold = source.Microscope.Sample.Threshold
	}
	if source.Microscope.Sample.Separation > 0 {
		c.Microscope.Sample.Separation = source.Microscope.Sample.Separation
	}

	if source.Simulation.Settle > 0 {
		c.Simulation.Settle = source.Simulation.Settle
	}
	if source.Simulation.Exposure > 0 {
		c.Simulation.Exposure = source.Simulation.Exposure
	}
	if source.Simulation.QueueCapacity > 0 {
		c.Simulation.QueueCapacity = source.Simulation.QueueCapacity
	}
	if source.Simulation.LockTimeout > 0 {
		c.Simulation.LockTimeout = source.Simulation.LockTimeout
	}
	if source.Simulation.Lifetime > 0 {
		c.Simulation.Lifetime = source.Simulation.Lifetime
	}
	if source.Simulation.Background > 0 {
		c.Simulation.Background = source.Simulation.Background
	}
	if len(source.Simulation.Emitters) > 0 {
		c.Simulation.Emitters = source.Simulation.Emitters
	}

	if len(source.Observer.Observers) > 0 {
		c.Observer.Observers = source.Observer.Observers
	}
	if source.Observer.Level != "" {
		c.Observer.Level = source.Observer.Level
	}
	if source.Observer.MetricsAddr != "" {
		c.Observer.MetricsAddr = source.Observer.MetricsAddr
	}
}

func (c *OptimizationConfig) merge(source *OptimizationConfig) {
	if source.XYStep > 0 {
		c.XYStep = source.XYStep
	}
	if source.ZStep > 0 {
		c.ZStep = source.ZStep
	}
	if source.SizeTolerance > 0 {
		c.SizeTolerance = source.SizeTolerance
	}
	if source.Tolerance > 0 {
		c.Tolerance = source.Tolerance
	}
	if source.StallIterations > 0 {
		c.StallIterations = source.StallIterations
	}
	if source.MaxIterations > 0 {
		c.MaxIterations = source.MaxIterations
	}
	if source.WarnSteps > 0 {
		c.WarnSteps = source.WarnSteps
	}
	if source.AbortTimeout > 0 {
		c.AbortTimeout = source.AbortTimeout
	}
}

// Load reads a JSON (.json) or YAML config file, merges it over the defaults,
// applies LABKERNEL_* environment overrides and validates the result. An
// empty filename loads defaults and environment only.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var loaded Config
		if strings.EqualFold(filepath.Ext(filename), ".json") {
			err = json.Unmarshal(data, &loaded)
		} else {
			err = yaml.Unmarshal(data, &loaded)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		cfg.Merge(&loaded)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Module.TickInterval > 0, "module.tick_interval must be positive")
	check(c.Module.MaxLockRetries > 0, "module.max_lock_retries must be positive")
	check(c.Microscope.LockTimeout > 0, "microscope.lock_timeout must be positive")
	check(c.Microscope.Optimization.XYStep > 0, "microscope.optimization.xy_step must be positive")
	check(c.Microscope.Optimization.ZStep > 0, "microscope.optimization.z_step must be positive")
	check(c.Microscope.Characterization.Attempts > 0, "microscope.characterization.attempts must be positive")
	check(c.Microscope.Correlation.BinWidth > 0, "microscope.correlation.bin_width must be positive")
	check(c.Microscope.Correlation.Bins > 0, "microscope.correlation.bins must be positive")
	check(c.Microscope.Correlation.Integration > 0, "microscope.correlation.integration must be positive")
	check(c.Microscope.Sample.Separation >= 0, "microscope.sample.separation must not be negative")
	for i, e := range c.Simulation.Emitters {
		check(e.Sigma > 0, "simulation.emitters[%d].sigma must be positive", i)
	}
	if _, err := parseLevel(c.Observer.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ForModule converts the module section.
func (c *Config) ForModule() module.Config {
	return module.Config{
		Name:           c.Module.Name,
		TickInterval:   c.Module.TickInterval.Std(),
		EventBuffer:    c.Module.EventBuffer,
		MaxLockRetries: c.Module.MaxLockRetries,
	}
}

// ForMicroscope converts the microscope section. The procedure is named after
// the module.
func (c *Config) ForMicroscope() microscope.Config {
	opt := c.Microscope.Optimization
	return microscope.Config{
		Name:        c.Module.Name,
		LockTimeout: c.Microscope.LockTimeout.Std(),
		Optimization: microscope.OptimizationConfig{
			XYStep:          opt.XYStep,
			ZStep:           opt.ZStep,
			SizeTolerance:   opt.SizeTolerance,
			Tolerance:       opt.Tolerance,
			StallIterations: opt.StallIterations,
			MaxIterations:   opt.MaxIterations,
			WarnSteps:       opt.WarnSteps,
			AbortTimeout:    opt.AbortTimeout.Std(),
		},
		Characterization: microscope.CharacterizationConfig{
			Attempts:        c.Microscope.Characterization.Attempts,
			Settle:          c.Microscope.Characterization.Settle.Std(),
			SkipCorrelation: c.Microscope.Characterization.SkipCorrelation,
		},
		Correlation: microscope.CorrelationConfig{
			BinWidth:    c.Microscope.Correlation.BinWidth.Std(),
			Bins:        c.Microscope.Correlation.Bins,
			Integration: c.Microscope.Correlation.Integration.Std(),
		},
		Sample: microscope.SampleConfig{
			Threshold:  c.Microscope.Sample.Threshold,
			Separation: c.Microscope.Sample.Separation,
		},
	}
}

// ForSimulation converts the simulation section.
func (c *Config) ForSimulation() sim.Config {
	emitters := make([]sim.Emitter, len(c.Simulation.Emitters))
	for i, e := range c.Simulation.Emitters {
		emitters[i] = sim.Emitter{Position: e.Position, Peak: e.Peak, Sigma: e.Sigma}
	}
	return sim.Config{
		Settle:        c.Simulation.Settle.Std(),
		Exposure:      c.Simulation.Exposure.Std(),
		QueueCapacity: c.Simulation.QueueCapacity,
		LockTimeout:   c.Simulation.LockTimeout.Std(),
		Lifetime:      c.Simulation.Lifetime.Std(),
		Field: sim.Field{
			Background: c.Simulation.Background,
			Emitters:   emitters,
		},
	}
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Observer.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug", "verbose":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown observer.level %q", ErrInvalid, s)
	}
}
