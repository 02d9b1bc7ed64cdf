package config_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/labkernel/config"
	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/instrument/sim"
	"github.com/tailored-agentic-units/labkernel/microscope"
	"github.com/tailored-agentic-units/labkernel/module"
)

func env(vars map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault_MatchesPackageDefaults(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, module.DefaultConfig().TickInterval, cfg.ForModule().TickInterval)
	assert.Equal(t, microscope.DefaultConfig().Optimization, cfg.ForMicroscope().Optimization)
	assert.Equal(t, microscope.DefaultConfig().Characterization, cfg.ForMicroscope().Characterization)
	assert.Equal(t, microscope.DefaultConfig().Correlation, cfg.ForMicroscope().Correlation)
	assert.Equal(t, microscope.DefaultConfig().Sample, cfg.ForMicroscope().Sample)
	assert.Equal(t, sim.DefaultConfig(), cfg.ForSimulation())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestConfig_Merge_ZeroValuesPreserveDefaults(t *testing.T) {
	cfg := config.Default()
	original := cfg

	cfg.Merge(&config.Config{})
	assert.Equal(t, original, cfg)

	cfg.Merge(&config.Config{
		Module:     config.ModuleConfig{Name: "confocal", MaxLockRetries: 5},
		Microscope: config.MicroscopeConfig{Optimization: config.OptimizationConfig{XYStep: 0.1}},
		Observer:   config.ObserverConfig{Observers: []string{"slog", "prometheus"}},
	})
	assert.Equal(t, "confocal", cfg.Module.Name)
	assert.Equal(t, 5, cfg.Module.MaxLockRetries)
	assert.Equal(t, original.Module.TickInterval, cfg.Module.TickInterval)
	assert.Equal(t, 0.1, cfg.Microscope.Optimization.XYStep)
	assert.Equal(t, original.Microscope.Optimization.ZStep, cfg.Microscope.Optimization.ZStep)
	assert.Equal(t, []string{"slog", "prometheus"}, cfg.Observer.Observers)
	assert.Equal(t, "confocal", cfg.ForMicroscope().Name)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labkernel.yaml")
	content := `
module:
  name: confocal
  tick_interval: 2ms
microscope:
  lock_timeout: 25ms
  optimization:
    z_step: 0.75
    size_tolerance: 0.002
  characterization:
    attempts: 4
    skip_correlation: true
  correlation:
    bin_width: 1ns
    integration: 50ms
  sample:
    threshold: 2000
simulation:
  lifetime: 12ns
  emitters:
    - position: {x: 1, y: 2, z: 0}
      peak: 1000
      sigma: 0.5
observer:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "confocal", cfg.Module.Name)
	assert.Equal(t, 2*time.Millisecond, cfg.ForModule().TickInterval)
	assert.Equal(t, 25*time.Millisecond, cfg.ForMicroscope().LockTimeout)
	assert.Equal(t, 0.75, cfg.ForMicroscope().Optimization.ZStep)
	assert.Equal(t, 0.002, cfg.ForMicroscope().Optimization.SizeTolerance)
	assert.Equal(t, 4, cfg.ForMicroscope().Characterization.Attempts)
	assert.True(t, cfg.ForMicroscope().Characterization.SkipCorrelation)
	assert.Equal(t, time.Nanosecond, cfg.ForMicroscope().Correlation.BinWidth)
	assert.Equal(t, 50*time.Millisecond, cfg.ForMicroscope().Correlation.Integration)
	assert.Equal(t, microscope.DefaultConfig().Correlation.Bins, cfg.ForMicroscope().Correlation.Bins)
	assert.Equal(t, 2000.0, cfg.ForMicroscope().Sample.Threshold)
	assert.Equal(t, 12*time.Nanosecond, cfg.ForSimulation().Lifetime)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	field := cfg.ForSimulation().Field
	require.Len(t, field.Emitters, 1)
	assert.Equal(t, instrument.Position{X: 1, Y: 2}, field.Emitters[0].Position)
	assert.Equal(t, sim.DefaultConfig().Field.Background, field.Background)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labkernel.json")
	content := `{
		"module": {"tick_interval": "5ms", "max_lock_retries": 7},
		"microscope": {"optimization": {"abort_timeout": 1000000}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Millisecond, cfg.ForModule().TickInterval)
	assert.Equal(t, 7, cfg.ForModule().MaxLockRetries)
	assert.Equal(t, time.Millisecond, cfg.ForMicroscope().Optimization.AbortTimeout)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("module:\n  tick_interval: soon\n"), 0o644))
	_, err = config.Load(bad)
	assert.ErrorContains(t, err, "invalid duration")

	level := filepath.Join(dir, "level.yaml")
	require.NoError(t, os.WriteFile(level, []byte("observer:\n  level: loud\n"), 0o644))
	_, err = config.Load(level)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()

	err := cfg.ApplyEnv(env(map[string]string{
		"LABKERNEL_TICK_INTERVAL":    "3ms",
		"LABKERNEL_XY_STEP":          "0.05",
		"LABKERNEL_ATTEMPTS":         "6",
		"LABKERNEL_SIZE_TOLERANCE":   "0.005",
		"LABKERNEL_SKIP_CORRELATION": "true",
		"LABKERNEL_HBT_INTEGRATION":  "2ms",
		"LABKERNEL_OBSERVERS":        "slog, otel,,prometheus",
		"LABKERNEL_LOG_LEVEL":        "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Millisecond, cfg.Module.TickInterval.Std())
	assert.Equal(t, 0.05, cfg.Microscope.Optimization.XYStep)
	assert.Equal(t, 6, cfg.Microscope.Characterization.Attempts)
	assert.Equal(t, 0.005, cfg.Microscope.Optimization.SizeTolerance)
	assert.True(t, cfg.Microscope.Characterization.SkipCorrelation)
	assert.Equal(t, 2*time.Millisecond, cfg.Microscope.Correlation.Integration.Std())
	assert.Equal(t, []string{"slog", "otel", "prometheus"}, cfg.Observer.Observers)
	assert.Equal(t, "info", cfg.Observer.Level)
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{name: "integer", vars: map[string]string{"LABKERNEL_ATTEMPTS": "many"}},
		{name: "float", vars: map[string]string{"LABKERNEL_Z_STEP": "wide"}},
		{name: "duration", vars: map[string]string{"LABKERNEL_LOCK_TIMEOUT": "10"}},
		{name: "bool", vars: map[string]string{"LABKERNEL_SKIP_CORRELATION": "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			assert.ErrorIs(t, cfg.ApplyEnv(env(tt.vars)), config.ErrInvalid)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Module.TickInterval = 0
	cfg.Simulation.Emitters = []config.EmitterConfig{{Peak: 1}}
	cfg.Microscope.Correlation.Bins = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.ErrorContains(t, err, "tick_interval")
	assert.ErrorContains(t, err, "emitters[0].sigma")
	assert.ErrorContains(t, err, "correlation.bins")
}

func TestDuration_Encoding(t *testing.T) {
	d := config.Duration(1500 * time.Millisecond)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"1.5s"`, string(data))

	out, err := yaml.Marshal(struct {
		D config.Duration `yaml:"d"`
	}{D: d})
	require.NoError(t, err)
	assert.Equal(t, "d: 1.5s\n", string(out))
}
