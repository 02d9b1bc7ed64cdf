package microscope

import "time"

// OptimizationConfig tunes the count-rate optimization.
type OptimizationConfig struct {
	// XYStep and ZStep are the initial simplex extents in micrometres
	XYStep float64
	ZStep  float64

	// SizeTolerance is the simplex size in micrometres below which the
	// optimization has converged
	SizeTolerance float64

	// Tolerance is the absolute count-rate improvement below which an
	// iteration counts as stalled
	Tolerance       float64
	StallIterations int
	MaxIterations   int

	// WarnSteps is the number of minimizer iterations after which a
	// warning is raised
	WarnSteps int

	// AbortTimeout bounds the wait for the optimizer worker on stop
	AbortTimeout time.Duration
}

// CharacterizationConfig controls per-emitter characterization.
type CharacterizationConfig struct {
	// Attempts is the number of optimization runs tried per emitter
	Attempts int

	// Settle is the minimum wait after moving to an emitter
	Settle time.Duration

	// SkipCorrelation leaves out the photon-correlation measurement after an
	// emitter has been optimized.
	SkipCorrelation bool
}

// CorrelationConfig shapes photon-correlation (HBT) measurements.
type CorrelationConfig struct {
	BinWidth time.Duration
	Bins     int

	// Integration is the histogram integration time that ends a measurement
	Integration time.Duration
}

// SampleConfig controls emitter detection in sample characterization.
type SampleConfig struct {
	// Threshold is the minimum count rate of a scan point taken as an emitter
	Threshold float64

	// Separation is the minimum distance in micrometres between two emitters
	Separation float64
}

type Config struct {
	Name string

	// LockTimeout bounds each instrument data access from a state
	LockTimeout time.Duration

	Optimization     OptimizationConfig
	Characterization CharacterizationConfig
	Correlation      CorrelationConfig
	Sample           SampleConfig
}

func DefaultConfig() Config {
	return Config{
		Name:        "microscope",
		LockTimeout: 10 * time.Millisecond,
		Optimization: OptimizationConfig{
			XYStep:          0.25,
			ZStep:           0.5,
			SizeTolerance:   0.01,
			Tolerance:       1,
			StallIterations: 8,
			MaxIterations:   200,
			WarnSteps:       100,
			AbortTimeout:    2 * time.Second,
		},
		Characterization: CharacterizationConfig{
			Attempts: 3,
			Settle:   20 * time.Millisecond,
		},
		Correlation: CorrelationConfig{
			BinWidth:    500 * time.Picosecond,
			Bins:        256,
			Integration: 20 * time.Millisecond,
		},
		Sample: SampleConfig{
			Threshold:  5000,
			Separation: 0.5,
		},
	}
}

func (c *Config) Merge(source *Config) {
	if source.Name != "" {
		c.Name = source.Name
	}
	if source.LockTimeout > 0 {
		c.LockTimeout = source.LockTimeout
	}
	c.Optimization.Merge(&source.Optimization)
	c.Characterization.Merge(&source.Characterization)
	c.Correlation.Merge(&source.Correlation)
	c.Sample.Merge(&source.Sample)
}

func (c *OptimizationConfig) Merge(source *OptimizationConfig) {
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

func (c *CharacterizationConfig) Merge(source *CharacterizationConfig) {
	if source.Attempts > 0 {
		c.Attempts = source.Attempts
	}
	if source.Settle > 0 {
		c.Settle = source.Settle
	}
	if source.SkipCorrelation {
		c.SkipCorrelation = true
	}
}

func (c *CorrelationConfig) Merge(source *CorrelationConfig) {
	if source.BinWidth > 0 {
		c.BinWidth = source.BinWidth
	}
	if source.Bins > 0 {
		c.Bins = source.Bins
	}
	if source.Integration > 0 {
		c.Integration = source.Integration
	}
}

func (c *SampleConfig) Merge(source *SampleConfig) {
	if source.Threshold > 0 {
		c.Threshold = source.Threshold
	}
	if source.Separation > 0 {
		c.Separation = source.Separation
	}
}
