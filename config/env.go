package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const EnvPrefix = "LABKERNEL_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from LABKERNEL_* variables. A variable that is
// set but cannot be parsed is an error.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("MODULE_NAME", &c.Module.Name)
	e.duration("TICK_INTERVAL", &c.Module.TickInterval)
	e.integer("EVENT_BUFFER", &c.Module.EventBuffer)
	e.integer("MAX_LOCK_RETRIES", &c.Module.MaxLockRetries)

	e.duration("LOCK_TIMEOUT", &c.Microscope.LockTimeout)
	e.float("XY_STEP", &c.Microscope.Optimization.XYStep)
	e.float("Z_STEP", &c.Microscope.Optimization.ZStep)
	e.float("SIZE_TOLERANCE", &c.Microscope.Optimization.SizeTolerance)
	e.float("TOLERANCE", &c.Microscope.Optimization.Tolerance)
	e.integer("MAX_ITERATIONS", &c.Microscope.Optimization.MaxIterations)
	e.duration("ABORT_TIMEOUT", &c.Microscope.Optimization.AbortTimeout)
	e.integer("ATTEMPTS", &c.Microscope.Characterization.Attempts)
	e.boolean("SKIP_CORRELATION", &c.Microscope.Characterization.SkipCorrelation)
	e.duration("HBT_INTEGRATION", &c.Microscope.Correlation.Integration)
	e.float("SAMPLE_THRESHOLD", &c.Microscope.Sample.Threshold)

	e.duration("SIM_SETTLE", &c.Simulation.Settle)
	e.duration("SIM_EXPOSURE", &c.Simulation.Exposure)

	if v, ok := e.get("OBSERVERS"); ok {
		var names []string
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		c.Observer.Observers = names
	}
	e.str("LOG_LEVEL", &c.Observer.Level)
	e.str("METRICS_ADDR", &c.Observer.MetricsAddr)

	return e.err
}

type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, name, value, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(name string, dst *Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = Duration(d)
	}
}
