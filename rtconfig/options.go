// Package rtconfig provides the functional-options configuration surface
// used to build the runtime facade, grounded on config/options.go's
// Option/optionFunc idiom.
package rtconfig

import (
	"time"

	"github.com/kart-io/dispatchrt/rtlog"
	"github.com/kart-io/dispatchrt/telemetry"
)

// Config holds the fully-resolved runtime configuration built up by a
// sequence of Options.
type Config struct {
	PoolSize       int
	Logger         rtlog.Logger
	LogLevel       rtlog.Level
	WaitForTimeout time.Duration
	Telemetry      *telemetry.Config
	OnWorkerFault  func(error)
}

// Option configures a Config, mirroring config.Option.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// Default returns a Config with the runtime's baseline settings: a pool of
// 4 workers (resize via WithPoolSize), the stdout logger from rtlog.New at
// Warn level, a no-op worker fault callback, and telemetry disabled.
func Default() *Config {
	return &Config{
		PoolSize:       4,
		Logger:         rtlog.New(),
		LogLevel:       rtlog.Warn,
		WaitForTimeout: 0,
		OnWorkerFault:  func(error) {},
	}
}

// Build applies opts over Default and returns the resolved Config.
func Build(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.Logger != nil {
		c.Logger = c.Logger.LogMode(c.LogLevel)
	}
	return c
}

// WithPoolSize sets the initial number of Workers the default WorkerPool is
// created with.
func WithPoolSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.PoolSize = n
		}
	})
}

// WithLogger installs a custom Logger implementation.
func WithLogger(l rtlog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithLogLevel sets the verbosity the installed Logger is put into.
func WithLogLevel(level rtlog.Level) Option {
	return optionFunc(func(c *Config) {
		c.LogLevel = level
	})
}

// WithWaitForTimeout records d in Config.WaitForTimeout. No runtime
// component reads this value: SerialQueue.Sync always waits without a
// timeout.
func WithWaitForTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.WaitForTimeout = d
	})
}

// WithOnWorkerFault installs the callback every Worker reports recovered
// task panics to.
func WithOnWorkerFault(fn func(error)) Option {
	return optionFunc(func(c *Config) {
		if fn != nil {
			c.OnWorkerFault = fn
		}
	})
}

// WithTelemetry enables OpenTelemetry tracing and metrics using cfg.
func WithTelemetry(cfg telemetry.Config) Option {
	return optionFunc(func(c *Config) {
		c.Telemetry = &cfg
	})
}
