package engine

import (
	"log/slog"
	"time"

	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
)

// Observer receives per-trial timings, typically a metrics collector.
type Observer interface {
	ObserveTrial(d time.Duration, degenerate bool)
}

// ProgressFunc is invoked synchronously from the simulation loop with the
// number of trials finished so far.
type ProgressFunc func(trialsDone int)

type options struct {
	backend  Backend
	progress ProgressFunc
	log      *slog.Logger
	observer Observer
}

// Option configures a simulation.
type Option func(*options)

// WithBackend replaces the native gonum backend.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithLogger sets the logger used for run-level messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver attaches a trial observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func buildOptions(opts []Option) *options {
	o := &options{
		backend: NativeBackend{},
		log:     logger.Default,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
