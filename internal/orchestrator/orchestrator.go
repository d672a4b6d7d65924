// Package orchestrator turns a maintenance into interpreter runs, serially
// or on a worker pool, and merges the per-host results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agent462/netmaint/internal/executor"
	"github.com/agent462/netmaint/internal/interpreter"
	"github.com/agent462/netmaint/internal/logging"
	"github.com/agent462/netmaint/internal/maintenance"
)

// ErrConfiguration is the maintenance package's configuration error,
// re-exported for callers that only deal with the orchestrator.
var ErrConfiguration = maintenance.ErrConfiguration

// ResultMap maps a hostname to its result.
type ResultMap map[string]*interpreter.HostResult

// Credentials are the login used on every device.
type Credentials struct {
	Username string
	Password string
}

// String never reveals the password.
func (c Credentials) String() string {
	return c.Username + ":********"
}

// GoString covers %#v.
func (c Credentials) GoString() string {
	return fmt.Sprintf("orchestrator.Credentials{Username: %q, Password: \"********\"}", c.Username)
}

// Runner executes one host job. *interpreter.Interpreter satisfies it.
type Runner interface {
	Run(ctx context.Context, job interpreter.Job) (*interpreter.HostResult, error)
}

// Orchestrator runs maintenances.
type Orchestrator struct {
	runner Runner
	logger *zap.Logger
	driver func(host string) string

	poolOpts []executor.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDrivers sets a lookup for hosts whose dialect is forced instead
// of probed. An empty answer keeps auto-detection.
func WithDrivers(fn func(host string) string) Option {
	return func(o *Orchestrator) { o.driver = fn }
}

// WithPoolOptions passes extra options to the worker pool used for
// parallel runs.
func WithPoolOptions(opts ...executor.Option) Option {
	return func(o *Orchestrator) { o.poolOpts = append(o.poolOpts, opts...) }
}

// New returns an Orchestrator that runs every host through r.
func New(r Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{runner: r, logger: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	host   string
	result *interpreter.HostResult
}

// Execute runs every action of m. With one worker, or when m is not
// MPCompat, actions run one after another in order; otherwise they are
// spread over a pool of workers.
//
// The returned map holds every result gathered, also when err is
// non-nil. err reports a run-level stop: ErrConfiguration, a refused
// login, an operator abort or an interrupt.
func (o *Orchestrator) Execute(ctx context.Context, m *maintenance.Maintenance, creds Credentials, workers int) (ResultMap, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1, got %d", ErrConfiguration, workers)
	}

	jobs := make([]interpreter.Job, len(m.Actions))
	for i, a := range m.Actions {
		jobs[i] = interpreter.Job{
			Host:                   a.Hostname,
			Login:                  creds.Username,
			Password:               creds.Password,
			Commands:               a.Commands,
			AbortOnError:           true,
			ConfMode:               false,
			Save:                   false,
			ContinueOnLoginFailure: true,
			PauseEnd:               a.Pause,
		}
		if o.driver != nil {
			jobs[i].Driver = o.driver(a.Hostname)
		}
	}

	start := time.Now()
	o.logger.Info("maintenance started",
		zap.String("maintenance", m.Name),
		zap.Int("actions", len(jobs)),
		zap.Int("workers", workers),
		zap.Bool("mp_compat", m.MPCompat),
	)

	var (
		results ResultMap
		err     error
	)
	if workers == 1 || !m.MPCompat {
		results, err = o.serial(ctx, jobs)
	} else {
		results, err = o.parallel(ctx, jobs, workers)
	}

	o.logger.Info("maintenance finished",
		zap.String("maintenance", m.Name),
		zap.Int("hosts", len(results)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return results, err
}

func (o *Orchestrator) serial(ctx context.Context, jobs []interpreter.Job) (ResultMap, error) {
	results := make(ResultMap, len(jobs))
	for _, job := range jobs {
		res, err := o.runner.Run(ctx, job)
		if res != nil {
			logging.Emit(o.logger, res.Logs, zap.String("host", job.Host))
			o.merge(results, job.Host, res)
		}
		if err != nil {
			return results, fmt.Errorf("%s: %w", job.Host, err)
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

func (o *Orchestrator) parallel(ctx context.Context, jobs []interpreter.Job, workers int) (ResultMap, error) {
	// Any per-host error becomes part of that host's result; a parallel
	// run cannot be stopped by one device.
	work := func(ctx context.Context, job interpreter.Job) outcome {
		res, err := o.runner.Run(ctx, job)
		if res == nil {
			res = interpreter.Degraded("%s run returned no result: %v", job.Host, err)
		} else if err != nil {
			res.Logf(logging.Critical, "%s run stopped: %v", job.Host, err)
		}
		return outcome{host: job.Host, result: res}
	}
	onPanic := func(job interpreter.Job, v any) outcome {
		return outcome{
			host:   job.Host,
			result: interpreter.Degraded("%s worker crashed: %v", job.Host, v),
		}
	}

	opts := append([]executor.Option{
		executor.WithWorkers(workers),
		executor.WithLogger(o.logger),
		executor.WithOnResult(func(out outcome) {
			logging.Emit(o.logger, out.result.Logs, zap.String("host", out.host))
		}),
	}, o.poolOpts...)

	pool := executor.New(work, onPanic, opts...)
	batch, err := pool.Run(ctx, jobs)
	if batch == nil {
		return nil, err
	}

	results := make(ResultMap, len(batch.Results))
	for _, out := range batch.Results {
		o.merge(results, out.host, out.result)
	}
	if err != nil {
		return results, fmt.Errorf("parallel run: %w", err)
	}
	return results, nil
}

func (o *Orchestrator) merge(into ResultMap, host string, res *interpreter.HostResult) {
	if _, dup := into[host]; dup {
		o.logger.Warn("host appears more than once, keeping the latest result", zap.String("host", host))
	}
	into[host] = res
}

// Merge folds maps left to right. A later entry replaces an earlier one
// for the same host, with a warning on logger.
func Merge(logger *zap.Logger, maps ...ResultMap) ResultMap {
	if logger == nil {
		logger = logging.Nop()
	}
	o := &Orchestrator{logger: logger}
	merged := make(ResultMap)
	for _, m := range maps {
		for host, res := range m {
			o.merge(merged, host, res)
		}
	}
	return merged
}

// Interrupted reports whether err came from an interrupt rather than a
// device or the operator.
func Interrupted(err error) bool {
	return errorsIsAny(err, executor.ErrInterrupted, executor.ErrForcedShutdown, executor.ErrHardExit, context.Canceled)
}

// Abandoned reports whether workers may still be running after err.
func Abandoned(err error) bool {
	return errorsIsAny(err, executor.ErrForcedShutdown, executor.ErrHardExit)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
