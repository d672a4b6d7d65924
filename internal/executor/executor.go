// Package executor distributes work units over a fixed set of worker
// goroutines and collects their results on a single channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidWorkers is returned by Run when fewer than one worker is
	// configured.
	ErrInvalidWorkers = errors.New("workers must be at least 1")

	// ErrInterrupted means an interrupt stopped the run and every worker
	// exited within the grace window.
	ErrInterrupted = errors.New("interrupted")

	// ErrForcedShutdown means workers were still running when the grace
	// window closed. They were abandoned and their late output dropped.
	ErrForcedShutdown = errors.New("workers did not stop in time, forced shutdown")

	// ErrHardExit means a second interrupt arrived during the grace
	// window.
	ErrHardExit = errors.New("second interrupt, hard exit")
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultMaxPolls     = 30
)

// WorkFunc processes one unit.
type WorkFunc[T, R any] func(ctx context.Context, unit T) R

// PanicFunc turns a panic raised while processing unit into a result.
type PanicFunc[T, R any] func(unit T, recovered any) R

type settings struct {
	workers      int
	pollInterval time.Duration
	maxPolls     int
	interrupts   <-chan os.Signal
	logger       *zap.Logger
	onResult     any
}

// Option configures a Pool.
type Option func(*settings)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

// WithPollInterval sets how often worker liveness is checked after an
// interrupt.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMaxPolls sets how many liveness checks happen before a forced
// shutdown.
func WithMaxPolls(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxPolls = n
		}
	}
}

// WithInterrupts replaces the SIGINT/SIGTERM subscription.
func WithInterrupts(ch <-chan os.Signal) Option {
	return func(s *settings) { s.interrupts = ch }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnResult registers fn to be called by the coordinator for every
// result as it arrives. New panics when R does not match the Pool's
// result type.
func WithOnResult[R any](fn func(R)) Option {
	return func(s *settings) { s.onResult = fn }
}

// Pool runs WorkFuncs on a fixed number of workers.
type Pool[T, R any] struct {
	work    WorkFunc[T, R]
	onPanic PanicFunc[T, R]
	settings
	emit func(R)
}

// New returns a Pool. onPanic may be nil, in which case a panicking
// unit yields the zero R.
func New[T, R any](work WorkFunc[T, R], onPanic PanicFunc[T, R], opts ...Option) *Pool[T, R] {
	s := settings{
		workers:      1,
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	p := &Pool[T, R]{work: work, onPanic: onPanic, settings: s}
	if s.onResult != nil {
		fn, ok := s.onResult.(func(R))
		if !ok {
			var zero R
			panic(fmt.Sprintf("executor: WithOnResult callback is %T, want func(%T)", s.onResult, zero))
		}
		p.emit = fn
	}
	return p
}

type job[T any] struct {
	unit T
	end  bool
}

type message[R any] struct {
	worker int
	done   bool
	result R
}

type workerKey struct{}

// WorkerFromContext returns the id of the worker running the unit.
func WorkerFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerKey{}).(int)
	return id, ok
}

// supervisor tracks which workers are still running.
type supervisor struct {
	mu    sync.Mutex
	alive map[int]bool
}

func newSupervisor(n int) *supervisor {
	s := &supervisor{alive: make(map[int]bool, n)}
	for i := 0; i < n; i++ {
		s.alive[i] = true
	}
	return s
}

func (s *supervisor) finish(worker int) {
	s.mu.Lock()
	delete(s.alive, worker)
	s.mu.Unlock()
}

func (s *supervisor) running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alive)
}

// Run assigns units round-robin, unit i to worker i%n, and collects
// results until every worker has reported completion.
//
// After the first interrupt, workers stop taking units and the pool
// waits up to pollInterval*maxPolls for them to exit. The returned Batch
// holds whatever arrived before Run returned, even on error.
func (p *Pool[T, R]) Run(ctx context.Context, units []T) (*Batch[R], error) {
	if p.workers < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidWorkers, p.workers)
	}
	n := p.workers

	interrupts := p.interrupts
	if interrupts == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		interrupts = ch
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputs := make([]chan job[T], n)
	for i := range inputs {
		inputs[i] = make(chan job[T], len(units)/n+2)
	}
	for i, u := range units {
		inputs[i%n] <- job[T]{unit: u}
	}
	for i := range inputs {
		inputs[i] <- job[T]{end: true}
	}

	// Sized so a worker never blocks on send, even once abandoned.
	out := make(chan message[R], len(units)+n)
	sup := newSupervisor(n)

	var g errgroup.Group
	for w := 0; w < n; w++ {
		g.Go(func() error {
			defer sup.finish(w)
			p.runWorker(context.WithValue(workCtx, workerKey{}, w), w, inputs[w], out)
			return nil
		})
	}

	batch := &Batch[R]{}
	collect := func(m message[R]) {
		if m.done {
			batch.Completed = append(batch.Completed, m.worker)
			p.logger.Debug("worker finished", zap.Int("worker", m.worker))
			return
		}
		batch.Results = append(batch.Results, m.result)
		if p.emit != nil {
			p.emit(m.result)
		}
	}

	interrupted := false
	var tick <-chan time.Time
	polls := 0
	for len(batch.Completed) < n {
		select {
		case m := <-out:
			collect(m)

		case sig := <-interrupts:
			if interrupted {
				p.logger.Error("second interrupt, exiting now", zap.Int("running", sup.running()))
				return batch, ErrHardExit
			}
			interrupted = true
			p.logger.Warn("interrupt received, stopping workers",
				zap.Stringer("signal", sig),
				zap.Int("running", sup.running()),
			)
			cancel()
			ticker := time.NewTicker(p.pollInterval)
			defer ticker.Stop()
			tick = ticker.C

		case <-tick:
			polls++
			if sup.running() == 0 {
				drain(out, collect)
				p.logger.Warn("all workers stopped")
				return batch, ErrInterrupted
			}
			if polls >= p.maxPolls {
				drain(out, collect)
				p.logger.Error("workers still running, abandoning them", zap.Int("running", sup.running()))
				return batch, ErrForcedShutdown
			}
		}
	}

	_ = g.Wait()
	if interrupted {
		return batch, ErrInterrupted
	}
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (p *Pool[T, R]) runWorker(ctx context.Context, id int, in <-chan job[T], out chan<- message[R]) {
	for j := range in {
		if j.end || ctx.Err() != nil {
			break
		}
		out <- message[R]{worker: id, result: p.invoke(ctx, id, j.unit)}
	}
	out <- message[R]{worker: id, done: true}
}

// invoke runs one unit, converting a panic into a result so the worker
// keeps going and always reports completion.
func (p *Pool[T, R]) invoke(ctx context.Context, worker int, unit T) (r R) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("work unit panicked",
				zap.Int("worker", worker),
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()),
			)
			if p.onPanic != nil {
				r = p.onPanic(unit, v)
			}
		}
	}()
	return p.work(ctx, unit)
}

func drain[R any](out <-chan message[R], collect func(message[R])) {
	for {
		select {
		case m := <-out:
			collect(m)
		default:
			return
		}
	}
}
