// Package packetdispatcher provides an elastic worker pool that decouples
// inbound packet processing from the connection's stream reader. Submitting
// never blocks: work queues without bound while a configurable maximum number
// of workers drain it, so a slow processor can never stall the socket reader.
package packetdispatcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Submit after the dispatcher has been stopped.
var ErrStopped = errors.New("dispatcher is stopped")

const (
	// DefaultMaxWorkers is the default maximum number of concurrent workers.
	DefaultMaxWorkers = 25
	// DefaultIdleWorkerTimeout is how long a surplus worker stays alive with
	// nothing to do before it retires. One worker always remains resident.
	DefaultIdleWorkerTimeout = 15 * time.Second
)

// ProcessFunc handles one unit of work. It runs on a worker goroutine and may
// block arbitrarily; a panic is recovered and does not affect other work.
type ProcessFunc[T any] func(work T)

// Config holds configuration for a Dispatcher.
type Config struct {
	// MaxWorkers is the maximum number of concurrently running workers.
	// Values <= 0 fall back to DefaultMaxWorkers.
	MaxWorkers int
	// IdleWorkerTimeout is how long surplus workers linger before retiring.
	// Values <= 0 fall back to DefaultIdleWorkerTimeout.
	IdleWorkerTimeout time.Duration
}

// DefaultConfig returns a Config with the default worker bound and idle timeout.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:        DefaultMaxWorkers,
		IdleWorkerTimeout: DefaultIdleWorkerTimeout,
	}
}

// Dispatcher is an elastic worker pool over an unbounded pending queue.
// One resident worker is always alive; additional workers are spawned on
// demand up to MaxWorkers and retire after IdleWorkerTimeout of inactivity.
// Each queued item is processed at most once; items still queued when Stop is
// called are dropped.
type Dispatcher[T any] struct {
	config  Config
	process ProcessFunc[T]

	mu      sync.Mutex
	pending []T
	workers int
	idle    int
	stopped bool

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	submitted int64
	processed int64
	dropped   int64
}

// New creates a Dispatcher and starts its resident worker.
//
// Parameters:
//   - config: Worker bound and idle timeout (e.g. from DefaultConfig)
//   - process: Function invoked once per submitted item, on a worker goroutine
//
// Returns:
//   - A running *Dispatcher; call Stop when done to release its workers
func New[T any](config Config, process ProcessFunc[T]) *Dispatcher[T] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	if config.IdleWorkerTimeout <= 0 {
		config.IdleWorkerTimeout = DefaultIdleWorkerTimeout
	}

	d := &Dispatcher[T]{
		config:  config,
		process: process,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	d.workers = 1
	d.wg.Add(1)
	go d.worker(true)

	return d
}

// Submit enqueues one item for processing. It never blocks on busy workers:
// if all worker slots are occupied, the item waits on the unbounded queue.
//
// Parameters:
//   - work: The item to process
//
// Returns:
//   - nil, or ErrStopped if the dispatcher has been stopped (the item is dropped)
func (d *Dispatcher[T]) Submit(work T) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		atomic.AddInt64(&d.dropped, 1)
		return ErrStopped
	}

	d.pending = append(d.pending, work)
	atomic.AddInt64(&d.submitted, 1)

	// Spawn another worker only when the backlog exceeds what the currently
	// idle workers can absorb.
	if len(d.pending) > d.idle && d.workers < d.config.MaxWorkers {
		d.workers++
		d.wg.Add(1)
		go d.worker(false)
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	return nil
}

// Stop shuts the dispatcher down. In-flight work completes on its worker;
// items still on the queue are dropped and counted as such. Stop does not
// wait for workers to exit, so a processor may call it on its own dispatcher;
// use Wait to block until the pool has fully wound down. Idempotent.
func (d *Dispatcher[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	d.stopped = true
	atomic.AddInt64(&d.dropped, int64(len(d.pending)))
	d.pending = nil
	d.mu.Unlock()

	close(d.stop)
}

// Wait blocks until every worker has exited. Call Stop first. Wait must not
// be called from a processor; the worker running it can never exit.
func (d *Dispatcher[T]) Wait() {
	d.wg.Wait()
}

// Stats reports cumulative dispatcher counters.
type Stats struct {
	Submitted int64
	Processed int64
	Dropped   int64
	Workers   int
}

// Stats returns the current counters and live worker count.
func (d *Dispatcher[T]) Stats() Stats {
	d.mu.Lock()
	workers := d.workers
	d.mu.Unlock()

	return Stats{
		Submitted: atomic.LoadInt64(&d.submitted),
		Processed: atomic.LoadInt64(&d.processed),
		Dropped:   atomic.LoadInt64(&d.dropped),
		Workers:   workers,
	}
}

// worker drains the pending queue, then waits for new work. Surplus workers
// retire after the idle timeout; the resident worker never does.
func (d *Dispatcher[T]) worker(resident bool) {
	defer d.wg.Done()

	idleTimer := time.NewTimer(d.config.IdleWorkerTimeout)
	defer idleTimer.Stop()

	for {
		d.mu.Lock()
		for !d.stopped && len(d.pending) > 0 {
			work := d.pending[0]
			d.pending = d.pending[1:]
			d.mu.Unlock()

			d.runOne(work)

			d.mu.Lock()
		}

		if d.stopped {
			d.workers--
			d.mu.Unlock()
			return
		}

		d.idle++
		d.mu.Unlock()

		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(d.config.IdleWorkerTimeout)

		select {
		case <-d.stop:
			d.mu.Lock()
			d.idle--
			d.workers--
			d.mu.Unlock()
			return

		case <-d.notify:
			d.mu.Lock()
			d.idle--
			d.mu.Unlock()

		case <-idleTimer.C:
			d.mu.Lock()
			d.idle--
			if !resident && len(d.pending) == 0 {
				d.workers--
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		}
	}
}

// runOne processes a single item, isolating the dispatcher from processor panics.
func (d *Dispatcher[T]) runOne(work T) {
	defer func() {
		atomic.AddInt64(&d.processed, 1)
		_ = recover()
	}()

	d.process(work)
}
