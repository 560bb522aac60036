package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrDispatcherStopped = errors.New("dispatcher is not running")
	// ErrNotAccepted wraps every Submit error returned before a worker took
	// the job. Such a job never runs.
	ErrNotAccepted = errors.New("job not accepted")
)

// Job is a unit of device work. It receives a context detached from the
// submitting request.
type Job func(ctx context.Context) (any, error)

type jobResult struct {
	value any
	err   error
}

type job struct {
	run    Job
	result chan jobResult
}

// Dispatcher runs device calls on a fixed pool of worker goroutines so that
// request goroutines never talk to the device themselves.
type Dispatcher struct {
	workers  int
	jobs     chan job
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewDispatcher(workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		workers: workers,
		jobs:    make(chan job),
		logger:  logger,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	d.stopChan = make(chan struct{})
	d.running = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i, d.stopChan)
	}

	d.logger.Info("Dispatcher started", zap.Int("workers", d.workers))
	return nil
}

// Stop waits for in-flight jobs and stops the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop := d.stopChan
	d.mu.Unlock()

	close(stop)
	d.wg.Wait()

	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Submit hands run to a worker and waits for its result. Once a worker has
// accepted the job it runs to completion even if ctx is cancelled; ctx only
// bounds how long the caller waits.
func (d *Dispatcher) Submit(ctx context.Context, run Job) (any, error) {
	d.mu.Lock()
	running, stop := d.running, d.stopChan
	d.mu.Unlock()
	if !running {
		return nil, notAccepted(ErrDispatcherStopped)
	}

	j := job{run: run, result: make(chan jobResult, 1)}

	select {
	case d.jobs <- j:
	case <-stop:
		return nil, notAccepted(ErrDispatcherStopped)
	case <-ctx.Done():
		return nil, notAccepted(ctx.Err())
	}

	select {
	case res := <-j.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func notAccepted(err error) error {
	return fmt.Errorf("%w: %w", ErrNotAccepted, err)
}

func (d *Dispatcher) workerLoop(id int, stop <-chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-stop:
			return
		case j := <-d.jobs:
			j.result <- d.execute(id, j.run)
		}
	}
}

func (d *Dispatcher) execute(id int, run Job) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Dispatcher job panicked",
				zap.Int("worker", id),
				zap.Any("panic", r))
			res = jobResult{err: fmt.Errorf("dispatch job panicked: %v", r)}
		}
	}()

	value, err := run(context.Background())
	return jobResult{value: value, err: err}
}
