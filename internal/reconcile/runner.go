package reconcile

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RunnerConfig describes the dependencies of a Runner.
type RunnerConfig struct {
	Reconciler *Reconciler
	IDProvider IDProvider
	// OnFinished is invoked with every terminal result, after the user's lock is released.
	OnFinished func(RunResult)
	Logger     *zap.Logger
}

// Runner starts sync runs in the background and allows at most one active run per user.
type Runner struct {
	reconciler *Reconciler
	ids        IDProvider
	onFinished func(RunResult)
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]string
	wg     sync.WaitGroup
}

// Run is a handle on a started sync run.
type Run struct {
	ID     string
	done   chan struct{}
	result RunResult
	err    error
}

// Done is closed when the run reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the terminal result. It must only be called after Done is closed.
func (r *Run) Result() (RunResult, error) {
	return r.result, r.err
}

// NewRunner validates cfg and applies defaults.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Reconciler == nil {
		return nil, newServiceError(opRunnerNew, reasonMissingReconciler, errMissingReconciler)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	onFinished := cfg.OnFinished
	if onFinished == nil {
		onFinished = func(RunResult) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Runner{
		reconciler: cfg.Reconciler,
		ids:        ids,
		onFinished: onFinished,
		logger:     logger,
		active:     make(map[string]string),
	}, nil
}

// Start launches a run for request.Username. A second run for the same user, ignoring case,
// fails with ErrRunInProgress until the first one finishes. The run outlives ctx cancellation.
func (r *Runner) Start(ctx context.Context, request Request) (*Run, error) {
	key := strings.ToLower(strings.TrimSpace(request.Username))
	if key == "" {
		return nil, newServiceError(opStart, reasonMissingUsername, ErrMissingUsername)
	}

	runID, err := r.ids.NewID()
	if err != nil {
		logError(r.logger, opStart, reasonIDFailed, err, zap.String(fieldUsername, request.Username))
		return nil, newServiceError(opStart, reasonIDFailed, err)
	}

	r.mu.Lock()
	if activeID, busy := r.active[key]; busy {
		r.mu.Unlock()
		r.logger.Info("sync run rejected",
			zap.String(fieldUsername, request.Username),
			zap.String("active_run_id", activeID))
		return nil, newServiceError(opStart, reasonRunInProgress, ErrRunInProgress)
	}
	r.active[key] = runID
	r.wg.Add(1)
	r.mu.Unlock()

	request.RunID = runID
	handle := &Run{ID: runID, done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)

	go func() {
		defer r.wg.Done()
		result, runErr := r.reconciler.Run(detached, request)

		r.mu.Lock()
		delete(r.active, key)
		r.mu.Unlock()

		handle.result = result
		handle.err = runErr
		close(handle.done)
		r.onFinished(result)
	}()

	return handle, nil
}

// Active reports whether a run for username is in progress.
func (r *Runner) Active(username string) bool {
	key := strings.ToLower(strings.TrimSpace(username))
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.active[key]
	return busy
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
