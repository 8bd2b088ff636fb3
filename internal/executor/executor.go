// Package executor drives an execution through its lifecycle:
//
//	Pending → Running → Completed | Error
//
// THE FLOW:
//  1. Validate the request. Request errors are returned before anything is
//     stored, any process is started or any scratch directory exists.
//  2. Persist the record as Pending, then Running.
//  3. Create a scratch directory, resolve the language runner and run the
//     code once against the request's input (the primary run).
//  4. Run the code once per test case, in request order, and validate.
//  5. Persist the record as Completed (or Error) and remove the scratch
//     directory, whatever happened in between.
//
// SINGLE WRITER:
// Only the goroutine handling an execution writes its record. Readers go
// through the store, which hands out copies.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/runner"
	"github.com/sakif/code-runner/internal/supervisor"
	"github.com/sakif/code-runner/internal/validator"
)

// ErrShuttingDown is returned for work submitted after Shutdown began.
var ErrShuttingDown = errors.New("executor: shutting down")

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultMaxTimeout    = 30 * time.Second
	DefaultMemoryMB      = 256
	DefaultMaxMemoryMB   = 1024
	DefaultMaxCodeBytes  = 64 * 1024
	DefaultMaxTestCases  = 50
	DefaultMaxConcurrent = 8
)

// Options configures limits and concurrency.
type Options struct {
	// DefaultTimeout applies when a request sets no timeout.
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// DefaultMemoryMB applies when a request sets no memory limit and the
	// backend can enforce one.
	DefaultMemoryMB int
	MaxMemoryMB     int
	MaxCodeBytes    int
	MaxTestCases    int
	// TestConcurrency is how many test cases of one execution may run at
	// once. 0 and 1 both mean sequential.
	TestConcurrency int
	// MaxConcurrent bounds executions running at the same time.
	MaxConcurrent int
	// WorkRoot is where scratch directories are created. Empty means the
	// system temp directory.
	WorkRoot string
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = DefaultMaxTimeout
	}
	if o.DefaultMemoryMB <= 0 {
		o.DefaultMemoryMB = DefaultMemoryMB
	}
	if o.MaxMemoryMB <= 0 {
		o.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if o.MaxCodeBytes <= 0 {
		o.MaxCodeBytes = DefaultMaxCodeBytes
	}
	if o.MaxTestCases <= 0 {
		o.MaxTestCases = DefaultMaxTestCases
	}
	if o.TestConcurrency <= 0 {
		o.TestConcurrency = 1
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	return o
}

// Executor runs submissions and records their outcome.
type Executor struct {
	store     repository.ExecutionRepository
	runners   *runner.Registry
	validator *validator.Validator
	caps      supervisor.Capabilities
	opts      Options
	logger    *slog.Logger

	now   func() time.Time
	newID func() string

	slots chan struct{}

	// async work is tied to baseCtx so Shutdown can cancel it.
	baseCtx  context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates an Executor. caps describes the supervisor behind the runners;
// it decides whether memory limits can be honoured.
func New(
	store repository.ExecutionRepository,
	runners *runner.Registry,
	v *validator.Validator,
	caps supervisor.Capabilities,
	opts Options,
	logger *slog.Logger,
) *Executor {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:     store,
		runners:   runners,
		validator: v,
		caps:      caps,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return xid.New().String() },
		slots:     make(chan struct{}, opts.MaxConcurrent),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Languages lists the languages this executor accepts.
func (e *Executor) Languages() []model.Language {
	return e.runners.Languages()
}

// Capabilities describes the isolation backend.
func (e *Executor) Capabilities() supervisor.Capabilities {
	return e.caps
}

// Get returns the current state of an execution.
func (e *Executor) Get(ctx context.Context, id string) (*model.Execution, error) {
	return e.store.Get(ctx, id)
}

// List returns stored executions newest first. The store must implement
// repository.ExecutionLister; both bundled stores do.
func (e *Executor) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	lister, ok := e.store.(repository.ExecutionLister)
	if !ok {
		return nil, errors.New("executor: store does not support listing")
	}
	return lister.List(ctx, opts)
}

// Validate checks a request without running it. All returned errors are
// *apperror.AppError values matching apperror.ErrValidation.
func (e *Executor) Validate(req model.Request) error {
	if req.Language == "" {
		return apperror.ValidationFailed("language", "language is required")
	}
	if _, ok := e.runners.Get(req.Language); !ok {
		return apperror.UnsupportedLanguage(string(req.Language))
	}

	if strings.TrimSpace(req.Code) == "" {
		return apperror.ValidationFailed("code", "code is required")
	}
	if len(req.Code) > e.opts.MaxCodeBytes {
		return apperror.ValidationFailed("code", fmt.Sprintf("code must be at most %d bytes", e.opts.MaxCodeBytes))
	}

	maxTimeout := int(e.opts.MaxTimeout / time.Second)
	if req.Config.TimeoutSeconds < 0 || req.Config.TimeoutSeconds > maxTimeout {
		return apperror.ValidationFailed("config.timeout_seconds",
			fmt.Sprintf("timeout_seconds must be between 0 and %d", maxTimeout))
	}

	if req.Config.MemoryLimitMB < 0 || req.Config.MemoryLimitMB > e.opts.MaxMemoryMB {
		return apperror.ValidationFailed("config.memory_limit_mb",
			fmt.Sprintf("memory_limit_mb must be between 0 and %d", e.opts.MaxMemoryMB))
	}
	if req.Config.MemoryLimitMB > 0 && !e.caps.MemoryLimit {
		return apperror.ValidationFailed("config.memory_limit_mb",
			fmt.Sprintf("memory limits are not enforced by the %s backend on this platform", e.caps.Backend))
	}

	if len(req.TestCases) > e.opts.MaxTestCases {
		return apperror.ValidationFailed("test_cases",
			fmt.Sprintf("at most %d test cases are allowed", e.opts.MaxTestCases))
	}
	return nil
}

// Execute runs req to completion and returns the final record.
//
// A non-nil error means the request was rejected (an *apperror.AppError),
// the caller gave up while waiting for a slot, or the store failed. Problems
// with the submitted code or the run environment are reported inside the
// returned record instead.
func (e *Executor) Execute(ctx context.Context, req model.Request) (*model.Execution, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	exec := model.NewExecution(e.newID(), req, e.now())
	if err := e.store.Save(ctx, exec); err != nil {
		return nil, fmt.Errorf("executor: saving execution: %w", err)
	}

	if err := e.run(ctx, exec); err != nil {
		return nil, err
	}
	return exec.Clone(), nil
}

// Submit stores req as Pending and runs it in the background. The returned
// record is the Pending snapshot; poll Get for progress.
func (e *Executor) Submit(ctx context.Context, req model.Request) (*model.Execution, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	exec := model.NewExecution(e.newID(), req, e.now())
	if err := e.store.Save(ctx, exec); err != nil {
		e.inflight.Done()
		return nil, fmt.Errorf("executor: saving execution: %w", err)
	}
	snapshot := exec.Clone()

	metrics.QueuedExecutions.Inc()
	go func() {
		defer e.inflight.Done()

		err := e.acquire(e.baseCtx)
		metrics.QueuedExecutions.Dec()
		if err != nil {
			e.abandon(exec, "execution cancelled before start: engine shutting down")
			return
		}
		defer e.release()

		if err := e.run(e.baseCtx, exec); err != nil {
			e.logger.Error("async execution failed", slog.String("id", exec.ID), slog.String("error", err.Error()))
		}
	}()

	return snapshot, nil
}

// Shutdown stops accepting async work and waits for in-flight executions.
// When ctx expires first, running executions are cancelled (their process
// groups killed) and Shutdown waits for them to record their outcome.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) acquire(ctx context.Context) error {
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() {
	<-e.slots
}

// run takes a Pending execution to a terminal state. It only returns an
// error when the store fails.
func (e *Executor) run(ctx context.Context, exec *model.Execution) error {
	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	started := time.Now()
	logger := e.logger.With(slog.String("id", exec.ID), slog.String("language", string(exec.Language)))

	if err := e.transition(ctx, exec, model.StatusRunning); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(e.opts.WorkRoot, "exec-"+exec.ID+"-")
	if err != nil {
		logger.Error("failed to create scratch directory", slog.String("error", err.Error()))
		exec.Result = &model.Result{ExitCode: 1, Stderr: fmt.Sprintf("failed to create scratch directory: %v", err)}
		return e.finish(ctx, exec, model.StatusError, started)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove scratch directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}()

	r, ok := e.runners.Get(exec.Language)
	if !ok {
		exec.Result = &model.Result{ExitCode: 1, Stderr: fmt.Sprintf("unsupported language %q", exec.Language)}
		return e.finish(ctx, exec, model.StatusError, started)
	}

	limits := e.limits(exec.Config)

	primaryStart := time.Now()
	out := r.Execute(ctx, runner.Run{Code: exec.Code, Stdin: exec.Input, Limits: limits}, dir)
	elapsed := time.Since(primaryStart)

	result := out.Result
	result.ExecutionTime = elapsed.Seconds()
	exec.Result = &result
	e.observeRun(exec.Language, "primary", elapsed, out)
	if out.MemoryUsage > 0 {
		metrics.MemoryUsage.WithLabelValues(string(exec.Language)).Observe(float64(out.MemoryUsage) / 1024)
	}

	if out.Failed {
		logger.Warn("primary run failed", slog.String("stderr", out.Stderr))
		return e.finish(ctx, exec, model.StatusError, started)
	}

	if len(exec.TestCases) > 0 {
		results := e.runTestCases(ctx, r, exec, dir, limits)

		validation, err := e.validator.Validate(results, exec.TestCases)
		if err != nil {
			exec.Result.Stderr = appendLine(exec.Result.Stderr, err.Error())
			return e.finish(ctx, exec, model.StatusError, started)
		}
		exec.Validation = &validation

		metrics.TestCasesTotal.WithLabelValues(string(exec.Language), "passed").Add(float64(validation.Summary.Passed))
		metrics.TestCasesTotal.WithLabelValues(string(exec.Language), "failed").Add(float64(validation.Summary.Failed))
	}

	return e.finish(ctx, exec, model.StatusCompleted, started)
}

// runTestCases runs every test case against the same code and limits and
// returns one result per test case, indexed like exec.TestCases. With
// TestConcurrency > 1 each test case gets its own subdirectory of dir.
func (e *Executor) runTestCases(ctx context.Context, r runner.Runner, exec *model.Execution, dir string, limits supervisor.Limits) []model.Result {
	results := make([]model.Result, len(exec.TestCases))

	runOne := func(i int, workDir string) {
		start := time.Now()
		out := r.Execute(ctx, runner.Run{Code: exec.Code, Stdin: exec.TestCases[i].Input, Limits: limits}, workDir)
		elapsed := time.Since(start)

		results[i] = out.Result
		results[i].ExecutionTime = elapsed.Seconds()
		e.observeRun(exec.Language, "test_case", elapsed, out)
	}

	if e.opts.TestConcurrency <= 1 || len(exec.TestCases) == 1 {
		for i := range exec.TestCases {
			runOne(i, dir)
		}
		return results
	}

	sem := make(chan struct{}, e.opts.TestConcurrency)
	var wg sync.WaitGroup
	for i := range exec.TestCases {
		caseDir := filepath.Join(dir, fmt.Sprintf("case-%d", i))
		if err := os.Mkdir(caseDir, 0o700); err != nil {
			results[i] = model.Result{ExitCode: 1, Stderr: fmt.Sprintf("failed to create scratch directory: %v", err)}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			runOne(i, caseDir)
		}(i)
	}
	wg.Wait()
	return results
}

func (e *Executor) limits(cfg model.Config) supervisor.Limits {
	limits := supervisor.Limits{Timeout: e.opts.DefaultTimeout}
	if cfg.TimeoutSeconds > 0 {
		limits.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	if !e.caps.MemoryLimit {
		return limits
	}
	mb := e.opts.DefaultMemoryMB
	if cfg.MemoryLimitMB > 0 {
		mb = cfg.MemoryLimitMB
	}
	limits.MemoryBytes = int64(mb) << 20
	return limits
}

func (e *Executor) observeRun(lang model.Language, phase string, elapsed time.Duration, out runner.Output) {
	metrics.ExecutionDuration.WithLabelValues(string(lang), phase).Observe(elapsed.Seconds())
	if out.TimedOut {
		metrics.TimeoutsTotal.WithLabelValues(string(lang)).Inc()
	}
}

func (e *Executor) transition(ctx context.Context, exec *model.Execution, next model.Status) error {
	if err := exec.Transition(next, e.now()); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	// The record must reach the store even if the caller's context is gone.
	if err := e.store.Save(context.WithoutCancel(ctx), exec); err != nil {
		return fmt.Errorf("executor: saving execution %s: %w", exec.ID, err)
	}
	return nil
}

func (e *Executor) finish(ctx context.Context, exec *model.Execution, status model.Status, started time.Time) error {
	if err := e.transition(ctx, exec, status); err != nil {
		return err
	}

	metrics.ExecutionsTotal.WithLabelValues(string(exec.Language), string(status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Language), "total").Observe(time.Since(started).Seconds())

	attrs := []any{
		slog.String("id", exec.ID),
		slog.String("language", string(exec.Language)),
		slog.String("status", string(status)),
		slog.Duration("duration", time.Since(started)),
	}
	if exec.Result != nil {
		attrs = append(attrs, slog.Int("exit_code", exec.Result.ExitCode))
	}
	if exec.Validation != nil {
		attrs = append(attrs,
			slog.Int("passed_tests", exec.Validation.Summary.Passed),
			slog.Int("total_tests", exec.Validation.Summary.Total),
		)
	}
	e.logger.Info("execution finished", attrs...)
	return nil
}

// abandon records an execution that never got to run.
func (e *Executor) abandon(exec *model.Execution, reason string) {
	exec.Result = &model.Result{ExitCode: 1, Stderr: reason}
	if err := e.transition(context.Background(), exec, model.StatusError); err != nil {
		e.logger.Error("failed to record abandoned execution", slog.String("id", exec.ID), slog.String("error", err.Error()))
		return
	}
	metrics.ExecutionsTotal.WithLabelValues(string(exec.Language), string(model.StatusError)).Inc()
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
