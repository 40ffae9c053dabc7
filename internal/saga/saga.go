// Package saga runs ordered, named steps whose results are checkpointed as
// they complete. Re-running a thread that already has checkpoints resumes
// after the last completed step instead of repeating earlier side effects,
// which is what makes multi-step external settlement safe across crashes.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Checkpoint records the last completed step of a thread together with the
// marshaled saga state at that point. Checkpoints are append-only per step.
type Checkpoint struct {
	Step       string          `json:"step"`
	Output     json.RawMessage `json:"output"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store persists checkpoints per thread id. Implementations must be strongly
// consistent per thread; threads for one user are never run concurrently.
type Store interface {
	// Get returns the last completed checkpoint for the thread, or nil.
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	// Put records a completed step. It must not overwrite an existing
	// checkpoint for a later step.
	Put(ctx context.Context, threadID, step string, output json.RawMessage) error
}

// RetryPolicy bounds per-step retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
}

// DefaultRetryPolicy matches the settlement defaults: 3 attempts, factor 2,
// first wait 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffFactor: 2}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	return p
}

// Step is one named unit of a saga. Run mutates the shared state; the state is
// checkpointed after Run returns nil, so everything a later step or a resumed
// run needs must live in the state.
type Step[S any] struct {
	Name string
	Run  func(ctx context.Context, state *S) error
}

// StepError is the terminal failure of a saga: a step exhausted its retry
// budget (or hit a permanent error). No ledger or claim state is touched by
// the runner itself; the caller decides what the failure means.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable; the runner fails the step on the
// first occurrence.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Runner executes sagas against a checkpoint store.
type Runner[S any] struct {
	store  Store
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a runner. A nil logger falls back to slog.Default.
func NewRunner[S any](store Store, policy RetryPolicy, logger *slog.Logger) *Runner[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner[S]{
		store:  store,
		policy: policy.normalized(),
		logger: logger,
		sleep:  sleepContext,
	}
}

// Execute drives the thread through the given steps. If a checkpoint exists,
// the stored state replaces the provided one and completed steps are skipped.
// On success the final state is left in *state.
func (r *Runner[S]) Execute(ctx context.Context, threadID string, steps []Step[S], state *S) error {
	last, err := r.store.Get(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", threadID, err)
	}
	start := 0
	if last != nil {
		idx := stepIndex(steps, last.Step)
		if idx < 0 {
			return fmt.Errorf("checkpoint for %s names unknown step %q", threadID, last.Step)
		}
		if err := json.Unmarshal(last.Output, state); err != nil {
			return fmt.Errorf("restore state for %s at %s: %w", threadID, last.Step, err)
		}
		start = idx + 1
		r.logger.InfoContext(ctx, "saga resumed",
			"thread_id", threadID,
			"completed_step", last.Step,
		)
	}

	for i := start; i < len(steps); i++ {
		step := steps[i]
		if err := r.runStep(ctx, threadID, step, state); err != nil {
			return err
		}
		output, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal state for %s after %s: %w", threadID, step.Name, err)
		}
		if err := r.store.Put(ctx, threadID, step.Name, output); err != nil {
			return fmt.Errorf("checkpoint %s after %s: %w", threadID, step.Name, err)
		}
	}
	return nil
}

func (r *Runner[S]) runStep(ctx context.Context, threadID string, step Step[S], state *S) error {
	interval := r.policy.InitialInterval
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = step.Run(ctx, state)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return &StepError{Step: step.Name, Attempts: attempt, Err: lastErr}
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		r.logger.WarnContext(ctx, "saga step retrying",
			"thread_id", threadID,
			"step", step.Name,
			"attempt", attempt,
			"error", lastErr,
		)
		if err := r.sleep(ctx, interval); err != nil {
			return &StepError{Step: step.Name, Attempts: attempt, Err: lastErr}
		}
		interval = time.Duration(float64(interval) * r.policy.BackoffFactor)
	}
	return &StepError{Step: step.Name, Attempts: r.policy.MaxAttempts, Err: lastErr}
}

func stepIndex[S any](steps []Step[S], name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
