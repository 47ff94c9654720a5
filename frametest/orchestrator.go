package frametest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/launchdarkly/frame-test-harness/framework"
)

const (
	DefaultContextPollInterval    = time.Millisecond * 10
	DefaultCompletionPollInterval = time.Millisecond * 50
	DefaultTimeoutTicks           = 10
)

// Config controls the orchestrator's polling. Zero values select the defaults; a zero
// MaxContextAttempts or Deadline means no limit, in which case a frame that never becomes ready
// or never completes stalls the orchestrator until its context is cancelled.
type Config struct {
	ContextPollInterval    time.Duration
	CompletionPollInterval time.Duration
	TimeoutTicks           int
	MaxContextAttempts     int
	Deadline               time.Duration
}

func (c Config) withDefaults() Config {
	if c.ContextPollInterval <= 0 {
		c.ContextPollInterval = DefaultContextPollInterval
	}
	if c.CompletionPollInterval <= 0 {
		c.CompletionPollInterval = DefaultCompletionPollInterval
	}
	if c.TimeoutTicks <= 0 {
		c.TimeoutTicks = DefaultTimeoutTicks
	}
	return c
}

// Orchestrator drives one test case through a hosted frame: it waits for the frame's
// application to be ready, starts the case in the frame's runtime, polls for completion, and
// publishes the outcome. An Orchestrator is used for exactly one test case.
type Orchestrator struct {
	request   TestCaseRequest
	presenter ResultPresenter
	config    Config
	logger    framework.Logger
	now       func() time.Time
	until     time.Time
	state     OrchestrationState
	doneOnce  sync.Once
	lock      sync.Mutex
}

func NewOrchestrator(
	request TestCaseRequest,
	presenter ResultPresenter,
	config Config,
	logger framework.Logger,
) *Orchestrator {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &Orchestrator{
		request:   request,
		presenter: presenter,
		config:    config.withDefaults(),
		logger:    logger,
		now:       time.Now,
		state:     OrchestrationState{Phase: PhaseIdle, Status: StatusSpin},
	}
}

// State returns a copy of the current state.
func (o *Orchestrator) State() OrchestrationState {
	o.lock.Lock()
	defer o.lock.Unlock()
	s := o.state
	s.Errors = append([]ErrorRecord(nil), o.state.Errors...)
	return s
}

func (o *Orchestrator) setPhase(p Phase) {
	o.lock.Lock()
	o.state.Phase = p
	o.lock.Unlock()
}

// Start runs the test case in the frame and blocks until the outcome has been published.
//
// If ctx is cancelled the orchestrator stops where it is and returns ctx.Err() without
// publishing anything further. If the configured deadline or attempt limit is reached, the
// case is published as failed and the returned error wraps framework.ErrPollTimeout.
func (o *Orchestrator) Start(ctx context.Context, hc HostedContext) (RunResult, error) {
	o.lock.Lock()
	if o.state.Phase != PhaseIdle {
		o.lock.Unlock()
		return RunResult{}, ErrAlreadyStarted
	}
	o.state.Phase = PhaseAwaitingContext
	if o.config.Deadline > 0 && o.until.IsZero() {
		o.until = time.Now().Add(o.config.Deadline)
	}
	o.lock.Unlock()

	runtime := hc.Runtime()
	attempts, err := framework.Poll(ctx, framework.PollOptions{
		Interval:    o.config.ContextPollInterval,
		MaxAttempts: o.config.MaxContextAttempts,
		Until:       o.until,
	}, func(attempt int) (bool, error) {
		if hc.RootReady() {
			return true, nil
		}
		complete, err := runtime.IsComplete()
		if err != nil {
			o.logger.Printf("Frame not ready yet (attempt %d): %s", attempt, err)
		} else if complete {
			return true, nil
		}
		o.presenter.SetStatus(StatusSpin)
		return false, nil
	})
	if err != nil {
		return o.abandon(ctx, fmt.Errorf("timed out waiting for the frame to become ready: %w", err))
	}
	o.logger.Printf("Frame ready after %d attempt(s)", attempts)

	o.lock.Lock()
	o.state.Phase = PhaseRunning
	o.state.StartTime = o.now()
	o.lock.Unlock()

	o.logger.Printf("Running test case %q", o.request.Name)
	if err := runtime.Run(o.request.Name, o.request.Code, o.config.TimeoutTicks, o.request.QuickFixOnException); err != nil {
		o.logger.Printf("Run failed: %s", err)
		return o.fail(fmt.Sprintf("test runtime rejected run: %s", err)), nil
	}

	return o.Collect(ctx, runtime)
}

// Collect polls the runtime until it reports completion, then publishes the outcome. Start calls
// it directly after starting the case; it is exported for callers that started the case in the
// frame some other way and marked it with MarkRunning.
func (o *Orchestrator) Collect(ctx context.Context, runtime InnerRuntime) (RunResult, error) {
	o.lock.Lock()
	if o.state.Phase != PhaseRunning {
		o.lock.Unlock()
		return RunResult{}, ErrNotRunning
	}
	o.state.Phase = PhasePolling
	o.lock.Unlock()

	attempts, err := framework.Poll(ctx, framework.PollOptions{
		Interval: o.config.CompletionPollInterval,
		Until:    o.until,
	}, func(attempt int) (bool, error) {
		complete, err := runtime.IsComplete()
		if err != nil {
			o.logger.Printf("Could not query test runtime (attempt %d): %s", attempt, err)
		} else if complete {
			return true, nil
		}
		o.presenter.SetStatus(StatusSpin)
		return false, nil
	})
	if err != nil {
		return o.abandon(ctx, fmt.Errorf("timed out waiting for the test case to complete: %w", err))
	}
	o.logger.Printf("Test runtime reported completion after %d poll(s)", attempts)

	payload, err := runtime.Errors()
	if err != nil {
		return o.fail(fmt.Sprintf("could not read errors from test runtime: %s", err)), nil
	}
	records, err := ParseErrorPayload(payload)
	if err != nil {
		o.logger.Printf("%s; raw payload was: %s", err, payload)
		return o.fail(fmt.Sprintf("malformed error payload from test runtime: %s", payload)), nil
	}
	if len(records) > 0 {
		return o.finish(StatusFail, records, FormatFailure(records)), nil
	}
	return o.finish(StatusPass, nil, passedText), nil
}

// MarkRunning records that the case has been started in the frame by the caller, so that Collect
// can be used on its own. It sets the start time used for the elapsed time, and fails with
// ErrAlreadyStarted once Start has been called.
func (o *Orchestrator) MarkRunning() error {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.state.Phase != PhaseIdle {
		return ErrAlreadyStarted
	}
	o.state.Phase = PhaseRunning
	o.state.StartTime = o.now()
	if o.config.Deadline > 0 && o.until.IsZero() {
		o.until = time.Now().Add(o.config.Deadline)
	}
	return nil
}

func (o *Orchestrator) abandon(ctx context.Context, err error) (RunResult, error) {
	if ctx.Err() != nil && !errors.Is(err, framework.ErrPollTimeout) {
		o.logger.Printf("Abandoned: %s", ctx.Err())
		return RunResult{}, ctx.Err()
	}
	return o.fail(err.Error()), err
}

func (o *Orchestrator) fail(message string) RunResult {
	return o.finish(StatusFail, []ErrorRecord{{Message: message}}, message)
}

func (o *Orchestrator) finish(status Status, records []ErrorRecord, text string) RunResult {
	o.lock.Lock()
	var elapsed time.Duration
	if !o.state.StartTime.IsZero() {
		elapsed = o.now().Sub(o.state.StartTime)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	o.state.Status = status
	o.state.Errors = records
	o.state.Elapsed = elapsed
	o.lock.Unlock()

	o.presenter.SetStatus(status)
	o.presenter.SetResultText(text)
	o.presenter.SetElapsed(elapsed.Milliseconds())

	o.setPhase(PhaseDone)
	o.doneOnce.Do(o.presenter.NotifyDone)

	return RunResult{Status: status, Message: text, Elapsed: elapsed}
}
