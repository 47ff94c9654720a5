package frametest

import (
	"time"
)

// Status is the outcome published to a ResultPresenter.
type Status string

const (
	StatusSpin Status = "spin"
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Phase is the orchestrator's position in the protocol. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingContext
	PhaseRunning
	PhasePolling
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingContext:
		return "awaiting-context"
	case PhaseRunning:
		return "running"
	case PhasePolling:
		return "polling"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// TestCaseRequest identifies one test case to run inside a hosted frame.
type TestCaseRequest struct {
	// Name is the test case name passed to the inner runtime.
	Name string
	// Code is the serialized test suite that contains the case.
	Code string
	// QuickFixOnException is passed through to the inner runtime unchanged.
	QuickFixOnException bool
	// URL is the source location the frame is loaded from.
	URL string
}

// ErrorRecord is one entry of the JSON array returned by InnerRuntime.Errors.
type ErrorRecord struct {
	Message   string `json:"message"`
	LastStage string `json:"lastStage,omitempty"`
}

// OrchestrationState is a snapshot of an orchestrator's progress.
type OrchestrationState struct {
	Phase     Phase
	StartTime time.Time
	Elapsed   time.Duration
	Status    Status
	Errors    []ErrorRecord
}

// RunResult is produced once an orchestrator reaches PhaseDone.
type RunResult struct {
	Status  Status
	Message string
	Elapsed time.Duration
}

// ElapsedText formats the elapsed time the way it is published, e.g. " in 42ms".
func (r RunResult) ElapsedText() string {
	return FormatElapsed(r.Elapsed.Milliseconds())
}

// InnerRuntime is the test execution facility inside a hosted frame.
type InnerRuntime interface {
	// IsComplete reports whether the runtime has finished the last run, or has nothing to run.
	IsComplete() (bool, error)
	// Run starts a test case. The runtime may carry on asynchronously; completion is observed
	// only through IsComplete.
	Run(name, code string, timeoutTicks int, quickFixOnException bool) error
	// Errors returns "" or a JSON array of ErrorRecord values.
	Errors() (string, error)
}

// HostedContext is a handle to a loaded frame's global scope.
type HostedContext interface {
	// RootReady reports whether the hosted application has finished bootstrapping. A frame that
	// is still starting up reports false; that is expected and not an error.
	RootReady() bool
	// Runtime returns the frame's inner test runtime.
	Runtime() InnerRuntime
}

// ResultPresenter receives everything the orchestrator publishes. Implementations must not block
// for long, since they are called from the polling loop.
type ResultPresenter interface {
	SetStatus(status Status)
	SetResultText(text string)
	SetElapsed(ms int64)
	NotifyDone()
}
