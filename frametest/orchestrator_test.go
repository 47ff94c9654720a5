package frametest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/launchdarkly/frame-test-harness/framework"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastConfig = Config{
	ContextPollInterval:    time.Millisecond,
	CompletionPollInterval: time.Millisecond,
}

var basicRequest = TestCaseRequest{
	Name:                "testRendererProperties",
	Code:                "({testRendererProperties: {test: function(cmp) {}}})",
	QuickFixOnException: true,
	URL:                 "file:///tmp/app.js",
}

func startOrchestrator(t *testing.T, hc HostedContext, config Config) (RunResult, *RecordingPresenter, *Orchestrator) {
	presenter := NewRecordingPresenter()
	o := NewOrchestrator(basicRequest, presenter, config, nil)
	result, err := o.Start(context.Background(), hc)
	require.NoError(t, err)
	return result, presenter, o
}

func TestPassAfterThreeIncompletePolls(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 3}
	result, presenter, o := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "Passed", result.Message)
	assert.GreaterOrEqual(t, result.Elapsed, time.Duration(0))

	calls := presenter.Calls()
	require.Len(t, calls, 7)
	for i := 0; i < 3; i++ {
		assert.Equal(t, PresenterCall{"SetStatus", StatusSpin}, calls[i])
	}
	assert.Equal(t, PresenterCall{"SetStatus", StatusPass}, calls[3])
	assert.Equal(t, PresenterCall{"SetResultText", "Passed"}, calls[4])
	assert.Equal(t, "SetElapsed", calls[5].Method)
	assert.GreaterOrEqual(t, calls[5].Value.(int64), int64(0))
	assert.Equal(t, PresenterCall{"NotifyDone", nil}, calls[6])

	state := o.State()
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Equal(t, StatusPass, state.Status)
	assert.Empty(t, state.Errors)
	assert.False(t, state.StartTime.IsZero())
}

func TestRunIsCalledOnceWithRequestParameters(t *testing.T) {
	runtime := &fakeRuntime{}
	startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)

	assert.Equal(t, []runCall{{
		name:         basicRequest.Name,
		code:         basicRequest.Code,
		timeoutTicks: DefaultTimeoutTicks,
		quickFix:     true,
	}}, runtime.runs())
}

func TestTimeoutTicksCanBeConfigured(t *testing.T) {
	runtime := &fakeRuntime{}
	config := fastConfig
	config.TimeoutTicks = 25
	startOrchestrator(t, &fakeContext{runtime: runtime}, config)
	require.Len(t, runtime.runs(), 1)
	assert.Equal(t, 25, runtime.runs()[0].timeoutTicks)
}

func TestFailureMessageKeepsErrorOrder(t *testing.T) {
	runtime := &fakeRuntime{errors: `[{"message":"A"},{"message":"B","lastStage":"stage1"}]`}
	result, presenter, o := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)

	expected := "AB<br/><br/><pre>stage1</pre>"
	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, expected, result.Message)
	assert.Equal(t, 1, presenter.Count("SetResultText", expected))
	assert.Equal(t, 1, presenter.Count("SetStatus", StatusFail))
	assert.Equal(t, 0, presenter.Count("SetStatus", StatusPass))
	assert.Equal(t, []ErrorRecord{{Message: "A"}, {Message: "B", LastStage: "stage1"}}, o.State().Errors)
}

func TestEmptyErrorArrayIsPass(t *testing.T) {
	runtime := &fakeRuntime{errors: " [] "}
	result, _, o := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)
	assert.Equal(t, StatusPass, result.Status)
	assert.Empty(t, o.State().Errors)
}

func TestMalformedErrorPayloadIsFailureWithRawText(t *testing.T) {
	runtime := &fakeRuntime{errors: `{message: 'not json'}`}
	result, _, o := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)

	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, "malformed error payload from test runtime: {message: 'not json'}", result.Message)
	assert.Len(t, o.State().Errors, 1)
}

func TestErrorReadingErrorsIsFailure(t *testing.T) {
	runtime := &fakeRuntime{errorsErr: errors.New("connection reset")}
	result, _, _ := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "connection reset")
}

func TestRunErrorIsFailureWithoutPolling(t *testing.T) {
	runtime := &fakeRuntime{runErr: errors.New("no such case"), incompletePolls: 1000}
	result, presenter, _ := startOrchestrator(t, &fakeContext{runtime: runtime}, fastConfig)

	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, "test runtime rejected run: no such case", result.Message)
	assert.Equal(t, 0, presenter.Count("SetStatus", StatusSpin))
	assert.Equal(t, 1, presenter.Count("NotifyDone", nil))
}

func TestWaitsForRootBeforeRunning(t *testing.T) {
	runtime := &fakeRuntime{}
	hc := &fakeContext{runtime: runtime, notReadyProbes: 4}
	result, presenter, _ := startOrchestrator(t, hc, fastConfig)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 5, hc.probes)
	assert.Equal(t, 4, runtime.isCompleteCalls-1, "runtime should be checked once per unready probe, plus the final poll")
	assert.Len(t, runtime.runs(), 1)
	assert.Equal(t, 4, presenter.Count("SetStatus", StatusSpin))
}

func TestRunsWhenRuntimeIsCompleteEvenIfRootNeverResolves(t *testing.T) {
	runtime := &fakeRuntime{completeBeforeRun: true}
	hc := &fakeContext{runtime: runtime, notReadyProbes: -1}
	result, _, _ := startOrchestrator(t, hc, fastConfig)

	assert.Equal(t, StatusPass, result.Status)
	assert.Len(t, runtime.runs(), 1)
	assert.Equal(t, 1, hc.probes)
}

func TestUnreachableRuntimeIsTreatedAsNotReady(t *testing.T) {
	runtime := &fakeRuntime{isCompleteErr: errors.New("aura is not defined")}
	hc := &fakeContext{runtime: runtime, notReadyProbes: 2}

	presenter := NewRecordingPresenter()
	config := fastConfig
	config.Deadline = time.Millisecond * 200
	o := NewOrchestrator(basicRequest, presenter, config, nil)
	_, err := o.Start(context.Background(), hc)

	// the root becomes ready, but the runtime never answers, so only the deadline ends polling
	assert.ErrorIs(t, err, framework.ErrPollTimeout)
	assert.Equal(t, 3, hc.probes)
	assert.Len(t, runtime.runs(), 1)
	assert.Equal(t, StatusFail, o.State().Status)
}

func TestGivesUpAfterMaxContextAttempts(t *testing.T) {
	runtime := &fakeRuntime{}
	hc := &fakeContext{runtime: runtime, notReadyProbes: -1}
	presenter := NewRecordingPresenter()
	config := fastConfig
	config.MaxContextAttempts = 3
	o := NewOrchestrator(basicRequest, presenter, config, nil)

	result, err := o.Start(context.Background(), hc)

	assert.ErrorIs(t, err, framework.ErrPollTimeout)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "timed out waiting for the frame to become ready")
	assert.Equal(t, time.Duration(0), result.Elapsed)
	assert.Empty(t, runtime.runs())
	assert.Equal(t, 3, hc.probes)
	assert.Equal(t, 1, presenter.Count("NotifyDone", nil))
	assert.Equal(t, PhaseDone, o.State().Phase)
}

func TestDeadlineWhileWaitingForCompletion(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 1 << 30}
	presenter := NewRecordingPresenter()
	config := fastConfig
	config.Deadline = time.Millisecond * 50
	o := NewOrchestrator(basicRequest, presenter, config, nil)

	result, err := o.Start(context.Background(), &fakeContext{runtime: runtime})

	assert.ErrorIs(t, err, framework.ErrPollTimeout)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "timed out waiting for the test case to complete")
	assert.Len(t, runtime.runs(), 1)
	assert.Equal(t, 1, presenter.Count("NotifyDone", nil))
}

func TestCancellationPublishesNothingFurther(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 1 << 30}
	presenter := NewRecordingPresenter()
	o := NewOrchestrator(basicRequest, presenter, fastConfig, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*30)
	defer cancel()

	_, err := o.Start(ctx, &fakeContext{runtime: runtime})

	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 0, presenter.Count("NotifyDone", nil))
	assert.Equal(t, 0, presenter.Count("SetResultText", nil))
	assert.Equal(t, PhasePolling, o.State().Phase)
}

func TestStartTwiceRunsOnce(t *testing.T) {
	runtime := &fakeRuntime{}
	hc := &fakeContext{runtime: runtime}
	_, presenter, o := startOrchestrator(t, hc, fastConfig)

	_, err := o.Start(context.Background(), hc)
	assert.Equal(t, ErrAlreadyStarted, err)
	assert.Len(t, runtime.runs(), 1)
	assert.Equal(t, 1, presenter.Count("NotifyDone", nil))
}

func TestElapsedIsMeasuredFromRun(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Millisecond * 42)}
	runtime := &fakeRuntime{incompletePolls: 2}
	presenter := NewRecordingPresenter()
	o := NewOrchestrator(basicRequest, presenter, fastConfig, nil)
	o.now = func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}

	result, err := o.Start(context.Background(), &fakeContext{runtime: runtime})
	require.NoError(t, err)

	assert.Equal(t, time.Millisecond*42, result.Elapsed)
	assert.Equal(t, " in 42ms", result.ElapsedText())
	assert.Equal(t, 1, presenter.Count("SetElapsed", int64(42)))
	assert.Equal(t, base, o.State().StartTime)
}

func TestElapsedIsNeverNegative(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Second)}
	o := NewOrchestrator(basicRequest, NewRecordingPresenter(), fastConfig, nil)
	o.now = func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}
	result, err := o.Start(context.Background(), &fakeContext{runtime: &fakeRuntime{}})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), result.Elapsed)
}

func TestCollectWithoutRunningIsAnError(t *testing.T) {
	o := NewOrchestrator(basicRequest, NewRecordingPresenter(), fastConfig, nil)
	_, err := o.Collect(context.Background(), &fakeRuntime{})
	assert.Equal(t, ErrNotRunning, err)
}

func TestCollectAfterMarkRunning(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 1, errors: `[{"message":"oops"}]`}
	require.NoError(t, runtime.Run("x", "", 10, false))
	presenter := NewRecordingPresenter()
	o := NewOrchestrator(basicRequest, presenter, fastConfig, nil)

	require.NoError(t, o.MarkRunning())
	result, err := o.Collect(context.Background(), runtime)

	require.NoError(t, err)
	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, "oops", result.Message)
	assert.Equal(t, 1, presenter.Count("SetStatus", StatusSpin))
	assert.Equal(t, ErrAlreadyStarted, o.MarkRunning())
}

func TestEachLoopUsesItsOwnInterval(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 3}
	config := Config{
		ContextPollInterval:    time.Millisecond,
		CompletionPollInterval: time.Millisecond * 50,
	}
	began := time.Now()
	result, _, _ := startOrchestrator(t, &fakeContext{runtime: runtime, notReadyProbes: 2}, config)

	assert.Equal(t, StatusPass, result.Status)
	assert.Less(t, runtime.ranAt().Sub(began), time.Millisecond*50)
	assert.GreaterOrEqual(t, result.Elapsed, time.Millisecond*150)
}

func TestMarkRunningIsRejectedWhileAwaitingContext(t *testing.T) {
	runtime := &fakeRuntime{}
	hc := &gatedContext{runtime: runtime, ready: make(chan struct{})}
	o := NewOrchestrator(basicRequest, NewRecordingPresenter(), fastConfig, nil)

	done := make(chan RunResult, 1)
	go func() {
		result, err := o.Start(context.Background(), hc)
		assert.NoError(t, err)
		done <- result
	}()
	require.Eventually(t, func() bool { return o.State().Phase == PhaseAwaitingContext },
		time.Second, time.Millisecond)

	assert.Equal(t, ErrAlreadyStarted, o.MarkRunning())
	assert.Equal(t, PhaseAwaitingContext, o.State().Phase)
	assert.True(t, o.State().StartTime.IsZero())

	close(hc.ready)
	result := <-done
	assert.Equal(t, StatusPass, result.Status)
	assert.Len(t, runtime.runs(), 1)
	assert.False(t, o.State().StartTime.IsZero())
}

func TestOnlyOneCollectPollsAtATime(t *testing.T) {
	runtime := &fakeRuntime{incompletePolls: 5}
	require.NoError(t, runtime.Run("x", "", 10, false))
	presenter := NewRecordingPresenter()
	o := NewOrchestrator(basicRequest, presenter, fastConfig, nil)
	require.NoError(t, o.MarkRunning())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := o.Collect(context.Background(), runtime)
			errs <- err
		}()
	}
	var rejected int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			assert.Equal(t, ErrNotRunning, err)
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, presenter.Count("NotifyDone", nil))
}
