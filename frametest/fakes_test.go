package frametest

import (
	"context"
	"sync"
	"time"
)

type runCall struct {
	name         string
	code         string
	timeoutTicks int
	quickFix     bool
}

// fakeRuntime reports incomplete for the first incompletePolls calls to IsComplete made after
// Run, and complete after that.
type fakeRuntime struct {
	incompletePolls   int
	completeBeforeRun bool
	isCompleteErr     error
	errors            string
	errorsErr         error
	runErr            error

	runCalls        []runCall
	runAt           time.Time
	pollsAfterRun   int
	isCompleteCalls int
	lock            sync.Mutex
}

func (f *fakeRuntime) IsComplete() (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.isCompleteCalls++
	if f.isCompleteErr != nil {
		return false, f.isCompleteErr
	}
	if len(f.runCalls) == 0 {
		return f.completeBeforeRun, nil
	}
	f.pollsAfterRun++
	return f.pollsAfterRun > f.incompletePolls, nil
}

func (f *fakeRuntime) Run(name, code string, timeoutTicks int, quickFix bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.runCalls = append(f.runCalls, runCall{name, code, timeoutTicks, quickFix})
	f.runAt = time.Now()
	return f.runErr
}

func (f *fakeRuntime) Errors() (string, error) {
	return f.errors, f.errorsErr
}

func (f *fakeRuntime) ranAt() time.Time {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.runAt
}

func (f *fakeRuntime) runs() []runCall {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]runCall(nil), f.runCalls...)
}

// fakeContext reports its root as not ready for the first notReadyProbes calls to RootReady.
// A negative notReadyProbes means the root never becomes ready.
type fakeContext struct {
	runtime        *fakeRuntime
	notReadyProbes int
	probes         int
	lock           sync.Mutex
}

func (f *fakeContext) RootReady() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.probes++
	if f.notReadyProbes < 0 {
		return false
	}
	return f.probes > f.notReadyProbes
}

func (f *fakeContext) Runtime() InnerRuntime { return f.runtime }

// gatedContext reports its root as ready once the ready channel is closed.
type gatedContext struct {
	runtime *fakeRuntime
	ready   chan struct{}
}

func (g *gatedContext) RootReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

func (g *gatedContext) Runtime() InnerRuntime { return g.runtime }

type fakeFrame struct {
	closed int
}

func (f *fakeFrame) Close() error {
	f.closed++
	return nil
}

// fakeContainer fires the load callback with hc immediately (twice, to check that the loader
// only honors the first), unless neverLoads is set.
type fakeContainer struct {
	hc         HostedContext
	neverLoads bool
	attachErr  error
	specs      []FrameSpec
	frames     []*fakeFrame
	lock       sync.Mutex
}

func (f *fakeContainer) Attach(ctx context.Context, spec FrameSpec, onLoad func(HostedContext)) (Frame, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.specs = append(f.specs, spec)
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	frame := &fakeFrame{}
	f.frames = append([]*fakeFrame{frame}, f.frames...)
	if !f.neverLoads {
		go func() {
			onLoad(f.hc)
			onLoad(f.hc)
		}()
	}
	return frame, nil
}
