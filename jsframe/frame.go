package jsframe

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
)

const jobQueueSize = 16

// ErrFrameClosed is returned by calls into a frame after it has been closed.
var ErrFrameClosed = errors.New("frame is closed")

// Frame is a page script running in its own goja VM. The VM is only ever touched by the frame's
// loop goroutine; every call from the host is queued to that goroutine and waited for, and timer
// callbacks are queued the same way when they fire.
//
// Frame implements frametest.HostedContext.
type Frame struct {
	spec      frametest.FrameSpec
	options   Options
	vm        *goja.Runtime
	logger    framework.Logger
	jobs      chan func()
	closing   chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	onClose   func(*Frame)

	// owned by the loop goroutine
	timers    map[int64]*time.Timer
	nextTimer int64
}

func newFrame(spec frametest.FrameSpec, options Options, logger framework.Logger, onClose func(*Frame)) *Frame {
	f := &Frame{
		spec:    spec,
		options: options,
		vm:      goja.New(),
		logger:  logger,
		jobs:    make(chan func(), jobQueueSize),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
		onClose: onClose,
		timers:  make(map[int64]*time.Timer),
	}
	f.installGlobals()
	go f.loop()
	return f
}

// Spec returns the parameters the frame was created with.
func (f *Frame) Spec() frametest.FrameSpec { return f.spec }

// Close stops the frame's loop, interrupting any script that is still running, and cancels its
// pending timers.
func (f *Frame) Close() error {
	f.closeOnce.Do(func() {
		close(f.closing)
		f.vm.Interrupt(ErrFrameClosed)
		if f.onClose != nil {
			f.onClose(f)
		}
	})
	<-f.stopped
	return nil
}

func (f *Frame) loop() {
	defer close(f.stopped)
	defer func() {
		for _, t := range f.timers {
			t.Stop()
		}
	}()
	for {
		select {
		case job := <-f.jobs:
			job()
		case <-f.closing:
			return
		}
	}
}

func (f *Frame) submit(job func()) bool {
	select {
	case f.jobs <- job:
		return true
	case <-f.closing:
		return false
	}
}

// call runs fn on the loop goroutine and waits for it. A panic inside fn, which is how goja
// reports some type errors, is returned as an error.
func (f *Frame) call(fn func(vm *goja.Runtime) error) error {
	result := make(chan error, 1)
	ok := f.submit(func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("%v", r)
			}
		}()
		result <- fn(f.vm)
	})
	if !ok {
		return ErrFrameClosed
	}
	select {
	case err := <-result:
		return err
	case <-f.stopped:
		return ErrFrameClosed
	}
}

// evaluate runs the page script, then fires onLoad whether or not the script threw, the same as
// a browser fires a frame's load event.
func (f *Frame) evaluate(source string, onLoad func(frametest.HostedContext)) {
	f.submit(func() {
		if _, err := f.vm.RunScript(f.spec.URL, source); err != nil {
			f.logger.Printf("Page script failed: %s", err)
		}
		if onLoad != nil {
			go onLoad(f)
		}
	})
}

func (f *Frame) installGlobals() {
	vm := f.vm
	_ = vm.Set("window", vm.GlobalObject())

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		f.logger.Printf("console: %s", strings.Join(parts, " "))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout requires a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		f.nextTimer++
		id := f.nextTimer
		f.timers[id] = time.AfterFunc(delay, func() {
			f.submit(func() {
				if _, pending := f.timers[id]; !pending {
					return
				}
				delete(f.timers, id)
				if _, err := fn(goja.Undefined(), args...); err != nil {
					f.logger.Printf("Timer callback failed: %s", err)
				}
			})
		})
		return vm.ToValue(id)
	})

	_ = vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		if t, ok := f.timers[id]; ok {
			t.Stop()
			delete(f.timers, id)
		}
		return goja.Undefined()
	})
}

// RootReady calls the configured root probe and reports whether it returned an object. A missing
// probe, an exception, or a closed frame all count as not ready.
func (f *Frame) RootReady() bool {
	ready := false
	err := f.call(func(vm *goja.Runtime) error {
		this, fnValue := resolve(vm, f.options.RootProbe)
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			return fmt.Errorf("%s is not a function", f.options.RootProbe)
		}
		root, err := fn(this)
		if err != nil {
			return err
		}
		ready = isPresent(root)
		return nil
	})
	if err != nil {
		f.logger.Printf("Root probe: %s", err)
	}
	return ready
}

// Runtime returns the frame's test runtime.
func (f *Frame) Runtime() frametest.InnerRuntime {
	return innerRuntime{frame: f}
}

func isPresent(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// resolve looks up a dotted path from the global object. It returns the object holding the last
// property, to be used as the receiver when calling it, and the property's value. Either is nil
// if some part of the path is missing.
func resolve(vm *goja.Runtime, path string) (goja.Value, goja.Value) {
	parts := strings.Split(path, ".")
	var this goja.Value = vm.GlobalObject()
	value := vm.Get(parts[0])
	for _, p := range parts[1:] {
		if !isPresent(value) {
			return nil, nil
		}
		this = value
		value = value.ToObject(vm).Get(p)
	}
	return this, value
}
