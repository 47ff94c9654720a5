// Package remoteframe hosts frames in a remote test service, reached through a
// framework.TestHarness. The service reports a frame's load event, and anything the frame logs,
// by posting numbered callback messages to a mock endpoint; the host polls the frame's resource
// for readiness, completion and errors.
package remoteframe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
	"github.com/launchdarkly/frame-test-harness/servicedef"
)

const callbackQueueSize = 10

// Container creates frames in the test service that harness is connected to.
type Container struct {
	harness *framework.TestHarness
	logger  framework.Logger
	frames  []*Frame
	lock    sync.Mutex
}

func NewContainer(harness *framework.TestHarness, logger framework.Logger) *Container {
	if logger == nil {
		logger = framework.NullLogger()
	}
	return &Container{harness: harness, logger: logger}
}

// Attach asks the test service to create a frame for spec. onLoad is called when the service
// posts the frame's load callback.
func (c *Container) Attach(
	ctx context.Context,
	spec frametest.FrameSpec,
	onLoad func(frametest.HostedContext),
) (frametest.Frame, error) {
	logger := framework.PrefixedLogger(c.logger, fmt.Sprintf("[frame %s] ", spec.Tag))
	f := &Frame{
		spec:      spec,
		container: c,
		logger:    logger,
		queue:     framework.NewMessageSortingQueue(callbackQueueSize),
	}
	f.endpoint = c.harness.NewMockEndpoint(http.HandlerFunc(f.handleCallback), "callbacks for frame "+spec.Tag, logger)
	f.endpoint.StopTracking()

	entity, err := c.harness.NewTestServiceEntity(servicedef.CreateFrameParams{
		Tag:         spec.Tag,
		URL:         spec.URL,
		Scrolling:   spec.Scrolling,
		CallbackURL: f.endpoint.BaseURL(),
	}, "frame "+spec.Tag, logger)
	if err != nil {
		f.endpoint.Close()
		f.queue.Close()
		return nil, err
	}
	f.entity = entity

	c.lock.Lock()
	c.frames = append([]*Frame{f}, c.frames...)
	c.lock.Unlock()

	go f.consumeCallbacks(onLoad)
	return f, nil
}

// Frames returns the open frames, newest first.
func (c *Container) Frames() []*Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*Frame(nil), c.frames...)
}

// Close disposes of every open frame.
func (c *Container) Close() {
	for _, f := range c.Frames() {
		if err := f.Close(); err != nil {
			c.logger.Printf("Error closing frame %s: %s", f.spec.Tag, err)
		}
	}
}

func (c *Container) remove(f *Frame) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, existing := range c.frames {
		if existing == f {
			c.frames = append(c.frames[:i], c.frames[i+1:]...)
			return
		}
	}
}

// Frame is a frame hosted by the test service. It implements frametest.HostedContext.
type Frame struct {
	spec      frametest.FrameSpec
	container *Container
	entity    *framework.TestServiceEntity
	endpoint  *framework.MockEndpoint
	queue     *framework.MessageSortingQueue
	logger    framework.Logger
	closeOnce sync.Once
	closeErr  error
}

// Spec returns the parameters the frame was created with.
func (f *Frame) Spec() frametest.FrameSpec { return f.spec }

// ResourceURL returns the URL the test service assigned to the frame.
func (f *Frame) ResourceURL() string { return f.entity.ResourceURL() }

// Close stops accepting callbacks and tells the test service to dispose of the frame.
func (f *Frame) Close() error {
	f.closeOnce.Do(func() {
		f.endpoint.Close()
		f.queue.Close()
		f.container.remove(f)
		f.closeErr = f.entity.Close()
	})
	return f.closeErr
}

func (f *Frame) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counter, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil || counter < 1 {
		f.logger.Printf("Callback with invalid counter in path %q", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := readBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.queue.Accept(counter, body)
	w.WriteHeader(http.StatusAccepted)
}

func (f *Frame) consumeCallbacks(onLoad func(frametest.HostedContext)) {
	for data := range f.queue.C {
		var message servicedef.CallbackMessage
		if err := json.Unmarshal(data, &message); err != nil {
			f.logger.Printf("Malformed callback message: %s", string(data))
			continue
		}
		switch message.Kind {
		case servicedef.CallbackKindLoad:
			f.logger.Printf("Test service reported frame load")
			if onLoad != nil {
				onLoad(f)
			}
		case servicedef.CallbackKindLog:
			f.logger.Printf("service: %s", message.Message)
		default:
			f.logger.Printf("Ignoring callback of unknown kind %q", message.Kind)
		}
	}
}

// RootReady asks the test service whether the hosted application has bootstrapped. A failed
// query counts as not ready.
func (f *Frame) RootReady() bool {
	status, err := f.status()
	if err != nil {
		f.logger.Printf("Root probe: %s", err)
		return false
	}
	return status.RootReady
}

func (f *Frame) Runtime() frametest.InnerRuntime {
	return remoteRuntime{frame: f}
}

func (f *Frame) status() (servicedef.FrameStatus, error) {
	var status servicedef.FrameStatus
	err := f.entity.GetStatus(&status)
	return status, err
}

type remoteRuntime struct {
	frame *Frame
}

func (r remoteRuntime) IsComplete() (bool, error) {
	status, err := r.frame.status()
	return status.Complete, err
}

func (r remoteRuntime) Run(name, code string, timeoutTicks int, quickFixOnException bool) error {
	if quickFixOnException && !r.frame.container.harness.TestServiceHasCapability(servicedef.CapabilityQuickFix) {
		r.frame.logger.Printf("Test service does not declare %q; quickFixOnException may be ignored",
			servicedef.CapabilityQuickFix)
	}
	return r.frame.entity.SendCommand(servicedef.CommandParams{
		Command: servicedef.CommandRun,
		Run: &servicedef.RunParams{
			Name:                name,
			Code:                code,
			TimeoutTicks:        ldvalue.NewOptionalInt(timeoutTicks),
			QuickFixOnException: quickFixOnException,
		},
	})
}

func (r remoteRuntime) Errors() (string, error) {
	status, err := r.frame.status()
	return status.Errors, err
}
