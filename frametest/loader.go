package frametest

import (
	"context"
	"fmt"
	"sync"
)

const defaultScrolling = "auto"

// FrameSpec describes a frame to be created by a Container.
type FrameSpec struct {
	// URL is the source the frame loads.
	URL string
	// Scrolling is the frame's scroll behavior; FrameLoader always asks for native ("auto").
	Scrolling string
	// Tag identifies the frame in logs and, for remote frames, to the test service.
	Tag string
}

// Frame is a hosted frame that a Container created.
type Frame interface {
	Close() error
}

// Container creates hosted frames. Attach must call onLoad once the frame's load event has
// fired, from any goroutine; the FrameLoader guarantees that only the first call has any effect.
type Container interface {
	Attach(ctx context.Context, spec FrameSpec, onLoad func(HostedContext)) (Frame, error)
}

// FrameLoader creates at most one frame for a test case.
type FrameLoader struct {
	container Container
	spec      FrameSpec
	onLoad    func(HostedContext)
	loaded    bool
	frame     Frame
	lock      sync.Mutex
}

// NewFrameLoader returns a loader that will attach a frame for spec to container, calling onLoad
// with the frame's context once the frame has loaded.
func NewFrameLoader(container Container, spec FrameSpec, onLoad func(HostedContext)) *FrameLoader {
	return &FrameLoader{container: container, spec: spec, onLoad: onLoad}
}

// Load creates the frame. Only the first call does anything; later calls return nil. An error
// from the container is not retried by later calls either.
func (l *FrameLoader) Load(ctx context.Context) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.loaded {
		return nil
	}
	if l.container == nil {
		return ErrNoContainer
	}
	l.loaded = true

	spec := l.spec
	spec.Scrolling = defaultScrolling
	var once sync.Once
	frame, err := l.container.Attach(ctx, spec, func(hc HostedContext) {
		once.Do(func() {
			if l.onLoad != nil {
				l.onLoad(hc)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("could not create frame for %s: %w", spec.URL, err)
	}
	l.frame = frame
	return nil
}

// Close disposes of the frame, if one was created.
func (l *FrameLoader) Close() error {
	l.lock.Lock()
	frame := l.frame
	l.frame = nil
	l.lock.Unlock()
	if frame == nil {
		return nil
	}
	return frame.Close()
}
