package frametest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/launchdarkly/frame-test-harness/framework"
)

// RunCase loads a frame for request in container, waits for its load event, and then runs the
// case with a new Orchestrator. The frame is closed before RunCase returns.
//
// If config has a Deadline, it also bounds the wait for the load event; running out of time
// there is published as a failure just like a timeout inside the orchestrator.
func RunCase(
	ctx context.Context,
	container Container,
	request TestCaseRequest,
	presenter ResultPresenter,
	config Config,
	logger framework.Logger,
) (RunResult, error) {
	tag := uuid.NewString()
	logger = framework.PrefixedLogger(logger, fmt.Sprintf("[%s %s] ", request.Name, tag[:8]))

	o := NewOrchestrator(request, presenter, config, logger)
	if config.Deadline > 0 {
		o.until = time.Now().Add(config.Deadline)
	}

	loadedCh := make(chan HostedContext, 1)
	loader := NewFrameLoader(container, FrameSpec{URL: request.URL, Tag: tag}, func(hc HostedContext) {
		logger.Printf("Frame loaded")
		loadedCh <- hc
	})
	logger.Printf("Loading frame from %s", request.URL)
	if err := loader.Load(ctx); err != nil {
		return RunResult{}, err
	}
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Printf("Error closing frame: %s", err)
		}
	}()

	var deadlineCh <-chan time.Time
	if !o.until.IsZero() {
		deadline := time.NewTimer(time.Until(o.until))
		defer deadline.Stop()
		deadlineCh = deadline.C
	}

	select {
	case hc := <-loadedCh:
		return o.Start(ctx, hc)
	case <-deadlineCh:
		err := fmt.Errorf("timed out waiting for the frame to load: %w", framework.ErrPollTimeout)
		return o.fail(err.Error()), err
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}
