// Package suite loads test suite manifests and runs their cases in hosted frames.
//
// Cases run concurrently, each in its own frame with its own orchestrator. Their outcomes are
// then reported, in manifest order, as tests of the framework package's outer runner, so that
// filtering, console output and the final results table work the same way for every case.
package suite

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
)

const DefaultParallel = 4

// PresenterFactory returns an additional presenter for a case, for instance to record metrics.
type PresenterFactory func(suiteName, caseName string) frametest.ResultPresenter

type Options struct {
	Container frametest.Container
	Config    frametest.Config
	// Parallel is the maximum number of cases that run at once.
	Parallel   int
	Presenters PresenterFactory
	// LocalFiles resolves relative frame URLs against each manifest's directory, for containers
	// that load frames from the local file system.
	LocalFiles bool
}

type outcome struct {
	id     framework.TestID
	result frametest.RunResult
	err    error
	log    framework.CapturingLogger
}

// TestID returns the ID under which a case is reported.
func TestID(suiteName, caseName string) framework.TestID {
	return framework.TestID{Path: []string{suiteName + "/" + caseName}}
}

// RunSuites runs every case that filter selects, then reports them all through testLogger.
func RunSuites(
	ctx context.Context,
	suites []Suite,
	filter framework.Filter,
	testLogger framework.TestLogger,
	options Options,
) framework.Results {
	parallel := options.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	var outcomes []*outcome
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, s := range suites {
		for _, c := range s.Cases {
			o := &outcome{id: TestID(s.Name, c.Name)}
			outcomes = append(outcomes, o)
			if filter != nil && !filter(o.id) {
				continue
			}
			request := s.Request(c)
			if options.LocalFiles {
				request.URL = s.LocalPath(request.URL)
			}
			presenter := frametest.MultiPresenter{}
			if options.Presenters != nil {
				presenter = append(presenter, options.Presenters(s.Name, c.Name))
			}
			g.Go(func() error {
				o.result, o.err = frametest.RunCase(ctx, options.Container, request, presenter, options.Config, &o.log)
				return nil
			})
		}
	}
	_ = g.Wait()

	return framework.Run(filter, testLogger, func(t *framework.Context) {
		for _, o := range outcomes {
			t.Run(o.id.Path[0], func(t *framework.Context) {
				report(t, o)
			})
		}
	})
}

func report(t *framework.Context, o *outcome) {
	for _, m := range o.log.Output() {
		t.Debug("%s", m.Message)
	}
	t.SetDuration(o.result.Elapsed)
	switch {
	case errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded):
		t.Errorf("test run was cancelled before the case finished")
	case o.err != nil && o.result.Status == "":
		t.Errorf("could not run case: %s", o.err)
	case o.result.Status != frametest.StatusPass:
		t.Errorf("%s", frametest.PlainText(o.result.Message))
	default:
		t.Debug("%s%s", o.result.Message, frametest.FormatElapsed(o.result.Elapsed.Milliseconds()))
	}
}
