package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
	"github.com/launchdarkly/frame-test-harness/jsframe"
	"github.com/launchdarkly/frame-test-harness/metrics"
	"github.com/launchdarkly/frame-test-harness/remoteframe"
	"github.com/launchdarkly/frame-test-harness/servicedef"
	"github.com/launchdarkly/frame-test-harness/suite"
)

const statusQueryTimeout = time.Second * 10

var errTestsFailed = errors.New("some tests failed")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Could not load .env file: %s\n", err)
		os.Exit(1)
	}

	if err := newRootCommand(run).Execute(); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

func run(params *commandParams) error {
	mainDebugLogger := framework.NullLogger()
	if params.debugAll {
		mainDebugLogger = log.New(os.Stdout, "", log.LstdFlags)
	}

	suites := make([]suite.Suite, 0, len(params.suiteFiles))
	for _, path := range params.suiteFiles {
		s, err := suite.LoadFile(path)
		if err != nil {
			return err
		}
		suites = append(suites, s)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	options := suite.Options{
		Config:   params.orchestration,
		Parallel: params.parallel,
	}
	var missingCapabilities []string

	if params.serviceURL != "" {
		harness, err := framework.NewTestHarness(
			params.serviceURL,
			params.host,
			params.port,
			statusQueryTimeout,
			mainDebugLogger,
			os.Stdout,
		)
		if err != nil {
			return fmt.Errorf("test service error: %w", err)
		}
		defer harness.Close()
		if params.stopServiceAtEnd {
			defer func() {
				fmt.Println("Stopping test service")
				if err := harness.StopService(); err != nil {
					fmt.Fprintf(os.Stderr, "Error stopping test service: %s\n", err)
				}
			}()
		}
		missingCapabilities = harness.MissingCapabilities(wantedCapabilities(suites))
		container := remoteframe.NewContainer(harness, mainDebugLogger)
		defer container.Close()
		options.Container = container
	} else {
		container := jsframe.NewContainer(jsframe.Options{
			RootProbe:   params.rootProbe,
			RuntimePath: params.runtimePath,
			Logger:      mainDebugLogger,
		})
		defer container.Close()
		options.Container = container
		options.LocalFiles = true
	}

	runMetrics := metrics.New(uuid.NewString())
	if params.metricsAddr != "" {
		go func() {
			if err := runMetrics.Serve(ctx, params.metricsAddr, mainDebugLogger); err != nil {
				fmt.Fprintf(os.Stderr, "Metrics server error: %s\n", err)
			}
		}()
	}
	options.Presenters = func(suiteName, caseName string) frametest.ResultPresenter {
		return frametest.MultiPresenter{
			runMetrics.Presenter(suiteName, caseName),
			&frametest.ConsolePresenter{Name: suite.TestID(suiteName, caseName).String(), Out: os.Stdout},
		}
	}

	fmt.Println()
	framework.PrintFilterDescription(os.Stdout, params.filters, missingCapabilities)

	fmt.Println("Running test suites")
	testLogger := &ConsoleTestLogger{
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}
	results := suite.RunSuites(ctx, suites, params.filters.AsFilter, testLogger, options)

	fmt.Println()
	framework.PrintResults(os.Stdout, results)
	if !results.OK() {
		fmt.Println()
		fmt.Println("To rerun only the failed tests:")
		fmt.Printf("  %s\n", params.rerunCommand(os.Args[0], results.Failures))
		return errTestsFailed
	}
	return nil
}

func wantedCapabilities(suites []suite.Suite) []string {
	wanted := []string{servicedef.CapabilityFrames}
	for _, s := range suites {
		for _, c := range s.Cases {
			if c.QuickFixException {
				return append(wanted, servicedef.CapabilityQuickFix)
			}
		}
	}
	return wanted
}
