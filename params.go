package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
	"github.com/launchdarkly/frame-test-harness/jsframe"
	"github.com/launchdarkly/frame-test-harness/suite"
)

const (
	defaultPort = 8111
	envPrefix   = "FRAMETEST"
)

type commandParams struct {
	suiteFiles       []string
	serviceURL       string
	port             int
	host             string
	filters          framework.RegexFilters
	parallel         int
	orchestration    frametest.Config
	rootProbe        string
	runtimePath      string
	metricsAddr      string
	stopServiceAtEnd bool
	debug            bool
	debugAll         bool
}

func addFlags(fs *pflag.FlagSet, filters *framework.RegexFilters) {
	fs.StringSlice("suite", nil, "suite manifest file (may be repeated)")
	fs.String("url", "", "test service URL; if omitted, frames run in-process")
	fs.String("host", "localhost", "external hostname of the test harness")
	fs.Int("port", defaultPort, "port that the test harness will listen on for callbacks")
	fs.Var(&filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.Int("parallel", suite.DefaultParallel, "maximum number of test cases to run at once")
	fs.Duration("context-poll", frametest.DefaultContextPollInterval, "interval between checks for a ready frame")
	fs.Duration("completion-poll", frametest.DefaultCompletionPollInterval, "interval between checks for a completed case")
	fs.Int("timeout-ticks", frametest.DefaultTimeoutTicks, "timeout passed to the test runtime with each case")
	fs.Duration("deadline", 0, "time limit for each case, including loading its frame (0 for none)")
	fs.Int("max-attempts", 0, "maximum number of checks for a ready frame (0 for no limit)")
	fs.String("root-probe", jsframe.DefaultRootProbe, "global function that returns the application root (in-process frames)")
	fs.String("runtime-path", jsframe.DefaultRuntimePath, "global test runtime object (in-process frames)")
	fs.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	fs.Bool("stop-service-at-end", false, "tell test service to exit after the test run")
	fs.Bool("debug", false, "enable debug logging for failed tests")
	fs.Bool("debug-all", false, "enable debug logging for all tests")
	fs.String("config", "", "configuration file with defaults for any of these flags")
}

// newRootCommand builds the command line. Flag values can also come from FRAMETEST_* environment
// variables or a --config file; an explicit flag wins over both.
func newRootCommand(run func(*commandParams) error) *cobra.Command {
	var params commandParams
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "frame-test-harness --suite FILE [flags]",
		Short:         "Runs test cases inside hosted frames and reports the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := params.read(v); err != nil {
				return err
			}
			return run(&params)
		},
	}
	addFlags(cmd.Flags(), &params.filters)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

func (c *commandParams) read(v *viper.Viper) error {
	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("could not read config file: %w", err)
		}
	}

	c.suiteFiles = stringList(v, "suite")
	c.serviceURL = v.GetString("url")
	c.host = v.GetString("host")
	c.port = v.GetInt("port")
	c.parallel = v.GetInt("parallel")
	c.orchestration = frametest.Config{
		ContextPollInterval:    v.GetDuration("context-poll"),
		CompletionPollInterval: v.GetDuration("completion-poll"),
		TimeoutTicks:           v.GetInt("timeout-ticks"),
		MaxContextAttempts:     v.GetInt("max-attempts"),
		Deadline:               v.GetDuration("deadline"),
	}
	c.rootProbe = v.GetString("root-probe")
	c.runtimePath = v.GetString("runtime-path")
	c.metricsAddr = v.GetString("metrics-addr")
	c.stopServiceAtEnd = v.GetBool("stop-service-at-end")
	c.debug = v.GetBool("debug")
	c.debugAll = v.GetBool("debug-all")

	if len(c.suiteFiles) == 0 {
		return errors.New("at least one --suite is required")
	}
	if c.parallel < 1 {
		return errors.New("--parallel must be at least 1")
	}
	if c.orchestration.ContextPollInterval <= 0 || c.orchestration.CompletionPollInterval <= 0 {
		return errors.New("poll intervals must be positive")
	}
	return nil
}

// stringList reads a list value. An environment variable may separate items with commas or
// spaces.
func stringList(v *viper.Viper, key string) []string {
	var items []string
	for _, value := range v.GetStringSlice(key) {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// rerunCommand returns a command line that repeats this run for only the failed tests.
func (c *commandParams) rerunCommand(program string, failures []framework.TestResult) string {
	var b commandBuilder
	b.add(program)
	for _, f := range c.suiteFiles {
		b.add("--suite", f)
	}
	if c.serviceURL != "" {
		b.add("--url", c.serviceURL)
	}
	if c.orchestration.Deadline > 0 {
		b.add("--deadline", c.orchestration.Deadline.Round(time.Millisecond).String())
	}
	for _, f := range failures {
		b.add("--run", "^"+regexp.QuoteMeta(f.TestID.String())+"$")
	}
	b.add("--debug")
	return b.String()
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
