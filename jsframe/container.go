package jsframe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
)

const (
	DefaultRootProbe   = "$A.getRoot"
	DefaultRuntimePath = "aura.test"
)

// Options configures a Container. Zero values select the defaults.
type Options struct {
	// RootProbe is the dotted path of a global function that returns the application's root
	// object once it has finished bootstrapping.
	RootProbe string
	// RuntimePath is the dotted path of the global test runtime object, which must have
	// isComplete, run and getErrors methods.
	RuntimePath string
	// BaseDir is used to resolve frame URLs that are relative file paths.
	BaseDir string
	// HTTPClient is used for http and https frame URLs.
	HTTPClient *http.Client
	Logger     framework.Logger
}

// Container creates Frames in the current process.
type Container struct {
	options Options
	frames  []*Frame
	lock    sync.Mutex
}

func NewContainer(options Options) *Container {
	if options.RootProbe == "" {
		options.RootProbe = DefaultRootProbe
	}
	if options.RuntimePath == "" {
		options.RuntimePath = DefaultRuntimePath
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.Logger == nil {
		options.Logger = framework.NullLogger()
	}
	return &Container{options: options}
}

// Attach fetches the page script from spec.URL, then starts a new Frame that runs it. onLoad is
// called once the script has run. A script that cannot be fetched is an error; a script that
// throws is not.
func (c *Container) Attach(
	ctx context.Context,
	spec frametest.FrameSpec,
	onLoad func(frametest.HostedContext),
) (frametest.Frame, error) {
	source, err := c.fetchSource(ctx, spec.URL)
	if err != nil {
		return nil, err
	}
	logger := framework.PrefixedLogger(c.options.Logger, fmt.Sprintf("[frame %s] ", spec.Tag))
	f := newFrame(spec, c.options, logger, c.remove)

	c.lock.Lock()
	c.frames = append([]*Frame{f}, c.frames...)
	c.lock.Unlock()

	f.evaluate(source, onLoad)
	return f, nil
}

// Frames returns the open frames, newest first.
func (c *Container) Frames() []*Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*Frame(nil), c.frames...)
}

// Close closes every open frame.
func (c *Container) Close() {
	for _, f := range c.Frames() {
		_ = f.Close()
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

func (c *Container) fetchSource(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return c.fetchHTTP(ctx, rawURL)
		case "file":
			return readFile(u.Path)
		}
	}
	path := rawURL
	if !filepath.IsAbs(path) && c.options.BaseDir != "" {
		path = filepath.Join(c.options.BaseDir, path)
	}
	return readFile(path)
}

func (c *Container) fetchHTTP(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s returned status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
