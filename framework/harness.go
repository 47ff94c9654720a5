package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const endpointPathPrefix = "/endpoints/"
const httpListenerTimeout = time.Second * 10

// TestHarness talks to a remote test service and runs an HTTP listener so that the service can
// send callback requests to mock endpoints.
type TestHarness struct {
	testServiceBaseURL         string
	testHarnessExternalBaseURL string
	testServiceInfo            TestServiceInfo
	endpoints                  map[string]*MockEndpoint
	lastEndpointID             int
	server                     *http.Server
	logger                     Logger
	lock                       sync.Mutex
}

// NewTestHarness creates a TestHarness instance, and verifies that the test service is responding
// by querying its status resource. It also starts an HTTP listener on the specified port to
// receive callback requests; port 0 picks any free port, and the chosen one is used in
// callback URLs.
func NewTestHarness(
	testServiceBaseURL string,
	testHarnessExternalHostname string,
	testHarnessPort int,
	statusQueryTimeout time.Duration,
	debugLogger Logger,
	startupOutput io.Writer,
) (*TestHarness, error) {
	if debugLogger == nil {
		debugLogger = NullLogger()
	}

	h := &TestHarness{
		testServiceBaseURL: strings.TrimSuffix(testServiceBaseURL, "/"),
		endpoints:          make(map[string]*MockEndpoint),
		logger:             debugLogger,
	}

	testServiceInfo, err := queryTestServiceInfo(testServiceBaseURL, statusQueryTimeout, startupOutput)
	if err != nil {
		return nil, err
	}
	h.testServiceInfo = testServiceInfo

	server, port, err := startServer(testHarnessPort, http.HandlerFunc(h.serveHTTP), debugLogger)
	if err != nil {
		return nil, err
	}
	h.server = server
	h.testHarnessExternalBaseURL = fmt.Sprintf("http://%s:%d", testHarnessExternalHostname, port)

	return h, nil
}

func (h *TestHarness) TestServiceInfo() TestServiceInfo {
	return h.testServiceInfo
}

func (h *TestHarness) TestServiceHasCapability(desired string) bool {
	for _, capability := range h.testServiceInfo.Capabilities {
		if capability == desired {
			return true
		}
	}
	return false
}

// MissingCapabilities returns the members of wanted that the test service did not declare.
func (h *TestHarness) MissingCapabilities(wanted []string) []string {
	var ret []string
	for _, c := range wanted {
		if !h.TestServiceHasCapability(c) {
			ret = append(ret, c)
		}
	}
	return ret
}

// Close shuts down the callback listener. Any mock endpoints stop receiving requests.
func (h *TestHarness) Close() error {
	if h.server == nil {
		return nil
	}
	return h.server.Close()
}

func (h *TestHarness) serveHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == "HEAD" {
		w.WriteHeader(200) // we use this to test whether our own listener is active yet
		return
	}

	if !strings.HasPrefix(req.URL.Path, endpointPathPrefix) {
		h.logger.Printf("Received request for unrecognized URL path %s", req.URL.Path)
		w.WriteHeader(404)
		return
	}
	path := strings.TrimPrefix(req.URL.Path, endpointPathPrefix)
	var endpointID string
	slashPos := strings.Index(path, "/")
	if slashPos >= 0 {
		endpointID = path[0:slashPos]
		path = path[slashPos:]
	} else {
		endpointID = path
		path = ""
	}

	h.lock.Lock()
	e := h.endpoints[endpointID]
	h.lock.Unlock()
	if e == nil {
		h.logger.Printf("Received request for unrecognized endpoint %s", req.URL.Path)
		w.WriteHeader(404)
		return
	}

	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			h.logger.Printf("Unexpected error trying to read request body: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body = data
	}

	e.lock.Lock()
	ctx, canceller := context.WithCancel(req.Context())
	cancellerPtr := &canceller
	e.cancels = append(e.cancels, cancellerPtr)
	tracked := !e.untracked
	e.lock.Unlock()

	incoming := IncomingRequestInfo{
		Headers: req.Header,
		Method:  req.Method,
		Body:    body,
		Context: ctx,
	}
	if tracked {
		select { // non-blocking push
		case e.newConns <- incoming:
			break
		default:
			h.logger.Printf("Incoming connection channel was full for %s", req.URL)
		}
	}

	transformedReq := req.WithContext(ctx)
	url := *req.URL
	url.Path = path
	transformedReq.URL = &url
	if body != nil {
		transformedReq.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	e.handler.ServeHTTP(w, transformedReq)

	e.lock.Lock()
	for i, c := range e.cancels {
		if c == cancellerPtr { // can't compare functions with ==, but can compare pointers
			e.cancels = append(e.cancels[:i], e.cancels[i+1:]...)
			break
		}
	}
	e.lock.Unlock()
	canceller()
}

func startServer(port int, handler http.Handler, logger Logger) (*http.Server, int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, 0, fmt.Errorf("could not start callback listener: %w", err)
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "HEAD" {
				w.WriteHeader(200)
				return
			}
			handler.ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Callback listener stopped: %s", err)
		}
	}()

	// Wait till the server is definitely listening for requests before we run any tests
	selfURL := fmt.Sprintf("http://localhost:%d", actualPort)
	_, err = Poll(context.Background(), PollOptions{
		Interval: time.Millisecond * 10,
		Until:    time.Now().Add(httpListenerTimeout),
	}, func(int) (bool, error) {
		resp, err := http.DefaultClient.Head(selfURL)
		if err != nil {
			return false, nil
		}
		_ = resp.Body.Close()
		return resp.StatusCode == 200, nil
	})
	if err != nil {
		_ = server.Close()
		return nil, 0, fmt.Errorf("could not detect own listener at %s: %w", selfURL, err)
	}
	return server, actualPort, nil
}
