package frametest

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// MultiPresenter forwards every call to each of its members in order.
type MultiPresenter []ResultPresenter

func (m MultiPresenter) SetStatus(status Status) {
	for _, p := range m {
		p.SetStatus(status)
	}
}

func (m MultiPresenter) SetResultText(text string) {
	for _, p := range m {
		p.SetResultText(text)
	}
}

func (m MultiPresenter) SetElapsed(ms int64) {
	for _, p := range m {
		p.SetElapsed(ms)
	}
}

func (m MultiPresenter) NotifyDone() {
	for _, p := range m {
		p.NotifyDone()
	}
}

// ConsolePresenter prints one line per test case when it is done, e.g.
//
//	PASS myCase: Passed in 12ms
//
// Failure text is shown with the HTML line breaks the runtime uses turned into newlines.
type ConsolePresenter struct {
	Name    string
	Out     io.Writer
	status  Status
	text    string
	elapsed int64
	lock    sync.Mutex
}

func (c *ConsolePresenter) SetStatus(status Status) {
	c.lock.Lock()
	c.status = status
	c.lock.Unlock()
}

func (c *ConsolePresenter) SetResultText(text string) {
	c.lock.Lock()
	c.text = text
	c.lock.Unlock()
}

func (c *ConsolePresenter) SetElapsed(ms int64) {
	c.lock.Lock()
	c.elapsed = ms
	c.lock.Unlock()
}

func (c *ConsolePresenter) NotifyDone() {
	c.lock.Lock()
	defer c.lock.Unlock()
	label := color.GreenString("PASS")
	if c.status != StatusPass {
		label = color.RedString("FAIL")
	}
	fmt.Fprintf(c.Out, "%s %s: %s%s\n", label, c.Name, PlainText(c.text), FormatElapsed(c.elapsed))
}

var plainTextReplacer = strings.NewReplacer("<br/>", "\n", "<pre>", "", "</pre>", "")

// PlainText converts result text for display outside a browser: line breaks become newlines
// and preformatted markers are dropped.
func PlainText(text string) string {
	return plainTextReplacer.Replace(text)
}

// PresenterCall is one call recorded by RecordingPresenter.
type PresenterCall struct {
	Method string
	Value  interface{}
}

// RecordingPresenter remembers every call it receives. Done is closed by the first NotifyDone.
type RecordingPresenter struct {
	calls    []PresenterCall
	done     chan struct{}
	doneOnce sync.Once
	lock     sync.Mutex
}

func NewRecordingPresenter() *RecordingPresenter {
	return &RecordingPresenter{done: make(chan struct{})}
}

func (r *RecordingPresenter) record(method string, value interface{}) {
	r.lock.Lock()
	r.calls = append(r.calls, PresenterCall{Method: method, Value: value})
	r.lock.Unlock()
}

func (r *RecordingPresenter) SetStatus(status Status) { r.record("SetStatus", status) }

func (r *RecordingPresenter) SetResultText(text string) { r.record("SetResultText", text) }

func (r *RecordingPresenter) SetElapsed(ms int64) { r.record("SetElapsed", ms) }

func (r *RecordingPresenter) NotifyDone() {
	r.record("NotifyDone", nil)
	r.doneOnce.Do(func() { close(r.done) })
}

// Done is closed when NotifyDone is first called.
func (r *RecordingPresenter) Done() <-chan struct{} {
	return r.done
}

// Calls returns a copy of the calls received so far.
func (r *RecordingPresenter) Calls() []PresenterCall {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]PresenterCall(nil), r.calls...)
}

// Count returns how many calls matched method and, if value is non-nil, value.
func (r *RecordingPresenter) Count(method string, value interface{}) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Method == method && (value == nil || c.Value == value) {
			n++
		}
	}
	return n
}
