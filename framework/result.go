package framework

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

type Results struct {
	Tests    []TestResult
	Failures []TestResult
}

type TestResult struct {
	TestID   TestID
	Errors   []error
	Skipped  bool
	Duration time.Duration
}

func (r Results) OK() bool {
	return len(r.Failures) == 0
}

func (r TestResult) Failed() bool {
	return len(r.Errors) != 0
}

type TestID struct {
	Path []string
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}

type TestFailure struct {
	ID  TestID
	Err error
}

func (f TestFailure) Error() string {
	return fmt.Sprintf("[%s]: %s", f.ID, f.Err)
}

// PrintResults writes a summary table of all tests that ran, followed by a pass/fail count.
func PrintResults(w io.Writer, results Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Result", "Duration"})
	for _, r := range results.Tests {
		status := color.GreenString("PASS")
		if r.Failed() {
			status = color.RedString("FAIL")
		}
		t.AppendRow(table.Row{r.TestID, status, r.Duration.Round(time.Millisecond)})
	}
	t.AppendFooter(table.Row{"Total", len(results.Tests), ""})
	t.Render()

	if results.OK() {
		fmt.Fprintln(w, color.GreenString("All tests passed"))
		return
	}
	fmt.Fprintln(w, color.RedString("FAILED TESTS (%d):", len(results.Failures)))
	for _, f := range results.Failures {
		fmt.Fprintf(w, "  * %s\n", f.TestID)
	}
}
