package frametest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const passedText = "Passed"

var (
	// ErrNoContainer means a FrameLoader was given nowhere to put its frame. This is a
	// configuration error and is never retried.
	ErrNoContainer = errors.New("no container to attach the frame to")

	// ErrAlreadyStarted is returned if Start or MarkRunning is called on an orchestrator that has
	// already left the idle phase.
	ErrAlreadyStarted = errors.New("orchestrator was already started")

	// ErrNotRunning is returned by Collect if the test case has not been started in the frame.
	ErrNotRunning = errors.New("test case is not running")
)

// ParseErrorPayload decodes the text returned by InnerRuntime.Errors. Empty text, and an empty
// array, mean there were no errors. An empty array counts as a pass even though it is non-empty
// text: only decoded records fail a case.
func ParseErrorPayload(payload string) ([]ErrorRecord, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	var records []ErrorRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, fmt.Errorf("malformed error payload from test runtime: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

// FormatFailure joins the error messages in order. Each record's last stage, if any, follows its
// message as a preformatted block.
func FormatFailure(records []ErrorRecord) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.Message)
		if r.LastStage != "" {
			b.WriteString("<br/><br/><pre>")
			b.WriteString(r.LastStage)
			b.WriteString("</pre>")
		}
	}
	return b.String()
}

// FormatElapsed renders a duration in milliseconds as it is shown after a result.
func FormatElapsed(ms int64) string {
	return fmt.Sprintf(" in %dms", ms)
}
