// Package servicedef defines the JSON messages exchanged with a remote test service that hosts
// frames on the harness's behalf.
package servicedef

import "gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

const (
	CommandRun = "run"

	CallbackKindLoad = "load"
	CallbackKindLog  = "log"

	// CapabilityFrames is declared by test services that can host frames at all.
	CapabilityFrames = "frames"
	// CapabilityQuickFix is declared by test services whose runtime honors quickFixOnException.
	CapabilityQuickFix = "quick-fix-on-exception"
)

// CreateFrameParams is the body of the POST request that creates a frame.
type CreateFrameParams struct {
	Tag         string `json:"tag"`
	URL         string `json:"url"`
	Scrolling   string `json:"scrolling,omitempty"`
	CallbackURL string `json:"callbackUrl"`
}

// FrameStatus is returned by a GET request to a frame's resource URL.
type FrameStatus struct {
	// RootReady is true once the hosted application has finished bootstrapping.
	RootReady bool `json:"rootReady"`
	// Complete is the test runtime's own completion flag.
	Complete bool `json:"complete"`
	// Errors is empty, or a JSON array of error records.
	Errors string `json:"errors"`
}

type CommandParams struct {
	Command string     `json:"command"`
	Run     *RunParams `json:"run,omitempty"`
}

type RunParams struct {
	Name                string              `json:"name"`
	Code                string              `json:"code"`
	TimeoutTicks        ldvalue.OptionalInt `json:"timeoutTicks,omitempty"`
	QuickFixOnException bool                `json:"quickFixOnException"`
}

// CallbackMessage is posted by the test service to <callbackUrl>/<counter>, with counters
// starting at 1.
type CallbackMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}
