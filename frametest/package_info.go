// Package frametest runs a single test case inside a hosted frame.
//
// A frame is an isolated execution context that runs on its own schedule: the host cannot call
// into it until the frame has loaded, and even then the application inside it may still be
// starting up. The test runtime inside the frame runs cases asynchronously and reports only a
// completion flag and an error list. The host side therefore works entirely by polling:
//
//  1. FrameLoader asks a Container for a frame and waits for its load event.
//  2. Orchestrator.Start polls until the frame's root is ready (or its runtime says it is
//     already complete), records the start time, and starts the case.
//  3. Orchestrator.Collect polls the runtime's completion flag, publishing StatusSpin on each
//     unsuccessful poll, then reads the errors and publishes pass or fail, the result text and
//     the elapsed time, and finally NotifyDone.
//
// Concrete containers live in the jsframe and remoteframe packages.
package frametest
