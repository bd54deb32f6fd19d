// Package agent contains the travel agent pipeline: a planner that routes
// free text to one tool invocation, an executor that runs the tool and
// post-processes its result, and the per-request state threaded between them.
//
// Each request makes a single pass PLANNING -> (direct response | EXECUTING)
// -> DONE. Agent.Run is the error boundary: it always returns an Outcome and
// recovers panics raised anywhere in the pass.
package agent
