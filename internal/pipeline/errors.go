package pipeline

import "github.com/rotisserie/eris"

// Control-flow sentinels. They ride the error return up through the stages
// and are translated into job statuses at the top of Run, never surfaced to
// the caller.
var (
	errCancelled     = eris.New("pipeline: cancelled by operator")
	errPaused        = eris.New("pipeline: paused")
	errSkipRemaining = eris.New("pipeline: remaining items skipped")
)
