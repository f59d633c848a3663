// Package launcher submits leased jobs to the remote compute platform. The
// dispatcher only ever sees the Launcher interface; the platform's transport
// details and failure payloads stay behind it, translated into
// mixerrors.ErrLauncherFailed at this boundary.
package launcher

import (
	"context"
)

// Launcher starts one compute job and returns the platform's identifier for
// the created execution. Errors are surfaced as mixerrors.ErrLauncherFailed
// carrying the platform's diagnostic payload. Launch failures are not retried
// by the caller; the affected entry is marked FAILED for the operator.
type Launcher interface {
	Launch(ctx context.Context, params map[string]interface{}) (string, error)
}

// RunState classifies what the platform knows about an execution ref.
type RunState int

const (
	// RunStateUnknown means the platform does not recognise the execution,
	// either because registration has not propagated yet or because the run
	// was lost. Callers must honour the safe-lag window before acting on it.
	RunStateUnknown RunState = iota
	// RunStateRegistered means the platform reports the run as created or in
	// progress.
	RunStateRegistered
	// RunStateTerminal means the run finished, successfully or not.
	RunStateTerminal
)

func (s RunState) String() string {
	switch s {
	case RunStateRegistered:
		return "registered"
	case RunStateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// StatusProber checks whether the platform recognises a previously returned
// execution ref. It is optional; reconciliation only downgrades lost RUNNING
// entries when a prober is configured.
type StatusProber interface {
	Probe(ctx context.Context, executionRef string) (RunState, error)
}
