// Package mixerrors contains the error taxonomy shared by all components.
// Storage and launcher call sites translate raw transport errors into the
// types defined in this file at the operation boundary, so that no raw
// transport error ever crosses a component boundary. The CLI maps these types
// to process exit codes and one-line operator summaries.
//
// If multiple errors occur in some function (e.g., if several result files are
// missing during collection), that function should return an error of type
// multierror.Error from package github.com/hashicorp/go-multierror that
// encapsulates those individual errors.
package mixerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Exit codes returned by the command line tools.
const (
	ExitSuccess        = 0
	ExitUnknown        = 1
	ExitInvalidConfig  = 2
	ExitQueueBusy      = 3
	ExitLauncherFailed = 4
)

// ErrInvalidConfig indicates a malformed or incomplete benchmark specification
// or application configuration. It is fatal and is never retried.
type ErrInvalidConfig struct {
	// Name of the offending field, e.g., "iterations". Optional.
	Field string
	// The invalid value that was provided. Optional.
	Value interface{}
	// An optional message explaining why the value is invalid.
	Message string
}

func (err *ErrInvalidConfig) Error() (s string) {
	if err.Field != "" {
		s = fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Field)
	} else {
		s = "invalid configuration"
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

func (err *ErrInvalidConfig) Remediation() string {
	return "fix the configuration file and resubmit"
}

// ErrNotFound is returned whenever some resource isn't found; in particular a
// queue document that has not been created yet. Callers loading a queue treat
// it as "empty queue" rather than as a failure.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "queue" or "object"
	Value   string // Resource name, e.g., "default"
	Message string // An optional message to include in the error message
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

func (err *ErrNotFound) Remediation() string {
	return "check the resource name and storage configuration"
}

// ErrConcurrencyConflict indicates that a compare-and-swap write lost the race
// against another writer: the stored generation no longer matches the
// generation the caller loaded. It is transient; callers reload and retry a
// bounded number of times before giving up with ErrQueueBusy.
type ErrConcurrencyConflict struct {
	Queue              string
	ExpectedGeneration int64
	StoredGeneration   int64
}

func (err *ErrConcurrencyConflict) Error() string {
	return fmt.Sprintf(
		"queue %q was modified concurrently: expected generation %d, stored generation is %d",
		err.Queue, err.ExpectedGeneration, err.StoredGeneration,
	)
}

func (err *ErrConcurrencyConflict) Remediation() string {
	return "reload the queue document and retry"
}

// ErrQueueBusy is returned when the bounded retry loop around a queue mutation
// exhausted all attempts, each one losing the generation race.
type ErrQueueBusy struct {
	Queue    string
	Attempts int
}

func (err *ErrQueueBusy) Error() string {
	return fmt.Sprintf("queue %q is busy: %d attempts all lost the generation race", err.Queue, err.Attempts)
}

func (err *ErrQueueBusy) Remediation() string {
	return "wait for concurrent triggers to drain and resubmit"
}

// ErrLauncherFailed indicates that the compute platform rejected or failed a
// job-run submission. It carries the platform's diagnostic payload. The
// affected entry is marked FAILED and is not retried automatically; operator
// re-submission is required.
type ErrLauncherFailed struct {
	JobId string
	// Diagnostic payload returned by the remote platform, e.g., an HTTP
	// status line plus response body.
	Diagnostic string
}

func (err *ErrLauncherFailed) Error() string {
	if err.JobId != "" {
		return fmt.Sprintf("launcher failed for job %q: %s", err.JobId, err.Diagnostic)
	}
	return fmt.Sprintf("launcher failed: %s", err.Diagnostic)
}

func (err *ErrLauncherFailed) Remediation() string {
	return "check launcher logs, then resubmit the failed entry"
}

// ErrResultNotFound indicates that no result file could be associated with an
// expected benchmark entry. It is soft: collection reports it per entry and
// carries on with the rest of the batch.
type ErrResultNotFound struct {
	BenchmarkId string
	VariantName string
	TestType    string
}

func (err *ErrResultNotFound) Error() string {
	return fmt.Sprintf(
		"no result found for benchmark %q variant %q (test type %q)",
		err.BenchmarkId, err.VariantName, err.TestType,
	)
}

func (err *ErrResultNotFound) Remediation() string {
	return "verify the training job completed and wrote its summary"
}

// Remediator is implemented by taxonomy errors that can suggest a next step to
// the operator.
type Remediator interface {
	Remediation() string
}

// ExitCoder is implemented by errors that carry their own exit code, e.g.,
// errors reconstructed from a dispatch server response where the concrete
// taxonomy type did not survive the wire.
type ExitCoder interface {
	ExitCode() int
}

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	{
		var e ExitCoder
		if errors.As(err, &e) {
			return e.ExitCode()
		}
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidConfig
		if errors.As(err, &e) {
			return ExitInvalidConfig
		}
	}
	{
		var e *ErrQueueBusy
		if errors.As(err, &e) {
			return ExitQueueBusy
		}
	}
	{
		var e *ErrLauncherFailed
		if errors.As(err, &e) {
			return ExitLauncherFailed
		}
	}

	return ExitUnknown
}

// OperatorSummary renders err as the one-line summary printed by the CLI:
// the underlying cause, followed by a remediation hint when one is known.
func OperatorSummary(err error) string {
	if err == nil {
		return ""
	}
	cause := errors.Cause(err)
	var remediator Remediator
	if errors.As(err, &remediator) {
		return fmt.Sprintf("%s (%s)", cause.Error(), remediator.Remediation())
	}
	return cause.Error()
}
