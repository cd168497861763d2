// Package simerrors centralizes the error-kind-to-status-code mapping used
// throughout schedsim (see SPEC_FULL.md's error kind table). Every
// synchronous failure in the engine, platform, and scheduling packages is
// constructed here rather than with an ad-hoc fmt.Errorf, so callers can
// recover the kind with status.Code(err).
package simerrors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AlreadyFinalized reports a mutation attempted after finalize.
func AlreadyFinalized(what string) error {
	return status.Errorf(codes.FailedPrecondition, "%s: already finalized", what)
}

// InvalidState reports an operation illegal in the current state (past-time
// scheduling, DVFS on a locked/transitioning domain, assign to a non-Idle
// processor, clear of an already-Idle processor, and similar).
func InvalidState(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// OutOfRange reports a value outside its legal domain (frequency outside
// [freq_min, freq_max], utilization outside (0, 1]).
func OutOfRange(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// HandlerAlreadySet reports a duplicate job-arrival handler registration.
func HandlerAlreadySet(format string, args ...interface{}) error {
	return status.Errorf(codes.AlreadyExists, format, args...)
}

// AdmissionFailure reports a CBS server rejected by an admission test.
func AdmissionFailure(format string, args ...interface{}) error {
	return status.Errorf(codes.ResourceExhausted, format, args...)
}

// LoaderError reports malformed or inconsistent scenario/platform/trace JSON.
func LoaderError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// Is reports whether err carries the given status code.
func Is(err error, code codes.Code) bool {
	return status.Code(err) == code
}
