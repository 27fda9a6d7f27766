// Package errs defines the sentinel error values used across the recon
// engine so callers can classify failures with errors.Is instead of
// string matching (spec §7).
package errs

import "errors"

var (
	// ErrScopeDenied is returned when a candidate target string does not
	// match any entry in the owning target's scope policy.
	ErrScopeDenied = errors.New("errs: candidate denied by scope policy")

	// ErrNormalizationFailed is returned when raw scanner output cannot be
	// turned into a canonical asset/service/edge.
	ErrNormalizationFailed = errors.New("errs: normalization failed")

	// ErrScannerTimeout is returned when a scanner subprocess exceeds its
	// configured deadline and is killed.
	ErrScannerTimeout = errors.New("errs: scanner timed out")

	// ErrScannerError is returned when a scanner subprocess exits non-zero
	// or produces output that fails its parser.
	ErrScannerError = errors.New("errs: scanner execution failed")

	// ErrDependencyUnreachable is returned when a required upstream
	// dependency (database, downstream service) cannot be reached.
	ErrDependencyUnreachable = errors.New("errs: dependency unreachable")

	// ErrVerificationInconclusive is returned when a verification probe
	// cannot determine whether an artifact still exists.
	ErrVerificationInconclusive = errors.New("errs: verification inconclusive")

	// ErrLeaseExpired is returned when a worker attempts to extend or
	// complete a job lease that has already expired or been reassigned.
	ErrLeaseExpired = errors.New("errs: job lease expired")

	// ErrCancelled is returned when a job or run was cancelled before or
	// during execution.
	ErrCancelled = errors.New("errs: cancelled")

	// ErrNotFound is returned by store lookups for a missing row.
	ErrNotFound = errors.New("errs: not found")

	// ErrConflict is returned when an optimistic concurrency check fails,
	// e.g. completing a job whose lease owner no longer matches.
	ErrConflict = errors.New("errs: conflict")
)
