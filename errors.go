package sipcore

import (
	"errors"

	"github.com/openpbx/sipcore/internal/errs"
)

// The error kinds spec.md 7 defines, translated to a response status at
// the dispatcher boundary. Most of these are already represented by a
// package-local sentinel (auth.ErrAuthFailed, dialog.ErrSeqRegression,
// subscription.ErrUnsupportedEvent, ...); this set names the ones that
// arise in sipcore's own orchestration rather than in a lower package.
const (
	// ErrParse marks a request that failed to decode; always 400.
	ErrParse errs.Error = "malformed request"

	// ErrLoopDetected marks a Max-Forwards exhaustion; always 483.
	ErrLoopDetected errs.Error = "max-forwards exhausted"

	// ErrNoDialog marks an in-dialog request with no matching dialog;
	// always 481.
	ErrNoDialog errs.Error = "no matching dialog"

	// ErrInternal marks an invariant violation (CSeq regression, binding
	// race, a collaborator contract broken); always 500, audited at
	// critical level.
	ErrInternal errs.Error = "internal sipcore error"
)

// StatusFor maps an error kind from this taxonomy to the SIP status code
// spec.md 7 assigns it; any other error, a lower package's sentinel
// included, maps to 500. Handlers that
// already know their status (most of dispatch) don't need this; it
// exists for the few call sites (e.g. a collaborator-returned error)
// that only have an error value to work from.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return 200
	case isAny(err, ErrParse):
		return 400
	case isAny(err, ErrLoopDetected):
		return 483
	case isAny(err, ErrNoDialog):
		return 481
	default:
		return 500
	}
}

func isAny(err error, sentinels ...error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
