// Package errkind classifies failures so the workflow engine knows which ones
// are worth retrying.
package errkind

import (
	"github.com/zeebo/errs"
	"go.temporal.io/sdk/temporal"
)

// Application error types reported to Temporal.
const (
	TypeConfig       = "CONFIG_ERROR"
	TypePreflight    = "PREFLIGHT_FAILED"
	TypeConnectivity = "CONNECTIVITY_ERROR"
	TypePush         = "PUSH_FAILED"
)

var (
	// Config marks malformed input: bad filter JSON, unknown auth type,
	// missing credential fields. Never retried.
	Config = errs.Class("config")
	// Connectivity marks failures to reach or query the source.
	Connectivity = errs.Class("connectivity")
	// Preflight marks a filter scope that the source cannot satisfy. Never retried.
	Preflight = errs.Class("preflight")
	// Push marks object store upload failures.
	Push = errs.Class("push")
)

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	return err != nil && !Config.Has(err) && !Preflight.Has(err)
}

// Type returns the application error type of err's class, or "" when err
// is unclassified.
func Type(err error) string {
	switch {
	case Config.Has(err):
		return TypeConfig
	case Preflight.Has(err):
		return TypePreflight
	case Connectivity.Has(err):
		return TypeConnectivity
	case Push.Has(err):
		return TypePush
	}
	return ""
}

// ToTemporal converts err into the application error Temporal should see.
// Config and preflight failures become non-retryable; the other classes keep
// their type and stay retryable. Unclassified errors pass through.
func ToTemporal(err error) error {
	if err == nil {
		return nil
	}
	typ := Type(err)
	if typ == "" {
		return err
	}
	if !IsRetryable(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), typ, err)
	}
	return temporal.NewApplicationError(err.Error(), typ, err)
}
