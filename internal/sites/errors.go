package sites

import (
	"errors"
	"fmt"
)

// Adapters signal failure kind exclusively through the types below so the
// orchestrator can classify every attempt in one place. Anything else
// wrapping out of an adapter is treated as a transport failure.

// ErrBadCredentials means the remote site rejected the stored credentials,
// either at link time or because a stored token expired.
var ErrBadCredentials = errors.New("site rejected the credentials")

// ErrAccountExists means the identity returned by the remote site is
// already linked for this user.
var ErrAccountExists = errors.New("account is already linked")

// ErrMissingAccount and ErrMissingCredentials are programmer errors: an
// adapter operation that requires a bound account was invoked on a bare
// adapter. They abort only the single account attempt.
var (
	ErrMissingAccount     = errors.New("adapter invoked without an account")
	ErrMissingCredentials = errors.New("adapter invoked without credentials")
)

// SiteError is a business failure reported by the destination site itself,
// e.g. an upload quota or a missing prerequisite. The message is
// human-readable and shown to the user as-is.
type SiteError struct {
	Message string
}

func (e *SiteError) Error() string {
	return e.Message
}

// BadDataError means the input to an adapter step (usually the add-account
// form) was malformed or incomplete.
type BadDataError struct {
	Field  string
	Reason string
}

func (e *BadDataError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// HTTPError is an unexpected transport or status failure from the remote
// site: a non-2xx response no adapter-specific handling claimed.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
