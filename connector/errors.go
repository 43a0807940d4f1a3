package connector

import (
	"fmt"

	"github.com/onescan/dentalsync/order"
)

// AuthError is a failed login attempt: credentials rejected, login form
// changed, or the portal unreachable. Fatal to that attempt; the lifecycle
// manager closes the session and records the reason.
type AuthError struct {
	Platform order.Platform
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %s: %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed: %s", e.Platform, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a page-level extraction failure: the results container
// never appeared. Fatal to that fetch attempt only; previously persisted
// data stays untouched and other platforms are unaffected.
type FetchError struct {
	Platform order.Platform
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed: %v", e.Platform, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
