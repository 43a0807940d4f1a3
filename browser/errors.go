package browser

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by every primitive once Close has been
// called or the underlying browser process is gone.
var ErrSessionClosed = errors.New("browser: session closed")

// TimeoutError reports a wait that did not complete within its bound. It
// carries the selector or condition being waited on so callers can log a
// useful diagnostic.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("browser: timed out after %s (limit %s) waiting for %s",
		e.Elapsed.Round(time.Millisecond), e.Timeout, e.Condition)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
