package trainer

import (
	"errors"
	"fmt"
)

// Error categories. Configuration and state errors reject a command before
// any mutation; not-found covers snapshot reads of unknown layers. Failures
// inside the training loop never surface here; they go to the event stream.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrState         = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
)

func configErrf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func stateErrf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func notFoundErrf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// stepError is a failure while computing one batch. Recoverable ones are
// logged and the batch skipped; fatal ones force-stop the session.
type stepError struct {
	fatal bool
	err   error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }
