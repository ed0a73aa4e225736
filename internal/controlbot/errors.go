package controlbot

import (
	"errors"
	"fmt"
)

// ErrSessionOver is returned by Session.Run when the configured session
// length has elapsed.
var ErrSessionOver = errors.New("controlbot: session over")

// UserError is a recoverable failure intrinsic to the request (not in party,
// too far away, quota spent). Its message is shown to players verbatim.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// UserErrorf builds a *UserError with a formatted message.
func UserErrorf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// AsUserError reports whether err wraps a *UserError and returns it.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
