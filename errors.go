package cascade

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when closing an already closed bus. Emission and
// subscription on a closed bus are silent no-ops: the emit API is
// fire-and-forget and never surfaces errors to callers.
var ErrClosed = errors.New("bus is closed")

// HandlerError wraps a failure inside a subscriber. It never propagates to
// the emitter: the bus recovers it, logs it and re-emits it as a
// system.error event through the synchronous path.
type HandlerError struct {
	Kind           Kind
	SubscriptionID string
	Owner          string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s (owner %q) failed on %s: %v", e.SubscriptionID, e.Owner, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsHandlerError reports whether err wraps a subscriber failure.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
