package cascade

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestHandlerErrorUnwrap(t *testing.T) {
	cause := errors.New("decode failed")
	he := &HandlerError{Kind: KindBeat, SubscriptionID: "sub-1", Owner: "renderer", Err: cause}

	if !errors.Is(he, cause) {
		t.Error("HandlerError does not unwrap to its cause")
	}
	if !IsHandlerError(fmt.Errorf("dispatch: %w", he)) {
		t.Error("IsHandlerError is false for a wrapped HandlerError")
	}
	if IsHandlerError(cause) {
		t.Error("IsHandlerError is true for a plain error")
	}
	for _, want := range []string{"sub-1", "renderer", string(KindBeat), "decode failed"} {
		if !strings.Contains(he.Error(), want) {
			t.Errorf("error message %q missing %q", he.Error(), want)
		}
	}
}
