package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(KindTimedOut, "no response within 30s")
	assert.Equal(t, "[TIMED_OUT] no response within 30s", err.Error())

	bare := NewError(KindNoToken, "")
	assert.Equal(t, "NO_TOKEN", bare.Error())
}

func TestKindOf(t *testing.T) {
	err := NewError(KindAuthRejected, "invalid token")
	assert.Equal(t, KindAuthRejected, KindOf(err))

	wrapped := fmt.Errorf("invoke failed: %w", err)
	assert.Equal(t, KindAuthRejected, KindOf(wrapped))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapErrorKeepsCauseInChain(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := wrapError(KindBackendUnreachable, cause)

	assert.Equal(t, KindBackendUnreachable, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[BACKEND_UNREACHABLE] context deadline exceeded", err.Error())
}
