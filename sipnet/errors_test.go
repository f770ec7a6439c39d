package sipnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	err := newErr("SendAsync", KindNotConnected, errors.New("no route"))
	assert.True(t, errors.Is(err, ErrKind(KindNotConnected)))
	assert.False(t, errors.Is(err, ErrKind(KindTimedOut)))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newErr("dial", KindFault, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestErrorStringIncludesKindAndOp(t *testing.T) {
	err := newErr("SendAsync", KindTimedOut, nil)
	msg := err.Error()
	assert.Contains(t, msg, "SendAsync")
	assert.Contains(t, msg, "timed out")
}
