package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Transport("dial", io.ErrUnexpectedEOF)))
	assert.True(t, Retryable(UpstreamStatus(503, "unavailable")))
	assert.False(t, Retryable(Malformed("bad json", nil)))
	assert.False(t, Retryable(Application("already_applied")))
	assert.False(t, Retryable(InvalidInput("bad file", nil)))
	assert.False(t, Retryable(io.EOF))
	assert.False(t, Retryable(nil))
}

func TestDomainErrorWrapping(t *testing.T) {
	err := Transport("request failed", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("search: %w", err)

	assert.True(t, stderrors.Is(wrapped, io.ErrUnexpectedEOF))
	assert.Equal(t, ErrTypeTransport, TypeOf(wrapped))
	assert.NotEmpty(t, err.StackTrace())
	assert.Contains(t, err.Error(), "TRANSPORT: request failed")
}

func TestUpstreamStatusCarriesCode(t *testing.T) {
	err := UpstreamStatus(502, "bad gateway")
	assert.Equal(t, 502, err.StatusCode)
	assert.Equal(t, "UPSTREAM_STATUS: bad gateway", err.Error())
}
