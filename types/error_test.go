package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithNode("n1")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "n1", err.NodeID)
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
}

func TestError_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewTransportError("timeout", errors.New("i/o timeout"))
	wrapped := fmt.Errorf("node n2: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrRetryableTransport))

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "timeout", e.Message)
}

func TestError_Constructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       *Error
		code      ErrorCode
		retryable bool
	}{
		{"unknown type", NewUnknownNodeTypeError("bogus"), ErrUnknownNodeType, false},
		{"configuration", NewConfigurationError("missing url"), ErrConfiguration, false},
		{"handler", NewHandlerError("boom", nil), ErrHandlerExecution, false},
		{"transport", NewTransportError("timeout", nil), ErrRetryableTransport, true},
		{"validation", NewValidationError("bad"), ErrValidation, false},
		{"cycle", NewCyclicGraphError("a"), ErrCyclicGraph, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}

	assert.Contains(t, NewUnknownNodeTypeError("bogus").Error(), "bogus")
	assert.Equal(t, http.StatusBadRequest, NewCyclicGraphError("a").HTTPStatus)
}

func TestError_PlainErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	_, ok := AsError(nil)
	assert.False(t, ok)
}
