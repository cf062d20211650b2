package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/nodeflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"key": "value"}, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{name: "invalid request", err: types.NewError(types.ErrInvalidRequest, "workflow is required"), expectedStatus: http.StatusBadRequest},
		{name: "validation", err: types.NewValidationError("duplicate node id: a"), expectedStatus: http.StatusBadRequest},
		{name: "cycle", err: types.NewCyclicGraphError("a"), expectedStatus: http.StatusBadRequest},
		{name: "configuration", err: types.NewConfigurationError("Unsupported LLM provider: x"), expectedStatus: http.StatusUnprocessableEntity},
		{name: "not found", err: types.NewError(types.ErrNotFound, "execution not found"), expectedStatus: http.StatusNotFound},
		{name: "explicit status wins", err: types.NewError(types.ErrInternalError, "x").WithHTTPStatus(http.StatusTeapot), expectedStatus: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestWriteErr_HidesUntypedErrors(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	WriteErr(w, errors.New("dial tcp 10.0.0.1: password=hunter2"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"a"}`},
		{name: "unknown fields tolerated", body: `{"name":"a","position":{"x":1}}`},
		{name: "malformed", body: `{"name":`, wantErr: true},
		{name: "empty", body: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.body == "" {
				r.Body = http.NoBody
			}
			w := httptest.NewRecorder()
			var dst payload
			err := DecodeJSONBody(w, r, &dst, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", dst.Name)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	t.Parallel()
	body := `{"name":"` + strings.Repeat("x", 100) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Body = http.MaxBytesReader(w, r.Body, 16)

	var dst map[string]any
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds 16 bytes")
}

func TestValidateContentType(t *testing.T) {
	t.Parallel()
	for ct, ok := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"text/plain":                      false,
		"":                                false,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		assert.Equal(t, ok, ValidateContentType(w, r, zap.NewNop()), ct)
		if !ok {
			assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		}
	}
}

func TestResponseWriter(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.Flush()

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, int64(5), rw.Bytes)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := map[types.ErrorCode]int{
		types.ErrInvalidRequest:     http.StatusBadRequest,
		types.ErrUnknownNodeType:    http.StatusBadRequest,
		types.ErrConfiguration:      http.StatusUnprocessableEntity,
		types.ErrUnauthorized:       http.StatusUnauthorized,
		types.ErrNotFound:           http.StatusNotFound,
		types.ErrRateLimited:        http.StatusTooManyRequests,
		types.ErrCancelled:          http.StatusRequestTimeout,
		types.ErrRetryableTransport: http.StatusBadGateway,
		types.ErrServiceUnavailable: http.StatusServiceUnavailable,
		types.ErrHandlerExecution:   http.StatusInternalServerError,
		types.ErrorCode("UNKNOWN"):  http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), code)
	}
}
