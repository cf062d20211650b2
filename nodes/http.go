package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/types"
)

const maxResponseBytes = 10 << 20

// HTTPHandler issues one HTTP request per invocation.
//
// Any completed response is a node-level success, whatever its status code;
// only transport failures fail the node.
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler creates the http handler around a shared client.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	return &HTTPHandler{client: client}
}

// Execute implements Handler.
func (h *HTTPHandler) Execute(ctx context.Context, inv Invocation) (Output, error) {
	rawURL := configString(inv.Config, "url")
	if rawURL == "" {
		return Output{}, types.NewConfigurationError("http node requires url")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Output{}, types.NewConfigurationError(fmt.Sprintf("http node has invalid url %q", rawURL))
	}
	if q := configMap(inv.Config, "query", "params"); len(q) > 0 {
		values := u.Query()
		for k, v := range q {
			values.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = values.Encode()
	}

	method := strings.ToUpper(configString(inv.Config, "method"))
	if method == "" {
		method = http.MethodGet
	}
	headers, err := configHeaders(inv.Config, "headers")
	if err != nil {
		return Output{}, types.NewConfigurationError(err.Error())
	}

	var body io.Reader
	if raw, ok := inv.Config["body"]; ok && raw != nil {
		switch b := raw.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			payload, err := json.Marshal(b)
			if err != nil {
				return Output{}, types.NewConfigurationError(fmt.Sprintf("http body is not serializable: %v", err))
			}
			body = bytes.NewReader(payload)
			if _, set := headers["Content-Type"]; !set {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	timeout, err := configInt(inv.Config, "timeout", 0)
	if err != nil {
		return Output{}, types.NewConfigurationError(err.Error())
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Output{}, types.NewConfigurationError(fmt.Sprintf("build http request: %v", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if inv.Credential.IsBearer() {
		req.Header.Set("Authorization", "Bearer "+inv.Credential.Secret)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Output{}, classifyTransport(fmt.Sprintf("HTTP %s %s", method, rawURL), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Output{}, classifyTransport("read http response", err)
	}
	text := string(raw)

	var data any = text
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if json.Unmarshal(raw, &parsed) == nil {
			data = parsed
		}
	}

	return Output{
		Data:    data,
		Message: fmt.Sprintf("HTTP %s %s → %d", method, rawURL, resp.StatusCode),
		Preview: text,
	}, nil
}

// classifyTransport 超时类错误标记为可重试，其余为处理器错误。
func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewTransportError(op+" timed out", err)
	}
	return types.NewHandlerError(op+" failed", err)
}
