package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// DefaultModel is used when neither the node nor the config names a model.
const DefaultModel = "llama3-8b-8192"

// Provider base URLs for the OpenAI-compatible endpoints.
var ProviderBaseURLs = map[string]string{
	"groq":      "https://api.groq.com/openai/v1",
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
}

// Config holds process-level defaults for the client.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// Client is an OpenAI-compatible chat completion client. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client. A nil httpClient gets a hardened client with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if httpClient == nil {
		httpClient = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", "llm_client")),
	}
}

// DefaultModel returns the configured default model.
func (c *Client) DefaultModel() string { return c.cfg.Model }

type callOptions struct {
	apiKey  string
	baseURL string
}

// CallOption overrides client defaults for a single call.
type CallOption func(*callOptions)

// WithAPIKey overrides the API key for one call.
func WithAPIKey(key string) CallOption {
	return func(o *callOptions) {
		if key != "" {
			o.apiKey = key
		}
	}
}

// WithBaseURL overrides the endpoint for one call.
func WithBaseURL(url string) CallOption {
	return func(o *callOptions) {
		if url != "" {
			o.baseURL = url
		}
	}
}

func (c *Client) resolve(opts []CallOption) (callOptions, error) {
	o := callOptions{apiKey: c.cfg.APIKey, baseURL: c.cfg.BaseURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseURL == "" {
		return o, types.NewConfigurationError("LLM API endpoint not set")
	}
	if o.apiKey == "" {
		return o, types.NewConfigurationError("LLM API credentials not set")
	}
	return o, nil
}

// endpoint accepts either a base URL or a full /chat/completions URL.
func endpoint(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(u, "/chat/completions") {
		return u
	}
	return u + "/chat/completions"
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest, opts ...CallOption) (*ChatResponse, error) {
	o, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	req.Stream = false

	resp, err := c.do(ctx, o, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewHandlerError("decode chat completion", err)
	}
	c.logger.Debug("chat completion",
		zap.String("model", req.Model),
		zap.Int("choices", len(out.Choices)),
	)
	return &out, nil
}

// Stream performs a streaming chat completion via SSE.
func (c *Client) Stream(ctx context.Context, req ChatRequest, opts ...CallOption) (<-chan StreamChunk, error) {
	o, err := c.resolve(opts)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	req.Stream = true

	resp, err := c.do(ctx, o, req)
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, resp.Body), nil
}

func (c *Client) do(ctx context.Context, o callOptions, req ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(o.baseURL), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid LLM endpoint: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	return resp, nil
}

// transportError 超时类错误标记为可重试。
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewTransportError("LLM request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "LLM request cancelled").WithCause(err)
	}
	return types.NewHandlerError("LLM request failed", err)
}

// mapHTTPError 将 HTTP 状态码映射为带有合适重试标记的错误
func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewConfigurationError(fmt.Sprintf("LLM API rejected credentials (%d): %s", status, msg)).
			WithHTTPStatus(status)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.NewTransportError(fmt.Sprintf("LLM API unavailable (%d): %s", status, msg), nil).
			WithHTTPStatus(status)
	default:
		return types.NewError(types.ErrUpstreamError, fmt.Sprintf("LLM API error (%d): %s", status, msg)).
			WithHTTPStatus(status)
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error body"
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// streamSSE parses an OpenAI-compatible SSE body into chunks.
func streamSSE(ctx context.Context, body io.ReadCloser) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		emit := func(chunk StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(StreamChunk{Err: transportError(err)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var resp ChatResponse
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				emit(StreamChunk{Err: types.NewHandlerError("decode stream chunk", err)})
				return
			}
			for _, choice := range resp.Choices {
				chunk := StreamChunk{
					ID:           resp.ID,
					Model:        resp.Model,
					FinishReason: choice.FinishReason,
					Delta:        Message{Role: RoleAssistant},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
					chunk.Delta.ToolCalls = choice.Delta.ToolCalls
				}
				if !emit(chunk) {
					return
				}
			}
		}
	}()
	return ch
}
