package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/nodeflow/types"
)

const defaultTavilyURL = "https://api.tavily.com"

// TavilySearch queries the Tavily search API.
type TavilySearch struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Client     *http.Client
}

func (t *TavilySearch) Name() string { return "tavily_search" }

func (t *TavilySearch) Description() string {
	return "Search the web with Tavily and return the top results."
}

func (t *TavilySearch) Parameters() map[string]any {
	return objectSchema([]string{"query"}, map[string]any{
		"query":       prop("string", "search query"),
		"num_results": prop("integer", "maximum number of results"),
	})
}

func (t *TavilySearch) Call(ctx context.Context, call Call) (any, error) {
	query := stringArg(call.Args, "query")
	if query == "" {
		return nil, types.NewConfigurationError("tavily_search requires a query")
	}
	key := call.APIKey
	if key == "" {
		key = t.APIKey
	}
	if key == "" {
		return nil, types.NewConfigurationError("Tavily API key is required")
	}

	maxResults := t.MaxResults
	if n, err := numberArg(call.Args, "num_results"); err == nil && n > 0 {
		maxResults = int(n)
	}
	if maxResults <= 0 {
		maxResults = 2
	}

	payload, err := json.Marshal(map[string]any{"query": query, "max_results": maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}

	base := t.BaseURL
	if base == "" {
		base = defaultTavilyURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid tavily url: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, classifyTransport("tavily search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport("read tavily response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewHandlerError(fmt.Sprintf("tavily search failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewHandlerError("decode tavily response", err)
	}
	return out, nil
}

// classifyTransport 超时类错误标记为可重试。
func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewTransportError(op+" timed out", err)
	}
	return types.NewHandlerError(op+" failed", err)
}
