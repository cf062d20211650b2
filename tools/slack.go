package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/nodeflow/types"
)

const defaultSlackURL = "https://slack.com/api"

// PostToSlack posts a message through chat.postMessage.
type PostToSlack struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

func (s *PostToSlack) Name() string        { return "post_to_slack" }
func (s *PostToSlack) Description() string { return "Post a message to a Slack channel." }

func (s *PostToSlack) Parameters() map[string]any {
	return objectSchema([]string{"channel", "message"}, map[string]any{
		"channel": prop("string", "channel id or name"),
		"message": prop("string", "message text"),
	})
}

func (s *PostToSlack) Call(ctx context.Context, call Call) (any, error) {
	channel := stringArg(call.Args, "channel")
	message := stringArg(call.Args, "message")
	if channel == "" || message == "" {
		return nil, types.NewConfigurationError("post_to_slack requires channel and message")
	}
	token := call.APIKey
	if token == "" {
		token = s.Token
	}
	if token == "" {
		return nil, types.NewConfigurationError("Slack token is required")
	}

	payload, err := json.Marshal(map[string]any{"channel": channel, "text": message, "mrkdwn": true})
	if err != nil {
		return nil, fmt.Errorf("marshal slack request: %w", err)
	}
	base := s.BaseURL
	if base == "" {
		base = defaultSlackURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid slack url: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, classifyTransport("slack post", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		TS    string `json:"ts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewHandlerError("decode slack response", err)
	}
	if !out.OK {
		return nil, types.NewHandlerError("slack API error: "+out.Error, nil)
	}
	return map[string]any{"status": "SUCCESS", "channel": channel, "ts": out.TS}, nil
}
