package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/types"
)

// LLMHandler composes a chat completion against the configured endpoint.
type LLMHandler struct {
	client *llm.Client
}

// NewLLMHandler creates the llm handler. A nil client fails every call with a configuration error.
func NewLLMHandler(client *llm.Client) *LLMHandler {
	return &LLMHandler{client: client}
}

// Execute implements Handler.
func (h *LLMHandler) Execute(ctx context.Context, inv Invocation) (Output, error) {
	if h.client == nil {
		return Output{}, types.NewConfigurationError("LLM API credentials not set")
	}

	prompt := configString(inv.Config, "prompt")
	input := stringify(inv.Input)
	switch {
	case prompt == "":
		prompt = input
	case strings.Contains(prompt, "{{input}}"):
		prompt = strings.ReplaceAll(prompt, "{{input}}", input)
	}
	if prompt == "" {
		return Output{}, types.NewConfigurationError("llm node requires a prompt")
	}

	model := configString(inv.Config, "model", "model_name")
	if model == "" {
		model = h.client.DefaultModel()
	}

	messages := make([]llm.Message, 0, 2)
	if system := configString(inv.Config, "system"); system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	opts := []llm.CallOption{llm.WithBaseURL(configString(inv.Config, "base_url", "api_url"))}
	if inv.Credential != nil {
		opts = append(opts, llm.WithAPIKey(inv.Credential.Secret))
	}

	resp, err := h.client.Chat(ctx, llm.ChatRequest{Model: model, Messages: messages}, opts...)
	if err != nil {
		return Output{}, err
	}
	content := resp.Content()
	return Output{
		Data:    content,
		Message: fmt.Sprintf("LLM %s → %d chars", model, len(content)),
	}, nil
}
