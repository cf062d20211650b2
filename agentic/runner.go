package agentic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/streaming"
	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// Runner drives agents against an OpenAI-compatible endpoint.
type Runner struct {
	client *llm.Client
	logger *zap.Logger
}

// NewRunner creates a runner sharing one LLM client across runs.
func NewRunner(client *llm.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = llm.NewClient(llm.Config{}, nil, logger)
	}
	return &Runner{client: client, logger: logger.With(zap.String("component", "agent_runner"))}
}

// ToolStart is the payload of a tool_start event.
type ToolStart struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolEnd is the payload of a tool_end event.
type ToolEnd struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// Run starts the tool-calling loop and returns its event stream. The channel
// is closed after a final done or error event, or when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, agent *Agent, message string) <-chan streaming.Event {
	events := make(chan streaming.Event)
	go func() {
		defer close(events)
		emit := func(ev streaming.Event) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- ev:
				return true
			}
		}

		start := time.Now()
		output, err := r.loop(ctx, agent, message, emit)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Debug("agent run cancelled", zap.Duration("elapsed", time.Since(start)))
				return
			}
			msg := agent.redact(errMessage(err))
			r.logger.Warn("agent run failed",
				zap.String("provider", agent.Provider),
				zap.String("model", agent.Model),
				zap.String("error", msg),
			)
			emit(streaming.Event{Type: streaming.EventError, Data: map[string]any{
				"code":    string(types.GetErrorCode(err)),
				"message": msg,
			}})
			return
		}
		r.logger.Debug("agent run finished",
			zap.String("model", agent.Model),
			zap.Duration("elapsed", time.Since(start)),
		)
		emit(streaming.Event{Type: streaming.EventDone, Data: map[string]any{"output": output}})
	}()
	return events
}

var errEmitStopped = errors.New("event consumer gone")

func (r *Runner) loop(ctx context.Context, agent *Agent, message string, emit func(streaming.Event) bool) (string, error) {
	if agent == nil {
		return "", types.NewConfigurationError("agent is nil")
	}

	specs := make([]llm.ToolSpec, 0, len(agent.Tools))
	byName := make(map[string]tools.Tool, len(agent.Tools))
	for _, t := range agent.Tools {
		byName[t.Name()] = t
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	messages := make([]llm.Message, 0, 8)
	if agent.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: agent.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	temperature := agent.Temperature
	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		req := llm.ChatRequest{
			Model:       agent.Model,
			Messages:    messages,
			Tools:       specs,
			Temperature: &temperature,
		}
		chunks, err := r.client.Stream(ctx, req, llm.WithBaseURL(agent.BaseURL), llm.WithAPIKey(agent.apiKey))
		if err != nil {
			return "", err
		}

		var content strings.Builder
		var acc llm.ToolCallAccumulator
		for chunk := range chunks {
			if chunk.Err != nil {
				return "", chunk.Err
			}
			if chunk.Delta.Content != "" {
				content.WriteString(chunk.Delta.Content)
				if !emit(streaming.Event{Type: streaming.EventToken, Data: chunk.Delta.Content}) {
					return "", errEmitStopped
				}
			}
			for _, tc := range chunk.Delta.ToolCalls {
				acc.Add(tc)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		calls := acc.Calls()
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content.String(),
			ToolCalls: calls,
		})
		if len(calls) == 0 {
			return content.String(), nil
		}

		for _, call := range calls {
			result, ok := r.callTool(ctx, agent, byName, call, emit)
			if !ok {
				return "", errEmitStopped
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Name:       call.Function.Name,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return "", types.NewHandlerError(fmt.Sprintf("agent stopped after %d iterations without a final answer", maxIter), nil)
}

// callTool 执行单个工具调用；工具错误作为文本回填给模型。
func (r *Runner) callTool(ctx context.Context, agent *Agent, byName map[string]tools.Tool, call llm.ToolCall, emit func(streaming.Event) bool) (string, bool) {
	name := call.Function.Name
	args := map[string]any{}
	var argErr error
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			argErr = fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	if !emit(streaming.Event{Type: streaming.EventToolStart, Data: ToolStart{Name: name, Input: args}}) {
		return "", false
	}

	var output string
	tool, bound := byName[name]
	switch {
	case !bound:
		output = fmt.Sprintf("Error: Unsupported tool: %s", name)
	case argErr != nil:
		output = "Error: " + argErr.Error()
	default:
		start := time.Now()
		out, err := tool.Call(ctx, tools.Call{Args: args, APIKey: agent.toolKeys[name]})
		if err != nil {
			output = "Error: " + agent.redact(errMessage(err))
			r.logger.Debug("tool failed", zap.String("tool", name), zap.Duration("elapsed", time.Since(start)))
		} else {
			output = render(out)
		}
	}

	if !emit(streaming.Event{Type: streaming.EventToolEnd, Data: ToolEnd{Name: name, Output: output}}) {
		return "", false
	}
	return output, true
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// redact 从消息中抹去模型与工具密钥。
func (a *Agent) redact(msg string) string {
	if a == nil {
		return msg
	}
	if a.apiKey != "" {
		msg = strings.ReplaceAll(msg, a.apiKey, "***")
	}
	for _, k := range a.toolKeys {
		if k != "" {
			msg = strings.ReplaceAll(msg, k, "***")
		}
	}
	return msg
}
