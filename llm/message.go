package llm

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message in OpenAI wire format.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolSpec describes a callable tool bound to a request.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the JSON-schema description of a tool.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
}

// ChatResponse is an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int      `json:"index"`
	Message      Message  `json:"message"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// Usage token 统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the first choice's message content, or "" when absent.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamChunk is one parsed SSE delta. Err is set on a terminal stream error.
type StreamChunk struct {
	ID           string
	Model        string
	Delta        Message
	FinishReason string
	Err          error
}

// ToolCallAccumulator 按 index 合并流式 tool_calls 增量。
type ToolCallAccumulator struct {
	calls []ToolCall
}

// Add merges one streamed delta.
func (a *ToolCallAccumulator) Add(delta ToolCall) {
	for i := range a.calls {
		if a.calls[i].Index == delta.Index {
			if delta.ID != "" {
				a.calls[i].ID = delta.ID
			}
			if delta.Function.Name != "" {
				a.calls[i].Function.Name += delta.Function.Name
			}
			a.calls[i].Function.Arguments += delta.Function.Arguments
			return
		}
	}
	if delta.Type == "" {
		delta.Type = "function"
	}
	a.calls = append(a.calls, delta)
}

// Calls returns the assembled tool calls in index order of first appearance.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	out := make([]ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}
