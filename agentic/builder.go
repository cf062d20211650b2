package agentic

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"go.uber.org/zap"
)

const (
	// DefaultProvider is used when the model node names none.
	DefaultProvider = "groq"
	// DefaultMaxIterations bounds the model ↔ tool round trips of one run.
	DefaultMaxIterations = 10
	// DefaultTemperature matches the model node default.
	DefaultTemperature = 0.7
)

// ErrMissingNodes is the message for graphs without an agent or model node.
const ErrMissingNodes = "Workflow must include an Agentic node and a Model node."

// Agent is a ready-to-run tool-calling agent built from a workflow graph.
type Agent struct {
	Provider      string
	Model         string
	BaseURL       string
	SystemPrompt  string
	Temperature   float64
	MaxIterations int
	Tools         []tools.Tool

	apiKey   string
	toolKeys map[string]string
}

// ToolNames returns the bound tool names in graph order.
func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		names = append(names, t.Name())
	}
	return names
}

// String 不输出任何密钥。
func (a *Agent) String() string {
	return fmt.Sprintf("Agent{Provider:%s, Model:%s, Tools:%v}", a.Provider, a.Model, a.ToolNames())
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCredentialResolver resolves credential references on model and tool nodes.
func WithCredentialResolver(r workflow.CredentialResolver) BuilderOption {
	return func(b *Builder) { b.resolver = r }
}

// WithProviderKey sets the fallback API key for a provider.
func WithProviderKey(provider, key string) BuilderOption {
	return func(b *Builder) {
		if key != "" {
			b.providerKeys[strings.ToLower(provider)] = key
		}
	}
}

// WithBaseURLs overrides provider endpoints, e.g. to route groq through a proxy.
func WithBaseURLs(urls map[string]string) BuilderOption {
	return func(b *Builder) {
		for p, u := range urls {
			b.baseURLs[strings.ToLower(p)] = u
		}
	}
}

// Builder turns agent graphs into Agents.
type Builder struct {
	tools        *tools.Registry
	resolver     workflow.CredentialResolver
	providerKeys map[string]string
	baseURLs     map[string]string
	logger       *zap.Logger
}

// NewBuilder creates a builder over the shared tool registry.
func NewBuilder(reg *tools.Registry, logger *zap.Logger, opts ...BuilderOption) *Builder {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		tools:        reg,
		providerKeys: make(map[string]string),
		baseURLs:     make(map[string]string, len(llm.ProviderBaseURLs)),
		logger:       logger.With(zap.String("component", "agent_builder")),
	}
	for p, u := range llm.ProviderBaseURLs {
		b.baseURLs[p] = u
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// graph is the resolved shape of an agent workflow.
type graph struct {
	agent     workflow.Node
	model     workflow.Node
	toolNodes []workflow.Node
}

func isAgentNode(n workflow.Node) bool { return strings.EqualFold(n.Type, "agentic") }

func isModelNode(n workflow.Node) bool {
	t := strings.ToLower(n.Type)
	return t == "model" || t == "chatmodel"
}

func isToolNode(n workflow.Node) bool { return strings.EqualFold(n.Type, "tool") }

// inspect 依次执行结构校验、环检测、节点查找。
func inspect(def *workflow.WorkflowDefinition) (*graph, error) {
	if errs := workflow.CheckStructure(def); len(errs) > 0 {
		return nil, errs[0]
	}
	if err := workflow.DetectCycle(def); err != nil {
		return nil, err
	}

	var g graph
	var foundAgent, foundModel bool
	for _, n := range def.Nodes {
		switch {
		case !foundAgent && isAgentNode(n):
			g.agent, foundAgent = n, true
		case !foundModel && isModelNode(n):
			g.model, foundModel = n, true
		}
	}
	if !foundAgent || !foundModel {
		return nil, types.NewValidationError(ErrMissingNodes)
	}

	for _, e := range def.Edges {
		if e.Source != g.agent.ID {
			continue
		}
		if n, ok := def.Node(e.Target); ok && isToolNode(n) {
			g.toolNodes = append(g.toolNodes, n)
		}
	}
	return &g, nil
}

func toolName(n workflow.Node) string {
	return configString(n.Config, "tool_name", "toolType")
}

func providerOf(n workflow.Node) string {
	p := strings.ToLower(configString(n.Config, "provider"))
	if p == "" {
		return DefaultProvider
	}
	return p
}

// Validate lists every problem that would make Build fail. Credentials are not resolved.
func (b *Builder) Validate(def *workflow.WorkflowDefinition) []string {
	if errs := workflow.CheckStructure(def); len(errs) > 0 {
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Message)
		}
		return out
	}
	g, err := inspect(def)
	if err != nil {
		return []string{errMessage(err)}
	}

	var problems []string
	if p := providerOf(g.model); b.baseURL(g.model, p) == "" {
		problems = append(problems, fmt.Sprintf("Unsupported LLM provider: %s", p))
	}
	for _, n := range g.toolNodes {
		if name := toolName(n); name == "" {
			problems = append(problems, fmt.Sprintf("tool node %s has no tool_name", n.ID))
		} else if _, ok := b.tools.Get(name); !ok {
			problems = append(problems, fmt.Sprintf("Unsupported tool: %s", name))
		}
	}
	return problems
}

func errMessage(err error) string {
	if te, ok := types.AsError(err); ok {
		return te.Message
	}
	return err.Error()
}

func (b *Builder) baseURL(model workflow.Node, provider string) string {
	if _, known := b.baseURLs[provider]; !known {
		return ""
	}
	if u := configString(model.Config, "base_url", "api_url"); u != "" {
		return u
	}
	return b.baseURLs[provider]
}

// Build resolves the agent, model and tool nodes of def into an Agent.
// Credentials are resolved now and held only by the returned Agent.
func (b *Builder) Build(ctx context.Context, def *workflow.WorkflowDefinition) (*Agent, error) {
	g, err := inspect(def)
	if err != nil {
		return nil, err
	}

	provider := providerOf(g.model)
	baseURL := b.baseURL(g.model, provider)
	if baseURL == "" {
		return nil, types.NewConfigurationError(fmt.Sprintf("Unsupported LLM provider: %s", provider))
	}

	model := configString(g.model.Config, "model_name", "model")
	if model == "" {
		model = llm.DefaultModel
	}

	apiKey, err := b.secret(ctx, g.model)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		apiKey = b.providerKeys[provider]
	}

	agent := &Agent{
		Provider:      provider,
		Model:         model,
		BaseURL:       baseURL,
		SystemPrompt:  configString(g.agent.Config, "system_prompt", "system"),
		Temperature:   configFloat(g.model.Config, "temperature", DefaultTemperature),
		MaxIterations: configInt(g.agent.Config, "max_iterations", DefaultMaxIterations),
		apiKey:        apiKey,
		toolKeys:      make(map[string]string),
	}

	seen := make(map[string]bool, len(g.toolNodes))
	for _, n := range g.toolNodes {
		name := toolName(n)
		tool, ok := b.tools.Get(name)
		if !ok {
			return nil, types.NewConfigurationError(fmt.Sprintf("Unsupported tool: %s", name))
		}
		key, err := b.secret(ctx, n)
		if err != nil {
			return nil, err
		}
		if key != "" {
			agent.toolKeys[name] = key
		}
		if !seen[name] {
			seen[name] = true
			agent.Tools = append(agent.Tools, tool)
		}
	}

	b.logger.Debug("agent built",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Strings("tools", agent.ToolNames()),
	)
	return agent, nil
}

// secret 优先使用凭据引用，其次是节点 config.api_key。
func (b *Builder) secret(ctx context.Context, n workflow.Node) (string, error) {
	if ref := n.CredentialID(); ref != "" {
		if b.resolver == nil {
			return "", types.NewConfigurationError(fmt.Sprintf("node %s references a credential but no credential store is configured", n.ID))
		}
		cred, err := b.resolver.Resolve(ctx, ref)
		if err != nil {
			return "", types.NewConfigurationError(fmt.Sprintf("failed to resolve credential %s for node %s", ref, n.ID)).WithCause(err)
		}
		if cred != nil && cred.Secret != "" {
			return cred.Secret, nil
		}
	}
	return configString(n.Config, "api_key"), nil
}

func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := cfg[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func configFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func configInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
