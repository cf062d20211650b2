package nodes

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// Invocation is the input of one handler call. Config is a private copy and
// may be mutated by the handler.
type Invocation struct {
	NodeID     string
	NodeType   string
	Config     map[string]any
	Input      any
	Credential *Credential
}

// Output is a successful handler outcome.
type Output struct {
	// Data is propagated to downstream nodes.
	Data any
	// Message is the human-readable log line.
	Message string
	// Preview overrides Data in the log entry when set.
	Preview any
}

// Handler executes one node type. Failures are returned as *types.Error whose
// code is the error kind.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (Output, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (Output, error) {
	return f(ctx, inv)
}

// Registration binds a type tag (and its aliases) to a handler.
type Registration struct {
	Type    string
	Aliases []string
	Trigger bool
	Handler Handler
}

type entry struct {
	canonical string
	trigger   bool
	handler   Handler
}

// Registry maps node type tags to handlers. Immutable after construction.
type Registry struct {
	entries map[string]entry
	types   []string
}

// NewRegistry builds a registry. Duplicate tags are rejected.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry)}
	for _, reg := range regs {
		if reg.Type == "" || reg.Handler == nil {
			return nil, fmt.Errorf("invalid registration for type %q", reg.Type)
		}
		e := entry{canonical: reg.Type, trigger: reg.Trigger, handler: reg.Handler}
		for _, tag := range append([]string{reg.Type}, reg.Aliases...) {
			key := strings.ToLower(tag)
			if _, exists := r.entries[key]; exists {
				return nil, fmt.Errorf("node type %q already registered", tag)
			}
			r.entries[key] = e
		}
		r.types = append(r.types, reg.Type)
	}
	sort.Strings(r.types)
	return r, nil
}

// Resolve returns the handler for a node type.
func (r *Registry) Resolve(nodeType string) (Handler, error) {
	e, ok := r.entries[strings.ToLower(nodeType)]
	if !ok {
		return nil, types.NewUnknownNodeTypeError(nodeType)
	}
	return e.handler, nil
}

// IsTrigger reports whether the type is a graph entry point.
func (r *Registry) IsTrigger(nodeType string) bool {
	if e, ok := r.entries[strings.ToLower(nodeType)]; ok && e.trigger {
		return true
	}
	return strings.HasSuffix(nodeType, "TriggerNode")
}

// Has reports whether the type resolves.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.entries[strings.ToLower(nodeType)]
	return ok
}

// Canonical returns the primary tag for a type or alias, or "" when unknown.
func (r *Registry) Canonical(nodeType string) string {
	return r.entries[strings.ToLower(nodeType)].canonical
}

// Types returns the sorted primary tags.
func (r *Registry) Types() []string {
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

// Deps are the shared clients handed to the built-in handlers.
type Deps struct {
	HTTPClient *http.Client
	LLM        *llm.Client
	Tools      *tools.Registry
	Sandbox    SandboxConfig
	Logger     *zap.Logger
}

// DefaultRegistry registers every built-in handler.
func DefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = tlsutil.SecureHTTPClient(30 * time.Second)
	}
	if deps.Tools == nil {
		deps.Tools = tools.Defaults(tools.Options{HTTPClient: deps.HTTPClient})
	}

	return NewRegistry(
		Registration{
			Type:    "trigger",
			Aliases: []string{"ManualTriggerNode", "WebhookTriggerNode", "ScheduleTriggerNode"},
			Trigger: true,
			Handler: HandlerFunc(executeTrigger),
		},
		Registration{Type: "http", Aliases: []string{"HttpRequestNode"}, Handler: NewHTTPHandler(deps.HTTPClient)},
		Registration{Type: "llm", Aliases: []string{"GroqNode", "OpenAINode"}, Handler: NewLLMHandler(deps.LLM)},
		Registration{Type: "action", Handler: HandlerFunc(executeAction)},
		Registration{Type: "condition", Handler: HandlerFunc(executeCondition)},
		Registration{Type: "code", Aliases: []string{"CodeNode"}, Handler: NewCodeHandler(deps.Sandbox, deps.Logger)},
		Registration{Type: "tool", Handler: NewToolHandler(deps.Tools)},
	)
}

func executeTrigger(_ context.Context, inv Invocation) (Output, error) {
	return Output{Data: inv.Input, Message: "Trigger node, passing input data."}, nil
}
