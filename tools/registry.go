// Package tools 提供 tool 节点与 agentic 模式共享的内置工具注册表。
package tools

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/llm"
)

// Call carries the arguments of one tool invocation.
type Call struct {
	Args   map[string]any
	APIKey string
}

// Tool is a callable capability. Implementations are safe for concurrent use.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	Call(ctx context.Context, call Call) (any, error)
}

// Registry is a static name → tool table built at process start.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry; later tools with a duplicate name win.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Info is the public description of a tool.
type Info struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// List describes every registered tool, sorted by name.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.tools))
	for _, n := range r.Names() {
		t := r.tools[n]
		out = append(out, Info{Name: n, Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}

// Specs converts the named tools into LLM function specs. Unknown names are an error.
func (r *Registry) Specs(names ...string) ([]llm.ToolSpec, error) {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("unsupported tool: %s", n)
		}
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs, nil
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprint(v)
	}
	return ""
}

func numberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be a number, got %T", key, v)
	}
}

// normalizeNumber keeps integral results as int64 so they render without a fraction.
func normalizeNumber(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Options configures the built-in tools.
type Options struct {
	HTTPClient *http.Client

	TavilyAPIKey  string
	TavilyBaseURL string
	TavilyResults int

	SlackToken   string
	SlackBaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Defaults builds the registry of built-in tools: multiply, tavily_search,
// post_to_slack and send_email.
func Defaults(opts Options) *Registry {
	client := opts.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(30 * time.Second)
	}
	return NewRegistry(
		Multiply{},
		&TavilySearch{APIKey: opts.TavilyAPIKey, BaseURL: opts.TavilyBaseURL, MaxResults: opts.TavilyResults, Client: client},
		&PostToSlack{Token: opts.SlackToken, BaseURL: opts.SlackBaseURL, Client: client},
		&SendEmail{
			Host:     opts.SMTPHost,
			Port:     opts.SMTPPort,
			Username: opts.SMTPUsername,
			Password: opts.SMTPPassword,
			From:     opts.SMTPFrom,
		},
	)
}
