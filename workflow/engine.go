package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/internal/pool"
	"github.com/BaSui01/nodeflow/nodes"
	"github.com/BaSui01/nodeflow/retry"
	"github.com/BaSui01/nodeflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultNodeTimeout bounds one handler invocation.
	DefaultNodeTimeout = 60 * time.Second
	// DefaultMaxSteps bounds the number of dequeued nodes per execution.
	DefaultMaxSteps = 10000

	engineNodeName = "Engine"
	engineNodeType = "engine"
	redacted       = "***"
)

// Observer receives execution lifecycle events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ExecutionStarted()
	ExecutionFinished(status ExecutionStatus, d time.Duration)
	NodeFinished(nodeType string, status LogStatus, attempts int, d time.Duration)
	NodeRetried(nodeType string)
}

type nopObserver struct{}

func (nopObserver) ExecutionStarted()                                  {}
func (nopObserver) ExecutionFinished(ExecutionStatus, time.Duration)   {}
func (nopObserver) NodeFinished(string, LogStatus, int, time.Duration) {}
func (nopObserver) NodeRetried(string)                                 {}

// Engine walks a workflow graph breadth-first and dispatches each node to
// its registered handler. An Engine is safe for concurrent executions; each
// run owns its queue and result.
type Engine struct {
	registry     *nodes.Registry
	retryer      *retry.Retryer
	resolver     CredentialResolver
	store        RecordStore
	observer     Observer
	tracer       trace.Tracer
	nodeTimeout  time.Duration
	previewLimit int
	maxSteps     int
	persistSteps bool
	logger       *zap.Logger

	poolCfg  pool.Config
	jobs     *pool.Pool
	ownsPool bool
	poolOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy replaces the default node retry policy.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(e *Engine) { e.retryer = retry.New(p, e.logger) }
}

// WithCredentialResolver sets the resolver used for nodes that carry a credential reference.
func WithCredentialResolver(r CredentialResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRecordStore persists results. Required for ExecuteAsync.
func WithRecordStore(s RecordStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver registers an execution observer (metrics).
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithNodeTimeout bounds each handler invocation. Zero disables the bound.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithPreviewLimit sets the maximum rune length of log data previews.
func WithPreviewLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.previewLimit = n
		}
	}
}

// WithMaxSteps bounds the number of node invocations of one run.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithJobPool runs async executions on p. The caller keeps ownership of p.
func WithJobPool(p *pool.Pool) Option {
	return func(e *Engine) {
		e.jobs = p
		e.ownsPool = false
	}
}

// WithPoolConfig sizes the pool the engine creates for async executions.
func WithPoolConfig(cfg pool.Config) Option {
	return func(e *Engine) { e.poolCfg = cfg }
}

// WithPersistSteps writes the log to the record store after every node of an async run.
func WithPersistSteps(enabled bool) Option {
	return func(e *Engine) { e.persistSteps = enabled }
}

// NewEngine creates an engine over a handler registry.
func NewEngine(registry *nodes.Registry, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry:     registry,
		observer:     nopObserver{},
		tracer:       otel.Tracer("github.com/BaSui01/nodeflow/workflow"),
		nodeTimeout:  DefaultNodeTimeout,
		previewLimit: DefaultPreviewLength,
		maxSteps:     DefaultMaxSteps,
		logger:       logger.With(zap.String("component", "workflow_engine")),
		poolCfg:      pool.DefaultConfig(),
		ownsPool:     true,
	}
	e.retryer = retry.New(retry.DefaultPolicy(), e.logger)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOption configures one execution.
type RunOption func(*runOptions)

type runOptions struct {
	executionID string
}

// WithExecutionID pins the execution id instead of generating one.
func WithExecutionID(id string) RunOption {
	return func(o *runOptions) { o.executionID = id }
}

// Execute runs def synchronously and returns the full result.
//
// Node failures are reported through the result (status error) and never as
// the returned error. The error is non-nil only when preflight rejects the
// definition, in which case no node runs, or when the configured record store
// fails to persist the result. The result is non-nil in every case.
func (e *Engine) Execute(ctx context.Context, def *WorkflowDefinition, input any, opts ...RunOption) (*ExecutionResult, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.executionID == "" {
		ro.executionID = uuid.NewString()
	}

	res, runErr := e.run(ctx, def, input, ro.executionID, nil)

	if e.store != nil {
		if _, err := e.store.Create(context.WithoutCancel(ctx), res.Clone()); err != nil {
			e.logger.Error("failed to persist execution",
				zap.String("execution_id", res.ExecutionID),
				zap.Error(err),
			)
			if runErr == nil {
				runErr = fmt.Errorf("persist execution %s: %w", res.ExecutionID, err)
			}
		}
	}
	return res, runErr
}

// run executes one workflow into a fresh result. onStep is invoked after
// every appended log entry.
func (e *Engine) run(ctx context.Context, def *WorkflowDefinition, input any, executionID string, onStep func(*ExecutionResult)) (*ExecutionResult, error) {
	start := time.Now()
	res := &ExecutionResult{
		ExecutionID: executionID,
		Status:      StatusRunning,
		Logs:        []NodeLogEntry{},
		StartedAt:   start.UTC(),
		Timestamp:   start.UTC(),
	}
	if def != nil {
		res.WorkflowID = def.ID
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", res.WorkflowID),
		attribute.String("workflow.execution_id", executionID),
	))
	defer span.End()

	e.observer.ExecutionStarted()
	e.logger.Info("starting workflow execution",
		zap.String("execution_id", executionID),
		zap.String("workflow_id", res.WorkflowID),
	)

	var runErr error
	if err := Preflight(def); err != nil {
		runErr = err
		e.abort(res, err.Error())
		if onStep != nil {
			onStep(res)
		}
	} else {
		e.traverse(ctx, def, input, res, onStep)
	}

	finished := time.Now().UTC()
	res.FinishedAt = &finished
	res.Timestamp = finished

	duration := time.Since(start)
	e.observer.ExecutionFinished(res.Status, duration)
	span.SetAttributes(attribute.String("workflow.status", string(res.Status)))
	if res.Status == StatusError {
		span.SetStatus(codes.Error, res.Error)
		e.logger.Warn("workflow execution failed",
			zap.String("execution_id", executionID),
			zap.String("error", res.Error),
			zap.Duration("duration", duration),
		)
	} else {
		e.logger.Info("workflow execution completed",
			zap.String("execution_id", executionID),
			zap.Int("nodes_executed", len(res.Logs)),
			zap.Duration("duration", duration),
		)
	}
	return res, runErr
}

type queued struct {
	nodeID string
	input  any
}

func (e *Engine) traverse(ctx context.Context, def *WorkflowDefinition, input any, res *ExecutionResult, onStep func(*ExecutionResult)) {
	index := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		index[n.ID] = n
	}
	outgoing := make(map[string][]Edge, len(def.Nodes))
	for _, edge := range def.Edges {
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	var queue []queued
	for _, n := range def.Nodes {
		if e.registry.IsTrigger(n.Type) {
			queue = append(queue, queued{nodeID: n.ID, input: input})
		}
	}
	// 没有触发器时从第一个节点开始
	if len(queue) == 0 {
		queue = append(queue, queued{nodeID: def.Nodes[0].ID, input: input})
	}

	red := &redactor{}
	steps := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			e.abort(res, "execution cancelled")
			if onStep != nil {
				onStep(res)
			}
			return
		}

		item := queue[0]
		queue = queue[1:]

		steps++
		if steps > e.maxSteps {
			e.abort(res, fmt.Sprintf("execution exceeded %d steps", e.maxSteps))
			if onStep != nil {
				onStep(res)
			}
			return
		}

		node := index[item.nodeID]
		out, entry, err := e.runNode(ctx, node, item.input, red)
		res.Logs = append(res.Logs, entry)
		if onStep != nil {
			onStep(res)
		}
		if err != nil {
			// 致命错误：放弃队列中剩余的节点
			res.Status = StatusError
			res.Error = entry.Message
			return
		}

		res.FinalData = red.data(out.Data, 0)
		for _, edge := range outgoing[node.ID] {
			if edge.Condition.Matches(out.Data) {
				queue = append(queue, queued{nodeID: edge.Target, input: out.Data})
			}
		}
	}
	res.Status = StatusSuccess
}

// abort records an engine-level failure.
func (e *Engine) abort(res *ExecutionResult, message string) {
	res.Status = StatusError
	res.Error = message
	res.Logs = append(res.Logs, NodeLogEntry{
		NodeName:  engineNodeName,
		NodeType:  engineNodeType,
		Status:    LogError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// runNode resolves, retries and logs one node invocation. It never panics.
// Every secret resolved during the run is registered with red so that later
// nodes echoing it are masked too.
func (e *Engine) runNode(ctx context.Context, node Node, input any, red *redactor) (nodes.Output, NodeLogEntry, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	defer span.End()

	entry := NodeLogEntry{
		NodeID:   node.ID,
		NodeName: node.DisplayName(),
		NodeType: node.Type,
	}
	logger := e.logger.With(zap.String("node_id", node.ID), zap.String("node_type", node.Type))

	var (
		out      nodes.Output
		cred     *nodes.Credential
		attempts int
	)
	handler, err := e.registry.Resolve(node.Type)
	if err == nil {
		cred, err = e.resolveCredential(ctx, node)
		red.add(cred)
	}
	if err == nil {
		var v any
		v, attempts, err = e.retryer.WithRedact(red.text).Do(ctx, func(ctx context.Context, attempt int) (any, error) {
			if attempt > 1 {
				e.observer.NodeRetried(node.Type)
				span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
			}
			o, err := e.invoke(ctx, handler, node, input, cred)
			if err != nil {
				logger.Debug("node attempt failed", zap.Int("attempt", attempt), zap.String("error", red.text(err.Error())))
			}
			return o, err
		})
		if err == nil {
			out, _ = v.(nodes.Output)
		}
	}

	duration := time.Since(start)
	entry.Timestamp = time.Now().UTC()

	if err != nil {
		entry.Status = LogError
		entry.Message = red.text(err.Error())
		span.SetStatus(codes.Error, entry.Message)
		e.observer.NodeFinished(node.Type, LogError, attempts, duration)
		logger.Error("node execution failed",
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration),
			zap.String("error", entry.Message),
		)
		if te, ok := types.AsError(err); ok && te.NodeID == "" {
			te.NodeID = node.ID
		}
		return nodes.Output{}, entry, err
	}

	entry.Status = LogSuccess
	entry.Message = red.text(out.Message)
	preview := out.Preview
	if preview == nil {
		preview = out.Data
	}
	// 先脱敏再截断，截断后的残片无法再匹配
	entry.Data = Preview(red.data(preview, 0), e.previewLimit)
	e.observer.NodeFinished(node.Type, LogSuccess, attempts, duration)
	logger.Debug("node executed",
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration),
	)
	return out, entry, nil
}

// invoke runs the handler once. The handler is shielded from caller
// cancellation so that an in-flight node finishes; only the node timeout
// interrupts it.
func (e *Engine) invoke(ctx context.Context, h nodes.Handler, node Node, input any, cred *nodes.Credential) (out nodes.Output, err error) {
	callCtx := context.WithoutCancel(ctx)
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.nodeTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = nodes.Output{}
			err = types.NewHandlerError(fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	var c *nodes.Credential
	if cred != nil {
		cp := *cred
		c = &cp
	}
	out, err = h.Execute(callCtx, nodes.Invocation{
		NodeID:     node.ID,
		NodeType:   node.Type,
		Config:     CloneConfig(node.Config),
		Input:      deepCopy(input),
		Credential: c,
	})
	if err != nil {
		return nodes.Output{}, classify(err)
	}
	return out, nil
}

// classify maps untyped handler errors onto the error taxonomy.
func classify(err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if retry.IsTransient(err) {
		return types.NewTransportError("transient handler failure", err)
	}
	return types.NewHandlerError("handler failed", err)
}

func (e *Engine) resolveCredential(ctx context.Context, node Node) (*nodes.Credential, error) {
	ref := node.CredentialID()
	if ref == "" {
		return nil, nil
	}
	if e.resolver == nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("credential %s referenced but no credential store is configured", ref))
	}
	cred, err := e.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("credential %s could not be resolved", ref)).WithCause(err)
	}
	if cred == nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("credential %s not found", ref))
	}
	return cred, nil
}

const maxRedactDepth = 64

// redactor masks every credential secret resolved so far in one run.
type redactor struct {
	secrets []string
}

func (r *redactor) add(cred *nodes.Credential) {
	if cred == nil || cred.Secret == "" {
		return
	}
	for _, s := range r.secrets {
		if s == cred.Secret {
			return
		}
	}
	r.secrets = append(r.secrets, cred.Secret)
}

func (r *redactor) text(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

func (r *redactor) leaks(s string) bool {
	for _, secret := range r.secrets {
		if strings.Contains(s, secret) {
			return true
		}
	}
	return false
}

// data returns v with secrets masked in every string, map key included.
// Values that are not JSON-shaped are rendered when they would leak.
func (r *redactor) data(v any, depth int) any {
	if len(r.secrets) == 0 || v == nil {
		return v
	}
	if depth > maxRedactDepth {
		return redacted
	}
	switch x := v.(type) {
	case string:
		return r.text(x)
	case []byte:
		return r.text(string(x))
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[r.text(k)] = r.data(val, depth+1)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = r.data(val, depth+1)
		}
		return out
	case map[string]string:
		m := make(map[string]string, len(x))
		for k, val := range x {
			m[r.text(k)] = r.text(val)
		}
		return m
	case []string:
		out := make([]string, len(x))
		for i, val := range x {
			out[i] = r.text(val)
		}
		return out
	default:
		rendered := fmt.Sprintf("%v", x)
		if b, err := json.Marshal(x); err == nil {
			rendered = string(b)
		}
		if r.leaks(rendered) {
			return r.text(rendered)
		}
		return x
	}
}

// Validate returns human-readable problems that would prevent execution:
// structural errors, cycles, and unregistered node types.
func (e *Engine) Validate(def *WorkflowDefinition) []string {
	var problems []string
	structural := CheckStructure(def)
	for _, err := range structural {
		problems = append(problems, err.Message)
	}
	if def == nil {
		return problems
	}
	if len(structural) == 0 {
		if err := DetectCycle(def); err != nil {
			if te, ok := types.AsError(err); ok {
				problems = append(problems, te.Message)
			} else {
				problems = append(problems, err.Error())
			}
		}
	}
	for _, n := range def.Nodes {
		if n.Type != "" && !e.registry.Has(n.Type) {
			problems = append(problems, fmt.Sprintf("node %s has unknown type: %s", n.ID, n.Type))
		}
	}
	return problems
}

// Registry returns the handler registry.
func (e *Engine) Registry() *nodes.Registry {
	return e.registry
}
