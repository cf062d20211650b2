package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/nodeflow/agentic"
	"github.com/BaSui01/nodeflow/internal/ctxkeys"
	"github.com/BaSui01/nodeflow/streaming"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 🤖 Agent Handler
// =============================================================================

// wsRequestTimeout bounds the wait for the first websocket message.
const wsRequestTimeout = 30 * time.Second

// AgentBuilder turns an agent graph into a runnable agent.
type AgentBuilder interface {
	Build(ctx context.Context, def *workflow.WorkflowDefinition) (*agentic.Agent, error)
}

// AgentRunner runs the tool-calling loop of an agent.
type AgentRunner interface {
	Run(ctx context.Context, agent *agentic.Agent, message string) <-chan streaming.Event
}

// AgentRecorder records agent run outcomes.
type AgentRecorder interface {
	RecordAgentRun(provider, status string, d time.Duration)
}

// AgentHandler streams agent runs over SSE and WebSocket.
type AgentHandler struct {
	builder  AgentBuilder
	runner   AgentRunner
	reporter *streaming.Reporter
	recorder AgentRecorder
	origins  []string
	logger   *zap.Logger
}

// AgentOption configures an AgentHandler.
type AgentOption func(*AgentHandler)

// WithAgentRecorder records each run's outcome, e.g. into Prometheus.
func WithAgentRecorder(r AgentRecorder) AgentOption {
	return func(h *AgentHandler) { h.recorder = r }
}

// WithOriginPatterns sets the origins accepted by the websocket endpoint.
func WithOriginPatterns(patterns []string) AgentOption {
	return func(h *AgentHandler) { h.origins = patterns }
}

// NewAgentHandler creates the handler.
func NewAgentHandler(builder AgentBuilder, runner AgentRunner, logger *zap.Logger, opts ...AgentOption) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &AgentHandler{
		builder:  builder,
		runner:   runner,
		reporter: streaming.NewReporter(logger),
		logger:   logger.With(zap.String("handler", "agent")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AgentRequest carries an agent graph and the user message.
// graph/workflow_definition alias workflow; input aliases message.
type AgentRequest struct {
	Workflow           *workflow.WorkflowDefinition `json:"workflow"`
	Graph              *workflow.WorkflowDefinition `json:"graph,omitempty"`
	WorkflowDefinition *workflow.WorkflowDefinition `json:"workflow_definition,omitempty"`
	Message            string                       `json:"message"`
	Input              string                       `json:"input,omitempty"`
}

func (r *AgentRequest) definition() *workflow.WorkflowDefinition {
	switch {
	case r.Workflow != nil:
		return r.Workflow
	case r.Graph != nil:
		return r.Graph
	default:
		return r.WorkflowDefinition
	}
}

func (r *AgentRequest) message() string {
	if m := strings.TrimSpace(r.Message); m != "" {
		return m
	}
	return strings.TrimSpace(r.Input)
}

// prepare 校验请求并构建 agent；错误在开始推流之前返回
func (h *AgentHandler) prepare(ctx context.Context, req *AgentRequest) (*agentic.Agent, string, error) {
	def := req.definition()
	if def == nil {
		return nil, "", types.NewError(types.ErrInvalidRequest, "workflow is required")
	}
	msg := req.message()
	if msg == "" {
		return nil, "", types.NewError(types.ErrInvalidRequest, "message is required")
	}
	agent, err := h.builder.Build(ctx, def)
	if err != nil {
		return nil, "", err
	}
	return agent, msg, nil
}

// HandleExecute 处理 POST /api/v1/agent/execute，以 SSE 推送 token / tool_start / tool_end 事件
func (h *AgentHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	agent, msg, err := h.prepare(r.Context(), &req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	sink, err := streaming.NewSSESink(w)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported").WithCause(err), h.logger)
		return
	}
	w.WriteHeader(http.StatusOK)

	h.stream(r.Context(), agent, msg, sink)
}

// HandleWebSocket 处理 GET /api/v1/agent/ws：首条文本消息为 AgentRequest，之后每个事件一帧
func (h *AgentHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sink := streaming.NewWebSocketSink(conn)
	ctx := r.Context()

	readCtx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	var req AgentRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.logger.Debug("websocket request read failed", zap.Error(err))
		_ = conn.Close(websocket.StatusPolicyViolation, "expected agent request")
		return
	}

	agent, msg, err := h.prepare(ctx, &req)
	if err != nil {
		_ = sink.Send(ctx, streaming.Encode(errorEvent(err)))
		_ = sink.Close("invalid request")
		return
	}

	// 之后不再读取；对端关闭时 ctx 被取消
	ctx = conn.CloseRead(ctx)
	h.stream(ctx, agent, msg, sink)
	_ = sink.Close("done")
}

// stream 转发事件直到结束，并按最后一个事件记录运行结果
func (h *AgentHandler) stream(ctx context.Context, agent *agentic.Agent, msg string, sink streaming.Sink) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	// 只记录已写入客户端的事件类型
	var last atomic.Value
	last.Store(streaming.EventType(""))

	events := h.runner.Run(ctx, agent, msg)
	if err := h.reporter.Stream(ctx, events, sink, streaming.OnSent(func(ev streaming.Event) {
		last.Store(ev.Type)
	})); err != nil {
		h.logger.Debug("agent stream ended early", zap.Error(err))
	}

	status := "cancelled"
	lastType, _ := last.Load().(streaming.EventType)
	switch lastType {
	case streaming.EventDone:
		status = "success"
	case streaming.EventError:
		status = "error"
	}
	if h.recorder != nil {
		h.recorder.RecordAgentRun(agent.Provider, status, time.Since(start))
	}
	h.logger.Info("agent run finished",
		zap.String("request_id", ctxkeys.RequestIDOrEmpty(ctx)),
		zap.String("provider", agent.Provider),
		zap.String("model", agent.Model),
		zap.String("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func errorEvent(err error) streaming.Event {
	code, msg := types.ErrInternalError, "internal server error"
	if te, ok := types.AsError(err); ok {
		code, msg = te.Code, te.Message
	}
	return streaming.Event{Type: streaming.EventError, Data: map[string]any{
		"code":    string(code),
		"message": msg,
	}}
}
