package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/nodeflow/internal/ctxkeys"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// ⚙️ Workflow Handler
// =============================================================================

// WorkflowEngine is the engine surface used by the workflow endpoints.
type WorkflowEngine interface {
	Execute(ctx context.Context, def *workflow.WorkflowDefinition, input any, opts ...workflow.RunOption) (*workflow.ExecutionResult, error)
	ExecuteAsync(ctx context.Context, def *workflow.WorkflowDefinition, input any) (string, error)
	GetStatus(ctx context.Context, jobID string) (*workflow.JobStatus, error)
	Validate(def *workflow.WorkflowDefinition) []string
}

// GraphValidator validates agent graphs.
type GraphValidator interface {
	Validate(def *workflow.WorkflowDefinition) []string
}

// WorkflowHandler serves workflow execution, validation and status polling.
type WorkflowHandler struct {
	engine    WorkflowEngine
	agents    GraphValidator
	nodeTypes []string
	logger    *zap.Logger
}

// NewWorkflowHandler creates the handler. agents may be nil, in which case
// agent graphs are validated as plain traversal graphs.
func NewWorkflowHandler(engine WorkflowEngine, agents GraphValidator, nodeTypes []string, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		engine:    engine,
		agents:    agents,
		nodeTypes: nodeTypes,
		logger:    logger.With(zap.String("handler", "workflow")),
	}
}

// ExecuteRequest carries a workflow definition and its trigger input.
// graph and workflow_definition are accepted as aliases of workflow.
type ExecuteRequest struct {
	Workflow           *workflow.WorkflowDefinition `json:"workflow"`
	Graph              *workflow.WorkflowDefinition `json:"graph,omitempty"`
	WorkflowDefinition *workflow.WorkflowDefinition `json:"workflow_definition,omitempty"`
	Input              any                          `json:"input,omitempty"`
}

func (r *ExecuteRequest) definition() *workflow.WorkflowDefinition {
	switch {
	case r.Workflow != nil:
		return r.Workflow
	case r.Graph != nil:
		return r.Graph
	default:
		return r.WorkflowDefinition
	}
}

// AsyncResponse is returned by execute-async.
type AsyncResponse struct {
	JobID     string                   `json:"job_id"`
	Status    workflow.ExecutionStatus `json:"status"`
	StatusURL string                   `json:"status_url"`
}

// ValidateResponse lists the problems found in a definition.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Mode   string   `json:"mode"`
	Errors []string `json:"errors"`
}

func (h *WorkflowHandler) decode(w http.ResponseWriter, r *http.Request) (*ExecuteRequest, *workflow.WorkflowDefinition, bool) {
	var req ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, nil, false
	}
	def := req.definition()
	if def == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "workflow is required"), h.logger)
		return nil, nil, false
	}
	return &req, def, true
}

// HandleExecute 处理 POST /api/v1/workflows/execute：同步执行并返回完整结果。
// 节点失败体现在结果的 status 中；只有执行前被拒绝的定义返回错误响应。
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	req, def, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.engine.Execute(r.Context(), def, req.Input)
	if err != nil {
		if te, ok := types.AsError(err); ok {
			writeError(w, te, res, h.logger)
			return
		}
		// 结果已完整，只是记录未能落库
		h.logger.Warn("execution finished but was not persisted",
			zap.String("request_id", ctxkeys.RequestIDOrEmpty(r.Context())),
			zap.String("execution_id", res.ExecutionID),
			zap.Error(err),
		)
	}
	WriteSuccess(w, res)
}

// HandleExecuteAsync 处理 POST /api/v1/workflows/execute-async
func (h *WorkflowHandler) HandleExecuteAsync(w http.ResponseWriter, r *http.Request) {
	req, def, ok := h.decode(w, r)
	if !ok {
		return
	}

	id, err := h.engine.ExecuteAsync(r.Context(), def, req.Input)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusAccepted, AsyncResponse{
		JobID:     id,
		Status:    workflow.StatusPending,
		StatusURL: "/api/v1/executions/" + id,
	})
}

// HandleGetExecution 处理 GET /api/v1/executions/{id}
func (h *WorkflowHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "execution id is required"), h.logger)
		return
	}

	st, err := h.engine.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrRecordNotFound) {
			WriteError(w, types.Errorf(types.ErrNotFound, "execution %s not found", id), h.logger)
			return
		}
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, st)
}

// HandleValidate 处理 POST /api/v1/workflows/validate。
// 含 agentic 节点的图按 agent 图校验，其余按遍历图校验。
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	_, def, ok := h.decode(w, r)
	if !ok {
		return
	}

	resp := ValidateResponse{Mode: "workflow"}
	if h.agents != nil && isAgentGraph(def) {
		resp.Mode = "agent"
		resp.Errors = h.agents.Validate(def)
	} else {
		resp.Errors = h.engine.Validate(def)
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	resp.Valid = len(resp.Errors) == 0
	WriteSuccess(w, resp)
}

// HandleNodeTypes 处理 GET /api/v1/nodes：列出已注册的节点类型
func (h *WorkflowHandler) HandleNodeTypes(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"types": h.nodeTypes})
}

func isAgentGraph(def *workflow.WorkflowDefinition) bool {
	for _, n := range def.Nodes {
		if strings.EqualFold(n.Type, "agentic") {
			return true
		}
	}
	return false
}
