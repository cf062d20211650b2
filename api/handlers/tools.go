package handlers

import (
	"net/http"

	"github.com/BaSui01/nodeflow/tools"
)

// ToolsHandler lists the tools available to tool nodes and agents.
type ToolsHandler struct {
	registry *tools.Registry
}

// NewToolsHandler creates the handler.
func NewToolsHandler(registry *tools.Registry) *ToolsHandler {
	return &ToolsHandler{registry: registry}
}

// HandleList 处理 GET /api/v1/tools
func (h *ToolsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"tools": h.registry.List()})
}
