package nodes

import (
	"context"
	"fmt"

	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/types"
)

// ToolHandler runs a registered tool as a workflow step.
type ToolHandler struct {
	tools *tools.Registry
}

// NewToolHandler creates the tool handler.
func NewToolHandler(reg *tools.Registry) *ToolHandler {
	return &ToolHandler{tools: reg}
}

// Execute implements Handler. Arguments come from config.args; keys of a map
// input fill in whatever config leaves unset.
func (h *ToolHandler) Execute(ctx context.Context, inv Invocation) (Output, error) {
	name := configString(inv.Config, "tool_name", "toolType", "tool")
	if name == "" {
		return Output{}, types.NewConfigurationError("tool node requires tool_name")
	}
	tool, ok := h.tools.Get(name)
	if !ok {
		return Output{}, types.NewConfigurationError(fmt.Sprintf("unsupported tool: %s", name))
	}

	args := make(map[string]any)
	if in, ok := inv.Input.(map[string]any); ok {
		for k, v := range in {
			args[k] = v
		}
	}
	for k, v := range configMap(inv.Config, "args", "arguments") {
		args[k] = v
	}

	key := configString(inv.Config, "api_key")
	if inv.Credential != nil && inv.Credential.Secret != "" {
		key = inv.Credential.Secret
	}

	out, err := tool.Call(ctx, tools.Call{Args: args, APIKey: key})
	if err != nil {
		if _, typed := types.AsError(err); typed {
			return Output{}, err
		}
		return Output{}, types.NewHandlerError(fmt.Sprintf("tool %s failed", name), err)
	}
	return Output{Data: out, Message: fmt.Sprintf("Tool %s executed.", name)}, nil
}
