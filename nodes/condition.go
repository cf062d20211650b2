package nodes

import (
	"context"
	"fmt"
	"strings"
)

// executeCondition replaces string data with whether it contains the configured substring.
func executeCondition(_ context.Context, inv Invocation) (Output, error) {
	cond, _ := inv.Config["condition"].(string)
	s, ok := inv.Input.(string)
	if cond == "" || !ok {
		return Output{Data: inv.Input, Message: "Condition: No-op or invalid data."}, nil
	}
	result := strings.Contains(s, cond)
	return Output{
		Data:    result,
		Message: fmt.Sprintf("Condition '%s' in data: %t", cond, result),
	}, nil
}
