package nodes

import (
	"context"
	"strings"
)

var stringActions = map[string]func(string) string{
	"uppercase": strings.ToUpper,
	"lowercase": strings.ToLower,
	"trim":      strings.TrimSpace,
}

var actionMessages = map[string]string{
	"uppercase": "Action: Uppercased data.",
	"lowercase": "Action: Lowercased data.",
	"trim":      "Action: Trimmed data.",
}

// executeAction applies a built-in string transform. Unknown actions and
// non-string data pass through unchanged.
func executeAction(_ context.Context, inv Invocation) (Output, error) {
	action := strings.ToLower(configString(inv.Config, "action"))
	fn, known := stringActions[action]
	s, isString := inv.Input.(string)
	if !known || !isString {
		return Output{Data: inv.Input, Message: "Action: No-op or unknown action."}, nil
	}
	return Output{Data: fn(s), Message: actionMessages[action]}, nil
}
