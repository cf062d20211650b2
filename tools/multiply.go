package tools

import (
	"context"

	"github.com/BaSui01/nodeflow/types"
)

// Multiply multiplies two numbers.
type Multiply struct{}

func (Multiply) Name() string        { return "multiply" }
func (Multiply) Description() string { return "Multiply two integers." }

func (Multiply) Parameters() map[string]any {
	return objectSchema([]string{"a", "b"}, map[string]any{
		"a": prop("integer", "first factor"),
		"b": prop("integer", "second factor"),
	})
}

func (Multiply) Call(_ context.Context, call Call) (any, error) {
	a, err := numberArg(call.Args, "a")
	if err != nil {
		return nil, types.NewConfigurationError(err.Error())
	}
	b, err := numberArg(call.Args, "b")
	if err != nil {
		return nil, types.NewConfigurationError(err.Error())
	}
	return normalizeNumber(a * b), nil
}
