package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/types"
)

// SandboxConfig bounds one code node execution.
type SandboxConfig struct {
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CallStackSize   int           `yaml:"call_stack_size" env:"CALL_STACK_SIZE"`
	RegistrySize    int           `yaml:"registry_size" env:"REGISTRY_SIZE"`
	RegistryMaxSize int           `yaml:"registry_max_size" env:"REGISTRY_MAX_SIZE"`
	MaxStringLength int           `yaml:"max_string_length" env:"MAX_STRING_LENGTH"`
}

// DefaultSandboxConfig returns conservative limits.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:         5 * time.Second,
		CallStackSize:   120,
		RegistrySize:    1024 * 4,
		RegistryMaxSize: 1024 * 256,
		MaxStringLength: 1 << 20,
	}
}

// Lua globals visible to user code. Everything else is removed after the
// libraries are opened.
var sandboxGlobals = map[string]bool{
	"_G": true, "_VERSION": true,
	"assert": true, "error": true, "ipairs": true, "next": true, "pairs": true,
	"pcall": true, "select": true, "tonumber": true, "tostring": true, "type": true,
	"unpack": true, "xpcall": true, "rawequal": true, "rawget": true, "rawlen": true,
	"setmetatable": true, "getmetatable": true,
	"string": true, "table": true, "math": true,
}

const maxConvertDepth = 32

// CodeHandler runs user Lua snippets in a fresh, capability-scoped state.
// The input is exposed as the global `input`; the global `result` is the output.
type CodeHandler struct {
	cfg    SandboxConfig
	logger *zap.Logger
}

// NewCodeHandler creates the code handler. Zero limits fall back to defaults.
func NewCodeHandler(cfg SandboxConfig, logger *zap.Logger) *CodeHandler {
	def := DefaultSandboxConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CallStackSize <= 0 {
		cfg.CallStackSize = def.CallStackSize
	}
	if cfg.RegistrySize <= 0 {
		cfg.RegistrySize = def.RegistrySize
	}
	if cfg.RegistryMaxSize < cfg.RegistrySize {
		cfg.RegistryMaxSize = def.RegistryMaxSize
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = def.MaxStringLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeHandler{cfg: cfg, logger: logger.With(zap.String("component", "code_sandbox"))}
}

// Execute implements Handler.
func (h *CodeHandler) Execute(ctx context.Context, inv Invocation) (Output, error) {
	code, _ := inv.Config["code"].(string)
	if strings.TrimSpace(code) == "" {
		return Output{}, types.NewConfigurationError("code node requires code")
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   h.cfg.CallStackSize,
		RegistrySize:    h.cfg.RegistrySize,
		RegistryMaxSize: h.cfg.RegistryMaxSize,
	})
	defer L.Close()

	if err := h.openSandbox(L); err != nil {
		return Output{}, types.NewHandlerError("initialize sandbox", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	L.SetContext(runCtx)

	L.SetGlobal("input", toLua(L, inv.Input, 0))
	if err := L.DoString(code); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Output{}, types.NewHandlerError(fmt.Sprintf("code execution exceeded %s", h.cfg.Timeout), err)
		}
		return Output{}, types.NewHandlerError("code execution failed", err)
	}

	result := fromLua(L.GetGlobal("result"), 0)
	h.logger.Debug("code executed", zap.String("node_id", inv.NodeID))
	return Output{Data: result, Message: "Code executed."}, nil
}

func (h *CodeHandler) openSandbox(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %s: %w", lib.name, err)
		}
	}

	var denied []string
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if name, ok := k.(lua.LString); !ok || !sandboxGlobals[string(name)] {
			denied = append(denied, k.String())
		}
	})
	for _, name := range denied {
		L.G.Global.RawSetString(name, lua.LNil)
	}

	// string.rep is the cheapest way to exhaust memory.
	if strTbl, ok := L.GetGlobal("string").(*lua.LTable); ok {
		limit := h.cfg.MaxStringLength
		strTbl.RawSetString("rep", L.NewFunction(func(L *lua.LState) int {
			s := L.CheckString(1)
			n := L.CheckInt(2)
			sep := L.OptString(3, "")
			unit := len(s) + len(sep)
			if n <= 0 || unit == 0 {
				L.Push(lua.LString(""))
				return 1
			}
			// 先除后比，避免 unit*n 溢出
			if n > (limit+len(sep))/unit {
				L.RaiseError("string.rep result exceeds %d bytes", limit)
				return 0
			}
			var b strings.Builder
			b.Grow(unit * n)
			for i := 0; i < n; i++ {
				if i > 0 {
					b.WriteString(sep)
				}
				b.WriteString(s)
			}
			L.Push(lua.LString(b.String()))
			return 1
		}))
	}
	return nil
}

// toLua converts JSON-shaped Go values into Lua values.
func toLua(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxConvertDepth {
		return lua.LNil
	}
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lua.LString(x.String())
		}
		return lua.LNumber(f)
	case map[string]any:
		tbl := L.NewTable()
		for k, val := range x {
			tbl.RawSetString(k, toLua(L, val, depth+1))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, val := range x {
			tbl.RawSetInt(i+1, toLua(L, val, depth+1))
		}
		return tbl
	default:
		// Round-trip through JSON for structs and typed maps.
		b, err := json.Marshal(x)
		if err != nil {
			return lua.LString(fmt.Sprint(x))
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return lua.LString(string(b))
		}
		return toLua(L, generic, depth+1)
	}
}

// fromLua converts a Lua value into a JSON-shaped Go value. Sequences become
// []any, other tables map[string]any.
func fromLua(v lua.LValue, depth int) any {
	if depth > maxConvertDepth {
		return nil
	}
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case lua.LString:
		return string(x)
	case *lua.LTable:
		n := x.MaxN()
		count := 0
		x.ForEach(func(_, _ lua.LValue) { count++ })
		if n > 0 && n == count {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(x.RawGetInt(i), depth+1))
			}
			return arr
		}
		obj := make(map[string]any, count)
		x.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = fromLua(val, depth+1)
		})
		return obj
	default:
		if v == nil || v.Type() == lua.LTNil {
			return nil
		}
		return v.String()
	}
}
