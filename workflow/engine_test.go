package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/nodeflow/nodes"
	"github.com/BaSui01/nodeflow/retry"
	"github.com/BaSui01/nodeflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ====== 测试辅助 ======

type memStore struct {
	mu      sync.Mutex
	records map[string]*ExecutionResult
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*ExecutionResult)}
}

func (s *memStore) Create(_ context.Context, r *ExecutionResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ExecutionID] = r.Clone()
	return r.ExecutionID, nil
}

func (s *memStore) Update(_ context.Context, id string, p RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if r.Status.IsTerminal() {
		return ErrRecordTerminal
	}
	p.Apply(r)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

type staticResolver map[string]*nodes.Credential

func (r staticResolver) Resolve(_ context.Context, ref string) (*nodes.Credential, error) {
	c, ok := r[ref]
	if !ok {
		return nil, errors.New("no such credential")
	}
	return c, nil
}

// appendHandler appends its node id to a string input.
var appendHandler = nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
	s, _ := inv.Input.(string)
	out := s + ">" + inv.NodeID
	return nodes.Output{Data: out, Message: "appended " + inv.NodeID}, nil
})

var passHandler = nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
	return nodes.Output{Data: inv.Input, Message: "pass"}, nil
})

func testRegistry(t *testing.T, regs ...nodes.Registration) *nodes.Registry {
	t.Helper()
	base := []nodes.Registration{
		{Type: "trigger", Trigger: true, Handler: passHandler},
		{Type: "append", Handler: appendHandler},
		{Type: "pass", Handler: passHandler},
	}
	reg, err := nodes.NewRegistry(append(base, regs...)...)
	require.NoError(t, err)
	return reg
}

func fastRetry() Option {
	return WithRetryPolicy(&retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1})
}

func linearChain(n int) *WorkflowDefinition {
	def := &WorkflowDefinition{ID: "wf-linear", Name: "linear"}
	def.Nodes = append(def.Nodes, Node{ID: "n0", Type: "trigger"})
	for i := 1; i < n; i++ {
		def.Nodes = append(def.Nodes, Node{ID: fmt.Sprintf("n%d", i), Type: "append"})
		def.Edges = append(def.Edges, Edge{Source: fmt.Sprintf("n%d", i-1), Target: fmt.Sprintf("n%d", i)})
	}
	return def
}

func logIDs(res *ExecutionResult) []string {
	ids := make([]string, 0, len(res.Logs))
	for _, l := range res.Logs {
		ids = append(ids, l.NodeID)
	}
	return ids
}

// ====== 测试 ======

func TestEngine_LinearChain(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	res, err := eng.Execute(context.Background(), linearChain(4), "x")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "wf-linear", res.WorkflowID)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, []string{"n0", "n1", "n2", "n3"}, logIDs(res))
	for _, l := range res.Logs {
		assert.Equal(t, LogSuccess, l.Status)
		assert.False(t, l.Timestamp.IsZero())
		assert.Equal(t, time.UTC, l.Timestamp.Location())
	}
	assert.Equal(t, "x>n1>n2>n3", res.FinalData)
	require.NotNil(t, res.FinishedAt)
	assert.Empty(t, res.Error)
}

func TestEngine_ConditionalBranch(t *testing.T) {
	t.Parallel()

	brancher := nodes.HandlerFunc(func(_ context.Context, _ nodes.Invocation) (nodes.Output, error) {
		return nodes.Output{Data: map[string]any{"value": 1}}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "branch", Handler: brancher}), zap.NewNop())

	def := &WorkflowDefinition{
		Nodes: []Node{
			{ID: "start", Type: "trigger"},
			{ID: "b", Type: "branch"},
			{ID: "one", Type: "pass"},
			{ID: "two", Type: "pass"},
		},
		Edges: []Edge{
			{Source: "start", Target: "b"},
			{Source: "b", Target: "one", Condition: &Condition{Field: "value", Equals: 1}},
			{Source: "b", Target: "two", Condition: &Condition{Field: "output.value", Equals: 2}},
		},
	}

	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"start", "b", "one"}, logIDs(res))
}

func TestEngine_NonRetryableFailure(t *testing.T) {
	t.Parallel()

	var calls, after atomic.Int32
	boom := nodes.HandlerFunc(func(_ context.Context, _ nodes.Invocation) (nodes.Output, error) {
		calls.Add(1)
		return nodes.Output{}, errors.New("boom: bad payload")
	})
	never := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		after.Add(1)
		return nodes.Output{Data: inv.Input}, nil
	})
	eng := NewEngine(testRegistry(t,
		nodes.Registration{Type: "boom", Handler: boom},
		nodes.Registration{Type: "never", Handler: never},
	), zap.NewNop(), fastRetry())

	def := &WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "bad", Name: "Bad Node", Type: "boom"},
			{ID: "side", Type: "never"},
			{ID: "next", Type: "never"},
		},
		Edges: []Edge{
			{Source: "t", Target: "bad"},
			{Source: "t", Target: "side"},
			{Source: "bad", Target: "next"},
		},
	}

	res, err := eng.Execute(context.Background(), def, "in")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, int32(1), calls.Load(), "non-retryable errors are not retried")
	assert.Equal(t, int32(0), after.Load(), "queued siblings are abandoned")

	require.Len(t, res.Logs, 2)
	last := res.Logs[1]
	assert.Equal(t, "bad", last.NodeID)
	assert.Equal(t, "Bad Node", last.NodeName)
	assert.Equal(t, "boom", last.NodeType)
	assert.Equal(t, LogError, last.Status)
	assert.Contains(t, last.Message, "boom: bad payload")
	assert.Contains(t, last.Message, string(types.ErrHandlerExecution))
	assert.Equal(t, last.Message, res.Error)
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := nodes.HandlerFunc(func(_ context.Context, _ nodes.Invocation) (nodes.Output, error) {
		if calls.Add(1) < 3 {
			return nodes.Output{}, types.NewTransportError("upstream timeout", context.DeadlineExceeded)
		}
		return nodes.Output{Data: "ok", Message: "done"}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "flaky", Handler: flaky}), zap.NewNop(), fastRetry())

	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "t", Type: "trigger"}, {ID: "f", Type: "flaky"}},
		Edges: []Edge{{Source: "t", Target: "f"}},
	}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Logs, 2)
	for _, l := range res.Logs {
		assert.Equal(t, LogSuccess, l.Status, "only the terminal attempt is logged")
	}
	assert.Equal(t, "ok", res.FinalData)
}

func TestEngine_RetryExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	slow := nodes.HandlerFunc(func(_ context.Context, _ nodes.Invocation) (nodes.Output, error) {
		calls.Add(1)
		return nodes.Output{}, fmt.Errorf("dial: %w", context.DeadlineExceeded)
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "slow", Handler: slow}), zap.NewNop(), fastRetry())

	def := &WorkflowDefinition{Nodes: []Node{{ID: "s", Type: "slow"}}}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Logs, 1)
	assert.Contains(t, res.Logs[0].Message, string(types.ErrRetryableTransport))
}

func TestEngine_NodeTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	hang := nodes.HandlerFunc(func(ctx context.Context, _ nodes.Invocation) (nodes.Output, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nodes.Output{}, ctx.Err()
		}
		return nodes.Output{Data: "second"}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "hang", Handler: hang}), zap.NewNop(),
		fastRetry(), WithNodeTimeout(20*time.Millisecond))

	res, err := eng.Execute(context.Background(), &WorkflowDefinition{Nodes: []Node{{ID: "h", Type: "hang"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_Idempotent(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := linearChain(5)

	r1, err := eng.Execute(context.Background(), def, "seed")
	require.NoError(t, err)
	r2, err := eng.Execute(context.Background(), def, "seed")
	require.NoError(t, err)

	assert.Equal(t, stripTimestamps(r1.Logs), stripTimestamps(r2.Logs))
	assert.Equal(t, r1.FinalData, r2.FinalData)
	assert.NotEqual(t, r1.ExecutionID, r2.ExecutionID)
}

func stripTimestamps(logs []NodeLogEntry) []NodeLogEntry {
	out := make([]NodeLogEntry, len(logs))
	for i, l := range logs {
		l.Timestamp = time.Time{}
		out[i] = l
	}
	return out
}

func TestEngine_UnknownNodeType(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "t", Type: "trigger"}, {ID: "x", Type: "bogus"}},
		Edges: []Edge{{Source: "t", Target: "x"}},
	}

	var res *ExecutionResult
	var err error
	require.NotPanics(t, func() {
		res, err = eng.Execute(context.Background(), def, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Logs, 2)
	assert.Equal(t, LogError, res.Logs[1].Status)
	assert.Contains(t, res.Logs[1].Message, string(types.ErrUnknownNodeType))
	assert.Contains(t, res.Logs[1].Message, "bogus")
}

func TestEngine_CycleRejectedBeforeExecution(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	count := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		calls.Add(1)
		return nodes.Output{Data: inv.Input}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "count", Handler: count}), zap.NewNop())

	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "a", Type: "count"}, {ID: "b", Type: "count"}, {ID: "c", Type: "count"}},
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}, {Source: "c", Target: "a"}},
	}

	res, err := eng.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCyclicGraph))
	assert.Equal(t, int32(0), calls.Load())

	require.NotNil(t, res)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "Engine", res.Logs[0].NodeName)
	assert.Equal(t, "engine", res.Logs[0].NodeType)

	problems := eng.Validate(def)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "cycle detected")
}

func TestEngine_ValidationRejected(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "a", Type: "trigger"}},
		Edges: []Edge{{Source: "a", Target: "ghost"}},
	}
	res, err := eng.Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
	assert.Equal(t, StatusError, res.Status)
}

func TestEngine_Validate(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	assert.Empty(t, eng.Validate(linearChain(3)))

	problems := eng.Validate(&WorkflowDefinition{
		Nodes: []Node{{ID: "a", Type: "trigger"}, {ID: "a", Type: "mystery"}, {ID: "c"}},
	})
	joined := strings.Join(problems, "\n")
	assert.Contains(t, joined, "duplicate node id: a")
	assert.Contains(t, joined, "node c has no type")
	assert.Contains(t, joined, "unknown type: mystery")

	assert.NotEmpty(t, eng.Validate(nil))
}

func TestEngine_NoTriggerStartsAtFirstNode(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "first", Type: "append"}, {ID: "second", Type: "append"}, {ID: "orphan", Type: "append"}},
		Edges: []Edge{{Source: "first", Target: "second"}},
	}
	res, err := eng.Execute(context.Background(), def, "in")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, logIDs(res))
	assert.Equal(t, "in>first>second", res.FinalData)
}

func TestEngine_TriggerSuffixTypesAreEntries(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "WebhookTriggerNode", Handler: passHandler}), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "a", Type: "append"}, {ID: "hook", Type: "WebhookTriggerNode"}},
		Edges: []Edge{{Source: "hook", Target: "a"}},
	}
	res, err := eng.Execute(context.Background(), def, "in")
	require.NoError(t, err)
	assert.Equal(t, []string{"hook", "a"}, logIDs(res))
}

func TestEngine_BreadthFirstOrder(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{
			{ID: "t", Type: "trigger"},
			{ID: "a", Type: "pass"}, {ID: "b", Type: "pass"},
			{ID: "a1", Type: "pass"}, {ID: "b1", Type: "pass"},
		},
		Edges: []Edge{
			{Source: "t", Target: "b"},
			{Source: "t", Target: "a"},
			{Source: "a", Target: "a1"},
			{Source: "b", Target: "b1"},
		},
	}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "b", "a", "b1", "a1"}, logIDs(res))
}

func TestEngine_DiamondRunsJoinPerArrival(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "t", Type: "trigger"}, {ID: "l", Type: "append"}, {ID: "r", Type: "append"}, {ID: "j", Type: "append"}},
		Edges: []Edge{{Source: "t", Target: "l"}, {Source: "t", Target: "r"}, {Source: "l", Target: "j"}, {Source: "r", Target: "j"}},
	}
	res, err := eng.Execute(context.Background(), def, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "l", "r", "j", "j"}, logIDs(res))
	assert.Equal(t, ">r>j", res.FinalData)
}

func TestEngine_MaxSteps(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop(), WithMaxSteps(2))
	res, err := eng.Execute(context.Background(), linearChain(4), "")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Logs, 3)
	assert.Equal(t, "Engine", res.Logs[2].NodeName)
	assert.Contains(t, res.Error, "exceeded 2 steps")
}

func TestEngine_CancelStopsDispatchAfterCurrentNode(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var finished atomic.Bool
	blocking := nodes.HandlerFunc(func(hctx context.Context, inv nodes.Invocation) (nodes.Output, error) {
		cancel()
		// 调用方取消不会中断正在执行的节点
		time.Sleep(10 * time.Millisecond)
		if hctx.Err() != nil {
			return nodes.Output{}, hctx.Err()
		}
		finished.Store(true)
		return nodes.Output{Data: inv.Input}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "block", Handler: blocking}), zap.NewNop())

	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "t", Type: "trigger"}, {ID: "b", Type: "block"}, {ID: "after", Type: "append"}},
		Edges: []Edge{{Source: "t", Target: "b"}, {Source: "b", Target: "after"}},
	}
	res, err := eng.Execute(ctx, def, "")
	require.NoError(t, err)

	assert.True(t, finished.Load())
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, []string{"t", "b", ""}, logIDs(res))
	assert.Equal(t, "execution cancelled", res.Logs[2].Message)
	assert.Equal(t, LogSuccess, res.Logs[1].Status)
}

func TestEngine_PanicBecomesHandlerError(t *testing.T) {
	t.Parallel()

	panicky := nodes.HandlerFunc(func(context.Context, nodes.Invocation) (nodes.Output, error) {
		panic("kaboom")
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "panic", Handler: panicky}), zap.NewNop())
	res, err := eng.Execute(context.Background(), &WorkflowDefinition{Nodes: []Node{{ID: "p", Type: "panic"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Logs[0].Message, "kaboom")
	assert.Contains(t, res.Logs[0].Message, string(types.ErrHandlerExecution))
}

func TestEngine_CredentialsInjectedAndRedacted(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	leaky := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		require.NotNil(t, inv.Credential)
		seen.Store(inv.Credential.Secret)
		return nodes.Output{}, types.NewTransportError(fmt.Sprintf("timeout calling with key %s", inv.Credential.Secret), nil)
	})
	core, logs := observer.New(zapcore.DebugLevel)
	resolver := staticResolver{"cred-1": {ID: "cred-1", Type: "api_key", Secret: "sk-super-secret"}}
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "leaky", Handler: leaky}), zap.New(core),
		WithCredentialResolver(resolver),
		WithRetryPolicy(&retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}))

	def := &WorkflowDefinition{Nodes: []Node{{ID: "l", Type: "leaky", Config: map[string]any{"credential_id": "cred-1"}}}}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, "sk-super-secret", seen.Load())
	assert.Equal(t, StatusError, res.Status)
	assert.NotContains(t, res.Logs[0].Message, "sk-super-secret")
	assert.NotContains(t, res.Error, "sk-super-secret")
	assert.Contains(t, res.Logs[0].Message, "***")

	require.NotEmpty(t, logs.FilterMessage("retries exhausted").All())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "sk-super-secret")
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "sk-super-secret", "%s.%s", entry.Message, k)
		}
	}
}

func TestEngine_SecretStraddlingPreviewLimit(t *testing.T) {
	t.Parallel()

	echo := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		return nodes.Output{Data: "xxxxxxxxxxAuthorization: Bearer " + inv.Credential.Secret}, nil
	})
	resolver := staticResolver{"cred-1": {ID: "cred-1", Type: "api_key", Secret: "sk-SUPERSECRETVALUE"}}
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "echo", Handler: echo}), zap.NewNop(),
		WithCredentialResolver(resolver), WithPreviewLimit(45))

	def := &WorkflowDefinition{Nodes: []Node{{ID: "e", Type: "echo", CredentialRef: "cred-1"}}}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	data, ok := res.Logs[0].Data.(string)
	require.True(t, ok)
	assert.NotContains(t, data, "sk-SUPER")
	assert.Contains(t, data, "***")
	assert.Equal(t, "xxxxxxxxxxAuthorization: Bearer ***", res.FinalData)
}

func TestEngine_SecretMaskedInDownstreamNodes(t *testing.T) {
	t.Parallel()

	fetch := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		return nodes.Output{Data: map[string]any{"token": inv.Credential.Secret, "n": 1.0}}, nil
	})
	resolver := staticResolver{"cred-1": {ID: "cred-1", Type: "api_key", Secret: "sk-downstream"}}
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "fetch", Handler: fetch}), zap.NewNop(),
		WithCredentialResolver(resolver))

	def := &WorkflowDefinition{
		Nodes: []Node{{ID: "f", Type: "fetch", CredentialRef: "cred-1"}, {ID: "p", Type: "pass"}},
		Edges: []Edge{{Source: "f", Target: "p"}},
	}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Logs, 2)

	for _, entry := range res.Logs {
		assert.NotContains(t, fmt.Sprint(entry.Data), "sk-downstream", entry.NodeID)
	}
	assert.Equal(t, map[string]any{"token": "***", "n": 1.0}, res.FinalData)
}

func TestEngine_CredentialWithoutResolver(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := &WorkflowDefinition{Nodes: []Node{{ID: "a", Type: "pass", CredentialRef: "missing"}}}
	res, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Logs[0].Message, string(types.ErrConfiguration))

	eng = NewEngine(testRegistry(t), zap.NewNop(), WithCredentialResolver(staticResolver{}))
	res, err = eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Logs[0].Message, "could not be resolved")
}

func TestEngine_ConfigIsolatedPerInvocation(t *testing.T) {
	t.Parallel()

	mutator := nodes.HandlerFunc(func(_ context.Context, inv nodes.Invocation) (nodes.Output, error) {
		inv.Config["touched"] = true
		return nodes.Output{Data: inv.Input}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "mutate", Handler: mutator}), zap.NewNop())
	def := &WorkflowDefinition{Nodes: []Node{{ID: "m", Type: "mutate", Config: map[string]any{"k": "v"}}}}

	_, err := eng.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, def.Nodes[0].Config)
}

func TestEngine_PreviewTruncated(t *testing.T) {
	t.Parallel()

	big := nodes.HandlerFunc(func(context.Context, nodes.Invocation) (nodes.Output, error) {
		return nodes.Output{Data: strings.Repeat("a", 2000)}, nil
	})
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "big", Handler: big}), zap.NewNop())
	res, err := eng.Execute(context.Background(), &WorkflowDefinition{Nodes: []Node{{ID: "b", Type: "big"}}}, nil)
	require.NoError(t, err)

	preview, ok := res.Logs[0].Data.(string)
	require.True(t, ok)
	assert.LessOrEqual(t, len([]rune(preview)), DefaultPreviewLength+3)
	assert.Len(t, res.FinalData, 2000, "final data is not truncated")
}

func TestEngine_SyncPersistsResult(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	eng := NewEngine(testRegistry(t), zap.NewNop(), WithRecordStore(store))
	res, err := eng.Execute(context.Background(), linearChain(2), "x", WithExecutionID("exec-1"))
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ExecutionID)

	got, err := store.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Len(t, got.Logs, 2)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished []ExecutionStatus
	nodes    []string
	retries  int
}

func (o *recordingObserver) ExecutionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ExecutionFinished(s ExecutionStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, s)
}

func (o *recordingObserver) NodeFinished(nodeType string, s LogStatus, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes = append(o.nodes, fmt.Sprintf("%s:%s:%d", nodeType, s, attempts))
}

func (o *recordingObserver) NodeRetried(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func TestEngine_Observer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := nodes.HandlerFunc(func(context.Context, nodes.Invocation) (nodes.Output, error) {
		if calls.Add(1) == 1 {
			return nodes.Output{}, context.DeadlineExceeded
		}
		return nodes.Output{Data: 1}, nil
	})
	obs := &recordingObserver{}
	eng := NewEngine(testRegistry(t, nodes.Registration{Type: "flaky", Handler: flaky}), zap.NewNop(),
		fastRetry(), WithObserver(obs))

	_, err := eng.Execute(context.Background(), &WorkflowDefinition{Nodes: []Node{{ID: "f", Type: "flaky"}}}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, []ExecutionStatus{StatusSuccess}, obs.finished)
	assert.Equal(t, []string{"flaky:success:2"}, obs.nodes)
	assert.Equal(t, 1, obs.retries)
}

func TestEngine_ConcurrentExecutions(t *testing.T) {
	t.Parallel()

	eng := NewEngine(testRegistry(t), zap.NewNop())
	def := linearChain(6)

	var wg sync.WaitGroup
	results := make([]*ExecutionResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.Execute(context.Background(), def, fmt.Sprintf("run%d", i))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, fmt.Sprintf("run%d>n1>n2>n3>n4>n5", i), res.FinalData)
	}
}
