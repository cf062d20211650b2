package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source lists scheduled workflow definitions and stores last_run write-backs.
type Source interface {
	List(ctx context.Context) ([]*workflow.WorkflowDefinition, error)
	Save(ctx context.Context, def *workflow.WorkflowDefinition) error
}

// Executor runs one workflow. *workflow.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, def *workflow.WorkflowDefinition, input any, opts ...workflow.RunOption) (*workflow.ExecutionResult, error)
}

// Config controls the tick loop.
type Config struct {
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
}

// DefaultConfig checks every 10 seconds with up to 4 concurrent runs.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, Concurrency: 4}
}

// Scheduler runs due workflows on every tick.
type Scheduler struct {
	source   Source
	executor Executor
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	runs atomic.Int64
}

// New creates a scheduler.
func New(source Source, executor Executor, cfg Config, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		source:   source,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "scheduler")),
		now:      time.Now,
	}
}

// Runs returns the number of scheduled executions started so far.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Run ticks until ctx is done. It always returns nil after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", zap.Int64("runs", s.runs.Load()))
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Warn("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick executes every due workflow and waits for them. It returns the number
// of workflows executed; only a failure to list workflows is an error.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	defs, err := s.source.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled workflows: %w", err)
	}

	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var executed atomic.Int32
	for _, def := range defs {
		idx, ok := Due(def, now)
		if !ok {
			continue
		}
		def := def
		g.Go(func() error {
			s.fire(gctx, def, idx, now)
			executed.Add(1)
			return nil // 单个工作流失败不影响其余工作流
		})
	}
	_ = g.Wait()
	return int(executed.Load()), nil
}

func (s *Scheduler) fire(ctx context.Context, def *workflow.WorkflowDefinition, idx int, now time.Time) {
	s.runs.Add(1)
	logger := s.logger.With(zap.String("workflow_id", def.ID), zap.String("trigger", def.Nodes[idx].ID))
	logger.Info("running scheduled workflow")

	input := map[string]any{"scheduled": true, "timestamp": now.UTC().Format(time.RFC3339)}
	res, err := s.executor.Execute(ctx, def, input)
	switch {
	case err != nil:
		logger.Error("scheduled execution failed", zap.Error(err))
	case res.Status != workflow.StatusSuccess:
		logger.Warn("scheduled execution finished with error", zap.String("error", res.Error))
	default:
		logger.Debug("scheduled execution succeeded", zap.String("execution_id", res.ExecutionID))
	}

	// 写回发生在副本上，执行中的快照保持不变
	updated := def.Clone()
	if updated.Nodes[idx].Config == nil {
		updated.Nodes[idx].Config = make(map[string]any)
	}
	updated.Nodes[idx].Config["last_run"] = now.Unix()
	if err := s.source.Save(context.WithoutCancel(ctx), updated); err != nil {
		logger.Error("failed to save last_run", zap.Error(err))
	}
}

// Due reports whether def has an interval trigger whose period has elapsed
// at now, returning that trigger's node index.
func Due(def *workflow.WorkflowDefinition, now time.Time) (int, bool) {
	if def == nil {
		return -1, false
	}
	for i, n := range def.Nodes {
		if !isTrigger(n.Type) {
			continue
		}
		interval, ok := seconds(n.Config["schedule"])
		if !ok || interval <= 0 {
			continue
		}
		last, _ := seconds(n.Config["last_run"])
		if float64(now.Unix())-last >= interval {
			return i, true
		}
	}
	return -1, false
}

func isTrigger(nodeType string) bool {
	return strings.EqualFold(nodeType, "trigger") || strings.HasSuffix(nodeType, "TriggerNode")
}

// seconds 接受 JSON 数字、YAML 整数或数字字符串。
func seconds(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// MemorySource keeps definitions in memory, keyed by workflow id.
type MemorySource struct {
	mu   sync.RWMutex
	defs map[string]*workflow.WorkflowDefinition
}

// NewMemorySource creates a source holding clones of defs.
func NewMemorySource(defs ...*workflow.WorkflowDefinition) *MemorySource {
	m := &MemorySource{defs: make(map[string]*workflow.WorkflowDefinition, len(defs))}
	for _, d := range defs {
		m.defs[d.ID] = d.Clone()
	}
	return m
}

// LoadDir reads every .json/.yaml/.yml workflow in dir. Definitions without
// an id are keyed by file name.
func LoadDir(dir string) (*MemorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}
	m := NewMemorySource()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := workflow.LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if def.ID == "" {
			def.ID = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		m.defs[def.ID] = def
	}
	return m, nil
}

// List returns clones sorted by id.
func (m *MemorySource) List(_ context.Context) ([]*workflow.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.WorkflowDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a clone of the named definition.
func (m *MemorySource) Get(id string) (*workflow.WorkflowDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Save replaces the stored definition.
func (m *MemorySource) Save(_ context.Context, def *workflow.WorkflowDefinition) error {
	if def == nil {
		return errors.New("nil workflow definition")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.ID] = def.Clone()
	return nil
}
