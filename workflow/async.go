package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/internal/pool"
	"github.com/BaSui01/nodeflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// persistTimeout bounds record store writes issued from background runs.
const persistTimeout = 10 * time.Second

// JobStatus is the polling view of an async execution.
type JobStatus struct {
	JobID  string           `json:"job_id"`
	Status ExecutionStatus  `json:"status"`
	Result *ExecutionResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ExecuteAsync validates def, writes a pending record and runs the workflow
// in the background. The returned job id is the execution id.
func (e *Engine) ExecuteAsync(ctx context.Context, def *WorkflowDefinition, input any) (string, error) {
	if e.store == nil {
		return "", types.NewConfigurationError("async execution requires a record store")
	}
	if err := Preflight(def); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	record := &ExecutionResult{
		ExecutionID: uuid.NewString(),
		WorkflowID:  def.ID,
		Status:      StatusPending,
		Logs:        []NodeLogEntry{},
		StartedAt:   now,
		Timestamp:   now,
	}
	id, err := e.store.Create(ctx, record)
	if err != nil {
		return "", fmt.Errorf("create execution record: %w", err)
	}

	// 后台运行使用定义的副本，调用方之后的修改不影响本次执行
	snapshot := def.Clone()
	input = deepCopy(input)

	err = e.jobPool().Submit(func(poolCtx context.Context) {
		e.runJob(poolCtx, id, snapshot, input)
	})
	if err != nil {
		e.logger.Error("failed to schedule execution", zap.String("execution_id", id), zap.Error(err))
		finished := time.Now().UTC()
		_ = e.store.Update(context.WithoutCancel(ctx), id, RecordPatch{
			Status:     StatusError,
			Error:      fmt.Sprintf("failed to schedule execution: %v", err),
			FinishedAt: &finished,
		})
		if errors.Is(err, pool.ErrPoolFull) {
			return id, types.NewError(types.ErrServiceUnavailable, "execution queue is full").WithCause(err)
		}
		return id, fmt.Errorf("schedule execution: %w", err)
	}
	return id, nil
}

func (e *Engine) runJob(ctx context.Context, id string, def *WorkflowDefinition, input any) {
	e.persist(ctx, id, RecordPatch{Status: StatusRunning})

	var onStep func(*ExecutionResult)
	if e.persistSteps {
		onStep = func(res *ExecutionResult) {
			e.persist(ctx, id, RecordPatch{Logs: res.Logs})
		}
	}

	res, _ := e.run(ctx, def, input, id, onStep)
	e.persist(ctx, id, RecordPatch{
		Status:     res.Status,
		Logs:       res.Logs,
		FinalData:  res.FinalData,
		Error:      res.Error,
		FinishedAt: res.FinishedAt,
	})
}

func (e *Engine) persist(ctx context.Context, id string, patch RecordPatch) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.Update(ctx, id, patch); err != nil {
		e.logger.Error("failed to update execution record",
			zap.String("execution_id", id),
			zap.String("status", string(patch.Status)),
			zap.Error(err),
		)
	}
}

// GetStatus returns the current state of an async execution. Unknown ids
// yield an error wrapping ErrRecordNotFound.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if e.store == nil {
		return nil, types.NewConfigurationError("job status requires a record store")
	}
	rec, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	st := &JobStatus{JobID: jobID, Status: rec.Status, Error: rec.Error}
	if rec.Status.IsTerminal() {
		st.Result = rec
	}
	return st, nil
}

func (e *Engine) jobPool() *pool.Pool {
	e.poolOnce.Do(func() {
		if e.jobs == nil {
			e.jobs = pool.New(e.poolCfg, e.logger)
			e.ownsPool = true
		}
	})
	return e.jobs
}

// Close waits for background executions to finish, or for ctx to expire.
// Pools passed via WithJobPool are left to their owner.
func (e *Engine) Close(ctx context.Context) error {
	e.poolOnce.Do(func() {})
	if e.jobs == nil || !e.ownsPool {
		return nil
	}
	return e.jobs.Close(ctx)
}
