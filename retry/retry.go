// Package retry 提供节点调用的有界重试策略。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxAttempts  int                                               // 总尝试次数（含首次），最小为 1
	InitialDelay time.Duration                                     // 首次重试前的等待时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟倍增因子（1.0 表示固定间隔）
	Jitter       bool                                              // 是否添加 ±25% 随机抖动
	Classifier   func(error) bool                                  // 可重试分类（为空则使用 IsTransient）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
	Redact       func(string) string                               // 错误文本写入日志前的脱敏（为空则原样）
}

// DefaultPolicy 返回默认的重试策略：3 次尝试，固定 1 秒间隔，仅重试超时类错误。
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.0,
	}
}

// Retryer 按策略重复执行函数
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建重试器
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	// 参数校验
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}
	if p.Classifier == nil {
		p.Classifier = IsTransient
	}

	return &Retryer{policy: p, logger: logger.With(zap.String("component", "retry"))}
}

// WithRedact 返回共享同一策略、但按 fn 脱敏日志中错误文本的重试器
func (r *Retryer) WithRedact(fn func(string) string) *Retryer {
	cp := *r
	cp.policy.Redact = fn
	return &cp
}

// errorField 日志中的错误字段永远经过脱敏
func (r *Retryer) errorField(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	msg := err.Error()
	if r.policy.Redact != nil {
		msg = r.policy.Redact(msg)
	}
	return zap.String("error", msg)
}

// Policy 返回生效中的策略副本
func (r *Retryer) Policy() Policy {
	return r.policy
}

// Do 执行 fn，遇到可重试错误时按策略重试。
// 返回最后一次的结果、实际尝试次数，以及最后一次错误（原样返回，不再包装）。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) (any, error)) (any, int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := r.Delay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				r.errorField(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			if err := sleep(ctx, delay); err != nil {
				return nil, attempt - 1, fmt.Errorf("retry cancelled: %w", errors.Join(err, lastErr))
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, attempt, nil
		}
		lastErr = err

		if !r.policy.Classifier(err) {
			return nil, attempt, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		r.errorField(lastErr),
	)
	return nil, r.policy.MaxAttempts, lastErr
}

// Delay 计算第 n 次重试（从 1 开始）前的等待时间
func (r *Retryer) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(n-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient 默认分类器：只有超时类错误可重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryableError(err) || types.IsRetryable(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RetryableError 可重试的错误类型
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
