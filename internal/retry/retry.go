package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrExhausted 策略预算用尽
var ErrExhausted = errors.New("重试预算已用尽")

// Policy 显式的重试策略对象
//
// 把最大尝试次数和间隔从内联循环里拿出来，策略本身
// 可以独立测试和替换。BackoffFactor为1.0时是固定间隔。
type Policy struct {
	MaxAttempts   int           `json:"max_attempts" mapstructure:"max_attempts"`
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	MaxInterval   time.Duration `json:"max_interval" mapstructure:"max_interval"`
}

// ConfirmationPolicy 默认的确认等待策略
//
// 固定间隔的有界轮询：预算用尽后放弃并按确认失败分类，
// 属于尽力而为的恢复，不保证最终一致。
var ConfirmationPolicy = &Policy{
	MaxAttempts:   20,
	Interval:      3 * time.Second,
	BackoffFactor: 1.0,
	MaxInterval:   3 * time.Second,
}

// ReadPolicy 默认的读操作重试策略
var ReadPolicy = &Policy{
	MaxAttempts:   3,
	Interval:      500 * time.Millisecond,
	BackoffFactor: 2.0,
	MaxInterval:   5 * time.Second,
}

// 临时性失败的指示词，命中则值得重试
var transientIndicators = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"not found", // 回执尚未生成
}

// IsTransient 判断错误是否为临时性失败
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Do 按策略执行操作
//
// 非临时性错误立即返回不再重试；预算用尽后返回包裹了
// 最后一次错误的ErrExhausted。
func (p *Policy) Do(ctx context.Context, operation string, logger *logrus.Logger, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}

		lastErr = err

		if !IsTransient(err) {
			logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt)
		logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Warnf("操作 '%s' 在 %d 次尝试后放弃: %v", operation, p.MaxAttempts, lastErr)
	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// delay 计算第attempt次失败后的等待时间
func (p *Policy) delay(attempt int) time.Duration {
	delay := p.Interval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if p.MaxInterval > 0 && delay > p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}
