package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 动作键的封闭集合
const (
	ActionSubmit = "submit"
	ActionUpdate = "update"
	ActionReview = "review"
	ActionDraft  = "draft"
)

// Config 单个动作的限流配置
type Config struct {
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// 默认限流配置
var defaultConfigs = map[string]Config{
	ActionSubmit: {MaxRequests: 5, Window: 10 * time.Minute},
	ActionUpdate: {MaxRequests: 10, Window: 10 * time.Minute},
	ActionReview: {MaxRequests: 30, Window: 10 * time.Minute},
	ActionDraft:  {MaxRequests: 60, Window: time.Minute},
}

// DefaultConfig 返回动作键的默认限流配置
func DefaultConfig(action string) Config {
	if cfg, exists := defaultConfigs[action]; exists {
		return cfg
	}
	return Config{MaxRequests: 10, Window: time.Minute}
}

// Result 限流检查结果
type Result struct {
	Limited           bool          `json:"limited"`
	RemainingRequests int           `json:"remaining_requests"`
	RetryAfter        time.Duration `json:"retry_after"`
}

// entry 单个动作键的固定窗口计数
type entry struct {
	count     int
	resetTime time.Time
}

// Store 固定窗口限流器
//
// 按动作键维护进程内计数，无持久化。这是软性的、面向
// 用户体验的限流，不构成安全控制，服务端/合约侧的强制
// 限制在本服务之外。
//
// 显式注入实例而不是包级全局状态，测试各自构造新Store
// 即可互不污染。
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *logrus.Logger
}

// NewStore 创建限流器
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger,
	}
}

// NewStoreWithClock 创建使用指定时钟的限流器，用于测试
func NewStoreWithClock(logger *logrus.Logger, now func() time.Time) *Store {
	store := NewStore(logger)
	store.now = now
	return store
}

// Check 检查动作键是否被限流
//
// 纯检查，绝不产生副作用：不创建记录、不递增计数，
// 调用方可以先检查后执行而不会误消耗配额。
func (s *Store) Check(action string, cfg Config) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, exists := s.entries[action]

	// 无记录或窗口已过期时按全新窗口对待，但不落存储
	if !exists || !now.Before(e.resetTime) {
		return Result{
			Limited:           false,
			RemainingRequests: cfg.MaxRequests,
			RetryAfter:        cfg.Window,
		}
	}

	remaining := cfg.MaxRequests - e.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limited:           e.count >= cfg.MaxRequests,
		RemainingRequests: remaining,
		RetryAfter:        e.resetTime.Sub(now),
	}
}

// Increment 消耗动作键的一个配额
//
// 窗口已过期时重置为1并开启新窗口，否则递增计数。
func (s *Store) Increment(action string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, exists := s.entries[action]

	if !exists || !now.Before(e.resetTime) {
		s.entries[action] = &entry{
			count:     1,
			resetTime: now.Add(cfg.Window),
		}
		return
	}

	e.count++
	if e.count == cfg.MaxRequests {
		s.logger.Debugf("动作 '%s' 已用尽当前窗口配额 (%d/%d)", action, e.count, cfg.MaxRequests)
	}
}

// Reset 清除动作键的计数，主要用于测试和管理接口
func (s *Store) Reset(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, action)
}
