package txstatus

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"portal/internal/txerror"
)

// Phase 交易生命周期阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhasePending
	PhaseConfirming
	PhaseSuccess
	PhaseFailed
)

// 阶段字符串映射
var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhasePreparing:  "preparing",
	PhasePending:    "pending",
	PhaseConfirming: "confirming",
	PhaseSuccess:    "success",
	PhaseFailed:     "failed",
}

// String 返回阶段的字符串表示
func (p Phase) String() string {
	if name, exists := phaseNames[p]; exists {
		return name
	}
	return fmt.Sprintf("unknown(%d)", p)
}

// Status 单次写操作的状态快照
//
// 带载荷的标签联合：Hash只在pending及之后的阶段有值，
// Receipt只在success阶段有值，Err只在failed阶段有值。
type Status struct {
	Phase   Phase          `json:"phase"`
	Hash    string         `json:"hash,omitempty"`
	Receipt *types.Receipt `json:"-"`
	Err     error          `json:"-"`
}

// Tracker 交易状态跟踪器
//
// 跟踪单个在途写操作从提交到确认或失败的状态机：
//
//	idle → preparing → pending → confirming → success
//
// failed可从preparing、pending、confirming到达；reset从任意
// 状态回到idle。一个跟踪器同一时刻只代表一个逻辑写操作，
// 跨操作的互斥由调用方负责。
type Tracker struct {
	mu         sync.RWMutex
	status     Status
	classifier *txerror.Classifier
}

// NewTracker 创建交易状态跟踪器
func NewTracker(classifier *txerror.Classifier) *Tracker {
	return &Tracker{
		status:     Status{Phase: PhaseIdle},
		classifier: classifier,
	}
}

// Begin idle→preparing
//
// 非idle状态下调用属于调用方的契约违规，跟踪器不会
// 自动重置，返回错误由调用方处理。
func (t *Tracker) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Phase != PhaseIdle {
		return fmt.Errorf("上一次操作尚未结束，当前阶段: %s", t.status.Phase)
	}
	t.status = Status{Phase: PhasePreparing}
	return nil
}

// MarkSubmitted preparing→pending，记录交易哈希
func (t *Tracker) MarkSubmitted(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Phase != PhasePreparing {
		return fmt.Errorf("无法从 %s 阶段进入pending", t.status.Phase)
	}
	t.status = Status{Phase: PhasePending, Hash: hash}
	return nil
}

// MarkConfirming pending→confirming
//
// 可选的中间步骤：网络已看到交易但尚未达到最终确认。
func (t *Tracker) MarkConfirming(hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Phase != PhasePending {
		return fmt.Errorf("无法从 %s 阶段进入confirming", t.status.Phase)
	}
	t.status = Status{Phase: PhaseConfirming, Hash: hash}
	return nil
}

// MarkSuccess pending/confirming→success，记录回执
func (t *Tracker) MarkSuccess(hash string, receipt *types.Receipt) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Phase != PhasePending && t.status.Phase != PhaseConfirming {
		return fmt.Errorf("无法从 %s 阶段进入success", t.status.Phase)
	}
	t.status = Status{Phase: PhaseSuccess, Hash: hash, Receipt: receipt}
	return nil
}

// MarkFailed 任意非终止阶段→failed
//
// hash为失败前观察到的交易哈希，可为空。
func (t *Tracker) MarkFailed(err error, hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Phase == PhaseSuccess || t.status.Phase == PhaseFailed {
		return fmt.Errorf("操作已结束，无法从 %s 阶段进入failed", t.status.Phase)
	}
	if hash == "" {
		hash = t.status.Hash
	}
	t.status = Status{Phase: PhaseFailed, Hash: hash, Err: err}
	return nil
}

// Reset 任意状态→idle，清空哈希、错误和回执
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Status{Phase: PhaseIdle}
}

// Current 返回当前状态的副本
func (t *Tracker) Current() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsLoading 是否处于进行中阶段
func (t *Tracker) IsLoading() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.status.Phase {
	case PhasePreparing, PhasePending, PhaseConfirming:
		return true
	default:
		return false
	}
}

// IsComplete 是否处于终止阶段
func (t *Tracker) IsComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status.Phase == PhaseSuccess || t.status.Phase == PhaseFailed
}

// Hash 返回当前阶段携带的交易哈希，没有则为空串
func (t *Tracker) Hash() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Hash
}

// Message 返回当前阶段的用户可见提示
//
// failed阶段委托错误分类器生成消息。
func (t *Tracker) Message() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.status.Phase {
	case PhaseIdle:
		return ""
	case PhasePreparing:
		return "正在准备交易…"
	case PhasePending:
		return "交易已提交，等待网络确认…"
	case PhaseConfirming:
		return "交易确认中…"
	case PhaseSuccess:
		return "交易已确认"
	case PhaseFailed:
		return t.classifier.Message(t.status.Err)
	default:
		return ""
	}
}
