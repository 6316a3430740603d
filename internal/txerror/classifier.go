package txerror

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind 交易错误类别
type Kind int

const (
	KindUnknown Kind = iota
	KindCancelled
	KindInsufficientFunds
	KindEstimationFailed
	KindReverted
	KindNetwork
	KindNonceConflict
	KindWrongNetwork
	KindUnderpriced
	KindPermissionDenied
	KindNotFound
	KindAlreadyApproved
	KindAlreadyRejected
)

// 错误类别字符串映射
var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindCancelled:         "Cancelled",
	KindInsufficientFunds: "InsufficientFunds",
	KindEstimationFailed:  "EstimationFailed",
	KindReverted:          "Reverted",
	KindNetwork:           "Network",
	KindNonceConflict:     "NonceConflict",
	KindWrongNetwork:      "WrongNetwork",
	KindUnderpriced:       "Underpriced",
	KindPermissionDenied:  "PermissionDenied",
	KindNotFound:          "NotFound",
	KindAlreadyApproved:   "AlreadyApproved",
	KindAlreadyRejected:   "AlreadyRejected",
}

// String 返回错误类别的字符串表示
func (k Kind) String() string {
	if name, exists := kindNames[k]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", k)
}

// LedgerError 账本客户端边界上的类型化错误
//
// 网关在能够判定失败原因的位置构造LedgerError，分类器
// 优先使用类型信息，只有无法定型的第三方错误才回退到
// 字符串匹配。
type LedgerError struct {
	Kind   Kind   `json:"kind"`
	Op     string `json:"op"`
	Reason string `json:"reason,omitempty"`
	Cause  error  `json:"-"`
}

// Error 实现error接口
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

// Unwrap 支持errors.Unwrap
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// NewLedgerError 创建类型化账本错误
func NewLedgerError(kind Kind, op string, cause error) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Cause: cause}
}

// Classified 分类结果
type Classified struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Classifier 交易错误分类器
//
// 将账本客户端抛出的任意失败映射到固定的用户可见错误
// 类别。纯字符串匹配，无I/O、无状态，同样的输入永远产生
// 同样的分类。
type Classifier struct {
	chainID uint64
}

// NewClassifier 创建错误分类器
func NewClassifier(chainID uint64) *Classifier {
	return &Classifier{chainID: chainID}
}

// 按优先级排列的指示词列表，先命中先生效
var indicatorRules = []struct {
	kind       Kind
	indicators []string
}{
	{KindCancelled, []string{
		"user rejected",
		"user denied",
		"denied transaction signature",
		"rejected",
	}},
	{KindInsufficientFunds, []string{
		"insufficient funds",
		"insufficient balance",
		"exceeds balance",
	}},
	{KindEstimationFailed, []string{
		"cannot estimate gas",
		"gas required exceeds allowance",
		"estimate gas failed",
		"always failing transaction",
		"unpredictable_gas_limit",
	}},
	{KindReverted, []string{
		"execution reverted",
		"revert",
		"call_exception",
	}},
	{KindNetwork, []string{
		"connection refused",
		"connection reset",
		"timeout",
		"timed out",
		"network is unreachable",
		"no such host",
		"broken pipe",
		"socket hang up",
		"failed to fetch",
		"disconnected",
	}},
	{KindNonceConflict, []string{
		"nonce too low",
		"nonce has already been used",
		"invalid nonce",
		"already known",
	}},
	{KindWrongNetwork, []string{
		"wrong network",
		"wrong chain",
		"chain id mismatch",
		"unsupported chain",
	}},
	{KindUnderpriced, []string{
		"replacement transaction underpriced",
		"underpriced",
		"fee too low",
		"max fee per gas less than block base fee",
	}},
	{KindPermissionDenied, []string{
		"not admin",
		"only admin",
		"not owner",
		"only owner",
		"not authorized",
		"unauthorized",
		"caller is not",
	}},
	{KindNotFound, []string{
		"app not found",
		"app does not exist",
	}},
	{KindAlreadyApproved, []string{
		"already approved",
	}},
	// "already rejected"包含"rejected"，字符串路径上永远先命中
	// 取消类别，该类别只能通过类型化错误到达。
	{KindAlreadyRejected, []string{
		"already rejected",
	}},
}

// revert原因提取，匹配第一个reason:或error:片段
var reasonPattern = regexp.MustCompile(`(?i)(?:reason|error):\s*"?([^",}\n]+)"?`)

// 原始消息短于该长度时兜底路径原样返回
const verbatimLimit = 200

// Classify 对失败进行分类
//
// err为nil时返回未知错误分类，永不panic。
func (c *Classifier) Classify(err error) *Classified {
	if err == nil {
		return &Classified{Kind: KindUnknown, Message: c.message(KindUnknown, "")}
	}

	// 类型化错误优先，第三方客户端错误走字符串匹配
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr.Kind != KindUnknown {
		reason := ledgerErr.Reason
		if reason == "" {
			reason = extractReason(err.Error())
		}
		return &Classified{
			Kind:    ledgerErr.Kind,
			Message: c.message(ledgerErr.Kind, reason),
			Reason:  reason,
		}
	}

	raw := strings.TrimSpace(err.Error())
	if raw == "" {
		return &Classified{Kind: KindUnknown, Message: c.message(KindUnknown, "")}
	}

	lower := strings.ToLower(raw)
	for _, rule := range indicatorRules {
		for _, indicator := range rule.indicators {
			if strings.Contains(lower, indicator) {
				reason := ""
				if rule.kind == KindReverted {
					reason = extractReason(raw)
				}
				return &Classified{
					Kind:    rule.kind,
					Message: c.message(rule.kind, reason),
					Reason:  reason,
				}
			}
		}
	}

	// 兜底：短消息原样透出，长消息收敛为通用提示
	if len(raw) <= verbatimLimit {
		return &Classified{Kind: KindUnknown, Message: raw}
	}
	return &Classified{Kind: KindUnknown, Message: c.message(KindUnknown, "")}
}

// Message 返回用户可见的错误消息
func (c *Classifier) Message(err error) string {
	return c.Classify(err).Message
}

// message 按类别生成用户可见消息
func (c *Classifier) message(kind Kind, reason string) string {
	switch kind {
	case KindCancelled:
		return "您已取消签名，操作未提交"
	case KindInsufficientFunds:
		return "余额不足，无法支付本次操作的费用"
	case KindEstimationFailed:
		return "费用估算失败，请稍后重试"
	case KindReverted:
		if reason != "" {
			return fmt.Sprintf("合约拒绝了该操作: %s", reason)
		}
		return "合约拒绝了该操作，请检查提交内容后重试"
	case KindNetwork:
		return "网络连接异常，请检查网络后重试"
	case KindNonceConflict:
		return "交易顺序冲突，请刷新页面后重试"
	case KindWrongNetwork:
		return fmt.Sprintf("当前网络不正确，请切换到链 %d 后重试", c.chainID)
	case KindUnderpriced:
		return "交易手续费过低，请提高费用后重试"
	case KindPermissionDenied:
		return "没有执行该操作的权限"
	case KindNotFound:
		return "应用不存在或已被移除"
	case KindAlreadyApproved:
		return "该应用已通过审核，无需重复操作"
	case KindAlreadyRejected:
		return "该应用已被拒绝，无法重复处理"
	default:
		return "发生未知错误，请重试或联系支持人员"
	}
}

// extractReason 提取结构化的revert原因
func extractReason(raw string) string {
	match := reasonPattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
