package txerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Cancellation(t *testing.T) {
	classifier := NewClassifier(8453)

	tests := []struct {
		name string
		err  error
	}{
		{
			name: "user rejected",
			err:  errors.New("MetaMask Tx Signature: User rejected the request"),
		},
		{
			name: "user denied",
			err:  errors.New("Error: User denied transaction signature"),
		},
		{
			name: "bare rejected",
			err:  errors.New("rejected"),
		},
		{
			// 优先级保持：即使同时包含其他指示词，取消仍然优先
			name: "rejected with revert substring",
			err:  errors.New("user rejected: execution reverted: insufficient funds"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifier.Classify(tt.err)
			assert.Equal(t, KindCancelled, result.Kind)
			assert.Equal(t, "您已取消签名，操作未提交", result.Message)
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	classifier := NewClassifier(8453)

	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "insufficient funds",
			err:      errors.New("insufficient funds for gas * price + value"),
			expected: KindInsufficientFunds,
		},
		{
			name:     "estimation failure",
			err:      errors.New("cannot estimate gas; transaction may fail"),
			expected: KindEstimationFailed,
		},
		{
			name:     "execution reverted",
			err:      errors.New("execution reverted: AppRegistry: invalid category"),
			expected: KindReverted,
		},
		{
			name:     "connectivity",
			err:      errors.New("dial tcp: connection refused"),
			expected: KindNetwork,
		},
		{
			name:     "timeout",
			err:      errors.New("context deadline exceeded: i/o timeout"),
			expected: KindNetwork,
		},
		{
			name:     "nonce conflict",
			err:      errors.New("nonce too low"),
			expected: KindNonceConflict,
		},
		{
			name:     "wrong network",
			err:      errors.New("wrong network: chain mismatch detected"),
			expected: KindWrongNetwork,
		},
		{
			name:     "underpriced",
			err:      errors.New("replacement transaction underpriced"),
			expected: KindUnderpriced,
		},
		{
			name:     "not admin",
			err:      errors.New("execution failed: caller is not admin"),
			expected: KindPermissionDenied,
		},
		{
			name:     "app not found",
			err:      errors.New("query failed: app not found"),
			expected: KindNotFound,
		},
		{
			name:     "already approved",
			err:      errors.New("state conflict: already approved"),
			expected: KindAlreadyApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifier.Classify(tt.err)
			assert.Equal(t, tt.expected, result.Kind)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	classifier := NewClassifier(1)
	err := errors.New("execution reverted: reason: paused")

	first := classifier.Classify(err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, classifier.Classify(err))
	}
}

func TestClassify_RevertReasonExtraction(t *testing.T) {
	classifier := NewClassifier(8453)

	// reason: 片段被提取并原样包含在消息中
	result := classifier.Classify(errors.New(`execution reverted: {"reason": "listing window closed"}`))
	assert.Equal(t, KindReverted, result.Kind)
	assert.Equal(t, "listing window closed", result.Reason)
	assert.Contains(t, result.Message, "listing window closed")

	// error: 片段同样适用
	result = classifier.Classify(errors.New(`execution reverted, error: category disabled`))
	assert.Equal(t, "category disabled", result.Reason)

	// 没有结构化原因时使用通用拒绝消息
	result = classifier.Classify(errors.New("execution reverted"))
	assert.Empty(t, result.Reason)
	assert.Equal(t, "合约拒绝了该操作，请检查提交内容后重试", result.Message)
}

func TestClassify_WrongNetworkCarriesChainID(t *testing.T) {
	classifier := NewClassifier(42161)

	result := classifier.Classify(errors.New("wrong chain selected in wallet"))
	assert.Equal(t, KindWrongNetwork, result.Kind)
	assert.Contains(t, result.Message, "42161")
}

func TestClassify_NilAndEmpty(t *testing.T) {
	classifier := NewClassifier(1)

	assert.NotPanics(t, func() {
		result := classifier.Classify(nil)
		assert.Equal(t, KindUnknown, result.Kind)
		assert.Equal(t, "发生未知错误，请重试或联系支持人员", result.Message)
	})

	result := classifier.Classify(errors.New("   "))
	assert.Equal(t, KindUnknown, result.Kind)
	assert.NotEmpty(t, result.Message)
}

func TestClassify_Fallback(t *testing.T) {
	classifier := NewClassifier(1)

	// 短消息原样透出
	short := "something odd happened in the relayer"
	result := classifier.Classify(errors.New(short))
	assert.Equal(t, KindUnknown, result.Kind)
	assert.Equal(t, short, result.Message)

	// 超过200字符的消息收敛为通用提示
	long := strings.Repeat("x", 201)
	result = classifier.Classify(errors.New(long))
	assert.Equal(t, "发生未知错误，请重试或联系支持人员", result.Message)
}

func TestClassify_TypedLedgerError(t *testing.T) {
	classifier := NewClassifier(8453)

	// 类型化错误不依赖消息文本
	err := NewLedgerError(KindAlreadyRejected, "approveApp", errors.New("status=2"))
	result := classifier.Classify(err)
	assert.Equal(t, KindAlreadyRejected, result.Kind)
	assert.Equal(t, "该应用已被拒绝，无法重复处理", result.Message)

	// 包装后仍可识别
	wrapped := fmt.Errorf("网关调用失败: %w", NewLedgerError(KindInsufficientFunds, "send", nil))
	result = classifier.Classify(wrapped)
	assert.Equal(t, KindInsufficientFunds, result.Kind)
}

func TestLedgerError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewLedgerError(KindNetwork, "waitForConfirmation", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Network")
	assert.Contains(t, err.Error(), "waitForConfirmation")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Cancelled", KindCancelled.String())
	assert.Equal(t, "WrongNetwork", KindWrongNetwork.String())
	assert.Contains(t, Kind(99).String(), "Unknown")
}

func BenchmarkClassify(b *testing.B) {
	classifier := NewClassifier(8453)
	err := errors.New("execution reverted: reason: listing window closed")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		classifier.Classify(err)
	}
}
