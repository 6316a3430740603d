package txstatus

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/txerror"
)

const testHash = "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

func newTestTracker() *Tracker {
	return NewTracker(txerror.NewClassifier(8453))
}

func TestTracker_HappyPath(t *testing.T) {
	tracker := newTestTracker()

	assert.Equal(t, PhaseIdle, tracker.Current().Phase)
	assert.False(t, tracker.IsLoading())
	assert.False(t, tracker.IsComplete())
	assert.Empty(t, tracker.Message())

	require.NoError(t, tracker.Begin())
	assert.Equal(t, PhasePreparing, tracker.Current().Phase)
	assert.True(t, tracker.IsLoading())

	require.NoError(t, tracker.MarkSubmitted(testHash))
	assert.Equal(t, PhasePending, tracker.Current().Phase)
	assert.Equal(t, testHash, tracker.Hash())
	assert.True(t, tracker.IsLoading())

	require.NoError(t, tracker.MarkConfirming(testHash))
	assert.Equal(t, PhaseConfirming, tracker.Current().Phase)
	assert.True(t, tracker.IsLoading())

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	require.NoError(t, tracker.MarkSuccess(testHash, receipt))

	status := tracker.Current()
	assert.Equal(t, PhaseSuccess, status.Phase)
	assert.Equal(t, testHash, status.Hash)
	assert.Same(t, receipt, status.Receipt)
	assert.False(t, tracker.IsLoading())
	assert.True(t, tracker.IsComplete())
	assert.Equal(t, "交易已确认", tracker.Message())
}

func TestTracker_FailureCarriesHashAndMessage(t *testing.T) {
	tracker := newTestTracker()

	require.NoError(t, tracker.Begin())
	require.NoError(t, tracker.MarkSubmitted(testHash))

	cause := errors.New("execution reverted: reason: listing window closed")
	require.NoError(t, tracker.MarkFailed(cause, ""))

	status := tracker.Current()
	assert.Equal(t, PhaseFailed, status.Phase)
	// 失败前观察到的哈希被保留
	assert.Equal(t, testHash, status.Hash)
	assert.Equal(t, cause, status.Err)
	assert.True(t, tracker.IsComplete())
	assert.Contains(t, tracker.Message(), "listing window closed")
}

func TestTracker_FailureBeforeSubmission(t *testing.T) {
	tracker := newTestTracker()

	require.NoError(t, tracker.Begin())
	require.NoError(t, tracker.MarkFailed(errors.New("insufficient funds"), ""))

	status := tracker.Current()
	assert.Equal(t, PhaseFailed, status.Phase)
	assert.Empty(t, status.Hash)
	assert.Equal(t, "余额不足，无法支付本次操作的费用", tracker.Message())
}

func TestTracker_SuccessSkipsConfirming(t *testing.T) {
	tracker := newTestTracker()

	require.NoError(t, tracker.Begin())
	require.NoError(t, tracker.MarkSubmitted(testHash))
	// confirming是可选的中间步骤
	require.NoError(t, tracker.MarkSuccess(testHash, &types.Receipt{}))
	assert.Equal(t, PhaseSuccess, tracker.Current().Phase)
}

func TestTracker_ResetFromAnyState(t *testing.T) {
	tracker := newTestTracker()

	require.NoError(t, tracker.Begin())
	require.NoError(t, tracker.MarkSubmitted(testHash))
	require.NoError(t, tracker.MarkFailed(errors.New("timeout"), ""))

	tracker.Reset()

	status := tracker.Current()
	assert.Equal(t, PhaseIdle, status.Phase)
	assert.Empty(t, status.Hash)
	assert.Nil(t, status.Err)
	assert.Nil(t, status.Receipt)

	// 重置后可以开始新操作
	assert.NoError(t, tracker.Begin())
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tracker := newTestTracker()

	// 非idle状态下Begin是契约违规，不会自动重置
	assert.NoError(t, tracker.Begin())
	assert.Error(t, tracker.Begin())
	assert.Equal(t, PhasePreparing, tracker.Current().Phase)

	// 未提交不能直接确认
	assert.Error(t, tracker.MarkConfirming(testHash))
	assert.Error(t, tracker.MarkSuccess(testHash, nil))

	// 终止状态不能再失败
	tracker.Reset()
	assert.Error(t, tracker.MarkSubmitted(testHash))
	assert.NoError(t, tracker.Begin())
	assert.NoError(t, tracker.MarkSubmitted(testHash))
	assert.NoError(t, tracker.MarkSuccess(testHash, nil))
	assert.Error(t, tracker.MarkFailed(errors.New("late failure"), ""))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "confirming", PhaseConfirming.String())
	assert.Contains(t, Phase(42).String(), "unknown")
}
