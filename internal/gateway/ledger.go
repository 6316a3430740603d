package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// PreparedCall 已打包待发送的写调用
//
// PrepareWrite的产物：参数已按ABI编码，gas已估算。同一个
// PreparedCall可以先估费再发送，两者共享准备结果。
type PreparedCall struct {
	Method string
	Args   []interface{}
	Data   []byte
	Gas    uint64
}

// LedgerClient 账本客户端接口
//
// 网关通过该接口读写链上注册表。生产环境由EthLedger实现，
// 测试用内存假实现替换，网关逻辑本身不触网。
type LedgerClient interface {
	// ReadOperation 执行只读合约调用，返回解码后的字段元组
	ReadOperation(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)

	// PrepareWrite 打包写调用并估算gas
	PrepareWrite(ctx context.Context, method string, args ...interface{}) (*PreparedCall, error)

	// Send 签名并广播已准备的写调用，返回交易哈希
	Send(ctx context.Context, call *PreparedCall) (string, error)

	// WaitForConfirmation 查询交易回执，回执尚未生成时返回可重试错误
	WaitForConfirmation(ctx context.Context, hash string) (*types.Receipt, error)

	// EstimateCost 估算已准备写调用的费用（wei）
	EstimateCost(ctx context.Context, call *PreparedCall) (*big.Int, error)

	// SenderAddress 返回签名账户地址
	SenderAddress() string

	// Close 释放底层连接
	Close()
}
