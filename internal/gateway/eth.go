package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"portal/internal/config"
	"portal/internal/txerror"
)

// 注册表合约ABI
const registryABI = `[
	{"name":"submitApp","type":"function","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"appUrl","type":"string"},{"name":"logoUrl","type":"string"},{"name":"category","type":"string"},{"name":"chainId","type":"uint256"},{"name":"screenshotCount","type":"uint256"}],"outputs":[{"name":"appId","type":"uint256"}]},
	{"name":"updateApp","type":"function","stateMutability":"nonpayable","inputs":[{"name":"appId","type":"uint256"},{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"appUrl","type":"string"},{"name":"logoUrl","type":"string"},{"name":"category","type":"string"},{"name":"screenshotCount","type":"uint256"}],"outputs":[]},
	{"name":"approveApp","type":"function","stateMutability":"nonpayable","inputs":[{"name":"appId","type":"uint256"}],"outputs":[]},
	{"name":"rejectApp","type":"function","stateMutability":"nonpayable","inputs":[{"name":"appId","type":"uint256"},{"name":"reason","type":"string"}],"outputs":[]},
	{"name":"setAppActive","type":"function","stateMutability":"nonpayable","inputs":[{"name":"appId","type":"uint256"},{"name":"active","type":"bool"}],"outputs":[]},
	{"name":"getApp","type":"function","stateMutability":"view","inputs":[{"name":"appId","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"},{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"appUrl","type":"string"},{"name":"logoUrl","type":"string"},{"name":"category","type":"string"},{"name":"chainId","type":"uint256"},{"name":"developer","type":"address"},{"name":"active","type":"bool"},{"name":"state","type":"uint8"},{"name":"screenshotCount","type":"uint256"},{"name":"createdAt","type":"uint256"}]},
	{"name":"getAppCount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"count","type":"uint256"}]},
	{"name":"getAppsByDeveloper","type":"function","stateMutability":"view","inputs":[{"name":"developer","type":"address"}],"outputs":[{"name":"appIds","type":"uint256[]"}]},
	{"name":"isAdmin","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"admin","type":"bool"}]}
]`

// EthLedger 基于go-ethereum的账本客户端
//
// 在能够判定失败原因的边界上构造类型化的LedgerError，
// 上层分类器不再依赖对节点错误文案的字符串猜测。
type EthLedger struct {
	client   *ethclient.Client
	registry common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	logger   *logrus.Logger
}

// NewEthLedger 创建账本客户端
func NewEthLedger(ctx context.Context, cfg *config.ChainConfig, logger *logrus.Logger) (*EthLedger, error) {
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("注册表合约地址无效: %s", cfg.RegistryAddress)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, txerror.NewLedgerError(txerror.KindNetwork, "dial", err)
	}

	// 链ID校验，连错网络时立即失败而不是在首笔交易时才暴露
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, txerror.NewLedgerError(txerror.KindNetwork, "chain_id", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, txerror.NewLedgerError(txerror.KindWrongNetwork, "chain_id",
			fmt.Errorf("期望链 %d，节点返回链 %d", cfg.ChainID, chainID.Uint64()))
	}

	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("解析注册表ABI失败: %w", err)
	}

	ledger := &EthLedger{
		client:   client,
		registry: common.HexToAddress(cfg.RegistryAddress),
		abi:      parsedABI,
		chainID:  chainID,
		logger:   logger,
	}

	// 签名私钥从环境变量读取，只读部署可以不配置
	if cfg.PrivateKeyEnv != "" {
		if keyHex := os.Getenv(cfg.PrivateKeyEnv); keyHex != "" {
			key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("解析签名私钥失败: %w", err)
			}
			ledger.key = key
			ledger.from = crypto.PubkeyToAddress(key.PublicKey)
			logger.Infof("账本客户端已初始化，签名账户: %s", ledger.from.Hex())
		}
	}

	if ledger.key == nil {
		logger.Warn("未配置签名私钥，写操作不可用")
	}

	return ledger, nil
}

// ReadOperation 执行只读合约调用
func (l *EthLedger) ReadOperation(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("打包调用 %s 失败: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &l.registry, Data: data}
	out, err := l.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, l.wrapCallError(method, err)
	}

	values, err := l.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}

	return values, nil
}

// PrepareWrite 打包写调用并估算gas
func (l *EthLedger) PrepareWrite(ctx context.Context, method string, args ...interface{}) (*PreparedCall, error) {
	if l.key == nil {
		return nil, txerror.NewLedgerError(txerror.KindPermissionDenied, method,
			fmt.Errorf("未配置签名私钥"))
	}

	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("打包交易 %s 失败: %w", method, err)
	}

	msg := ethereum.CallMsg{From: l.from, To: &l.registry, Data: data}
	gasLimit, err := l.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, l.wrapEstimateError(method, err)
	}

	return &PreparedCall{
		Method: method,
		Args:   args,
		Data:   data,
		Gas:    gasLimit,
	}, nil
}

// Send 签名并广播已准备的写调用
func (l *EthLedger) Send(ctx context.Context, call *PreparedCall) (string, error) {
	if l.key == nil {
		return "", txerror.NewLedgerError(txerror.KindPermissionDenied, call.Method,
			fmt.Errorf("未配置签名私钥"))
	}

	nonce, err := l.client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return "", txerror.NewLedgerError(txerror.KindNetwork, call.Method, err)
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", txerror.NewLedgerError(txerror.KindNetwork, call.Method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.registry,
		Value:    big.NewInt(0),
		Gas:      call.Gas,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return "", l.wrapSendError(call.Method, err)
	}

	hash := signed.Hash().Hex()
	l.logger.Infof("交易已发送: %s (%s, nonce=%d, gas=%d)", hash, call.Method, nonce, call.Gas)
	return hash, nil
}

// WaitForConfirmation 查询交易回执
//
// 回执尚未生成时返回的错误文案包含"not found"，重试策略
// 将其视为临时性失败继续轮询。
func (l *EthLedger) WaitForConfirmation(ctx context.Context, hash string) (*types.Receipt, error) {
	receipt, err := l.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, fmt.Errorf("查询回执失败: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return nil, txerror.NewLedgerError(txerror.KindReverted, "receipt",
			fmt.Errorf("交易 %s 在链上执行失败", hash))
	}

	return receipt, nil
}

// EstimateCost 估算已准备写调用的费用
func (l *EthLedger) EstimateCost(ctx context.Context, call *PreparedCall) (*big.Int, error) {
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, txerror.NewLedgerError(txerror.KindNetwork, call.Method, err)
	}

	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(call.Gas)), nil
}

// SenderAddress 返回签名账户地址
func (l *EthLedger) SenderAddress() string {
	if l.key == nil {
		return ""
	}
	return l.from.Hex()
}

// Close 关闭底层连接
func (l *EthLedger) Close() {
	l.client.Close()
}

// wrapCallError 只读调用错误定型
func (l *EthLedger) wrapCallError(method string, err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "execution reverted") || strings.Contains(lower, "revert") {
		le := txerror.NewLedgerError(txerror.KindReverted, method, err)
		le.Reason = revertReason(err.Error())
		return le
	}
	return txerror.NewLedgerError(txerror.KindNetwork, method, err)
}

// wrapEstimateError 估算失败定型
//
// 估算阶段的revert与余额不足各有独立类别，剩余情况统一
// 归为估算失败。
func (l *EthLedger) wrapEstimateError(method string, err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "insufficient funds"):
		return txerror.NewLedgerError(txerror.KindInsufficientFunds, method, err)
	case strings.Contains(lower, "execution reverted") || strings.Contains(lower, "revert"):
		le := txerror.NewLedgerError(txerror.KindReverted, method, err)
		le.Reason = revertReason(err.Error())
		return le
	default:
		return txerror.NewLedgerError(txerror.KindEstimationFailed, method, err)
	}
}

// wrapSendError 广播失败定型
func (l *EthLedger) wrapSendError(method string, err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "nonce too low"), strings.Contains(lower, "already known"):
		return txerror.NewLedgerError(txerror.KindNonceConflict, method, err)
	case strings.Contains(lower, "underpriced"), strings.Contains(lower, "fee too low"):
		return txerror.NewLedgerError(txerror.KindUnderpriced, method, err)
	case strings.Contains(lower, "insufficient funds"):
		return txerror.NewLedgerError(txerror.KindInsufficientFunds, method, err)
	default:
		return txerror.NewLedgerError(txerror.KindNetwork, method, err)
	}
}

// revertReason 从节点错误文案中提取revert原因
func revertReason(raw string) string {
	const marker = "execution reverted:"
	idx := strings.Index(strings.ToLower(raw), marker)
	if idx < 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(raw[idx+len(marker):]), `"`)
}
