package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"portal/internal/events"
	"portal/internal/ratelimit"
	"portal/internal/retry"
	"portal/internal/sanitize"
	"portal/internal/txerror"
	"portal/internal/txstatus"
	"portal/internal/validation"
	"portal/pkg/models"
)

// ActionResult 门户动作的统一结果
//
// 网关对外只暴露该结构，原始错误不出网关：失败时Message
// 已经是分类后的用户可见文案。
type ActionResult struct {
	Ok          bool              `json:"ok"`
	AppID       uint64            `json:"app_id,omitempty"`
	Hash        string            `json:"hash,omitempty"`
	Message     string            `json:"message,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	RateLimited bool              `json:"rate_limited,omitempty"`
	RetryAfter  time.Duration     `json:"retry_after,omitempty"`
	Busy        bool              `json:"busy,omitempty"`
}

// Gateway 合约网关
//
// 门户所有链上读写的唯一入口。写路径固定为：清洗→校验→
// 限流→提交→确认，任何一步失败都不会触达后续步骤。
type Gateway struct {
	ledger        LedgerClient
	validator     *validation.Validator
	limiter       *ratelimit.Store
	classifier    *txerror.Classifier
	tracker       *txstatus.Tracker
	publisher     events.Publisher
	confirmPolicy *retry.Policy
	readPolicy    *retry.Policy
	limits        map[string]ratelimit.Config
	readWorkers   int
	logger        *logrus.Logger
}

// Options 网关可选配置
type Options struct {
	ConfirmPolicy *retry.Policy
	ReadPolicy    *retry.Policy
	Limits        map[string]ratelimit.Config
	ReadWorkers   int
}

// NewGateway 创建合约网关
func NewGateway(ledger LedgerClient, validator *validation.Validator, limiter *ratelimit.Store,
	classifier *txerror.Classifier, publisher events.Publisher, logger *logrus.Logger, opts *Options) *Gateway {

	if opts == nil {
		opts = &Options{}
	}
	if opts.ConfirmPolicy == nil {
		opts.ConfirmPolicy = retry.ConfirmationPolicy
	}
	if opts.ReadPolicy == nil {
		opts.ReadPolicy = retry.ReadPolicy
	}
	if opts.ReadWorkers <= 0 {
		opts.ReadWorkers = 8
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	limits := make(map[string]ratelimit.Config)
	for _, action := range []string{ratelimit.ActionSubmit, ratelimit.ActionUpdate, ratelimit.ActionReview, ratelimit.ActionDraft} {
		limits[action] = ratelimit.DefaultConfig(action)
	}
	for action, cfg := range opts.Limits {
		limits[action] = cfg
	}

	return &Gateway{
		ledger:        ledger,
		validator:     validator,
		limiter:       limiter,
		classifier:    classifier,
		tracker:       txstatus.NewTracker(classifier),
		publisher:     publisher,
		confirmPolicy: opts.ConfirmPolicy,
		readPolicy:    opts.ReadPolicy,
		limits:        limits,
		readWorkers:   opts.ReadWorkers,
		logger:        logger,
	}
}

// Tracker 返回状态跟踪器，供API层暴露进度
func (g *Gateway) Tracker() *txstatus.Tracker {
	return g.tracker
}

// SubmitApp 提交新应用
func (g *Gateway) SubmitApp(ctx context.Context, actor string, form *models.AppForm) *ActionResult {
	sanitized := g.sanitizeForm(form)

	if result := g.validator.ValidateAppForm(sanitized); !result.Valid {
		return &ActionResult{Ok: false, Message: "表单校验未通过", FieldErrors: result.Errors}
	}

	return g.execute(ctx, ratelimit.ActionSubmit, actor, "submitApp",
		func(hash string, appID uint64) *events.PortalEvent {
			return &events.PortalEvent{Type: events.EventAppSubmitted, AppID: appID, Actor: actor, TxHash: hash, Detail: sanitized.Name}
		},
		sanitized.Name, sanitized.Description, sanitized.AppURL, sanitized.LogoURL,
		sanitized.Category, new(big.Int).SetUint64(sanitized.ChainID),
		big.NewInt(int64(len(sanitized.Screenshots))))
}

// UpdateApp 更新已有应用
func (g *Gateway) UpdateApp(ctx context.Context, actor string, appID uint64, form *models.AppForm) *ActionResult {
	sanitized := g.sanitizeForm(form)

	if result := g.validator.ValidateAppForm(sanitized); !result.Valid {
		return &ActionResult{Ok: false, Message: "表单校验未通过", FieldErrors: result.Errors}
	}

	return g.execute(ctx, ratelimit.ActionUpdate, actor, "updateApp",
		func(hash string, _ uint64) *events.PortalEvent {
			return &events.PortalEvent{Type: events.EventAppUpdated, AppID: appID, Actor: actor, TxHash: hash}
		},
		new(big.Int).SetUint64(appID), sanitized.Name, sanitized.Description,
		sanitized.AppURL, sanitized.LogoURL, sanitized.Category,
		big.NewInt(int64(len(sanitized.Screenshots))))
}

// ApproveApp 审核通过应用
//
// 先做权限预检，非管理员不发交易，省掉一次注定revert的
// 链上调用。
func (g *Gateway) ApproveApp(ctx context.Context, actor string, appID uint64) *ActionResult {
	if result := g.requireAdmin(ctx, actor); result != nil {
		return result
	}

	return g.execute(ctx, ratelimit.ActionReview, actor, "approveApp",
		func(hash string, _ uint64) *events.PortalEvent {
			return &events.PortalEvent{Type: events.EventAppApproved, AppID: appID, Actor: actor, TxHash: hash}
		},
		new(big.Int).SetUint64(appID))
}

// RejectApp 审核拒绝应用
func (g *Gateway) RejectApp(ctx context.Context, actor string, decision *models.ReviewDecision) *ActionResult {
	if result := g.requireAdmin(ctx, actor); result != nil {
		return result
	}

	reason := sanitize.Text(decision.Reason)

	return g.execute(ctx, ratelimit.ActionReview, actor, "rejectApp",
		func(hash string, _ uint64) *events.PortalEvent {
			return &events.PortalEvent{Type: events.EventAppRejected, AppID: decision.AppID, Actor: actor, TxHash: hash, Detail: reason}
		},
		new(big.Int).SetUint64(decision.AppID), reason)
}

// SetAppActive 上架或下架应用
func (g *Gateway) SetAppActive(ctx context.Context, actor string, appID uint64, active bool) *ActionResult {
	return g.execute(ctx, ratelimit.ActionUpdate, actor, "setAppActive", nil,
		new(big.Int).SetUint64(appID), active)
}

// execute 执行一次写操作
//
// 限流检查与配额消耗分离：检查通过才消耗，被限流的请求
// 不扣配额。整个生命周期结束后跟踪器回到idle。
func (g *Gateway) execute(ctx context.Context, action, actor, method string,
	makeEvent func(hash string, appID uint64) *events.PortalEvent, args ...interface{}) *ActionResult {

	cfg := g.limits[action]
	limitKey := action + ":" + actor

	if check := g.limiter.Check(limitKey, cfg); check.Limited {
		g.logger.Infof("动作 '%s' 被限流，%v 后可重试", limitKey, check.RetryAfter)
		return &ActionResult{
			Ok:          false,
			Message:     fmt.Sprintf("操作过于频繁，请 %d 秒后重试", int(check.RetryAfter.Seconds())+1),
			RateLimited: true,
			RetryAfter:  check.RetryAfter,
		}
	}

	if err := g.tracker.Begin(); err != nil {
		return &ActionResult{Ok: false, Busy: true, Message: "上一个操作尚未完成，请稍候"}
	}
	defer g.tracker.Reset()

	g.limiter.Increment(limitKey, cfg)

	txLogger := g.logger.WithFields(logrus.Fields{"method": method, "actor": actor})

	call, err := g.ledger.PrepareWrite(ctx, method, args...)
	if err != nil {
		return g.fail(txLogger, actor, err, "")
	}

	hash, err := g.ledger.Send(ctx, call)
	if err != nil {
		return g.fail(txLogger, actor, err, "")
	}
	if err := g.tracker.MarkSubmitted(hash); err != nil {
		return g.fail(txLogger, actor, err, hash)
	}

	txLogger = txLogger.WithField("tx_hash", hash)
	txLogger.Info("交易已提交，等待确认")

	if err := g.tracker.MarkConfirming(hash); err != nil {
		return g.fail(txLogger, actor, err, hash)
	}

	receipt, err := g.waitForReceipt(ctx, hash)
	if err != nil {
		return g.fail(txLogger, actor, err, hash)
	}

	if err := g.tracker.MarkSuccess(hash, receipt); err != nil {
		return g.fail(txLogger, actor, err, hash)
	}

	appID := g.extractAppID(method, receipt)
	txLogger.Infof("交易已确认 (block=%d)", receipt.BlockNumber.Uint64())

	if makeEvent != nil {
		g.publish(makeEvent(hash, appID))
	}

	return &ActionResult{Ok: true, AppID: appID, Hash: hash, Message: "交易已确认"}
}

// waitForReceipt 有界轮询等待回执
func (g *Gateway) waitForReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	var receipt *types.Receipt

	err := g.confirmPolicy.Do(ctx, "wait_confirmation", g.logger, func() error {
		r, err := g.ledger.WaitForConfirmation(ctx, hash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// fail 失败收尾：标记状态、分类错误、发布审计事件
func (g *Gateway) fail(txLogger *logrus.Entry, actor string, err error, hash string) *ActionResult {
	if markErr := g.tracker.MarkFailed(err, hash); markErr != nil {
		g.logger.Debugf("标记失败状态被拒绝: %v", markErr)
	}

	classified := g.classifier.Classify(err)
	txLogger.WithField("kind", classified.Kind.String()).Warnf("操作失败: %v", err)

	g.publish(&events.PortalEvent{
		Type:   events.EventTxFailed,
		Actor:  actor,
		TxHash: hash,
		Detail: classified.Kind.String(),
	})

	return &ActionResult{Ok: false, Hash: hash, Message: classified.Message}
}

// publish 发布审计事件，失败只记日志不影响动作结果
func (g *Gateway) publish(event *events.PortalEvent) {
	if err := g.publisher.Publish(event); err != nil {
		g.logger.Warnf("发布事件 '%s' 失败: %v", event.Type, err)
	}
}

// requireAdmin 管理员权限预检
func (g *Gateway) requireAdmin(ctx context.Context, actor string) *ActionResult {
	if !validation.ValidateAddress(actor) {
		return &ActionResult{Ok: false, Message: "账户地址无效"}
	}

	admin, err := g.IsAdmin(ctx, actor)
	if err != nil {
		return &ActionResult{Ok: false, Message: g.classifier.Message(err)}
	}
	if !admin {
		return &ActionResult{Ok: false, Message: "没有执行该操作的权限"}
	}
	return nil
}

// extractAppID 从回执日志中提取新应用ID
//
// 注册表在submitApp成功时发出的首条日志topic[1]即应用ID，
// 提取失败不影响动作结果。
func (g *Gateway) extractAppID(method string, receipt *types.Receipt) uint64 {
	if method != "submitApp" || receipt == nil {
		return 0
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) >= 2 {
			return new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()
		}
	}
	return 0
}

// GetApp 读取单个应用
func (g *Gateway) GetApp(ctx context.Context, appID uint64) (*models.App, error) {
	var values []interface{}

	err := g.readPolicy.Do(ctx, "get_app", g.logger, func() error {
		v, err := g.ledger.ReadOperation(ctx, "getApp", new(big.Int).SetUint64(appID))
		if err != nil {
			return err
		}
		values = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	app := &models.App{}
	if err := app.FromRegistryTuple(values); err != nil {
		return nil, fmt.Errorf("解析应用 %d 失败: %w", appID, err)
	}
	return app, nil
}

// GetAppCount 读取应用总数
func (g *Gateway) GetAppCount(ctx context.Context) (uint64, error) {
	var count uint64

	err := g.readPolicy.Do(ctx, "get_app_count", g.logger, func() error {
		values, err := g.ledger.ReadOperation(ctx, "getAppCount")
		if err != nil {
			return err
		}
		if len(values) != 1 {
			return fmt.Errorf("getAppCount返回值数量错误: %d", len(values))
		}
		n, ok := values[0].(*big.Int)
		if !ok {
			return fmt.Errorf("getAppCount返回值类型错误: %T", values[0])
		}
		count = n.Uint64()
		return nil
	})
	return count, err
}

// GetAllApps 读取全部应用
//
// 按应用ID并发读取，单个条目读取失败只跳过该条目而不使
// 整个列表失败。返回结果按ID升序排列。
func (g *Gateway) GetAllApps(ctx context.Context) ([]*models.App, error) {
	count, err := g.GetAppCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []*models.App{}, nil
	}

	var (
		mu   sync.Mutex
		apps []*models.App
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, g.readWorkers)

	for id := uint64(1); id <= count; id++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(appID uint64) {
			defer wg.Done()
			defer func() { <-sem }()

			app, err := g.GetApp(ctx, appID)
			if err != nil {
				g.logger.Warnf("读取应用 %d 失败，已跳过: %v", appID, err)
				return
			}

			mu.Lock()
			apps = append(apps, app)
			mu.Unlock()
		}(id)
	}

	wg.Wait()

	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}

// GetAppsByDeveloper 读取指定开发者的应用列表
func (g *Gateway) GetAppsByDeveloper(ctx context.Context, developer string) ([]*models.App, error) {
	if !validation.ValidateAddress(developer) {
		return nil, fmt.Errorf("开发者地址无效: %s", developer)
	}

	var ids []*big.Int
	err := g.readPolicy.Do(ctx, "get_apps_by_developer", g.logger, func() error {
		values, err := g.ledger.ReadOperation(ctx, "getAppsByDeveloper", common.HexToAddress(developer))
		if err != nil {
			return err
		}
		if len(values) != 1 {
			return fmt.Errorf("getAppsByDeveloper返回值数量错误: %d", len(values))
		}
		list, ok := values[0].([]*big.Int)
		if !ok {
			return fmt.Errorf("getAppsByDeveloper返回值类型错误: %T", values[0])
		}
		ids = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	apps := make([]*models.App, 0, len(ids))
	for _, id := range ids {
		app, err := g.GetApp(ctx, id.Uint64())
		if err != nil {
			g.logger.Warnf("读取应用 %d 失败，已跳过: %v", id.Uint64(), err)
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// IsAdmin 查询账户是否为管理员
func (g *Gateway) IsAdmin(ctx context.Context, account string) (bool, error) {
	var admin bool

	err := g.readPolicy.Do(ctx, "is_admin", g.logger, func() error {
		values, err := g.ledger.ReadOperation(ctx, "isAdmin", common.HexToAddress(account))
		if err != nil {
			return err
		}
		if len(values) != 1 {
			return fmt.Errorf("isAdmin返回值数量错误: %d", len(values))
		}
		b, ok := values[0].(bool)
		if !ok {
			return fmt.Errorf("isAdmin返回值类型错误: %T", values[0])
		}
		admin = b
		return nil
	})
	return admin, err
}

// EstimateSubmitCost 估算提交应用的费用
func (g *Gateway) EstimateSubmitCost(ctx context.Context, form *models.AppForm) (*big.Int, error) {
	sanitized := g.sanitizeForm(form)

	call, err := g.ledger.PrepareWrite(ctx, "submitApp",
		sanitized.Name, sanitized.Description, sanitized.AppURL, sanitized.LogoURL,
		sanitized.Category, new(big.Int).SetUint64(sanitized.ChainID),
		big.NewInt(int64(len(sanitized.Screenshots))))
	if err != nil {
		return nil, err
	}

	return g.ledger.EstimateCost(ctx, call)
}

// CheckLimit 查询动作键的限流状态，不消耗配额
func (g *Gateway) CheckLimit(action, actor string) ratelimit.Result {
	return g.limiter.Check(action+":"+actor, g.limits[action])
}

// sanitizeForm 清洗表单字段
//
// 返回新副本，调用方持有的原始表单不被修改。
func (g *Gateway) sanitizeForm(form *models.AppForm) *models.AppForm {
	if form == nil {
		return nil
	}

	sanitized := &models.AppForm{
		Name:        sanitize.Text(form.Name),
		Description: sanitize.Text(form.Description),
		AppURL:      sanitize.URL(form.AppURL),
		LogoURL:     sanitize.URL(form.LogoURL),
		Category:    sanitize.Text(form.Category),
		ChainID:     form.ChainID,
	}

	for _, screenshot := range form.Screenshots {
		if clean := sanitize.URL(screenshot); clean != "" {
			sanitized.Screenshots = append(sanitized.Screenshots, clean)
		}
	}

	return sanitized
}
