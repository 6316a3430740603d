package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"portal/internal/api"
	"portal/internal/config"
	"portal/internal/events"
	"portal/internal/gateway"
	"portal/internal/ratelimit"
	"portal/internal/retry"
	"portal/internal/session"
	"portal/internal/shutdown"
	"portal/internal/store"
	"portal/internal/txerror"
	"portal/internal/validation"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0表示使用配置文件中的端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	listenPort := cfg.Server.Port
	if *port > 0 {
		listenPort = *port
	}

	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 30*time.Second)
	gs := shutdown.NewGracefulShutdown(shutdownTimeout, logger)

	// 账本客户端
	ledger, err := gateway.NewEthLedger(gs.Context(), cfg.Chain, logger)
	if err != nil {
		logger.Fatalf("初始化账本客户端失败: %v", err)
	}
	gs.Register("close_ledger", func(ctx context.Context) error {
		ledger.Close()
		return nil
	}, shutdown.OrderCloseLedger)

	// 事件发布器，未配置brokers时关闭
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Events.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
		if err != nil {
			logger.Fatalf("初始化事件发布器失败: %v", err)
		}
		publisher = kafka
		gs.Register("flush_events", func(ctx context.Context) error {
			return kafka.Close()
		}, shutdown.OrderFlushEvents)
	}

	// 草稿存储
	drafts, err := store.NewDraftStore(cfg.Drafts.DBPath, logger)
	if err != nil {
		logger.Fatalf("初始化草稿存储失败: %v", err)
	}
	gs.Register("close_drafts", func(ctx context.Context) error {
		return drafts.Close()
	}, shutdown.OrderCloseStorage)

	// 网关依赖
	limiter := ratelimit.NewStore(logger)
	classifier := txerror.NewClassifier(cfg.Chain.ChainID)
	validator := validation.NewValidator(logger, cfg.Chain.ChainID)

	gw := gateway.NewGateway(ledger, validator, limiter, classifier, publisher, logger, &gateway.Options{
		ConfirmPolicy: retry.ConfirmationPolicy,
		ReadPolicy:    retry.ReadPolicy,
		Limits:        limitsFromConfig(cfg.Limits),
		ReadWorkers:   cfg.Server.ReadConcurrency,
	})

	// 身份提供方
	sessionTimeout := config.ParseDuration(cfg.Session.Timeout, 5*time.Second)
	sessions := session.NewHTTPProvider(cfg.Session.ProviderURL, sessionTimeout, logger)

	// API服务器
	server := api.NewServer(gw, drafts, sessions, limiter, cfg, logger, listenPort)
	gs.Register("stop_api", func(ctx context.Context) error {
		return server.Stop(ctx)
	}, shutdown.OrderStopAPI)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	logger.Infof("门户API已启动，监听端口: %d", listenPort)

	gs.WaitForShutdown()
	logger.Info("服务器已关闭")
}

// limitsFromConfig 把配置里的限流覆盖转换为网关参数
func limitsFromConfig(limits *config.LimitsConfig) map[string]ratelimit.Config {
	result := make(map[string]ratelimit.Config)
	if limits == nil {
		return result
	}

	set := func(action string, lc *config.LimitConfig) {
		if lc == nil || lc.MaxRequests <= 0 {
			return
		}
		result[action] = ratelimit.Config{
			MaxRequests: lc.MaxRequests,
			Window:      config.ParseDuration(lc.Window, ratelimit.DefaultConfig(action).Window),
		}
	}

	set(ratelimit.ActionSubmit, limits.Submit)
	set(ratelimit.ActionUpdate, limits.Update)
	set(ratelimit.ActionReview, limits.Review)
	set(ratelimit.ActionDraft, limits.Draft)

	return result
}
