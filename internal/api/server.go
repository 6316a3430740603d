package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"portal/internal/config"
	"portal/internal/gateway"
	"portal/internal/logging"
	"portal/internal/ratelimit"
	"portal/internal/session"
	"portal/internal/store"
	"portal/pkg/models"
)

// 草稿正文大小上限
const maxDraftSize = 64 * 1024

// Server 门户API服务器
type Server struct {
	gateway    *gateway.Gateway
	drafts     *store.DraftStore
	sessions   session.Provider
	limiter    *ratelimit.Store
	config     *config.Config
	logger     *logrus.Logger
	slogger    *logging.StructuredLogger
	logManager *LogManager
	server     *http.Server
	draftTTL   time.Duration
	port       int
}

// NewServer 创建门户API服务器
func NewServer(gw *gateway.Gateway, drafts *store.DraftStore, sessions session.Provider,
	limiter *ratelimit.Store, cfg *config.Config, logger *logrus.Logger, port int) *Server {

	// 创建日志缓冲
	logManager := NewLogManager(1000) // 最多保存1000条日志
	logger.AddHook(NewLogHook(logManager))

	// 结构化访问日志，配置无效时退回纯logrus
	slogger, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		logger.Warnf("初始化结构化日志失败，访问日志已关闭: %v", err)
	}

	return &Server{
		gateway:    gw,
		drafts:     drafts,
		sessions:   sessions,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
		slogger:    slogger,
		logManager: logManager,
		draftTTL:   config.ParseDuration(cfg.Drafts.TTL, 7*24*time.Hour),
		port:       port,
	}
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(s.accessLog())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 应用目录，公开可读
		api.GET("/apps", s.listApps)
		api.GET("/apps/count", s.getAppCount)
		api.GET("/apps/:id", s.getApp)

		// 写操作，需要会话
		authed := api.Group("", s.authRequired())
		{
			authed.GET("/session", s.getSession)

			authed.POST("/apps", s.submitApp)
			authed.PUT("/apps/:id", s.updateApp)
			authed.POST("/apps/:id/approve", s.approveApp)
			authed.POST("/apps/:id/reject", s.rejectApp)
			authed.POST("/apps/:id/active", s.setAppActive)
			authed.POST("/apps/estimate", s.estimateCost)

			authed.GET("/tx/status", s.getTxStatus)
			authed.GET("/limits/:action", s.getLimit)

			authed.PUT("/drafts/:key", s.putDraft)
			authed.GET("/drafts/:key", s.getDraft)
			authed.DELETE("/drafts/:key", s.deleteDraft)
		}

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// accessLog 结构化访问日志中间件
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.slogger == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logging.NewRequestLogger(s.slogger, c.Request.Method, c.FullPath()).Info("请求完成",
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// authRequired 会话校验中间件
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少会话令牌"})
			return
		}

		sess, err := s.sessions.Verify(c.Request.Context(), token)
		if err != nil {
			s.logger.Debugf("会话校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "会话无效或已过期"})
			return
		}

		c.Set("session", sess)
		c.Next()
	}
}

// currentSession 从上下文取出已校验的会话
func currentSession(c *gin.Context) *session.Session {
	value, exists := c.Get("session")
	if !exists {
		return nil
	}
	return value.(*session.Session)
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "portal-api",
	})
}

// getSession 返回当前会话信息
func (s *Server) getSession(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"address": sess.Address,
		"admin":   sess.Admin,
	})
}

// listApps 列出应用
func (s *Server) listApps(c *gin.Context) {
	developer := c.Query("developer")

	var (
		apps []*models.App
		err  error
	)
	if developer != "" {
		apps, err = s.gateway.GetAppsByDeveloper(c.Request.Context(), developer)
	} else {
		apps, err = s.gateway.GetAllApps(c.Request.Context())
	}

	if err != nil {
		s.logger.Errorf("读取应用列表失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "读取应用列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"apps":  apps,
		"total": len(apps),
	})
}

// getAppCount 应用总数
func (s *Server) getAppCount(c *gin.Context) {
	count, err := s.gateway.GetAppCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "读取应用总数失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// getApp 读取单个应用
func (s *Server) getApp(c *gin.Context) {
	appID, ok := s.parseAppID(c)
	if !ok {
		return
	}

	app, err := s.gateway.GetApp(c.Request.Context(), appID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "应用不存在或已被移除"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"app": app})
}

// submitApp 提交新应用
func (s *Server) submitApp(c *gin.Context) {
	var form models.AppForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	sess := currentSession(c)
	result := s.gateway.SubmitApp(c.Request.Context(), sess.Address, &form)
	s.renderActionResult(c, result)
}

// updateApp 更新应用
func (s *Server) updateApp(c *gin.Context) {
	appID, ok := s.parseAppID(c)
	if !ok {
		return
	}

	var form models.AppForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	sess := currentSession(c)
	result := s.gateway.UpdateApp(c.Request.Context(), sess.Address, appID, &form)
	s.renderActionResult(c, result)
}

// approveApp 审核通过
func (s *Server) approveApp(c *gin.Context) {
	appID, ok := s.parseAppID(c)
	if !ok {
		return
	}

	sess := currentSession(c)
	if !sess.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "没有执行该操作的权限"})
		return
	}

	result := s.gateway.ApproveApp(c.Request.Context(), sess.Address, appID)
	s.renderActionResult(c, result)
}

// rejectApp 审核拒绝
func (s *Server) rejectApp(c *gin.Context) {
	appID, ok := s.parseAppID(c)
	if !ok {
		return
	}

	sess := currentSession(c)
	if !sess.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "没有执行该操作的权限"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	result := s.gateway.RejectApp(c.Request.Context(), sess.Address, &models.ReviewDecision{
		AppID:  appID,
		Reason: req.Reason,
	})
	s.renderActionResult(c, result)
}

// setAppActive 上架或下架
func (s *Server) setAppActive(c *gin.Context) {
	appID, ok := s.parseAppID(c)
	if !ok {
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	sess := currentSession(c)
	result := s.gateway.SetAppActive(c.Request.Context(), sess.Address, appID, req.Active)
	s.renderActionResult(c, result)
}

// estimateCost 估算提交费用
func (s *Server) estimateCost(c *gin.Context) {
	var form models.AppForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	cost, err := s.gateway.EstimateSubmitCost(c.Request.Context(), &form)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "费用估算失败，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cost_wei": cost.String()})
}

// getTxStatus 当前写操作状态
func (s *Server) getTxStatus(c *gin.Context) {
	tracker := s.gateway.Tracker()
	status := tracker.Current()

	c.JSON(http.StatusOK, gin.H{
		"phase":    status.Phase.String(),
		"hash":     status.Hash,
		"message":  tracker.Message(),
		"loading":  tracker.IsLoading(),
		"complete": tracker.IsComplete(),
	})
}

// getLimit 查询限流状态
func (s *Server) getLimit(c *gin.Context) {
	action := c.Param("action")
	sess := currentSession(c)

	result := s.gateway.CheckLimit(action, sess.Address)
	c.JSON(http.StatusOK, gin.H{
		"action":      action,
		"limited":     result.Limited,
		"remaining":   result.RemainingRequests,
		"retry_after": int(result.RetryAfter.Seconds()),
	})
}

// putDraft 保存草稿
func (s *Server) putDraft(c *gin.Context) {
	sess := currentSession(c)

	limitKey := ratelimit.ActionDraft + ":" + sess.Address
	cfg := ratelimit.DefaultConfig(ratelimit.ActionDraft)
	if check := s.limiter.Check(limitKey, cfg); check.Limited {
		c.Header("Retry-After", strconv.Itoa(int(check.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "保存过于频繁，请稍后重试"})
		return
	}

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "草稿内容为空"})
		return
	}
	if len(body) > maxDraftSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "草稿内容过大"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "草稿内容必须是合法JSON"})
		return
	}

	key := s.draftKey(sess.Address, c.Param("key"))
	if err := s.drafts.Put(key, body, s.draftTTL); err != nil {
		s.logger.Errorf("保存草稿失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存草稿失败"})
		return
	}

	s.limiter.Increment(limitKey, cfg)
	c.JSON(http.StatusOK, gin.H{"message": "草稿已保存"})
}

// getDraft 读取草稿
func (s *Server) getDraft(c *gin.Context) {
	sess := currentSession(c)

	value, err := s.drafts.Get(s.draftKey(sess.Address, c.Param("key")))
	if err != nil {
		s.logger.Errorf("读取草稿失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取草稿失败"})
		return
	}
	if value == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "草稿不存在或已过期"})
		return
	}

	c.Data(http.StatusOK, "application/json", value)
}

// deleteDraft 删除草稿
func (s *Server) deleteDraft(c *gin.Context) {
	sess := currentSession(c)

	if err := s.drafts.Delete(s.draftKey(sess.Address, c.Param("key"))); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除草稿失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "草稿已删除"})
}

// draftKey 草稿键按账户隔离
func (s *Server) draftKey(address, key string) string {
	return strings.ToLower(address) + "/" + key
}

// parseAppID 解析路径中的应用ID
func (s *Server) parseAppID(c *gin.Context) (uint64, bool) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || appID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "应用ID无效"})
		return 0, false
	}
	return appID, true
}

// renderActionResult 把网关结果映射到HTTP响应
func (s *Server) renderActionResult(c *gin.Context, result *gateway.ActionResult) {
	if s.slogger != nil {
		logging.NewTxLogger(s.slogger, c.FullPath(), result.Hash).Info("写操作结束",
			"ok", result.Ok,
			"rate_limited", result.RateLimited,
		)
	}

	switch {
	case result.Ok:
		c.JSON(http.StatusOK, gin.H{
			"message": result.Message,
			"hash":    result.Hash,
			"app_id":  result.AppID,
		})
	case len(result.FieldErrors) > 0:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        result.Message,
			"field_errors": result.FieldErrors,
		})
	case result.RateLimited:
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": result.Message})
	case result.Busy:
		c.JSON(http.StatusConflict, gin.H{"error": result.Message})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error": result.Message,
			"hash":  result.Hash,
		})
	}
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
