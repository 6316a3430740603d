package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Session 已认证的门户会话
type Session struct {
	Address   string    `json:"address"`
	Admin     bool      `json:"admin"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired 会话是否已过期
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Provider 身份提供方接口
//
// 认证协议由外部身份服务实现，本服务只消费校验结果，
// 用于路由门禁。
type Provider interface {
	Verify(ctx context.Context, token string) (*Session, error)
}

// HTTPProvider 基于HTTP的身份提供方客户端
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPProvider 创建身份提供方客户端
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *logrus.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Verify 校验会话令牌
func (p *HTTPProvider) Verify(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("会话令牌为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/session/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("构造校验请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("身份服务调用失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("会话无效或已过期")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("身份服务返回异常状态: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("读取身份服务响应失败: %w", err)
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("解析身份服务响应失败: %w", err)
	}

	if session.Address == "" {
		return nil, fmt.Errorf("身份服务未返回账户地址")
	}
	if session.IsExpired() {
		return nil, fmt.Errorf("会话无效或已过期")
	}

	p.logger.Debugf("会话校验通过: %s (admin=%t)", session.Address, session.Admin)
	return &session, nil
}
