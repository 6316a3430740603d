package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/config"
	"portal/internal/gateway"
	"portal/internal/ratelimit"
	"portal/internal/retry"
	"portal/internal/session"
	"portal/internal/store"
	"portal/internal/txerror"
	"portal/internal/validation"
)

const testAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

// stubLedger API测试用的账本桩
type stubLedger struct {
	sendCalls int
}

func (s *stubLedger) ReadOperation(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	switch method {
	case "getAppCount":
		return []interface{}{big.NewInt(0)}, nil
	case "isAdmin":
		return []interface{}{false}, nil
	default:
		return nil, fmt.Errorf("execution reverted: App not found")
	}
}

func (s *stubLedger) PrepareWrite(ctx context.Context, method string, args ...interface{}) (*gateway.PreparedCall, error) {
	return &gateway.PreparedCall{Method: method, Args: args, Gas: 21000}, nil
}

func (s *stubLedger) Send(ctx context.Context, call *gateway.PreparedCall) (string, error) {
	s.sendCalls++
	return fmt.Sprintf("0x%064x", s.sendCalls), nil
}

func (s *stubLedger) WaitForConfirmation(ctx context.Context, hash string) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

func (s *stubLedger) EstimateCost(ctx context.Context, call *gateway.PreparedCall) (*big.Int, error) {
	return big.NewInt(42000), nil
}

func (s *stubLedger) SenderAddress() string { return testAddress }
func (s *stubLedger) Close()                {}

// fakeSessions 按令牌映射的会话桩
type fakeSessions struct {
	sessions map[string]*session.Session
}

func (f *fakeSessions) Verify(ctx context.Context, token string) (*session.Session, error) {
	sess, exists := f.sessions[token]
	if !exists {
		return nil, fmt.Errorf("会话无效或已过期")
	}
	return sess, nil
}

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := config.GetDefaultConfig()
	cfg.Drafts.DBPath = filepath.Join(t.TempDir(), "drafts.db")

	drafts, err := store.NewDraftStore(cfg.Drafts.DBPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { drafts.Close() })

	limiter := ratelimit.NewStore(logger)
	fastPolicy := &retry.Policy{MaxAttempts: 1, Interval: time.Millisecond, BackoffFactor: 1.0}

	gw := gateway.NewGateway(
		&stubLedger{},
		validation.NewValidator(logger, 8453),
		limiter,
		txerror.NewClassifier(8453),
		nil,
		logger,
		&gateway.Options{ConfirmPolicy: fastPolicy, ReadPolicy: fastPolicy},
	)

	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"dev-token":   {Address: testAddress, Admin: false},
		"admin-token": {Address: common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D").Hex(), Admin: true},
	}}

	server := NewServer(gw, drafts, sessions, limiter, cfg, logger, 0)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	server.setupRoutes(router)

	return server, router
}

func doRequest(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func validForm() map[string]interface{} {
	return map[string]interface{}{
		"name":        "测试应用",
		"description": "一个用于测试的应用",
		"app_url":     "https://app.example.org",
		"logo_url":    "https://cdn.example.org/logo.png",
		"category":    "tools",
		"chain_id":    8453,
	}
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "portal-api")
}

func TestSubmitApp_RequiresSession(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/apps", "", validForm())
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = doRequest(router, http.MethodPost, "/api/v1/apps", "bad-token", validForm())
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSubmitApp_Success(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/apps", "dev-token", validForm())

	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Hash)
}

func TestSubmitApp_FieldErrors(t *testing.T) {
	_, router := newTestServer(t)

	form := validForm()
	form["app_url"] = "not a url"

	recorder := doRequest(router, http.MethodPost, "/api/v1/apps", "dev-token", form)

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var resp struct {
		FieldErrors map[string]string `json:"field_errors"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Contains(t, resp.FieldErrors, "appUrl")
}

func TestSubmitApp_RateLimited(t *testing.T) {
	_, router := newTestServer(t)

	for i := 0; i < 5; i++ {
		recorder := doRequest(router, http.MethodPost, "/api/v1/apps", "dev-token", validForm())
		require.Equal(t, http.StatusOK, recorder.Code, "第%d次提交应当成功", i+1)
	}

	recorder := doRequest(router, http.MethodPost, "/api/v1/apps", "dev-token", validForm())

	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
}

func TestApproveApp_NonAdminForbidden(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/apps/1/approve", "dev-token", nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestGetApp_InvalidID(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/apps/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestDraftRoundtrip(t *testing.T) {
	_, router := newTestServer(t)

	draft := map[string]interface{}{"name": "草稿应用"}

	recorder := doRequest(router, http.MethodPut, "/api/v1/drafts/app-form", "dev-token", draft)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/drafts/app-form", "dev-token", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "草稿应用")

	recorder = doRequest(router, http.MethodDelete, "/api/v1/drafts/app-form", "dev-token", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/drafts/app-form", "dev-token", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDraft_RejectsInvalidJSON(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/drafts/app-form", bytes.NewReader([]byte("{broken")))
	req.Header.Set("Authorization", "Bearer dev-token")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetTxStatus(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/tx/status", "dev-token", nil)

	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Phase   string `json:"phase"`
		Loading bool   `json:"loading"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.Phase)
	assert.False(t, resp.Loading)
}

func TestGetLimit(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/limits/submit", "dev-token", nil)

	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Remaining int  `json:"remaining"`
		Limited   bool `json:"limited"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.False(t, resp.Limited)
	assert.Equal(t, 5, resp.Remaining)
}

func TestGetSession(t *testing.T) {
	_, router := newTestServer(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/session", "dev-token", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), testAddress)
}
