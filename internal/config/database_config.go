package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	chainConfig, err := dc.loadChainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载链配置失败: %w", err)
	}
	config.Chain = chainConfig

	if err := dc.loadPortalConfig(config); err != nil {
		return nil, fmt.Errorf("加载门户配置失败: %w", err)
	}

	limits, err := dc.loadLimitConfigs()
	if err != nil {
		return nil, fmt.Errorf("加载限流配置失败: %w", err)
	}
	if limits != nil {
		config.Limits = limits
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadChainConfig 加载链配置
func (dc *DatabaseConfig) loadChainConfig() (*ChainConfig, error) {
	query := `SELECT rpc_url, chain_id, registry_address, private_key_env FROM chain_config WHERE is_active = true ORDER BY priority LIMIT 1`

	var chain ChainConfig
	err := dc.DB.QueryRow(query).Scan(&chain.RPCURL, &chain.ChainID, &chain.RegistryAddress, &chain.PrivateKeyEnv)
	if err != nil {
		return nil, err
	}

	return &chain, nil
}

// loadPortalConfig 加载门户通用配置
func (dc *DatabaseConfig) loadPortalConfig(config *Config) error {
	query := `SELECT config_key, config_value FROM portal_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		err := rows.Scan(&key, &value)
		if err != nil {
			return err
		}

		switch key {
		case "server_port":
			if v, err := strconv.Atoi(value); err == nil {
				config.Server.Port = v
			}
		case "read_concurrency":
			if v, err := strconv.Atoi(value); err == nil {
				config.Server.ReadConcurrency = v
			}
		case "shutdown_timeout":
			config.Server.ShutdownTimeout = value
		case "session_provider_url":
			config.Session.ProviderURL = value
		case "session_timeout":
			config.Session.Timeout = value
		case "event_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				config.Events.Brokers = brokers
			}
		case "event_topic":
			config.Events.Topic = value
		case "draft_db_path":
			config.Drafts.DBPath = value
		case "draft_ttl":
			config.Drafts.TTL = value
		case "log_level":
			config.Logging.Level = value
		case "log_format":
			config.Logging.Format = value
		}
	}

	return rows.Err()
}

// loadLimitConfigs 加载限流配置
func (dc *DatabaseConfig) loadLimitConfigs() (*LimitsConfig, error) {
	query := `SELECT action, max_requests, time_window FROM rate_limit_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	limits := GetDefaultConfig().Limits
	found := false

	for rows.Next() {
		var action, window string
		var maxRequests int
		err := rows.Scan(&action, &maxRequests, &window)
		if err != nil {
			return nil, err
		}

		found = true
		limit := &LimitConfig{MaxRequests: maxRequests, Window: window}
		switch strings.ToLower(action) {
		case "submit":
			limits.Submit = limit
		case "update":
			limits.Update = limit
		case "review":
			limits.Review = limit
		case "draft":
			limits.Draft = limit
		}
	}

	if !found {
		return nil, nil
	}
	return limits, rows.Err()
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(key, value string) error {
	query := `
		INSERT INTO portal_config (config_key, config_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`

	_, err := dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(key string) (string, error) {
	query := `SELECT config_value FROM portal_config WHERE config_key = $1 AND is_active = true`
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出所有配置
func (dc *DatabaseConfig) ListConfigs() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM portal_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		err := rows.Scan(&key, &value)
		if err != nil {
			return nil, err
		}
		configs[key] = value
	}

	return configs, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
