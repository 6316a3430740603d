package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"portal/internal/logging"
)

// Config 主配置
type Config struct {
	Chain   *ChainConfig       `mapstructure:"chain"`
	Server  *ServerConfig      `mapstructure:"server"`
	Session *SessionConfig     `mapstructure:"session"`
	Limits  *LimitsConfig      `mapstructure:"limits"`
	Events  *EventsConfig      `mapstructure:"events"`
	Drafts  *DraftsConfig      `mapstructure:"drafts"`
	Logging *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链与注册表合约配置
type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         uint64 `mapstructure:"chain_id"`
	RegistryAddress string `mapstructure:"registry_address"`
	PrivateKeyEnv   string `mapstructure:"private_key_env"` // 私钥所在环境变量名，不落配置文件
}

// ServerConfig API服务配置
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	ReadConcurrency int    `mapstructure:"read_concurrency"` // 批量读链的并发上限
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// SessionConfig 身份服务配置
type SessionConfig struct {
	ProviderURL string `mapstructure:"provider_url"`
	Timeout     string `mapstructure:"timeout"`
}

// LimitsConfig 限流配置覆盖
type LimitsConfig struct {
	Submit *LimitConfig `mapstructure:"submit"`
	Update *LimitConfig `mapstructure:"update"`
	Review *LimitConfig `mapstructure:"review"`
	Draft  *LimitConfig `mapstructure:"draft"`
}

// LimitConfig 单个动作的限流参数
type LimitConfig struct {
	MaxRequests int    `mapstructure:"max_requests"`
	Window      string `mapstructure:"window"`
}

// EventsConfig 审计事件配置
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// DraftsConfig 草稿存储配置
type DraftsConfig struct {
	DBPath string `mapstructure:"db_path"`
	TTL    string `mapstructure:"ttl"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("PORTAL_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	// 检查是否存在数据库配置文件
	dbConfigFile := "configs/database.yaml"
	if _, err := os.Stat(dbConfigFile); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(dbConfigFile)
		dbViper.SetConfigType("yaml")

		if err := dbViper.ReadInConfig(); err == nil {
			dbDSN := dbViper.GetString("database.dsn")
			if dbDSN != "" {
				logger := logrus.New()
				dbConfig, err := NewDatabaseConfig(dbDSN, logger)
				if err == nil {
					defer dbConfig.Close()

					config, err := dbConfig.LoadConfig()
					if err == nil {
						logger.Info("已从数据库加载配置")
						return config, nil
					}
				}
			}
		}
	}

	// 数据库配置不可用时回退到YAML文件
	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 检查必填项
func (c *Config) Validate() error {
	if c.Chain == nil {
		return fmt.Errorf("缺少chain配置段")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url不能为空")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id不能为空")
	}
	if c.Chain.RegistryAddress == "" {
		return fmt.Errorf("chain.registry_address不能为空")
	}
	return nil
}

// ParseDuration 解析配置里的时长字符串，空串返回默认值
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			RPCURL:          "", // 需要在YAML配置或数据库中指定
			ChainID:         8453,
			RegistryAddress: "",
			PrivateKeyEnv:   "PORTAL_SIGNER_KEY",
		},
		Server: &ServerConfig{
			Port:            8080,
			ReadConcurrency: 8,
			ShutdownTimeout: "30s",
		},
		Session: &SessionConfig{
			ProviderURL: "http://localhost:9000",
			Timeout:     "5s",
		},
		Limits: &LimitsConfig{
			Submit: &LimitConfig{MaxRequests: 5, Window: "10m"},
			Update: &LimitConfig{MaxRequests: 10, Window: "10m"},
			Review: &LimitConfig{MaxRequests: 30, Window: "10m"},
			Draft:  &LimitConfig{MaxRequests: 60, Window: "1m"},
		},
		Events: &EventsConfig{
			Brokers: nil, // 为空时事件发布关闭
			Topic:   "portal_events",
		},
		Drafts: &DraftsConfig{
			DBPath: "./data/drafts.db",
			TTL:    "168h",
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
