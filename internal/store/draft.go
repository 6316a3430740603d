package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/drafts.db"

	// 存储桶名称
	DraftBucket = "drafts"

	// 键名前缀，固定命名空间
	KeyPrefix = "portal:"
)

// envelope 带过期时间的存储条目
type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// DraftStore 表单草稿存储
//
// 命名空间化的键值存储，支持可选过期时间：Get对缺失或
// 已过期的条目返回nil，并在读取时顺手清除过期条目。
type DraftStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	now    func() time.Time
	mu     sync.Mutex
}

// NewDraftStore 创建草稿存储
func NewDraftStore(dbPath string, logger *logrus.Logger) (*DraftStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开草稿数据库失败: %w", err)
	}

	store := &DraftStore{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("草稿存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *DraftStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(DraftBucket)); err != nil {
			return fmt.Errorf("创建草稿存储桶失败: %w", err)
		}
		return nil
	})
}

// namespacedKey 加上固定前缀的完整键名
func namespacedKey(key string) []byte {
	return []byte(KeyPrefix + key)
}

// Put 保存条目
//
// ttl为0时条目永不过期。
func (s *DraftStore) Put(key string, value json.RawMessage, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		expiresAt := s.now().Add(ttl)
		env.ExpiresAt = &expiresAt
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("序列化草稿失败: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DraftBucket))
		if bucket == nil {
			return fmt.Errorf("草稿存储桶不存在")
		}
		if err := bucket.Put(namespacedKey(key), data); err != nil {
			return fmt.Errorf("保存草稿失败: %w", err)
		}
		return nil
	})
}

// Get 读取条目
//
// 缺失或已过期返回nil；过期条目在读取时被清除。
func (s *DraftStore) Get(key string) (json.RawMessage, error) {
	var value json.RawMessage
	expired := false

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DraftBucket))
		if bucket == nil {
			return nil
		}

		data := bucket.Get(namespacedKey(key))
		if data == nil {
			return nil
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// 损坏的条目按缺失处理，读取时清除
			expired = true
			return nil
		}

		if env.ExpiresAt != nil && !s.now().Before(*env.ExpiresAt) {
			expired = true
			return nil
		}

		value = env.Value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取草稿失败: %w", err)
	}

	if expired {
		if delErr := s.Delete(key); delErr != nil {
			s.logger.Warnf("清除过期草稿 '%s' 失败: %v", key, delErr)
		}
	}

	return value, nil
}

// Delete 删除条目
func (s *DraftStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(DraftBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(namespacedKey(key))
	})
}

// Close 关闭存储
func (s *DraftStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
