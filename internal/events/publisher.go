package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// 门户事件类型
const (
	EventAppSubmitted = "app_submitted"
	EventAppUpdated   = "app_updated"
	EventAppApproved  = "app_approved"
	EventAppRejected  = "app_rejected"
	EventTxFailed     = "tx_failed"
)

// PortalEvent 门户审计事件
//
// 变更动作本身记录在链上，这里只是给运营侧的异步通知
// 流，发送失败绝不影响门户动作的结果。
type PortalEvent struct {
	Type      string    `json:"type"`
	AppID     uint64    `json:"app_id,omitempty"`
	Actor     string    `json:"actor"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(event *PortalEvent) error
	Close() error
}

// KafkaPublisher Kafka事件发布器
type KafkaPublisher struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaPublisher 创建Kafka事件发布器
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	logger.Infof("初始化事件发布器，brokers: %v, topic: %s", brokers, topic)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	return &KafkaPublisher{
		logger:   logger,
		topic:    topic,
		producer: producer,
	}, nil
}

// Publish 发布事件
func (k *KafkaPublisher) Publish(event *PortalEvent) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.Type),
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送事件到Kafka失败: %w", err)
	}

	k.logger.Debugf("事件 '%s' 已发布 (partition: %d, offset: %d)", event.Type, partition, offset)
	return nil
}

// Close 关闭发布器
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

// NopPublisher 空发布器，未配置brokers时使用
type NopPublisher struct{}

// Publish 丢弃事件
func (NopPublisher) Publish(*PortalEvent) error { return nil }

// Close 无操作
func (NopPublisher) Close() error { return nil }
