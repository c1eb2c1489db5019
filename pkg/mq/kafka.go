// Package mq 提供 Kafka producer 封装，支持重试与批量发送
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/trading-api/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Message 待发送消息
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
	config KafkaConfig
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        cfg.RetryBackoff,
		WriteBackoffMax:        cfg.RetryBackoff * 10,
	}

	logger.Info(context.Background(), "Kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer, config: cfg}
}

// Send 批量发送消息，同一 key 落在同一分区
func (kp *KafkaProducer) Send(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMessages := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		km := kafka.Message{
			Topic: topic,
			Key:   []byte(msg.Key),
			Value: msg.Value,
		}
		for k, v := range msg.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		kafkaMessages = append(kafkaMessages, km)
	}

	if err := kp.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		logger.Error(ctx, "Failed to send Kafka messages", "topic", topic, "count", len(kafkaMessages), "error", err)
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}

	logger.Debug(ctx, "Kafka messages sent", "topic", topic, "count", len(kafkaMessages))
	return nil
}

// Close 关闭生产者，刷新未发送的消息
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
