package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"sealwatch/internal/decision"
)

// MessageWriter 是 *kafka.Writer 上用到的那一部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 以 "strategy|symbol" 为 key 写入，保证同一组合的记录落在同一分区且有序。
type Kafka struct {
	writer MessageWriter
	topic  string
}

func NewKafka(w MessageWriter, topic string) *Kafka {
	return &Kafka{writer: w, topic: topic}
}

// NewKafkaWriter 创建同步写入的 writer，按 key 哈希分区。
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers 不能为空")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, rec decision.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Key()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(rec.Action)},
			{Key: "snapshot_id", Value: []byte(rec.SnapshotID)},
		},
	})
}

func (k *Kafka) Close() error { return k.writer.Close() }
