package notify

import (
	"context"
	"errors"
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes call messages to one Kafka topic, keyed by the
// branch call topic so each branch stays ordered within a partition.
type KafkaPublisher struct {
	writer   messageWriter
	resolver TopicResolver
	timeout  time.Duration
}

// NewKafkaPublisher constructs a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, resolver TopicResolver) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka publisher: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer, resolver: resolver, timeout: 5 * time.Second}, nil
}

// Publish writes the notification as JSON.
func (p *KafkaPublisher) Publish(ctx context.Context, n calls.Notification) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher: nil writer")
	}
	payload, err := Encode(n)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(p.resolver.Topic(n.TopicKey)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "msg_id", Value: []byte(n.ID)},
		},
	})
}

// Close closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
