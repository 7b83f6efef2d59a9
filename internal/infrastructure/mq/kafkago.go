package mq

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type KafkaGoPublisher struct {
	writer *kafka.Writer
}

// NewKafkaGoPublisher hashes on the key so events for one entry keep their order.
func NewKafkaGoPublisher(brokers []string) *KafkaGoPublisher {
	return &KafkaGoPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaGoPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *KafkaGoPublisher) Close() error {
	return p.writer.Close()
}
