package mq

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

type SaramaPublisher struct {
	producer sarama.SyncProducer
}

func NewSaramaPublisher(brokers []string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}
	return NewSaramaPublisherFromProducer(producer), nil
}

func NewSaramaPublisherFromProducer(producer sarama.SyncProducer) *SaramaPublisher {
	return &SaramaPublisher{producer: producer}
}

// Publish ignores ctx; SyncProducer has no cancellation.
func (p *SaramaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
