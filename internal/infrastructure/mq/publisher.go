package mq

import (
	"context"
	"fmt"

	"coinbank/internal/config"
)

// Publisher delivers one keyed message and returns once the broker has
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// NewPublisher picks the client named by cfg.Client.
func NewPublisher(cfg *config.KafkaConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	switch cfg.Client {
	case config.KafkaClientKafkaGo:
		return NewKafkaGoPublisher(cfg.Brokers), nil
	case config.KafkaClientSarama, "":
		return NewSaramaPublisher(cfg.Brokers)
	default:
		return nil, fmt.Errorf("kafka: unknown client %q", cfg.Client)
	}
}
