package job

import (
	"context"
	"sync"
	"time"

	"coinbank/internal/config"
	"coinbank/internal/infrastructure/metrics"
	"coinbank/internal/infrastructure/mq"
	"coinbank/internal/model"

	"go.uber.org/zap"
)

// Outbox publish results, used as metric labels.
const (
	ResultSent   = "sent"
	ResultRetry  = "retry"
	ResultFailed = "failed"
)

// OutboxStore is the slice of storage the sender needs. Both
// repository.OutboxRepository and memory.Store satisfy it.
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkAsSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

// Locker elects one sender among several instances. A nil Locker means this
// instance always sends.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// OutboxSender publishes pending outbox rows at least once. Consumers
// deduplicate on the message key, which is the ledger entry id.
type OutboxSender struct {
	store      OutboxStore
	publisher  mq.Publisher
	locker     Locker
	logger     *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	batchSize  int
	maxRetries int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewOutboxSender(store OutboxStore, publisher mq.Publisher, locker Locker, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *OutboxSender {
	s := &OutboxSender{
		store:      store,
		publisher:  publisher,
		locker:     locker,
		logger:     logger.Named("outbox"),
		metrics:    m,
		interval:   cfg.Business.OutboxInterval,
		batchSize:  cfg.Business.OutboxBatchSize,
		maxRetries: cfg.Business.OutboxMaxRetryCount,
		stopCh:     make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = 500 * time.Millisecond
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 1
	}
	return s
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender stopped", zap.Error(ctx.Err()))
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Tick drains one batch if this instance holds the sender lock. It returns
// the number of messages published.
func (s *OutboxSender) Tick(ctx context.Context) int {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Warn("acquire sender lock", zap.Error(err))
			return 0
		}
		if !ok {
			return 0
		}
		defer func() {
			// the tick ctx may already be done
			if err := s.locker.Unlock(context.Background()); err != nil {
				s.logger.Warn("release sender lock", zap.Error(err))
			}
		}()
	}

	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.store.MarkAsSent(ctx, msg.ID); err != nil {
			// published but not marked; it goes out again next tick
			s.logger.Error("mark message sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
		s.metrics.OutboxResult(ResultSent)
		s.logger.Debug("message published",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
		)
		return true
	}

	s.logger.Warn("publish message", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("increment retry count", zap.Int64("id", msg.ID), zap.Error(err))
	}

	if msg.RetryCount+1 >= s.maxRetries {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("mark message failed", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			s.logger.Error("message exceeded max retries", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
		}
		s.metrics.OutboxResult(ResultFailed)
		return false
	}
	s.metrics.OutboxResult(ResultRetry)
	return false
}
