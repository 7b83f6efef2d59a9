package job

import (
	"context"
	"sync"
	"time"

	"coinbank/internal/config"

	"go.uber.org/zap"
)

// SentOutboxPurger deletes published outbox rows.
type SentOutboxPurger interface {
	DeleteSentBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// OutboxCleanupJob keeps the outbox table small by purging SENT rows older
// than the retention window. PENDING and FAILED rows are never touched.
type OutboxCleanupJob struct {
	store     SentOutboxPurger
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewOutboxCleanupJob(store SentOutboxPurger, cfg *config.Config, logger *zap.Logger) *OutboxCleanupJob {
	j := &OutboxCleanupJob{
		store:     store,
		logger:    logger.Named("outbox_cleanup"),
		interval:  cfg.Business.OutboxCleanupInterval,
		retention: cfg.Business.OutboxRetention,
		batchSize: cfg.Business.OutboxBatchSize,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	if j.interval <= 0 {
		j.interval = time.Minute
	}
	if j.retention <= 0 {
		j.retention = 24 * time.Hour
	}
	if j.batchSize <= 0 {
		j.batchSize = 100
	}
	return j
}

func (j *OutboxCleanupJob) Start(ctx context.Context) {
	j.logger.Info("outbox cleanup started", zap.Duration("retention", j.retention))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("outbox cleanup stopped", zap.Error(ctx.Err()))
			return
		case <-j.stopCh:
			j.logger.Info("outbox cleanup stopped")
			return
		case <-ticker.C:
			j.Purge(ctx)
		}
	}
}

func (j *OutboxCleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// Purge deletes expired rows in batches until a short batch comes back.
func (j *OutboxCleanupJob) Purge(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.retention)

	var total int64
	for ctx.Err() == nil {
		n, err := j.store.DeleteSentBefore(ctx, cutoff, j.batchSize)
		if err != nil {
			j.logger.Error("purge sent messages", zap.Error(err))
			break
		}
		total += n
		if n < int64(j.batchSize) {
			break
		}
	}

	if total > 0 {
		j.logger.Info("purged sent messages", zap.Int64("count", total), zap.Time("cutoff", cutoff))
	}
	return total
}
