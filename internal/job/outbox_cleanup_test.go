package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinbank/internal/config"
	"coinbank/internal/model"
	"coinbank/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cleanupConfig(batch int) *config.Config {
	return &config.Config{Business: config.BusinessConfig{
		OutboxCleanupInterval: 5 * time.Millisecond,
		OutboxRetention:       time.Hour,
		OutboxBatchSize:       batch,
	}}
}

func TestOutboxCleanup_PurgesOnlyExpiredSent(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store, "TRF1", "TRF2", "TRF3", "TRF4")

	msgs := store.OutboxMessages()
	require.Len(t, msgs, 4)
	ctx := context.Background()
	require.NoError(t, store.MarkAsSent(ctx, msgs[0].ID))
	require.NoError(t, store.MarkAsSent(ctx, msgs[1].ID))
	require.NoError(t, store.MarkAsSent(ctx, msgs[2].ID))
	require.NoError(t, store.MarkAsFailed(ctx, msgs[3].ID))

	job := NewOutboxCleanupJob(store, cleanupConfig(2), zap.NewNop())

	// nothing is older than the retention window yet
	assert.Equal(t, int64(0), job.Purge(ctx))

	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, int64(3), job.Purge(ctx))

	left := store.OutboxMessages()
	require.Len(t, left, 1)
	assert.Equal(t, "TRF4", left[0].MessageKey)
	assert.Equal(t, model.OutboxStatusFailed, left[0].Status)
}

type failingPurger struct{ calls int }

func (p *failingPurger) DeleteSentBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	p.calls++
	return 0, errors.New("db down")
}

func TestOutboxCleanup_StopsOnError(t *testing.T) {
	p := &failingPurger{}
	job := NewOutboxCleanupJob(p, cleanupConfig(10), zap.NewNop())

	assert.Equal(t, int64(0), job.Purge(context.Background()))
	assert.Equal(t, 1, p.calls)
}

func TestOutboxCleanup_StartAndStop(t *testing.T) {
	p := &failingPurger{}
	job := NewOutboxCleanupJob(p, cleanupConfig(10), zap.NewNop())

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup job did not stop")
	}
}
