package repository

import (
	"context"
	"testing"
	"time"

	"coinbank/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository_GetPendingMessages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `outbox_message` WHERE status = \\? ORDER BY id ASC LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_key", "topic", "payload", "status"}).
			AddRow(1, "TRF1", "balance_changed", "{}", model.OutboxStatusPending))

	msgs, err := repo.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "TRF1", msgs[0].MessageKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_IncrementRetryCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	mock.ExpectExec("UPDATE `outbox_message` SET `retry_count`=retry_count \\+ 1 WHERE id = \\?").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementRetryCount(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_DeleteSentBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM `outbox_message` WHERE .*status = \\? AND updated_at < \\?.* LIMIT").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteSentBefore(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
