package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_UpdateBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("applies when version matches", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)

		mock.ExpectExec("UPDATE `account` SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT \\* FROM `account`").
			WillReturnRows(accountRows().AddRow(1, "a@x.io", "h", 70, 4))

		got, err := repo.UpdateBalance(ctx, db, 1, 70, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(70), got.Balance)
		assert.Equal(t, 4, got.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)

		mock.ExpectExec("UPDATE `account` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM `account`").
			WillReturnRows(accountRows().AddRow(1, "a@x.io", "h", 100, 5))

		_, err := repo.UpdateBalance(ctx, db, 1, 70, 3)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)

		mock.ExpectExec("UPDATE `account` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM `account`").WillReturnRows(accountRows())

		_, err := repo.UpdateBalance(ctx, db, 1, 70, 3)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is passed through", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)
		boom := errors.New("connection reset")

		mock.ExpectExec("UPDATE `account` SET").WillReturnError(boom)

		_, err := repo.UpdateBalance(ctx, db, 1, 70, 3)
		assert.ErrorIs(t, err, boom)
	})
}

func TestAccountRepository_GetByEmailNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `account`").WillReturnRows(accountRows())

	_, err := repo.GetByEmail(context.Background(), nil, "Nobody@x.io")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetByIDForUpdateLocksRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `account` .* FOR UPDATE").
		WillReturnRows(accountRows().AddRow(7, "a@x.io", "h", 10, 0))

	got, err := repo.GetByIDForUpdate(context.Background(), db, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SoftDeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE `account` SET `deleted_at`").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), 9)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SoftDeleteDriverError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	raw := errors.New("driver: bad connection")

	mock.ExpectExec("UPDATE `account` SET `deleted_at`").WillReturnError(raw)

	err := repo.SoftDelete(context.Background(), 9)
	assert.ErrorIs(t, err, raw)
	assert.False(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
