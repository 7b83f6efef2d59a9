package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"coinbank/internal/config"
	"coinbank/internal/model"
	"coinbank/internal/repository"
	"coinbank/internal/repository/memory"
	"coinbank/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Client: config.KafkaClientSarama,
			Topic:  config.KafkaTopicConfig{BalanceChanged: "balance_changed"},
		},
		Business: config.BusinessConfig{
			MaxMutationRetries: 3,
			RetryBaseDelay:     time.Millisecond,
		},
	}
}

func testIDs(t *testing.T) *idgen.Snowflake {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)
	return ids
}

func seedAccount(t *testing.T, store *memory.Store, email string, balance int64) *model.Account {
	t.Helper()
	a := &model.Account{Email: email, PasswordHash: "x", Balance: balance}
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

func balanceOf(t *testing.T, store repository.Store, id int64) int64 {
	t.Helper()
	a, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func newTransferService(t *testing.T, store repository.Store, cfg *config.Config) *TransferService {
	t.Helper()
	return NewTransferService(store, testIDs(t), cfg, zap.NewNop(), nil)
}

func newBalanceService(t *testing.T, store repository.Store, cfg *config.Config) *BalanceService {
	t.Helper()
	return NewBalanceService(store, testIDs(t), cfg, zap.NewNop(), nil)
}

// conflictingStore makes the first n UpdateBalance calls fail with a version
// conflict, as if another writer got there first.
type conflictingStore struct {
	repository.Store
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (s *conflictingStore) WithinUnitOfWork(ctx context.Context, fn repository.UnitOfWorkFunc) error {
	s.attempts.Add(1)
	return s.Store.WithinUnitOfWork(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return fn(ctx, &conflictingUnitOfWork{UnitOfWork: uow, store: s})
	})
}

type conflictingUnitOfWork struct {
	repository.UnitOfWork
	store *conflictingStore
}

func (u *conflictingUnitOfWork) UpdateBalance(ctx context.Context, id int64, newBalance int64, expectedVersion int) (*model.Account, error) {
	if u.store.remaining.Add(-1) >= 0 {
		return nil, repository.ErrVersionConflict
	}
	return u.UnitOfWork.UpdateBalance(ctx, id, newBalance, expectedVersion)
}

// deletingStore soft deletes victim after the unit of work has staged its
// writes but before it commits.
type deletingStore struct {
	repository.Store
	victim int64
}

func (s *deletingStore) WithinUnitOfWork(ctx context.Context, fn repository.UnitOfWorkFunc) error {
	return s.Store.WithinUnitOfWork(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		if err := fn(ctx, uow); err != nil {
			return err
		}
		return s.Store.DeleteAccount(ctx, s.victim)
	})
}

// brokenStore fails every unit of work with a raw driver style error.
type brokenStore struct {
	repository.Store
	err error
}

func (s *brokenStore) WithinUnitOfWork(ctx context.Context, fn repository.UnitOfWorkFunc) error {
	return s.err
}

func decimalOne() decimal.Decimal {
	return decimal.NewFromInt(1)
}
