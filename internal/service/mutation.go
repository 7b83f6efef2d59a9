package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"coinbank/internal/config"
	"coinbank/internal/infrastructure/metrics"
	"coinbank/internal/model"
	"coinbank/internal/repository"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const defaultRetryBaseDelay = 10 * time.Millisecond

// mutator runs balance mutations as units of work and retries the whole unit
// when a version check fails. It is shared by TransferService and
// BalanceService and holds no per-request state.
type mutator struct {
	store      repository.Store
	metrics    *metrics.Metrics
	logger     *zap.Logger
	topic      string // empty disables outbox events
	maxRetries uint64
	baseDelay  time.Duration
}

func newMutator(store repository.Store, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *mutator {
	mu := &mutator{
		store:     store,
		metrics:   m,
		logger:    logger,
		baseDelay: cfg.Business.RetryBaseDelay,
	}
	if cfg.Business.MaxMutationRetries > 0 {
		mu.maxRetries = uint64(cfg.Business.MaxMutationRetries)
	}
	if mu.baseDelay <= 0 {
		mu.baseDelay = defaultRetryBaseDelay
	}
	if cfg.KafkaEnabled() {
		mu.topic = cfg.Kafka.Topic.BalanceChanged
	}
	return mu
}

// run executes fn in a fresh unit of work, retrying on ErrVersionConflict with
// jittered exponential backoff.
func (m *mutator) run(ctx context.Context, kind string, fn repository.UnitOfWorkFunc) error {
	b := retry.NewExponential(m.baseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(m.maxRetries, b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			m.metrics.MutationRetried(kind)
			m.logger.Debug("retrying after version conflict", zap.String("kind", kind), zap.Int("attempt", attempt))
		}

		err := m.store.WithinUnitOfWork(ctx, fn)
		if errors.Is(err, repository.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// classify turns whatever run returned into an error callers may see.
func (m *mutator) classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isBusinessError(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %s: retries exhausted", ErrContention, op)
	case repository.IsNotFound(err):
		// the row went away between lock and commit
		return fmt.Errorf("%w: %s: %v", ErrAccountNotFound, op, err)
	default:
		return contention(op, err)
	}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrAccountNotFound,
		ErrInsufficientFunds,
		ErrInvalidAmount,
		ErrSameAccount,
		ErrIdempotencyKeyReused,
		ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (m *mutator) observe(kind string, replayed bool, err error, start time.Time) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil && isBusinessError(err):
		outcome = metrics.OutcomeRejected
	case err != nil:
		outcome = metrics.OutcomeFailed
	case replayed:
		outcome = metrics.OutcomeReplayed
	}
	m.metrics.ObserveMutation(kind, outcome, time.Since(start).Seconds())
}

// resolve reads the account behind ref inside the unit of work.
func resolve(ctx context.Context, uow repository.UnitOfWork, ref AccountRef, side string) (*model.Account, error) {
	var (
		account *model.Account
		err     error
	)
	if ref.ID != 0 {
		account, err = uow.AccountByID(ctx, ref.ID)
	} else {
		account, err = uow.AccountByEmail(ctx, ref.Email)
	}
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, &AccountNotFoundError{Side: side, Ref: ref}
		}
		return nil, err
	}
	return account, nil
}

// lockInOrder takes row locks in ascending id order and returns the locked
// rows keyed by id. On failure it also returns the id it could not lock.
func lockInOrder(ctx context.Context, uow repository.UnitOfWork, ids ...int64) (map[int64]*model.Account, int64, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	locked := make(map[int64]*model.Account, len(sorted))
	for _, id := range sorted {
		if _, ok := locked[id]; ok {
			continue
		}
		account, err := uow.LockAccount(ctx, id)
		if err != nil {
			return nil, id, err
		}
		locked[id] = account
	}
	return locked, 0, nil
}

// appendEvent enqueues a BALANCE_CHANGED message for entry in the same unit of work.
func (m *mutator) appendEvent(ctx context.Context, uow repository.UnitOfWork, entry *model.LedgerEntry) error {
	if m.topic == "" {
		return nil
	}

	payload, err := json.Marshal(model.BalanceChangedEvent{
		EntryID:       entry.ID,
		Kind:          entry.Kind,
		FromAccountID: entry.FromAccountID,
		ToAccountID:   entry.ToAccountID,
		Amount:        entry.Amount,
		FromBalance:   entry.FromBalanceAfter,
		ToBalance:     entry.ToBalanceAfter,
		OccurredAt:    entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal balance event: %w", err)
	}

	return uow.AppendOutbox(ctx, &model.OutboxMessage{
		MessageKey: entry.ID,
		Topic:      m.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// refMatches reports whether ref names the account with the given id.
func (m *mutator) refMatches(ctx context.Context, ref AccountRef, id *int64) (bool, error) {
	if id == nil {
		return false, nil
	}
	if ref.ID != 0 {
		return ref.ID == *id, nil
	}
	account, err := m.store.GetAccountByEmail(ctx, ref.Email)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return account.ID == *id, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
