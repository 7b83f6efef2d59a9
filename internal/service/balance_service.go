package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinbank/internal/config"
	"coinbank/internal/infrastructure/metrics"
	"coinbank/internal/model"
	"coinbank/internal/repository"
	"coinbank/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceService applies administrative credits and debits to a single account.
type BalanceService struct {
	mutator       *mutator
	ids           *idgen.Snowflake
	logger        *zap.Logger
	allowNegative bool
}

func NewBalanceService(store repository.Store, ids *idgen.Snowflake, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *BalanceService {
	logger = logger.Named("balance")
	return &BalanceService{
		mutator:       newMutator(store, cfg, logger, m),
		ids:           ids,
		logger:        logger,
		allowNegative: cfg.Business.AllowNegativeAdjustment,
	}
}

type AdjustRequest struct {
	Account        AccountRef
	Delta          decimal.Decimal // signed, non-zero
	IdempotencyKey string
	Remark         string
}

type AdjustResult struct {
	EntryID   string    `json:"entry_id"`
	AccountID int64     `json:"account_id"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Replayed  bool      `json:"replayed"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *BalanceService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	start := time.Now()
	res, err := s.adjust(ctx, req)
	s.mutator.observe(model.LedgerKindAdjustment, res != nil && res.Replayed, err, start)

	if err != nil {
		if errors.Is(err, ErrContention) {
			s.logger.Warn("adjustment failed", zap.Stringer("account", req.Account), zap.Error(err))
		} else {
			s.logger.Debug("adjustment rejected", zap.Stringer("account", req.Account), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("adjustment committed",
		zap.String("entry_id", res.EntryID),
		zap.Int64("account_id", res.AccountID),
		zap.Int64("delta", res.Delta),
		zap.Int64("balance", res.Balance),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

func (s *BalanceService) adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	delta, err := nonZeroDelta(req.Delta)
	if err != nil {
		return nil, err
	}
	if req.Account.IsZero() {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}

	if req.IdempotencyKey != "" {
		exists, err := s.mutator.store.ExistsByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, s.mutator.classify(ctx, "check idempotency key", err)
		}
		if exists {
			return s.replay(ctx, req, delta)
		}
	}

	entryID := req.IdempotencyKey
	if entryID == "" {
		entryID = s.ids.AdjustmentNo()
	}

	var result *AdjustResult
	err = s.mutator.run(ctx, model.LedgerKindAdjustment, func(ctx context.Context, uow repository.UnitOfWork) error {
		result = nil

		account, err := resolve(ctx, uow, req.Account, SideAccount)
		if err != nil {
			return err
		}
		account, err = uow.LockAccount(ctx, account.ID)
		if err != nil {
			if repository.IsNotFound(err) {
				return &AccountNotFoundError{Side: SideAccount, Ref: req.Account}
			}
			return err
		}

		newBalance, ok := addChecked(account.Balance, delta)
		if !ok {
			return fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
		}
		if delta < 0 && newBalance < 0 && !s.allowNegative {
			return fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientFunds, account.Balance, delta)
		}

		if _, err := uow.UpdateBalance(ctx, account.ID, newBalance, account.Version); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			ID:     entryID,
			Kind:   model.LedgerKindAdjustment,
			Remark: req.Remark,
		}
		if delta < 0 {
			entry.FromAccountID = int64Ptr(account.ID)
			entry.FromBalanceAfter = int64Ptr(newBalance)
			entry.Amount = -delta
		} else {
			entry.ToAccountID = int64Ptr(account.ID)
			entry.ToBalanceAfter = int64Ptr(newBalance)
			entry.Amount = delta
		}
		if err := uow.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.mutator.appendEvent(ctx, uow, entry); err != nil {
			return err
		}

		result = adjustResultFromEntry(entry)
		return nil
	})

	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, repository.ErrDuplicateEntry) {
			return s.replay(ctx, req, delta)
		}
		return nil, s.mutator.classify(ctx, "adjust balance", err)
	}
	return result, nil
}

func (s *BalanceService) replay(ctx context.Context, req *AdjustRequest, delta int64) (*AdjustResult, error) {
	entry, err := s.mutator.store.GetLedgerEntry(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, s.mutator.classify(ctx, "load ledger entry", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: ledger entry %s vanished", ErrContention, req.IdempotencyKey)
	}
	if entry.Kind != model.LedgerKindAdjustment {
		return nil, ErrIdempotencyKeyReused
	}

	res := adjustResultFromEntry(entry)
	if res.Delta != delta {
		return nil, ErrIdempotencyKeyReused
	}
	ok, err := s.mutator.refMatches(ctx, req.Account, int64Ptr(res.AccountID))
	if err != nil {
		return nil, s.mutator.classify(ctx, "resolve account", err)
	}
	if !ok {
		return nil, ErrIdempotencyKeyReused
	}

	res.Replayed = true
	return res, nil
}

func adjustResultFromEntry(e *model.LedgerEntry) *AdjustResult {
	res := &AdjustResult{
		EntryID:   e.ID,
		CreatedAt: e.CreatedAt,
	}
	switch {
	case e.ToAccountID != nil:
		res.AccountID = *e.ToAccountID
		res.Delta = e.Amount
		if e.ToBalanceAfter != nil {
			res.Balance = *e.ToBalanceAfter
		}
	case e.FromAccountID != nil:
		res.AccountID = *e.FromAccountID
		res.Delta = -e.Amount
		if e.FromBalanceAfter != nil {
			res.Balance = *e.FromBalanceAfter
		}
	}
	return res
}
