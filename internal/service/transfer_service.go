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

type TransferService struct {
	mutator *mutator
	ids     *idgen.Snowflake
	logger  *zap.Logger
}

func NewTransferService(store repository.Store, ids *idgen.Snowflake, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *TransferService {
	logger = logger.Named("transfer")
	return &TransferService{
		mutator: newMutator(store, cfg, logger, m),
		ids:     ids,
		logger:  logger,
	}
}

type TransferRequest struct {
	From   AccountRef
	To     AccountRef
	Amount decimal.Decimal
	// IdempotencyKey is optional; when set it becomes the ledger entry id.
	IdempotencyKey string
}

type TransferResult struct {
	EntryID       string    `json:"entry_id"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	FromBalance   int64     `json:"from_balance"`
	ToBalance     int64     `json:"to_balance"`
	Replayed      bool      `json:"replayed"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transfer moves req.Amount from one account to another atomically. A request
// carrying an idempotency key that already committed returns the recorded
// result with Replayed set and changes nothing.
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, req)
	s.mutator.observe(model.LedgerKindTransfer, res != nil && res.Replayed, err, start)

	if err != nil {
		if errors.Is(err, ErrContention) {
			s.logger.Warn("transfer failed", zap.Stringer("from", req.From), zap.Stringer("to", req.To), zap.Error(err))
		} else {
			s.logger.Debug("transfer rejected", zap.Stringer("from", req.From), zap.Stringer("to", req.To), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("transfer committed",
		zap.String("entry_id", res.EntryID),
		zap.Int64("from_account_id", res.FromAccountID),
		zap.Int64("to_account_id", res.ToAccountID),
		zap.Int64("amount", res.Amount),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

func (s *TransferService) transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	amount, err := positiveAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.From.IsZero() || req.To.IsZero() {
		return nil, fmt.Errorf("%w: both accounts are required", ErrInvalidInput)
	}
	if sameRef(req.From, req.To) {
		return nil, ErrSameAccount
	}

	if req.IdempotencyKey != "" {
		exists, err := s.mutator.store.ExistsByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, s.mutator.classify(ctx, "check idempotency key", err)
		}
		if exists {
			return s.replay(ctx, req, amount)
		}
	}

	entryID := req.IdempotencyKey
	if entryID == "" {
		entryID = s.ids.TransferNo()
	}

	var result *TransferResult
	err = s.mutator.run(ctx, model.LedgerKindTransfer, func(ctx context.Context, uow repository.UnitOfWork) error {
		result = nil

		from, err := resolve(ctx, uow, req.From, SideFrom)
		if err != nil {
			return err
		}
		to, err := resolve(ctx, uow, req.To, SideTo)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return ErrSameAccount
		}

		locked, failedID, err := lockInOrder(ctx, uow, from.ID, to.ID)
		if err != nil {
			if repository.IsNotFound(err) {
				if failedID == from.ID {
					return &AccountNotFoundError{Side: SideFrom, Ref: req.From}
				}
				return &AccountNotFoundError{Side: SideTo, Ref: req.To}
			}
			return err
		}
		from, to = locked[from.ID], locked[to.ID]

		if from.Balance < amount {
			return fmt.Errorf("%w: balance %d, amount %d", ErrInsufficientFunds, from.Balance, amount)
		}
		newTo, ok := addChecked(to.Balance, amount)
		if !ok {
			return fmt.Errorf("%w: destination balance would overflow", ErrInvalidAmount)
		}
		newFrom := from.Balance - amount

		// writes follow the same ascending order as the locks
		first, second := from, to
		firstBalance, secondBalance := newFrom, newTo
		if to.ID < from.ID {
			first, second = to, from
			firstBalance, secondBalance = newTo, newFrom
		}
		if _, err := uow.UpdateBalance(ctx, first.ID, firstBalance, first.Version); err != nil {
			return err
		}
		if _, err := uow.UpdateBalance(ctx, second.ID, secondBalance, second.Version); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			ID:               entryID,
			Kind:             model.LedgerKindTransfer,
			FromAccountID:    int64Ptr(from.ID),
			ToAccountID:      int64Ptr(to.ID),
			Amount:           amount,
			FromBalanceAfter: int64Ptr(newFrom),
			ToBalanceAfter:   int64Ptr(newTo),
		}
		if err := uow.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := s.mutator.appendEvent(ctx, uow, entry); err != nil {
			return err
		}

		result = transferResultFromEntry(entry)
		return nil
	})

	if err != nil {
		// another request with the same key committed first
		if req.IdempotencyKey != "" && errors.Is(err, repository.ErrDuplicateEntry) {
			return s.replay(ctx, req, amount)
		}
		return nil, s.mutator.classify(ctx, "transfer", err)
	}
	return result, nil
}

// replay answers a retried request from its ledger entry.
func (s *TransferService) replay(ctx context.Context, req *TransferRequest, amount int64) (*TransferResult, error) {
	entry, err := s.mutator.store.GetLedgerEntry(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, s.mutator.classify(ctx, "load ledger entry", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: ledger entry %s vanished", ErrContention, req.IdempotencyKey)
	}

	if entry.Kind != model.LedgerKindTransfer || entry.Amount != amount {
		return nil, ErrIdempotencyKeyReused
	}
	fromOK, err := s.mutator.refMatches(ctx, req.From, entry.FromAccountID)
	if err != nil {
		return nil, s.mutator.classify(ctx, "resolve account", err)
	}
	toOK, err := s.mutator.refMatches(ctx, req.To, entry.ToAccountID)
	if err != nil {
		return nil, s.mutator.classify(ctx, "resolve account", err)
	}
	if !fromOK || !toOK {
		return nil, ErrIdempotencyKeyReused
	}

	res := transferResultFromEntry(entry)
	res.Replayed = true
	return res, nil
}

func transferResultFromEntry(e *model.LedgerEntry) *TransferResult {
	res := &TransferResult{
		EntryID:   e.ID,
		Amount:    e.Amount,
		CreatedAt: e.CreatedAt,
	}
	if e.FromAccountID != nil {
		res.FromAccountID = *e.FromAccountID
	}
	if e.ToAccountID != nil {
		res.ToAccountID = *e.ToAccountID
	}
	if e.FromBalanceAfter != nil {
		res.FromBalance = *e.FromBalanceAfter
	}
	if e.ToBalanceAfter != nil {
		res.ToBalance = *e.ToBalanceAfter
	}
	return res
}

func sameRef(a, b AccountRef) bool {
	if a.ID != 0 && b.ID != 0 {
		return a.ID == b.ID
	}
	if a.ID == 0 && b.ID == 0 {
		return model.NormalizeEmail(a.Email) == model.NormalizeEmail(b.Email)
	}
	return false
}
