package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"coinbank/internal/model"
	"coinbank/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust_CreditAndDebit(t *testing.T) {
	store := memory.NewStore()
	a := seedAccount(t, store, "a@x.io", 10)
	svc := newBalanceService(t, store, testConfig())

	credit, err := svc.Adjust(context.Background(), &AdjustRequest{
		Account: ByID(a.ID), Delta: decimal.NewFromInt(15), Remark: "promo",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), credit.Balance)
	assert.Equal(t, int64(15), credit.Delta)
	assert.Regexp(t, "^ADJ", credit.EntryID)

	debit, err := svc.Adjust(context.Background(), &AdjustRequest{
		Account: ByEmail("a@x.io"), Delta: decimal.NewFromInt(-20),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), debit.Balance)
	assert.Equal(t, int64(-20), debit.Delta)
	assert.Equal(t, int64(5), balanceOf(t, store, a.ID))

	entries := store.LedgerEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.LedgerKindAdjustment, entries[0].Kind)
	require.NotNil(t, entries[0].ToAccountID)
	assert.Nil(t, entries[0].FromAccountID)
	assert.Equal(t, "promo", entries[0].Remark)
	require.NotNil(t, entries[1].FromAccountID)
	assert.Nil(t, entries[1].ToAccountID)
	assert.Equal(t, int64(20), entries[1].Amount)
	assert.Equal(t, int64(-5), entries[0].Delta(a.ID)+entries[1].Delta(a.ID))
}

func TestAdjust_NegativeResult(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		store := memory.NewStore()
		a := seedAccount(t, store, "a@x.io", 10)
		svc := newBalanceService(t, store, testConfig())

		_, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(a.ID), Delta: decimal.NewFromInt(-11)})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(10), balanceOf(t, store, a.ID))
		assert.Empty(t, store.LedgerEntries())
	})

	t.Run("allowed when configured", func(t *testing.T) {
		store := memory.NewStore()
		a := seedAccount(t, store, "a@x.io", 10)
		cfg := testConfig()
		cfg.Business.AllowNegativeAdjustment = true
		svc := newBalanceService(t, store, cfg)

		res, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(a.ID), Delta: decimal.NewFromInt(-11)})
		require.NoError(t, err)
		assert.Equal(t, int64(-1), res.Balance)
		assert.Equal(t, int64(-1), balanceOf(t, store, a.ID))
	})
}

func TestAdjust_InvalidDelta(t *testing.T) {
	store := memory.NewStore()
	a := seedAccount(t, store, "a@x.io", 10)
	svc := newBalanceService(t, store, testConfig())

	huge, _ := decimal.NewFromString("-99999999999999999999999")
	for name, delta := range map[string]decimal.Decimal{
		"zero":       decimal.Zero,
		"fractional": decimal.RequireFromString("0.01"),
		"overflow":   huge,
		"min int64":  decimal.NewFromInt(math.MinInt64),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(a.ID), Delta: delta})
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}

	b := seedAccount(t, store, "b@x.io", math.MaxInt64-1)
	_, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(b.ID), Delta: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdjust_AccountNotFound(t *testing.T) {
	svc := newBalanceService(t, memory.NewStore(), testConfig())

	_, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByEmail("ghost@x.io"), Delta: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrAccountNotFound)
	var nf *AccountNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, SideAccount, nf.Side)
}

func TestAdjust_IdempotentReplay(t *testing.T) {
	store := memory.NewStore()
	a := seedAccount(t, store, "a@x.io", 10)
	svc := newBalanceService(t, store, testConfig())

	req := &AdjustRequest{Account: ByID(a.ID), Delta: decimal.NewFromInt(-4), IdempotencyKey: "adj-1"}
	first, err := svc.Adjust(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.Adjust(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Balance, second.Balance)
	assert.Equal(t, int64(6), balanceOf(t, store, a.ID))

	_, err = svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(a.ID), Delta: decimal.NewFromInt(4), IdempotencyKey: "adj-1"})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

func TestAdjust_KeyOfTransferIsReused(t *testing.T) {
	store := memory.NewStore()
	a := seedAccount(t, store, "a@x.io", 10)
	b := seedAccount(t, store, "b@x.io", 0)
	transfers := newTransferService(t, store, testConfig())
	balances := newBalanceService(t, store, testConfig())

	_, err := transfers.Transfer(context.Background(), &TransferRequest{
		From: ByID(a.ID), To: ByID(b.ID), Amount: decimal.NewFromInt(1), IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	_, err = balances.Adjust(context.Background(), &AdjustRequest{Account: ByID(b.ID), Delta: decimal.NewFromInt(1), IdempotencyKey: "shared"})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

func TestAdjust_ContentionAfterRetriesExhausted(t *testing.T) {
	base := memory.NewStore()
	a := seedAccount(t, base, "a@x.io", 10)
	store := &conflictingStore{Store: base}
	store.remaining.Store(1000)
	svc := newBalanceService(t, store, testConfig())

	_, err := svc.Adjust(context.Background(), &AdjustRequest{Account: ByID(a.ID), Delta: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrContention)
	assert.Equal(t, int64(10), balanceOf(t, base, a.ID))
}
