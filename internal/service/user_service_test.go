package service

import (
	"context"
	"testing"

	"coinbank/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newUserService(t *testing.T, store *memory.Store, initialBalance int64) *UserService {
	t.Helper()
	cfg := testConfig()
	cfg.Business.InitialBalance = initialBalance
	svc := NewUserService(store, cfg, zap.NewNop())
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	store := memory.NewStore()
	svc := newUserService(t, store, 100)
	ctx := context.Background()

	account, err := svc.Register(ctx, &RegisterRequest{Email: " Alice@Example.com", Password: "s3cret", PhoneNumber: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, int64(100), account.Balance)
	assert.NotEqual(t, "s3cret", account.PasswordHash)

	_, err = svc.Register(ctx, &RegisterRequest{Email: "alice@example.com", Password: "other"})
	assert.ErrorIs(t, err, ErrEmailExists)

	got, err := svc.Authenticate(ctx, "ALICE@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = svc.Authenticate(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_RegisterRequiresCredentials(t *testing.T) {
	svc := newUserService(t, memory.NewStore(), 0)

	_, err := svc.Register(context.Background(), &RegisterRequest{Email: "  ", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Register(context.Background(), &RegisterRequest{Email: "a@x.io"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserService_UpdateAndPatch(t *testing.T) {
	store := memory.NewStore()
	svc := newUserService(t, store, 5)
	ctx := context.Background()

	a, err := svc.Register(ctx, &RegisterRequest{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, &RegisterRequest{Email: "b@x.io", Password: "pw"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, a.ID, &UpdateRequest{Email: "a2@x.io", Password: "pw2", PhoneNumber: "123"})
	require.NoError(t, err)
	assert.Equal(t, "a2@x.io", updated.Email)
	assert.Equal(t, "123", updated.PhoneNumber)
	assert.Equal(t, int64(5), updated.Balance)

	_, err = svc.Authenticate(ctx, "a2@x.io", "pw2")
	assert.NoError(t, err)

	verified := true
	patched, err := svc.Patch(ctx, a.ID, &PatchRequest{IsVerified: &verified})
	require.NoError(t, err)
	assert.True(t, patched.IsVerified)
	assert.Equal(t, "a2@x.io", patched.Email)

	taken := "b@x.io"
	_, err = svc.Patch(ctx, a.ID, &PatchRequest{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailExists)

	empty := ""
	_, err = svc.Patch(ctx, a.ID, &PatchRequest{Password: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Patch(ctx, 404, &PatchRequest{IsVerified: &verified})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUserService_ListAndDelete(t *testing.T) {
	store := memory.NewStore()
	svc := newUserService(t, store, 0)
	ctx := context.Background()

	var ids []int64
	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		a, err := svc.Register(ctx, &RegisterRequest{Email: email, Password: "pw"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	require.NoError(t, svc.Delete(ctx, ids[1]))
	assert.ErrorIs(t, svc.Delete(ctx, ids[1]), ErrAccountNotFound)
	_, err := svc.Get(ctx, ids[1])
	assert.ErrorIs(t, err, ErrAccountNotFound)

	accounts, page, err := svc.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, accounts, 2)
	assert.Equal(t, ids[0], accounts[0].ID)
	assert.Equal(t, ids[2], accounts[1].ID)

	_, page, err = svc.List(ctx, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.PageSize)
}

func TestUserService_Ledger(t *testing.T) {
	store := memory.NewStore()
	users := newUserService(t, store, 50)
	ctx := context.Background()

	a, err := users.Register(ctx, &RegisterRequest{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	b, err := users.Register(ctx, &RegisterRequest{Email: "b@x.io", Password: "pw"})
	require.NoError(t, err)

	transfers := newTransferService(t, store, testConfig())
	for i := 0; i < 3; i++ {
		_, err := transfers.Transfer(ctx, &TransferRequest{From: ByID(a.ID), To: ByID(b.ID), Amount: decimalOne()})
		require.NoError(t, err)
	}

	entries, page, err := users.Ledger(ctx, b.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, entries, 2)

	_, _, err = users.Ledger(ctx, 404, 1, 10)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
