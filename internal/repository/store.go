package repository

import (
	"context"
	"errors"

	"coinbank/internal/model"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrVersionConflict = errors.New("optimistic lock conflict, retry")
	ErrDuplicateEntry  = errors.New("duplicate entry")
)

// UnitOfWork is the transactional view handed to a UnitOfWorkFunc. Reads and
// writes made through it are committed together or not at all.
type UnitOfWork interface {
	AccountByID(ctx context.Context, id int64) (*model.Account, error)
	AccountByEmail(ctx context.Context, email string) (*model.Account, error)

	// LockAccount takes the row lock for id and returns the current row.
	// Callers touching several accounts must lock them in ascending id order.
	LockAccount(ctx context.Context, id int64) (*model.Account, error)

	// UpdateBalance writes newBalance if the row is still at expectedVersion and
	// returns the row with its bumped version. It fails with ErrVersionConflict
	// when the row moved on, and ErrAccountNotFound when it is gone.
	UpdateBalance(ctx context.Context, id int64, newBalance int64, expectedVersion int) (*model.Account, error)

	// AppendLedgerEntry fails with ErrDuplicateEntry if entry.ID already exists.
	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
	AppendOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// UnitOfWorkFunc returning nil commits; returning an error or panicking rolls back.
type UnitOfWorkFunc func(ctx context.Context, uow UnitOfWork) error

// Store is the account and ledger storage used by the services.
type Store interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	ListAccounts(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error)
	// UpdateProfile writes the profile columns only; balance and version are untouched.
	UpdateProfile(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, id int64) error

	ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)
	// GetLedgerEntry returns nil, nil when no entry has that id.
	GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error)

	WithinUnitOfWork(ctx context.Context, fn UnitOfWorkFunc) error
}
