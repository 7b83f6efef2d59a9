package repository

import (
	"context"

	"coinbank/internal/model"

	"gorm.io/gorm"
)

// GormStore is the MySQL backed Store. Units of work are gorm transactions, so
// they inherit InnoDB row locks and repeatable-read snapshots.
type GormStore struct {
	db       *gorm.DB
	accounts *AccountRepository
	ledger   *LedgerRepository
	outbox   *OutboxRepository
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:       db,
		accounts: NewAccountRepository(db),
		ledger:   NewLedgerRepository(db),
		outbox:   NewOutboxRepository(db),
	}
}

// Outbox exposes the outbox table to the sender job.
func (s *GormStore) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *GormStore) CreateAccount(ctx context.Context, account *model.Account) error {
	return s.accounts.Create(ctx, nil, account)
}

func (s *GormStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.accounts.GetByID(ctx, nil, id)
}

func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.accounts.GetByEmail(ctx, nil, email)
}

func (s *GormStore) ListAccounts(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	return s.accounts.List(ctx, page, pageSize)
}

func (s *GormStore) UpdateProfile(ctx context.Context, account *model.Account) error {
	return s.accounts.UpdateProfile(ctx, account)
}

func (s *GormStore) DeleteAccount(ctx context.Context, id int64) error {
	return s.accounts.SoftDelete(ctx, id)
}

func (s *GormStore) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return s.ledger.ExistsByIdempotencyKey(ctx, key)
}

func (s *GormStore) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	return s.ledger.GetByID(ctx, id)
}

func (s *GormStore) ListLedgerEntries(ctx context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledger.ListByAccountID(ctx, accountID, page, pageSize)
}

// WithinUnitOfWork runs fn in a transaction. gorm rolls back when fn returns an
// error or panics; a context cancelled before commit also rolls back.
func (s *GormStore) WithinUnitOfWork(ctx context.Context, fn UnitOfWorkFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := &gormUnitOfWork{tx: tx, store: s}
		if err := fn(ctx, uow); err != nil {
			return err
		}
		return ctx.Err()
	})
}

type gormUnitOfWork struct {
	tx    *gorm.DB
	store *GormStore
}

func (u *gormUnitOfWork) AccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return u.store.accounts.GetByID(ctx, u.tx, id)
}

func (u *gormUnitOfWork) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return u.store.accounts.GetByEmail(ctx, u.tx, email)
}

func (u *gormUnitOfWork) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	return u.store.accounts.GetByIDForUpdate(ctx, u.tx, id)
}

func (u *gormUnitOfWork) UpdateBalance(ctx context.Context, id int64, newBalance int64, expectedVersion int) (*model.Account, error) {
	return u.store.accounts.UpdateBalance(ctx, u.tx, id, newBalance, expectedVersion)
}

func (u *gormUnitOfWork) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return u.store.ledger.Append(ctx, u.tx, entry)
}

func (u *gormUnitOfWork) AppendOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	return u.store.outbox.Create(ctx, u.tx, msg)
}
