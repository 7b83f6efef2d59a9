package repository

import (
	"context"
	"errors"

	"coinbank/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	return mapError(r.conn(tx).WithContext(ctx).Create(account).Error)
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).
		Where("email = ?", model.NormalizeEmail(email)).
		First(&account).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

// GetByIDForUpdate reads the row with SELECT ... FOR UPDATE; tx is required.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

// UpdateBalance is a compare-and-set on version. Zero affected rows means the
// row either moved to another version or does not exist; a second read tells
// the two apart.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, id int64, newBalance int64, expectedVersion int) (*model.Account, error) {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}

	return r.GetByID(ctx, tx, id)
}

func (r *AccountRepository) List(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	var accounts []*model.Account
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Account{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&accounts).Error

	return accounts, total, err
}

func (r *AccountRepository) UpdateProfile(ctx context.Context, account *model.Account) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", account.ID).
		Select("email", "phone_number", "password_hash", "is_verified").
		Updates(account)

	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, nil, account.ID); err != nil {
			return err
		}
	}
	return nil
}

// SoftDelete marks the account deleted; ledger entries keep referencing it.
func (r *AccountRepository) SoftDelete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Account{})
	if result.Error != nil {
		return mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IsNotFound reports whether err means the account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
