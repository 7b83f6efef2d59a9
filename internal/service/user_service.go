package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coinbank/internal/config"
	"coinbank/internal/model"
	"coinbank/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type UserService struct {
	store          repository.Store
	logger         *zap.Logger
	initialBalance int64
	bcryptCost     int
}

func NewUserService(store repository.Store, cfg *config.Config, logger *zap.Logger) *UserService {
	return &UserService{
		store:          store,
		logger:         logger.Named("user"),
		initialBalance: cfg.Business.InitialBalance,
		bcryptCost:     bcrypt.DefaultCost,
	}
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	PhoneNumber string `json:"phone_number"`
}

// UpdateRequest replaces the whole profile.
type UpdateRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	PhoneNumber string `json:"phone_number"`
}

// PatchRequest changes only the fields that are set.
type PatchRequest struct {
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	PhoneNumber *string `json:"phone_number"`
	IsVerified  *bool   `json:"is_verified"`
}

type Page struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// Register creates an account holding the configured initial balance.
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*model.Account, error) {
	email := model.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Email:        email,
		PhoneNumber:  strings.TrimSpace(req.PhoneNumber),
		PasswordHash: hash,
		Balance:      s.initialBalance,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered", zap.Int64("account_id", account.ID), zap.String("email", account.Email))
	return account, nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, s.notFound(id, err)
	}
	return account, nil
}

func (s *UserService) List(ctx context.Context, page, pageSize int) ([]*model.Account, *Page, error) {
	page, pageSize = normalizePage(page, pageSize)
	accounts, total, err := s.store.ListAccounts(ctx, page, pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, &Page{Page: page, PageSize: pageSize, Total: total}, nil
}

func (s *UserService) Update(ctx context.Context, id int64, req *UpdateRequest) (*model.Account, error) {
	if model.NormalizeEmail(req.Email) == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	return s.Patch(ctx, id, &PatchRequest{
		Email:       &req.Email,
		Password:    &req.Password,
		PhoneNumber: &req.PhoneNumber,
	})
}

func (s *UserService) Patch(ctx context.Context, id int64, req *PatchRequest) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, s.notFound(id, err)
	}

	if req.Email != nil {
		email := model.NormalizeEmail(*req.Email)
		if email == "" {
			return nil, fmt.Errorf("%w: email must not be empty", ErrInvalidInput)
		}
		account.Email = email
	}
	if req.Password != nil {
		if *req.Password == "" {
			return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidInput)
		}
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
	}
	if req.PhoneNumber != nil {
		account.PhoneNumber = strings.TrimSpace(*req.PhoneNumber)
	}
	if req.IsVerified != nil {
		account.IsVerified = *req.IsVerified
	}

	if err := s.store.UpdateProfile(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrEmailExists
		}
		return nil, s.notFound(id, err)
	}

	// balance may have moved since the read above
	return s.Get(ctx, id)
}

// Delete soft deletes the account; its ledger entries are kept.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return s.notFound(id, err)
	}
	s.logger.Info("account deleted", zap.Int64("account_id", id))
	return nil
}

// Ledger lists the entries touching the account, newest first.
func (s *UserService) Ledger(ctx context.Context, id int64, page, pageSize int) ([]*model.LedgerEntry, *Page, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, nil, err
	}

	page, pageSize = normalizePage(page, pageSize)
	entries, total, err := s.store.ListLedgerEntries(ctx, id, page, pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, &Page{Page: page, PageSize: pageSize, Total: total}, nil
}

func (s *UserService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password too long", ErrInvalidInput)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *UserService) notFound(id int64, err error) error {
	if repository.IsNotFound(err) {
		return &AccountNotFoundError{Side: SideAccount, Ref: ByID(id)}
	}
	return err
}
