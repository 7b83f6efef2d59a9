package service

import (
	"errors"
	"fmt"
)

// Errors returned by the services. Repository errors never escape unwrapped:
// version conflicts are retried, duplicate ledger keys are replayed, and any
// other storage failure becomes ErrContention.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSameAccount          = errors.New("source and destination account are the same")
	ErrContention           = errors.New("account is busy, retry later")
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
	ErrEmailExists          = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidInput         = errors.New("invalid input")
)

// Sides named by AccountNotFoundError.
const (
	SideFrom    = "from"
	SideTo      = "to"
	SideAccount = "account"
)

// AccountNotFoundError says which side of a mutation could not be resolved.
// errors.Is(err, ErrAccountNotFound) holds for it.
type AccountNotFoundError struct {
	Side string
	Ref  AccountRef
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("%s account %s not found", e.Side, e.Ref)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// contention wraps a storage failure without exposing it to errors.Is/As.
func contention(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrContention, op, err)
}
