package model

import (
	"time"
)

const (
	LedgerKindTransfer   = "TRANSFER"
	LedgerKindAdjustment = "ADJUSTMENT"
)

// LedgerEntry is the append-only record of one committed balance mutation.
//
// ID doubles as the idempotency key: it is the caller's key when one was sent,
// otherwise an engine generated number. Entries are never updated or deleted.
//
// A transfer moves Amount from FromAccountID to ToAccountID. An adjustment sets
// exactly one side: FromAccountID for a debit, ToAccountID for a credit.
// The balances after the mutation are stored so a replayed request gets the
// original answer back.
type LedgerEntry struct {
	ID               string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Kind             string    `gorm:"type:varchar(20);not null" json:"kind"`
	FromAccountID    *int64    `gorm:"index" json:"from_account_id,omitempty"`
	ToAccountID      *int64    `gorm:"index" json:"to_account_id,omitempty"`
	Amount           int64     `gorm:"not null" json:"amount"` // always positive
	FromBalanceAfter *int64    `json:"from_balance_after,omitempty"`
	ToBalanceAfter   *int64    `json:"to_balance_after,omitempty"`
	Remark           string    `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// Delta returns the signed balance change this entry applied to accountID.
func (e *LedgerEntry) Delta(accountID int64) int64 {
	var d int64
	if e.FromAccountID != nil && *e.FromAccountID == accountID {
		d -= e.Amount
	}
	if e.ToAccountID != nil && *e.ToAccountID == accountID {
		d += e.Amount
	}
	return d
}

// Touches reports whether the entry references accountID on either side.
func (e *LedgerEntry) Touches(accountID int64) bool {
	return (e.FromAccountID != nil && *e.FromAccountID == accountID) ||
		(e.ToAccountID != nil && *e.ToAccountID == accountID)
}
