package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Account is a registered user together with the coin balance the user owns.
// Balance only ever changes through the transfer and adjustment engines, which
// bump Version on every write (optimistic lock).
type Account struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PhoneNumber  string         `gorm:"type:varchar(32);not null;default:''" json:"phone_number"`
	PasswordHash string         `gorm:"type:varchar(255);not null" json:"-"`
	IsVerified   bool           `gorm:"not null;default:false" json:"is_verified"`
	Balance      int64          `gorm:"not null;default:0" json:"balance"` // minor units
	Version      int            `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Account) TableName() string {
	return "account"
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
