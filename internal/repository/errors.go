package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// mysqlDuplicateKey is ER_DUP_ENTRY.
const mysqlDuplicateKey = 1062

// IsDuplicateKey reports whether err is a MySQL unique/primary key violation.
func IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKey {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapError translates driver errors into repository sentinels, keeping the
// original error in the chain for logs.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	}
	if IsDuplicateKey(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateEntry, err)
	}
	return err
}
