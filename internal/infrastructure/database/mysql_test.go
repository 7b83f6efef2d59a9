package database

import (
	"testing"

	"coinbank/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.MySQLConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "bank",
		Password: "p@ss",
		Database: "coinbank",
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "bank", parsed.User)
	assert.Equal(t, "p@ss", parsed.Passwd)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "coinbank", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}
