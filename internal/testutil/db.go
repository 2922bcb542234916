// Package testutil holds helpers shared by repository, service and handler tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/finance-api/internal/domain/entity"
)

// NewSQLiteDB opens an in-memory database with the auth schema migrated.
// The pool is limited to one connection, so concurrent transactions run one after another.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	require.NoError(t, db.AutoMigrate(&entity.User{}, &entity.EmailVerification{}, &entity.RefreshToken{}))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateUser inserts an account with an optional password hash.
func CreateUser(t *testing.T, db *gorm.DB, email string, passwordHash *string) *entity.User {
	t.Helper()
	user := &entity.User{Email: email, PasswordHash: passwordHash}
	require.NoError(t, db.Create(user).Error)
	return user
}
