// Package dbtest hands tests a migrated, throwaway SQLite database.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shinyyama/rental-backend/internal/db"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// User inserts a user with the given name and returns it.
func User(t testing.TB, gdb *gorm.DB, name string) model.User {
	t.Helper()
	u := model.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

// Property inserts a property owned by ownerID and returns it.
func Property(t testing.TB, gdb *gorm.DB, ownerID uint64, title string) model.Property {
	t.Helper()
	p := model.Property{OwnerID: ownerID, Title: title, City: "Tokyo", MonthlyRent: 120000}
	require.NoError(t, gdb.Create(&p).Error)
	return p
}
