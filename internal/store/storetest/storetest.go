// Package storetest opens migrated in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/store"
)

// New returns a Store over a fresh, migrated in-memory SQLite database. The
// pool is pinned to one connection so every query sees the same database.
func New(t testing.TB) *store.Store {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(gdb)
}

// SeedUser inserts u and returns the stored row.
func SeedUser(t testing.TB, s *store.Store, u models.User) *models.User {
	t.Helper()
	if err := s.DB().Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", u.UUID, err)
	}
	got, err := s.GetUser(context.Background(), u.UUID)
	if err != nil {
		t.Fatalf("reload user %s: %v", u.UUID, err)
	}
	return got
}
