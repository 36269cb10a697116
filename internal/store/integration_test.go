//go:build integration

package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/store"
	"github.com/zulandar/signalbox/internal/store/storetest"
)

// openMySQL creates a throwaway database on the server named by
// SIGNALBOX_TEST_MYSQL_HOST and returns a migrated store over it.
func openMySQL(t *testing.T) *store.Store {
	t.Helper()
	host := os.Getenv("SIGNALBOX_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("SIGNALBOX_TEST_MYSQL_HOST not set")
	}
	cfg := config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     3306,
		User:     "root",
		Password: os.Getenv("SIGNALBOX_TEST_MYSQL_PASSWORD"),
		Name:     fmt.Sprintf("signalbox_store_%d", time.Now().UnixNano()),
	}

	admin, err := db.ConnectAdmin(cfg)
	require.NoError(t, err)
	require.NoError(t, db.CreateDatabase(admin, cfg.Name))
	t.Cleanup(func() { db.DropDatabase(admin, cfg.Name) })

	gdb, err := db.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	return store.New(gdb)
}

func TestMySQL_MarkNotifiedRace(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()
	storetest.SeedUser(t, s, models.NewUser("u-1", "u1@example.com"))

	msg, err := s.CreateMessage(ctx, store.NewMessage{ToUserUUID: "u-1", Text: "hi", Priority: models.PriorityPendingAllUsers})
	require.NoError(t, err)

	const callers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkNotified(ctx, msg.UUID)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMySQL_DuplicateEmailIsConflict(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreateUser(ctx, "u-1", "same@example.com")
	require.NoError(t, err)
	_, _, err = s.GetOrCreateUser(ctx, "u-2", "same@example.com")
	require.ErrorIs(t, err, store.ErrConflict)
	assert.True(t, store.IsRetryable(err))
}
