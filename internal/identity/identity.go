// Package identity reads user display data from the external identity
// database. The connection is read-only from Signalbox's point of view.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/zulandar/signalbox/internal/config"
)

var (
	// ErrUnavailable is returned when the identity database cannot answer.
	ErrUnavailable = errors.New("identity: unavailable")
	// ErrUserNotFound is returned when no identity row matches the UUID.
	ErrUserNotFound = errors.New("identity: user not found")
)

// DefaultTimeout bounds a single lookup when none is configured.
const DefaultTimeout = 5 * time.Second

// Fields are the per-user values placeholders can be rendered from.
type Fields struct {
	Name string
}

// Store queries the identity database.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects using cfg.Driver ("pgx" in production) and cfg.DSN.
func Open(cfg config.IdentityConfig) (*Store, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", cfg.Driver, err)
	}
	return New(db, cfg.Timeout), nil
}

// New wraps an existing connection. A non-positive timeout uses DefaultTimeout.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DisplayFields returns the display fields for userUUID.
func (s *Store) DisplayFields(ctx context.Context, userUUID string) (Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var name sql.NullString
	query := s.db.Rebind(`SELECT name FROM "user" WHERE uuid = ?`)
	if err := s.db.GetContext(ctx, &name, query, userUUID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fields{}, fmt.Errorf("identity: %s: %w", userUUID, ErrUserNotFound)
		}
		return Fields{}, fmt.Errorf("identity: lookup %s: %w: %w", userUUID, ErrUnavailable, err)
	}
	return Fields{Name: name.String}, nil
}
