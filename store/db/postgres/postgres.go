package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

//go:embed migration/schema.sql
var schema string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection pool for the profile's DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// The recorder and the garbage collector write concurrently with the
	// request path, so keep a small pool warm.
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	return &DB{db: db, profile: profile}, nil
}

// NewDBWithConn wraps an existing connection. Used by tests with sqlmock.
func NewDBWithConn(db *sql.DB, profile *profile.Profile) *DB {
	return &DB{db: db, profile: profile}
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	slog.Info("database schema applied", "driver", "postgres")
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
