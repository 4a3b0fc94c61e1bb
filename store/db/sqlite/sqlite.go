package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

//go:embed migration/schema.sql
var schema string

// deleteBatchSize keeps IN lists under SQLite's host parameter limit.
const deleteBatchSize = 500

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: nothing in the schema references another table.
	// - Journal mode set to WAL: the recorder writes while the garbage collector reads.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	separator := "?"
	if strings.Contains(profile.DSN, "?") {
		separator = "&"
	}
	sqliteDB, err := sql.Open("sqlite", profile.DSN+separator+"_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite: single connection is optimal with WAL
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	slog.Info("database schema applied", "driver", "sqlite")
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// deleteByIDs deletes rows of table whose id is in ids, in batches.
func (d *DB) deleteByIDs(ctx context.Context, table string, ids []string) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		stmt := "DELETE FROM " + table + " WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ") + ")"
		result, err := d.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return total, errors.Wrapf(err, "failed to delete from %s", table)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, errors.Wrap(err, "failed to read rows affected")
		}
		total += n
	}
	return total, nil
}

func (d *DB) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ids")
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
