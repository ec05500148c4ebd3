package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend stores records in a single kv_records table of a SQLite file.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	b := &SQLiteBackend{db: db, path: path}
	if err := b.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackend wraps an already opened database without migrating it.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Path() string {
	return b.path
}

func (b *SQLiteBackend) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(b.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (Record, error) {
	query := `
		SELECT key, data, version, updated_at
		FROM kv_records
		WHERE key = ?
	`

	var (
		rec       Record
		updatedAt int64
	)
	err := b.db.QueryRowContext(ctx, query, key).Scan(&rec.Key, &rec.Data, &rec.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to load record %s: %w", key, err)
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, data []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UnixNano()
	next := expectedVersion + 1

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = b.db.ExecContext(ctx, `
			INSERT INTO kv_records (key, data, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, data, next, now)
	} else {
		result, err = b.db.ExecContext(ctx, `
			UPDATE kv_records
			SET data = ?, version = ?, updated_at = ?
			WHERE key = ? AND version = ?
		`, data, next, now, key, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save record %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to save record %s: %w", key, err)
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
