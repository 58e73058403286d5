package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"webp-gateway/internal/cache"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

const schemaVersion = "1"

// Database is a cache.Index backed by SQLite.
type Database struct {
	db     *sql.DB
	dbPath string
}

var _ cache.Index = (*Database)(nil)

// New opens or creates the index at dbPath, creating its parent directory.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Artifact index path: %s", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Artifact index permission diagnostics: %v", err)
	}

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Artifact index initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		path TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_size INTEGER NOT NULL,
		source_mod_time INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_source ON artifacts(source);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO NOTHING
	`, schemaVersion)
	return err
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// observe records the duration of an index operation.
func observe(op string, start time.Time) {
	metrics.IndexOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Get returns the record for an artifact path, or nil if none exists.
func (d *Database) Get(ctx context.Context, path string) (*cache.Record, error) {
	defer observe("get", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		rec           cache.Record
		sourceModTime int64
		createdAt     int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT path, source, source_size, source_mod_time, fingerprint, size, width, height, created_at
		FROM artifacts WHERE path = ?
	`, path).Scan(&rec.Path, &rec.Source, &rec.SourceSize, &sourceModTime, &rec.Fingerprint,
		&rec.Size, &rec.Width, &rec.Height, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.SourceModTime = time.Unix(0, sourceModTime)
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// Put inserts or replaces the record for rec.Path.
func (d *Database) Put(ctx context.Context, rec cache.Record) error {
	defer observe("put", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO artifacts (path, source, source_size, source_mod_time, fingerprint, size, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source = excluded.source,
			source_size = excluded.source_size,
			source_mod_time = excluded.source_mod_time,
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			width = excluded.width,
			height = excluded.height,
			created_at = excluded.created_at
	`, rec.Path, rec.Source, rec.SourceSize, rec.SourceModTime.UnixNano(), rec.Fingerprint,
		rec.Size, rec.Width, rec.Height, createdAt.Unix())
	return err
}

// Delete removes the record for path. Deleting an unknown path is not an error.
func (d *Database) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, "DELETE FROM artifacts WHERE path = ?", path)
	return err
}

// Clear removes every artifact record.
func (d *Database) Clear(ctx context.Context) error {
	defer observe("clear", time.Now())

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, "DELETE FROM artifacts")
	return err
}

// Count returns the number of artifact records.
func (d *Database) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n)
	return n, err
}

// diagnoseDatabasePermissions logs diagnostic information about database file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Index directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Index file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Index file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	walPath := dbPath + "-wal"
	if walInfo, err := os.Stat(walPath); err == nil {
		if walInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("WAL file is read-only! Mode: %v - this will cause write failures", walInfo.Mode())
			if chmodErr := os.Chmod(walPath, 0o600); chmodErr != nil {
				logging.Error("Failed to fix WAL file permissions: %v", chmodErr)
			} else {
				logging.Info("Fixed WAL file permissions")
			}
		}
	}

	return nil
}
