package database

import (
	"context"
	"database/sql"
	"errors"
)

// Metadata keys.
const (
	KeySchemaVersion        = "schema_version"
	KeyConverterFingerprint = "converter_fingerprint"
)

// GetMetadata retrieves a metadata value by key.
// Returns sql.ErrNoRows if the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// SwapConverterFingerprint stores fp and reports whether it differs from the
// previously stored fingerprint. The first call on a new index reports false.
func (d *Database) SwapConverterFingerprint(ctx context.Context, fp string) (changed bool, err error) {
	prev, err := d.GetMetadata(ctx, KeyConverterFingerprint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prev = fp
	case err != nil:
		return false, err
	}

	if err := d.SetMetadata(ctx, KeyConverterFingerprint, fp); err != nil {
		return false, err
	}
	return prev != fp, nil
}
