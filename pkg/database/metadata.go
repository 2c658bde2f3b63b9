package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metadataRowID = 0

// GetMetadata returns the store metadata, or the zero value if it was never written.
func (db *DB) GetMetadata(ctx context.Context) (meta Metadata, err error) {
	defer func(start time.Time) { db.observe("get_metadata", start, err) }(time.Now())

	var (
		syncAt        sql.NullInt64
		fullyMigrated sql.NullBool
	)
	err = db.conn.QueryRowContext(ctx,
		"SELECT contacts_sync_request_at, fully_migrated FROM metadata WHERE id = ?",
		metadataRowID,
	).Scan(&syncAt, &fullyMigrated)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to load metadata: %w", err)
	}

	if syncAt.Valid {
		t := time.UnixMilli(syncAt.Int64).UTC()
		meta.ContactsSyncRequestAt = &t
	}
	if fullyMigrated.Valid {
		v := fullyMigrated.Bool
		meta.FullyMigrated = &v
	}
	return meta, nil
}

// SetMetadata replaces the metadata row.
func (db *DB) SetMetadata(ctx context.Context, meta Metadata) (err error) {
	defer func(start time.Time) { db.observe("set_metadata", start, err) }(time.Now())

	var (
		syncAt        sql.NullInt64
		fullyMigrated sql.NullBool
	)
	if meta.ContactsSyncRequestAt != nil {
		syncAt = sql.NullInt64{Int64: meta.ContactsSyncRequestAt.UnixMilli(), Valid: true}
	}
	if meta.FullyMigrated != nil {
		fullyMigrated = sql.NullBool{Bool: *meta.FullyMigrated, Valid: true}
	}

	if _, err = db.writeConn.ExecContext(ctx,
		"REPLACE INTO metadata (id, contacts_sync_request_at, fully_migrated) VALUES (?, ?, ?)",
		metadataRowID, syncAt, fullyMigrated,
	); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

// normalizeMetadata applies the millisecond precision the store keeps.
func normalizeMetadata(meta Metadata) Metadata {
	if meta.ContactsSyncRequestAt != nil {
		t := time.UnixMilli(meta.ContactsSyncRequestAt.UnixMilli()).UTC()
		meta.ContactsSyncRequestAt = &t
	}
	if meta.FullyMigrated != nil {
		v := *meta.FullyMigrated
		meta.FullyMigrated = &v
	}
	return meta
}
