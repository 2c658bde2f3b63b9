package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertName records the display name of a contact, replacing any earlier one.
func (db *DB) UpsertName(ctx context.Context, id uuid.UUID, name string) (err error) {
	defer func(start time.Time) { db.observe("upsert_name", start, err) }(time.Now())

	if _, err = db.writeConn.ExecContext(ctx,
		"REPLACE INTO names (id, name) VALUES (?, ?)",
		nameKey(id), name,
	); err != nil {
		return fmt.Errorf("failed to store name of %s: %w", id, err)
	}
	return nil
}

// GetName returns the cached display name of a contact.
func (db *DB) GetName(ctx context.Context, id uuid.UUID) (name string, ok bool, err error) {
	defer func(start time.Time) { db.observe("get_name", start, err) }(time.Now())

	err = db.conn.QueryRowContext(ctx, "SELECT name FROM names WHERE id = ?", nameKey(id)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load name of %s: %w", id, err)
	}
	return name, true, nil
}

// ListNames returns the whole name cache.
func (db *DB) ListNames(ctx context.Context) (names []NameEntry, err error) {
	defer func(start time.Time) { db.observe("list_names", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, "SELECT id, name FROM names")
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			raw   []byte
			entry NameEntry
		)
		if err := rows.Scan(&raw, &entry.Name); err != nil {
			return nil, err
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			db.log.Warn().Err(err).Int("len", len(raw)).Msg("skipping name cache entry with malformed id")
			continue
		}
		entry.ID = id
		names = append(names, entry)
	}
	return names, rows.Err()
}

// nameKey is the name cache key of a user channel.
func nameKey(id uuid.UUID) []byte {
	return id[:]
}
