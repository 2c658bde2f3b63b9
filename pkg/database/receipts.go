package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ApplyReceipt merges a delivery receipt into a message. The stored receipt
// only moves forward; a lower state is ignored. It reports false when the
// message is unknown.
func (db *DB) ApplyReceipt(ctx context.Context, channelID ChannelID, arrivedAt int64, receipt Receipt) (found bool, err error) {
	defer func(start time.Time) { db.observe("apply_receipt", start, err) }(time.Now())

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin receipt: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		"SELECT receipt FROM messages WHERE channel_id = ? AND arrived_at = ?",
		channelID.Bytes(), arrivedAt,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load receipt of %d: %w", arrivedAt, err)
	}

	current := decodeBlob[Receipt](db, raw, colReceipt, arrivedAt)
	merged := current.Merge(receipt)
	if merged == current && len(raw) > 0 {
		return true, nil
	}

	encoded, err := db.encodeReceipt(merged)
	if err != nil {
		return false, fmt.Errorf("failed to encode receipt of %d: %w", arrivedAt, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET receipt = ? WHERE arrived_at = ?",
		encoded, arrivedAt,
	); err != nil {
		return false, fmt.Errorf("failed to store receipt of %d: %w", arrivedAt, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit receipt on %d: %w", arrivedAt, err)
	}
	return true, nil
}
