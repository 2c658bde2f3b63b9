package database

import (
	"context"
	"fmt"
	"time"
)

// RecordEdit stores revision as the newest edit of the message at target in
// one transaction. When target is itself a revision the edit is attached to
// that revision's original, so chains never nest. The original is marked
// edited and returned as it now displays.
func (db *DB) RecordEdit(ctx context.Context, channelID ChannelID, target int64, revision Message) (view MessageView, err error) {
	defer func(start time.Time) { db.observe("record_edit", start, err) }(time.Now())

	view, _, err = db.recordEdit(ctx, channelID, target, revision)
	return view, err
}

// recordEdit also returns the channel that held the revision's arrival key
// before the edit, the zero ChannelID when the key is new.
func (db *DB) recordEdit(ctx context.Context, channelID ChannelID, target int64, revision Message) (MessageView, ChannelID, error) {
	if channelID.IsZero() {
		return MessageView{}, ChannelID{}, fmt.Errorf("%w: missing channel for edit of %d", ErrInvalidMessage, target)
	}

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return MessageView{}, ChannelID{}, fmt.Errorf("failed to begin edit: %w", err)
	}
	defer tx.Rollback()

	original, ok, err := db.loadMessage(ctx, tx, channelID, target)
	if err != nil {
		return MessageView{}, ChannelID{}, err
	}
	if !ok {
		return MessageView{}, ChannelID{}, fmt.Errorf("%w: edit target %d in %s", ErrMessageNotFound, target, channelID)
	}
	if original.Edit != nil {
		originalKey := *original.Edit
		original, ok, err = db.loadMessage(ctx, tx, channelID, originalKey)
		if err != nil {
			return MessageView{}, ChannelID{}, err
		}
		if !ok {
			return MessageView{}, ChannelID{}, fmt.Errorf("%w: original %d of revision %d", ErrMessageNotFound, originalKey, target)
		}
	}
	if revision.ArrivedAt == original.ArrivedAt {
		return MessageView{}, ChannelID{}, fmt.Errorf("%w: revision reuses the arrival key of its original %d", ErrInvalidMessage, original.ArrivedAt)
	}

	previous, _, err := previousChannel(ctx, tx, revision.ArrivedAt)
	if err != nil {
		return MessageView{}, ChannelID{}, err
	}

	originalKey := original.ArrivedAt
	revision.ChannelID = original.ChannelID
	revision.Edit = &originalKey
	revision.Edited = false
	if err := db.writeMessage(ctx, tx, revision); err != nil {
		return MessageView{}, ChannelID{}, err
	}

	original.Edited = true
	if err := db.writeMessage(ctx, tx, original); err != nil {
		return MessageView{}, ChannelID{}, err
	}

	if err := tx.Commit(); err != nil {
		return MessageView{}, ChannelID{}, fmt.Errorf("failed to commit edit of %d: %w", originalKey, err)
	}

	view, ok, err := db.GetMessage(ctx, original.ChannelID, originalKey)
	if err != nil {
		return MessageView{}, ChannelID{}, err
	}
	if !ok {
		return MessageView{}, ChannelID{}, fmt.Errorf("%w: %d vanished after edit", ErrMessageNotFound, originalKey)
	}
	return view, previous, nil
}

// Edits returns the revisions of an original message in ascending order.
func (db *DB) Edits(ctx context.Context, channelID ChannelID, original int64) (revisions []Message, err error) {
	defer func(start time.Time) { db.observe("edits", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = ? AND edit = ?
		ORDER BY arrived_at ASC
	`, channelID.Bytes(), original)
	if err != nil {
		return nil, fmt.Errorf("failed to list edits of %d: %w", original, err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, msg)
	}
	return revisions, rows.Err()
}
