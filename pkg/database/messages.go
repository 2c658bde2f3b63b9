package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const messageColumns = `arrived_at, channel_id, from_id, message, quote, receipt,
	body_ranges, attachments, reactions, edit, COALESCE(edited, 0)`

// UpsertMessage inserts the message or replaces the row with the same
// arrival key, whatever channel it belonged to before.
func (db *DB) UpsertMessage(ctx context.Context, msg Message) (err error) {
	defer func(start time.Time) { db.observe("upsert_message", start, err) }(time.Now())

	_, err = db.upsertMessage(ctx, msg)
	return err
}

// upsertMessage writes msg and returns the channel that held its arrival key
// before the write, the zero ChannelID when the key is new.
func (db *DB) upsertMessage(ctx context.Context, msg Message) (ChannelID, error) {
	if msg.ChannelID.IsZero() {
		return ChannelID{}, fmt.Errorf("%w: missing channel for arrived_at=%d", ErrInvalidMessage, msg.ArrivedAt)
	}

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return ChannelID{}, fmt.Errorf("failed to begin message write: %w", err)
	}
	defer tx.Rollback()

	previous, _, err := previousChannel(ctx, tx, msg.ArrivedAt)
	if err != nil {
		return ChannelID{}, err
	}
	if err := db.writeMessage(ctx, tx, msg); err != nil {
		return ChannelID{}, err
	}
	if err := tx.Commit(); err != nil {
		return ChannelID{}, fmt.Errorf("failed to commit message %d: %w", msg.ArrivedAt, err)
	}
	return previous, nil
}

// MergeMessage stores an inbound message in one transaction with the row it
// replaces. The stored receipt never moves backwards, stored reactions are
// kept when msg carries none, and Edited follows the revisions on record.
func (db *DB) MergeMessage(ctx context.Context, msg Message) (err error) {
	defer func(start time.Time) { db.observe("merge_message", start, err) }(time.Now())

	_, err = db.mergeMessage(ctx, msg)
	return err
}

func (db *DB) mergeMessage(ctx context.Context, msg Message) (ChannelID, error) {
	if msg.ChannelID.IsZero() {
		return ChannelID{}, fmt.Errorf("%w: missing channel for arrived_at=%d", ErrInvalidMessage, msg.ArrivedAt)
	}

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return ChannelID{}, fmt.Errorf("failed to begin message merge: %w", err)
	}
	defer tx.Rollback()

	previous, _, err := previousChannel(ctx, tx, msg.ArrivedAt)
	if err != nil {
		return ChannelID{}, err
	}
	existing, ok, err := db.loadMessage(ctx, tx, msg.ChannelID, msg.ArrivedAt)
	if err != nil {
		return ChannelID{}, err
	}
	if ok {
		msg.Receipt = existing.Receipt.Merge(msg.Receipt)
		if msg.Reactions == nil {
			msg.Reactions = existing.Reactions
		}
	}

	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM messages WHERE channel_id = ? AND edit = ?)",
		msg.ChannelID.Bytes(), msg.ArrivedAt,
	).Scan(&msg.Edited)
	if err != nil {
		return ChannelID{}, fmt.Errorf("failed to look up edits of %d: %w", msg.ArrivedAt, err)
	}

	if err := db.writeMessage(ctx, tx, msg); err != nil {
		return ChannelID{}, err
	}
	if err := tx.Commit(); err != nil {
		return ChannelID{}, fmt.Errorf("failed to commit message %d: %w", msg.ArrivedAt, err)
	}
	return previous, nil
}

func (db *DB) writeMessage(ctx context.Context, exec execer, msg Message) error {
	body, err := db.encodeBody(msg.Body)
	if err != nil {
		return fmt.Errorf("failed to encode body of %d: %w", msg.ArrivedAt, err)
	}
	receipt, err := db.encodeReceipt(msg.Receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt of %d: %w", msg.ArrivedAt, err)
	}
	ranges, err := db.encodeRanges(msg.BodyRanges)
	if err != nil {
		return fmt.Errorf("failed to encode body ranges of %d: %w", msg.ArrivedAt, err)
	}
	attachments, err := db.encodeAttachments(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments of %d: %w", msg.ArrivedAt, err)
	}
	reactions, err := db.encodeReactions(msg.Reactions)
	if err != nil {
		return fmt.Errorf("failed to encode reactions of %d: %w", msg.ArrivedAt, err)
	}

	_, err = exec.ExecContext(ctx, `
		REPLACE INTO messages (arrived_at, channel_id, from_id, message, quote, receipt,
			body_ranges, attachments, reactions, edit, edited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ArrivedAt,
		msg.ChannelID.Bytes(),
		msg.FromID[:],
		body,
		nullInt64(msg.Quote),
		nullBlob(receipt),
		nullBlob(ranges),
		nullBlob(attachments),
		nullBlob(reactions),
		nullInt64(msg.Edit),
		msg.Edited,
	)
	if err != nil {
		return fmt.Errorf("failed to store message %d: %w", msg.ArrivedAt, err)
	}
	return nil
}

// loadMessage reads one raw row by channel and arrival key.
func (db *DB) loadMessage(ctx context.Context, q rowQuerier, channelID ChannelID, arrivedAt int64) (Message, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = ? AND arrived_at = ?
	`, channelID.Bytes(), arrivedAt)
	msg, err := db.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to load message %d: %w", arrivedAt, err)
	}
	return msg, true, nil
}

func (db *DB) scanMessage(row rowScanner) (Message, error) {
	var (
		msg       Message
		channelID []byte
		fromID    []byte
		body      sql.NullString
		quote     sql.NullInt64
		receipt   []byte
		ranges    []byte
		attach    []byte
		reactions []byte
		edit      sql.NullInt64
	)
	err := row.Scan(&msg.ArrivedAt, &channelID, &fromID, &body, &quote, &receipt,
		&ranges, &attach, &reactions, &edit, &msg.Edited)
	if err != nil {
		return Message{}, err
	}
	msg.ChannelID, err = ChannelIDFromBytes(channelID)
	if err != nil {
		return Message{}, fmt.Errorf("corrupt channel id on %d: %w", msg.ArrivedAt, err)
	}
	msg.FromID = db.decodeUUID(fromID, msg.ArrivedAt)
	msg.Body = db.decodeBody(body, msg.ArrivedAt)
	msg.Quote = int64Ptr(quote)
	msg.Edit = int64Ptr(edit)
	msg.Receipt = decodeBlob[Receipt](db, receipt, colReceipt, msg.ArrivedAt)
	msg.BodyRanges = decodeBlob[[]BodyRange](db, ranges, colBodyRanges, msg.ArrivedAt)
	msg.Attachments = decodeBlob[[]Attachment](db, attach, colAttachments, msg.ArrivedAt)
	msg.Reactions = db.decodeReactions(reactions, msg.ArrivedAt)
	return msg, nil
}

func (db *DB) decodeUUID(raw []byte, arrivedAt int64) uuid.UUID {
	if len(raw) == 0 {
		return uuid.Nil
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		db.log.Warn().Err(err).Int64("arrived_at", arrivedAt).Str("column", "from_id").Msg("malformed sender id")
		db.metrics.recordDecodeFailure("from_id")
		return uuid.Nil
	}
	return id
}

// MessageChannel returns the channel that owns an arrival key.
func (db *DB) MessageChannel(ctx context.Context, arrivedAt int64) (id ChannelID, ok bool, err error) {
	defer func(start time.Time) { db.observe("message_channel", start, err) }(time.Now())

	return previousChannel(ctx, db.conn, arrivedAt)
}

func previousChannel(ctx context.Context, q rowQuerier, arrivedAt int64) (ChannelID, bool, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, "SELECT channel_id FROM messages WHERE arrived_at = ?", arrivedAt).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelID{}, false, nil
	}
	if err != nil {
		return ChannelID{}, false, fmt.Errorf("failed to look up message %d: %w", arrivedAt, err)
	}
	id, err := ChannelIDFromBytes(raw)
	if err != nil {
		return ChannelID{}, false, err
	}
	return id, true, nil
}

// MessageChannelIDs returns every channel that holds at least one message
// row, including channels that have no channel row of their own.
func (db *DB) MessageChannelIDs(ctx context.Context) (ids []ChannelID, err error) {
	defer func(start time.Time) { db.observe("message_channel_ids", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT channel_id FROM messages")
	if err != nil {
		return nil, fmt.Errorf("failed to list message channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := ChannelIDFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt channel id in messages: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChannelMessages returns every raw row of a channel, revisions included, ascending.
func (db *DB) ChannelMessages(ctx context.Context, channelID ChannelID) (messages []Message, err error) {
	defer func(start time.Time) { db.observe("channel_messages", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = ?
		ORDER BY arrived_at ASC
	`, channelID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", channelID, err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
