package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// viewSelect resolves the quote (same channel only) and, for edited
// messages, the latest revision in one pass.
const viewSelect = `
	SELECT m.arrived_at, m.channel_id, m.from_id, m.message, m.quote, m.receipt,
	       m.body_ranges, m.attachments, m.reactions, m.edit, COALESCE(m.edited, 0),
	       q.arrived_at, q.from_id, q.message, q.attachments, q.body_ranges, q.receipt,
	       r.arrived_at, r.message, r.body_ranges
	FROM messages AS m
	LEFT JOIN messages AS q
	       ON q.arrived_at = m.quote AND q.channel_id = m.channel_id
	LEFT JOIN messages AS r
	       ON m.edited = 1 AND r.arrived_at = (
	              SELECT MAX(x.arrived_at) FROM messages AS x
	              WHERE x.channel_id = m.channel_id AND x.edit = m.arrived_at
	          )`

// GetMessage returns a single message with its quote resolved.
func (db *DB) GetMessage(ctx context.Context, channelID ChannelID, arrivedAt int64) (view MessageView, ok bool, err error) {
	defer func(start time.Time) { db.observe("get_message", start, err) }(time.Now())

	row := db.conn.QueryRowContext(ctx, viewSelect+`
		WHERE m.channel_id = ? AND m.arrived_at = ?
	`, channelID.Bytes(), arrivedAt)
	view, err = db.scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageView{}, false, nil
	}
	if err != nil {
		return MessageView{}, false, fmt.Errorf("failed to load message %d: %w", arrivedAt, err)
	}
	return view, true, nil
}

// ListMessages returns the visible timeline of a channel in ascending arrival
// order. Revisions are not part of the timeline.
func (db *DB) ListMessages(ctx context.Context, channelID ChannelID) (views []MessageView, err error) {
	defer func(start time.Time) { db.observe("list_messages", start, err) }(time.Now())

	return db.queryViews(ctx, viewSelect+`
		WHERE m.channel_id = ? AND m.edit IS NULL
		ORDER BY m.arrived_at ASC
	`, channelID.Bytes())
}

// ListMessagesBefore returns up to limit visible messages older than before,
// in ascending order.
func (db *DB) ListMessagesBefore(ctx context.Context, channelID ChannelID, before int64, limit int) (views []MessageView, err error) {
	defer func(start time.Time) { db.observe("list_messages_before", start, err) }(time.Now())

	if limit <= 0 {
		return nil, nil
	}
	views, err = db.queryViews(ctx, viewSelect+`
		WHERE m.channel_id = ? AND m.edit IS NULL AND m.arrived_at < ?
		ORDER BY m.arrived_at DESC
		LIMIT ?
	`, channelID.Bytes(), before, limit)
	if err != nil {
		return nil, err
	}
	return lo.Reverse(views), nil
}

func (db *DB) queryViews(ctx context.Context, query string, args ...any) ([]MessageView, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var views []MessageView
	for rows.Next() {
		view, err := db.scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

func (db *DB) scanView(row rowScanner) (MessageView, error) {
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

		qArrivedAt sql.NullInt64
		qFromID    []byte
		qBody      sql.NullString
		qAttach    []byte
		qRanges    []byte
		qReceipt   []byte

		rArrivedAt sql.NullInt64
		rBody      sql.NullString
		rRanges    []byte
	)
	err := row.Scan(
		&msg.ArrivedAt, &channelID, &fromID, &body, &quote, &receipt,
		&ranges, &attach, &reactions, &edit, &msg.Edited,
		&qArrivedAt, &qFromID, &qBody, &qAttach, &qRanges, &qReceipt,
		&rArrivedAt, &rBody, &rRanges,
	)
	if err != nil {
		return MessageView{}, err
	}

	msg.ChannelID, err = ChannelIDFromBytes(channelID)
	if err != nil {
		return MessageView{}, fmt.Errorf("corrupt channel id on %d: %w", msg.ArrivedAt, err)
	}
	msg.FromID = db.decodeUUID(fromID, msg.ArrivedAt)
	msg.Body = db.decodeBody(body, msg.ArrivedAt)
	msg.Quote = int64Ptr(quote)
	msg.Edit = int64Ptr(edit)
	msg.Receipt = decodeBlob[Receipt](db, receipt, colReceipt, msg.ArrivedAt)
	msg.BodyRanges = decodeBlob[[]BodyRange](db, ranges, colBodyRanges, msg.ArrivedAt)
	msg.Attachments = decodeBlob[[]Attachment](db, attach, colAttachments, msg.ArrivedAt)
	msg.Reactions = db.decodeReactions(reactions, msg.ArrivedAt)

	view := MessageView{
		Message:       msg,
		Content:       msg.Body,
		ContentRanges: msg.BodyRanges,
	}
	if rArrivedAt.Valid {
		view.Content = db.decodeBody(rBody, rArrivedAt.Int64)
		view.ContentRanges = decodeBlob[[]BodyRange](db, rRanges, colBodyRanges, rArrivedAt.Int64)
	}
	if qArrivedAt.Valid {
		key := qArrivedAt.Int64
		view.Quote = &QuoteSummary{
			ArrivedAt:   key,
			FromID:      db.decodeUUID(qFromID, key),
			Body:        db.snippet(db.decodeBody(qBody, key)),
			Attachments: decodeBlob[[]Attachment](db, qAttach, colAttachments, key),
			BodyRanges:  decodeBlob[[]BodyRange](db, qRanges, colBodyRanges, key),
			Receipt:     decodeBlob[Receipt](db, qReceipt, colReceipt, key),
		}
	}
	return view, nil
}

// snippet truncates a quoted body to the configured number of characters.
func (db *DB) snippet(body *string) *string {
	if body == nil || db.snippetLen < 0 {
		return body
	}
	runes := []rune(*body)
	if len(runes) <= db.snippetLen {
		return body
	}
	out := string(runes[:db.snippetLen]) + "…"
	return &out
}

// ListChannelSummaries returns every channel with its display name, last
// visible arrival key and visible message count.
func (db *DB) ListChannelSummaries(ctx context.Context) (summaries []ChannelSummary, err error) {
	defer func(start time.Time) { db.observe("list_channel_summaries", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.id, c.name, c.group_master_key, c.group_revision, c.group_members,
		       n.name,
		       (SELECT MAX(m.arrived_at) FROM messages AS m WHERE m.channel_id = c.id AND m.edit IS NULL),
		       (SELECT COUNT(*) FROM messages AS m WHERE m.channel_id = c.id AND m.edit IS NULL)
		FROM channels AS c
		LEFT JOIN names AS n ON n.id = c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			summary    ChannelSummary
			cachedName sql.NullString
			last       sql.NullInt64
		)
		ch, err := db.scanChannel(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &cachedName, &last, &summary.MessageCount)...)
		}))
		if err != nil {
			return nil, err
		}
		summary.Channel = ch
		summary.LastArrivedAt = int64Ptr(last)
		summary.DisplayName = displayName(ch, cachedName)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// displayName prefers the channel's own name, falling back to the name cache
// for 1:1 channels that were stored before their contact's name was known.
func displayName(ch Channel, cached sql.NullString) string {
	if ch.Name != "" && ch.Name != UnknownName {
		return ch.Name
	}
	if !ch.ID.IsGroup && cached.Valid && cached.String != "" {
		return cached.String
	}
	return UnknownName
}
