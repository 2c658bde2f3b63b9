package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

const channelColumns = "id, name, group_master_key, group_revision, group_members"

// UpsertChannel creates or fully replaces a channel keyed by its ID.
func (db *DB) UpsertChannel(ctx context.Context, ch Channel) (err error) {
	defer func(start time.Time) { db.observe("upsert_channel", start, err) }(time.Now())

	return db.writeChannel(ctx, db.writeConn, ch)
}

// UpdateChannel reads the channel, hands it to update and stores the result,
// all in one transaction. ok is false when the channel is not stored yet and
// ch then carries only the ID. The stored channel is returned.
func (db *DB) UpdateChannel(ctx context.Context, id ChannelID, update func(ch Channel, ok bool) Channel) (ch Channel, err error) {
	defer func(start time.Time) { db.observe("update_channel", start, err) }(time.Now())

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return Channel{}, fmt.Errorf("failed to begin channel update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", id.Bytes())
	current, err := db.scanChannel(row)
	ok := err == nil
	if errors.Is(err, sql.ErrNoRows) {
		current, err = Channel{ID: id}, nil
	}
	if err != nil {
		return Channel{}, fmt.Errorf("failed to load channel %s: %w", id, err)
	}

	ch = update(current, ok)
	ch.ID = id
	if err := db.writeChannel(ctx, tx, ch); err != nil {
		return Channel{}, err
	}
	if err := tx.Commit(); err != nil {
		return Channel{}, fmt.Errorf("failed to commit channel %s: %w", id, err)
	}
	return ch, nil
}

func (db *DB) writeChannel(ctx context.Context, exec execer, ch Channel) error {
	if ch.ID.IsZero() || ch.Name == "" {
		return fmt.Errorf("%w: id=%s name=%q", ErrInvalidChannel, ch.ID, ch.Name)
	}

	var masterKey, members []byte
	var revision sql.NullInt64
	if ch.Group != nil {
		masterKey = append([]byte(nil), ch.Group.MasterKey[:]...)
		revision = sql.NullInt64{Int64: int64(ch.Group.Revision), Valid: true}
		var err error
		members, err = db.encodeBlob(colGroupMembers, nonNilMembers(ch.Group.Members))
		if err != nil {
			return fmt.Errorf("failed to encode group members: %w", err)
		}
	}

	_, err := exec.ExecContext(ctx, `
		REPLACE INTO channels (`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, ch.ID.Bytes(), ch.Name, nullBlob(masterKey), revision, nullBlob(members))
	if err != nil {
		return fmt.Errorf("failed to store channel %s: %w", ch.ID, err)
	}
	return nil
}

// GetChannel returns the channel with the given ID.
func (db *DB) GetChannel(ctx context.Context, id ChannelID) (ch Channel, ok bool, err error) {
	defer func(start time.Time) { db.observe("get_channel", start, err) }(time.Now())

	row := db.conn.QueryRowContext(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = ?", id.Bytes())
	ch, err = db.scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, err
	}
	return ch, true, nil
}

// ListChannels returns every channel in no particular order.
func (db *DB) ListChannels(ctx context.Context) (channels []Channel, err error) {
	defer func(start time.Time) { db.observe("list_channels", start, err) }(time.Now())

	rows, err := db.conn.QueryContext(ctx, "SELECT "+channelColumns+" FROM channels")
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := db.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanChannel(row rowScanner) (Channel, error) {
	var (
		rawID     []byte
		ch        Channel
		masterKey []byte
		revision  sql.NullInt64
		members   []byte
	)
	if err := row.Scan(&rawID, &ch.Name, &masterKey, &revision, &members); err != nil {
		return Channel{}, err
	}
	id, err := ChannelIDFromBytes(rawID)
	if err != nil {
		return Channel{}, fmt.Errorf("corrupt channel row: %w", err)
	}
	ch.ID = id

	// A 1:1 channel has no group columns; a partially filled row is treated the same way.
	if len(masterKey) == 0 || !revision.Valid || len(members) == 0 {
		return ch, nil
	}
	if len(masterKey) != len(MasterKey{}) {
		db.log.Warn().
			Str("channel", id.String()).
			Int("len", len(masterKey)).
			Msg("group master key has wrong length, dropping group data")
		db.metrics.recordDecodeFailure("group_master_key")
		return ch, nil
	}
	group := &GroupData{
		Revision: uint32(revision.Int64),
		Members:  decodeBlob[[]uuid.UUID](db, members, colGroupMembers, 0),
	}
	copy(group.MasterKey[:], masterKey)
	ch.Group = group
	return ch, nil
}

// clone returns a copy of ch that shares no group data with it.
func (ch Channel) clone() Channel {
	if ch.Group != nil {
		group := *ch.Group
		group.Members = slices.Clone(ch.Group.Members)
		ch.Group = &group
	}
	return ch
}

func nonNilMembers(members []uuid.UUID) []uuid.UUID {
	if members == nil {
		return []uuid.UUID{}
	}
	return members
}
