package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/forPelevin/gomoji"
	"github.com/google/uuid"
	"github.com/rivo/uniseg"
)

const (
	variationSelector16 = '\uFE0F'
	combiningKeycap     = '\u20E3'
)

// ValidateReaction checks that the reaction is exactly one emoji and nothing
// else. An emoji is a single grapheme cluster, so skin tones, variation
// selectors, ZWJ sequences, flags and keycaps are accepted.
func ValidateReaction(reaction string) error {
	if uniseg.GraphemeClusterCount(reaction) != 1 {
		return ErrInvalidReaction
	}
	runes := []rune(reaction)
	base := runes[0]
	switch {
	case isRegionalIndicator(base):
		if len(runes) == 2 && isRegionalIndicator(runes[1]) {
			return nil
		}
	case base < utf8.RuneSelf:
		if slices.Contains(runes, combiningKeycap) {
			return nil
		}
	case len(runes) > 1 && runes[1] == variationSelector16:
		return nil
	case len(gomoji.FindAll(string(base))) == 1:
		return nil
	}
	return ErrInvalidReaction
}

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}

// ApplyReaction sets, replaces or (for a nil or empty emoji) removes the
// reactor's reaction on a message. It reports false when the message is unknown.
func (db *DB) ApplyReaction(ctx context.Context, channelID ChannelID, arrivedAt int64, reactor uuid.UUID, emoji *string) (found bool, err error) {
	defer func(start time.Time) { db.observe("apply_reaction", start, err) }(time.Now())

	remove := emoji == nil || *emoji == ""
	if !remove {
		if err := ValidateReaction(*emoji); err != nil {
			return false, fmt.Errorf("%w: %q", err, *emoji)
		}
	}

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin reaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		"SELECT reactions FROM messages WHERE channel_id = ? AND arrived_at = ?",
		channelID.Bytes(), arrivedAt,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load reactions of %d: %w", arrivedAt, err)
	}

	reactions := db.decodeReactions(raw, arrivedAt)
	if remove {
		delete(reactions, reactor)
	} else {
		if reactions == nil {
			reactions = Reactions{}
		}
		reactions[reactor] = *emoji
	}

	encoded, err := db.encodeReactions(reactions)
	if err != nil {
		return false, fmt.Errorf("failed to encode reactions of %d: %w", arrivedAt, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET reactions = ? WHERE arrived_at = ?",
		nullBlob(encoded), arrivedAt,
	); err != nil {
		return false, fmt.Errorf("failed to store reactions of %d: %w", arrivedAt, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reaction on %d: %w", arrivedAt, err)
	}
	return true, nil
}
