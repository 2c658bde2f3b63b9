package database

import (
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"
)

// Cipher seals column values at rest. Implementations must be safe for
// concurrent use.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Column names used for logging and sealing.
const (
	colMessage      = "message"
	colReceipt      = "receipt"
	colBodyRanges   = "body_ranges"
	colAttachments  = "attachments"
	colReactions    = "reactions"
	colGroupMembers = "group_members"
)

// sealedColumns are encrypted when a Cipher is configured.
var sealedColumns = map[string]bool{
	colMessage:     true,
	colBodyRanges:  true,
	colAttachments: true,
	colReactions:   true,
}

type reactionRecord struct {
	Reactor uuid.UUID `msgpack:"r"`
	Emoji   string    `msgpack:"e"`
}

func (db *DB) seal(column string, plain []byte) ([]byte, error) {
	if db.cipher == nil || !sealedColumns[column] || plain == nil {
		return plain, nil
	}
	return db.cipher.Encrypt(plain)
}

func (db *DB) unseal(column string, raw []byte) ([]byte, error) {
	if db.cipher == nil || !sealedColumns[column] || raw == nil {
		return raw, nil
	}
	return db.cipher.Decrypt(raw)
}

// encodeBlob marshals v and seals it if the column is encrypted. Empty
// values are stored as NULL.
func (db *DB) encodeBlob(column string, v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return db.seal(column, data)
}

// decodeBlob never fails: a malformed value is logged and replaced by the
// zero value so the surrounding row can still be shown.
func decodeBlob[T any](db *DB, raw []byte, column string, arrivedAt int64) T {
	var out T
	if len(raw) == 0 {
		return out
	}
	plain, err := db.unseal(column, raw)
	if err == nil {
		err = msgpack.Unmarshal(plain, &out)
	}
	if err != nil {
		db.log.Warn().
			Err(err).
			Int64("arrived_at", arrivedAt).
			Str("column", column).
			Msg("malformed column value, using empty value")
		db.metrics.recordDecodeFailure(column)
		var zero T
		return zero
	}
	return out
}

func (db *DB) encodeBody(body *string) (any, error) {
	if body == nil {
		return nil, nil
	}
	if db.cipher == nil {
		return *body, nil
	}
	return db.seal(colMessage, []byte(*body))
}

func (db *DB) decodeBody(raw sql.NullString, arrivedAt int64) *string {
	if !raw.Valid {
		return nil
	}
	plain, err := db.unseal(colMessage, []byte(raw.String))
	if err != nil {
		db.log.Warn().
			Err(err).
			Int64("arrived_at", arrivedAt).
			Str("column", colMessage).
			Msg("cannot decrypt message body")
		db.metrics.recordDecodeFailure(colMessage)
		return nil
	}
	s := string(plain)
	return &s
}

func (db *DB) encodeRanges(ranges []BodyRange) ([]byte, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	return db.encodeBlob(colBodyRanges, ranges)
}

func (db *DB) encodeAttachments(attachments []Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	return db.encodeBlob(colAttachments, attachments)
}

func (db *DB) encodeReactions(reactions Reactions) ([]byte, error) {
	if len(reactions) == 0 {
		return nil, nil
	}
	records := lo.MapToSlice(reactions, func(reactor uuid.UUID, emoji string) reactionRecord {
		return reactionRecord{Reactor: reactor, Emoji: emoji}
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].Reactor.String() < records[j].Reactor.String()
	})
	return db.encodeBlob(colReactions, records)
}

func (db *DB) decodeReactions(raw []byte, arrivedAt int64) Reactions {
	records := decodeBlob[[]reactionRecord](db, raw, colReactions, arrivedAt)
	if len(records) == 0 {
		return nil
	}
	return lo.SliceToMap(records, func(r reactionRecord) (uuid.UUID, string) {
		return r.Reactor, r.Emoji
	})
}

func (db *DB) encodeReceipt(r Receipt) ([]byte, error) {
	return db.encodeBlob(colReceipt, r)
}
