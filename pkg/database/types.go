package database

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GroupIDSize is the length of a group identifier in bytes.
const GroupIDSize = 32

// UnknownName is shown for a channel or contact whose name has not been learned yet.
const UnknownName = "[unknown]"

var errBadChannelID = errors.New("channel id must be 16 or 32 bytes")

// GroupID identifies a group conversation.
type GroupID [GroupIDSize]byte

// String returns the lowercase hex form.
func (g GroupID) String() string {
	return hex.EncodeToString(g[:])
}

// ParseGroupID parses the 64 hex character form of a group identifier.
func ParseGroupID(s string) (GroupID, error) {
	var g GroupID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("invalid group id: %w", err)
	}
	if len(raw) != GroupIDSize {
		return g, fmt.Errorf("invalid group id: got %d bytes", len(raw))
	}
	copy(g[:], raw)
	return g, nil
}

// ChannelID is either a user identity (1:1 conversation) or a group identifier.
// It is comparable and usable as a map key.
type ChannelID struct {
	User    uuid.UUID
	Group   GroupID
	IsGroup bool
}

// UserChannel returns the channel ID of a 1:1 conversation.
func UserChannel(id uuid.UUID) ChannelID {
	return ChannelID{User: id}
}

// GroupChannel returns the channel ID of a group conversation.
func GroupChannel(id GroupID) ChannelID {
	return ChannelID{Group: id, IsGroup: true}
}

// IsZero reports whether the ID carries no identity at all.
func (c ChannelID) IsZero() bool {
	if c.IsGroup {
		return c.Group == GroupID{}
	}
	return c.User == uuid.Nil
}

// Bytes returns the persisted form: 16 bytes for users, 32 for groups.
func (c ChannelID) Bytes() []byte {
	if c.IsGroup {
		out := make([]byte, GroupIDSize)
		copy(out, c.Group[:])
		return out
	}
	out := make([]byte, 16)
	copy(out, c.User[:])
	return out
}

// ChannelIDFromBytes decodes a persisted channel ID.
func ChannelIDFromBytes(b []byte) (ChannelID, error) {
	switch len(b) {
	case 16:
		id, err := uuid.FromBytes(b)
		if err != nil {
			return ChannelID{}, err
		}
		return UserChannel(id), nil
	case GroupIDSize:
		var g GroupID
		copy(g[:], b)
		return GroupChannel(g), nil
	default:
		return ChannelID{}, fmt.Errorf("%w: got %d", errBadChannelID, len(b))
	}
}

// ParseChannelID accepts a UUID (user channel) or 64 hex characters (group channel).
func ParseChannelID(s string) (ChannelID, error) {
	if len(s) == GroupIDSize*2 {
		g, err := ParseGroupID(s)
		if err != nil {
			return ChannelID{}, err
		}
		return GroupChannel(g), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ChannelID{}, fmt.Errorf("invalid channel id %q: %w", s, err)
	}
	return UserChannel(id), nil
}

func (c ChannelID) String() string {
	if c.IsGroup {
		return c.Group.String()
	}
	return c.User.String()
}

// MarshalText implements encoding.TextMarshaler.
func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MasterKey is the 32-byte group master key.
type MasterKey [32]byte

// MarshalText implements encoding.TextMarshaler.
func (k MasterKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MasterKey) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid master key: %w", err)
	}
	if len(raw) != len(k) {
		return fmt.Errorf("invalid master key: got %d bytes", len(raw))
	}
	copy(k[:], raw)
	return nil
}

// GroupData holds the group-only channel fields.
type GroupData struct {
	MasterKey MasterKey   `json:"master_key"`
	Revision  uint32      `json:"revision"`
	Members   []uuid.UUID `json:"members"`
}

// Channel is a conversation, either 1:1 or a group.
type Channel struct {
	ID    ChannelID  `json:"id"`
	Name  string     `json:"name"`
	Group *GroupData `json:"group,omitempty"`
}

// Receipt is the delivery state of an outgoing message. States are ordered
// and only ever move forward.
type Receipt int8

const (
	ReceiptNothing Receipt = iota
	ReceiptSent
	ReceiptDelivered
	ReceiptRead
)

func (r Receipt) String() string {
	switch r {
	case ReceiptSent:
		return "sent"
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "nothing"
	}
}

// Merge returns the more advanced of the two receipts.
func (r Receipt) Merge(other Receipt) Receipt {
	if other > r {
		return other
	}
	return r
}

// Style is the formatting applied by a body range.
type Style uint8

const (
	StyleNone Style = iota
	StyleBold
	StyleItalic
	StyleSpoiler
	StyleStrikethrough
	StyleMonospace
)

// BodyRange is either a mention or a style span over the message body.
// Offsets are in UTF-16 code units as sent by the remote protocol.
type BodyRange struct {
	Start   uint16     `json:"start" msgpack:"s"`
	End     uint16     `json:"end" msgpack:"e"`
	Mention *uuid.UUID `json:"mention,omitempty" msgpack:"m,omitempty"`
	Style   Style      `json:"style,omitempty" msgpack:"y,omitempty"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	ID          string `json:"id" msgpack:"id"`
	ContentType string `json:"content_type" msgpack:"ct"`
	Filename    string `json:"filename,omitempty" msgpack:"fn,omitempty"`
	Size        uint64 `json:"size" msgpack:"sz"`
}

// Reactions maps a reactor to its single emoji.
type Reactions map[uuid.UUID]string

// Message is a single stored row. Revisions of an edited message are rows
// too, linked to their original through Edit.
type Message struct {
	ArrivedAt   int64        `json:"arrived_at"`
	ChannelID   ChannelID    `json:"channel_id"`
	FromID      uuid.UUID    `json:"from_id"`
	Body        *string      `json:"body,omitempty"`
	Quote       *int64       `json:"quote,omitempty"`
	Edit        *int64       `json:"edit,omitempty"`
	Edited      bool         `json:"edited,omitempty"`
	Receipt     Receipt      `json:"receipt"`
	BodyRanges  []BodyRange  `json:"body_ranges,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   Reactions    `json:"reactions,omitempty"`
}

// IsRevision reports whether the row is an edit of another message.
func (m Message) IsRevision() bool {
	return m.Edit != nil
}

// QuoteSummary is the embedded view of a quoted message.
type QuoteSummary struct {
	ArrivedAt   int64        `json:"arrived_at"`
	FromID      uuid.UUID    `json:"from_id"`
	Body        *string      `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	BodyRanges  []BodyRange  `json:"body_ranges,omitempty"`
	Receipt     Receipt      `json:"receipt"`
}

// MessageView is a message as the UI shows it: the original row, the latest
// revision's content when edited, and the resolved quote.
type MessageView struct {
	Message
	// Content is the body to display; for an edited message it is the latest revision's body.
	Content *string `json:"content,omitempty"`
	// ContentRanges accompany Content.
	ContentRanges []BodyRange   `json:"content_ranges,omitempty"`
	Quote         *QuoteSummary `json:"quoted,omitempty"`
}

// NameEntry is one row of the name cache.
type NameEntry struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Metadata is the store-wide singleton.
type Metadata struct {
	ContactsSyncRequestAt *time.Time `json:"contacts_sync_request_at,omitempty"`
	FullyMigrated         *bool      `json:"fully_migrated,omitempty"`
}

// ChannelSummary is one entry of the channel list.
type ChannelSummary struct {
	Channel
	DisplayName   string `json:"display_name"`
	LastArrivedAt *int64 `json:"last_arrived_at,omitempty"`
	MessageCount  int    `json:"message_count"`
}
