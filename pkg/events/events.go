// Package events defines the inbound event contract of the remote-protocol
// side and applies those events to a message store.
package events

import (
	"github.com/aeolun/termchat/pkg/database"
	"github.com/google/uuid"
)

// ChannelUpdate announces a channel or a change to one. Group fields are nil
// when the update does not carry them; nil fields keep their stored value.
type ChannelUpdate struct {
	ID             database.ChannelID `json:"id"`
	Name           string             `json:"name,omitempty"`
	GroupMasterKey *[32]byte          `json:"group_master_key,omitempty"`
	GroupRevision  *uint32            `json:"group_revision,omitempty"`
	GroupMembers   []uuid.UUID        `json:"group_members,omitempty"`
}

// MessageEvent is a message as resolved by the protocol layer. A non-nil Edit
// makes it a revision of the message arrived at that key.
type MessageEvent struct {
	ArrivedAt   int64                 `json:"arrived_at"`
	ChannelID   database.ChannelID    `json:"channel_id"`
	FromID      uuid.UUID             `json:"from_id"`
	Body        *string               `json:"body,omitempty"`
	Quote       *int64                `json:"quote,omitempty"`
	Edit        *int64                `json:"edit,omitempty"`
	Receipt     *database.Receipt     `json:"receipt,omitempty"`
	BodyRanges  []database.BodyRange  `json:"body_ranges,omitempty"`
	Attachments []database.Attachment `json:"attachments,omitempty"`
	Reactions   database.Reactions    `json:"reactions,omitempty"`
}

// ReactionEvent sets or, with a nil Emoji, removes one reactor's reaction.
type ReactionEvent struct {
	ArrivedAt int64              `json:"arrived_at"`
	ChannelID database.ChannelID `json:"channel_id"`
	ReactorID uuid.UUID          `json:"reactor_id"`
	Emoji     *string            `json:"emoji,omitempty"`
}

// ReceiptEvent reports delivery progress of an outgoing message.
type ReceiptEvent struct {
	ArrivedAt int64              `json:"arrived_at"`
	ChannelID database.ChannelID `json:"channel_id"`
	Receipt   database.Receipt   `json:"receipt"`
}

// message converts the event into a stored row.
func (e MessageEvent) message() database.Message {
	msg := database.Message{
		ArrivedAt:   e.ArrivedAt,
		ChannelID:   e.ChannelID,
		FromID:      e.FromID,
		Body:        e.Body,
		Quote:       e.Quote,
		Edit:        e.Edit,
		BodyRanges:  e.BodyRanges,
		Attachments: e.Attachments,
		Reactions:   e.Reactions,
	}
	if e.Receipt != nil {
		msg.Receipt = *e.Receipt
	}
	return msg
}
