package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/aeolun/termchat/pkg/database"
	"github.com/rs/zerolog"
)

// ErrUnknownEvent is returned by Apply for values that are not events.
var ErrUnknownEvent = errors.New("unknown event type")

// Ingestor applies inbound events to a store. It issues one logical store
// operation at a time per event and holds no state of its own.
type Ingestor struct {
	store database.Store
	log   zerolog.Logger
}

// NewIngestor returns an Ingestor writing to store.
func NewIngestor(store database.Store, log zerolog.Logger) *Ingestor {
	return &Ingestor{store: store, log: log}
}

// Apply dispatches ev to the matching Apply method. Both values and pointers
// of the event types are accepted.
func (in *Ingestor) Apply(ctx context.Context, ev any) error {
	switch e := ev.(type) {
	case ChannelUpdate:
		return in.ApplyChannel(ctx, e)
	case *ChannelUpdate:
		return in.ApplyChannel(ctx, *e)
	case MessageEvent:
		return in.ApplyMessage(ctx, e)
	case *MessageEvent:
		return in.ApplyMessage(ctx, *e)
	case ReactionEvent:
		return in.ApplyReaction(ctx, e)
	case *ReactionEvent:
		return in.ApplyReaction(ctx, *e)
	case ReceiptEvent:
		return in.ApplyReceipt(ctx, e)
	case *ReceiptEvent:
		return in.ApplyReceipt(ctx, *e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// ApplyChannel merges a channel update into the stored channel. The read
// and the write happen in one store transaction.
func (in *Ingestor) ApplyChannel(ctx context.Context, u ChannelUpdate) error {
	_, err := in.store.UpdateChannel(ctx, u.ID, func(ch database.Channel, _ bool) database.Channel {
		return u.merge(ch)
	})
	return err
}

func (u ChannelUpdate) merge(ch database.Channel) database.Channel {
	switch {
	case u.Name != "":
		ch.Name = u.Name
	case ch.Name == "":
		ch.Name = database.UnknownName
	}

	if u.ID.IsGroup && (u.GroupMasterKey != nil || u.GroupRevision != nil || u.GroupMembers != nil) {
		group := database.GroupData{}
		if ch.Group != nil {
			group = *ch.Group
		}
		if u.GroupMasterKey != nil {
			group.MasterKey = database.MasterKey(*u.GroupMasterKey)
		}
		if u.GroupRevision != nil {
			group.Revision = *u.GroupRevision
		}
		if u.GroupMembers != nil {
			group.Members = u.GroupMembers
		}
		ch.Group = &group
	}
	return ch
}

// ApplyMessage stores a message. Edit events go through RecordEdit; an edit
// whose target has not arrived yet is kept as a bare revision row and picked
// up when the original is stored.
func (in *Ingestor) ApplyMessage(ctx context.Context, e MessageEvent) error {
	msg := e.message()

	if e.Edit != nil {
		_, err := in.store.RecordEdit(ctx, e.ChannelID, *e.Edit, msg)
		if !errors.Is(err, database.ErrMessageNotFound) {
			return err
		}
		in.log.Debug().
			Int64("arrived_at", e.ArrivedAt).
			Int64("edit", *e.Edit).
			Str("channel", e.ChannelID.String()).
			Msg("edit target not stored yet, keeping revision")
		return in.store.UpsertMessage(ctx, msg)
	}

	// Redelivery must not downgrade what later events already applied.
	return in.store.MergeMessage(ctx, msg)
}

// ApplyReaction merges a reaction into its message. A reaction for a message
// that is not stored is dropped.
func (in *Ingestor) ApplyReaction(ctx context.Context, e ReactionEvent) error {
	found, err := in.store.ApplyReaction(ctx, e.ChannelID, e.ArrivedAt, e.ReactorID, e.Emoji)
	if err != nil {
		return err
	}
	if !found {
		in.log.Debug().
			Int64("arrived_at", e.ArrivedAt).
			Str("channel", e.ChannelID.String()).
			Msg("reaction for unknown message dropped")
	}
	return nil
}

// ApplyReceipt upgrades the receipt of its message.
func (in *Ingestor) ApplyReceipt(ctx context.Context, e ReceiptEvent) error {
	found, err := in.store.ApplyReceipt(ctx, e.ChannelID, e.ArrivedAt, e.Receipt)
	if err != nil {
		return err
	}
	if !found {
		in.log.Debug().
			Int64("arrived_at", e.ArrivedAt).
			Str("channel", e.ChannelID.String()).
			Msg("receipt for unknown message dropped")
	}
	return nil
}
