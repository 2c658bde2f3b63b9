package database

import (
	"context"

	"github.com/google/uuid"
)

// Store is the full read/write surface of the local message store. It is
// implemented by *DB and by *MemCache.
type Store interface {
	UpsertChannel(ctx context.Context, ch Channel) error
	GetChannel(ctx context.Context, id ChannelID) (Channel, bool, error)
	UpdateChannel(ctx context.Context, id ChannelID, update func(ch Channel, ok bool) Channel) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	ListChannelSummaries(ctx context.Context) ([]ChannelSummary, error)

	UpsertMessage(ctx context.Context, msg Message) error
	MergeMessage(ctx context.Context, msg Message) error
	RecordEdit(ctx context.Context, channelID ChannelID, target int64, revision Message) (MessageView, error)
	GetMessage(ctx context.Context, channelID ChannelID, arrivedAt int64) (MessageView, bool, error)
	ListMessages(ctx context.Context, channelID ChannelID) ([]MessageView, error)
	ListMessagesBefore(ctx context.Context, channelID ChannelID, before int64, limit int) ([]MessageView, error)
	Edits(ctx context.Context, channelID ChannelID, original int64) ([]Message, error)
	MessageChannel(ctx context.Context, arrivedAt int64) (ChannelID, bool, error)
	MessageChannelIDs(ctx context.Context) ([]ChannelID, error)
	ApplyReaction(ctx context.Context, channelID ChannelID, arrivedAt int64, reactor uuid.UUID, emoji *string) (bool, error)
	ApplyReceipt(ctx context.Context, channelID ChannelID, arrivedAt int64, receipt Receipt) (bool, error)

	UpsertName(ctx context.Context, id uuid.UUID, name string) error
	GetName(ctx context.Context, id uuid.UUID) (string, bool, error)
	ListNames(ctx context.Context) ([]NameEntry, error)

	GetMetadata(ctx context.Context) (Metadata, error)
	SetMetadata(ctx context.Context, meta Metadata) error
}

// Source is what Copy reads from: every row of a store, revisions included.
type Source interface {
	GetMetadata(ctx context.Context) (Metadata, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	MessageChannelIDs(ctx context.Context) ([]ChannelID, error)
	ChannelMessages(ctx context.Context, channelID ChannelID) ([]Message, error)
	ListNames(ctx context.Context) ([]NameEntry, error)
}

var (
	_ Store  = (*DB)(nil)
	_ Source = (*DB)(nil)
)
