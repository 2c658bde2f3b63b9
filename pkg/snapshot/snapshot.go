// Package snapshot moves a whole message store in and out of a portable JSON
// document.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aeolun/termchat/pkg/database"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

// Version is the document format written by Export.
const Version = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrInvalidSnapshot    = errors.New("invalid snapshot")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the in-memory form of an exported store. It implements
// database.Source so it can be copied into any store.
type Snapshot struct {
	Version  int                  `json:"version"`
	Metadata database.Metadata    `json:"metadata"`
	Channels []database.Channel   `json:"channels"`
	Messages []database.Message   `json:"messages"`
	Names    []database.NameEntry `json:"names"`

	byChannel map[database.ChannelID][]database.Message
}

var _ database.Source = (*Snapshot)(nil)

// Take reads every row of src into a Snapshot.
func Take(ctx context.Context, src database.Source) (*Snapshot, error) {
	snap := &Snapshot{Version: Version}

	var err error
	if snap.Metadata, err = src.GetMetadata(ctx); err != nil {
		return nil, fmt.Errorf("snapshot metadata: %w", err)
	}
	if snap.Channels, err = src.ListChannels(ctx); err != nil {
		return nil, fmt.Errorf("snapshot channels: %w", err)
	}
	ids, err := database.MessageChannels(ctx, src, snap.Channels)
	if err != nil {
		return nil, fmt.Errorf("snapshot messages: %w", err)
	}
	for _, id := range ids {
		messages, err := src.ChannelMessages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot messages of %s: %w", id, err)
		}
		snap.Messages = append(snap.Messages, messages...)
	}
	if snap.Names, err = src.ListNames(ctx); err != nil {
		return nil, fmt.Errorf("snapshot names: %w", err)
	}
	snap.index()
	return snap, nil
}

// Export writes src as an indented JSON document to w.
func Export(ctx context.Context, src database.Source, w io.Writer) (*Snapshot, error) {
	snap, err := Take(ctx, src)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return snap, nil
}

// Load parses and validates a document written by Export.
func Load(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	for _, msg := range snap.Messages {
		if msg.ChannelID.IsZero() {
			return nil, fmt.Errorf("%w: message %d has no channel", ErrInvalidSnapshot, msg.ArrivedAt)
		}
	}

	snap.index()
	return &snap, nil
}

// Import copies snap into store and marks the store as fully migrated.
func Import(ctx context.Context, snap *Snapshot, store database.Store) (database.CopyStats, error) {
	stats, err := database.Copy(ctx, snap, store)
	if err != nil {
		return stats, err
	}

	meta, err := store.GetMetadata(ctx)
	if err != nil {
		return stats, err
	}
	migrated := true
	meta.FullyMigrated = &migrated
	if err := store.SetMetadata(ctx, meta); err != nil {
		return stats, fmt.Errorf("failed to mark import complete: %w", err)
	}
	return stats, nil
}

func (s *Snapshot) index() {
	s.byChannel = lo.GroupBy(s.Messages, func(msg database.Message) database.ChannelID {
		return msg.ChannelID
	})
}

// GetMetadata returns the exported metadata.
func (s *Snapshot) GetMetadata(context.Context) (database.Metadata, error) {
	return s.Metadata, nil
}

// ListChannels returns the exported channels.
func (s *Snapshot) ListChannels(context.Context) ([]database.Channel, error) {
	return s.Channels, nil
}

// MessageChannelIDs returns every channel the exported messages belong to.
func (s *Snapshot) MessageChannelIDs(context.Context) ([]database.ChannelID, error) {
	return lo.Keys(s.byChannel), nil
}

// ChannelMessages returns the exported rows of one channel, revisions included.
func (s *Snapshot) ChannelMessages(_ context.Context, channelID database.ChannelID) ([]database.Message, error) {
	return s.byChannel[channelID], nil
}

// ListNames returns the exported name cache.
func (s *Snapshot) ListNames(context.Context) ([]database.NameEntry, error) {
	return s.Names, nil
}
