package database

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// CopyStats counts the rows written by Copy.
type CopyStats struct {
	Channels int `json:"channels"`
	Messages int `json:"messages"`
	Names    int `json:"names"`
}

// Copy writes every row of from into to: metadata, channels, all messages of
// each channel (revisions keep their edit links) and the name cache. Messages
// whose channel has no channel row are copied as they are. Rows are upserted,
// so copying into a non-empty store merges by key.
func Copy(ctx context.Context, from Source, to Store) (CopyStats, error) {
	var stats CopyStats

	meta, err := from.GetMetadata(ctx)
	if err != nil {
		return stats, fmt.Errorf("copy metadata: %w", err)
	}
	if err := to.SetMetadata(ctx, meta); err != nil {
		return stats, fmt.Errorf("copy metadata: %w", err)
	}

	channels, err := from.ListChannels(ctx)
	if err != nil {
		return stats, fmt.Errorf("copy channels: %w", err)
	}
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := to.UpsertChannel(ctx, ch); err != nil {
			return stats, fmt.Errorf("copy channel %s: %w", ch.ID, err)
		}
		stats.Channels++
	}

	ids, err := MessageChannels(ctx, from, channels)
	if err != nil {
		return stats, fmt.Errorf("copy messages: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		messages, err := from.ChannelMessages(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("copy messages of %s: %w", id, err)
		}
		for _, msg := range messages {
			if err := to.UpsertMessage(ctx, msg); err != nil {
				return stats, fmt.Errorf("copy message %d: %w", msg.ArrivedAt, err)
			}
			stats.Messages++
		}
	}

	names, err := from.ListNames(ctx)
	if err != nil {
		return stats, fmt.Errorf("copy names: %w", err)
	}
	for _, entry := range names {
		if err := to.UpsertName(ctx, entry.ID, entry.Name); err != nil {
			return stats, fmt.Errorf("copy name %s: %w", entry.ID, err)
		}
		stats.Names++
	}
	return stats, nil
}

// MessageChannels returns the IDs of channels, in order, followed by every
// other channel of from that holds messages.
func MessageChannels(ctx context.Context, from Source, channels []Channel) ([]ChannelID, error) {
	ids := lo.Map(channels, func(ch Channel, _ int) ChannelID { return ch.ID })
	withMessages, err := from.MessageChannelIDs(ctx)
	if err != nil {
		return nil, err
	}
	orphans, _ := lo.Difference(withMessages, ids)
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].String() < orphans[j].String() })
	return append(ids, lo.Uniq(orphans)...), nil
}
