package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemCache is a write-through cache in front of a DB. Channels, names and
// metadata are held in memory from startup; channel timelines are loaded on
// first read and dropped whenever a write touches the channel. Revisions are
// always read from the DB.
type MemCache struct {
	mu sync.RWMutex

	db        *DB
	channels  map[ChannelID]Channel
	names     map[uuid.UUID]string
	metadata  Metadata
	timelines map[ChannelID][]MessageView
	// generation guards against caching a timeline that was invalidated while it loaded.
	generation map[ChannelID]uint64

	watchMu  sync.Mutex
	watchers map[int]chan ChannelID
	nextID   int
}

var _ Store = (*MemCache)(nil)

// NewMemCache loads channels, names and metadata from db.
func NewMemCache(ctx context.Context, db *DB) (*MemCache, error) {
	c := &MemCache{
		db:         db,
		channels:   make(map[ChannelID]Channel),
		names:      make(map[uuid.UUID]string),
		timelines:  make(map[ChannelID][]MessageView),
		generation: make(map[ChannelID]uint64),
		watchers:   make(map[int]chan ChannelID),
	}

	channels, err := db.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for _, ch := range channels {
		c.channels[ch.ID] = ch
	}

	names, err := db.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load names: %w", err)
	}
	for _, entry := range names {
		c.names[entry.ID] = entry.Name
	}

	c.metadata, err = db.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	db.log.Debug().
		Int("channels", len(c.channels)).
		Int("names", len(c.names)).
		Msg("memcache initialized")
	return c, nil
}

// DB returns the underlying store.
func (c *MemCache) DB() *DB {
	return c.db
}

// Watch subscribes to channel change notifications. Every write that touches
// a channel sends its ID; a slow subscriber misses notifications rather than
// blocking writers. Call the returned function to unsubscribe.
func (c *MemCache) Watch(buffer int) (<-chan ChannelID, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ChannelID, buffer)

	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
			close(ch)
		})
	}
}

func (c *MemCache) notify(id ChannelID) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- id:
		default:
		}
	}
}

// invalidate drops cached timelines and notifies watchers.
func (c *MemCache) invalidate(ids ...ChannelID) {
	ids = lo.Uniq(ids)
	c.mu.Lock()
	for _, id := range ids {
		delete(c.timelines, id)
		c.generation[id]++
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.notify(id)
	}
}

// UpsertChannel writes through and updates the cached channel.
func (c *MemCache) UpsertChannel(ctx context.Context, ch Channel) error {
	if err := c.db.UpsertChannel(ctx, ch); err != nil {
		return err
	}
	c.cacheChannel(ch)
	return nil
}

// UpdateChannel writes through and caches the stored result.
func (c *MemCache) UpdateChannel(ctx context.Context, id ChannelID, update func(ch Channel, ok bool) Channel) (Channel, error) {
	ch, err := c.db.UpdateChannel(ctx, id, update)
	if err != nil {
		return Channel{}, err
	}
	c.cacheChannel(ch)
	return ch, nil
}

func (c *MemCache) cacheChannel(ch Channel) {
	c.mu.Lock()
	c.channels[ch.ID] = ch.clone()
	c.mu.Unlock()
	c.notify(ch.ID)
}

// GetChannel reads from memory.
func (c *MemCache) GetChannel(_ context.Context, id ChannelID) (Channel, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch.clone(), ok, nil
}

// ListChannels reads from memory.
func (c *MemCache) ListChannels(_ context.Context) ([]Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := lo.MapToSlice(c.channels, func(_ ChannelID, ch Channel) Channel { return ch.clone() })
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID.String() < channels[j].ID.String() })
	return channels, nil
}

// ListChannelSummaries needs per-channel counts and reads through.
func (c *MemCache) ListChannelSummaries(ctx context.Context) ([]ChannelSummary, error) {
	return c.db.ListChannelSummaries(ctx)
}

// UpsertMessage writes through. Both the new channel and, when the arrival
// key moves, the channel that previously held it are invalidated.
func (c *MemCache) UpsertMessage(ctx context.Context, msg Message) error {
	previous, err := c.db.upsertMessage(ctx, msg)
	if err != nil {
		return err
	}
	c.invalidateMoved(msg.ChannelID, previous)
	return nil
}

// MergeMessage writes through like UpsertMessage.
func (c *MemCache) MergeMessage(ctx context.Context, msg Message) error {
	previous, err := c.db.mergeMessage(ctx, msg)
	if err != nil {
		return err
	}
	c.invalidateMoved(msg.ChannelID, previous)
	return nil
}

// RecordEdit writes through and invalidates the channel.
func (c *MemCache) RecordEdit(ctx context.Context, channelID ChannelID, target int64, revision Message) (MessageView, error) {
	view, previous, err := c.db.recordEdit(ctx, channelID, target, revision)
	if err != nil {
		return MessageView{}, err
	}
	c.invalidateMoved(view.ChannelID, previous)
	return view, nil
}

// invalidateMoved invalidates current and, when set, the channel a key moved from.
func (c *MemCache) invalidateMoved(current, previous ChannelID) {
	if previous.IsZero() {
		c.invalidate(current)
		return
	}
	c.invalidate(current, previous)
}

// timeline returns the cached timeline of a channel, loading it on a miss.
func (c *MemCache) timeline(ctx context.Context, id ChannelID) ([]MessageView, error) {
	c.mu.RLock()
	cached, ok := c.timelines[id]
	gen := c.generation[id]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := c.db.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generation[id] == gen {
		c.timelines[id] = loaded
	}
	c.mu.Unlock()
	return loaded, nil
}

// GetMessage answers from the cached timeline and falls back to the DB for
// revisions and uncached channels.
func (c *MemCache) GetMessage(ctx context.Context, channelID ChannelID, arrivedAt int64) (MessageView, bool, error) {
	c.mu.RLock()
	cached, ok := c.timelines[channelID]
	c.mu.RUnlock()
	if ok {
		i := sort.Search(len(cached), func(i int) bool { return cached[i].ArrivedAt >= arrivedAt })
		if i < len(cached) && cached[i].ArrivedAt == arrivedAt {
			return cached[i], true, nil
		}
	}
	return c.db.GetMessage(ctx, channelID, arrivedAt)
}

// ListMessages returns a copy of the cached timeline.
func (c *MemCache) ListMessages(ctx context.Context, channelID ChannelID) ([]MessageView, error) {
	views, err := c.timeline(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(views), nil
}

// ListMessagesBefore pages through the cached timeline.
func (c *MemCache) ListMessagesBefore(ctx context.Context, channelID ChannelID, before int64, limit int) ([]MessageView, error) {
	if limit <= 0 {
		return nil, nil
	}
	views, err := c.timeline(ctx, channelID)
	if err != nil {
		return nil, err
	}
	end := sort.Search(len(views), func(i int) bool { return views[i].ArrivedAt >= before })
	start := max(0, end-limit)
	if start == end {
		return nil, nil
	}
	return slices.Clone(views[start:end]), nil
}

// Edits reads through.
func (c *MemCache) Edits(ctx context.Context, channelID ChannelID, original int64) ([]Message, error) {
	return c.db.Edits(ctx, channelID, original)
}

// MessageChannel reads through.
func (c *MemCache) MessageChannel(ctx context.Context, arrivedAt int64) (ChannelID, bool, error) {
	return c.db.MessageChannel(ctx, arrivedAt)
}

// MessageChannelIDs reads through.
func (c *MemCache) MessageChannelIDs(ctx context.Context) ([]ChannelID, error) {
	return c.db.MessageChannelIDs(ctx)
}

// ChannelMessages reads through.
func (c *MemCache) ChannelMessages(ctx context.Context, channelID ChannelID) ([]Message, error) {
	return c.db.ChannelMessages(ctx, channelID)
}

// ApplyReaction writes through and invalidates the channel when the message exists.
func (c *MemCache) ApplyReaction(ctx context.Context, channelID ChannelID, arrivedAt int64, reactor uuid.UUID, emoji *string) (bool, error) {
	found, err := c.db.ApplyReaction(ctx, channelID, arrivedAt, reactor, emoji)
	if err != nil || !found {
		return found, err
	}
	c.invalidate(channelID)
	return true, nil
}

// ApplyReceipt writes through and invalidates the channel when the message exists.
func (c *MemCache) ApplyReceipt(ctx context.Context, channelID ChannelID, arrivedAt int64, receipt Receipt) (bool, error) {
	found, err := c.db.ApplyReceipt(ctx, channelID, arrivedAt, receipt)
	if err != nil || !found {
		return found, err
	}
	c.invalidate(channelID)
	return true, nil
}

// UpsertName writes through. The user channel of the contact is notified
// since its display name may change.
func (c *MemCache) UpsertName(ctx context.Context, id uuid.UUID, name string) error {
	if err := c.db.UpsertName(ctx, id, name); err != nil {
		return err
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
	c.notify(UserChannel(id))
	return nil
}

// GetName reads from memory.
func (c *MemCache) GetName(_ context.Context, id uuid.UUID) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok, nil
}

// ListNames reads from memory.
func (c *MemCache) ListNames(_ context.Context) ([]NameEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := lo.MapToSlice(c.names, func(id uuid.UUID, name string) NameEntry {
		return NameEntry{ID: id, Name: name}
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID.String() < entries[j].ID.String() })
	return entries, nil
}

// GetMetadata reads from memory.
func (c *MemCache) GetMetadata(_ context.Context) (Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata, nil
}

// SetMetadata writes through.
func (c *MemCache) SetMetadata(ctx context.Context, meta Metadata) error {
	if err := c.db.SetMetadata(ctx, meta); err != nil {
		return err
	}
	c.mu.Lock()
	c.metadata = normalizeMetadata(meta)
	c.mu.Unlock()
	return nil
}
