package database

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const concurrentWriters = 40

// runConcurrently calls fn from n goroutines and fails on the first error.
func runConcurrently(t *testing.T, n int, fn func(i int) error) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fn(i)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestApplyReactionConcurrentReactors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	mustUpsert(t, db, textMessage(ch, 7, "popular"))

	emojis := []string{"👍", "❤️", "🎉", "👍🏽"}
	runConcurrently(t, concurrentWriters, func(i int) error {
		found, err := db.ApplyReaction(ctx, ch, 7, testUser(byte(100+i)), strPtr(emojis[i%len(emojis)]))
		if err == nil && !found {
			t.Errorf("reaction %d found no message", i)
		}
		return err
	})

	view, _, err := db.GetMessage(ctx, ch, 7)
	require.NoError(t, err)
	require.Len(t, view.Reactions, concurrentWriters)
	for i := range concurrentWriters {
		assert.Equal(t, emojis[i%len(emojis)], view.Reactions[testUser(byte(100+i))])
	}
}

func TestApplyReceiptConcurrentKeepsHighest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	mustUpsert(t, db, textMessage(ch, 8, "out"))

	receipts := []Receipt{ReceiptDelivered, ReceiptRead, ReceiptSent, ReceiptDelivered}
	runConcurrently(t, concurrentWriters, func(i int) error {
		_, err := db.ApplyReceipt(ctx, ch, 8, receipts[i%len(receipts)])
		return err
	})

	view, _, err := db.GetMessage(ctx, ch, 8)
	require.NoError(t, err)
	assert.Equal(t, ReceiptRead, view.Receipt)
}

func TestMergeMessageConcurrentWithReactions(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	ch := UserChannel(testUser(1))
	msg := textMessage(ch, 9, "redelivered")
	require.NoError(t, cache.MergeMessage(ctx, msg))

	runConcurrently(t, concurrentWriters, func(i int) error {
		if i%2 == 0 {
			return cache.MergeMessage(ctx, msg)
		}
		_, err := cache.ApplyReaction(ctx, ch, 9, testUser(byte(100+i)), strPtr("👍"))
		return err
	})

	view, ok, err := cache.GetMessage(ctx, ch, 9)
	require.NoError(t, err)
	require.True(t, ok)
	want := Reactions{}
	for i := 1; i < concurrentWriters; i += 2 {
		want[testUser(byte(100+i))] = "👍"
	}
	assert.Equal(t, want, view.Reactions)
}

func TestUpdateChannelConcurrentMembers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	id := GroupChannel(testGroup(1))
	require.NoError(t, db.UpsertChannel(ctx, Channel{ID: id, Name: "team", Group: &GroupData{Members: []uuid.UUID{}}}))

	runConcurrently(t, concurrentWriters, func(i int) error {
		_, err := db.UpdateChannel(ctx, id, func(ch Channel, _ bool) Channel {
			ch.Group.Members = append(ch.Group.Members, testUser(byte(100+i)))
			return ch
		})
		return err
	})

	ch, _, err := db.GetChannel(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ch.Group)
	assert.Len(t, ch.Group.Members, concurrentWriters)
}
