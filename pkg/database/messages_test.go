package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertMessageReplacesWholeRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))

	first := textMessage(ch, 500, "first")
	first.Attachments = []Attachment{{ID: "a1", ContentType: "image/png", Size: 10}}
	first.Reactions = Reactions{testUser(2): "👍"}
	mustUpsert(t, db, first)

	second := textMessage(ch, 500, "second")
	second.Receipt = ReceiptDelivered
	mustUpsert(t, db, second)

	view, ok, err := db.GetMessage(ctx, ch, 500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", *view.Body)
	assert.Equal(t, ReceiptDelivered, view.Receipt)
	assert.Empty(t, view.Attachments)
	assert.Empty(t, view.Reactions)

	// Upserting the same value again changes nothing.
	mustUpsert(t, db, second)
	views, err := db.ListMessages(ctx, ch)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestUpsertMessageRejectsMissingChannel(t *testing.T) {
	db := openTestDB(t, Options{})
	err := db.UpsertMessage(context.Background(), Message{ArrivedAt: 1, Body: strPtr("x")})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestListMessagesOrderedAscending(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := GroupChannel(testGroup(1))

	for _, key := range []int64{30, -5, 10, 20, 0} {
		mustUpsert(t, db, textMessage(ch, key, "m"))
	}
	views, err := db.ListMessages(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []int64{-5, 0, 10, 20, 30}, timelineKeys(views))
}

func TestQuoteResolution(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))

	quoted := textMessage(ch, 1000, "original")
	quoted.FromID = testUser(7)
	quoted.Attachments = []Attachment{{ID: "f", ContentType: "text/plain", Filename: "notes.txt", Size: 3}}
	reply := textMessage(ch, 1001, "reply")
	reply.Quote = i64Ptr(1000)
	mustUpsert(t, db, quoted, reply)

	view, ok, err := db.GetMessage(ctx, ch, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, view.Quote)
	assert.Equal(t, int64(1000), view.Quote.ArrivedAt)
	assert.Equal(t, testUser(7), view.Quote.FromID)
	assert.Equal(t, "original", *view.Quote.Body)
	assert.Equal(t, quoted.Attachments, view.Quote.Attachments)
	assert.Equal(t, ReceiptSent, view.Quote.Receipt)

	views, err := db.ListMessages(ctx, ch)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Quote)
	assert.NotNil(t, views[1].Quote)
}

func TestDanglingQuoteReadsAsNoQuote(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	other := UserChannel(testUser(2))

	dangling := textMessage(ch, 10, "points nowhere")
	dangling.Quote = i64Ptr(9)
	// A message with the quoted key exists, but in another channel.
	crossChannel := textMessage(ch, 11, "quotes other channel")
	crossChannel.Quote = i64Ptr(12)
	mustUpsert(t, db, dangling, crossChannel, textMessage(other, 12, "elsewhere"))

	for _, key := range []int64{10, 11} {
		view, ok, err := db.GetMessage(ctx, ch, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, view.Quote, "message %d", key)
		assert.NotNil(t, view.Message.Quote, "stored reference survives")
	}
}

func TestQuoteSnippetTruncated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{QuoteSnippetLength: 5})
	ch := UserChannel(testUser(1))

	reply := textMessage(ch, 2, "reply")
	reply.Quote = i64Ptr(1)
	mustUpsert(t, db, textMessage(ch, 1, "héllo wörld"), reply)

	view, _, err := db.GetMessage(ctx, ch, 2)
	require.NoError(t, err)
	require.NotNil(t, view.Quote)
	assert.Equal(t, "héllo…", *view.Quote.Body)
}

func TestCrossChannelArrivalKeyCollision(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	a := UserChannel(testUser(1))
	b := GroupChannel(testGroup(1))

	mustUpsert(t, db, textMessage(a, 42, "in a"), textMessage(b, 42, "in b"))

	viewsA, err := db.ListMessages(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, viewsA)

	viewsB, err := db.ListMessages(ctx, b)
	require.NoError(t, err)
	require.Len(t, viewsB, 1)
	assert.Equal(t, "in b", *viewsB[0].Body)

	owner, ok, err := db.MessageChannel(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, owner)

	_, ok, err = db.MessageChannel(ctx, 43)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMessageAbsent(t *testing.T) {
	db := openTestDB(t, Options{})
	_, ok, err := db.GetMessage(context.Background(), UserChannel(testUser(1)), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListMessagesBefore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	for key := int64(1); key <= 10; key++ {
		mustUpsert(t, db, textMessage(ch, key, "m"))
	}

	page, err := db.ListMessagesBefore(ctx, ch, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, timelineKeys(page))

	page, err = db.ListMessagesBefore(ctx, ch, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, timelineKeys(page))

	page, err = db.ListMessagesBefore(ctx, ch, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMessageFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := GroupChannel(testGroup(3))
	mention := testUser(4)

	msg := Message{
		ArrivedAt: 77,
		ChannelID: ch,
		FromID:    testUser(5),
		Receipt:   ReceiptRead,
		BodyRanges: []BodyRange{
			{Start: 0, End: 1, Mention: &mention},
			{Start: 2, End: 6, Style: StyleBold},
		},
		Attachments: []Attachment{
			{ID: "one", ContentType: "image/jpeg", Filename: "a.jpg", Size: 1024},
			{ID: "two", ContentType: "video/mp4", Size: 2048},
		},
		Reactions: Reactions{testUser(6): "🎉", testUser(7): "❤️"},
	}
	mustUpsert(t, db, msg)

	view, ok, err := db.GetMessage(ctx, ch, 77)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, view.Body)
	assert.Equal(t, msg, view.Message)
}

func TestChannelMessagesIncludesRevisions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	mustUpsert(t, db, textMessage(ch, 1, "v1"))
	_, err := db.RecordEdit(ctx, ch, 1, textMessage(ch, 2, "v2"))
	require.NoError(t, err)

	rows, err := db.ChannelMessages(ctx, ch)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Edited)
	assert.Equal(t, int64(1), *rows[1].Edit)

	views, err := db.ListMessages(ctx, ch)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestMergeMessageKeepsProgress(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	msg := textMessage(ch, 30, "out")
	require.NoError(t, db.MergeMessage(ctx, msg))

	_, err := db.ApplyReceipt(ctx, ch, 30, ReceiptRead)
	require.NoError(t, err)
	_, err = db.ApplyReaction(ctx, ch, 30, testUser(2), strPtr("❤️"))
	require.NoError(t, err)

	msg.Body = strPtr("out, again")
	require.NoError(t, db.MergeMessage(ctx, msg))

	view, ok, err := db.GetMessage(ctx, ch, 30)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "out, again", *view.Body)
	assert.Equal(t, ReceiptRead, view.Receipt)
	assert.Equal(t, Reactions{testUser(2): "❤️"}, view.Reactions)

	// Reactions carried by the message replace the stored ones.
	msg.Reactions = Reactions{testUser(3): "🎉"}
	require.NoError(t, db.MergeMessage(ctx, msg))
	view, _, err = db.GetMessage(ctx, ch, 30)
	require.NoError(t, err)
	assert.Equal(t, Reactions{testUser(3): "🎉"}, view.Reactions)
}

func TestMergeMessageMarksEditedFromRevisions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))

	// The revision arrives before its original.
	revision := textMessage(ch, 41, "fixed")
	revision.Edit = i64Ptr(40)
	mustUpsert(t, db, revision)

	require.NoError(t, db.MergeMessage(ctx, textMessage(ch, 40, "typo")))

	view, ok, err := db.GetMessage(ctx, ch, 40)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, view.Edited)
	require.NotNil(t, view.Content)
	assert.Equal(t, "fixed", *view.Content)
}

func TestMergeMessageRejectsMissingChannel(t *testing.T) {
	db := openTestDB(t, Options{})
	err := db.MergeMessage(context.Background(), Message{ArrivedAt: 1})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestMessageChannelIDs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	a, b := UserChannel(testUser(1)), GroupChannel(testGroup(1))
	mustUpsert(t, db, textMessage(a, 1, "x"), textMessage(b, 2, "y"), textMessage(a, 3, "z"))

	ids, err := db.MessageChannelIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ChannelID{a, b}, ids)
}
