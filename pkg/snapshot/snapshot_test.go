package snapshot

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/termchat/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "store.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func user(n byte) uuid.UUID {
	var id uuid.UUID
	id[0] = 0x50
	id[15] = n
	return id
}

func body(s string) *string { return &s }

func seed(t *testing.T, db *database.DB) (database.ChannelID, database.ChannelID) {
	t.Helper()
	ctx := context.Background()
	direct := database.UserChannel(user(1))
	var g database.GroupID
	g[0] = 0x60
	team := database.GroupChannel(g)

	require.NoError(t, db.UpsertChannel(ctx, database.Channel{ID: direct, Name: "Ada"}))
	require.NoError(t, db.UpsertChannel(ctx, database.Channel{
		ID:    team,
		Name:  "team",
		Group: &database.GroupData{MasterKey: database.MasterKey{3}, Revision: 7, Members: []uuid.UUID{user(1), user(2)}},
	}))

	quote := int64(10)
	require.NoError(t, db.UpsertMessage(ctx, database.Message{ArrivedAt: 10, ChannelID: team, FromID: user(1), Body: body("first"), Receipt: database.ReceiptSent}))
	require.NoError(t, db.UpsertMessage(ctx, database.Message{
		ArrivedAt:   11,
		ChannelID:   team,
		FromID:      user(2),
		Body:        body("reply"),
		Quote:       &quote,
		BodyRanges:  []database.BodyRange{{Start: 0, End: 5, Style: database.StyleBold}},
		Attachments: []database.Attachment{{ID: "a1", ContentType: "image/png", Size: 42}},
		Reactions:   database.Reactions{user(1): "👍"},
	}))
	_, err := db.RecordEdit(ctx, team, 10, database.Message{ArrivedAt: 12, FromID: user(1), Body: body("first!")})
	require.NoError(t, err)
	require.NoError(t, db.UpsertMessage(ctx, database.Message{ArrivedAt: 20, ChannelID: direct, FromID: user(1), Body: body("hi")}))
	require.NoError(t, db.UpsertName(ctx, user(2), "Grace"))
	at := time.UnixMilli(1_650_000_000_000).UTC()
	require.NoError(t, db.SetMetadata(ctx, database.Metadata{ContactsSyncRequestAt: &at}))
	return direct, team
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	_, team := seed(t, src)

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Len(t, exported.Messages, 4)

	snap, err := Load(&buf)
	require.NoError(t, err)

	dst := openStore(t)
	stats, err := Import(ctx, snap, dst)
	require.NoError(t, err)
	assert.Equal(t, database.CopyStats{Channels: 2, Messages: 4, Names: 1}, stats)

	want, err := src.ListMessages(ctx, team)
	require.NoError(t, err)
	got, err := dst.ListMessages(ctx, team)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ch, ok, err := dst.GetChannel(ctx, team)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ch.Group)
	assert.Equal(t, uint32(7), ch.Group.Revision)
	assert.Equal(t, database.MasterKey{3}, ch.Group.MasterKey)

	meta, err := dst.GetMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta.FullyMigrated)
	assert.True(t, *meta.FullyMigrated)
	require.NotNil(t, meta.ContactsSyncRequestAt)
	assert.Equal(t, int64(1_650_000_000_000), meta.ContactsSyncRequestAt.UnixMilli())
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", "{", ErrInvalidSnapshot},
		{"future version", `{"version": 99}`, ErrUnsupportedVersion},
		{
			"message without channel",
			`{"version": 1, "messages": [{"arrived_at": 1, "from_id": "50000000-0000-0000-0000-000000000001", "receipt": 0}]}`,
			ErrInvalidSnapshot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSnapshotIsSource(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	direct, team := seed(t, src)

	snap, err := Take(ctx, src)
	require.NoError(t, err)

	teamRows, err := snap.ChannelMessages(ctx, team)
	require.NoError(t, err)
	assert.Len(t, teamRows, 3)

	directRows, err := snap.ChannelMessages(ctx, direct)
	require.NoError(t, err)
	require.Len(t, directRows, 1)
	assert.Equal(t, "hi", *directRows[0].Body)
}

func TestExportKeepsMessagesWithoutChannelRow(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	stray := database.UserChannel(user(9))
	require.NoError(t, src.UpsertMessage(ctx, database.Message{ArrivedAt: 5, ChannelID: stray, FromID: user(9), Body: body("before contact sync")}))

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Empty(t, exported.Channels)
	require.Len(t, exported.Messages, 1)

	snap, err := Load(&buf)
	require.NoError(t, err)

	dst := openStore(t)
	stats, err := Import(ctx, snap, dst)
	require.NoError(t, err)
	assert.Equal(t, database.CopyStats{Messages: 1}, stats)

	rows, err := dst.ChannelMessages(ctx, stray)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "before contact sync", *rows[0].Body)
}
