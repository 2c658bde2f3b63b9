package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func i64Ptr(v int64) *int64 { return &v }

func testUser(n byte) uuid.UUID {
	var id uuid.UUID
	id[0] = 0x10
	id[15] = n
	return id
}

func testGroup(n byte) GroupID {
	var g GroupID
	g[0] = 0x20
	g[31] = n
	return g
}

func textMessage(channel ChannelID, arrivedAt int64, body string) Message {
	return Message{
		ArrivedAt: arrivedAt,
		ChannelID: channel,
		FromID:    testUser(99),
		Body:      strPtr(body),
		Receipt:   ReceiptSent,
	}
}

func mustUpsert(t *testing.T, s Store, msgs ...Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, s.UpsertMessage(context.Background(), m))
	}
}

func timelineKeys(views []MessageView) []int64 {
	keys := make([]int64, len(views))
	for i, v := range views {
		keys[i] = v.ArrivedAt
	}
	return keys
}
