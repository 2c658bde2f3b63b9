package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptMerge(t *testing.T) {
	tests := []struct {
		current, incoming, want Receipt
	}{
		{ReceiptNothing, ReceiptSent, ReceiptSent},
		{ReceiptSent, ReceiptDelivered, ReceiptDelivered},
		{ReceiptDelivered, ReceiptRead, ReceiptRead},
		{ReceiptRead, ReceiptDelivered, ReceiptRead},
		{ReceiptDelivered, ReceiptSent, ReceiptDelivered},
		{ReceiptSent, ReceiptNothing, ReceiptSent},
	}
	for _, tt := range tests {
		t.Run(tt.current.String()+"+"+tt.incoming.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.current.Merge(tt.incoming))
		})
	}
}

func TestApplyReceiptNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, Options{})
	ch := UserChannel(testUser(1))
	mustUpsert(t, db, textMessage(ch, 3, "out"))

	steps := []struct {
		apply Receipt
		want  Receipt
	}{
		{ReceiptDelivered, ReceiptDelivered},
		{ReceiptSent, ReceiptDelivered},
		{ReceiptRead, ReceiptRead},
		{ReceiptDelivered, ReceiptRead},
	}
	for _, step := range steps {
		found, err := db.ApplyReceipt(ctx, ch, 3, step.apply)
		require.NoError(t, err)
		assert.True(t, found)

		view, _, err := db.GetMessage(ctx, ch, 3)
		require.NoError(t, err)
		assert.Equal(t, step.want, view.Receipt, "after applying %s", step.apply)
	}
}

func TestApplyReceiptUnknownMessage(t *testing.T) {
	db := openTestDB(t, Options{})
	found, err := db.ApplyReceipt(context.Background(), UserChannel(testUser(1)), 3, ReceiptRead)
	require.NoError(t, err)
	assert.False(t, found)
}
