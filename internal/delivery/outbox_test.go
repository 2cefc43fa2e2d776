package delivery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := NewOutbox(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestEnqueueAndPending(t *testing.T) {
	o := newOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, ChannelEmail, "lead-42@example.com", "hello again"))
	require.NoError(t, o.Enqueue(ctx, ChannelSMS, "+15550100", "quick nudge"))

	msgs, err := o.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, ChannelEmail, msgs[0].Channel)
	require.Equal(t, "lead-42@example.com", msgs[0].Recipient)
	require.Equal(t, ChannelSMS, msgs[1].Channel)
}

func TestMarkSentRemovesFromPending(t *testing.T) {
	o := newOutbox(t)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, ChannelEmail, "a@example.com", "one"))
	msgs, err := o.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, o.MarkSent(ctx, msgs[0].ID))

	msgs, err = o.Pending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMarkSentUnknownID(t *testing.T) {
	o := newOutbox(t)
	require.Error(t, o.MarkSent(context.Background(), 999))
}

func TestPendingRespectsLimit(t *testing.T) {
	o := newOutbox(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, o.Enqueue(ctx, ChannelEmail, "x@example.com", "msg"))
	}
	msgs, err := o.Pending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
}
