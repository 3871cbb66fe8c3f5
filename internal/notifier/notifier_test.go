package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/storage"
)

// fakeSender records deliveries and fails the chats it is told to fail.
type fakeSender struct {
	mu        sync.Mutex
	delivered map[int64][]string
	failWith  map[int64]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		delivered: make(map[int64][]string),
		failWith:  make(map[int64]error),
	}
}

func (f *fakeSender) SendNotification(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failWith[chatID]; ok {
		return err
	}
	f.delivered[chatID] = append(f.delivered[chatID], text)
	return nil
}

func (f *fakeSender) received(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[chatID]
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeSender, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sender := newFakeSender()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := New(store, sender, metrics.New(prometheus.NewRegistry()), log, 4)

	return n, sender, store
}

func forbiddenErr() error {
	return fmt.Errorf("telegram: %w", bot.ErrorForbidden)
}

func TestFanOutIsolation(t *testing.T) {
	n, sender, store := newTestNotifier(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := store.Subscribe(id)
		require.NoError(t, err)
	}

	// Recipient 2 has blocked the bot.
	sender.failWith[2] = forbiddenErr()

	results := n.Broadcast(ctx, "hello")
	require.Len(t, results, 3)

	// 1 and 3 still got the message.
	assert.Len(t, sender.received(1), 1)
	assert.Len(t, sender.received(3), 1)
	assert.Empty(t, sender.received(2))

	// 2 was pruned from the registry, 1 and 3 remain.
	assert.False(t, store.IsAuthorized(2))
	assert.True(t, store.IsAuthorized(1))
	assert.True(t, store.IsAuthorized(3))

	for _, r := range results {
		if r.ChatID == 2 {
			assert.Error(t, r.Err)
			assert.True(t, r.Pruned)
		} else {
			assert.NoError(t, r.Err)
		}
	}
}

func TestAdminSurvivesPermanentFailure(t *testing.T) {
	n, sender, store := newTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureAdmins([]int64{7}))
	sender.failWith[7] = forbiddenErr()

	results := n.Broadcast(ctx, "hello")
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.False(t, results[0].Pruned)

	assert.True(t, store.IsAdmin(7))
}

func TestTransientFailureDoesNotPrune(t *testing.T) {
	n, sender, store := newTestNotifier(t)
	ctx := context.Background()

	_, err := store.Subscribe(1)
	require.NoError(t, err)
	sender.failWith[1] = fmt.Errorf("context deadline exceeded")

	results := n.Broadcast(ctx, "hello")
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.False(t, results[0].Pruned)

	// Still subscribed; the next cadence will try again.
	assert.True(t, store.IsAuthorized(1))
}

func TestNotifyAdminsTargetsAdminsOnly(t *testing.T) {
	n, sender, store := newTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureAdmins([]int64{7}))
	_, err := store.Subscribe(1)
	require.NoError(t, err)

	n.NotifyAdmins(ctx, "admins only")

	assert.Len(t, sender.received(7), 1)
	assert.Empty(t, sender.received(1))
}

func TestSendSingleRecipient(t *testing.T) {
	n, sender, store := newTestNotifier(t)
	ctx := context.Background()

	_, err := store.Subscribe(5)
	require.NoError(t, err)

	require.NoError(t, n.Send(ctx, 5, "direct"))
	assert.Equal(t, []string{"direct"}, sender.received(5))
}
