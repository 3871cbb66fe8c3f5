package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiehw/ethwatch/internal/config"
	"github.com/chiehw/ethwatch/internal/etherscan"
	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/storage"
)

type fakeLedger struct {
	txs []etherscan.Transaction
	err error

	lastStartBlock uint64
}

func (f *fakeLedger) ListTransactions(_ context.Context, _ string, startBlock uint64) ([]etherscan.Transaction, error) {
	f.lastStartBlock = startBlock
	if f.err != nil {
		return nil, f.err
	}
	return f.txs, nil
}

type fakeSender struct {
	mu        sync.Mutex
	delivered map[int64][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{delivered: make(map[int64][]string)}
}

func (f *fakeSender) SendNotification(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[chatID] = append(f.delivered[chatID], text)
	return nil
}

func (f *fakeSender) received(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[chatID]
}

func ethTx(hash string, block uint64, at time.Time) etherscan.Transaction {
	return etherscan.Transaction{
		Hash:  hash,
		Block: block,
		Time:  at,
		Value: decimal.New(1, 18),
		From:  "0xaaa",
		To:    "0xbbb",
	}
}

func newTestPoller(t *testing.T, ledger Ledger) (*Poller, *fakeSender, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.EnsureAdmins([]int64{7}))
	_, err = store.Subscribe(42)
	require.NoError(t, err)

	cfg := &config.Config{TargetAddress: "0xtarget", StartBlock: 100}
	require.NoError(t, store.InitCursor(cfg.StartBlock))

	sender := newFakeSender()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	n := notifier.New(store, sender, m, log, 4)

	return NewPoller(cfg, store, ledger, n, m, time.UTC, log), sender, store
}

func TestNoHistoricalFlood(t *testing.T) {
	now := time.Now()
	ledger := &fakeLedger{txs: []etherscan.Transaction{
		ethTx("0x1", 101, now.Add(-48*time.Hour)),
		ethTx("0x2", 102, now.Add(-24*time.Hour)),
		ethTx("0x3", 103, now.Add(-time.Hour)),
	}}
	p, sender, store := newTestPoller(t, ledger)
	ctx := context.Background()

	// Initialization poll absorbs everything silently.
	p.Poll(ctx)

	assert.Empty(t, sender.received(42))
	assert.Empty(t, sender.received(7))

	count, err := store.TransactionCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	cursor, err := store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(103), cursor)
}

func TestSubsequentPollAlertsOnNewTransactions(t *testing.T) {
	now := time.Now()
	ledger := &fakeLedger{txs: []etherscan.Transaction{
		ethTx("0x1", 101, now.Add(-time.Hour)),
	}}
	p, sender, store := newTestPoller(t, ledger)
	ctx := context.Background()

	p.Poll(ctx) // initialization

	// Next poll returns the old transaction again plus one new one.
	ledger.txs = append(ledger.txs, ethTx("0x2", 105, now))
	p.Poll(ctx)

	// The poll resumed from the cursor, not the configured start block.
	assert.Equal(t, uint64(101), ledger.lastStartBlock)

	msgs := sender.received(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "New transaction detected")
	assert.Contains(t, msgs[0], "0x2")
	assert.NotContains(t, msgs[0], "0x1")

	// Admins are subscribers too.
	assert.Len(t, sender.received(7), 1)

	cursor, err := store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(105), cursor)
}

func TestDuplicateResponseProducesNoAlerts(t *testing.T) {
	ledger := &fakeLedger{txs: []etherscan.Transaction{
		ethTx("0x1", 101, time.Now()),
	}}
	p, sender, _ := newTestPoller(t, ledger)
	ctx := context.Background()

	p.Poll(ctx) // initialization
	p.Poll(ctx) // same payload again
	p.Poll(ctx)

	assert.Empty(t, sender.received(42))
}

func TestAPIErrorLeavesStateUntouched(t *testing.T) {
	ledger := &fakeLedger{err: &etherscan.APIError{Status: "0", Message: "NOTOK"}}
	p, sender, store := newTestPoller(t, ledger)
	ctx := context.Background()

	p.Poll(ctx)

	// No warning message, no state change; the next tick simply retries.
	assert.Empty(t, sender.received(7))
	assert.Empty(t, sender.received(42))

	cursor, err := store.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cursor)

	count, err := store.TransactionCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTransportErrorWarnsAdmins(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("dial tcp: lookup api.etherscan.io: no such host")}
	p, sender, _ := newTestPoller(t, ledger)
	ctx := context.Background()

	p.Poll(ctx)
	p.Poll(ctx)

	// Warned once per occurrence, admins only.
	admin := sender.received(7)
	require.Len(t, admin, 2)
	assert.Contains(t, admin[0], "Ledger query failed")
	assert.Empty(t, sender.received(42))
}

func TestFailedPollDoesNotConsumeInitialization(t *testing.T) {
	ledger := &fakeLedger{err: &etherscan.APIError{Status: "0", Message: "NOTOK"}}
	p, sender, _ := newTestPoller(t, ledger)
	ctx := context.Background()

	p.Poll(ctx) // fails; initialization not done yet

	ledger.err = nil
	ledger.txs = []etherscan.Transaction{ethTx("0x1", 101, time.Now())}
	p.Poll(ctx) // first successful poll is the initialization poll

	assert.Empty(t, sender.received(42))
}
