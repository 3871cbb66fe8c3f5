package monitor

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/storage"
)

func newTestReporter(t *testing.T) (*Reporter, *fakeSender, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Subscribe(42)
	require.NoError(t, err)

	sender := newFakeSender()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	n := notifier.New(store, sender, m, log, 4)

	return NewReporter(store, n, m, time.UTC, log), sender, store
}

func TestHourlyReportQuiet(t *testing.T) {
	r, sender, _ := newTestReporter(t)

	r.HourlyReport(context.Background())

	msgs := sender.received(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "no new transactions")
}

func TestHourlyReportListsRecentActivity(t *testing.T) {
	r, sender, store := newTestReporter(t)
	now := time.Now()

	_, err := store.Absorb([]storage.Transaction{
		{Hash: "0xrecent", Block: 2, Time: now.Add(-10 * time.Minute), Value: decimal.New(1, 18)},
		{Hash: "0xold", Block: 1, Time: now.Add(-3 * time.Hour), Value: decimal.New(1, 18)},
	})
	require.NoError(t, err)

	r.HourlyReport(context.Background())

	msgs := sender.received(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "1 transactions in the past hour")
	assert.Contains(t, msgs[0], "0xrecent")
	assert.NotContains(t, msgs[0], "0xold")
}

func TestDailyReportSingleFire(t *testing.T) {
	r, sender, _ := newTestReporter(t)
	ctx := context.Background()

	// Walk the clock in 30-minute evaluation ticks across a day boundary.
	start := time.Date(2026, 9, 1, 22, 30, 0, 0, time.UTC)
	current := start
	r.now = func() time.Time { return current }

	for i := 0; i < 12; i++ { // 22:30 ... 04:00 next day
		r.DailyCheck(ctx)
		current = current.Add(30 * time.Minute)
	}

	// Both the 00:00 and 00:30 ticks fall inside the window, but the report
	// fires exactly once.
	msgs := sender.received(42)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Daily summary — 2026-09-02")
}

func TestDailyReportSkippedOutsideWindow(t *testing.T) {
	r, sender, _ := newTestReporter(t)

	// A delayed scheduler waking up mid-morning must not send a late report.
	r.now = func() time.Time { return time.Date(2026, 9, 2, 9, 15, 0, 0, time.UTC) }
	r.DailyCheck(context.Background())

	assert.Empty(t, sender.received(42))
}

func TestDailyReportSurvivesRestart(t *testing.T) {
	r, sender, store := newTestReporter(t)
	ctx := context.Background()

	at := time.Date(2026, 9, 2, 0, 15, 0, 0, time.UTC)
	r.now = func() time.Time { return at }
	r.DailyCheck(ctx)
	require.Len(t, sender.received(42), 1)

	// A restarted process gets a fresh Reporter over the same store; the
	// persisted date keeps the boundary day from double-firing.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	n := notifier.New(store, sender, m, log, 4)
	r2 := NewReporter(store, n, m, time.UTC, log)
	r2.now = func() time.Time { return at.Add(20 * time.Minute) }

	r2.DailyCheck(ctx)
	assert.Len(t, sender.received(42), 1)

	// The next day it fires again.
	r2.now = func() time.Time { return at.Add(24 * time.Hour) }
	r2.DailyCheck(ctx)
	assert.Len(t, sender.received(42), 2)
}
