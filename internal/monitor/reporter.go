package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/storage"
)

const lastDailyReportKey = "last_daily_report"

// dailyWindow is how long after local midnight the daily report may still
// fire. A scheduler tick delayed past this window skips the report for the
// day rather than sending it at an odd hour.
const dailyWindow = time.Hour

// Reporter sends the scheduled hourly and daily status messages. Reports are
// window queries over the full transaction history, unlike alerts which are
// strictly per-poll.
type Reporter struct {
	store   *storage.Storage
	notify  *notifier.Notifier
	metrics *metrics.Metrics
	log     *slog.Logger
	loc     *time.Location

	now func() time.Time
}

// NewReporter creates a Reporter. loc is the calendar timezone for the daily
// report boundary.
func NewReporter(store *storage.Storage, n *notifier.Notifier, m *metrics.Metrics, loc *time.Location, log *slog.Logger) *Reporter {
	return &Reporter{
		store:   store,
		notify:  n,
		metrics: m,
		log:     log,
		loc:     loc,
		now:     time.Now,
	}
}

// HourlyReport broadcasts activity of the past hour to all subscribers.
func (r *Reporter) HourlyReport(ctx context.Context) {
	now := r.now()

	recent, err := r.store.RecentSince(now.Add(-time.Hour), maxListedTransactions)
	if err != nil {
		r.log.Error("hourly report query", "error", err)
		return
	}
	count, err := r.store.CountSince(now.Add(-time.Hour))
	if err != nil {
		r.log.Error("hourly report count", "error", err)
		return
	}

	var msg string
	if count == 0 {
		msg = fmt.Sprintf("✅ <b>Hourly update</b>: no new transactions in the past hour (as of %s)",
			now.In(r.loc).Format("15:04"))
	} else {
		lines := []string{fmt.Sprintf("🚨 <b>Hourly update</b>: %d transactions in the past hour", count)}
		for _, tx := range recent {
			lines = append(lines, "", formatTransaction(tx, r.loc))
		}
		if count > len(recent) {
			lines = append(lines, "", fmt.Sprintf("… and %d more", count-len(recent)))
		}
		msg = strings.Join(lines, "\n")
	}

	r.notify.Broadcast(ctx, msg)
	r.metrics.RecordReport("hourly")
}

// DailyCheck fires the daily summary at most once per calendar day in the
// report timezone, and only within the first hour after local midnight. The
// last-sent date is persisted, so a restart on the boundary day cannot
// double-fire.
func (r *Reporter) DailyCheck(ctx context.Context) {
	now := r.now().In(r.loc)

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	if now.Sub(midnight) >= dailyWindow {
		return
	}

	today := now.Format("2006-01-02")
	last, err := r.store.GetMeta(lastDailyReportKey)
	if err != nil && err != storage.ErrNotFound {
		r.log.Error("read last daily report date", "error", err)
		return
	}
	if last == today {
		return
	}

	if err := r.store.SetMeta(lastDailyReportKey, today); err != nil {
		r.log.Error("persist daily report date", "error", err)
		return
	}

	r.sendDaily(ctx, now)
}

func (r *Reporter) sendDaily(ctx context.Context, now time.Time) {
	dayCount, err := r.store.CountSince(now.Add(-24 * time.Hour))
	if err != nil {
		r.log.Error("daily report count", "error", err)
		return
	}
	total, _ := r.store.TransactionCount()
	subs, _ := r.store.SubscriberCount()
	cursor, _ := r.store.Cursor()

	msg := fmt.Sprintf(
		"🌅 <b>Daily summary — %s</b>\n\n"+
			"📊 Transactions in the past 24h: %d\n"+
			"🗃 Total known transactions: %d\n"+
			"📦 Cursor block: %d\n"+
			"👥 Subscribers: %d",
		now.Format("2006-01-02"), dayCount, total, cursor, subs,
	)

	r.notify.Broadcast(ctx, msg)
	r.metrics.RecordReport("daily")
	r.log.Info("daily report sent", "date", now.Format("2006-01-02"))
}
