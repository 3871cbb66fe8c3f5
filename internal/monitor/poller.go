package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiehw/ethwatch/internal/config"
	"github.com/chiehw/ethwatch/internal/etherscan"
	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/storage"
)

// Ledger is the slice of the Etherscan client the poller needs.
type Ledger interface {
	ListTransactions(ctx context.Context, address string, startBlock uint64) ([]etherscan.Transaction, error)
}

// Poller incrementally queries the ledger from the current cursor, absorbs
// the response into the store, and alerts subscribers about transactions it
// has never seen before.
//
// The first successful poll after startup is the initialization poll: it
// fills the seen set and cursor but sends no alerts, so a fresh deployment
// does not flood subscribers with history.
type Poller struct {
	cfg     *config.Config
	store   *storage.Storage
	ledger  Ledger
	notify  *notifier.Notifier
	metrics *metrics.Metrics
	log     *slog.Logger
	loc     *time.Location

	initialized bool
}

// NewPoller creates a Poller.
func NewPoller(cfg *config.Config, store *storage.Storage, ledger Ledger, n *notifier.Notifier, m *metrics.Metrics, loc *time.Location, log *slog.Logger) *Poller {
	return &Poller{
		cfg:     cfg,
		store:   store,
		ledger:  ledger,
		notify:  n,
		metrics: m,
		log:     log,
		loc:     loc,
	}
}

// Poll runs one poll cycle. Errors are absorbed here: an upstream API error
// or malformed payload leaves all state untouched and waits for the next
// tick, a transport failure additionally warns the administrators.
func (p *Poller) Poll(ctx context.Context) {
	cursor, err := p.store.Cursor()
	if err != nil {
		p.log.Error("read cursor", "error", err)
		p.metrics.RecordPoll("store_error", 0)
		return
	}

	txs, err := p.ledger.ListTransactions(ctx, p.cfg.TargetAddress, cursor)
	if err != nil {
		var apiErr *etherscan.APIError
		if errors.As(err, &apiErr) {
			p.log.Warn("ledger returned an error, skipping tick", "error", apiErr)
			p.metrics.RecordPoll("api_error", 0)
			return
		}

		p.log.Error("ledger unreachable", "error", err)
		p.metrics.RecordPoll("transport_error", 0)
		p.notify.NotifyAdmins(ctx, fmt.Sprintf("⚠️ Ledger query failed: %s", err))
		return
	}

	fresh, err := p.store.Absorb(toRecords(txs))
	if err != nil {
		p.log.Error("absorb transactions", "error", err)
		p.metrics.RecordPoll("store_error", 0)
		return
	}

	p.metrics.RecordPoll("ok", len(fresh))
	p.log.Info("poll complete", "fetched", len(txs), "new", len(fresh))

	if !p.initialized {
		p.initialized = true
		p.log.Info("initialization complete, monitoring for new transactions",
			"seeded", len(fresh))
		return
	}

	if len(fresh) > 0 {
		p.notify.Broadcast(ctx, formatAlert(fresh, p.loc))
	}
}

func toRecords(txs []etherscan.Transaction) []storage.Transaction {
	records := make([]storage.Transaction, len(txs))
	for i, tx := range txs {
		records[i] = storage.Transaction{
			Hash:  tx.Hash,
			Block: tx.Block,
			Time:  tx.Time,
			Value: tx.Value,
			From:  tx.From,
			To:    tx.To,
		}
	}
	return records
}
