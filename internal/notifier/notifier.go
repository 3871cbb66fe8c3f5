package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-telegram/bot"

	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/storage"
)

// Sender delivers a message to a single chat. The telegram bot implements
// it; tests substitute a fake.
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

// DeliveryResult is the outcome of one per-recipient delivery attempt.
type DeliveryResult struct {
	ChatID int64
	Err    error
	Pruned bool
}

// Notifier fans messages out to subscribers. Deliveries run concurrently per
// recipient with a bounded worker pool; a permanent failure ("bot was blocked
// by the user") removes the recipient from the registry unless they are an
// administrator.
type Notifier struct {
	storage *storage.Storage
	sender  Sender
	metrics *metrics.Metrics
	log     *slog.Logger
	sem     chan struct{}
}

// New creates a Notifier. maxConcurrent bounds parallel deliveries; values
// below 1 fall back to 8.
func New(store *storage.Storage, sender Sender, m *metrics.Metrics, log *slog.Logger, maxConcurrent int) *Notifier {
	if maxConcurrent < 1 {
		maxConcurrent = 8
	}
	return &Notifier{
		storage: store,
		sender:  sender,
		metrics: m,
		log:     log,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Broadcast sends text to every current subscriber. The recipient list is a
// snapshot taken before the first delivery, so mid-broadcast registry changes
// do not produce partial sends.
func (n *Notifier) Broadcast(ctx context.Context, text string) []DeliveryResult {
	subs, err := n.storage.Subscribers()
	if err != nil {
		n.log.Error("load subscriber snapshot", "error", err)
		return nil
	}

	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ChatID
	}

	return n.deliver(ctx, ids, text)
}

// NotifyAdmins sends text to administrator chats only.
func (n *Notifier) NotifyAdmins(ctx context.Context, text string) {
	admins, err := n.storage.Admins()
	if err != nil {
		n.log.Error("load admins", "error", err)
		return
	}

	ids := make([]int64, len(admins))
	for i, a := range admins {
		ids[i] = a.ChatID
	}

	n.deliver(ctx, ids, text)
}

// Send delivers text to a single chat with the same failure handling as a
// broadcast.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	results := n.deliver(ctx, []int64{chatID}, text)
	if len(results) == 0 {
		return nil
	}
	return results[0].Err
}

func (n *Notifier) deliver(ctx context.Context, ids []int64, text string) []DeliveryResult {
	results := make([]DeliveryResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()

			n.sem <- struct{}{}
			defer func() { <-n.sem }()

			results[i] = n.sendOne(ctx, id, text)
		}(i, id)
	}
	wg.Wait()

	return results
}

func (n *Notifier) sendOne(ctx context.Context, chatID int64, text string) DeliveryResult {
	res := DeliveryResult{ChatID: chatID}

	err := n.sender.SendNotification(ctx, chatID, text)
	if err == nil {
		n.metrics.RecordDelivery("ok")
		return res
	}
	res.Err = err

	if errors.Is(err, bot.ErrorForbidden) {
		pruned, perr := n.storage.PruneUnreachable(chatID)
		if perr != nil {
			n.log.Error("prune unreachable subscriber", "chat_id", chatID, "error", perr)
		}
		if pruned {
			res.Pruned = true
			n.metrics.RecordPrune()
			n.log.Info("pruned unreachable subscriber", "chat_id", chatID)
		}
		n.metrics.RecordDelivery("forbidden")
		return res
	}

	n.metrics.RecordDelivery("failed")
	n.log.Warn("delivery failed", "chat_id", chatID, "error", err)
	return res
}
