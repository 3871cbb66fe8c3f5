package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/chiehw/ethwatch/internal/config"
	"github.com/chiehw/ethwatch/internal/metrics"
	"github.com/chiehw/ethwatch/internal/notifier"
	"github.com/chiehw/ethwatch/internal/storage"
)

// Bot wraps the telegram bot with command handling. The underlying library
// long-polls getUpdates and tracks the update offset itself, so inbound
// commands are neither reprocessed nor skipped.
type Bot struct {
	bot       *bot.Bot
	cfg       *config.Config
	storage   *storage.Storage
	notify    *notifier.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
	loc       *time.Location
	startedAt time.Time
}

// New creates the telegram bot. The notifier is attached afterwards with
// SetNotifier because it needs the bot as its sender.
func New(cfg *config.Config, store *storage.Storage, m *metrics.Metrics, loc *time.Location, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:       cfg,
		storage:   store,
		metrics:   m,
		log:       log,
		loc:       loc,
		startedAt: time.Now(),
	}

	tgBot, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(b.onUpdate))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	return b, nil
}

// SetNotifier attaches the notifier used for replies and admin announcements.
func (b *Bot) SetNotifier(n *notifier.Notifier) {
	b.notify = n
}

// Start starts the bot polling. Blocks until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

func (b *Bot) onUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	b.HandleCommand(ctx, update.Message.Chat.ID, update.Message.Text)
}

// SendNotification delivers a message to a chat. Implements notifier.Sender.
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
