package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/chiehw/ethwatch/internal/storage"
)

// Commands that require membership before they do anything.
var gatedCommands = map[string]bool{
	"/unsubscribe": true,
	"/status":      true,
	"/check":       true,
	"/users":       true,
	"/broadcast":   true,
}

var adminCommands = map[string]bool{
	"/users":     true,
	"/broadcast": true,
}

// HandleCommand interprets one inbound text message. Unknown text is ignored
// without a reply; a stranger issuing any gated command gets a single
// "how to join" response instead of per-command rejections.
func (b *Bot) HandleCommand(ctx context.Context, chatID int64, text string) {
	cmd, args := splitCommand(text)
	if cmd == "" {
		return
	}

	known := cmd == "/subscribe" || cmd == "/join" || cmd == "/help" || cmd == "/start" || gatedCommands[cmd]
	if !known {
		return
	}

	b.log.Info("command received", "command", cmd, "chat_id", chatID)
	b.metrics.RecordCommand(cmd)

	if gatedCommands[cmd] && !b.storage.IsAuthorized(chatID) {
		b.reply(ctx, chatID, b.notAuthorizedText())
		return
	}
	if adminCommands[cmd] && !b.storage.IsAdmin(chatID) {
		b.reply(ctx, chatID, "🔒 This command is for administrators.")
		return
	}

	switch cmd {
	case "/subscribe":
		b.handleSubscribe(ctx, chatID)
	case "/unsubscribe":
		b.handleUnsubscribe(ctx, chatID)
	case "/join":
		b.handleJoin(ctx, chatID, args)
	case "/help", "/start":
		b.handleHelp(ctx, chatID)
	case "/status":
		b.handleStatus(ctx, chatID)
	case "/check":
		b.handleCheck(ctx, chatID)
	case "/users":
		b.handleUsers(ctx, chatID)
	case "/broadcast":
		b.handleBroadcast(ctx, chatID, args)
	}
}

// splitCommand normalizes "/Check@SomeBot  args" into ("/check", "args").
func splitCommand(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}

	cmd, args, _ := strings.Cut(trimmed, " ")
	cmd = strings.ToLower(cmd)
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	return cmd, strings.TrimSpace(args)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64) {
	joined, err := b.storage.Subscribe(chatID)
	if err != nil {
		b.log.Error("subscribe", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
		return
	}

	if !joined {
		b.reply(ctx, chatID, "You are already subscribed ✅")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf(
		"✅ <b>Subscribed!</b>\n\nYou will now receive transaction alerts for <code>%s</code>.\nSend /help to see what else I can do.",
		b.cfg.TargetAddress,
	))
	b.notify.NotifyAdmins(ctx, fmt.Sprintf("👤 New subscriber: <code>%d</code>", chatID))
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	err := b.storage.Unsubscribe(chatID)
	switch err {
	case nil:
		b.reply(ctx, chatID, "👋 Unsubscribed. Send /subscribe to come back any time.")
		b.notify.NotifyAdmins(ctx, fmt.Sprintf("👤 Subscriber left: <code>%d</code>", chatID))
	case storage.ErrAdminImmune:
		b.reply(ctx, chatID, "🔒 Administrators cannot unsubscribe.")
	case storage.ErrNotSubscribed:
		b.reply(ctx, chatID, "You are not subscribed.")
	default:
		b.log.Error("unsubscribe", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
	}
}

func (b *Bot) handleJoin(ctx context.Context, chatID int64, code string) {
	// A wrong code must not mutate anything and must not leak whether it was
	// close. The configured code being empty disables /join entirely.
	if b.cfg.InviteCode == "" || code != b.cfg.InviteCode {
		b.reply(ctx, chatID, "❌ Invalid invite code.")
		return
	}

	joined, err := b.storage.Subscribe(chatID)
	if err != nil {
		b.log.Error("join", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
		return
	}

	if !joined {
		b.reply(ctx, chatID, "You are already a member ✅")
		return
	}

	b.reply(ctx, chatID, "✅ <b>Welcome aboard!</b>\n\nSend /help to see available commands.")
	b.notify.NotifyAdmins(ctx, fmt.Sprintf("👤 New member via invite code: <code>%d</code>", chatID))
}

func (b *Bot) handleHelp(ctx context.Context, chatID int64) {
	var lines []string
	lines = append(lines, "📋 <b>Available commands</b>", "")

	switch {
	case b.storage.IsAdmin(chatID):
		lines = append(lines,
			"/status — bot status and cursor",
			"/check — transaction counts for 1h/24h/7d",
			"/users — list all subscribers",
			"/broadcast &lt;text&gt; — message all subscribers",
			"/help — this message",
		)
	case b.storage.IsAuthorized(chatID):
		lines = append(lines,
			"/status — bot status and cursor",
			"/check — transaction counts for 1h/24h/7d",
			"/unsubscribe — stop receiving alerts",
			"/help — this message",
		)
	default:
		lines = append(lines,
			"/subscribe — receive transaction alerts",
			"/join &lt;code&gt; — join with an invite code",
			"/help — this message",
		)
	}

	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	cursor, err := b.storage.Cursor()
	if err != nil {
		b.log.Error("read cursor", "error", err)
	}
	txCount, _ := b.storage.TransactionCount()
	subCount, _ := b.storage.SubscriberCount()

	joinedLine := ""
	if sub, err := b.storage.GetSubscriber(chatID); err == nil {
		joinedLine = fmt.Sprintf("\n🗓 Joined: %s", sub.JoinedAt.In(b.loc).Format("2006-01-02 15:04:05"))
	}

	now := time.Now().In(b.loc)
	b.reply(ctx, chatID, fmt.Sprintf(
		"📱 <b>Bot status</b>\n\n"+
			"🎯 Watching: <code>%s</code>\n"+
			"📦 Cursor block: %d\n"+
			"📊 Known transactions: %d\n"+
			"👥 Subscribers: %d\n"+
			"⏰ Uptime: %s%s\n"+
			"🕒 Time: %s",
		shortAddr(b.cfg.TargetAddress), cursor, txCount, subCount,
		formatUptime(time.Since(b.startedAt)), joinedLine,
		now.Format("2006-01-02 15:04:05"),
	))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	now := time.Now()
	windows := []struct {
		label string
		since time.Time
	}{
		{"Past 1 hour", now.Add(-time.Hour)},
		{"Past 24 hours", now.Add(-24 * time.Hour)},
		{"Past 7 days", now.Add(-7 * 24 * time.Hour)},
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("📊 <b>Transaction activity</b> (<code>%s</code>)", shortAddr(b.cfg.TargetAddress)), "")

	for _, w := range windows {
		count, err := b.storage.CountSince(w.since)
		if err != nil {
			b.log.Error("count transactions", "error", err)
			b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
			return
		}
		if count == 0 {
			lines = append(lines, fmt.Sprintf("%s: ✅ no transactions", w.label))
		} else {
			lines = append(lines, fmt.Sprintf("%s: 🔹 %d transactions", w.label, count))
		}
	}

	lines = append(lines, "", fmt.Sprintf("🕒 As of %s", now.In(b.loc).Format("2006-01-02 15:04:05")))
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleUsers(ctx context.Context, chatID int64) {
	subs, err := b.storage.Subscribers()
	if err != nil {
		b.log.Error("list subscribers", "error", err)
		b.reply(ctx, chatID, "❌ Something went wrong, please try again.")
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("👥 <b>Subscribers (%d)</b>", len(subs)), "")
	for _, s := range subs {
		role := ""
		if s.IsAdmin() {
			role = " — admin"
		}
		lines = append(lines, fmt.Sprintf("• <code>%d</code>%s, joined %s",
			s.ChatID, role, s.JoinedAt.In(b.loc).Format("2006-01-02")))
	}

	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleBroadcast(ctx context.Context, chatID int64, text string) {
	if text == "" {
		b.reply(ctx, chatID, "Usage: /broadcast &lt;text&gt;")
		return
	}

	results := b.notify.Broadcast(ctx, "📢 <b>Announcement</b>\n\n"+html.EscapeString(text))

	delivered := 0
	for _, r := range results {
		if r.Err == nil {
			delivered++
		}
	}
	b.reply(ctx, chatID, fmt.Sprintf("📢 Broadcast delivered to %d/%d subscribers.", delivered, len(results)))
}

func (b *Bot) notAuthorizedText() string {
	return "🔒 You are not authorized to use this command.\n\n" +
		"Send /subscribe to receive alerts, or /join &lt;code&gt; if you have an invite code."
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.notify.Send(ctx, chatID, text); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
