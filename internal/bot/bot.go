// Package bot implements the Telegram admin console for access keys.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/gdg-garage/number-info-api/internal/notifier"
	"github.com/gdg-garage/number-info-api/internal/usage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	// chunkSize keeps messages under Telegram's 4096 character limit.
	chunkSize = 3500

	exampleNumber = "9123456789"
)

// Sender is the part of *tgbotapi.BotAPI the console needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// KeyStore is implemented by *keystore.Store.
type KeyStore interface {
	Issue(ctx context.Context, name string, days int) (*models.AccessKey, error)
	List(ctx context.Context) ([]models.AccessKeyListing, error)
	Revoke(ctx context.Context, name string) (int64, error)
	Rotate(ctx context.Context, name string, days int) (*models.AccessKey, int64, error)
	Delete(ctx context.Context, target string) (keystore.DeleteResult, error)
}

type Options struct {
	// BaseURL is the public base URL used in example links.
	BaseURL  string
	OwnerTag string
}

type Bot struct {
	sender   Sender
	keys     KeyStore
	admin    *auth.AdminAuth
	notifier notifier.Notifier
	meter    usage.Meter
	opts     Options
}

func New(sender Sender, keys KeyStore, admin *auth.AdminAuth, n notifier.Notifier, meter usage.Meter, opts Options) *Bot {
	if n == nil {
		n = notifier.Nop{}
	}
	if meter == nil {
		meter = usage.NopMeter{}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Bot{
		sender:   sender,
		keys:     keys,
		admin:    admin,
		notifier: n,
		meter:    meter,
		opts:     opts,
	}
}

type command struct {
	name    string
	args    []string
	rawArgs string
	msg     *tgbotapi.Message
}

// parseCommand splits "/cmd@bot arg1 arg2" into its parts.
func parseCommand(msg *tgbotapi.Message) (command, bool) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, rest, _ := strings.Cut(text, " ")
	name, _, _ := strings.Cut(strings.TrimPrefix(head, "/"), "@")
	if name == "" {
		return command{}, false
	}
	rest = strings.TrimSpace(rest)
	return command{
		name:    strings.ToLower(name),
		args:    strings.Fields(rest),
		rawArgs: rest,
		msg:     msg,
	}, true
}

// HandleUpdate dispatches one Telegram update. Non-command messages are
// ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	cmd, ok := parseCommand(msg)
	if !ok {
		return
	}

	log := logrus.WithFields(logrus.Fields{"command": cmd.name, "chat_id": msg.Chat.ID})
	if msg.From != nil {
		log = log.WithField("user_id", msg.From.ID)
	}
	log.Info("Bot command received")

	if msg.From == nil || !b.admin.IsAdmin(msg.From.ID) {
		b.reply(msg, "Unauthorized.")
		return
	}

	switch cmd.name {
	case "start":
		b.send(msg.Chat.ID, fmt.Sprintf("welcome %s \nbot is Alice, Use /help for commands", b.opts.OwnerTag), false)
	case "help":
		b.send(msg.Chat.ID, helpText(b.admin.Enabled()), false)
	case "genkey":
		b.handleGenKey(ctx, cmd)
	case "list":
		b.handleList(ctx, cmd)
	case "rework":
		b.handleRework(ctx, cmd)
	case "revoke":
		b.handleRevoke(ctx, cmd)
	case "delkey":
		b.handleDelKey(ctx, cmd)
	case "token":
		b.handleToken(cmd)
	default:
		b.reply(msg, "Unknown command. Use /help for commands.")
	}
}

func helpText(adminAPI bool) string {
	lines := []string{
		"Commands:",
		"/genkey <name> <days>",
		"/list",
		"/rework <name> [days]",
		"/revoke <name>",
		"/delkey <key-or-name>",
	}
	if adminAPI {
		lines = append(lines, "/token")
	}
	lines = append(lines, "/help")
	return strings.Join(lines, "\n")
}

func (b *Bot) handleGenKey(ctx context.Context, cmd command) {
	if len(cmd.args) < 2 {
		b.reply(cmd.msg, "Usage: /genkey <name> <days>")
		return
	}
	name := cmd.args[0]
	days, err := strconv.Atoi(cmd.args[1])
	if err != nil {
		b.reply(cmd.msg, "Days must be an integer.")
		return
	}

	key, err := b.keys.Issue(ctx, name, days)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	b.notify(func() error { return b.notifier.NotifyKeyIssued(*key, 0) })

	text := fmt.Sprintf("Key generated for `%s`\n\n"+
		"Key: `%s`\n"+
		"Expires: %s\n\n"+
		"API Format:\n%s\n\n"+
		"Example:\n%s\n",
		name,
		key.Key,
		models.FormatTimestamp(key.ExpiresAt),
		b.lookupURL(key.Key, "<num>"),
		b.lookupURL(key.Key, exampleNumber),
	)
	b.send(cmd.msg.Chat.ID, text, true)
}

func (b *Bot) handleList(ctx context.Context, cmd command) {
	keys, err := b.keys.List(ctx)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	if len(keys) == 0 {
		b.reply(cmd.msg, "No keys found.")
		return
	}

	var counts map[string]int64
	if b.meter.Enabled() {
		tokens := make([]string, len(keys))
		for i, k := range keys {
			tokens[i] = k.Key
		}
		counts, err = b.meter.Counts(ctx, tokens)
		if err != nil {
			logrus.WithError(err).Warn("Failed to read key usage")
			counts = nil
		}
	}

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		line := fmt.Sprintf("Name: %s | Key: `%s` | Expires: %s | Active: %t", k.Name, k.Key, k.ExpiresAt, k.Active)
		if counts != nil {
			line += fmt.Sprintf(" | Used: %d", counts[k.Key])
		}
		lines = append(lines, line)
	}
	for _, chunk := range chunkLines(lines, chunkSize) {
		b.send(cmd.msg.Chat.ID, chunk, true)
	}
}

func (b *Bot) handleRework(ctx context.Context, cmd command) {
	if len(cmd.args) < 1 {
		b.reply(cmd.msg, "Usage: /rework <name> [days]")
		return
	}
	name := cmd.args[0]
	days := keystore.DefaultRotateDays
	if len(cmd.args) > 1 {
		d, err := strconv.Atoi(cmd.args[1])
		if err != nil {
			b.reply(cmd.msg, "Days must be an integer.")
			return
		}
		days = d
	}

	key, deactivated, err := b.keys.Rotate(ctx, name, days)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	b.notify(func() error { return b.notifier.NotifyKeyIssued(*key, deactivated) })

	example := b.lookupURL(key.Key, exampleNumber)
	text := fmt.Sprintf("Reworked `%s`\n\n"+
		"Deactivated: %d key(s)\n"+
		"New Key: `%s`\n"+
		"Expires: %s\n\n"+
		"API (GET): %s\n\n"+
		"curl example:\ncurl \"%s\"\n",
		name,
		deactivated,
		key.Key,
		models.FormatTimestamp(key.ExpiresAt),
		example,
		example,
	)
	b.send(cmd.msg.Chat.ID, text, true)
}

func (b *Bot) handleRevoke(ctx context.Context, cmd command) {
	if len(cmd.args) < 1 {
		b.reply(cmd.msg, "Usage: /revoke <name>")
		return
	}
	name := cmd.args[0]
	n, err := b.keys.Revoke(ctx, name)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	if n > 0 {
		b.notify(func() error { return b.notifier.NotifyKeysRevoked(name, n) })
	}
	b.send(cmd.msg.Chat.ID, fmt.Sprintf("Deactivated %d key(s) with name `%s`.", n, name), true)
}

func (b *Bot) handleDelKey(ctx context.Context, cmd command) {
	target := cmd.rawArgs
	if target == "" {
		b.reply(cmd.msg, "Usage: /delkey <key-or-name>")
		return
	}

	res, err := b.keys.Delete(ctx, target)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	if res.Count == 0 {
		b.send(cmd.msg.Chat.ID, "No matching key or name found.", true)
		return
	}
	b.notify(func() error { return b.notifier.NotifyKeysDeleted(target, res.ByKey, res.Count) })

	if res.ByKey {
		b.send(cmd.msg.Chat.ID, fmt.Sprintf("Deleted key `%s` (1 key removed).", target), true)
	} else {
		b.send(cmd.msg.Chat.ID, fmt.Sprintf("Deleted %d key(s) with name `%s`.", res.Count, target), true)
	}
	b.handleList(ctx, cmd)
}

func (b *Bot) handleToken(cmd command) {
	if !b.admin.Enabled() {
		b.reply(cmd.msg, "Admin API is disabled.")
		return
	}
	token, exp, err := b.admin.GenerateToken(cmd.msg.From.ID)
	if err != nil {
		b.replyError(cmd, err)
		return
	}
	text := fmt.Sprintf("Admin API token (expires %s):\n`%s`\n\nUse it as:\nAuthorization: Bearer <token>\n%s/admin/keys",
		models.FormatTimestamp(exp), token, b.opts.BaseURL)
	b.send(cmd.msg.Chat.ID, text, true)
}

func (b *Bot) lookupURL(key, number string) string {
	return fmt.Sprintf("%s/number-to-info?api_key=%s&number=%s", b.opts.BaseURL, key, number)
}

// replyError turns a store error into a user-facing reply.
func (b *Bot) replyError(cmd command, err error) {
	switch {
	case errors.Is(err, keystore.ErrInvalidName):
		b.reply(cmd.msg, "Name is required.")
	case errors.Is(err, keystore.ErrInvalidDuration):
		b.reply(cmd.msg, fmt.Sprintf("Days must be between 0 and %d.", keystore.MaxDays))
	default:
		logrus.WithError(err).WithField("command", cmd.name).Error("Bot command failed")
		b.reply(cmd.msg, "Something went wrong, please try again.")
	}
}

func (b *Bot) notify(fn func() error) {
	if err := fn(); err != nil {
		logrus.WithError(err).Warn("Failed to send key notification")
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	m := tgbotapi.NewMessage(msg.Chat.ID, text)
	m.ReplyToMessageID = msg.MessageID
	b.deliver(m)
}

func (b *Bot) send(chatID int64, text string, markdown bool) {
	m := tgbotapi.NewMessage(chatID, text)
	if markdown {
		m.ParseMode = tgbotapi.ModeMarkdown
	}
	b.deliver(m)
}

// deliver sends m, retrying as plain text when Telegram rejects the Markdown
// (tokens may contain underscores).
func (b *Bot) deliver(m tgbotapi.MessageConfig) {
	_, err := b.sender.Send(m)
	if err == nil {
		return
	}
	if m.ParseMode != "" {
		m.ParseMode = ""
		if _, err = b.sender.Send(m); err == nil {
			return
		}
	}
	logrus.WithError(err).WithField("chat_id", m.ChatID).Error("Failed to send bot message")
}

// chunkLines joins lines into messages of at most size characters. A single
// line longer than size is split.
func chunkLines(lines []string, size int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range lines {
		for len(line) > size {
			flush()
			cut := runeCut(line, size)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}

// runeCut returns the largest offset <= size that does not split a UTF-8
// sequence in s.
func runeCut(s string, size int) int {
	cut := size
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return size
	}
	return cut
}
