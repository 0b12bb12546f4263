package notifier

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/sirupsen/logrus"
)

// Notifier posts key lifecycle events to an audit channel.
type Notifier interface {
	NotifyKeyIssued(key models.AccessKey, revoked int64) error
	NotifyKeysRevoked(name string, count int64) error
	NotifyKeysDeleted(target string, byKey bool, count int64) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) NotifyKeyIssued(models.AccessKey, int64) error { return nil }
func (Nop) NotifyKeysRevoked(string, int64) error         { return nil }
func (Nop) NotifyKeysDeleted(string, bool, int64) error   { return nil }

// MessageSender is the part of *discordgo.Session used here.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordNotifier struct {
	session   MessageSender
	channelID string
}

// NewDiscordSession creates a REST-only session for a bot token.
func NewDiscordSession(botToken string) (*discordgo.Session, error) {
	return discordgo.New("Bot " + botToken)
}

func NewDiscordNotifier(session MessageSender, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
	}
}

func (n *DiscordNotifier) NotifyKeyIssued(key models.AccessKey, revoked int64) error {
	title := "🔑 **Access Key Issued**"
	extra := ""
	if revoked > 0 {
		title = "🔁 **Access Key Rotated**"
		extra = fmt.Sprintf("\n**Deactivated:** %d", revoked)
	}
	message := fmt.Sprintf("%s\n**Name:** %s\n**Key:** `%s`\n**Expires:** %s%s",
		title,
		key.Name,
		maskKey(key.Key),
		models.FormatTimestamp(key.ExpiresAt),
		extra,
	)
	return n.send(message)
}

func (n *DiscordNotifier) NotifyKeysRevoked(name string, count int64) error {
	return n.send(fmt.Sprintf("⛔ **Access Keys Revoked**\n**Name:** %s\n**Deactivated:** %d", name, count))
}

func (n *DiscordNotifier) NotifyKeysDeleted(target string, byKey bool, count int64) error {
	if byKey {
		target = "`" + maskKey(target) + "`"
	}
	return n.send(fmt.Sprintf("🗑️ **Access Keys Deleted**\n**Target:** %s\n**Removed:** %d", target, count))
}

func (n *DiscordNotifier) send(message string) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if n.channelID == "" {
		return fmt.Errorf("discord channel ID is empty")
	}

	_, err := n.session.ChannelMessageSend(n.channelID, message)
	if err != nil {
		logrus.WithError(err).Error("Failed to send discord message")
		return err
	}

	return nil
}

// maskKey keeps only the last four characters of a token.
func maskKey(key string) string {
	if len(key) > 4 {
		return "..." + key[len(key)-4:]
	}
	return key
}
