package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	adminID    = int64(1001)
	strangerID = int64(2002)
	chatID     = int64(77)
)

var testNow = time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	failMode bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.sent = append(f.sent, m)
	if f.failMode && m.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

func (f *fakeSender) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeMeter struct {
	counts map[string]int64
}

func (m *fakeMeter) Record(context.Context, string) error { return nil }
func (m *fakeMeter) Counts(context.Context, []string) (map[string]int64, error) {
	return m.counts, nil
}
func (m *fakeMeter) Enabled() bool { return true }
func (m *fakeMeter) Close() error  { return nil }

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) NotifyKeyIssued(key models.AccessKey, revoked int64) error {
	n.events = append(n.events, "issued:"+key.Name)
	return nil
}

func (n *fakeNotifier) NotifyKeysRevoked(name string, count int64) error {
	n.events = append(n.events, "revoked:"+name)
	return nil
}

func (n *fakeNotifier) NotifyKeysDeleted(target string, byKey bool, count int64) error {
	n.events = append(n.events, "deleted:"+target)
	return nil
}

type fixture struct {
	bot      *Bot
	sender   *fakeSender
	store    *keystore.Store
	notifier *fakeNotifier
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := keystore.NewGormRepository(db)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close(context.Background()) })

	f := &fixture{
		sender:   &fakeSender{},
		store:    keystore.NewStore(repo, keystore.WithClock(func() time.Time { return testNow })),
		notifier: &fakeNotifier{},
	}
	f.bot = New(f.sender, f.store, auth.NewAdminAuth(secret, adminID), f.notifier, nil, Options{
		BaseURL:  "https://example.test/",
		OwnerTag: "@owner",
	})
	return f
}

func (f *fixture) run(from int64, text string) {
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 9,
			Text:      text,
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
	})
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand(&tgbotapi.Message{Text: "/GenKey@NeonBot  alice   30 "})
	require.True(t, ok)
	assert.Equal(t, "genkey", cmd.name)
	assert.Equal(t, []string{"alice", "30"}, cmd.args)
	assert.Equal(t, "alice   30", cmd.rawArgs)

	_, ok = parseCommand(&tgbotapi.Message{Text: "hello"})
	assert.False(t, ok)
	_, ok = parseCommand(&tgbotapi.Message{Text: "/"})
	assert.False(t, ok)
}

func TestStartAndHelp(t *testing.T) {
	f := newFixture(t, "")

	f.run(adminID, "/start")
	f.run(adminID, "/help")

	texts := f.sender.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "@owner")
	assert.Contains(t, texts[1], "/genkey <name> <days>")
	assert.NotContains(t, texts[1], "/token", "token command is hidden while the admin API is disabled")
}

func TestAdminGating(t *testing.T) {
	f := newFixture(t, "")

	for _, cmd := range []string{"/start", "/help", "/genkey bob 3", "/list", "/rework bob", "/revoke bob", "/delkey bob", "/token"} {
		f.sender.reset()
		f.run(strangerID, cmd)

		m := f.sender.last()
		assert.Equal(t, "Unauthorized.", m.Text, cmd)
		assert.Equal(t, 9, m.ReplyToMessageID, cmd)
	}

	listing, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestGenKey(t *testing.T) {
	f := newFixture(t, "")

	f.run(adminID, "/genkey alice 30")

	listing, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 1)
	key := listing[0].Key

	m := f.sender.last()
	assert.Equal(t, tgbotapi.ModeMarkdown, m.ParseMode)
	assert.Contains(t, m.Text, "Key generated for `alice`")
	assert.Contains(t, m.Text, "`"+key+"`")
	assert.Contains(t, m.Text, "Expires: 2025-04-13 09:26 UTC")
	assert.Contains(t, m.Text, "https://example.test/number-to-info?api_key="+key+"&number=<num>")
	assert.Contains(t, m.Text, "&number=9123456789")
	assert.Equal(t, []string{"issued:alice"}, f.notifier.events)
}

func TestGenKey_BadInput(t *testing.T) {
	f := newFixture(t, "")

	f.run(adminID, "/genkey alice")
	assert.Equal(t, "Usage: /genkey <name> <days>", f.sender.last().Text)

	f.run(adminID, "/genkey alice soon")
	assert.Equal(t, "Days must be an integer.", f.sender.last().Text)

	f.run(adminID, "/genkey alice -1")
	assert.Equal(t, "Days must be between 0 and 36500.", f.sender.last().Text)

	f.run(adminID, "/genkey alice 3000000")
	assert.Equal(t, "Days must be between 0 and 36500.", f.sender.last().Text)

	listing, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestList(t *testing.T) {
	f := newFixture(t, "")

	f.run(adminID, "/list")
	assert.Equal(t, "No keys found.", f.sender.last().Text)

	a, err := f.store.Issue(context.Background(), "alice", 1)
	require.NoError(t, err)
	_, err = f.store.Issue(context.Background(), "bob", 2)
	require.NoError(t, err)

	f.bot.meter = &fakeMeter{counts: map[string]int64{a.Key: 12}}
	f.sender.reset()
	f.run(adminID, "/list")

	texts := f.sender.texts()
	require.Len(t, texts, 1)
	lines := strings.Split(texts[0], "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines, "Name: alice | Key: `"+a.Key+"` | Expires: 2025-03-15 09:26 UTC | Active: true | Used: 12")
	for _, line := range lines {
		if strings.HasPrefix(line, "Name: bob") {
			assert.True(t, strings.HasSuffix(line, "| Used: 0"), line)
		}
	}
}

func TestReworkAndRevoke(t *testing.T) {
	f := newFixture(t, "")
	old, err := f.store.Issue(context.Background(), "alice", 5)
	require.NoError(t, err)

	f.run(adminID, "/rework alice")
	m := f.sender.last()
	assert.Contains(t, m.Text, "Reworked `alice`")
	assert.Contains(t, m.Text, "Deactivated: 1 key(s)")
	assert.Contains(t, m.Text, "Expires: 2025-04-13 09:26 UTC")
	assert.Contains(t, m.Text, "curl \"https://example.test/number-to-info?api_key=")

	_, err = f.store.Validate(context.Background(), old.Key)
	assert.ErrorIs(t, err, keystore.ErrInactive)

	f.run(adminID, "/rework alice 3")
	assert.Contains(t, f.sender.last().Text, "Expires: 2025-03-17 09:26 UTC")

	f.run(adminID, "/revoke alice")
	assert.Equal(t, "Deactivated 1 key(s) with name `alice`.", f.sender.last().Text)

	f.run(adminID, "/revoke alice")
	assert.Equal(t, "Deactivated 0 key(s) with name `alice`.", f.sender.last().Text)

	assert.Equal(t, []string{"issued:alice", "issued:alice", "revoked:alice"}, f.notifier.events)
}

func TestDelKey(t *testing.T) {
	f := newFixture(t, "")
	a, err := f.store.Issue(context.Background(), "alice", 5)
	require.NoError(t, err)
	_, err = f.store.Issue(context.Background(), "bob", 5)
	require.NoError(t, err)
	_, err = f.store.Issue(context.Background(), "bob", 5)
	require.NoError(t, err)

	f.run(adminID, "/delkey "+a.Key)
	texts := f.sender.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Deleted key `"+a.Key+"` (1 key removed).", texts[0])
	assert.NotContains(t, texts[1], "alice", "refreshed listing follows the deletion")

	f.sender.reset()
	f.run(adminID, "/delkey bob")
	texts = f.sender.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Deleted 2 key(s) with name `bob`.", texts[0])
	assert.Equal(t, "No keys found.", texts[1])

	f.sender.reset()
	f.run(adminID, "/delkey carol")
	assert.Equal(t, []string{"No matching key or name found."}, f.sender.texts())
}

func TestToken(t *testing.T) {
	f := newFixture(t, "")
	f.run(adminID, "/token")
	assert.Equal(t, "Admin API is disabled.", f.sender.last().Text)

	f = newFixture(t, "secret")
	f.run(adminID, "/token")
	m := f.sender.last()
	assert.Contains(t, m.Text, "Admin API token")
	assert.Contains(t, m.Text, "https://example.test/admin/keys")
}

func TestMarkdownFallback(t *testing.T) {
	f := newFixture(t, "")
	f.sender.failMode = true

	f.run(adminID, "/genkey alice 1")

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, tgbotapi.ModeMarkdown, f.sender.sent[0].ParseMode)
	assert.Empty(t, f.sender.sent[1].ParseMode)
	assert.Equal(t, f.sender.sent[0].Text, f.sender.sent[1].Text)
}

func TestChunkLines(t *testing.T) {
	lines := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		lines = append(lines, strings.Repeat("x", 40))
	}

	chunks := chunkLines(lines, chunkSize)
	require.Greater(t, len(chunks), 1)
	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), chunkSize)
		total += strings.Count(c, "\n") + 1
	}
	assert.Equal(t, 300, total)

	long := chunkLines([]string{strings.Repeat("y", 8000)}, chunkSize)
	require.Len(t, long, 3)
	assert.Len(t, long[0], chunkSize)
	assert.Len(t, long[2], 8000-2*chunkSize)

	assert.Empty(t, chunkLines(nil, chunkSize))
}

func TestChunkLines_KeepsRunesWhole(t *testing.T) {
	line := "Name: " + strings.Repeat("é", 4000)

	chunks := chunkLines([]string{line}, chunkSize)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), chunkSize, "chunk %d", i)
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8", i)
	}
	assert.Equal(t, line, strings.Join(chunks, ""))
}

func TestIgnoresNonCommands(t *testing.T) {
	f := newFixture(t, "")
	f.run(adminID, "hello there")
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	assert.Empty(t, f.sender.texts())
}
