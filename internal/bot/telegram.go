package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// NewAPI connects to Telegram with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logrus.WithField("username", api.Self.UserName).Info("Telegram bot authorized")
	return api, nil
}

// updateTimeout bounds the handling of one polled update.
const updateTimeout = 30 * time.Second

// Poll long-polls Telegram until ctx is done. Each update is handled in its
// own goroutine; Poll waits for them before returning.
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logrus.WithError(err).Warn("Failed to remove webhook before polling")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	logrus.Info("Bot polling started")

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	b.dispatch(ctx, updates)
	logrus.Info("Bot polling stopped")
	return nil
}

// dispatch handles updates until ctx is done or updates is closed, then waits
// for in-flight handlers. Handlers are not cancelled with ctx.
func (b *Bot) dispatch(ctx context.Context, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				defer cancel()
				b.HandleUpdate(hctx, update)
			}()
		}
	}
}

// RegisterWebhook points Telegram at url.
func RegisterWebhook(api *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	logrus.Info("Telegram webhook registered")
	return nil
}
