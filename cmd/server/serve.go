package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdg-garage/number-info-api/internal/assets"
	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/bot"
	"github.com/gdg-garage/number-info-api/internal/config"
	"github.com/gdg-garage/number-info-api/internal/database"
	"github.com/gdg-garage/number-info-api/internal/handlers"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/lookup"
	"github.com/gdg-garage/number-info-api/internal/notifier"
	"github.com/gdg-garage/number-info-api/internal/usage"
	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

const banner = `
 _   _                 _                 ___        __
| \ | |_   _ _ __ ___ | |__   ___ _ __  |_ _|_ __  / _| ___
|  \| | | | | '_ ` + "`" + ` _ \| '_ \ / _ \ '__|  | || '_ \| |_ / _ \
| |\  | |_| | | | | | | |_) |  __/ |     | || | | |  _| (_) |
|_| \_|\__,_|_| |_| |_|_.__/ \___|_|    |___|_| |_|_|  \___/

`

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Print(banner)

	if _, err := assets.ExtractFavicons(assets.FaviconArchive, cfg.StaticDir); err != nil {
		logrus.WithError(err).Warn("Failed to extract favicons")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := database.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("key store unavailable: %w", err)
	}
	defer repo.Close(context.Background())
	store := keystore.NewStore(repo)

	client := lookup.NewClient(lookup.Config{
		URLTemplate: cfg.APIURL,
		Timeout:     cfg.LookupTimeout(),
		Retries:     cfg.LookupRetries,
	})
	if !client.Configured() {
		logrus.Warn("API_URL is not set, lookups will fail")
	}

	meter := newMeter(ctx, cfg)
	defer meter.Close()
	notif := newNotifier(cfg)
	admin := auth.NewAdminAuth(cfg.AdminJWTSecret, cfg.AdminID)

	deps := handlers.Deps{
		Lookup:             handlers.NewLookupHandler(client, store, meter, cfg.Attribution, cfg.OwnerTag),
		UI:                 handlers.NewUIHandler(cfg.StaticDir, cfg.Attribution, cfg.OwnerTag),
		Store:              repo,
		EnableCORS:         cfg.EnableCORS,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	if admin.Enabled() {
		deps.APIKeys = handlers.NewAPIKeyHandler(store, admin, notif)
	} else if cfg.AdminJWTSecret != "" {
		logrus.Warn("ADMIN_JWT_SECRET is set but ADMIN_ID is not, admin API disabled")
	}

	var tg *tgbotapi.BotAPI
	var console *bot.Bot
	if cfg.BotEnabled() {
		tg, err = bot.NewAPI(cfg.TelegramToken)
		if err != nil {
			logrus.WithError(err).Error("Telegram bot disabled")
		} else {
			console = bot.New(tg, store, admin, notif, meter, bot.Options{
				BaseURL:  cfg.PublicBaseURL(),
				OwnerTag: cfg.OwnerTag,
			})
		}
	}
	if console != nil && cfg.BotMode == config.BotModeWebhook {
		deps.Webhook = handlers.NewWebhookHandler(console, cfg.TelegramToken)
		if err := bot.RegisterWebhook(tg, cfg.PublicBaseURL()+"/telegram_webhook/"+cfg.TelegramToken); err != nil {
			logrus.WithError(err).Error("Failed to register Telegram webhook")
		}
	}

	r := chi.NewRouter()
	handlers.RegisterRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if console != nil && cfg.BotMode == config.BotModePolling {
		g.Go(func() error {
			return console.Poll(gctx, tg)
		})
	}

	return g.Wait()
}

func newMeter(ctx context.Context, cfg *config.Config) usage.Meter {
	if cfg.RedisURL == "" {
		return usage.NopMeter{}
	}
	m, err := usage.NewRedisMeter(ctx, cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Warn("Usage metering disabled")
		return usage.NopMeter{}
	}
	logrus.Info("Usage metering enabled")
	return m
}

func newNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordBotToken == "" || cfg.DiscordNotificationsChannelID == "" {
		return notifier.Nop{}
	}
	session, err := notifier.NewDiscordSession(cfg.DiscordBotToken)
	if err != nil {
		logrus.WithError(err).Warn("Discord notifier not initialized")
		return notifier.Nop{}
	}
	return notifier.NewDiscordNotifier(session, cfg.DiscordNotificationsChannelID)
}
