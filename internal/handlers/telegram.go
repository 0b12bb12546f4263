package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gdg-garage/number-info-api/internal/logging"
	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateHandler is implemented by *bot.Bot.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

type WebhookHandler struct {
	bot   UpdateHandler
	token string
}

func NewWebhookHandler(bot UpdateHandler, token string) *WebhookHandler {
	return &WebhookHandler{bot: bot, token: token}
}

// HandleWebhook accepts updates posted by Telegram to
// /telegram_webhook/{token}.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Invalid webhook update")
		writeError(w, http.StatusBadRequest, "Invalid update")
		return
	}

	h.bot.HandleUpdate(r.Context(), update)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
