package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/gdg-garage/number-info-api/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NumberInfoPath is the keyed lookup route.
const NumberInfoPath = "/number-to-info"

// Pinger reports whether the key store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Lookup *LookupHandler
	UI     *UIHandler
	// APIKeys is nil when the admin API is disabled.
	APIKeys *APIKeyHandler
	// Webhook is nil unless the bot runs in webhook mode.
	Webhook *WebhookHandler
	Store   Pinger

	EnableCORS         bool
	RateLimitPerMinute int
}

func RegisterRoutes(r *chi.Mux, d Deps) huma.API {
	r.Use(logging.RequestID)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	if d.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	if d.RateLimitPerMinute > 0 {
		r.Use(forPath(NumberInfoPath, RateLimitByQuery("api_key", d.RateLimitPerMinute)))
	}

	// Initialize Huma API
	config := huma.DefaultConfig("Number Info API", "1.0.0")
	config.CreateHooks = nil
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	api := humachi.New(r, config)

	// Public routes
	r.Get("/health", d.handleHealth)
	r.Get("/", d.UI.HandleIndex)
	r.Get("/favicon.ico", d.UI.HandleFavicon)
	r.Handle("/static/*", d.UI.Static())

	lookupRoute := r.With()
	if d.RateLimitPerMinute > 0 {
		lookupRoute = r.With(RateLimitByIP(d.RateLimitPerMinute))
	}
	lookupRoute.Post("/lookup", d.Lookup.HandleLookup)

	huma.Get(api, NumberInfoPath, d.Lookup.HandleNumberInfo, func(o *huma.Operation) {
		o.Summary = "Look up a phone number"
		o.Description = "Requires an access key issued through the admin bot."
	})

	if d.Webhook != nil {
		r.Post("/telegram_webhook/{token}", d.Webhook.HandleWebhook)
	}

	// Admin routes
	if d.APIKeys != nil {
		secured := func(o *huma.Operation) {
			o.Tags = []string{"admin"}
			o.Security = []map[string][]string{{"bearerAuth": {}}}
		}
		huma.Get(api, "/admin/keys", d.APIKeys.HandleList, secured)
		huma.Post(api, "/admin/keys", d.APIKeys.HandleCreate, secured, func(o *huma.Operation) {
			o.DefaultStatus = http.StatusCreated
		})
		huma.Post(api, "/admin/keys/{name}/revoke", d.APIKeys.HandleRevoke, secured)
		huma.Post(api, "/admin/keys/{name}/rotate", d.APIKeys.HandleRotate, secured)
		huma.Delete(api, "/admin/keys/{name}", d.APIKeys.HandleDelete, secured)
	}

	return api
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.Store != nil {
		if err := d.Store.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).WithError(err).Error("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable")
			return
		}
	}
	w.Write([]byte("OK"))
}
