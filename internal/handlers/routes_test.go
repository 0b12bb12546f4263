package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/lookup"
	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAttribution = "Neon OSINT"
	testOwner       = "@owner"
	testAdminID     = int64(42)
	testSecret      = "admin-secret"
)

type fakeBot struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (f *fakeBot) HandleUpdate(_ context.Context, u tgbotapi.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

type testEnv struct {
	router   *chi.Mux
	store    *keystore.Store
	admin    *auth.AdminAuth
	bot      *fakeBot
	now      time.Time
	upstream *httptest.Server
	hits     []string
	mu       sync.Mutex
}

type envOptions struct {
	upstream  http.HandlerFunc
	rateLimit int
	noBackend bool
	noAdmin   bool
	staticDir string
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo := keystore.NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { repo.Close(context.Background()) })

	env := &testEnv{
		now: time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC),
		bot: &fakeBot{},
	}
	env.store = keystore.NewStore(repo, keystore.WithClock(func() time.Time { return env.now }))

	template := ""
	if !o.noBackend {
		h := o.upstream
		if h == nil {
			h = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"Channel":"x","name":"Bob"}`))
			}
		}
		env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env.mu.Lock()
			env.hits = append(env.hits, r.URL.Query().Get("num"))
			env.mu.Unlock()
			h(w, r)
		}))
		t.Cleanup(env.upstream.Close)
		template = env.upstream.URL + "/search?num={num}"
	}
	client := lookup.NewClient(lookup.Config{
		URLTemplate:  template,
		Timeout:      2 * time.Second,
		Retries:      0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})

	secret := testSecret
	if o.noAdmin {
		secret = ""
	}
	env.admin = auth.NewAdminAuth(secret, testAdminID)

	deps := Deps{
		Lookup:             NewLookupHandler(client, env.store, nil, testAttribution, testOwner),
		UI:                 NewUIHandler(o.staticDir, testAttribution, testOwner),
		Webhook:            NewWebhookHandler(env.bot, "bot-token"),
		Store:              repo,
		RateLimitPerMinute: o.rateLimit,
	}
	if env.admin.Enabled() {
		deps.APIKeys = NewAPIKeyHandler(env.store, env.admin, nil)
	}

	env.router = chi.NewRouter()
	RegisterRoutes(env.router, deps)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postLookup(number string) *httptest.ResponseRecorder {
	form := url.Values{"number": {number}}
	req := httptest.NewRequest(http.MethodPost, "/lookup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) getNumberInfo(key, number string) *httptest.ResponseRecorder {
	q := url.Values{}
	if key != "" {
		q.Set("api_key", key)
	}
	if number != "" {
		q.Set("number", number)
	}
	return e.do(httptest.NewRequest(http.MethodGet, NumberInfoPath+"?"+q.Encode(), nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != msg {
		t.Errorf("expected error %q, got %v", msg, body["error"])
	}
}

func TestLookup_EndToEnd(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.postLookup("+91 91234-56789")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got := decodeBody(t, rec)
	want := map[string]any{"name": "Bob", AttributionField: testAttribution}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if len(env.hits) != 1 || env.hits[0] != "9123456789" {
		t.Errorf("expected one upstream call for 9123456789, got %v", env.hits)
	}
}

func TestLookup_InvalidNumber(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	expectError(t, env.postLookup("12345"), http.StatusBadRequest, "Invalid number format")
	if len(env.hits) != 0 {
		t.Errorf("upstream must not be called for an invalid number, got %v", env.hits)
	}
}

func TestLookup_NonObjectIsWrapped(t *testing.T) {
	env := newTestEnv(t, envOptions{upstream: func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"Bob"}]`))
	}})

	rec := env.postLookup("9123456789")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body[AttributionField] != testAttribution {
		t.Errorf("missing attribution: %v", body)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Errorf("expected wrapped array, got %v", body["data"])
	}
}

func TestLookup_Failures(t *testing.T) {
	t.Run("NoData", func(t *testing.T) {
		env := newTestEnv(t, envOptions{upstream: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"Channel":"x"}`))
		}})
		expectError(t, env.postLookup("9123456789"), http.StatusNotFound, "No data found")
	})

	t.Run("UpstreamError", func(t *testing.T) {
		env := newTestEnv(t, envOptions{upstream: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}})
		expectError(t, env.postLookup("9123456789"), http.StatusBadGateway, "Upstream API error")
	})

	t.Run("NotConfigured", func(t *testing.T) {
		env := newTestEnv(t, envOptions{noBackend: true})
		expectError(t, env.postLookup("9123456789"), http.StatusInternalServerError, "API backend not configured")
	})
}

func TestNumberInfo(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	key, err := env.store.Issue(context.Background(), "partner", 7)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	t.Run("MissingKey", func(t *testing.T) {
		expectError(t, env.getNumberInfo("", "9123456789"), http.StatusBadRequest, "Missing api_key")
	})

	t.Run("MissingNumber", func(t *testing.T) {
		expectError(t, env.getNumberInfo(key.Key, ""), http.StatusBadRequest, "Missing number parameter")
	})

	t.Run("UnknownKey", func(t *testing.T) {
		expectError(t, env.getNumberInfo("nope", "9123456789"), http.StatusUnauthorized, "Invalid or inactive API key")
	})

	t.Run("InvalidNumber", func(t *testing.T) {
		expectError(t, env.getNumberInfo(key.Key, "555"), http.StatusBadRequest, "Invalid number format")
	})

	t.Run("Success", func(t *testing.T) {
		rec := env.getNumberInfo(key.Key, "09123456789")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["Details By"] != testOwner {
			t.Errorf("expected Details By %q, got %v", testOwner, body["Details By"])
		}
		if body["Footer"] != "Details By: "+testOwner {
			t.Errorf("unexpected footer: %v", body["Footer"])
		}
		data, ok := body["data"].(map[string]any)
		if !ok {
			t.Fatalf("expected data object, got %v", body["data"])
		}
		if _, found := data["Channel"]; found {
			t.Error("Channel must be stripped from the payload")
		}
		if data["name"] != "Bob" {
			t.Errorf("expected name Bob, got %v", data["name"])
		}
	})

	t.Run("Expired", func(t *testing.T) {
		env.now = env.now.AddDate(0, 0, 8)
		expectError(t, env.getNumberInfo(key.Key, "9123456789"), http.StatusUnauthorized,
			"The api key is expired, DM "+testOwner+" for new api key")

		// The key was deactivated by the first call.
		expectError(t, env.getNumberInfo(key.Key, "9123456789"), http.StatusUnauthorized, "Invalid or inactive API key")
	})
}

func TestNumberInfo_RevokedKey(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	key, err := env.store.Issue(context.Background(), "partner", 7)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := env.store.Revoke(context.Background(), "partner"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}

	expectError(t, env.getNumberInfo(key.Key, "9123456789"), http.StatusUnauthorized, "Invalid or inactive API key")
	if len(env.hits) != 0 {
		t.Errorf("upstream must not be called with a revoked key, got %v", env.hits)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimit: 1})

	if rec := env.postLookup("9123456789"); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	expectError(t, env.postLookup("9123456789"), http.StatusTooManyRequests, "Too many requests, please slow down")
}

func TestAdminAPI(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token, _, err := env.admin.GenerateToken(testAdminID)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	request := func(method, path, body string) *httptest.ResponseRecorder {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, r)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return env.do(req)
	}

	t.Run("Unauthorized", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/keys", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("DaysOutOfRange", func(t *testing.T) {
		rec := request(http.MethodPost, "/admin/keys", `{"name":"partner","days":3000000}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
		rec = request(http.MethodPost, "/admin/keys/partner/rotate", `{"days":36501}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	rec := request(http.MethodPost, "/admin/keys", `{"name":"partner","days":30}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	newKey, _ := created["key"].(string)
	if len(newKey) != keystore.TokenLength {
		t.Fatalf("expected a %d character key, got %q", keystore.TokenLength, newKey)
	}

	rec = request(http.MethodGet, "/admin/keys", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var listing []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing) != 1 || listing[0]["name"] != "partner" || listing[0]["expires_at"] != "2025-04-13 09:26 UTC" {
		t.Errorf("unexpected listing: %v", listing)
	}

	rec = request(http.MethodPost, "/admin/keys/partner/rotate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rotated := decodeBody(t, rec)
	if rotated["deactivated"] != float64(1) {
		t.Errorf("expected 1 deactivated key, got %v", rotated["deactivated"])
	}

	rec = request(http.MethodPost, "/admin/keys/partner/revoke", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["count"] != float64(1) {
		t.Errorf("expected the rotated key to be revoked: %s", rec.Body.String())
	}

	rec = request(http.MethodDelete, "/admin/keys/partner", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	deleted := decodeBody(t, rec)
	if deleted["by_key"] != false || deleted["count"] != float64(2) {
		t.Errorf("unexpected delete result: %v", deleted)
	}

	expectError(t, request(http.MethodDelete, "/admin/keys/partner", ""), http.StatusNotFound, "No matching key or name found")
}

func TestAdminAPI_Disabled(t *testing.T) {
	env := newTestEnv(t, envOptions{noAdmin: true})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/keys", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when the admin API is disabled, got %d", rec.Code)
	}
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	update := `{"update_id":1,"message":{"message_id":7,"text":"/help","chat":{"id":5,"type":"private"},"from":{"id":5,"is_bot":false,"first_name":"A"}}}`

	rec := env.do(httptest.NewRequest(http.MethodPost, "/telegram_webhook/wrong", strings.NewReader(update)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a wrong token, got %d", rec.Code)
	}
	if len(env.bot.updates) != 0 {
		t.Fatalf("update must not be dispatched for a wrong token")
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/telegram_webhook/bot-token", strings.NewReader(update)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.bot.updates) != 1 || env.bot.updates[0].Message.Text != "/help" {
		t.Errorf("expected the update to be dispatched, got %+v", env.bot.updates)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/telegram_webhook/bot-token", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed update, got %d", rec.Code)
	}
}

func TestUIRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "icons"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "icons", "favicon.ico"), []byte("ico"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, envOptions{staticDir: dir})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), testAttribution) {
		t.Error("index page should contain the attribution")
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ico" {
		t.Errorf("unexpected favicon response: %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/static/icons/favicon.ico", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected static file to be served, got %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}
