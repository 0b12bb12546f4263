// Package logging configures logrus and provides HTTP request logging.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger.
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID assigns a UUID v7 to each request unless the client sent one in
// X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns a log entry carrying the request id, if any.
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if id := GetRequestID(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// RequestLogger logs one http_request entry per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		latency := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := FromContext(r.Context()).WithFields(logrus.Fields{
			"remote_ip":  r.RemoteAddr,
			"method":     r.Method,
			"uri":        redactQuery(r),
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"latency":    latency.String(),
			"latency_ns": latency.Nanoseconds(),
			"user_agent": r.UserAgent(),
		})
		switch {
		case status >= 500:
			entry.Error("http_request")
		case status >= 400:
			entry.Warn("http_request")
		default:
			entry.Info("http_request")
		}
	})
}

// redactQuery hides credentials passed in the query string and the webhook
// path token.
func redactQuery(r *http.Request) string {
	path := r.URL.Path
	if strings.HasPrefix(path, "/telegram_webhook/") {
		path = "/telegram_webhook/[redacted]"
	}
	q := r.URL.Query()
	if q.Has("api_key") {
		q.Set("api_key", "[redacted]")
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
