// Package lookup calls the upstream number-lookup API and cleans up what it
// returns.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Placeholder is replaced with the canonical number in the URL template.
const Placeholder = "{num}"

// ChannelField is an upstream artifact removed from object results.
const ChannelField = "Channel"

const (
	DefaultTimeout = 20 * time.Second
	DefaultRetries = 2
)

var (
	ErrNotConfigured = errors.New("lookup backend not configured")
	ErrNoData        = errors.New("no data found")
	ErrTimeout       = errors.New("upstream timed out")
	ErrUpstream      = errors.New("upstream error")
)

// Fetcher is what the HTTP handlers need from the proxy.
type Fetcher interface {
	Fetch(ctx context.Context, number string) (any, error)
}

type Config struct {
	URLTemplate string
	Timeout     time.Duration
	Retries     int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

type Client struct {
	template string
	timeout  time.Duration
	http     *retryablehttp.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 250 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Retries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = retryOnGatewayErrors
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{entry: logrus.WithField("component", "lookup")}

	return &Client{
		template: cfg.URLTemplate,
		timeout:  cfg.Timeout,
		http:     rc,
	}
}

// Configured reports whether an upstream URL template is set.
func (c *Client) Configured() bool {
	return c.template != ""
}

// URL returns the upstream URL for number.
func (c *Client) URL(number string) string {
	return strings.ReplaceAll(c.template, Placeholder, url.PathEscape(number))
}

// Fetch queries the upstream for number. The result is an opaque JSON value
// with the Channel field removed from objects. Empty results are reported as
// ErrNoData.
func (c *Client) Fetch(ctx context.Context, number string) (any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL(number), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	data, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrUpstream, err)
	}

	data = Clean(data)
	if IsEmpty(data) {
		return nil, ErrNoData
	}
	return data, nil
}

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// Clean removes the Channel field when data is a JSON object.
func Clean(data any) any {
	if obj, ok := data.(map[string]any); ok {
		delete(obj, ChannelField)
	}
	return data
}

// IsEmpty reports whether data is null, an empty object or an empty array.
func IsEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

func retryOnGatewayErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
