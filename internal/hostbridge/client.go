// Package hostbridge talks to the host application's plugin over its local
// JSON IPC endpoint. Every provider port, the world lookup port and the
// coordination pusher are implemented on top of one Client.
package hostbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"charasync/internal/domain"
	"charasync/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:  strings.TrimSpace(token),
		http:   &http.Client{Timeout: DefaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call posts args as JSON to {base}/ipc/{capability}/{method} and decodes the
// response into out when out is non-nil.
func (c *Client) call(ctx context.Context, capability, method string, args, out any) error {
	err := c.do(ctx, capability, method, args, out)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrProvidersUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	metrics.HostBridgeCallsTotal.WithLabelValues(capability, outcome).Inc()
	return err
}

func (c *Client) do(ctx context.Context, capability, method string, args, out any) error {
	var body io.Reader
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("hostbridge: encode %s/%s: %w", capability, method, err)
		}
		body = bytes.NewReader(data)
	}

	url := c.base + "/ipc/" + capability + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("hostbridge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s/%s: %v", domain.ErrProvidersUnavailable, capability, method, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s/%s", domain.ErrProvidersUnavailable, capability, method)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, capability, method)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("hostbridge: %s/%s returned %d: %s", capability, method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("hostbridge: decode %s/%s: %w", capability, method, err)
	}
	return nil
}
