// Package sheets is the client for the remote spreadsheet calculation
// backend. Every operation is one HTTP round trip against a single endpoint
// selected by the "action" query parameter.
package sheets

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
)

const (
	defaultTimeout = 60 * time.Second
	maxRedirects   = 5
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Timeout  time.Duration
	Settler  Settler
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// HTTPClient overrides the default fasthttp client.
	HTTPClient *fasthttp.Client
}

// Client talks to the calculation backend. It holds no per-run state and
// may be shared between sequential runs.
type Client struct {
	endpoint string
	http     *fasthttp.Client
	settler  Settler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a client. A missing endpoint is reported on first use.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &fasthttp.Client{
			Name:                "sp-estimator",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		}
	}

	settler := opts.Settler
	if settler == nil {
		settler = FixedDelay(100 * time.Millisecond)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.With("component", "sheets")
	}

	return &Client{
		endpoint: opts.Endpoint,
		http:     hc,
		settler:  settler,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Endpoint returns the configured backend URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Settle runs the configured settler once.
func (c *Client) Settle(ctx context.Context) error {
	return c.settler.Settle(ctx)
}

// post sends a write-style action. The response body is only inspected for
// an explicit failure envelope.
func (c *Client) post(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &TransportError{Action: action, Err: err}
	}
	return c.call(ctx, action, fasthttp.MethodPost, nil, body, nil)
}

// get sends a read-style action with query parameters and decodes the JSON
// response into out.
func (c *Client) get(ctx context.Context, action string, params map[string]string, out any) error {
	return c.call(ctx, action, fasthttp.MethodGet, params, nil, out)
}

func (c *Client) call(ctx context.Context, action, method string, params map[string]string, body []byte, out any) error {
	if c.endpoint == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Action: action, Err: err}
	}

	start := time.Now()
	err := c.roundTrip(ctx, action, method, params, body, out)
	elapsed := time.Since(start)
	c.metrics.ObserveRemoteCall(action, elapsed, err)

	if err != nil {
		c.logger.Debug("remote call failed", "action", action, "duration", elapsed, "error", err)
		return err
	}
	c.logger.Debug("remote call", "action", action, "duration", elapsed)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, action, method string, params map[string]string, body []byte, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(method)
	args := req.URI().QueryArgs()
	args.Set("action", action)
	for k, v := range params {
		args.Set(k, v)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(body)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.http.DoRedirects(req, resp, maxRedirects)
	}()

	var err error
	select {
	case <-ctx.Done():
		// the in-flight request still owns req/resp
		go func() {
			<-done
			release()
		}()
		return &TransportError{Action: action, Err: ctx.Err()}
	case err = <-done:
	}
	defer release()

	if err != nil {
		return &TransportError{Action: action, Err: err}
	}

	status := resp.StatusCode()
	respBody := bytes.Clone(resp.Body())

	if status < 200 || status >= 300 {
		return &TransportError{Action: action, Status: status, Body: truncate(respBody)}
	}

	if remote := remoteFailure(respBody); remote != nil {
		return &TransportError{Action: action, Status: status, Body: truncate(respBody), Err: remote}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &TransportError{Action: action, Status: status, Body: truncate(respBody), Err: err}
		}
	}
	return nil
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// remoteFailure inspects a 2xx body for {"success":false} or {"error":"..."}.
// Non-JSON bodies are not failures.
func remoteFailure(body []byte) *RemoteError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.Error != "" || (env.Success != nil && !*env.Success) {
		return &RemoteError{Message: env.Error}
	}
	return nil
}
