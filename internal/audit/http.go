package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// httpSink posts events to a collector endpoint.
type httpSink struct {
	endpoint string
	client   *fasthttp.Client
	timeout  time.Duration
	retries  int
	delay    time.Duration
	logger   *slog.Logger
}

func newHTTPSink(endpoint string, logger *slog.Logger) *httpSink {
	return &httpSink{
		endpoint: endpoint,
		client:   &fasthttp.Client{Name: "sp-estimator-audit"},
		timeout:  30 * time.Second,
		retries:  3,
		delay:    time.Second,
		logger:   logger,
	}
}

// postWithRetry sends the event with exponential backoff.
func (s *httpSink) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := s.delay

	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.post(evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < s.retries {
			s.logger.Warn("audit post failed, retrying", "attempt", attempt, "retries", s.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", s.retries, lastErr)
}

func (s *httpSink) post(evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		s.logger.Debug("audit event posted", "endpoint", s.endpoint, "status", status)
		return nil
	}
	return fmt.Errorf("http %d: %s", status, string(resp.Body()))
}
