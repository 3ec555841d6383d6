// Package transmitter sends session-start, session-end, and aggregated-
// usage metrics to the remote collector over the wire protocol in
// spec.md §6, retrying transient failures with the status-code-keyed
// policy also in §6. Grounded on the teacher's HTTP-client-with-retry
// shape in internal/usage/provider_fetch.go and the ChannelRetryPolicy
// hook shape in internal/infra/retry_policy.go.
package transmitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

// ErrSessionExpired is returned when the collector rejects a transmission
// with 401/403: the caller must surface this, not retry.
var ErrSessionExpired = fmt.Errorf("transmitter: session expired")

const maxAttempts = 3

// Transmitter posts metrics to {upstream}/v1/metrics. When DryRun is set,
// every send is logged in full detail and treated as successful without
// making a network call.
type Transmitter struct {
	Client   *http.Client
	Upstream string
	DryRun   bool
}

// New constructs a Transmitter. client may be the proxy's own HTTP client
// when SSO authentication is required for the collector endpoint.
func New(client *http.Client, upstream string, dryRun bool) *Transmitter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Transmitter{Client: client, Upstream: upstream, DryRun: dryRun}
}

type wireMetric struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// SendSessionStart transmits a session_total metric with status
// "started" or "failed".
func (t *Transmitter) SendSessionStart(ctx context.Context, session *codemie.MetricsSession, status string, errMsg string) error {
	attrs := map[string]any{
		"agent":      session.AgentName,
		"session_id": session.SessionID,
		"status":     status,
	}
	if errMsg != "" {
		attrs["error"] = errMsg
	}
	return t.send(ctx, wireMetric{Name: codemie.MetricSessionTotal, Attributes: attrs})
}

// SendSessionEnd transmits a session_total metric with the terminal status
// and duration.
func (t *Transmitter) SendSessionEnd(ctx context.Context, session *codemie.MetricsSession, status string, durationMs int64, errMsg string) error {
	attrs := map[string]any{
		"agent":              session.AgentName,
		"session_id":         session.SessionID,
		"status":             status,
		"session_duration_ms": durationMs,
	}
	if errMsg != "" {
		attrs["error"] = errMsg
	}
	return t.send(ctx, wireMetric{Name: codemie.MetricSessionTotal, Attributes: attrs})
}

// SendAggregatedMetric transmits one usage_total metric.
func (t *Transmitter) SendAggregatedMetric(ctx context.Context, metric codemie.AggregatedMetric) error {
	return t.send(ctx, wireMetric{Name: metric.Name, Attributes: metric.Attributes})
}

func (t *Transmitter) send(ctx context.Context, metric wireMetric) error {
	body, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("transmitter: marshal %s: %w", metric.Name, err)
	}

	if t.DryRun {
		slog.Info("transmitter: dry-run, not sending", "metric", metric.Name, "body", string(body))
		return nil
	}

	url := t.Upstream + "/v1/metrics"
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("transmitter: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("transmitter: post %s: %w", metric.Name, err)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrSessionExpired
		case resp.StatusCode == http.StatusNotFound:
			slog.Debug("transmitter: collector returned 404, dropping metric", "metric", metric.Name)
			return nil
		default:
			lastErr = fmt.Errorf("transmitter: collector returned %d for %s", resp.StatusCode, metric.Name)
		}
	}
	return lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}
