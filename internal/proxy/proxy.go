// Package proxy is the local reverse-proxy HTTP server placed in front of
// the upstream LLM API. It binds an ephemeral port, runs the interceptor
// chain around every request, forwards upstream, and streams the response
// back without full buffering. Grounded on the teacher's
// startHTTPServer/stopHTTPServer pair in internal/gateway/http_server.go.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codemie-cli/agentwrap/internal/proxy/interceptor"
)

// errUpstreamTimeout is returned by forward when the upstream request fails
// due to a client-side timeout, so handle can distinguish it from a generic
// upstream failure and respond 504 instead of 502, per spec.md §14.
var errUpstreamTimeout = errors.New("proxy: upstream request timed out")

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Server is the local reverse-proxy HTTP server.
type Server struct {
	Upstream       string
	Chain          *interceptor.Chain
	UpstreamTimeout time.Duration
	Registry       *prometheus.Registry

	// MetricsSyncer, when set, is flushed (one final harvest pass) as part
	// of Stop, per spec.md §4.10 step 6: "stop the Proxy Server (which
	// also flushes its metrics-sync interceptor)".
	MetricsSyncer interface{ Stop() }

	httpServer *http.Server
	listener   net.Listener
	client     *http.Client
}

// New constructs a Server forwarding to upstream through chain. A fresh
// prometheus.Registry is created if registry is nil.
func New(upstream string, chain *interceptor.Chain, upstreamTimeout time.Duration, registry *prometheus.Registry) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if upstreamTimeout == 0 {
		upstreamTimeout = 300 * time.Second
	}
	return &Server{
		Upstream:        upstream,
		Chain:           chain,
		UpstreamTimeout: upstreamTimeout,
		Registry:        registry,
		client:          &http.Client{Timeout: upstreamTimeout},
	}
}

// HTTPClient exposes the proxy's own HTTP client, used by the Metrics
// Transmitter where SSO authentication is required for the collector
// endpoint.
func (s *Server) HTTPClient() *http.Client { return s.client }

// Start binds 127.0.0.1:0, begins serving, and returns the ephemeral URL.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("proxy: listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handle)

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy: serve error", "error", err)
		}
	}()

	url := fmt.Sprintf("http://%s", listener.Addr().String())
	slog.Info("proxy: started", "url", url, "upstream", s.Upstream)
	return url, nil
}

// Stop gracefully closes the listener, waiting for in-flight requests to
// complete.
func (s *Server) Stop(ctx context.Context) error {
	if s.MetricsSyncer != nil {
		s.MetricsSyncer.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadGateway)
		return
	}
	r.Body.Close()

	headers := r.Header.Clone()
	ctx := interceptor.NewProxyContext(uuid.NewString(), r.Method, r.URL.String(), s.Upstream+r.URL.Path, headers, body)

	if err := s.Chain.RunOnRequest(ctx); err != nil {
		s.Chain.RunOnError(ctx, err)
		http.Error(w, "interceptor error", http.StatusBadGateway)
		return
	}

	var resp *interceptor.ResponseInfo
	if ctx.Blocked && ctx.CannedResponse != nil {
		resp = s.respondCanned(w, ctx)
	} else {
		resp, err = s.forward(r.Context(), w, ctx)
		if err != nil {
			s.Chain.RunOnError(ctx, err)
			if errors.Is(err, errUpstreamTimeout) {
				http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
	}

	s.Chain.RunOnResponse(ctx, resp)
}

func (s *Server) respondCanned(w http.ResponseWriter, ctx *interceptor.ProxyContext) *interceptor.ResponseInfo {
	for k, vs := range ctx.CannedResponse.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(ctx.CannedResponse.StatusCode)
	w.Write(ctx.CannedResponse.Body)
	return &interceptor.ResponseInfo{
		StatusCode: ctx.CannedResponse.StatusCode,
		Headers:    ctx.CannedResponse.Headers,
		Body:       ctx.CannedResponse.Body,
		Latency:    time.Since(ctx.StartTime),
	}
}

// isTimeout reports whether err stems from the request exceeding
// UpstreamTimeout, either via context deadline or the http.Client's
// underlying net.Error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Server) forward(reqCtx context.Context, w http.ResponseWriter, ctx *interceptor.ProxyContext) (*interceptor.ResponseInfo, error) {
	req, err := http.NewRequestWithContext(reqCtx, ctx.Method, ctx.TargetURL, bytes.NewReader(ctx.Body))
	if err != nil {
		return nil, fmt.Errorf("proxy: build upstream request: %w", err)
	}
	req.Header = ctx.Headers.Clone()
	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}

	upstreamResp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", errUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("proxy: upstream request failed: %w", err)
	}
	defer upstreamResp.Body.Close()

	for k, vs := range upstreamResp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(upstreamResp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	var analyticsBuf bytes.Buffer
	truncated := false

	buf := make([]byte, 32*1024)
	for {
		n, readErr := upstreamResp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
			if analyticsBuf.Len() < interceptor.AnalyticsBodyCap {
				remaining := interceptor.AnalyticsBodyCap - analyticsBuf.Len()
				if n <= remaining {
					analyticsBuf.Write(buf[:n])
				} else {
					analyticsBuf.Write(buf[:remaining])
					truncated = true
				}
			} else {
				truncated = true
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("proxy: stream response body: %w", readErr)
		}
	}

	respBody := analyticsBuf.Bytes()
	if truncated {
		respBody = []byte("[truncated for analytics]")
	}

	return &interceptor.ResponseInfo{
		StatusCode: upstreamResp.StatusCode,
		Headers:    upstreamResp.Header,
		Body:       respBody,
		Truncated:  truncated,
		Latency:    time.Since(ctx.StartTime),
	}, nil
}
