// Package interceptor implements the proxy's ordered hook chain: each hook
// supplies any subset of {OnRequest, OnResponse, OnError}, run linearly per
// request. Grounded on the teacher's webhook hook-chain style in
// internal/gateway/webhook_hooks.go.
package interceptor

import (
	"net/http"
	"time"
)

// CannedResponse is the response an interceptor supplies when it blocks a
// request short of contacting upstream.
type CannedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ProxyContext is the per-request state threaded through the chain, per
// spec.md §4.8.
type ProxyContext struct {
	RequestID      string
	Method         string
	URL            string
	Headers        http.Header
	Body           []byte
	TargetURL      string
	StartTime      time.Time
	SessionID      string
	Integration    string
	CLIModel       string
	CLITimeout     string
	Client         string

	Blocked        bool
	CannedResponse *CannedResponse

	Analytics map[string]any
}

// NewProxyContext constructs a ProxyContext with an initialized Analytics
// map and a fresh StartTime.
func NewProxyContext(requestID, method, url, targetURL string, headers http.Header, body []byte) *ProxyContext {
	return &ProxyContext{
		RequestID: requestID,
		Method:    method,
		URL:       url,
		Headers:   headers,
		Body:      body,
		TargetURL: targetURL,
		StartTime: time.Now(),
		Analytics: make(map[string]any),
	}
}

// ResponseInfo is the upstream (or canned) response the OnResponse chain
// observes, with its body capped at the analytics truncation limit.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Latency    time.Duration
}

// AnalyticsBodyCap is the 100KB cap beyond which a response body is
// replaced with a truncation stub for analytics purposes, per spec.md
// §4.8.
const AnalyticsBodyCap = 100 * 1024

// Hook supplies any subset of the three lifecycle callbacks; a nil field is
// simply skipped by the Chain.
type Hook struct {
	Name       string
	OnRequest  func(ctx *ProxyContext) error
	OnResponse func(ctx *ProxyContext, resp *ResponseInfo) error
	OnError    func(ctx *ProxyContext, err error)
}

// Chain is the ordered list of hooks run around every proxy transaction.
type Chain struct {
	hooks []Hook
}

// NewChain constructs a Chain in registration order. SSO-Auth MUST be
// first; Endpoint-Blocker MUST precede any hook that would otherwise spend
// work on a request, per spec.md §4.9.
func NewChain(hooks ...Hook) *Chain {
	return &Chain{hooks: hooks}
}

// RunOnRequest runs each hook's OnRequest in order, stopping as soon as one
// sets ctx.Blocked.
func (c *Chain) RunOnRequest(ctx *ProxyContext) error {
	for _, h := range c.hooks {
		if h.OnRequest == nil {
			continue
		}
		if err := h.OnRequest(ctx); err != nil {
			return err
		}
		if ctx.Blocked {
			return nil
		}
	}
	return nil
}

// RunOnResponse runs every hook's OnResponse in order, including for a
// canned (blocked) response.
func (c *Chain) RunOnResponse(ctx *ProxyContext, resp *ResponseInfo) {
	for _, h := range c.hooks {
		if h.OnResponse == nil {
			continue
		}
		if err := h.OnResponse(ctx, resp); err != nil {
			if errHook := c.findOnError(); errHook != nil {
				errHook(ctx, err)
			}
		}
	}
}

// RunOnError runs every hook's OnError in order.
func (c *Chain) RunOnError(ctx *ProxyContext, err error) {
	for _, h := range c.hooks {
		if h.OnError != nil {
			h.OnError(ctx, err)
		}
	}
}

func (c *Chain) findOnError() func(ctx *ProxyContext, err error) {
	for _, h := range c.hooks {
		if h.OnError != nil {
			return h.OnError
		}
	}
	return nil
}
