package interceptor

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/ssocreds"
)

func newCtx() *ProxyContext {
	return NewProxyContext("req-1", http.MethodPost, "/v1/chat", "http://upstream/v1/chat", http.Header{}, []byte("body"))
}

func TestHeaderInjectionSetsMandatoryAndOptionalHeaders(t *testing.T) {
	ctx := newCtx()
	hook := HeaderInjection(HeaderOptions{SessionID: "sess-1", Integration: "acme"})
	require.NoError(t, hook.OnRequest(ctx))

	assert.Equal(t, "req-1", ctx.Headers.Get("X-CodeMie-Request-ID"))
	assert.Equal(t, "sess-1", ctx.Headers.Get("X-CodeMie-Session-ID"))
	assert.Equal(t, "acme", ctx.Headers.Get("X-CodeMie-Integration"))
	assert.Empty(t, ctx.Headers.Get("X-CodeMie-CLI-Model"), "unset optional headers must be omitted")
}

func TestSSOAuthInjectsCookieWhenCredentialsPresent(t *testing.T) {
	cache := ssocreds.New(t.TempDir())
	cache.Set("https://upstream.example.com", ssocreds.Credentials{Cookies: "session=abc", ExpiresAt: time.Now().Add(time.Hour)})

	ctx := newCtx()
	hook := SSOAuth(cache, "https://upstream.example.com")
	require.NoError(t, hook.OnRequest(ctx))
	assert.Equal(t, "session=abc", ctx.Headers.Get("Cookie"))
}

func TestSSOAuthSkipsWhenNoCredentials(t *testing.T) {
	cache := ssocreds.New(t.TempDir())
	ctx := newCtx()
	hook := SSOAuth(cache, "https://upstream.example.com")
	require.NoError(t, hook.OnRequest(ctx))
	assert.Empty(t, ctx.Headers.Get("Cookie"))
}

func TestChainStopsOnRequestHooksOnceBlocked(t *testing.T) {
	var secondHookRan bool
	chain := NewChain(
		EndpointBlocker([]string{"/blocked"}),
		Hook{Name: "second", OnRequest: func(ctx *ProxyContext) error {
			secondHookRan = true
			return nil
		}},
	)
	ctx := NewProxyContext("r1", http.MethodGet, "/blocked/path", "http://upstream/blocked/path", http.Header{}, nil)
	require.NoError(t, chain.RunOnRequest(ctx))
	assert.True(t, ctx.Blocked)
	assert.False(t, secondHookRan, "hooks after the one that blocks must not run")
}

func TestChainRunOnResponseInvokesOnErrorWhenHookFails(t *testing.T) {
	var gotErr error
	chain := NewChain(
		Hook{Name: "failing", OnResponse: func(ctx *ProxyContext, resp *ResponseInfo) error {
			return errors.New("boom")
		}},
		Hook{Name: "reporter", OnError: func(ctx *ProxyContext, err error) { gotErr = err }},
	)
	chain.RunOnResponse(newCtx(), &ResponseInfo{StatusCode: 200})
	require.Error(t, gotErr)
	assert.Equal(t, "boom", gotErr.Error())
}

func TestChainRunOnErrorInvokesEveryErrorHook(t *testing.T) {
	var calls int
	chain := NewChain(
		Hook{Name: "a", OnError: func(ctx *ProxyContext, err error) { calls++ }},
		Hook{Name: "b", OnError: func(ctx *ProxyContext, err error) { calls++ }},
	)
	chain.RunOnError(newCtx(), errors.New("fail"))
	assert.Equal(t, 2, calls)
}
