package interceptor

import (
	"net/http"

	"github.com/codemie-cli/agentwrap/internal/ssocreds"
)

// SSOAuth injects a Cookie header built from the SSO credential cache. It
// runs first in the chain, per spec.md §4.9. On a 401/403 upstream response
// it clears the cached credentials for baseURL, per spec.md §7 Scenario E,
// so the next request re-authenticates instead of replaying a stale cookie.
func SSOAuth(cache *ssocreds.Cache, baseURL string) Hook {
	return Hook{
		Name: "sso-auth",
		OnRequest: func(ctx *ProxyContext) error {
			creds, ok := cache.Get(baseURL)
			if !ok {
				return nil // no credentials yet: forwarded unauthenticated
			}
			ctx.Headers.Set("Cookie", creds.Cookies)
			return nil
		},
		OnResponse: func(ctx *ProxyContext, resp *ResponseInfo) error {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				cache.Clear(baseURL)
			}
			return nil
		},
	}
}
