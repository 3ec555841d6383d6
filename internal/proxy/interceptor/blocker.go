package interceptor

import (
	"net/http"
	"strings"
)

// EndpointBlocker short-circuits requests whose path (case-insensitive)
// matches any of patterns, responding with a canned 200 {"success":true}
// instead of contacting upstream, per spec.md §4.9. It must be registered
// before any hook that would otherwise spend work on the request.
func EndpointBlocker(patterns []string) Hook {
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return Hook{
		Name: "endpoint-blocker",
		OnRequest: func(ctx *ProxyContext) error {
			path := strings.ToLower(ctx.URL)
			for _, pattern := range lowered {
				if strings.Contains(path, pattern) {
					ctx.Blocked = true
					ctx.CannedResponse = &CannedResponse{
						StatusCode: http.StatusOK,
						Headers:    http.Header{"Content-Type": []string{"application/json"}},
						Body:       []byte(`{"success":true}`),
					}
					return nil
				}
			}
			return nil
		},
	}
}
