package interceptor

// HeaderOptions configures the Header-Injection interceptor's optional
// headers.
type HeaderOptions struct {
	SessionID   string
	Integration string
	CLIModel    string
	CLITimeout  string
	Client      string
}

// HeaderInjection adds the X-CodeMie-* headers spec.md §6 mandates on
// every forwarded request.
func HeaderInjection(opts HeaderOptions) Hook {
	return Hook{
		Name: "header-injection",
		OnRequest: func(ctx *ProxyContext) error {
			ctx.Headers.Set("X-CodeMie-Request-ID", ctx.RequestID)
			ctx.Headers.Set("X-CodeMie-Session-ID", opts.SessionID)
			if opts.Integration != "" {
				ctx.Headers.Set("X-CodeMie-Integration", opts.Integration)
			}
			if opts.CLIModel != "" {
				ctx.Headers.Set("X-CodeMie-CLI-Model", opts.CLIModel)
			}
			if opts.CLITimeout != "" {
				ctx.Headers.Set("X-CodeMie-CLI-Timeout", opts.CLITimeout)
			}
			if opts.Client != "" {
				ctx.Headers.Set("X-CodeMie-Client", opts.Client)
			}
			return nil
		},
	}
}
