package plugin

import (
	"net/http"
	"strings"
)

const headerScratchKey = "header_transform"

// hopHeaders are hop-by-hop headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// HeaderTransform builds the outbound header set: it passes through
// end-to-end headers, drops hop-by-hop ones, and stamps the tracing and
// X-Forwarded-* headers.
type HeaderTransform struct {
	enabled bool
}

// NewHeaderTransform creates the header plugin.
func NewHeaderTransform(enabled bool) *HeaderTransform {
	return &HeaderTransform{enabled: enabled}
}

func (p *HeaderTransform) Name() string  { return "header_transform" }
func (p *HeaderTransform) Priority() int { return PriorityHeaderTransform }
func (p *HeaderTransform) Enabled() bool { return p.enabled }

// Before assembles the forward header map and stores it in the context
// scratch for the proxy to pick up.
func (p *HeaderTransform) Before(ctx *Context) {
	r := ctx.Request
	fwd := make(http.Header, len(r.Header)+6)

	for k, vv := range r.Header {
		fwd[k] = vv
	}
	for _, h := range hopHeaders {
		fwd.Del(h)
	}
	fwd.Del("Host")

	fwd.Set("X-Request-ID", ctx.RequestID)
	fwd.Set("X-Real-IP", ctx.ClientIP)

	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		fwd.Set("X-Forwarded-For", prior+", "+ctx.ClientIP)
	} else {
		fwd.Set("X-Forwarded-For", ctx.ClientIP)
	}

	if r.TLS != nil {
		fwd.Set("X-Forwarded-Proto", "https")
	} else {
		fwd.Set("X-Forwarded-Proto", "http")
	}
	fwd.Set("X-Forwarded-Host", r.Host)

	if ctx.Route != nil && ctx.Route.StripPrefix {
		if prefix := strings.TrimSuffix(ctx.Route.StripPath, "/"); prefix != "" {
			fwd.Set("X-Forwarded-Prefix", prefix)
		}
	}

	ctx.Scratch[headerScratchKey] = fwd
}

// After passes the response through unchanged.
func (p *HeaderTransform) After(ctx *Context, resp *http.Response) *http.Response {
	return resp
}

// ForwardHeader returns the header set built by the header plugin, or nil
// when the plugin is disabled.
func ForwardHeader(ctx *Context) http.Header {
	if h, ok := ctx.Scratch[headerScratchKey].(http.Header); ok {
		return h
	}
	return nil
}

// RemoveHopHeaders strips hop-by-hop headers in place. Shared with the
// proxy for the response direction.
func RemoveHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
