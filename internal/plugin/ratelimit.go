package plugin

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/logging"
	"github.com/oh-yeah-zzy/Hermes/internal/ratelimit"
)

// RateLimit applies the three-scope token bucket limiter before the
// request reaches the upstream.
type RateLimit struct {
	limiter *ratelimit.Limiter
	enabled bool

	// Denied, when set, is called with the tripped scope for metrics.
	Denied func(scope string)
}

// NewRateLimit creates the rate limit plugin.
func NewRateLimit(limiter *ratelimit.Limiter, enabled bool) *RateLimit {
	return &RateLimit{limiter: limiter, enabled: enabled}
}

func (p *RateLimit) Name() string  { return "rate_limit" }
func (p *RateLimit) Priority() int { return PriorityRateLimit }
func (p *RateLimit) Enabled() bool { return p.enabled }

// Before checks the buckets and short-circuits with 429 on denial.
func (p *RateLimit) Before(ctx *Context) {
	routeKey := ctx.Path()
	if ctx.Route != nil {
		routeKey = ctx.Route.ID
	}

	decision := p.limiter.Allow(routeKey, ctx.ClientIP)
	if decision.Allowed {
		return
	}

	logging.Warn("Rate limit exceeded",
		zap.String("scope", string(decision.Scope)),
		zap.String("client_ip", ctx.ClientIP),
		zap.String("path", ctx.Path()),
	)
	if p.Denied != nil {
		p.Denied(string(decision.Scope))
	}

	resp := NewJSONResponse(http.StatusTooManyRequests, map[string]string{
		"error": "rate_limited",
		"scope": string(decision.Scope),
	})
	retryAfter := int(decision.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	resp.Header.Set("Retry-After", strconv.Itoa(retryAfter))
	resp.Header.Set("X-RateLimit-Type", string(decision.Scope))
	ctx.RespondNow(resp)
}

// After passes the response through unchanged.
func (p *RateLimit) After(ctx *Context, resp *http.Response) *http.Response {
	return resp
}
