package plugin

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/loadbalancer"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
)

// InstanceResolver resolves a service ID to its current instance set.
// The route cache implements it.
type InstanceResolver interface {
	ServiceInstances(serviceID string) []*loadbalancer.Instance
}

// minTokenLength rejects obviously bogus tokens without a validation call.
const minTokenLength = 10

// Authentication enforces each route's auth policy before any other
// policy runs. Public paths bypass the check entirely, regardless of
// whether the auth service is reachable.
type Authentication struct {
	enabled      bool
	degradeAllow bool
	resolver     InstanceResolver
	client       *http.Client
}

// NewAuthentication creates the authentication plugin. When degradeAllow
// is set, requests proceed as authenticated while the auth service is
// unreachable; otherwise they fail closed with 503.
func NewAuthentication(resolver InstanceResolver, enabled, degradeAllow bool, timeout time.Duration) *Authentication {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Authentication{
		enabled:      enabled,
		degradeAllow: degradeAllow,
		resolver:     resolver,
		client:       &http.Client{Timeout: timeout},
	}
}

func (p *Authentication) Name() string  { return "authentication" }
func (p *Authentication) Priority() int { return PriorityAuthentication }
func (p *Authentication) Enabled() bool { return p.enabled }

// Before checks the route's auth requirement.
func (p *Authentication) Before(ctx *Context) {
	rt := ctx.Route
	if rt == nil || rt.Auth == nil || !rt.Auth.RequireAuth {
		return
	}

	if rt.Auth.IsPublicPath(ctx.Path()) {
		return
	}

	token := extractToken(ctx.Request)
	if token != "" {
		switch p.validate(ctx, token) {
		case authValid:
			ctx.Scratch[p.Name()] = "authenticated"
			return
		case authUnavailable:
			if p.degradeAllow {
				logging.Warn("Auth service unreachable, letting request through",
					zap.String("path", ctx.Path()),
					zap.String("client_ip", ctx.ClientIP),
				)
				ctx.Scratch[p.Name()] = "degraded"
				return
			}
			ctx.RespondNow(NewJSONResponse(http.StatusServiceUnavailable, map[string]string{
				"error": "auth_unavailable",
			}))
			return
		case authInvalid:
			// fall through to the unauthorized response
		}
	}

	ctx.RespondNow(p.unauthorized(ctx))
}

// After passes the response through unchanged.
func (p *Authentication) After(ctx *Context, resp *http.Response) *http.Response {
	return resp
}

type authResult int

const (
	authValid authResult = iota
	authInvalid
	authUnavailable
)

// validate checks the token against the route's auth service. Without a
// configured auth service the token is accepted as-is (pass-through mode).
func (p *Authentication) validate(ctx *Context, token string) authResult {
	if len(token) < minTokenLength {
		return authInvalid
	}

	serviceID := ctx.Route.Auth.AuthServiceID
	if serviceID == "" {
		return authValid
	}

	var base string
	for _, inst := range p.resolver.ServiceInstances(serviceID) {
		if inst.IsHealthy() {
			base = inst.BaseURL
			break
		}
	}
	if base == "" {
		return authUnavailable
	}

	req, err := http.NewRequestWithContext(ctx.Request.Context(), http.MethodPost,
		strings.TrimSuffix(base, "/")+"/api/v1/auth/validate", nil)
	if err != nil {
		return authUnavailable
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Warn("Auth service call failed",
			zap.String("auth_service_id", serviceID),
			zap.Error(err),
		)
		return authUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return authValid
	case http.StatusUnauthorized:
		return authInvalid
	default:
		return authUnavailable
	}
}

// unauthorized builds the response for an unauthenticated request: JSON
// 401 for API callers, a login redirect for browsers when the route
// configures one.
func (p *Authentication) unauthorized(ctx *Context) *Response {
	r := ctx.Request

	accept := r.Header.Get("Accept")
	isAPIRequest := strings.Contains(accept, "application/json") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest"

	if !isAPIRequest {
		if login := ctx.Route.Auth.LoginRedirect; login != "" {
			h := make(http.Header, 1)
			h.Set("Location", buildLoginURL(login, originalURL(r)))
			return &Response{Status: http.StatusFound, Header: h}
		}
	}

	resp := NewJSONResponse(http.StatusUnauthorized, map[string]string{
		"error":   "auth_required",
		"message": "Authentication required",
	})
	resp.Header.Set("WWW-Authenticate", "Bearer")
	return resp
}

// extractToken pulls the credential from the Authorization header, the
// access_token cookie, or the X-Auth-Token header, in that order.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return auth[len("Bearer "):]
		}
		return auth
	}
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get("X-Auth-Token")
}

// originalURL reconstructs the URL the client requested, for the login
// redirect round trip.
func originalURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// buildLoginURL appends a redirect parameter to the login URL, keeping any
// query parameters the login URL already carries.
func buildLoginURL(login, original string) string {
	u, err := url.Parse(login)
	if err != nil {
		return login
	}
	q := u.Query()
	q.Set("redirect", original)
	u.RawQuery = q.Encode()
	return u.String()
}
