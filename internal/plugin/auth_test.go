package plugin

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/oh-yeah-zzy/Hermes/internal/loadbalancer"
	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

type stubResolver struct {
	instances map[string][]*loadbalancer.Instance
}

func (s *stubResolver) ServiceInstances(serviceID string) []*loadbalancer.Instance {
	return s.instances[serviceID]
}

func authedRoute(t *testing.T, auth *route.AuthDefinition) *route.Route {
	t.Helper()
	def := route.Definition{
		RouteID:     "r",
		PathPattern: "/app/**",
		TargetURL:   "http://backend",
		AuthConfig:  auth,
	}
	r, err := def.Compile(route.SourceRemote)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func authContext(rt *route.Route, mutate func(*http.Request)) *Context {
	r := httptest.NewRequest("GET", "http://gw/app/page", nil)
	if mutate != nil {
		mutate(r)
	}
	return NewContext(r, rt, "req-1", "1.2.3.4")
}

func TestAuthNoConfigPasses(t *testing.T) {
	rt := authedRoute(t, nil)
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, nil)
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected pass without auth config")
	}
}

func TestAuthNotRequiredPasses(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: false})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, nil)
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected pass when auth not required")
	}
}

func TestAuthPublicPathBypasses(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{
		RequireAuth: true,
		PublicPaths: []string{"/app/page"},
	})
	// No resolver instances: the auth service is unreachable, public paths
	// must bypass anyway.
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, nil)
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected public path to bypass auth")
	}
}

func TestAuthMissingTokenAPIRequest(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true, LoginRedirect: "/login"})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("Accept", "application/json")
	})
	p.Before(ctx)

	sc := ctx.ShortCircuited()
	if sc == nil || sc.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", sc)
	}
	if sc.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate")
	}
}

func TestAuthMissingTokenBrowserRedirects(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{
		RequireAuth:   true,
		LoginRedirect: "/login?app=hermes",
	})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("Accept", "text/html")
	})
	p.Before(ctx)

	sc := ctx.ShortCircuited()
	if sc == nil || sc.Status != http.StatusFound {
		t.Fatalf("expected 302, got %+v", sc)
	}

	loc, err := url.Parse(sc.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "/login" || loc.Query().Get("app") != "hermes" {
		t.Errorf("login URL mangled: %s", sc.Header.Get("Location"))
	}
	redirect := loc.Query().Get("redirect")
	if !strings.Contains(redirect, "/app/page") {
		t.Errorf("redirect param missing original URL: %q", redirect)
	}
}

func TestAuthPassThroughToken(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer a-long-enough-token")
	})
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected pass-through token accepted")
	}
}

func TestAuthShortTokenRejected(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("X-Auth-Token", "short")
	})
	p.Before(ctx)
	sc := ctx.ShortCircuited()
	if sc == nil || sc.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for short token, got %+v", sc)
	}
}

func TestAuthCookieToken(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token-value"})
	})
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected cookie token accepted")
	}
}

func TestAuthServiceValidates(t *testing.T) {
	authSvc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/validate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") == "Bearer good-token-1234" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer authSvc.Close()

	resolver := &stubResolver{instances: map[string][]*loadbalancer.Instance{
		"aegis": {loadbalancer.NewInstance("aegis-1", authSvc.URL, true)},
	}}
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true, AuthServiceID: "aegis"})
	p := NewAuthentication(resolver, true, false, time.Second)

	good := authContext(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer good-token-1234")
	})
	p.Before(good)
	if good.ShortCircuited() != nil {
		t.Fatal("expected valid token accepted")
	}

	bad := authContext(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer rejected-token-1")
		r.Header.Set("Accept", "application/json")
	})
	p.Before(bad)
	sc := bad.ShortCircuited()
	if sc == nil || sc.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected token, got %+v", sc)
	}
}

func TestAuthServiceUnreachableFailsClosed(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true, AuthServiceID: "aegis"})
	p := NewAuthentication(&stubResolver{}, true, false, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer some-token-123456")
	})
	p.Before(ctx)

	sc := ctx.ShortCircuited()
	if sc == nil || sc.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 auth_unavailable, got %+v", sc)
	}
	if !strings.Contains(string(sc.Body), "auth_unavailable") {
		t.Errorf("body = %s", sc.Body)
	}
}

func TestAuthServiceUnreachableDegradeAllows(t *testing.T) {
	rt := authedRoute(t, &route.AuthDefinition{RequireAuth: true, AuthServiceID: "aegis"})
	p := NewAuthentication(&stubResolver{}, true, true, time.Second)

	ctx := authContext(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer some-token-123456")
	})
	p.Before(ctx)
	if ctx.ShortCircuited() != nil {
		t.Fatal("expected degrade mode to let the request through")
	}
}
