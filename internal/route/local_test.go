package route

import (
	"testing"
)

const localYAML = `
routes:
  - path_pattern: /app/**
    target_url: http://localhost:3000
    strip_prefix: true
    strip_path: /app
    priority: 5
  - path_pattern: /docs/**
    methods: "*"
    target_service_id: deck
  - path_pattern: "broken["
    target_url: http://localhost:4000
default_auth_config:
  require_auth: true
  login_redirect: /login
`

func TestParseLocalRoutes(t *testing.T) {
	routes, err := ParseLocalRoutes([]byte(localYAML), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The malformed entry is dropped, the rest installs.
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}

	first := routes[0]
	if first.Source != SourceLocal {
		t.Errorf("expected local source, got %s", first.Source)
	}
	if first.Priority != 1005 {
		t.Errorf("expected boosted priority 1005, got %d", first.Priority)
	}
	if first.ID != "local-1" {
		t.Errorf("expected synthesized id local-1, got %s", first.ID)
	}

	// default_auth_config applies to routes without their own auth block.
	if first.Auth == nil || !first.Auth.RequireAuth || first.Auth.LoginRedirect != "/login" {
		t.Errorf("expected default auth config applied, got %+v", first.Auth)
	}
}

func TestParseLocalRoutesEmpty(t *testing.T) {
	routes, err := ParseLocalRoutes([]byte(""), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("expected no routes, got %d", len(routes))
	}
}

func TestLoadLocalRoutesMissingFile(t *testing.T) {
	routes, err := LoadLocalRoutes("/nonexistent/routes.yaml", 1000)
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if routes != nil {
		t.Errorf("expected nil routes, got %v", routes)
	}
}
