package route

import (
	"testing"
)

func TestPatternExact(t *testing.T) {
	p := MustCompilePattern("/api/v1/users")

	if !p.Match("/api/v1/users") {
		t.Error("expected exact match")
	}
	if p.Match("/api/v1/users/1") {
		t.Error("expected no match for longer path")
	}
	if p.Match("/api/v1") {
		t.Error("expected no match for shorter path")
	}
}

func TestPatternSingleWildcard(t *testing.T) {
	p := MustCompilePattern("/api/v1/users/*")

	if !p.Match("/api/v1/users/42") {
		t.Error("expected * to match one segment")
	}
	if p.Match("/api/v1/users") {
		t.Error("expected * to require a segment")
	}
	if p.Match("/api/v1/users/42/orders") {
		t.Error("expected * to match exactly one segment")
	}
}

func TestPatternDoubleWildcard(t *testing.T) {
	p := MustCompilePattern("/api/**")

	cases := []struct {
		path string
		want bool
	}{
		{"/api", true}, // ** matches zero segments
		{"/api/users", true},
		{"/api/users/42/orders", true},
		{"/apix", false},
		{"/other", false},
	}
	for _, tc := range cases {
		if got := p.Match(tc.path); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestPatternParamSegment(t *testing.T) {
	p := MustCompilePattern("/api/users/{id}")

	if !p.Match("/api/users/42") {
		t.Error("expected {id} to match a segment")
	}
	if p.Match("/api/users") {
		t.Error("expected {id} to require a segment")
	}
}

func TestPatternRoot(t *testing.T) {
	p := MustCompilePattern("/**")
	if !p.Match("/") || !p.Match("/anything/at/all") {
		t.Error("expected /** to match everything")
	}
}

func TestPatternCompileErrors(t *testing.T) {
	bad := []string{
		"",
		"no-slash",
		"/api/**/users", // ** not final
		"/api/v*",       // mixed literal and wildcard
	}
	for _, raw := range bad {
		if _, err := CompilePattern(raw); err == nil {
			t.Errorf("CompilePattern(%q) expected error", raw)
		}
	}
}

func TestPatternLiteralPrefix(t *testing.T) {
	cases := []struct {
		pattern string
		want    string
	}{
		{"/auth/**", "/auth"},
		{"/api/v1/*", "/api/v1"},
		{"/**", "/"},
		{"/svc/{id}/x", "/svc"},
	}
	for _, tc := range cases {
		p := MustCompilePattern(tc.pattern)
		if got := p.LiteralPrefix(); got != tc.want {
			t.Errorf("LiteralPrefix(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}
