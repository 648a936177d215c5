package route

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestDefinitionCompile(t *testing.T) {
	def := Definition{
		RouteID:     "r1",
		PathPattern: "/api/**",
		Methods:     MethodList{"get", "POST"},
		TargetURL:   "http://backend:8080",
		Priority:    10,
	}

	r, err := def.Compile(SourceRemote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Priority != 10 || r.Source != SourceRemote || !r.Enabled {
		t.Errorf("unexpected route: %+v", r)
	}
	if !r.AllowsMethod("GET") || !r.AllowsMethod("post") {
		t.Error("expected methods to be case-insensitive")
	}
	if r.AllowsMethod("DELETE") {
		t.Error("expected DELETE to be rejected")
	}
}

func TestDefinitionCompileTargetExclusive(t *testing.T) {
	both := Definition{
		RouteID:         "r1",
		PathPattern:     "/a",
		TargetURL:       "http://x",
		TargetServiceID: "svc",
	}
	if _, err := both.Compile(SourceRemote); err == nil {
		t.Error("expected error when both targets are set")
	}

	neither := Definition{RouteID: "r2", PathPattern: "/a"}
	if _, err := neither.Compile(SourceRemote); err == nil {
		t.Error("expected error when no target is set")
	}
}

func TestDefinitionCompileRejectsBadInput(t *testing.T) {
	cases := []Definition{
		{RouteID: "p", PathPattern: "bad", TargetURL: "http://x"},
		{RouteID: "u", PathPattern: "/a", TargetURL: "not-a-url"},
		{RouteID: "pr", PathPattern: "/a", TargetURL: "http://x", Priority: 1 << 40},
		{RouteID: "pp", PathPattern: "/a", TargetURL: "http://x",
			AuthConfig: &AuthDefinition{RequireAuth: true, PublicPaths: []string{"broken"}}},
	}
	for _, def := range cases {
		if _, err := def.Compile(SourceRemote); err == nil {
			t.Errorf("Compile(%q) expected error", def.RouteID)
		}
	}
}

func TestMethodListForms(t *testing.T) {
	var star MethodList
	if err := json.Unmarshal([]byte(`"*"`), &star); err != nil || star != nil {
		t.Errorf("wildcard form: got %v, err %v", star, err)
	}

	var commas MethodList
	if err := json.Unmarshal([]byte(`"GET, POST"`), &commas); err != nil || len(commas) != 2 {
		t.Errorf("comma form: got %v, err %v", commas, err)
	}

	var list MethodList
	if err := json.Unmarshal([]byte(`["GET","PUT"]`), &list); err != nil || len(list) != 2 {
		t.Errorf("list form: got %v, err %v", list, err)
	}
}

func TestUpstreamPath(t *testing.T) {
	strip := func(def Definition) *Route {
		r, err := def.Compile(SourceLocal)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return r
	}

	withPath := strip(Definition{
		RouteID: "a", PathPattern: "/auth/**", TargetURL: "http://b",
		StripPrefix: true, StripPath: "/auth",
	})
	if got := withPath.UpstreamPath("/auth/login"); got != "/login" {
		t.Errorf("UpstreamPath = %q, want /login", got)
	}
	if got := withPath.UpstreamPath("/auth"); got != "/" {
		t.Errorf("UpstreamPath(/auth) = %q, want /", got)
	}

	// StripPath unset: the literal pattern prefix is removed.
	implicit := strip(Definition{
		RouteID: "b", PathPattern: "/files/**", TargetURL: "http://b",
		StripPrefix: true,
	})
	if got := implicit.UpstreamPath("/files/x/y"); got != "/x/y" {
		t.Errorf("UpstreamPath = %q, want /x/y", got)
	}

	noStrip := strip(Definition{RouteID: "c", PathPattern: "/api/**", TargetURL: "http://b"})
	if got := noStrip.UpstreamPath("/api/x"); got != "/api/x" {
		t.Errorf("UpstreamPath = %q, want /api/x", got)
	}
}

func TestRouteDefinitionRoundTrip(t *testing.T) {
	def := Definition{
		RouteID:     "rt",
		PathPattern: "/svc/**",
		Methods:     MethodList{"GET", "POST"},
		TargetURL:   "http://backend:9000",
		StripPrefix: true,
		StripPath:   "/svc",
		Priority:    7,
		AuthConfig: &AuthDefinition{
			RequireAuth:   true,
			AuthServiceID: "aegis",
			PublicPaths:   []string{"/svc/login"},
			LoginRedirect: "/login",
		},
	}

	r, err := def.Compile(SourceLocal)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := r.Definition()

	sort.Strings(got.Methods)
	sort.Strings(def.Methods)

	if got.RouteID != def.RouteID || got.PathPattern != def.PathPattern ||
		got.TargetURL != def.TargetURL || got.StripPrefix != def.StripPrefix ||
		got.StripPath != def.StripPath || got.Priority != def.Priority {
		t.Errorf("round trip mismatch: %+v vs %+v", got, def)
	}
	if len(got.Methods) != len(def.Methods) || got.Methods[0] != def.Methods[0] {
		t.Errorf("methods mismatch: %v vs %v", got.Methods, def.Methods)
	}
	auth := got.AuthConfig
	if auth == nil || !auth.RequireAuth || auth.AuthServiceID != "aegis" ||
		auth.LoginRedirect != "/login" || len(auth.PublicPaths) != 1 ||
		auth.PublicPaths[0] != "/svc/login" {
		t.Errorf("auth config mismatch: %+v", auth)
	}
}

func TestTargetKey(t *testing.T) {
	svc, _ := Definition{RouteID: "s", PathPattern: "/a", TargetServiceID: "svc-a"}.Compile(SourceRemote)
	if svc.TargetKey() != "svc-a" {
		t.Errorf("TargetKey = %q", svc.TargetKey())
	}
	direct, _ := Definition{RouteID: "d", PathPattern: "/b", TargetURL: "http://x:1"}.Compile(SourceLocal)
	if direct.TargetKey() != "http://x:1" {
		t.Errorf("TargetKey = %q", direct.TargetKey())
	}
}
