package route

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// Source identifies where a route definition came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// AuthConfig holds the authentication policy attached to a route.
type AuthConfig struct {
	RequireAuth   bool
	AuthServiceID string
	LoginRedirect string
	PublicPaths   []string

	publicPatterns []*Pattern
}

// IsPublicPath reports whether the path matches one of the configured
// public path patterns.
func (a *AuthConfig) IsPublicPath(path string) bool {
	for _, p := range a.publicPatterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// Route is an immutable routing rule. Exactly one of DirectURL and
// ServiceID is set.
type Route struct {
	ID          string
	PathPattern string
	Methods     map[string]bool // nil = all methods allowed
	Priority    int32
	DirectURL   string
	ServiceID   string
	StripPrefix bool
	StripPath   string
	// RetryNonIdempotent opts POST/PUT/PATCH/DELETE into proxy retries.
	RetryNonIdempotent bool
	Enabled            bool
	Auth               *AuthConfig
	Source             Source

	pattern *Pattern
}

// TargetKey returns the key identifying the upstream target, used by the
// circuit breaker and connection accounting.
func (r *Route) TargetKey() string {
	if r.ServiceID != "" {
		return r.ServiceID
	}
	return r.DirectURL
}

// MatchPath reports whether the request path satisfies the route pattern.
func (r *Route) MatchPath(path string) bool {
	return r.pattern.Match(path)
}

// AllowsMethod reports whether the route admits the HTTP method.
func (r *Route) AllowsMethod(method string) bool {
	if r.Methods == nil {
		return true
	}
	return r.Methods[strings.ToUpper(method)]
}

// UpstreamPath returns the path to forward for the given request path,
// applying prefix stripping when configured. When StripPath is unset the
// literal prefix of the pattern is removed instead.
func (r *Route) UpstreamPath(requestPath string) string {
	if !r.StripPrefix {
		return requestPath
	}

	prefix := r.StripPath
	if prefix == "" {
		prefix = r.pattern.LiteralPrefix()
	}
	prefix = strings.TrimSuffix(prefix, "/")

	if prefix != "" && strings.HasPrefix(requestPath, prefix) {
		rest := requestPath[len(prefix):]
		if rest == "" {
			return "/"
		}
		if !strings.HasPrefix(rest, "/") {
			return requestPath
		}
		return rest
	}
	return requestPath
}

// MethodList unmarshals either the wildcard string "*" or a list of
// method names from YAML and JSON.
type MethodList []string

// UnmarshalYAML implements yaml unmarshalling for MethodList.
func (m *MethodList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		return m.fromString(s)
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*m = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for MethodList.
func (m *MethodList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return m.fromString(s)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = list
	return nil
}

func (m *MethodList) fromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		*m = nil
		return nil
	}
	// Comma-separated form, e.g. "GET,POST"
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*m = out
	return nil
}

// AuthDefinition is the wire/file form of AuthConfig.
type AuthDefinition struct {
	RequireAuth   bool     `yaml:"require_auth" json:"require_auth"`
	AuthServiceID string   `yaml:"auth_service_id" json:"auth_service_id,omitempty"`
	PublicPaths   []string `yaml:"public_paths" json:"public_paths,omitempty"`
	LoginRedirect string   `yaml:"login_redirect" json:"login_redirect,omitempty"`
}

// Definition is the wire/file form of a Route, shared by the local routes
// file and the registry's route listing.
type Definition struct {
	RouteID            string          `yaml:"route_id" json:"route_id,omitempty"`
	PathPattern        string          `yaml:"path_pattern" json:"path_pattern"`
	Methods            MethodList      `yaml:"methods" json:"methods,omitempty"`
	TargetURL          string          `yaml:"target_url" json:"target_url,omitempty"`
	TargetServiceID    string          `yaml:"target_service_id" json:"target_service_id,omitempty"`
	StripPrefix        bool            `yaml:"strip_prefix" json:"strip_prefix,omitempty"`
	StripPath          string          `yaml:"strip_path" json:"strip_path,omitempty"`
	Priority           int64           `yaml:"priority" json:"priority,omitempty"`
	RetryNonIdempotent bool            `yaml:"retry_non_idempotent" json:"retry_non_idempotent,omitempty"`
	Enabled            *bool           `yaml:"enabled" json:"enabled,omitempty"`
	AuthConfig         *AuthDefinition `yaml:"auth_config" json:"auth_config,omitempty"`
	Source             string          `yaml:"-" json:"source,omitempty"`
}

// Compile validates the definition and produces an immutable Route.
func (d Definition) Compile(source Source) (*Route, error) {
	pattern, err := CompilePattern(d.PathPattern)
	if err != nil {
		return nil, err
	}

	if (d.TargetURL == "") == (d.TargetServiceID == "") {
		return nil, fmt.Errorf("route %q: exactly one of target_url and target_service_id must be set", d.RouteID)
	}
	if d.TargetURL != "" {
		u, err := url.Parse(d.TargetURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("route %q: target_url %q is not an absolute URL", d.RouteID, d.TargetURL)
		}
	}
	if d.Priority > math.MaxInt32 || d.Priority < math.MinInt32 {
		return nil, fmt.Errorf("route %q: priority %d out of range", d.RouteID, d.Priority)
	}

	r := &Route{
		ID:                 d.RouteID,
		PathPattern:        d.PathPattern,
		Priority:           int32(d.Priority),
		DirectURL:          d.TargetURL,
		ServiceID:          d.TargetServiceID,
		StripPrefix:        d.StripPrefix,
		StripPath:          d.StripPath,
		RetryNonIdempotent: d.RetryNonIdempotent,
		Enabled:            d.Enabled == nil || *d.Enabled,
		Source:             source,
		pattern:            pattern,
	}

	if len(d.Methods) > 0 {
		r.Methods = make(map[string]bool, len(d.Methods))
		for _, m := range d.Methods {
			r.Methods[strings.ToUpper(m)] = true
		}
	}

	if d.AuthConfig != nil {
		auth := &AuthConfig{
			RequireAuth:   d.AuthConfig.RequireAuth,
			AuthServiceID: d.AuthConfig.AuthServiceID,
			LoginRedirect: d.AuthConfig.LoginRedirect,
			PublicPaths:   d.AuthConfig.PublicPaths,
		}
		for _, raw := range d.AuthConfig.PublicPaths {
			p, err := CompilePattern(raw)
			if err != nil {
				return nil, fmt.Errorf("route %q: public path: %w", d.RouteID, err)
			}
			auth.publicPatterns = append(auth.publicPatterns, p)
		}
		r.Auth = auth
	}

	return r, nil
}

// Definition re-serializes the route back into its wire/file form.
func (r *Route) Definition() Definition {
	d := Definition{
		RouteID:            r.ID,
		PathPattern:        r.PathPattern,
		TargetURL:          r.DirectURL,
		TargetServiceID:    r.ServiceID,
		StripPrefix:        r.StripPrefix,
		StripPath:          r.StripPath,
		Priority:           int64(r.Priority),
		RetryNonIdempotent: r.RetryNonIdempotent,
		Source:             string(r.Source),
	}
	if !r.Enabled {
		enabled := false
		d.Enabled = &enabled
	}
	if r.Methods != nil {
		for m := range r.Methods {
			d.Methods = append(d.Methods, m)
		}
	}
	if r.Auth != nil {
		d.AuthConfig = &AuthDefinition{
			RequireAuth:   r.Auth.RequireAuth,
			AuthServiceID: r.Auth.AuthServiceID,
			PublicPaths:   r.Auth.PublicPaths,
			LoginRedirect: r.Auth.LoginRedirect,
		}
	}
	return d
}
