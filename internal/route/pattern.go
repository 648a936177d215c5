package route

import (
	"fmt"
	"strings"
)

// Pattern is a compiled path pattern.
//
// Grammar: literal segments separated by "/". "*" matches exactly one
// segment, "{name}" matches exactly one segment, and "**" matches zero or
// more trailing segments and may only appear as the final token.
type Pattern struct {
	raw       string
	segments  []string
	anySuffix bool // trailing ** present
}

// CompilePattern validates and compiles a path pattern.
func CompilePattern(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty path pattern")
	}
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("path pattern %q must start with /", raw)
	}

	segs := splitSegments(raw)
	p := &Pattern{raw: raw}

	for i, seg := range segs {
		if seg == "**" {
			if i != len(segs)-1 {
				return nil, fmt.Errorf("path pattern %q: ** must be the final segment", raw)
			}
			p.anySuffix = true
			continue
		}
		if strings.Contains(seg, "*") && seg != "*" {
			return nil, fmt.Errorf("path pattern %q: segment %q mixes literals and wildcards", raw, seg)
		}
		p.segments = append(p.segments, seg)
	}

	return p, nil
}

// MustCompilePattern is CompilePattern that panics on error. For tests and
// static patterns.
func MustCompilePattern(raw string) *Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the request path satisfies the pattern.
// A trailing "**" matches zero segments, so "/api/**" matches "/api".
func (p *Pattern) Match(path string) bool {
	segs := splitSegments(path)

	if p.anySuffix {
		if len(segs) < len(p.segments) {
			return false
		}
	} else if len(segs) != len(p.segments) {
		return false
	}

	for i, want := range p.segments {
		if !segmentMatch(want, segs[i]) {
			return false
		}
	}
	return true
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// LiteralPrefix returns the leading literal portion of the pattern, up to
// the first wildcard segment. Used as the default strip prefix.
func (p *Pattern) LiteralPrefix() string {
	var b strings.Builder
	for _, seg := range p.segments {
		if seg == "*" || isParamSegment(seg) {
			break
		}
		b.WriteByte('/')
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func segmentMatch(pattern, seg string) bool {
	if pattern == "*" || isParamSegment(pattern) {
		return true
	}
	return pattern == seg
}

func isParamSegment(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

// splitSegments splits a URL path into non-empty segments.
func splitSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
