package route

import (
	"sort"
	"strings"
)

// Table is an immutable, pre-sorted sequence of routes. Lookup is a linear
// scan in table order: route counts are small, a sorted slice is cache
// friendly, and the priority/source/id ordering stays auditable.
type Table struct {
	routes []*Route
}

// NewTable builds a table from the given routes, sorted by priority
// descending, local before remote at equal priority, then route ID
// ascending.
func NewTable(routes []*Route) *Table {
	sorted := make([]*Route, len(routes))
	copy(sorted, routes)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Source != b.Source {
			return a.Source == SourceLocal
		}
		return a.ID < b.ID
	})

	return &Table{routes: sorted}
}

// Match returns the first enabled route in table order whose pattern
// matches the path and whose method set admits the method, or nil.
func (t *Table) Match(method, path string) *Route {
	method = strings.ToUpper(method)
	for _, r := range t.routes {
		if !r.Enabled {
			continue
		}
		if !r.MatchPath(path) {
			continue
		}
		if !r.AllowsMethod(method) {
			continue
		}
		return r
	}
	return nil
}

// Routes returns the routes in table order. Callers must not mutate the
// returned slice.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Len returns the number of routes in the table.
func (t *Table) Len() int {
	return len(t.routes)
}

// CountBySource returns the number of remote and local routes.
func (t *Table) CountBySource() (remote, local int) {
	for _, r := range t.routes {
		if r.Source == SourceLocal {
			local++
		} else {
			remote++
		}
	}
	return remote, local
}

// ServiceIDs returns the distinct service targets referenced by the table,
// in table order.
func (t *Table) ServiceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range t.routes {
		if r.ServiceID != "" && !seen[r.ServiceID] {
			seen[r.ServiceID] = true
			ids = append(ids, r.ServiceID)
		}
	}
	return ids
}
