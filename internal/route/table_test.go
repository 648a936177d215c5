package route

import (
	"testing"
)

func mustRoute(t *testing.T, def Definition, source Source) *Route {
	t.Helper()
	r, err := def.Compile(source)
	if err != nil {
		t.Fatalf("compile %q: %v", def.RouteID, err)
	}
	return r
}

func TestTableOrdering(t *testing.T) {
	low := mustRoute(t, Definition{RouteID: "low", PathPattern: "/a/**", TargetURL: "http://x", Priority: 1}, SourceRemote)
	high := mustRoute(t, Definition{RouteID: "high", PathPattern: "/a/**", TargetURL: "http://y", Priority: 100}, SourceRemote)
	mid := mustRoute(t, Definition{RouteID: "mid", PathPattern: "/a/**", TargetURL: "http://z", Priority: 50}, SourceRemote)

	table := NewTable([]*Route{low, high, mid})
	routes := table.Routes()

	for i := 1; i < len(routes); i++ {
		if routes[i-1].Priority < routes[i].Priority {
			t.Fatalf("routes not sorted by priority: %v before %v",
				routes[i-1].Priority, routes[i].Priority)
		}
	}
	if routes[0].ID != "high" || routes[2].ID != "low" {
		t.Errorf("unexpected order: %s, %s, %s", routes[0].ID, routes[1].ID, routes[2].ID)
	}
}

func TestTableLocalBeforeRemoteAtEqualPriority(t *testing.T) {
	remote := mustRoute(t, Definition{RouteID: "aaa", PathPattern: "/api/**", TargetServiceID: "svc", Priority: 10}, SourceRemote)
	local := mustRoute(t, Definition{RouteID: "zzz", PathPattern: "/api/**", TargetURL: "http://x", Priority: 10}, SourceLocal)

	table := NewTable([]*Route{remote, local})

	got := table.Match("GET", "/api/foo")
	if got == nil || got.ID != "zzz" {
		t.Fatalf("expected local route to win, got %v", got)
	}
}

func TestTableIDTieBreak(t *testing.T) {
	b := mustRoute(t, Definition{RouteID: "b", PathPattern: "/x/**", TargetURL: "http://b"}, SourceRemote)
	a := mustRoute(t, Definition{RouteID: "a", PathPattern: "/x/**", TargetURL: "http://a"}, SourceRemote)

	table := NewTable([]*Route{b, a})
	if got := table.Match("GET", "/x/1"); got.ID != "a" {
		t.Errorf("expected id tie-break to pick a, got %s", got.ID)
	}
}

func TestTableMatchFirstInOrder(t *testing.T) {
	wide := mustRoute(t, Definition{RouteID: "wide", PathPattern: "/**", TargetURL: "http://wide", Priority: 0}, SourceRemote)
	narrow := mustRoute(t, Definition{RouteID: "narrow", PathPattern: "/api/users", TargetURL: "http://narrow", Priority: 5}, SourceRemote)

	table := NewTable([]*Route{wide, narrow})

	if got := table.Match("GET", "/api/users"); got.ID != "narrow" {
		t.Errorf("expected narrow, got %s", got.ID)
	}
	if got := table.Match("GET", "/other"); got.ID != "wide" {
		t.Errorf("expected wide, got %s", got.ID)
	}

	// Deterministic: same table, same result.
	for i := 0; i < 10; i++ {
		if got := table.Match("GET", "/api/users"); got.ID != "narrow" {
			t.Fatalf("match not deterministic on iteration %d", i)
		}
	}
}

func TestTableMethodFiltering(t *testing.T) {
	getOnly := mustRoute(t, Definition{
		RouteID: "get-only", PathPattern: "/m/**", TargetURL: "http://x",
		Methods: MethodList{"GET"}, Priority: 10,
	}, SourceRemote)
	anyMethod := mustRoute(t, Definition{
		RouteID: "any", PathPattern: "/m/**", TargetURL: "http://y", Priority: 1,
	}, SourceRemote)

	table := NewTable([]*Route{getOnly, anyMethod})

	if got := table.Match("GET", "/m/1"); got.ID != "get-only" {
		t.Errorf("GET: expected get-only, got %s", got.ID)
	}
	if got := table.Match("POST", "/m/1"); got.ID != "any" {
		t.Errorf("POST: expected fallthrough to any, got %s", got.ID)
	}
}

func TestTableSkipsDisabled(t *testing.T) {
	off := false
	disabled := mustRoute(t, Definition{
		RouteID: "off", PathPattern: "/d/**", TargetURL: "http://x",
		Priority: 100, Enabled: &off,
	}, SourceRemote)
	enabled := mustRoute(t, Definition{
		RouteID: "on", PathPattern: "/d/**", TargetURL: "http://y",
	}, SourceRemote)

	table := NewTable([]*Route{disabled, enabled})
	if got := table.Match("GET", "/d/1"); got == nil || got.ID != "on" {
		t.Fatalf("expected disabled route skipped, got %v", got)
	}
}

func TestTableNoMatch(t *testing.T) {
	table := NewTable([]*Route{
		mustRoute(t, Definition{RouteID: "a", PathPattern: "/a", TargetURL: "http://x"}, SourceRemote),
	})
	if got := table.Match("GET", "/nope"); got != nil {
		t.Errorf("expected NoMatch, got %v", got)
	}
}

func TestTableServiceIDs(t *testing.T) {
	table := NewTable([]*Route{
		mustRoute(t, Definition{RouteID: "a", PathPattern: "/a", TargetServiceID: "svc-1"}, SourceRemote),
		mustRoute(t, Definition{RouteID: "b", PathPattern: "/b", TargetServiceID: "svc-2"}, SourceRemote),
		mustRoute(t, Definition{RouteID: "c", PathPattern: "/c", TargetServiceID: "svc-1"}, SourceRemote),
		mustRoute(t, Definition{RouteID: "d", PathPattern: "/d", TargetURL: "http://x"}, SourceRemote),
	})

	ids := table.ServiceIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct services, got %v", ids)
	}
}
