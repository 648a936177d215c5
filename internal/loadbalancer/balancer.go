package loadbalancer

import (
	"net/url"
	"sync/atomic"
)

// Instance represents one upstream endpoint of a service.
type Instance struct {
	ID      string
	BaseURL string
	// ParsedURL is the pre-parsed BaseURL to avoid per-request parsing.
	ParsedURL *url.URL

	healthy atomic.Bool
	active  atomic.Int64
}

// NewInstance creates an instance with the parsed base URL.
func NewInstance(id, baseURL string, healthy bool) *Instance {
	inst := &Instance{ID: id, BaseURL: baseURL}
	inst.ParsedURL, _ = url.Parse(baseURL)
	inst.healthy.Store(healthy)
	return inst
}

// SetHealthy updates the health flag. Called by the registry refresh.
func (i *Instance) SetHealthy(healthy bool) { i.healthy.Store(healthy) }

// IsHealthy reports the current health flag.
func (i *Instance) IsHealthy() bool { return i.healthy.Load() }

// Acquire increments the active connection count.
func (i *Instance) Acquire() { i.active.Add(1) }

// Release decrements the active connection count.
func (i *Instance) Release() {
	if i.active.Add(-1) < 0 {
		i.active.Add(1)
	}
}

// ActiveConns reads the active connection count.
func (i *Instance) ActiveConns() int64 { return i.active.Load() }

// Balancer picks one instance per request from a service's instance set.
// Pick operates on a snapshot of the instances taken at call time and
// returns nil when no healthy instance exists.
type Balancer interface {
	Pick(serviceKey string, instances []*Instance) *Instance
}

// New creates a balancer for the given strategy name. Unknown strategies
// fall back to round robin.
func New(strategy string) Balancer {
	switch strategy {
	case "random":
		return &Random{}
	case "least_conn":
		return &LeastConn{}
	default:
		return NewRoundRobin()
	}
}

// healthyOf filters the snapshot down to healthy instances. Returns the
// input slice unchanged when every instance is healthy (zero allocations).
func healthyOf(instances []*Instance) []*Instance {
	for _, inst := range instances {
		if !inst.IsHealthy() {
			healthy := make([]*Instance, 0, len(instances))
			for _, in := range instances {
				if in.IsHealthy() {
					healthy = append(healthy, in)
				}
			}
			return healthy
		}
	}
	return instances
}
