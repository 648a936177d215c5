package loadbalancer

import (
	"sync"
	"sync/atomic"
)

// RoundRobin cycles through healthy instances using an atomic counter per
// service key.
type RoundRobin struct {
	counters sync.Map // service key → *atomic.Uint64
}

// NewRoundRobin creates a new round-robin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next healthy instance for the service, or nil.
func (rr *RoundRobin) Pick(serviceKey string, instances []*Instance) *Instance {
	healthy := healthyOf(instances)
	if len(healthy) == 0 {
		return nil
	}

	v, _ := rr.counters.LoadOrStore(serviceKey, new(atomic.Uint64))
	counter := v.(*atomic.Uint64)

	idx := counter.Add(1) - 1
	return healthy[idx%uint64(len(healthy))]
}
