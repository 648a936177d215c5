package loadbalancer

import (
	"math/rand"
)

// Random picks a uniformly random healthy instance.
type Random struct{}

// Pick returns a random healthy instance for the service, or nil.
func (r *Random) Pick(serviceKey string, instances []*Instance) *Instance {
	healthy := healthyOf(instances)
	if len(healthy) == 0 {
		return nil
	}
	return healthy[rand.Intn(len(healthy))]
}
