package tcr

import (
	"math/rand"
	"sync/atomic"
)

// Picker selects one member connection from a fixed set. It must never block;
// if every member is down the returned host's next command fails instead.
type Picker interface {
	Pick(hosts []*ConnectionHost) *ConnectionHost
}

// RoundRobinPicker cycles through the members in order. This is the default.
type RoundRobinPicker struct {
	next uint64
}

// NewRoundRobinPicker creates a RoundRobinPicker.
func NewRoundRobinPicker() *RoundRobinPicker {
	return &RoundRobinPicker{}
}

// Pick returns the next member in rotation.
func (p *RoundRobinPicker) Pick(hosts []*ConnectionHost) *ConnectionHost {
	if len(hosts) == 0 {
		return nil
	}

	n := atomic.AddUint64(&p.next, 1)
	return hosts[(n-1)%uint64(len(hosts))]
}

// RandomPicker selects a member uniformly at random.
type RandomPicker struct{}

// Pick returns a random member.
func (RandomPicker) Pick(hosts []*ConnectionHost) *ConnectionHost {
	if len(hosts) == 0 {
		return nil
	}

	return hosts[rand.Intn(len(hosts))]
}

// LeastLoadedPicker selects the member with the fewest in-flight commands.
type LeastLoadedPicker struct{}

// Pick returns the least loaded member.
func (LeastLoadedPicker) Pick(hosts []*ConnectionHost) *ConnectionHost {
	if len(hosts) == 0 {
		return nil
	}

	best := hosts[0]
	bestLoad := best.InflightCommands()
	for _, host := range hosts[1:] {
		if load := host.InflightCommands(); load < bestLoad {
			best = host
			bestLoad = load
		}
	}

	return best
}
