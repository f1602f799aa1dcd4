// Package comm is the distributed communication subsystem: it classifies
// cross-device graph edges into communication patterns, synthesizes the
// paired send/receive ops realizing each pattern, and assigns every edge a
// channel handle for the transport layer to bind.
package comm

import "cs426.yale.edu/hetr/graph"

// Pattern is the communication required between a producer op and a
// consumer op placed on different device sets.
type Pattern int

const (
	// None means no transfer is needed (same device, or unclassifiable).
	None Pattern = iota
	// Direct is a point-to-point transfer between two single devices.
	Direct
	// Scatter shards the producer's value along the consumer's parallel
	// axis across the consumer's replica set.
	Scatter
	// Gather reassembles shards from the producer's replica set onto a
	// single consumer device.
	Gather
	// Broadcast replicates the producer's value unchanged to every member
	// of the consumer's replica set.
	Broadcast
	// AllReduce merges the producer's replica values in place across a
	// device set shared by producer and consumer.
	AllReduce
)

func (p Pattern) String() string {
	switch p {
	case None:
		return "none"
	case Direct:
		return "direct"
	case Scatter:
		return "scatter"
	case Gather:
		return "gather"
	case Broadcast:
		return "broadcast"
	case AllReduce:
		return "allreduce"
	}
	return "unknown"
}

// PatternOf decides which communication pattern the from -> to edge needs.
// The decision is a pure function of device-set cardinality on both ends,
// plus whether the producer's axes admit slicing along the consumer's
// declared parallel axis. Rules are evaluated in precedence order.
func PatternOf(from, to *graph.Op) Pattern {
	if from == nil || to == nil {
		return None
	}
	f, t := from.Place, to.Place

	switch {
	case f.IsScalar() && t.IsScalar():
		if f.Device == t.Device && f.DeviceIDs[0] == t.DeviceIDs[0] {
			return None
		}
		return Direct

	case f.Replicated && t.IsScalar():
		return Gather

	case f.IsScalar() && t.Replicated:
		// A scalar constant is cheaper to materialize on every replica
		// than to broadcast.
		if from.Kind == graph.Constant && len(from.Axes) == 0 {
			return None
		}
		if t.Parallel != nil && from.Axes.Has(t.Parallel.Name) {
			return Scatter
		}
		return Broadcast

	case f.Replicated && t.Replicated:
		// Only the producer's reduce_func triggers a reduction: it marks the
		// value to merge before consumers read it. A consumer-side marker
		// affects that consumer's own outgoing edges, not its inputs.
		if sameIDSet(f.DeviceIDs, t.DeviceIDs) && f.ReduceFunc != "" {
			return AllReduce
		}
		return None
	}
	return None
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
