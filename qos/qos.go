// Package qos defines the QoS policy data this core reads in order to
// decide writer/reader matching and reliability behavior. Policy
// semantics beyond matching (e.g. enforcing presentation scope) are
// the public API facade's concern, not this core's.
package qos

import "time"

// ReliabilityKind selects best-effort or reliable delivery.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// Reliability policy: kind plus, for Reliable, the longest a writer's
// write() may block waiting for history space.
type Reliability struct {
	Kind            ReliabilityKind
	MaxBlockingTime time.Duration
}

// DurabilityKind orders how much history a late-joining reader may see.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// durabilityRank gives DurabilityKind a total order for QoS matching:
// Persistent > Transient > TransientLocal > Volatile.
func durabilityRank(k DurabilityKind) int {
	switch k {
	case Persistent:
		return 3
	case Transient:
		return 2
	case TransientLocal:
		return 1
	default:
		return 0
	}
}

// HistoryKind selects how many samples per instance the local cache keeps.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// History policy: kind plus, for KeepLast, the depth to retain.
type History struct {
	Kind  HistoryKind
	Depth int
}

// LivelinessKind selects who is responsible for asserting liveliness.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// Liveliness policy: kind plus the lease duration after which a
// silent writer is considered not-alive.
type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration time.Duration
}

// OwnershipKind selects exclusive vs shared instance ownership.
type OwnershipKind int

const (
	SharedOwnership OwnershipKind = iota
	ExclusiveOwnership
)

// DestinationOrderKind selects how a reader orders samples from
// different writers of the same instance.
type DestinationOrderKind int

const (
	ByReceptionTimestamp DestinationOrderKind = iota
	BySourceTimestamp
)

// ResourceLimits bounds cache growth independent of History.
type ResourceLimits struct {
	MaxSamples          int
	MaxInstances        int
	MaxSamplesPerInstance int
}

// Unlimited marks a ResourceLimits field as having no bound.
const Unlimited = -1

// Policies bundles the QoS fields relevant to this core: matching and
// reliability/history/liveliness behavior. Fields not needed by the
// wire protocol (partition, presentation scope beyond matching, etc.)
// are represented loosely or omitted; they are treated as data owned
// by the public API facade, not by this core.
type Policies struct {
	Reliability       Reliability
	Durability        DurabilityKind
	History           History
	Deadline          time.Duration // 0 means no deadline
	Liveliness        Liveliness
	Ownership         OwnershipKind
	DestinationOrder  DestinationOrderKind
	Lifespan          time.Duration // 0 means infinite
	ResourceLimits    ResourceLimits
}

// Default returns the RTPS/DDS default QoS: best-effort, volatile,
// KeepLast(1), automatic liveliness, no deadline.
func Default() Policies {
	return Policies{
		Reliability: Reliability{Kind: BestEffort},
		Durability:  Volatile,
		History:     History{Kind: KeepLast, Depth: 1},
		Liveliness:  Liveliness{Kind: Automatic, LeaseDuration: 100 * time.Second},
	}
}

// OfferedMeetsRequested reports whether a writer offering `offered`
// can satisfy a reader requesting `requested`, per the DDS
// request/offered compatibility rules: reliability Reliable >
// BestEffort, durability by rank, deadline offered <= requested.
func OfferedMeetsRequested(offered, requested Policies) bool {
	if requested.Reliability.Kind == Reliable && offered.Reliability.Kind != Reliable {
		return false
	}
	if durabilityRank(offered.Durability) < durabilityRank(requested.Durability) {
		return false
	}
	if requested.Deadline > 0 {
		if offered.Deadline == 0 || offered.Deadline > requested.Deadline {
			return false
		}
	}
	if requested.Ownership != offered.Ownership {
		return false
	}
	if requested.DestinationOrder == BySourceTimestamp && offered.DestinationOrder != BySourceTimestamp {
		return false
	}
	return true
}
