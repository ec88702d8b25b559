// Package policy implements the Policy Model: pure, immutable-after
// construction lookups from (message kind, origin) and NodeClass to the
// Enqueue, Dequeue, and Failure rules that govern the OMQ's behavior.
package policy

import (
	"time"

	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/peer"
)

// Precedence is the five-level total order controlling dispatch order
// on a single link.
type Precedence int

const (
	Lowest Precedence = iota
	Low
	Medium
	High
	Highest
)

func (p Precedence) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Highest:
		return "highest"
	default:
		return "unknown"
	}
}

// EnqueueRule is a sealed sum type: EnqueueAll or EnqueueOne.
type EnqueueRule interface {
	isEnqueueRule()
}

// EnqueueAll enqueues to every peer of NodeClass across all alternative
// groups, subject to the per-link maxAhead admission check.
type EnqueueAll struct {
	NodeClass  peer.NodeClass
	MaxAhead   int
	Precedence Precedence
}

func (EnqueueAll) isEnqueueRule() {}

// EnqueueOne enqueues to exactly one member (primary, else fallbacks in
// order) of each alternative group whose primary's class is in
// NodeClasses.
type EnqueueOne struct {
	NodeClasses map[peer.NodeClass]struct{}
	MaxAhead    int
	Precedence  Precedence
}

func (EnqueueOne) isEnqueueRule() {}

// RateLimit is either unlimited or a fixed messages-per-second cap.
type RateLimit struct {
	Unlimited bool
	PerSecond uint32
}

// NoRateLimiting returns the unlimited rate limit.
func NoRateLimiting() RateLimit { return RateLimit{Unlimited: true} }

// MaxMsgPerSec returns a rate limit capped at n messages per second.
func MaxMsgPerSec(n uint32) RateLimit { return RateLimit{PerSecond: n} }

// DequeueRule governs per-link concurrency and rate for one NodeClass.
type DequeueRule struct {
	MaxInFlight uint
	RateLimit   RateLimit
}

// failureKey indexes the Failure policy by (NodeClass, MessageKind).
type failureKey struct {
	Class peer.NodeClass
	Kind  classify.Kind
}

// Model is the immutable, constructed-once Policy Model.
type Model struct {
	enqueue map[classify.Kind][]EnqueueRule // keyed by kind; send/forward share a rule set (origin exclusion is applied by the OMQ itself)
	dequeue map[peer.NodeClass]DequeueRule
	failure map[failureKey]time.Duration
}

// EnqueueRules returns the ordered passes of enqueue rules for a
// message class. Send and forward share the same rule set: excluding
// the forwarding source from recipients is the OMQ's job, not the
// policy's (see classify.MsgClass.ExcludedSource).
func (m *Model) EnqueueRules(mc classify.MsgClass) []EnqueueRule {
	return m.enqueue[mc.Kind]
}

// DequeueRule returns the per-link concurrency/rate policy for class.
func (m *Model) DequeueRule(class peer.NodeClass) DequeueRule {
	if r, ok := m.dequeue[class]; ok {
		return r
	}
	return DequeueRule{MaxInFlight: 1, RateLimit: NoRateLimiting()}
}

// FailureRule returns the cooldown applied after a send to a peer of
// class for kind fails.
func (m *Model) FailureRule(class peer.NodeClass, kind classify.Kind) time.Duration {
	if d, ok := m.failure[failureKey{Class: class, Kind: kind}]; ok {
		return d
	}
	return 30 * time.Second
}
