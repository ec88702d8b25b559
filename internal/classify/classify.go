// Package classify maps a submitted message to the (kind, origin) pair
// the Policy Model uses to look up its Enqueue/Dequeue/Failure rules.
package classify

import "github.com/overlaymesh/omq/internal/peer"

// Kind is the closed set of message kinds the OMQ schedules.
type Kind string

const (
	AnnounceBlockHeader Kind = "announceBlockHeader"
	RequestBlockHeaders Kind = "requestBlockHeaders"
	RequestBlocks       Kind = "requestBlocks"
	Transaction         Kind = "transaction"
	MPC                 Kind = "mpc"
)

// HasOrigin reports whether this kind distinguishes Sender from Forward.
func (k Kind) HasOrigin() bool {
	return k == Transaction || k == MPC
}

// OriginTag distinguishes a self-authored message from one relayed from
// a prior hop.
type OriginTag int

const (
	OriginSender OriginTag = iota
	OriginForward
)

// Origin is the full origin value: a tag plus, for OriginForward, the
// peer that forwarded the message.
type Origin struct {
	Tag    OriginTag
	Source peer.ID // valid only when Tag == OriginForward
}

// Sender builds the origin for a message this node authored.
func Sender() Origin { return Origin{Tag: OriginSender} }

// Forward builds the origin for a message relayed from src.
func Forward(src peer.ID) Origin { return Origin{Tag: OriginForward, Source: src} }

// MsgClass is the pair the Policy Model is indexed by.
type MsgClass struct {
	Kind   Kind
	Origin Origin
}

// Submission is what a caller hands the classifier: the message's kind
// and, for kinds that distinguish it, its origin. Origin is ignored for
// kinds that don't carry one.
type Submission struct {
	Kind   Kind
	Origin Origin
}

// Classify derives the MsgClass for a submission. For kinds without an
// origin distinction the origin is normalized to Sender.
func Classify(s Submission) MsgClass {
	if !s.Kind.HasOrigin() {
		return MsgClass{Kind: s.Kind, Origin: Sender()}
	}
	return MsgClass{Kind: s.Kind, Origin: s.Origin}
}

// ExcludedSource returns the peer a forwarded message must never be
// echoed back to, if any.
func (c MsgClass) ExcludedSource() (peer.ID, bool) {
	if c.Origin.Tag == OriginForward {
		return c.Origin.Source, true
	}
	return "", false
}
