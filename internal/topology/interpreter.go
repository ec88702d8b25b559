package topology

import (
	"fmt"

	"github.com/overlaymesh/omq/internal/peer"
)

// View is a sealed sum type over the five topology shapes.
type View interface {
	isView()
}

// StaticView: the full peer set is known upfront from the node table.
type StaticView struct {
	SelfClass peer.NodeClass
}

func (StaticView) isView() {}

// BehindNATView: peers are discovered by periodic DNS resolution.
type BehindNATView struct {
	Valency    int
	Fallbacks  int
	DNSDomains []string
}

func (BehindNATView) isView() {}

// P2PView: peers discovered via DHT; self classified Relay in membership.
type P2PView struct {
	Valency   int
	Fallbacks int
}

func (P2PView) isView() {}

// TraditionalView: peers via DHT; all nodes (including self) Core.
type TraditionalView struct {
	Valency   int
	Fallbacks int
}

func (TraditionalView) isView() {}

// LightWalletView: static list of Relay peers; self is Edge, subscribes-only.
type LightWalletView struct{}

func (LightWalletView) isView() {}

// DiscoveryKind distinguishes the two kinds of discovery worker the
// interpreter can ask a launcher to spawn.
type DiscoveryKind int

const (
	DiscoveryDNS DiscoveryKind = iota
	DiscoveryDHT
)

// DiscoveryDescriptor is an opaque-to-the-OMQ description of a
// discovery worker to spawn. It is not part of the OMQ's own contract;
// subsystem launchers (internal/discovery in this module, or an
// external one) interpret it.
type DiscoveryDescriptor struct {
	Kind            DiscoveryKind
	Domains         []string // meaningful for DiscoveryDNS
	Valency         int
	Fallbacks       int
	SubscriberClass peer.NodeClass // class assigned to newly discovered peers; "" means none
}

// Result is everything the Topology Interpreter projects from a
// document: the view, the current node's self-classification, the
// initial peer tiers, and the discovery workers to spawn.
type Result struct {
	View         View
	SelfClass    peer.NodeClass
	InitialPeers peer.Tiers
	Discovery    []DiscoveryDescriptor
}

// Interpret parses and projects a topology document. selfName names
// the current node's entry in a Static document's node table; it is
// ignored for the other topology shapes.
func Interpret(raw []byte, selfName string) (*Result, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	switch {
	case doc.Nodes != nil:
		return interpretStatic(doc, selfName)
	case doc.Wallet != nil:
		return interpretWallet(doc.Wallet)
	case doc.P2P != nil:
		return interpretP2P(doc.P2P)
	case doc.BehindNAT != nil:
		return interpretBehindNAT(doc.BehindNAT)
	default:
		// parseDocument already enforces exactly one key is present.
		return nil, &BadTopology{Reason: "unreachable: no topology key present"}
	}
}

func nodeAddr(n nodeSpec) string {
	if n.Addr != "" {
		return n.Addr
	}
	return n.Host
}

func peerID(n nodeSpec) peer.ID {
	return peer.ID(fmt.Sprintf("%s:%d", nodeAddr(n), n.Port))
}

func interpretStatic(doc *document, selfName string) (*Result, error) {
	self, ok := doc.Nodes[selfName]
	if !ok {
		return nil, &BadTopology{Reason: fmt.Sprintf("self node %q not present in node table", selfName)}
	}
	selfClass, err := parseNodeType(self.Type)
	if err != nil {
		return nil, err
	}

	tiers := make(peer.Tiers)
	for _, route := range self.StaticRoutes {
		if len(route) == 0 {
			continue
		}
		group := make(peer.AltGroup, 0, len(route))
		var groupClass peer.NodeClass
		for i, name := range route {
			n, ok := doc.Nodes[name]
			if !ok {
				return nil, &BadTopology{Reason: fmt.Sprintf("static route names unknown node %q", name)}
			}
			class, err := parseNodeType(n.Type)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				groupClass = class
			}
			group = append(group, peer.Peer{ID: peerID(n), Class: class})
		}
		tiers[groupClass] = append(tiers[groupClass], group)
	}

	runDHT := self.Kademlia != nil && *self.Kademlia
	if self.Kademlia == nil {
		runDHT = selfClass == peer.Relay
	}

	var discovery []DiscoveryDescriptor
	if runDHT {
		d := DiscoveryDescriptor{Kind: DiscoveryDHT}
		if selfClass == peer.Relay {
			d.SubscriberClass = peer.Edge
		}
		discovery = append(discovery, d)
	}

	return &Result{
		View:         StaticView{SelfClass: selfClass},
		SelfClass:    selfClass,
		InitialPeers: tiers,
		Discovery:    discovery,
	}, nil
}

func interpretWallet(w *walletSpec) (*Result, error) {
	// valency/fallbacks describe the expected shape of relays but the
	// document already enumerates concrete groups; nothing further to
	// derive from them here.
	_ = u16or(w.Valency, 1)
	_ = u16or(w.Fallbacks, 1)

	tiers := make(peer.Tiers)
	for _, group := range w.Relays {
		ag := make(peer.AltGroup, 0, len(group))
		for _, p := range group {
			addr := p.Addr
			if addr == "" {
				addr = p.Host
			}
			ag = append(ag, peer.Peer{ID: peer.ID(fmt.Sprintf("%s:%d", addr, p.Port)), Class: peer.Relay})
		}
		if len(ag) > 0 {
			tiers[peer.Relay] = append(tiers[peer.Relay], ag)
		}
	}

	return &Result{
		View:         LightWalletView{},
		SelfClass:    peer.Edge,
		InitialPeers: tiers,
		Discovery:    nil,
	}, nil
}

func interpretBehindNAT(b *behindNATSpec) (*Result, error) {
	valency := int(u16or(b.Valency, 1))
	fallbacks := int(u16or(b.Fallbacks, 1))

	return &Result{
		View:      BehindNATView{Valency: valency, Fallbacks: fallbacks, DNSDomains: b.DNSDomains},
		SelfClass: peer.Edge,
		Discovery: []DiscoveryDescriptor{{
			Kind:      DiscoveryDNS,
			Domains:   b.DNSDomains,
			Valency:   valency,
			Fallbacks: fallbacks,
		}},
	}, nil
}

func interpretP2P(p *p2pSpec) (*Result, error) {
	valency := int(u16or(p.Valency, 3))
	fallbacks := int(u16or(p.Fallbacks, 1))

	if p.Variant == "traditional" {
		return &Result{
			View:      TraditionalView{Valency: valency, Fallbacks: fallbacks},
			SelfClass: peer.Core,
			Discovery: []DiscoveryDescriptor{{
				Kind:            DiscoveryDHT,
				Valency:         valency,
				Fallbacks:       fallbacks,
				SubscriberClass: peer.Core,
			}},
		}, nil
	}

	return &Result{
		View:      P2PView{Valency: valency, Fallbacks: fallbacks},
		SelfClass: peer.Edge,
		Discovery: []DiscoveryDescriptor{{
			Kind:            DiscoveryDHT,
			Valency:         valency,
			Fallbacks:       fallbacks,
			SubscriberClass: peer.Relay,
		}},
	}, nil
}
