// Package topology implements the Topology Interpreter: parsing a
// declarative topology document and projecting it into the current
// node's initial Peer Model, self-classification, and discovery worker
// descriptors.
package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/overlaymesh/omq/internal/peer"
)

// BadTopology is returned when a topology document is rejected. It is
// fatal to startup.
type BadTopology struct {
	Reason string
}

func (e *BadTopology) Error() string { return fmt.Sprintf("bad topology: %s", e.Reason) }

// document mirrors the on-disk YAML schema: exactly one top-level key
// selects the topology view (nodes, wallet, p2p, or behindNat — see
// DESIGN.md for why behindNat gets its own top-level key instead of
// sharing p2p's).
type document struct {
	Nodes     map[string]nodeSpec `yaml:"nodes"`
	Wallet    *walletSpec         `yaml:"wallet"`
	P2P       *p2pSpec            `yaml:"p2p"`
	BehindNAT *behindNATSpec      `yaml:"behindNat"`
}

type behindNATSpec struct {
	Valency    *uint16  `yaml:"valency"`
	Fallbacks  *uint16  `yaml:"fallbacks"`
	DNSDomains []string `yaml:"dnsDomains"`
}

type nodeSpec struct {
	Type         string     `yaml:"type"`
	Region       string     `yaml:"region"`
	StaticRoutes [][]string `yaml:"static-routes"`
	Addr         string     `yaml:"addr"`
	Host         string     `yaml:"host"`
	Port         uint16     `yaml:"port"`
	Kademlia     *bool      `yaml:"kademlia"`
}

type walletPeerSpec struct {
	Host string `yaml:"host"`
	Addr string `yaml:"addr"`
	Port uint16 `yaml:"port"`
}

type walletSpec struct {
	Relays    [][]walletPeerSpec `yaml:"relays"`
	Valency   *uint16            `yaml:"valency"`
	Fallbacks *uint16            `yaml:"fallbacks"`
}

type p2pSpec struct {
	Variant   string  `yaml:"variant"`
	Valency   *uint16 `yaml:"valency"`
	Fallbacks *uint16 `yaml:"fallbacks"`
}

// parseDocument parses raw YAML bytes into a *document, validating the
// structural rules that are independent of which node we are (the
// "exactly one top-level key" rule, address-vs-host exclusivity, and
// closed-enum field values).
func parseDocument(raw []byte) (*document, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &BadTopology{Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}

	present := 0
	if doc.Nodes != nil {
		present++
	}
	if doc.Wallet != nil {
		present++
	}
	if doc.P2P != nil {
		present++
	}
	if doc.BehindNAT != nil {
		present++
	}
	if present != 1 {
		return nil, &BadTopology{Reason: "expected exactly one of 'nodes', 'wallet', 'p2p', 'behindNat'"}
	}

	for name, n := range doc.Nodes {
		if n.Addr != "" && n.Host != "" {
			return nil, &BadTopology{Reason: fmt.Sprintf("node %q specifies both addr and host", name)}
		}
		if _, err := parseNodeType(n.Type); err != nil {
			return nil, err
		}
	}

	if doc.P2P != nil {
		if doc.P2P.Variant != "traditional" && doc.P2P.Variant != "normal" {
			return nil, &BadTopology{Reason: fmt.Sprintf("p2p.variant must be traditional|normal, got %q", doc.P2P.Variant)}
		}
	}

	return &doc, nil
}

func parseNodeType(s string) (peer.NodeClass, error) {
	switch s {
	case "core":
		return peer.Core, nil
	case "relay":
		return peer.Relay, nil
	case "edge":
		return peer.Edge, nil
	default:
		return "", &BadTopology{Reason: fmt.Sprintf("node type must be core|relay|edge, got %q", s)}
	}
}

func u16or(p *uint16, def uint16) uint16 {
	if p == nil {
		return def
	}
	return *p
}
