// Package discovery runs the background workers a topology.Result's
// DiscoveryDescriptor asks the launcher to spawn: periodic DNS
// resolution for BehindNAT topologies, and a DHT lookup subscription
// for P2P topologies.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/peer"
)

// Resolver looks up the addresses behind one domain name. Defaults to
// net.LookupHost; tests substitute a fake.
type Resolver func(ctx context.Context, domain string) ([]string, error)

func defaultResolver(ctx context.Context, domain string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, domain)
}

// DNSWorker periodically re-resolves a BehindNAT topology's seed
// domains and feeds discovered addresses into the Peer Model, dropping
// any peer whose address no longer appears in a fresh resolution.
type DNSWorker struct {
	Domains         []string
	Port            uint16
	SubscriberClass peer.NodeClass
	Valency         int
	Fallbacks       int
	Interval        time.Duration

	Peers    *peer.Model
	Resolve  Resolver
	known    map[peer.ID]bool
}

// NewDNSWorker builds a worker that resolves through net.DefaultResolver
// every 60 seconds; Resolve and Interval may be overridden after
// construction.
func NewDNSWorker(peers *peer.Model, domains []string, port uint16, subscriberClass peer.NodeClass, valency, fallbacks int) *DNSWorker {
	return &DNSWorker{
		Domains:         domains,
		Port:            port,
		SubscriberClass: subscriberClass,
		Valency:         valency,
		Fallbacks:       fallbacks,
		Interval:        60 * time.Second,
		Peers:           peers,
		Resolve:         defaultResolver,
		known:           make(map[peer.ID]bool),
	}
}

// Run resolves Domains every Interval until ctx is cancelled, in the
// same ticker-select shape as the gossip protocol's background loops.
// A domain that fails to resolve is logged and skipped; a fully empty
// result is non-fatal since the next tick retries.
func (w *DNSWorker) Run(ctx context.Context) {
	w.resolveOnce(ctx)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.resolveOnce(ctx)
		}
	}
}

func (w *DNSWorker) resolveOnce(ctx context.Context) {
	current := make(map[peer.ID]bool)
	tiers := make(peer.Tiers)

	for _, domain := range w.Domains {
		addrs, err := w.Resolve(ctx, domain)
		if err != nil {
			logging.Warn("discovery: DNS lookup for %s failed: %v", domain, err)
			continue
		}

		group := make(peer.AltGroup, 0, len(addrs))
		for i, addr := range addrs {
			if w.Fallbacks >= 0 && i > w.Fallbacks {
				break
			}
			id := peer.ID(fmt.Sprintf("%s:%d", addr, w.Port))
			group = append(group, peer.Peer{ID: id, Class: w.SubscriberClass})
			current[id] = true
		}
		if len(group) > 0 {
			tiers[w.SubscriberClass] = append(tiers[w.SubscriberClass], group)
		}
	}

	if w.Valency > 0 {
		if groups := tiers[w.SubscriberClass]; len(groups) > w.Valency {
			dropped := groups[w.Valency:]
			tiers[w.SubscriberClass] = groups[:w.Valency]
			for _, g := range dropped {
				for _, p := range g {
					delete(current, p.ID)
				}
			}
		}
	}

	w.Peers.AddKnownPeers(tiers)

	for id := range w.known {
		if !current[id] {
			w.Peers.RemovePeer(id)
		}
	}
	w.known = current
}
