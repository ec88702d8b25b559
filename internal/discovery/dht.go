package discovery

import (
	"context"
	"time"

	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/peer"
)

// LookupFunc performs one round of Kademlia FIND_NODE-style discovery
// and returns the peers it found. The OMQ module does not implement a
// DHT client itself — the P2P and Traditional topology views only
// describe that a DHT-backed view exists, not a Kademlia
// implementation; a real deployment supplies its own lookup backed by
// a Kademlia library.
type LookupFunc func(ctx context.Context) ([]peer.Peer, error)

// DHTWorker subscribes to a caller-supplied DHT lookup on an interval
// and feeds the results into the Peer Model, the same role DNSWorker
// plays for BehindNAT topologies.
type DHTWorker struct {
	Lookup          LookupFunc
	SubscriberClass peer.NodeClass
	Valency         int
	Interval        time.Duration

	Peers *peer.Model
	known map[peer.ID]bool

	backoff time.Duration
	maxBackoff time.Duration
}

// NewDHTWorker builds a worker around lookup.
func NewDHTWorker(peers *peer.Model, lookup LookupFunc, subscriberClass peer.NodeClass, valency int) *DHTWorker {
	return &DHTWorker{
		Lookup:          lookup,
		SubscriberClass: subscriberClass,
		Valency:         valency,
		Interval:        30 * time.Second,
		Peers:           peers,
		known:           make(map[peer.ID]bool),
		backoff:         time.Second,
		maxBackoff:      30 * time.Second,
	}
}

// Run drives Lookup every Interval until ctx is cancelled. After a
// failed lookup the worker pauses for the current backoff (starting at
// one second, doubling on each consecutive failure, capped at
// maxBackoff) before it waits for the next tick; a successful lookup
// resets the backoff. Lookups still happen at most once per Interval,
// failed or not.
func (w *DHTWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.lookupOnce(ctx)
		}
	}
}

func (w *DHTWorker) lookupOnce(ctx context.Context) {
	found, err := w.Lookup(ctx)
	if err != nil {
		logging.Warn("discovery: DHT lookup failed, backing off %v: %v", w.backoff, err)
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff):
		}
		w.backoff *= 2
		if w.backoff > w.maxBackoff {
			w.backoff = w.maxBackoff
		}
		return
	}
	w.backoff = time.Second

	if w.Valency > 0 && len(found) > w.Valency {
		found = found[:w.Valency]
	}

	current := make(map[peer.ID]bool, len(found))
	tiers := make(peer.Tiers)
	for _, p := range found {
		current[p.ID] = true
		tiers[w.SubscriberClass] = append(tiers[w.SubscriberClass], peer.AltGroup{p})
	}

	w.Peers.AddKnownPeers(tiers)
	for id := range w.known {
		if !current[id] {
			w.Peers.RemovePeer(id)
		}
	}
	w.known = current
}
