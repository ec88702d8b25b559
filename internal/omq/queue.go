// Package omq implements the Outbound Queue: the per-link scheduling
// state (pending heap, in-flight counter, rate limiter, suspension
// deadlines) and the enqueue/dispatch/completion operations that drive
// it.
package omq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/logging"
	"github.com/overlaymesh/omq/internal/peer"
	"github.com/overlaymesh/omq/internal/policy"
)

// Submission is a message handed to Enqueue: its kind, its origin
// (meaningful only for kinds classify.Kind.HasOrigin reports true for),
// and the already-encoded payload the transport will carry.
type Submission struct {
	Kind    classify.Kind
	Origin  classify.Origin
	Payload []byte
}

// EnqueueReport is the result of one Enqueue call: which peers accepted
// the message, which denied it via the admission check, and which
// alternative groups had no member willing to take it (EnqueueOne
// passes only).
type EnqueueReport struct {
	Accepted []peer.ID
	Denied   []peer.ID
	NoRoute  []int
}

// Cancelled is one pending entry dropped by RemovePeer, reported back
// to the caller so it can account for a message that will never be
// sent.
type Cancelled struct {
	Peer peer.ID
	Kind classify.Kind
}

// Queue is the Outbound Queue: one link per known peer, scheduled
// according to the Policy Model and fed by the Peer Model's current
// membership.
type Queue struct {
	mu    sync.RWMutex
	links map[peer.ID]*link

	peers     *peer.Model
	policy    *policy.Model
	transport Transport
	metrics   *metrics

	submitOrder uint64 // atomic; monotonic tie-breaker for heap ordering

	now func() time.Time
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithRegisterer directs the Queue's Prometheus instruments at reg
// instead of a private registry. Pass prometheus.DefaultRegisterer to
// expose them on the process's default /metrics handler.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(q *Queue) { q.metrics = newMetrics(reg) }
}

// withClock overrides the Queue's notion of "now". Exercised by tests
// that need to advance time past a suspension window deterministically.
func withClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue builds an empty Outbound Queue over peers and model, ready
// to accept AddPeer calls and Enqueue submissions. transport is the
// non-blocking send primitive Tick dispatches onto.
func NewQueue(peers *peer.Model, model *policy.Model, transport Transport, opts ...Option) *Queue {
	q := &Queue{
		links:     make(map[peer.ID]*link),
		peers:     peers,
		policy:    model,
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = newMetrics(nil)
	}

	for _, p := range peers.PeersOfClass(peer.Core) {
		q.ensureLink(p.ID, p.Class)
	}
	for _, p := range peers.PeersOfClass(peer.Relay) {
		q.ensureLink(p.ID, p.Class)
	}
	for _, p := range peers.PeersOfClass(peer.Edge) {
		q.ensureLink(p.ID, p.Class)
	}
	return q
}

func (q *Queue) ensureLink(id peer.ID, class peer.NodeClass) *link {
	q.mu.RLock()
	l, ok := q.links[id]
	q.mu.RUnlock()
	if ok {
		return l
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.links[id]; ok {
		return l
	}
	l = newLink(id, class, q.policy.DequeueRule(class), q.now())
	q.links[id] = l
	return l
}

// AddPeer admits a newly discovered peer into both the Peer Model and
// the OMQ's own link table. Safe to call concurrently with Enqueue/Tick.
func (q *Queue) AddPeer(class peer.NodeClass, p peer.Peer) []peer.ID {
	added := q.peers.AddKnownPeers(peer.Tiers{class: {{p}}})
	q.ensureLink(p.ID, p.Class)
	return added
}

// RemovePeer drops p from the Peer Model and drains its link, returning
// a Cancelled report for every entry that was still pending.
func (q *Queue) RemovePeer(id peer.ID) []Cancelled {
	q.mu.Lock()
	l, ok := q.links[id]
	if ok {
		delete(q.links, id)
	}
	q.mu.Unlock()

	q.peers.RemovePeer(id)
	if !ok {
		return nil
	}

	drained := l.drain()
	q.metrics.decPending(l.class, len(drained))
	out := make([]Cancelled, 0, len(drained))
	for _, e := range drained {
		out = append(out, Cancelled{Peer: id, Kind: e.kind})
	}
	return out
}

// Enqueue classifies sub and fans it out across every enqueue rule
// pass the Policy Model returns for its (kind, origin), applying the
// per-link admission check along the way.
func (q *Queue) Enqueue(sub Submission) EnqueueReport {
	mc := classify.Classify(classify.Submission{Kind: sub.Kind, Origin: sub.Origin})
	excluded, hasExcluded := mc.ExcludedSource()
	order := atomic.AddUint64(&q.submitOrder, 1)
	now := q.now()

	var report EnqueueReport
	for _, rule := range q.policy.EnqueueRules(mc) {
		switch r := rule.(type) {
		case policy.EnqueueAll:
			for _, p := range q.peers.PeersOfClass(r.NodeClass) {
				if hasExcluded && p.ID == excluded {
					continue
				}
				l := q.ensureLink(p.ID, p.Class)
				ok := l.tryAdmit(mc.Kind, r.Precedence, r.MaxAhead, order, sub.Payload, now)
				q.metrics.observeAdmit(p.Class, ok)
				if ok {
					report.Accepted = append(report.Accepted, p.ID)
				} else {
					report.Denied = append(report.Denied, p.ID)
				}
			}

		case policy.EnqueueOne:
			for gi, g := range q.peers.AllGroups() {
				if len(g) == 0 {
					continue
				}
				if _, wanted := r.NodeClasses[g.Primary().Class]; !wanted {
					continue
				}
				admitted := false
				for _, p := range g {
					if hasExcluded && p.ID == excluded {
						continue
					}
					l := q.ensureLink(p.ID, p.Class)
					ok := l.tryAdmit(mc.Kind, r.Precedence, r.MaxAhead, order, sub.Payload, now)
					q.metrics.observeAdmit(p.Class, ok)
					if ok {
						report.Accepted = append(report.Accepted, p.ID)
						admitted = true
						break
					}
				}
				if !admitted {
					report.NoRoute = append(report.NoRoute, gi)
				}
			}
		}
	}
	return report
}

// Tick drives one dispatch pass: every link with spare in-flight
// capacity, an available rate token, and a pending entry gets its
// highest-precedence entry handed to the transport. Tick never blocks
// on network completion; it only ever calls the transport's
// non-blocking Submit.
func (q *Queue) Tick(ctx context.Context) {
	q.mu.RLock()
	links := make([]*link, 0, len(q.links))
	for _, l := range q.links {
		links = append(links, l)
	}
	q.mu.RUnlock()

	now := q.now()
	for _, l := range links {
		q.dispatchLink(ctx, l, now)
	}
}

func (q *Queue) dispatchLink(ctx context.Context, l *link, now time.Time) {
	e, ok := l.popForDispatch(now)
	if !ok {
		return
	}

	q.metrics.observeDispatch(l.class)
	start := q.now()

	_, err := q.transport.Submit(ctx, l.id, e.payload, func(outcome Outcome) {
		q.onSendComplete(l, e.kind, outcome, start)
	})
	if err != nil {
		q.onSendComplete(l, e.kind, Failed(err), start)
	}
}

func (q *Queue) onSendComplete(l *link, kind classify.Kind, outcome Outcome, start time.Time) {
	now := q.now()
	var suspendFor time.Duration
	if !outcome.Delivered {
		suspendFor = q.policy.FailureRule(l.class, kind)
	}
	l.complete(kind, outcome.Delivered, suspendFor, now)

	q.metrics.observeCompletion(l.class, outcome.Delivered, q.suspendedCount())
	q.metrics.dispatchDuration.WithLabelValues(string(l.class)).Observe(now.Sub(start).Seconds())

	if !outcome.Delivered {
		logging.Warn("omq: send failed peer=%s kind=%s suspend=%s err=%v", l.id, kind, suspendFor, outcome.Err)
	}
}

// suspendedCount scans every link for (kind, peer) pairs still under a
// failure cooldown at the current time. Called from the completion
// path, which already touches one link's lock; the O(links) scan here
// keeps the gauge live without a separate background sampler.
func (q *Queue) suspendedCount() int {
	q.mu.RLock()
	links := make([]*link, 0, len(q.links))
	for _, l := range q.links {
		links = append(links, l)
	}
	q.mu.RUnlock()

	now := q.now()
	total := 0
	for _, l := range links {
		l.mu.Lock()
		for _, until := range l.suspendUntil {
			if now.Before(until) {
				total++
			}
		}
		l.mu.Unlock()
	}
	return total
}

// Run drives Tick on a fixed interval until ctx is cancelled, in the
// same ticker-select pattern the gossip protocol's background loops
// use.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}
