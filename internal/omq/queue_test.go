package omq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/peer"
	"github.com/overlaymesh/omq/internal/policy"
)

// fakeTransport records every submission and lets the test control
// delivery by calling the completion func directly.
type fakeTransport struct {
	mu   sync.Mutex
	sent []fakeSend
}

type fakeSend struct {
	peer    peer.ID
	payload []byte
	done    func(Outcome)
}

func (f *fakeTransport) Submit(ctx context.Context, p peer.ID, payload []byte, complete func(Outcome)) (Handle, error) {
	f.mu.Lock()
	f.sent = append(f.sent, fakeSend{peer: p, payload: payload, done: complete})
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeTransport) countTo(id peer.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.peer == id {
			n++
		}
	}
	return n
}

func mustPolicy(t *testing.T, raw string, selfClass peer.NodeClass) *policy.Model {
	t.Helper()
	m, err := policy.ParseDocument([]byte(raw), selfClass)
	if err != nil {
		t.Fatalf("unexpected BadPolicy: %v", err)
	}
	return m
}

// Static relay fan-out: one submission reaches every Core peer.
func TestStaticRelayFanOut(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{
		peer.Core: {{
			{ID: "A", Class: peer.Core},
			{ID: "B", Class: peer.Core},
			{ID: "C", Class: peer.Core},
		}},
	})

	pol := mustPolicy(t, `
enqueue:
  transaction:
    send: {all: {nodeType: core, maxAhead: 0, precedence: medium}}
    forward: {all: {nodeType: core, maxAhead: 0, precedence: medium}}
`, peer.Core)

	transport := &fakeTransport{}
	q := NewQueue(pm, pol, transport)

	report := q.Enqueue(Submission{Kind: classify.Transaction, Origin: classify.Sender(), Payload: []byte("tx1")})
	if len(report.Accepted) != 3 {
		t.Fatalf("expected 3 accepted, got %+v", report)
	}

	q.Tick(context.Background())
	for _, id := range []peer.ID{"A", "B", "C"} {
		q.mu.RLock()
		l := q.links[id]
		q.mu.RUnlock()
		l.mu.Lock()
		inFlight := l.inFlight
		l.mu.Unlock()
		if inFlight != 1 {
			t.Fatalf("peer %s: expected in_flight=1 after one tick, got %d", id, inFlight)
		}
	}
}

// Fallback on primary failure: a suspended primary is skipped for its alternate.
func TestFallbackOnPrimaryFailure(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{
		peer.Relay: {{
			{ID: "P1", Class: peer.Relay},
			{ID: "P2", Class: peer.Relay},
		}},
	})

	pol := mustPolicy(t, `
enqueue:
  requestBlocks:
    one: {nodeTypes: [relay], maxAhead: 1, precedence: high}
`, peer.Relay)

	q := NewQueue(pm, pol, &fakeTransport{})

	p1 := q.ensureLink("P1", peer.Relay)
	p1.mu.Lock()
	p1.suspendUntil[classify.RequestBlocks] = q.now().Add(time.Hour)
	p1.mu.Unlock()

	report := q.Enqueue(Submission{Kind: classify.RequestBlocks, Origin: classify.Sender(), Payload: []byte("req")})
	if len(report.Accepted) != 1 || report.Accepted[0] != "P2" {
		t.Fatalf("expected single acceptance on P2, got %+v", report)
	}
}

// Admission denial arithmetic, exercised directly
// at the link level since it depends only on pending counts, not on
// the Peer/Policy Models.
func TestAdmissionDenial(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{peer.Relay: {{{ID: "Q", Class: peer.Relay}}}})
	q := NewQueue(pm, policy.DefaultModel(peer.Core), &fakeTransport{})

	l := q.ensureLink("Q", peer.Relay)
	for i := 0; i < 2; i++ {
		if !l.tryAdmit(classify.AnnounceBlockHeader, policy.High, 10, uint64(i+1), nil, q.now()) {
			t.Fatalf("setup: expected seed entry %d to admit", i)
		}
	}

	if l.tryAdmit(classify.AnnounceBlockHeader, policy.Medium, 1, 99, nil, q.now()) {
		t.Fatalf("expected admission to be denied: 2 pending entries outrank Medium, maxAhead=1")
	}
	if !l.tryAdmit(classify.AnnounceBlockHeader, policy.High, 0, 100, nil, q.now()) {
		t.Fatalf("expected admission at High to succeed: no entries strictly outrank High")
	}
}

// Origin exclusion: a forwarded message never goes back to its source.
func TestOriginExclusion(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{
		peer.Relay: {
			{{ID: "S", Class: peer.Relay}},
			{{ID: "T", Class: peer.Relay}},
			{{ID: "U", Class: peer.Relay}},
		},
	})

	pol := mustPolicy(t, `
enqueue:
  transaction:
    send: {all: {nodeType: relay, maxAhead: 10, precedence: low}}
    forward: {all: {nodeType: relay, maxAhead: 10, precedence: low}}
`, peer.Relay)

	q := NewQueue(pm, pol, &fakeTransport{})

	report := q.Enqueue(Submission{
		Kind:    classify.Transaction,
		Origin:  classify.Forward("S"),
		Payload: []byte("fwd-tx"),
	})

	if len(report.Accepted) != 2 {
		t.Fatalf("expected exactly 2 acceptances, got %+v", report)
	}
	for _, id := range report.Accepted {
		if id == "S" {
			t.Fatalf("forwarding source must never receive its own forwarded message")
		}
	}
}

// Suspend window: a failed send blocks retries until the cooldown elapses.
func TestSuspendWindow(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{peer.Core: {{{ID: "R", Class: peer.Core}}}})

	pol := mustPolicy(t, `
enqueue:
  announceBlockHeader:
    all: {nodeType: core, maxAhead: 10, precedence: high}
failure:
  announceBlockHeader:
    core: 5
`, peer.Core)

	transport := &fakeTransport{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := NewQueue(pm, pol, transport, withClock(clock.now))

	report := q.Enqueue(Submission{Kind: classify.AnnounceBlockHeader, Origin: classify.Sender(), Payload: []byte("h1")})
	if len(report.Accepted) != 1 {
		t.Fatalf("expected initial send accepted, got %+v", report)
	}
	q.Tick(context.Background())
	if n := transport.countTo("R"); n != 1 {
		t.Fatalf("expected one dispatch at t=0, got %d", n)
	}
	transport.mu.Lock()
	done := transport.sent[0].done
	transport.mu.Unlock()
	done(Failed(fmt.Errorf("connection reset")))

	clock.set(2 * time.Second)
	report = q.Enqueue(Submission{Kind: classify.AnnounceBlockHeader, Origin: classify.Sender(), Payload: []byte("h2")})
	if len(report.Accepted) != 0 {
		t.Fatalf("expected R to be skipped at t=2s while suspended, got %+v", report)
	}

	clock.set(6 * time.Second)
	report = q.Enqueue(Submission{Kind: classify.AnnounceBlockHeader, Origin: classify.Sender(), Payload: []byte("h3")})
	if len(report.Accepted) != 1 {
		t.Fatalf("expected R to receive the send again at t=6s, got %+v", report)
	}
}

// Dispatch order within a link: precedence desc, then submit_order asc.
func TestDispatchOrderRespectsPrecedenceThenSubmitOrder(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{peer.Core: {{{ID: "X", Class: peer.Core}}}})

	q := NewQueue(pm, policy.DefaultModel(peer.Core), &fakeTransport{})

	l := q.ensureLink("X", peer.Core)
	l.tryAdmit(classify.Transaction, policy.Low, 100, 1, []byte("low-1"), q.now())
	l.tryAdmit(classify.Transaction, policy.High, 100, 2, []byte("high-1"), q.now())
	l.tryAdmit(classify.Transaction, policy.High, 100, 3, []byte("high-2"), q.now())

	var order []string
	for i := 0; i < 3; i++ {
		e, ok := l.popForDispatch(q.now())
		if !ok {
			t.Fatalf("expected a pending entry at step %d", i)
		}
		order = append(order, string(e.payload))
	}
	if order[0] != "high-1" || order[1] != "high-2" || order[2] != "low-1" {
		t.Fatalf("unexpected dispatch order: %v", order)
	}
}

// Peer removal drains pending entries as cancelled, and a late
// completion against the drained link has no effect.
func TestRemovePeerCancelsPendingAndDiscardsInFlightEffect(t *testing.T) {
	pm := peer.NewModel()
	pm.AddKnownPeers(peer.Tiers{peer.Core: {{{ID: "Z", Class: peer.Core}}}})

	transport := &fakeTransport{}
	q := NewQueue(pm, policy.DefaultModel(peer.Core), transport)

	l := q.ensureLink("Z", peer.Core)
	l.tryAdmit(classify.RequestBlocks, policy.Medium, 10, 1, []byte("first"), q.now())
	q.Tick(context.Background()) // dispatches "first"; in_flight=1
	l.tryAdmit(classify.RequestBlocks, policy.Medium, 10, 2, []byte("second"), q.now())

	cancelled := q.RemovePeer("Z")
	if len(cancelled) != 1 || cancelled[0].Kind != classify.RequestBlocks {
		t.Fatalf("expected exactly one cancelled entry for the still-pending send, got %+v", cancelled)
	}

	transport.mu.Lock()
	done := transport.sent[0].done
	transport.mu.Unlock()
	done(Delivered()) // completes against the removed link; must not panic or resurrect it

	q.mu.RLock()
	_, stillPresent := q.links["Z"]
	q.mu.RUnlock()
	if stillPresent {
		t.Fatalf("removed peer's link must not be resurrected by a late completion")
	}
}

// Bad policy document (mirrors scenario 6's bad-topology shape, but for
// the Policy Model, since topology's own case is covered in package
// topology's tests): a rule specifying neither all nor one is rejected.
func TestBadPolicyDocumentRejectedAtConstruction(t *testing.T) {
	_, err := policy.ParseDocument([]byte(`
enqueue:
  transaction:
    send: {}
    forward: {all: {nodeType: relay, maxAhead: 0, precedence: low}}
`), peer.Core)
	if err == nil {
		t.Fatalf("expected BadPolicy for a rule with neither all nor one")
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) set(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = time.Unix(0, 0).Add(d)
}
