package policy

import (
	"testing"
	"time"

	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/peer"
)

func TestDefaultModelEdgeSendsOnlyToRelayAtMedium(t *testing.T) {
	m := DefaultModel(peer.Edge)
	for _, kind := range policyKinds {
		rules := m.EnqueueRules(classify.MsgClass{Kind: kind})
		if len(rules) != 1 {
			t.Fatalf("%s: expected exactly one enqueue pass, got %d", kind, len(rules))
		}
		all, ok := rules[0].(EnqueueAll)
		if !ok || all.NodeClass != peer.Relay || all.Precedence != Medium {
			t.Fatalf("%s: expected EnqueueAll{Relay, Medium}, got %+v", kind, rules[0])
		}
	}
}

func TestDefaultModelCoreSplitsBlocksAndTransactions(t *testing.T) {
	m := DefaultModel(peer.Core)

	blockRules := m.EnqueueRules(classify.MsgClass{Kind: classify.AnnounceBlockHeader})
	all := blockRules[0].(EnqueueAll)
	if all.NodeClass != peer.Core || all.Precedence != Highest {
		t.Fatalf("expected core announce rule at highest precedence, got %+v", all)
	}

	txRules := m.EnqueueRules(classify.MsgClass{Kind: classify.Transaction})
	txAll := txRules[0].(EnqueueAll)
	if txAll.NodeClass != peer.Relay || txAll.Precedence != Medium {
		t.Fatalf("expected core tx rule targeting relay at medium, got %+v", txAll)
	}
}

func TestParseDocumentRejectsBothAllAndOne(t *testing.T) {
	raw := []byte(`
enqueue:
  requestBlocks:
    all: {nodeType: core, maxAhead: 0, precedence: high}
    one: {nodeTypes: [core], maxAhead: 0, precedence: high}
`)
	_, err := ParseDocument(raw, peer.Core)
	if err == nil {
		t.Fatalf("expected BadPolicy for a rule specifying both all and one")
	}
}

func TestParseDocumentRejectsUnknownPrecedence(t *testing.T) {
	raw := []byte(`
enqueue:
  requestBlocks:
    all: {nodeType: core, maxAhead: 0, precedence: urgent}
`)
	_, err := ParseDocument(raw, peer.Core)
	if err == nil {
		t.Fatalf("expected BadPolicy for an invalid precedence name")
	}
}

func TestParseDocumentOverridesDequeueAndFailure(t *testing.T) {
	raw := []byte(`
dequeue:
  relay:
    maxInFlight: 7
    rateLimit: 5
failure:
  transaction:
    relay: 42
`)
	m, err := ParseDocument(raw, peer.Core)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dq := m.DequeueRule(peer.Relay)
	if dq.MaxInFlight != 7 || dq.RateLimit.Unlimited || dq.RateLimit.PerSecond != 5 {
		t.Fatalf("dequeue override not applied: %+v", dq)
	}
	if got := m.FailureRule(peer.Relay, classify.Transaction); got != 42*time.Second {
		t.Fatalf("failure override not applied, got %v", got)
	}
}

func TestParseDocumentEnqueueOneRequiresKnownNodeTypes(t *testing.T) {
	raw := []byte(`
enqueue:
  requestBlocks:
    one: {nodeTypes: [core, bogus], maxAhead: 1, precedence: high}
`)
	_, err := ParseDocument(raw, peer.Core)
	if err == nil {
		t.Fatalf("expected BadPolicy for an unknown node type in 'one'")
	}
}

func TestTransactionSendAndForwardShareRules(t *testing.T) {
	raw := []byte(`
enqueue:
  transaction:
    send: {all: {nodeType: relay, maxAhead: 10, precedence: low}}
    forward: {all: {nodeType: relay, maxAhead: 10, precedence: low}}
`)
	m, err := ParseDocument(raw, peer.Core)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rules := m.EnqueueRules(classify.MsgClass{Kind: classify.Transaction})
	all := rules[0].(EnqueueAll)
	if all.NodeClass != peer.Relay || all.MaxAhead != 10 || all.Precedence != Low {
		t.Fatalf("unexpected rule: %+v", all)
	}

	fwdRules := m.EnqueueRules(classify.MsgClass{Kind: classify.Transaction, Origin: classify.Forward("peer-x")})
	if len(fwdRules) != len(rules) || fwdRules[0] != rules[0] {
		t.Fatalf("expected forwarded transactions to get the send rule set, got %+v", fwdRules)
	}
}
