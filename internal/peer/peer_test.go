package peer

import "testing"

func TestAddKnownPeersDedupesFirstWins(t *testing.T) {
	m := NewModel()

	added := m.AddKnownPeers(Tiers{
		Core: {
			{{ID: "a:1", Class: Core}, {ID: "b:1", Class: Core}},
		},
	})
	if len(added) != 2 {
		t.Fatalf("expected 2 newly added peers, got %d", len(added))
	}

	// Re-adding "a:1" under a different class/group must be dropped.
	added = m.AddKnownPeers(Tiers{
		Relay: {
			{{ID: "a:1", Class: Relay}, {ID: "c:1", Class: Relay}},
		},
	})
	if len(added) != 1 || added[0] != "c:1" {
		t.Fatalf("expected only c:1 to be newly added, got %v", added)
	}

	class, ok := m.Classify("a:1")
	if !ok || class != Core {
		t.Fatalf("a:1 should remain classified as core (first wins), got %v %v", class, ok)
	}

	// The duplicate-free fallback still gets its own group.
	groups := m.Groups(Relay)
	if len(groups) != 1 || len(groups[0]) != 1 || groups[0][0].ID != "c:1" {
		t.Fatalf("expected single-member relay group with c:1, got %v", groups)
	}
}

func TestAddKnownPeersPreservesInsertionOrder(t *testing.T) {
	m := NewModel()
	m.AddKnownPeers(Tiers{
		Core: {
			{{ID: "p1", Class: Core}, {ID: "p2", Class: Core}},
		},
	})
	m.AddKnownPeers(Tiers{
		Core: {
			{{ID: "p3", Class: Core}},
		},
	})

	groups := m.Groups(Core)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0][0].ID != "p1" || groups[0][1].ID != "p2" || groups[1][0].ID != "p3" {
		t.Fatalf("insertion order not preserved: %v", groups)
	}
}

func TestRemovePeerDropsEmptyGroup(t *testing.T) {
	m := NewModel()
	m.AddKnownPeers(Tiers{
		Relay: {
			{{ID: "only", Class: Relay}},
			{{ID: "p1", Class: Relay}, {ID: "p2", Class: Relay}},
		},
	})

	m.RemovePeer("only")
	groups := m.Groups(Relay)
	if len(groups) != 1 {
		t.Fatalf("expected the emptied group to be dropped, got %v", groups)
	}

	if _, ok := m.Classify("only"); ok {
		t.Fatalf("removed peer should no longer classify")
	}

	m.RemovePeer("p1")
	groups = m.Groups(Relay)
	if len(groups) != 1 || len(groups[0]) != 1 || groups[0][0].ID != "p2" {
		t.Fatalf("expected remaining group to shrink to [p2], got %v", groups)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := NewModel()
	m.AddKnownPeers(Tiers{
		Core: {{{ID: "a", Class: Core}}},
	})

	snap := m.Snapshot()
	m.AddKnownPeers(Tiers{Core: {{{ID: "b", Class: Core}}}})

	if len(snap[Core]) != 1 {
		t.Fatalf("snapshot must not observe later mutation, got %v", snap)
	}
	if len(m.Groups(Core)) != 2 {
		t.Fatalf("live model should reflect the later add")
	}
}

func TestClassifyUnknown(t *testing.T) {
	m := NewModel()
	if _, ok := m.Classify("nope"); ok {
		t.Fatalf("unknown peer should not classify")
	}
}
