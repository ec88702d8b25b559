// Package peer implements the Peer Model: the current routing tiers the
// node knows about, organized by NodeClass, and the atomic read/write
// operations over them.
package peer

import "sync"

// NodeClass is the closed set of routing classes a peer can belong to.
type NodeClass string

const (
	Core  NodeClass = "core"
	Relay NodeClass = "relay"
	Edge  NodeClass = "edge"
)

// ID identifies a remote node. Host:port suffices as identity.
type ID string

// Peer is an immutable record of one remote node.
type Peer struct {
	ID    ID
	Class NodeClass
}

// AltGroup is an ordered alternative group: position 0 is the primary,
// positions 1..k are fallbacks for the same logical destination.
type AltGroup []Peer

// Primary returns the group's primary peer. Callers must not invoke this
// on an empty group.
func (g AltGroup) Primary() Peer { return g[0] }

// Tiers is the full peer set, organized by NodeClass. Each class holds
// its own list of alternative groups.
type Tiers map[NodeClass][]AltGroup

// clone returns a deep copy so snapshots are immune to later mutation.
func (t Tiers) clone() Tiers {
	out := make(Tiers, len(t))
	for class, groups := range t {
		cloned := make([]AltGroup, len(groups))
		for i, g := range groups {
			cg := make(AltGroup, len(g))
			copy(cg, g)
			cloned[i] = cg
		}
		out[class] = cloned
	}
	return out
}

// Model holds the live, mutable routing tiers for the current node and
// exposes linearizable read/write operations.
type Model struct {
	mu    sync.RWMutex
	tiers Tiers
	index map[ID]NodeClass
}

// NewModel returns an empty Peer Model.
func NewModel() *Model {
	return &Model{
		tiers: make(Tiers),
		index: make(map[ID]NodeClass),
	}
}

// AddKnownPeers union-merges the given tiers into the model. Insertion
// order is preserved; any peer already known anywhere in the model is
// dropped from the incoming groups (first wins). A group left empty
// after dedup contributes nothing. Returns the IDs that were newly
// added.
func (m *Model) AddKnownPeers(incoming Tiers) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []ID
	for class, groups := range incoming {
		for _, g := range groups {
			var kept AltGroup
			for _, p := range g {
				if _, known := m.index[p.ID]; known {
					continue
				}
				kept = append(kept, p)
				m.index[p.ID] = class
				added = append(added, p.ID)
			}
			if len(kept) > 0 {
				m.tiers[class] = append(m.tiers[class], kept)
			}
		}
	}
	return added
}

// RemovePeer removes id from whichever alternative group contains it.
// If removal empties the group, the group itself is dropped.
func (m *Model) RemovePeer(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	class, known := m.index[id]
	if !known {
		return
	}
	delete(m.index, id)

	groups := m.tiers[class]
	for gi, g := range groups {
		for pi, p := range g {
			if p.ID != id {
				continue
			}
			next := make(AltGroup, 0, len(g)-1)
			next = append(next, g[:pi]...)
			next = append(next, g[pi+1:]...)
			if len(next) == 0 {
				groups = append(groups[:gi], groups[gi+1:]...)
			} else {
				groups[gi] = next
			}
			m.tiers[class] = groups
			return
		}
	}
}

// Snapshot returns a cheap, point-in-time copy of the current tiers.
// Callers must not rely on cross-snapshot consistency under concurrent
// mutation.
func (m *Model) Snapshot() Tiers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiers.clone()
}

// Classify returns the NodeClass of id, if known.
func (m *Model) Classify(id ID) (NodeClass, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	class, ok := m.index[id]
	return class, ok
}

// PeersOfClass returns every peer of the given class, flattened across
// alternative groups, in insertion order.
func (m *Model) PeersOfClass(class NodeClass) []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Peer
	for _, g := range m.tiers[class] {
		out = append(out, g...)
	}
	return out
}

// Groups returns the alternative groups for a class, in insertion order.
func (m *Model) Groups(class NodeClass) []AltGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AltGroup, len(m.tiers[class]))
	for i, g := range m.tiers[class] {
		cg := make(AltGroup, len(g))
		copy(cg, g)
		out[i] = cg
	}
	return out
}

// AllGroups returns every alternative group across all classes, grouped
// by class and in insertion order within each class. The order of the
// classes themselves follows map iteration and is not fixed between
// calls. Used by EnqueueOne to find the group whose primary matches a
// requested set of classes.
func (m *Model) AllGroups() []AltGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AltGroup
	for _, groups := range m.tiers {
		for _, g := range groups {
			cg := make(AltGroup, len(g))
			copy(cg, g)
			out = append(out, cg)
		}
	}
	return out
}
