package omq

import (
	"container/heap"
	"sync"
	"time"

	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/peer"
	"github.com/overlaymesh/omq/internal/policy"
)

// link holds the entire scheduling state the OMQ keeps for one remote
// peer: its pending heap, in-flight counter, rate limiter, and the
// per-kind suspension deadlines a failed send installs.
type link struct {
	mu sync.Mutex

	id    peer.ID
	class peer.NodeClass

	pending entryHeap
	// counts[p] is the number of pending entries at precedence p,
	// kept in step with the heap so admission checks don't need to
	// walk it.
	counts [5]int

	inFlight    uint
	maxInFlight uint
	rate        *tokenBucket

	suspendUntil map[classify.Kind]time.Time

	removed bool
}

func newLink(id peer.ID, class peer.NodeClass, rule policy.DequeueRule, now time.Time) *link {
	var rate *tokenBucket
	if rule.RateLimit.Unlimited {
		rate = newTokenBucket(0, now)
	} else {
		rate = newTokenBucket(rule.RateLimit.PerSecond, now)
	}
	return &link{
		id:           id,
		class:        class,
		maxInFlight:  rule.MaxInFlight,
		rate:         rate,
		suspendUntil: make(map[classify.Kind]time.Time),
	}
}

// aheadCountLocked returns the number of pending entries strictly higher in
// precedence than prec, under l.mu already held by the caller.
func (l *link) aheadCountLocked(prec policy.Precedence) int {
	ahead := 0
	for p := int(prec) + 1; p < len(l.counts); p++ {
		ahead += l.counts[p]
	}
	return ahead
}

// suspendedLocked reports whether kind is under cooldown at now.
func (l *link) suspendedLocked(kind classify.Kind, now time.Time) bool {
	until, ok := l.suspendUntil[kind]
	return ok && now.Before(until)
}

// tryAdmit applies the admission check: deny if the
// link is suspended for kind, or if strictly more than maxAhead
// pending entries already outrank prec. On acceptance the entry is
// pushed onto the heap immediately (point-in-time semantics: later
// enqueues see this entry's effect on the count).
func (l *link) tryAdmit(kind classify.Kind, prec policy.Precedence, maxAhead int, submitOrder uint64, payload []byte, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed {
		return false
	}
	if l.suspendedLocked(kind, now) {
		return false
	}
	if l.aheadCountLocked(prec) > maxAhead {
		return false
	}

	heap.Push(&l.pending, &entry{kind: kind, precedence: prec, submitOrder: submitOrder, payload: payload})
	l.counts[prec]++
	return true
}

// popForDispatch consumes a rate token and pops the highest-priority
// entry, incrementing in-flight. Returns ok=false if nothing was ready
// or the bucket had no token, in which case no state changed.
func (l *link) popForDispatch(now time.Time) (*entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed || l.inFlight >= l.maxInFlight || l.pending.Len() == 0 {
		return nil, false
	}
	if !l.rate.allow(now) {
		return nil, false
	}

	e := heap.Pop(&l.pending).(*entry)
	l.counts[e.precedence]--
	l.inFlight++
	return e, true
}

// complete applies the result of a dispatched send. If the link has
// since been removed, the effect is discarded entirely.
func (l *link) complete(kind classify.Kind, delivered bool, suspendFor time.Duration, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed {
		return
	}
	l.inFlight--
	if !delivered {
		l.suspendUntil[kind] = now.Add(suspendFor)
	}
}

// drain marks the link removed and returns its pending entries as
// cancelled. Order is not meaningful; callers only need the set.
func (l *link) drain() []*entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removed = true
	out := make([]*entry, 0, l.pending.Len())
	for l.pending.Len() > 0 {
		out = append(out, heap.Pop(&l.pending).(*entry))
	}
	l.counts = [5]int{}
	return out
}
