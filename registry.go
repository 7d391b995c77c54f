package cascade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handler processes one event. Returning an error does not stop dispatch to
// other subscribers; the bus recovers it and self-reports a system.error.
type Handler func(ctx context.Context, ev Event) error

// SubscriptionInfo is a read-only view of a subscription, exposed through
// Bus.Subscription and Bus.Subscriptions for monitoring and tests.
type SubscriptionInfo struct {
	ID            string
	Kind          Kind
	Owner         string
	Once          bool
	CreatedAt     time.Time
	LastTriggered time.Time
	TriggerCount  uint64
}

// subscription is the registry record. The handler reference is immutable
// once registered; trigger bookkeeping is guarded by the registry lock.
type subscription struct {
	id            string
	kind          Kind
	owner         string
	once          bool
	claimed       bool
	seq           uint64
	createdAt     time.Time
	lastTriggered time.Time
	triggerCount  uint64
	handler       Handler
}

func (s *subscription) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:            s.id,
		Kind:          s.kind,
		Owner:         s.owner,
		Once:          s.once,
		CreatedAt:     s.createdAt,
		LastTriggered: s.lastTriggered,
		TriggerCount:  s.triggerCount,
	}
}

// registry maps kinds to subscriptions. Empty per-kind maps are pruned on
// removal so the map never grows with dead kinds.
type registry struct {
	mu      sync.RWMutex
	byKind  map[Kind]map[string]*subscription
	byID    map[string]*subscription
	nextSeq uint64
	total   uint64 // cumulative subscribe count
}

func newRegistry() *registry {
	return &registry{
		byKind: make(map[Kind]map[string]*subscription),
		byID:   make(map[string]*subscription),
	}
}

func (r *registry) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.seq = r.nextSeq
	r.nextSeq++
	r.total++
	kindMap, ok := r.byKind[sub.kind]
	if !ok {
		kindMap = make(map[string]*subscription)
		r.byKind[sub.kind] = kindMap
	}
	kindMap[sub.id] = sub
	r.byID[sub.id] = sub
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *registry) removeLocked(id string) bool {
	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if kindMap, ok := r.byKind[sub.kind]; ok {
		delete(kindMap, id)
		if len(kindMap) == 0 {
			delete(r.byKind, sub.kind)
		}
	}
	return true
}

func (r *registry) removeOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, sub := range r.byID {
		if sub.owner == owner {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		r.removeLocked(id)
	}
	return len(ids)
}

// snapshot returns the current subscribers for a kind in registration order.
// Dispatch works off this copy, so handlers added mid-dispatch are not
// invoked for the same emission.
func (r *registry) snapshot(kind Kind) []*subscription {
	r.mu.RLock()
	kindMap := r.byKind[kind]
	subs := make([]*subscription, 0, len(kindMap))
	for _, sub := range kindMap {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}

// claimOnce marks a once-subscription as consumed, reporting whether the
// caller won the claim. Snapshots taken by overlapping dispatches can hold
// the same once-subscription; only the claim winner may invoke it.
// Non-once subscriptions are always claimable.
func (r *registry) claimOnce(sub *subscription) bool {
	if !sub.once {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.claimed {
		return false
	}
	sub.claimed = true
	return true
}

// touch records a successful dispatch to a subscription.
func (r *registry) touch(sub *subscription, now time.Time) {
	r.mu.Lock()
	sub.triggerCount++
	sub.lastTriggered = now
	r.mu.Unlock()
}

func (r *registry) get(id string) (SubscriptionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return SubscriptionInfo{}, false
	}
	return sub.info(), true
}

func (r *registry) list() []SubscriptionInfo {
	r.mu.RLock()
	infos := make([]SubscriptionInfo, 0, len(r.byID))
	seqs := make(map[string]uint64, len(r.byID))
	for _, sub := range r.byID {
		infos = append(infos, sub.info())
		seqs[sub.id] = sub.seq
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return seqs[infos[i].ID] < seqs[infos[j].ID] })
	return infos
}

// stale returns ids of subscriptions that never fired and were created
// before the cutoff. Used by the sweeper to reap leaked one-shot listeners.
func (r *registry) stale(cutoff time.Time) []SubscriptionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SubscriptionInfo
	for _, sub := range r.byID {
		if sub.triggerCount == 0 && sub.createdAt.Before(cutoff) {
			out = append(out, sub.info())
		}
	}
	return out
}

func (r *registry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *registry) cumulative() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind = make(map[Kind]map[string]*subscription)
	r.byID = make(map[string]*subscription)
}
