package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func nopHandler(ctx context.Context, ev Event) error { return nil }

func TestRegistrySnapshotOrder(t *testing.T) {
	r := newRegistry()
	var ids []string
	for i := 0; i < 5; i++ {
		sub := &subscription{id: NewID(), kind: KindBeat, owner: "A", handler: nopHandler}
		r.add(sub)
		ids = append(ids, sub.id)
	}

	snap := r.snapshot(KindBeat)
	got := make([]string, len(snap))
	for i, sub := range snap {
		got[i] = sub.id
	}
	if diff := cmp.Diff(ids, got); diff != "" {
		t.Errorf("snapshot order mismatch (-want +got):\n%s", diff)
	}
	if other := r.snapshot(KindTempo); len(other) != 0 {
		t.Errorf("snapshot of unused kind has %d entries", len(other))
	}
}

func TestRegistryRemovePrunesKind(t *testing.T) {
	r := newRegistry()
	sub := &subscription{id: NewID(), kind: KindBeat, owner: "A", handler: nopHandler}
	r.add(sub)

	if !r.remove(sub.id) {
		t.Fatal("remove of live subscription failed")
	}
	if r.remove(sub.id) {
		t.Error("remove of dead subscription succeeded")
	}
	if len(r.byKind) != 0 {
		t.Errorf("kind map not pruned, %d kinds left", len(r.byKind))
	}
	if got := r.active(); got != 0 {
		t.Errorf("active got:%d, expected:0", got)
	}
	if got := r.cumulative(); got != 1 {
		t.Errorf("cumulative got:%d, expected:1", got)
	}
}

func TestRegistryRemoveOwner(t *testing.T) {
	r := newRegistry()
	for i := 0; i < 3; i++ {
		r.add(&subscription{id: NewID(), kind: KindBeat, owner: "renderer", handler: nopHandler})
	}
	r.add(&subscription{id: NewID(), kind: KindBeat, owner: "analyzer", handler: nopHandler})

	if removed := r.removeOwner("renderer"); removed != 3 {
		t.Errorf("removed %d, expected 3", removed)
	}
	if got := r.active(); got != 1 {
		t.Errorf("active got:%d, expected:1", got)
	}
}

func TestRegistryStale(t *testing.T) {
	r := newRegistry()
	base := time.Now()

	old := &subscription{id: NewID(), kind: KindBeat, owner: "A", createdAt: base.Add(-10 * time.Minute), handler: nopHandler}
	fired := &subscription{id: NewID(), kind: KindBeat, owner: "A", createdAt: base.Add(-10 * time.Minute), handler: nopHandler}
	fresh := &subscription{id: NewID(), kind: KindBeat, owner: "A", createdAt: base, handler: nopHandler}
	r.add(old)
	r.add(fired)
	r.add(fresh)
	r.touch(fired, base)

	stale := r.stale(base.Add(-5 * time.Minute))
	if len(stale) != 1 {
		t.Fatalf("stale returned %d entries, expected 1", len(stale))
	}
	if stale[0].ID != old.id {
		t.Errorf("stale id got:%s, expected:%s", stale[0].ID, old.id)
	}
}

func TestRegistryTouch(t *testing.T) {
	r := newRegistry()
	sub := &subscription{id: NewID(), kind: KindBeat, owner: "A", handler: nopHandler}
	r.add(sub)

	now := time.Now()
	r.touch(sub, now)
	r.touch(sub, now.Add(time.Second))

	info, ok := r.get(sub.id)
	if !ok {
		t.Fatal("subscription missing")
	}
	if info.TriggerCount != 2 {
		t.Errorf("trigger count got:%d, expected:2", info.TriggerCount)
	}
	if !info.LastTriggered.Equal(now.Add(time.Second)) {
		t.Errorf("last triggered got:%v, expected:%v", info.LastTriggered, now.Add(time.Second))
	}
}
