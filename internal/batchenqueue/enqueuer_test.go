package batchenqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
)

func newTestStore(t *testing.T) (*statestore.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := statestore.NewWithClient(client)
	return store, func() {
		store.Close()
		mr.Close()
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	roster := &config.Roster{Locations: []string{"L1"}, Equipment: map[string][]types.Equipment{"L1": {}}}
	enq := New(roster, store, nil, nil, nil)

	locked, err := store.AcquireLock(ctx, "batch", config.BatchLockTTL)
	if err != nil || !locked {
		t.Fatalf("expected to acquire lock directly, locked=%v err=%v", locked, err)
	}

	summary, err := enq.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.LockSkipped {
		t.Error("expected run to report the batch lock as held")
	}
	if summary.LocationsSeen != 0 {
		t.Errorf("expected no locations processed while skipped, got %d", summary.LocationsSeen)
	}
}

func TestRunWithNoEquipmentCompletesAndSeedsCache(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	roster := &config.Roster{Locations: []string{"L1", "L2"}, Equipment: map[string][]types.Equipment{"L1": {}, "L2": {}}}
	enq := New(roster, store, nil, nil, nil)

	summary, err := enq.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.LockSkipped {
		t.Fatal("expected run to acquire the lock")
	}
	if summary.LocationsSeen != 2 {
		t.Errorf("expected 2 locations seen, got %d", summary.LocationsSeen)
	}
	if summary.EquipmentSeen != 0 {
		t.Errorf("expected 0 equipment seen, got %d", summary.EquipmentSeen)
	}

	if _, ok, err := store.GetEquipmentListCache(ctx); err != nil || !ok {
		t.Errorf("expected equipment list cache to be seeded, ok=%v err=%v", ok, err)
	}

	locked, err := store.AcquireLock(ctx, "batch", config.BatchLockTTL)
	if err != nil || !locked {
		t.Fatalf("expected the batch lock to be released once Run returns: locked=%v err=%v", locked, err)
	}
}

func TestGroupsByLocationBucketsByFirstMember(t *testing.T) {
	groups := []types.LeadLagGroup{
		{GroupID: "pumps-1", Members: []string{"P1", "P2"}},
		{GroupID: "boilers-1", Members: []string{"B1", "B2"}},
		{GroupID: "orphan", Members: nil},
	}
	equipmentLocation := map[string]string{
		"P1": "L1", "P2": "L1",
		"B1": "L2", "B2": "L2",
	}

	out := groupsByLocation(groups, equipmentLocation)

	if len(out["L1"]) != 1 || out["L1"][0].GroupID != "pumps-1" {
		t.Errorf("expected L1 to contain pumps-1, got %+v", out["L1"])
	}
	if len(out["L2"]) != 1 || out["L2"][0].GroupID != "boilers-1" {
		t.Errorf("expected L2 to contain boilers-1, got %+v", out["L2"])
	}
	if _, ok := out[""]; ok {
		t.Error("expected the memberless group to be dropped, not bucketed under an empty location")
	}
}
