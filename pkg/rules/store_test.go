package rules

import (
	"errors"
	"sync"
	"testing"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

// fakePersistence records saves and can be told to fail
type fakePersistence struct {
	mu     sync.Mutex
	saved  []*pkg.Rule
	failOn bool
}

func (f *fakePersistence) SaveRule(r *pkg.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, r.Clone())
	return nil
}

func (f *fakePersistence) LoadRules() ([]*pkg.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved, nil
}

func testStore(t *testing.T) (*Store, *fakePersistence) {
	t.Helper()
	fp := &fakePersistence{}
	return NewStore(fp, logx.NewLogger("error", "rules")), fp
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	store, fp := testStore(t)

	created, err := store.Create(&pkg.Rule{Name: "Grab umbrella", IsActive: true})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != 1 {
		t.Errorf("expected id 1, got %d", created.ID)
	}
	if created.Weight != pkg.WeightDefault {
		t.Errorf("expected default weight, got %.2f", created.Weight)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if len(fp.saved) != 1 {
		t.Errorf("expected write-through, got %d saves", len(fp.saved))
	}
}

func TestCreateClampsWeight(t *testing.T) {
	store, _ := testStore(t)

	r, err := store.Create(&pkg.Rule{Name: "x", Weight: 2.0, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.Weight != pkg.WeightMax {
		t.Errorf("expected clamp to %.2f, got %.2f", pkg.WeightMax, r.Weight)
	}
}

func TestGetUnknownRule(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Get(42)
	if !errors.Is(err, pkg.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestListActiveExcludesDeactivated(t *testing.T) {
	store, _ := testStore(t)

	a, _ := store.Create(&pkg.Rule{Name: "a", IsActive: true})
	store.Create(&pkg.Rule{Name: "b", IsActive: true})

	if err := store.Deactivate(a.ID); err != nil {
		t.Fatal(err)
	}

	active := store.ListActive()
	if len(active) != 1 || active[0].Name != "b" {
		t.Errorf("expected only rule b active, got %+v", active)
	}
	if all := store.ListAll(); len(all) != 2 {
		t.Errorf("deactivated rule left the catalog: %d rules", len(all))
	}
}

func TestUpdateWeightClampsAtBounds(t *testing.T) {
	store, _ := testStore(t)
	r, _ := store.Create(&pkg.Rule{Name: "x", Weight: 0.90, IsActive: true})

	w, err := store.UpdateWeight(r.ID, 0.20)
	if err != nil {
		t.Fatal(err)
	}
	if w != pkg.WeightMax {
		t.Errorf("expected ceiling %.2f, got %.2f", pkg.WeightMax, w)
	}

	w, err = store.UpdateWeight(r.ID, -5.0)
	if err != nil {
		t.Fatal(err)
	}
	if w != pkg.WeightMin {
		t.Errorf("expected floor %.2f, got %.2f", pkg.WeightMin, w)
	}
}

func TestUpdateWeightRollsBackOnPersistFailure(t *testing.T) {
	store, fp := testStore(t)
	r, _ := store.Create(&pkg.Rule{Name: "x", Weight: 0.50, IsActive: true})

	fp.failOn = true
	_, err := store.UpdateWeight(r.ID, 0.05)
	if !errors.Is(err, pkg.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	got, _ := store.Get(r.ID)
	if got.Weight != 0.50 {
		t.Errorf("weight changed despite persist failure: %.2f", got.Weight)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store, _ := testStore(t)
	r, _ := store.Create(&pkg.Rule{Name: "x", Weight: 0.50, IsActive: true})

	snap := store.Snapshot()
	if _, err := store.UpdateWeight(r.ID, 0.05); err != nil {
		t.Fatal(err)
	}

	if snap[0].Weight != 0.50 {
		t.Errorf("snapshot mutated by later write: %.2f", snap[0].Weight)
	}

	// Mutating the snapshot must not leak into the catalog either
	snap[0].TriggerCondition = map[string]interface{}{"activity": "hacked"}
	got, _ := store.Get(r.ID)
	if got.TriggerCondition != nil {
		t.Error("snapshot mutation leaked into the catalog")
	}
}

func TestGetByEventID(t *testing.T) {
	store, _ := testStore(t)
	store.Create(&pkg.Rule{Name: "Dentist reminder", EventID: "ev-7", IsActive: true})

	r, ok := store.GetByEventID("ev-7")
	if !ok || r.Name != "Dentist reminder" {
		t.Errorf("event lookup failed: ok=%v r=%+v", ok, r)
	}
	if _, ok := store.GetByEventID("ev-missing"); ok {
		t.Error("expected miss for unknown event id")
	}
}

func TestLoadFromPersistence(t *testing.T) {
	fp := &fakePersistence{saved: []*pkg.Rule{
		{ID: 9, Name: "restored", Weight: 0.70, IsActive: true},
	}}
	store := NewStore(fp, logx.NewLogger("error", "rules"))
	if err := store.LoadFromPersistence(); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(9); err != nil {
		t.Fatalf("restored rule missing: %v", err)
	}

	// Fresh IDs continue past restored ones
	created, _ := store.Create(&pkg.Rule{Name: "new", IsActive: true})
	if created.ID != 10 {
		t.Errorf("expected id 10 after restore, got %d", created.ID)
	}
}
