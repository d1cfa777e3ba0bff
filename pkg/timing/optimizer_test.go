package timing

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

var defaultLeads = []int{10, 15, 30, 60}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "timing.db"), logx.NewLogger("error", "timing"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUnseenSlotHasUniformPrior(t *testing.T) {
	store := openTestStore(t)

	slot, err := store.Slot("podcast", "traveling_morning_weekday_commute", 15)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Alpha != 1 || slot.Beta != 1 || slot.TotalTriggers != 0 {
		t.Errorf("expected uniform prior, got %+v", slot)
	}
	if slot.Confidence() != 0.5 {
		t.Errorf("prior confidence should be 0.5, got %.3f", slot.Confidence())
	}

	wantUnc := 1.0 / math.Sqrt(2)
	if math.Abs(slot.Uncertainty()-wantUnc) > 1e-9 {
		t.Errorf("prior uncertainty should be %.4f, got %.4f", wantUnc, slot.Uncertainty())
	}
}

func TestEvaluateAllLeads(t *testing.T) {
	store := openTestStore(t)

	options, err := store.Evaluate("podcast", "traveling_morning_weekday_commute", defaultLeads)
	if err != nil {
		t.Fatal(err)
	}
	if len(options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(options))
	}
	for i, opt := range options {
		if opt.LeadMinutes != defaultLeads[i] {
			t.Errorf("option %d: expected lead %d, got %d", i, defaultLeads[i], opt.LeadMinutes)
		}
		wantUCB := 0.5 + 0.5/math.Sqrt(2)
		if math.Abs(opt.UCB-wantUCB) > 1e-9 {
			t.Errorf("fresh slot UCB should be %.4f, got %.4f", wantUCB, opt.UCB)
		}
	}
}

func TestSelectBestPrefersShorterLeadOnTie(t *testing.T) {
	best := SelectBest([]pkg.TimingOption{
		{LeadMinutes: 60, UCB: 0.85},
		{LeadMinutes: 10, UCB: 0.85},
		{LeadMinutes: 30, UCB: 0.80},
	})
	if best.LeadMinutes != 10 {
		t.Errorf("expected tie break to lead 10, got %d", best.LeadMinutes)
	}
}

func TestRecordOutcomeMovesConfidence(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.RecordOutcome("podcast", "ctx", 15, true); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.RecordOutcome("podcast", "ctx", 15, false); err != nil {
		t.Fatal(err)
	}

	slot, err := store.Slot("podcast", "ctx", 15)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Alpha != 6 || slot.Beta != 2 {
		t.Errorf("expected alpha=6 beta=2, got %+v", slot)
	}
	if slot.TotalTriggers != 6 {
		t.Errorf("expected 6 triggers, got %d", slot.TotalTriggers)
	}
	if got := slot.Confidence(); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected confidence 0.75, got %.3f", got)
	}
}

func TestTriggerCountTracksObservations(t *testing.T) {
	store := openTestStore(t)

	outcomes := []bool{true, false, true, true, false}
	for _, accepted := range outcomes {
		if _, err := store.RecordOutcome("gym", "ctx", 30, accepted); err != nil {
			t.Fatal(err)
		}
	}

	slot, _ := store.Slot("gym", "ctx", 30)
	if float64(slot.TotalTriggers) != slot.Alpha+slot.Beta-2 {
		t.Errorf("trigger count drifted: triggers=%d alpha=%.0f beta=%.0f",
			slot.TotalTriggers, slot.Alpha, slot.Beta)
	}
}

func TestRevertOutcome(t *testing.T) {
	store := openTestStore(t)

	store.RecordOutcome("podcast", "ctx", 15, true)
	store.RecordOutcome("podcast", "ctx", 15, true)
	if err := store.RevertOutcome("podcast", "ctx", 15, true); err != nil {
		t.Fatal(err)
	}

	slot, _ := store.Slot("podcast", "ctx", 15)
	if slot.Alpha != 2 || slot.Beta != 1 || slot.TotalTriggers != 1 {
		t.Errorf("revert did not restore slot: %+v", slot)
	}

	// Reverting below the prior must not happen
	store.RevertOutcome("podcast", "ctx", 15, true)
	store.RevertOutcome("podcast", "ctx", 15, true)
	slot, _ = store.Slot("podcast", "ctx", 15)
	if slot.Alpha < 1 || slot.Beta < 1 || slot.TotalTriggers < 0 {
		t.Errorf("revert broke the prior floor: %+v", slot)
	}
}

func TestSlotsIsolatedByKey(t *testing.T) {
	store := openTestStore(t)

	store.RecordOutcome("podcast", "ctx_a", 15, true)

	other, _ := store.Slot("podcast", "ctx_b", 15)
	if other.Alpha != 1 || other.Beta != 1 {
		t.Errorf("update leaked across context keys: %+v", other)
	}
	otherLead, _ := store.Slot("podcast", "ctx_a", 30)
	if otherLead.Alpha != 1 {
		t.Errorf("update leaked across leads: %+v", otherLead)
	}
}

func TestSlotCount(t *testing.T) {
	store := openTestStore(t)

	// Evaluation alone must not materialize slots
	store.Evaluate("podcast", "ctx", defaultLeads)
	if n, _ := store.SlotCount(); n != 0 {
		t.Errorf("evaluate materialized %d slots", n)
	}

	store.RecordOutcome("podcast", "ctx", 15, true)
	store.RecordOutcome("podcast", "ctx", 30, false)
	if n, _ := store.SlotCount(); n != 2 {
		t.Errorf("expected 2 slots, got %d", n)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timing.db")
	logger := logx.NewLogger("error", "timing")

	store, err := Open(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	store.RecordOutcome("podcast", "ctx", 15, true)
	store.Close()

	reopened, err := Open(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	slot, _ := reopened.Slot("podcast", "ctx", 15)
	if slot.Alpha != 2 {
		t.Errorf("slot lost across reopen: %+v", slot)
	}
}
