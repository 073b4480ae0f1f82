package logbook

import "testing"

func intp(i int) *int { return &i }

func TestApplyAddIdempotent(t *testing.T) {
	log := DailyLog{}
	tx := Add("T101", "4073+4081", Details{Sources: "<@alice>"})
	log.Apply(Batch{tx})
	log.Apply(Batch{tx})

	if len(log["T101"]) != 1 {
		t.Fatalf("expected one unit set, got %d", len(log["T101"]))
	}
	d, ok := log.Lookup("T101", "4073+4081")
	if !ok || d.Sources != "<@alice>" {
		t.Fatalf("Lookup = %+v, %v", d, ok)
	}
}

func TestApplyRemoveAbsentIsNoop(t *testing.T) {
	log := DailyLog{"T101": {"4073": {Sources: "<@alice>"}}}
	log.Apply(Batch{Remove("T102", "4081"), Remove("T101", "9999")})

	if len(log) != 1 || len(log["T101"]) != 1 {
		t.Fatalf("log changed by no-op removes: %+v", log)
	}
}

// TestApplyRemoveLastUnitSet verifies removing a service's only unit set
// removes the service key entirely, so renderers never see empty services.
func TestApplyRemoveLastUnitSet(t *testing.T) {
	log := DailyLog{"T101": {"4073": {Sources: "<@alice>"}}}
	log.Apply(Batch{Remove("T101", "4073")})

	if _, ok := log["T101"]; ok {
		t.Fatalf("service key survived removal of its last unit set: %+v", log)
	}
}

func TestApplyLaterTransactionWins(t *testing.T) {
	log := DailyLog{}
	log.Apply(Batch{
		Add("T101", "4073", Details{Sources: "<@alice>"}),
		Add("T101", "4073", Details{Sources: "<@bob>"}),
	})
	d, _ := log.Lookup("T101", "4073")
	if d.Sources != "<@bob>" {
		t.Errorf("Sources = %q, want later transaction to win", d.Sources)
	}

	log.Apply(Batch{
		Remove("T101", "4073"),
		Add("T101", "4073", Details{Sources: "<@carol>"}),
	})
	if d, ok := log.Lookup("T101", "4073"); !ok || d.Sources != "<@carol>" {
		t.Errorf("Lookup after remove-then-add = %+v, %v", d, ok)
	}
}

func TestCloneIsolation(t *testing.T) {
	log := DailyLog{"T101": {"4073": {Sources: "<@alice>", Index: intp(1)}}}
	clone := log.Clone()

	*clone["T101"]["4073"].Index = 99
	clone.Apply(Batch{Add("T101", "4073", Details{Sources: "<@bob>"})})

	d, _ := log.Lookup("T101", "4073")
	if d.Sources != "<@alice>" || *d.Index != 1 {
		t.Errorf("original mutated through clone: %+v", d)
	}
}

func TestDetailsEqual(t *testing.T) {
	base := Details{Sources: "<@alice>", Notes: "n", Index: intp(1)}
	if !base.Equal(Details{Sources: "<@alice>", Notes: "n", Index: intp(1)}) {
		t.Error("identical details not equal")
	}
	for _, other := range []Details{
		{Sources: "<@bob>", Notes: "n", Index: intp(1)},
		{Sources: "<@alice>", Notes: "m", Index: intp(1)},
		{Sources: "<@alice>", Notes: "n", Index: intp(2)},
		{Sources: "<@alice>", Notes: "n"},
		{Sources: "<@alice>", Notes: "n", Index: intp(1), Withdrawn: true},
	} {
		if base.Equal(other) {
			t.Errorf("Equal(%+v) = true, want false", other)
		}
	}
}

func TestEffectiveIndex(t *testing.T) {
	if (Details{}).EffectiveIndex() != 0 {
		t.Error("absent index should default to 0")
	}
	if (Details{Index: intp(3)}).EffectiveIndex() != 3 {
		t.Error("explicit index not returned")
	}
}
