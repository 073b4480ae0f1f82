package txn

import (
	"reflect"
	"strings"
	"testing"

	"github.com/metrowatch/genlog/internal/logbook"
)

func intp(i int) *int { return &i }

// applyRoundTrip applies batch then its inverse and returns the result.
func applyRoundTrip(ref logbook.DailyLog, batch logbook.Batch) logbook.DailyLog {
	inverse := Invert(batch, ref)
	working := ref.Clone()
	working.Apply(batch)
	working.Apply(inverse)
	return working
}

// TestInvertRoundTrip verifies apply(batch) followed by apply(invert(batch))
// restores the starting snapshot, across the interesting shapes.
func TestInvertRoundTrip(t *testing.T) {
	ref := logbook.DailyLog{
		"T101": {"4073+4081": {Sources: "<@alice>"}},
		"T121": {"555103": {Sources: "<@bob>", Notes: "n", Index: intp(1)}},
	}

	tests := []struct {
		name  string
		batch logbook.Batch
	}{
		{"add over absent key", logbook.Batch{
			logbook.Add("T105", "4090", logbook.Details{Sources: "<@carol>"}),
		}},
		{"add over existing key", logbook.Batch{
			logbook.Add("T101", "4073+4081", logbook.Details{Sources: "<@carol>", Withdrawn: true}),
		}},
		{"remove existing", logbook.Batch{
			logbook.Remove("T121", "555103"),
		}},
		{"remove absent", logbook.Batch{
			logbook.Remove("T199", "0000"),
		}},
		{"mixed replacement", logbook.Batch{
			logbook.Remove("T101", "4073+4081"),
			logbook.Add("T101", "4090", logbook.Details{Sources: "<@carol>", Index: intp(1)}),
		}},
		{"same key twice", logbook.Batch{
			logbook.Add("T101", "4073+4081", logbook.Details{Sources: "<@carol>"}),
			logbook.Remove("T101", "4073+4081"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyRoundTrip(ref, tt.batch)
			if !reflect.DeepEqual(got, ref) {
				t.Errorf("round trip diverged:\n got %+v\nwant %+v", got, ref)
			}
		})
	}
}

// TestInvertAbsentAddIsRemove pins the shape of the inverse itself, not just
// its effect: undoing an add over nothing must be a remove.
func TestInvertAbsentAddIsRemove(t *testing.T) {
	batch := logbook.Batch{logbook.Add("T105", "4090", logbook.Details{Sources: "<@carol>"})}
	inverse := Invert(batch, logbook.DailyLog{})

	if len(inverse) != 1 || inverse[0].Kind != logbook.TxRemove {
		t.Fatalf("inverse = %+v, want single remove", inverse)
	}
	if inverse[0].Service != "T105" || inverse[0].Units != "4090" {
		t.Errorf("inverse targets %s/%s", inverse[0].Service, inverse[0].Units)
	}
}

// TestInvertUsesReferenceOnly verifies the inverse of each step restores the
// reference state, even when an earlier step in the batch touched the key.
func TestInvertUsesReferenceOnly(t *testing.T) {
	ref := logbook.DailyLog{"T101": {"4073": {Sources: "<@alice>"}}}
	batch := logbook.Batch{
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@bob>"}),
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@carol>"}),
	}
	inverse := Invert(batch, ref)

	if len(inverse) != 2 {
		t.Fatalf("inverse has %d transactions, want 2", len(inverse))
	}
	for i, tx := range inverse {
		if tx.Kind != logbook.TxAdd || tx.Details.Sources != "<@alice>" {
			t.Errorf("inverse[%d] = %+v, want add restoring the reference details", i, tx)
		}
	}
}

func TestInvertReversesOrder(t *testing.T) {
	ref := logbook.DailyLog{
		"T101": {"4073": {Sources: "<@alice>"}},
		"T102": {"4081": {Sources: "<@bob>"}},
	}
	batch := logbook.Batch{
		logbook.Remove("T101", "4073"),
		logbook.Remove("T102", "4081"),
	}
	inverse := Invert(batch, ref)
	if inverse[0].Service != "T102" || inverse[1].Service != "T101" {
		t.Errorf("inverse order = %s, %s; want T102 first", inverse[0].Service, inverse[1].Service)
	}
}

func TestDescribe(t *testing.T) {
	ref := logbook.DailyLog{"T101": {"4073": {Sources: "<@alice>"}}}

	lines := Describe(logbook.Batch{
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@bob>"}),
		logbook.Add("T105", "4090", logbook.Details{Sources: "<@carol>"}),
		logbook.Remove("T199", "0000"),
	}, ref, DefaultPrefixes)

	want := []string{
		"🟥 T101 - 4073 (sources: <@alice>)",
		"🟩 T101 - 4073 (sources: <@bob>)",
		"🟩 T105 - 4090 (sources: <@carol>)",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("Describe =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}
