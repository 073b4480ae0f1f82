package txn

import (
	"strings"
	"testing"

	"github.com/metrowatch/genlog/internal/logbook"
)

func TestFormatEntry(t *testing.T) {
	got := FormatEntry("T101", "4073+4081", logbook.Details{Sources: "<@alice>"})
	want := "T101 - 4073+4081 (sources: <@alice>)"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}
}

func TestFormatDetails(t *testing.T) {
	got := FormatDetails(logbook.Details{
		Sources:   "<@alice>; <@bob>",
		Notes:     "ran late | twice",
		Index:     intp(2),
		Withdrawn: true,
	})
	want := `sources: <@alice>; <@bob> | notes: ran late \| twice | withdrawn | index: 2`
	if got != want {
		t.Errorf("FormatDetails = %q, want %q", got, want)
	}
}

func TestFormatDailyLogSingleEntry(t *testing.T) {
	log := logbook.DailyLog{
		"T101": {"4073+4081": {Sources: "<@alice>"}},
	}
	got := FormatDailyLog(log)
	if !strings.Contains(got, "T101 - ") || !strings.Contains(got, "4073+4081") {
		t.Errorf("rendered log missing entry: %q", got)
	}
	if !strings.Contains(got, "\n-# <@alice>") {
		t.Errorf("rendered log missing sources footer: %q", got)
	}
}

func TestFormatDailyLogSortsByService(t *testing.T) {
	log := logbook.DailyLog{
		"T121": {"555103": {Sources: "<@bob>"}},
		"T101": {"4073": {Sources: "<@alice>"}},
	}
	got := FormatDailyLog(log)
	if strings.Index(got, "T101") > strings.Index(got, "T121") {
		t.Errorf("services out of order: %q", got)
	}
}

// TestReplacementChain covers the "A then B now C" rendering: distinct
// indices with only the last entry still active.
func TestReplacementChain(t *testing.T) {
	log := logbook.DailyLog{
		"T101": {
			"4073": {Sources: "<@alice>", Index: intp(0), Withdrawn: true},
			"4081": {Sources: "<@bob>", Index: intp(1), Withdrawn: true},
			"4090": {Sources: "<@carol>", Index: intp(2)},
		},
	}
	got := FormatDailyLog(log)
	if !strings.Contains(got, "~~") {
		t.Errorf("withdrawn entries not struck through: %q", got)
	}
	if !strings.Contains(got, " then ") || !strings.Contains(got, " now ") {
		t.Errorf("replacement chain not rendered: %q", got)
	}
	// Order inside the chain follows the indices.
	if strings.Index(got, "4073") > strings.Index(got, "4081") ||
		strings.Index(got, "4081") > strings.Index(got, "4090") {
		t.Errorf("chain out of index order: %q", got)
	}
	if !strings.Contains(got, "-# <@alice>; <@bob>; <@carol>") {
		t.Errorf("sources footer wrong: %q", got)
	}
}

// TestReplacementChainAllWithdrawn renders every entry struck through,
// joined with "then" and no "now".
func TestReplacementChainAllWithdrawn(t *testing.T) {
	log := logbook.DailyLog{
		"T101": {
			"4073": {Sources: "<@alice>", Index: intp(0), Withdrawn: true},
			"4081": {Sources: "<@bob>", Index: intp(1), Withdrawn: true},
		},
	}
	got := FormatDailyLog(log)
	if !strings.Contains(got, " then ") || strings.Contains(got, " now ") {
		t.Errorf("all-withdrawn chain rendered wrong: %q", got)
	}
}

// TestRepeatedIndexFallsBack verifies duplicate indices suppress the chain
// and fall back to the semicolon join.
func TestRepeatedIndexFallsBack(t *testing.T) {
	log := logbook.DailyLog{
		"T101": {
			"4073": {Sources: "<@alice>", Withdrawn: true},
			"4081": {Sources: "<@bob>"},
		},
	}
	got := FormatDailyLog(log)
	if strings.Contains(got, " then ") || strings.Contains(got, " now ") {
		t.Errorf("chain rendered despite repeated indices: %q", got)
	}
	if !strings.Contains(got, "; ") {
		t.Errorf("semicolon join missing: %q", got)
	}
}

func TestNotesRenderedInline(t *testing.T) {
	log := logbook.DailyLog{
		"T101": {"4073": {Sources: "<@alice>", Notes: "short set"}},
	}
	got := FormatDailyLog(log)
	if !strings.Contains(got, "(short set)") {
		t.Errorf("notes not rendered: %q", got)
	}
}
