package txn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/normalize"
)

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// FormatDetails renders details as "sources: ... | notes: ... | withdrawn | index: N",
// omitting absent parts.
func FormatDetails(d logbook.Details) string {
	parts := []string{"sources: " + escapePipes(d.Sources)}
	if d.Notes != "" {
		parts = append(parts, "notes: "+escapePipes(d.Notes))
	}
	if d.Withdrawn {
		parts = append(parts, "withdrawn")
	}
	if d.Index != nil {
		parts = append(parts, fmt.Sprintf("index: %d", *d.Index))
	}
	return strings.Join(parts, " | ")
}

// FormatEntry renders one allocation as "T101 - 4073+4081 (sources: @alice)".
func FormatEntry(service, units string, d logbook.Details) string {
	return fmt.Sprintf("%s - %s (%s)", service, units, FormatDetails(d))
}

// FormatDailyLog renders the whole snapshot as display text, sorted by
// service id, each service's unit-sets ordered by index (absent = 0).
//
// When a service has two or more unit-sets with pairwise-distinct indices and
// either all of them are withdrawn, or all but the highest-index one are, the
// sequence reads as a replacement chain ("A then B then C" / "A then B now C")
// instead of the default semicolon join.
func FormatDailyLog(log logbook.DailyLog) string {
	services := make([]string, 0, len(log))
	for service := range log {
		services = append(services, service)
	}
	sort.Strings(services)

	lines := make([]string, 0, len(services))
	for _, service := range services {
		lines = append(lines, formatServiceLine(service, log[service]))
	}
	return strings.Join(lines, "\n")
}

type unitSetEntry struct {
	units   string
	details logbook.Details
}

func formatServiceLine(service string, sets map[string]logbook.Details) string {
	entries := make([]unitSetEntry, 0, len(sets))
	for units, d := range sets {
		entries = append(entries, unitSetEntry{units: units, details: d})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].details.EffectiveIndex(), entries[j].details.EffectiveIndex()
		if a != b {
			return a < b
		}
		return entries[i].units < entries[j].units
	})

	descriptions := make([]string, len(entries))
	sources := make([]string, len(entries))
	for i, e := range entries {
		desc := normalize.UnitSetDisplay(e.units)
		if e.details.Withdrawn {
			desc = "~~" + desc + "~~"
		}
		if e.details.Notes != "" {
			desc += " (" + e.details.Notes + ")"
		}
		descriptions[i] = desc
		sources[i] = e.details.Sources
	}

	description := strings.Join(descriptions, "; ")
	if len(entries) > 1 && indicesDistinct(entries) {
		firstActive := -1
		for i, e := range entries {
			if !e.details.Withdrawn {
				firstActive = i
				break
			}
		}
		switch firstActive {
		case -1:
			// Every allocation withdrawn: each replaced the previous.
			description = strings.Join(descriptions, " then ")
		case len(entries) - 1:
			// Only the final allocation survives.
			description = strings.Join(descriptions[:len(descriptions)-1], " then ") +
				" now " + descriptions[len(descriptions)-1]
		}
	}

	return service + " - " + description + "\n-# " + strings.Join(sources, "; ")
}

func indicesDistinct(entries []unitSetEntry) bool {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		idx := e.details.EffectiveIndex()
		if seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
