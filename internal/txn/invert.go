// Package txn computes inverses and human-readable descriptions of
// transaction batches, and renders the full log as text.
package txn

import "github.com/metrowatch/genlog/internal/logbook"

// Invert returns the batch that undoes batch when applied after it, given the
// snapshot the batch was (or will be) applied against. The batch is processed
// in reverse order so that a batch touching the same key twice inverts
// step-by-step: each inverse reconstructs the state immediately before its
// step, not the batch's net effect.
//
// An add over a key absent from the reference inverts to a remove; anything
// else inverts to an add restoring the reference details. Restoring
// "not present" is itself a remove.
func Invert(batch logbook.Batch, ref logbook.DailyLog) logbook.Batch {
	inverse := make(logbook.Batch, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		tx := batch[i]
		prior, existed := ref.Lookup(tx.Service, tx.Units)
		if existed {
			inverse = append(inverse, logbook.Add(tx.Service, tx.Units, prior))
		} else {
			inverse = append(inverse, logbook.Remove(tx.Service, tx.Units))
		}
	}
	return inverse
}

// Prefixes decorate the two sides of a batch description.
type Prefixes struct {
	Add    string
	Remove string
}

// DefaultPrefixes are the markers used in approval prompts and confirmations.
var DefaultPrefixes = Prefixes{Add: "🟩 ", Remove: "🟥 "}

// Describe renders a full removed/added diff of the batch against the
// reference snapshot: a removed line for every key that existed, plus an
// added line for every add.
func Describe(batch logbook.Batch, ref logbook.DailyLog, prefixes Prefixes) []string {
	var lines []string
	for _, tx := range batch {
		if existing, ok := ref.Lookup(tx.Service, tx.Units); ok {
			lines = append(lines, prefixes.Remove+FormatEntry(tx.Service, tx.Units, existing))
		}
		if tx.Kind == logbook.TxAdd {
			lines = append(lines, prefixes.Add+FormatEntry(tx.Service, tx.Units, tx.Details))
		}
	}
	return lines
}
