package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/txn"
)

// Choice ids for the conflict confirmation sub-flows. Button ids on the
// offered reply are "<choice>:<token>".
const (
	ChoiceUpdate            = "confirm-update"
	ChoiceKeepIndex         = "keep-index"
	ChoiceReplaceConflicts  = "replace-conflicts"
	ChoiceNextIndex         = "next-index"
	ChoiceNextIndexWithdraw = "next-index-withdraw"
)

// ProposeAdd runs the pre-submission checks on a manually authored add. An
// exact duplicate is rejected; a same-key entry with different details or a
// same-index sibling produces a confirmation offer whose buttons each carry a
// deterministically constructed batch. A clean proposal submits immediately.
func (w *Workflow) ProposeAdd(ctx context.Context, user chat.User, tx logbook.Transaction) (chat.Response, error) {
	if existing, ok := w.applier.Get(tx.Service, tx.Units); ok {
		if existing.Equal(tx.Details) {
			return chat.Response{Ephemeral: chat.Text("❌ This entry is already in the log.")}, nil
		}
		return w.offerUpdate(user, tx, existing), nil
	}

	if conflicts := w.indexConflicts(tx); len(conflicts) > 0 {
		return w.offerIndexChoices(user, tx, conflicts), nil
	}

	msg, err := w.Submit(ctx, Submission{User: user, Batch: logbook.Batch{tx}})
	if err != nil {
		return chat.Response{}, err
	}
	return chat.Response{Ephemeral: msg}, nil
}

// indexConflicts returns the sibling unit-sets under the same service id that
// share the proposal's effective index, sorted for determinism.
func (w *Workflow) indexConflicts(tx logbook.Transaction) []string {
	snapshot := w.applier.Snapshot()
	var conflicts []string
	for units, d := range snapshot[tx.Service] {
		if units != tx.Units && d.EffectiveIndex() == tx.Details.EffectiveIndex() {
			conflicts = append(conflicts, units)
		}
	}
	sort.Strings(conflicts)
	return conflicts
}

// offerUpdate builds the duplicate-key confirmation: same key, different
// details, update on confirm.
func (w *Workflow) offerUpdate(user chat.User, tx logbook.Transaction, existing logbook.Details) chat.Response {
	token := w.newID()
	w.confirmations[token] = &confirmation{
		user:    user,
		batches: map[string]logbook.Batch{ChoiceUpdate: {tx}},
	}
	return chat.Response{Ephemeral: &chat.Message{
		Content: fmt.Sprintf("⚠️ An entry is already logged for this key, with different %s. Do you want to update it?",
			differingFields(existing, tx.Details)),
		Embeds: []chat.Embed{{
			Title:       fmt.Sprintf("Existing entry for %s", tx.Service),
			Description: txn.FormatEntry(tx.Service, tx.Units, existing),
		}},
		Buttons: []chat.Button{{
			ID:    ChoiceUpdate + ":" + token,
			Label: "Update",
			Emoji: "✏️",
			Style: chat.ButtonPrimary,
		}},
	}}
}

func differingFields(a, b logbook.Details) string {
	var fields []string
	if a.Sources != b.Sources {
		fields = append(fields, "sources")
	}
	if a.Notes != b.Notes {
		fields = append(fields, "notes")
	}
	if a.Withdrawn != b.Withdrawn {
		fields = append(fields, "withdrawn flag")
	}
	if a.EffectiveIndex() != b.EffectiveIndex() {
		fields = append(fields, "index")
	}
	switch len(fields) {
	case 0:
		return "details"
	case 1:
		return fields[0]
	default:
		return strings.Join(fields[:len(fields)-1], ", ") + " and " + fields[len(fields)-1]
	}
}

// offerIndexChoices builds the duplicate-index confirmation: another unit-set
// under the same service already uses the proposal's index, so ordering would
// be ambiguous. Each choice maps to a different batch built from the same
// proposed transaction.
func (w *Workflow) offerIndexChoices(user chat.User, tx logbook.Transaction, conflicts []string) chat.Response {
	snapshot := w.applier.Snapshot()

	next := 0
	for _, d := range snapshot[tx.Service] {
		if idx := d.EffectiveIndex(); idx >= next {
			next = idx + 1
		}
	}
	reindexed := tx
	nextIdx := next
	reindexed.Details.Index = &nextIdx

	retract := make(logbook.Batch, 0, len(conflicts)+1)
	withdraw := make(logbook.Batch, 0, len(conflicts)+1)
	for _, units := range conflicts {
		retract = append(retract, logbook.Remove(tx.Service, units))
		d := snapshot[tx.Service][units]
		d.Withdrawn = true
		withdraw = append(withdraw, logbook.Add(tx.Service, units, d))
	}
	retract = append(retract, tx)
	withdraw = append(withdraw, reindexed)

	token := w.newID()
	w.confirmations[token] = &confirmation{
		user: user,
		batches: map[string]logbook.Batch{
			ChoiceKeepIndex:         {tx},
			ChoiceReplaceConflicts:  retract,
			ChoiceNextIndex:         {reindexed},
			ChoiceNextIndexWithdraw: withdraw,
		},
	}
	return chat.Response{Ephemeral: &chat.Message{
		Content: fmt.Sprintf(
			"⚠️ %s already has an entry with index %d (%s), so the ordering would be ambiguous. How do you want to log this?",
			tx.Service, tx.Details.EffectiveIndex(), strings.Join(conflicts, ", ")),
		Buttons: []chat.Button{
			{ID: ChoiceKeepIndex + ":" + token, Label: "Keep duplicate index", Style: chat.ButtonSecondary},
			{ID: ChoiceReplaceConflicts + ":" + token, Label: "Replace existing entries", Emoji: "🟥", Style: chat.ButtonDanger},
			{ID: ChoiceNextIndex + ":" + token, Label: fmt.Sprintf("Use index %d", nextIdx), Style: chat.ButtonPrimary},
			{ID: ChoiceNextIndexWithdraw + ":" + token, Label: fmt.Sprintf("Use index %d and withdraw existing", nextIdx), Style: chat.ButtonPrimary},
		},
	}}
}

// HandleConfirmButton resolves a confirmation choice ("<choice>:<token>") by
// submitting the batch that choice was offered with.
func (w *Workflow) HandleConfirmButton(ctx context.Context, user chat.User, buttonID string) (chat.Response, error) {
	choice, token, ok := strings.Cut(buttonID, ":")
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgConfirmationGone)}, nil
	}
	conf, ok := w.confirmations[token]
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgConfirmationGone)}, nil
	}
	batch, ok := conf.batches[choice]
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgConfirmationGone)}, nil
	}
	delete(w.confirmations, token)

	msg, err := w.Submit(ctx, Submission{User: conf.user, Batch: batch})
	if err != nil {
		return chat.Response{}, err
	}
	return chat.Response{Update: msg}, nil
}

// RemoveAllocation handles the trusted-only removal command. Removing an
// absent key is reported without touching the store or the display.
func (w *Workflow) RemoveAllocation(ctx context.Context, user chat.User, service, units string) (*chat.Message, error) {
	trusted, err := w.roles.IsTrusted(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("checking contributor role: %w", err)
	}
	if !trusted {
		return chat.Text("❌ Only contributors can remove entries from the log."), nil
	}
	if _, ok := w.applier.Get(service, units); !ok {
		return chat.Text(fmt.Sprintf("❌ %q - %q is not currently logged for today.", service, units)), nil
	}
	return w.applyDirect(ctx, Submission{User: user, Batch: logbook.Batch{logbook.Remove(service, units)}})
}
