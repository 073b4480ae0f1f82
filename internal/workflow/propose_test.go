package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/metrowatch/genlog/internal/logbook"
)

func intp(n int) *int { return &n }

func TestProposeAddExactDuplicateRejected(t *testing.T) {
	w, applier, _ := newTestWorkflow()
	applier.log.Apply(logbook.Batch{addTx("T101", "4073", "<@1>")})

	resp, err := w.ProposeAdd(context.Background(), alice, addTx("T101", "4073", "<@1>"))
	if err != nil {
		t.Fatalf("ProposeAdd: %v", err)
	}
	if resp.Ephemeral == nil || !strings.Contains(resp.Ephemeral.Content, "already in the log") {
		t.Errorf("response = %+v", resp)
	}
	if len(applier.applied) != 0 {
		t.Error("duplicate proposal was applied")
	}
}

func TestProposeAddOffersUpdateOnDifferingDetails(t *testing.T) {
	w, applier, _ := newTestWorkflow()
	applier.log.Apply(logbook.Batch{
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@1>", Notes: "old"}),
	})

	tx := logbook.Add("T101", "4073", logbook.Details{Sources: "<@2>", Notes: "new"})
	resp, err := w.ProposeAdd(context.Background(), alice, tx)
	if err != nil {
		t.Fatalf("ProposeAdd: %v", err)
	}
	if resp.Ephemeral == nil {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(resp.Ephemeral.Content, "different sources and notes") {
		t.Errorf("content = %q", resp.Ephemeral.Content)
	}
	buttons := resp.Ephemeral.Buttons
	if len(buttons) != 1 || buttons[0].ID != ChoiceUpdate+":token-1" {
		t.Fatalf("buttons = %+v", buttons)
	}

	// Confirming the update applies the replacement.
	if _, err := w.HandleConfirmButton(context.Background(), alice, buttons[0].ID); err != nil {
		t.Fatalf("HandleConfirmButton: %v", err)
	}
	got, _ := applier.Get("T101", "4073")
	if got.Notes != "new" {
		t.Errorf("entry after update = %+v", got)
	}
}

func TestProposeAddIndexConflictChoices(t *testing.T) {
	w, applier, _ := newTestWorkflow()
	applier.log.Apply(logbook.Batch{
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@1>", Index: intp(0)}),
		logbook.Add("T101", "4081", logbook.Details{Sources: "<@1>", Index: intp(1)}),
	})

	tx := logbook.Add("T101", "4090", logbook.Details{Sources: "<@1>", Index: intp(1)})
	resp, err := w.ProposeAdd(context.Background(), alice, tx)
	if err != nil {
		t.Fatalf("ProposeAdd: %v", err)
	}
	if resp.Ephemeral == nil || len(resp.Ephemeral.Buttons) != 4 {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(resp.Ephemeral.Content, "index 1 (4081)") {
		t.Errorf("content = %q", resp.Ephemeral.Content)
	}

	press := func(t *testing.T, choice string) {
		t.Helper()
		if _, err := w.HandleConfirmButton(context.Background(), alice, choice+":token-1"); err != nil {
			t.Fatalf("HandleConfirmButton(%s): %v", choice, err)
		}
	}

	t.Run("keep duplicate index", func(t *testing.T) {
		press(t, ChoiceKeepIndex)
		got, _ := applier.Get("T101", "4090")
		if got.EffectiveIndex() != 1 {
			t.Errorf("index = %d, want 1", got.EffectiveIndex())
		}
		if _, ok := applier.Get("T101", "4081"); !ok {
			t.Error("conflicting sibling removed")
		}
	})

	// The token was consumed; offer again for each remaining choice.
	reoffer := func(t *testing.T) string {
		t.Helper()
		resp, err := w.ProposeAdd(context.Background(), alice, tx)
		if err != nil {
			t.Fatalf("ProposeAdd: %v", err)
		}
		id := resp.Ephemeral.Buttons[0].ID
		_, token, _ := strings.Cut(id, ":")
		return token
	}

	t.Run("replace conflicting entries", func(t *testing.T) {
		applier.log = logbook.DailyLog{}
		applier.log.Apply(logbook.Batch{
			logbook.Add("T101", "4081", logbook.Details{Sources: "<@1>", Index: intp(1)}),
		})
		token := reoffer(t)
		if _, err := w.HandleConfirmButton(context.Background(), alice, ChoiceReplaceConflicts+":"+token); err != nil {
			t.Fatalf("HandleConfirmButton: %v", err)
		}
		if _, ok := applier.Get("T101", "4081"); ok {
			t.Error("conflicting sibling not removed")
		}
		if _, ok := applier.Get("T101", "4090"); !ok {
			t.Error("proposal not applied")
		}
	})

	t.Run("use next free index", func(t *testing.T) {
		applier.log = logbook.DailyLog{}
		applier.log.Apply(logbook.Batch{
			logbook.Add("T101", "4081", logbook.Details{Sources: "<@1>", Index: intp(1)}),
		})
		token := reoffer(t)
		if _, err := w.HandleConfirmButton(context.Background(), alice, ChoiceNextIndex+":"+token); err != nil {
			t.Fatalf("HandleConfirmButton: %v", err)
		}
		got, _ := applier.Get("T101", "4090")
		if got.EffectiveIndex() != 2 {
			t.Errorf("index = %d, want 2", got.EffectiveIndex())
		}
		sibling, _ := applier.Get("T101", "4081")
		if sibling.Withdrawn {
			t.Error("sibling withdrawn without being asked")
		}
	})

	t.Run("use next free index and withdraw", func(t *testing.T) {
		applier.log = logbook.DailyLog{}
		applier.log.Apply(logbook.Batch{
			logbook.Add("T101", "4081", logbook.Details{Sources: "<@1>", Index: intp(1)}),
		})
		token := reoffer(t)
		if _, err := w.HandleConfirmButton(context.Background(), alice, ChoiceNextIndexWithdraw+":"+token); err != nil {
			t.Fatalf("HandleConfirmButton: %v", err)
		}
		got, _ := applier.Get("T101", "4090")
		if got.EffectiveIndex() != 2 {
			t.Errorf("index = %d, want 2", got.EffectiveIndex())
		}
		sibling, _ := applier.Get("T101", "4081")
		if !sibling.Withdrawn {
			t.Error("sibling not withdrawn")
		}
	})
}

func TestProposeAddCleanSubmits(t *testing.T) {
	w, applier, _ := newTestWorkflow()

	resp, err := w.ProposeAdd(context.Background(), alice, addTx("T101", "4073", "<@1>"))
	if err != nil {
		t.Fatalf("ProposeAdd: %v", err)
	}
	if _, ok := applier.Get("T101", "4073"); !ok {
		t.Error("clean proposal not applied")
	}
	if resp.Ephemeral == nil || !strings.Contains(resp.Ephemeral.Content, "added to the log") {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleConfirmButtonUnknownToken(t *testing.T) {
	w, _, _ := newTestWorkflow()

	resp, err := w.HandleConfirmButton(context.Background(), alice, ChoiceUpdate+":missing")
	if err != nil {
		t.Fatalf("HandleConfirmButton: %v", err)
	}
	if resp.Ephemeral == nil || resp.Ephemeral.Content != msgConfirmationGone {
		t.Errorf("response = %+v", resp)
	}
}

func TestRemoveAllocation(t *testing.T) {
	w, applier, _ := newTestWorkflow()
	applier.log.Apply(logbook.Batch{addTx("T101", "4073", "<@1>")})

	msg, err := w.RemoveAllocation(context.Background(), alice, "T101", "4073")
	if err != nil {
		t.Fatalf("RemoveAllocation: %v", err)
	}
	if _, ok := applier.Get("T101", "4073"); ok {
		t.Error("entry not removed")
	}
	if !strings.Contains(msg.Content, "added to the log") {
		t.Errorf("reply = %q", msg.Content)
	}
}

func TestRemoveAllocationAbsentKey(t *testing.T) {
	w, applier, _ := newTestWorkflow()

	msg, err := w.RemoveAllocation(context.Background(), alice, "T101", "4073")
	if err != nil {
		t.Fatalf("RemoveAllocation: %v", err)
	}
	if !strings.Contains(msg.Content, "not currently logged") {
		t.Errorf("reply = %q", msg.Content)
	}
	if len(applier.applied) != 0 {
		t.Error("absent removal touched the store")
	}
}

func TestRemoveAllocationUntrusted(t *testing.T) {
	w, _, _ := newTestWorkflow()

	msg, err := w.RemoveAllocation(context.Background(), bob, "T101", "4073")
	if err != nil {
		t.Fatalf("RemoveAllocation: %v", err)
	}
	if !strings.Contains(msg.Content, "Only contributors") {
		t.Errorf("reply = %q", msg.Content)
	}
}
