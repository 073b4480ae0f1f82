// Package workflow turns proposed transaction batches into applied ones:
// immediately for trusted submitters, via a reviewable approval prompt for
// everyone else, with undo support for anything applied.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/render"
	"github.com/metrowatch/genlog/internal/txn"
)

// Applier applies batches against the log and refreshes the public display.
// Implemented by the service coordinator; every mutation goes through it.
type Applier interface {
	Apply(ctx context.Context, batch logbook.Batch) error
	Snapshot() logbook.DailyLog
	Get(service, units string) (logbook.Details, bool)
}

// Submission is a proposed batch awaiting application or review.
type Submission struct {
	User    chat.User
	Batch   logbook.Batch
	Summary string // reviewer-facing summary for AI-originated batches
}

// executed records an already-applied batch and its precomputed inverse.
type executed struct {
	user    chat.User
	batch   logbook.Batch
	inverse logbook.Batch
}

// confirmation is an offered set of alternative batches awaiting the
// submitter's choice (duplicate-key and duplicate-index sub-flows).
type confirmation struct {
	user    chat.User
	batches map[string]logbook.Batch // keyed by choice id
}

const (
	msgNotContributor     = "❌ Only contributors can log trains right now."
	msgNoPermission       = "❌ You do not have permission to manage submissions."
	msgSubmissionGone     = "❌ This submission no longer exists."
	msgConfirmationGone   = "❌ Your submission has expired. Please try again."
	msgAwaitingApproval   = "📋 Your submission has been sent to the contributor team for approval."
	msgApplyFailed        = "❌ Saving the change failed. Nothing was applied; please try again."
	approvalEmbedColor    = 0xff9900
	approvedEmbedColor    = 0x00ff00
	deniedEmbedColor      = 0xff0000
)

// Workflow owns the pending-approval, executed-submission, and pending-
// confirmation tables. Not safe for concurrent use; the service layer
// serializes all access.
type Workflow struct {
	applier  Applier
	roles    chat.RoleChecker
	approval chat.Channel // nil when no approval channel is configured
	feed     *render.Feed
	newID    func() string

	pending       map[chat.MessageRef]*Submission
	executedByKey map[string]*executed // prompt ref or direct-undo token
	confirmations map[string]*confirmation
}

// New creates a Workflow. approval may be nil; untrusted submissions are then
// rejected outright.
func New(applier Applier, roles chat.RoleChecker, approval chat.Channel, feed *render.Feed) *Workflow {
	return &Workflow{
		applier:       applier,
		roles:         roles,
		approval:      approval,
		feed:          feed,
		newID:         uuid.NewString,
		pending:       make(map[chat.MessageRef]*Submission),
		executedByKey: make(map[string]*executed),
		confirmations: make(map[string]*confirmation),
	}
}

// DayReset drops all in-flight state at the period rollover.
func (w *Workflow) DayReset() {
	w.pending = make(map[chat.MessageRef]*Submission)
	w.executedByKey = make(map[string]*executed)
	w.confirmations = make(map[string]*confirmation)
}

// Submit routes a proposed batch: trusted submitters apply immediately and
// get an undo affordance; others get an approval prompt posted for review.
func (w *Workflow) Submit(ctx context.Context, sub Submission) (*chat.Message, error) {
	trusted, err := w.roles.IsTrusted(ctx, sub.User.ID)
	if err != nil {
		return nil, fmt.Errorf("checking contributor role: %w", err)
	}

	if trusted {
		return w.applyDirect(ctx, sub)
	}

	if w.approval == nil {
		return chat.Text(msgNotContributor), nil
	}

	diff := txn.Describe(sub.Batch, w.applier.Snapshot(), txn.DefaultPrefixes)
	embed := chat.Embed{
		Title:       "Log submission",
		Color:       approvalEmbedColor,
		Description: strings.Join(diff, "\n"),
		Fields:      []chat.EmbedField{{Name: "Submitted by", Value: sub.User.Mention()}},
	}
	if sub.Summary != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "AI summary", Value: sub.Summary})
	}
	ref, err := w.approval.Send(ctx, chat.Message{
		Embeds:  []chat.Embed{embed},
		Buttons: approvalButtons(false, false),
	})
	if err != nil {
		return nil, fmt.Errorf("posting approval prompt: %w", err)
	}
	subCopy := sub
	w.pending[ref] = &subCopy
	slog.Info("submission awaiting approval", "prompt", ref, "user", sub.User.ID)
	return chat.Text(msgAwaitingApproval), nil
}

// applyDirect applies the batch for a trusted submitter and returns the
// confirmation message carrying an undo button.
func (w *Workflow) applyDirect(ctx context.Context, sub Submission) (*chat.Message, error) {
	snapshot := w.applier.Snapshot()
	inverse := txn.Invert(sub.Batch, snapshot)
	if err := w.applier.Apply(ctx, sub.Batch); err != nil {
		slog.Error("direct apply failed", "user", sub.User.ID, "error", err)
		return chat.Text(msgApplyFailed), nil
	}
	token := w.newID()
	w.executedByKey[token] = &executed{user: sub.User, batch: sub.Batch, inverse: inverse}

	diff := txn.Describe(sub.Batch, snapshot, txn.DefaultPrefixes)
	w.feed.Post(ctx, fmt.Sprintf("Applied by %s", sub.User.Mention()), chat.Embed{
		Description: strings.Join(diff, "\n"),
	})
	slog.Info("batch applied directly", "user", sub.User.ID, "transactions", len(sub.Batch))
	return &chat.Message{
		Content: "✅ Your changes have been added to the log.\n" + strings.Join(diff, "\n"),
		Buttons: []chat.Button{{
			ID:    "undo-direct:" + token,
			Label: "Undo",
			Emoji: "↩️",
			Style: chat.ButtonDanger,
		}},
	}, nil
}

func approvalButtons(approved, denied bool) []chat.Button {
	if approved {
		return []chat.Button{
			{ID: "approve", Label: "Approved", Emoji: "✅", Style: chat.ButtonSuccess, Disabled: true},
			{ID: "undo", Label: "Undo", Emoji: "↩️", Style: chat.ButtonDanger},
		}
	}
	if denied {
		return []chat.Button{
			{ID: "approve", Label: "Approve", Emoji: "✅", Style: chat.ButtonSuccess, Disabled: true},
			{ID: "deny", Label: "Denied", Emoji: "❌", Style: chat.ButtonDanger, Disabled: true},
		}
	}
	return []chat.Button{
		{ID: "approve", Label: "Approve", Emoji: "✅", Style: chat.ButtonSuccess},
		{ID: "deny", Label: "Deny", Emoji: "❌", Style: chat.ButtonDanger},
	}
}

// promptEmbed rebuilds the approval prompt embed in a terminal state.
func promptEmbed(title string, color int, actor chat.User, sub *Submission, diff []string) chat.Embed {
	embed := chat.Embed{
		Title:       title,
		Color:       color,
		Description: strings.Join(diff, "\n"),
		Fields: []chat.EmbedField{
			{Name: "Submitted by", Value: sub.User.Mention()},
			{Name: "Decided by", Value: actor.Mention()},
		},
	}
	if sub.Summary != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "AI summary", Value: sub.Summary})
	}
	return embed
}

// HandlePromptButton processes approve/deny/undo presses on an approval
// prompt, and undo presses on a direct-apply confirmation
// ("undo-direct:<token>").
func (w *Workflow) HandlePromptButton(ctx context.Context, user chat.User, ref chat.MessageRef, buttonID string) (chat.Response, error) {
	if token, ok := strings.CutPrefix(buttonID, "undo-direct:"); ok {
		return w.undo(ctx, user, token, nil)
	}

	switch buttonID {
	case "approve":
		return w.approve(ctx, user, ref)
	case "deny":
		return w.deny(ctx, user, ref)
	case "undo":
		return w.undo(ctx, user, string(ref), &ref)
	default:
		return chat.Response{Ephemeral: chat.Text(msgSubmissionGone)}, nil
	}
}

// requireTrusted gates reviewer actions. ok is false when the caller should
// return resp/err as-is.
func (w *Workflow) requireTrusted(ctx context.Context, user chat.User) (chat.Response, bool, error) {
	trusted, err := w.roles.IsTrusted(ctx, user.ID)
	if err != nil {
		return chat.Response{}, false, fmt.Errorf("checking contributor role: %w", err)
	}
	if !trusted {
		return chat.Response{Ephemeral: chat.Text(msgNoPermission)}, false, nil
	}
	return chat.Response{}, true, nil
}

// approve re-derives the diff and inverse against the current snapshot (state
// may have moved while pending), applies, and records the executed submission
// keyed by the prompt handle. On apply failure the prompt stays actionable.
func (w *Workflow) approve(ctx context.Context, reviewer chat.User, ref chat.MessageRef) (chat.Response, error) {
	if resp, ok, err := w.requireTrusted(ctx, reviewer); !ok {
		return resp, err
	}
	sub, ok := w.pending[ref]
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgSubmissionGone)}, nil
	}

	snapshot := w.applier.Snapshot()
	inverse := txn.Invert(sub.Batch, snapshot)
	diff := txn.Describe(sub.Batch, snapshot, txn.DefaultPrefixes)
	if err := w.applier.Apply(ctx, sub.Batch); err != nil {
		slog.Error("approve apply failed", "prompt", ref, "error", err)
		return chat.Response{Ephemeral: chat.Text(msgApplyFailed)}, nil
	}

	delete(w.pending, ref)
	w.executedByKey[string(ref)] = &executed{user: sub.User, batch: sub.Batch, inverse: inverse}

	w.feed.Post(ctx, fmt.Sprintf("Approved by %s (submitted by %s)", reviewer.Mention(), sub.User.Mention()), chat.Embed{
		Description: strings.Join(diff, "\n"),
	})
	slog.Info("submission approved", "prompt", ref, "reviewer", reviewer.ID)
	return chat.Response{Update: &chat.Message{
		Embeds:  []chat.Embed{promptEmbed("Log submission approved", approvedEmbedColor, reviewer, sub, diff)},
		Buttons: approvalButtons(true, false),
	}}, nil
}

// deny consumes the pending record without touching the log.
func (w *Workflow) deny(ctx context.Context, reviewer chat.User, ref chat.MessageRef) (chat.Response, error) {
	if resp, ok, err := w.requireTrusted(ctx, reviewer); !ok {
		return resp, err
	}
	sub, ok := w.pending[ref]
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgSubmissionGone)}, nil
	}
	delete(w.pending, ref)

	diff := txn.Describe(sub.Batch, w.applier.Snapshot(), txn.DefaultPrefixes)
	w.feed.Post(ctx, fmt.Sprintf("Denied by %s (submitted by %s)", reviewer.Mention(), sub.User.Mention()))
	slog.Info("submission denied", "prompt", ref, "reviewer", reviewer.ID)
	return chat.Response{Update: &chat.Message{
		Embeds:  []chat.Embed{promptEmbed("Log submission denied", deniedEmbedColor, reviewer, sub, diff)},
		Buttons: approvalButtons(false, true),
	}}, nil
}

// undo replays the stored inverse and retires the executed record. When the
// undo originated from an approval prompt, the prompt is updated to an
// irreversible state.
func (w *Workflow) undo(ctx context.Context, user chat.User, key string, promptRef *chat.MessageRef) (chat.Response, error) {
	if resp, ok, err := w.requireTrusted(ctx, user); !ok {
		return resp, err
	}

	exec, ok := w.executedByKey[key]
	if !ok {
		return chat.Response{Ephemeral: chat.Text(msgSubmissionGone)}, nil
	}
	if err := w.applier.Apply(ctx, exec.inverse); err != nil {
		slog.Error("undo apply failed", "key", key, "error", err)
		return chat.Response{Ephemeral: chat.Text(msgApplyFailed)}, nil
	}
	delete(w.executedByKey, key)

	w.feed.Post(ctx, fmt.Sprintf("Undone by %s (originally by %s)", user.Mention(), exec.user.Mention()))
	slog.Info("submission undone", "key", key, "user", user.ID)

	if promptRef != nil {
		return chat.Response{Update: &chat.Message{
			Embeds: []chat.Embed{{
				Title:       "Log submission undone",
				Color:       deniedEmbedColor,
				Description: fmt.Sprintf("Undone by %s", user.Mention()),
			}},
			Buttons: []chat.Button{
				{ID: "undo", Label: "Undone", Emoji: "↩️", Style: chat.ButtonDanger, Disabled: true},
			},
		}}, nil
	}
	return chat.Response{Update: chat.Text("↩️ Your changes have been undone.")}, nil
}
