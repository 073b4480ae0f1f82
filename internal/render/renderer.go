// Package render keeps the public log display synchronized with the store's
// snapshot, reflowing between single-message and multi-message layouts and
// overflowing oversized sections into file attachments.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/normalize"
	"github.com/metrowatch/genlog/internal/txn"
)

// CharacterLimit is the display budget per message.
const CharacterLimit = 2000

const freshDayPlaceholder = "*No trains have been logged yet today. Check back here later!*"

// HandleStore persists display-message handles so a restart resumes editing
// the same messages.
type HandleStore interface {
	RecordDisplayMessage(id string) error
	ForgetDisplayMessage(id string) error
}

// Renderer owns the public display message(s) for the current period.
// It is not safe for concurrent use; the service layer serializes calls.
type Renderer struct {
	channel chat.Channel
	handles HandleStore
	flatten func(string) string
	limit   int
	now     func() time.Time

	single chat.MessageRef
	multi  map[normalize.Category]chat.MessageRef
}

// New creates a Renderer posting to channel and persisting handles in
// handles. flatten converts platform markup to plain text for attachments;
// nil means Flatten.
func New(channel chat.Channel, handles HandleStore, flatten func(string) string) *Renderer {
	if flatten == nil {
		flatten = Flatten
	}
	return &Renderer{
		channel: channel,
		handles: handles,
		flatten: flatten,
		limit:   CharacterLimit,
		now:     time.Now,
	}
}

// Restore adopts display-message handles persisted for the current period.
// One handle resumes the single-message layout; two or more resume the
// multi-message layout in category order.
func (r *Renderer) Restore(handles []string) {
	r.single = ""
	r.multi = nil
	switch {
	case len(handles) == 1:
		r.single = chat.MessageRef(handles[0])
	case len(handles) >= 2:
		r.multi = make(map[normalize.Category]chat.MessageRef)
		for i, cat := range normalize.Categories {
			if i < len(handles) {
				r.multi[cat] = chat.MessageRef(handles[i])
			}
		}
	}
}

// Reset abandons the previous period's messages and posts a fresh placeholder
// for the new one.
func (r *Renderer) Reset(ctx context.Context) error {
	r.single = ""
	r.multi = nil
	ref, err := r.channel.Send(ctx, chat.Message{Content: freshDayPlaceholder})
	if err != nil {
		return fmt.Errorf("posting fresh-day placeholder: %w", err)
	}
	r.single = ref
	if err := r.handles.RecordDisplayMessage(string(ref)); err != nil {
		slog.Error("recording placeholder handle", "error", err)
	}
	return nil
}

// Refresh recomputes the display from the snapshot and edits the existing
// message(s) in place, falling back to fresh ones if editing fails.
func (r *Renderer) Refresh(ctx context.Context, snapshot logbook.DailyLog) error {
	partitioned := partition(snapshot)

	if r.multi == nil {
		content := r.categoryText(partitioned, normalize.CategoryGreen) +
			"\n" + r.categoryText(partitioned, normalize.CategoryYellow)
		if len(partitioned[normalize.CategoryOther]) > 0 {
			content += "\n" + r.categoryText(partitioned, normalize.CategoryOther)
		}
		if len([]rune(content)) <= r.limit {
			ref, err := r.editOrSend(ctx, r.single, chat.Message{Content: content})
			if err != nil {
				return err
			}
			r.single = ref
			return nil
		}
		// Outgrew the single-message layout: the existing message becomes
		// the green section and the rest get fresh messages.
		r.multi = make(map[normalize.Category]chat.MessageRef)
		r.multi[normalize.CategoryGreen] = r.single
		r.single = ""
	}

	for _, cat := range normalize.Categories {
		if cat == normalize.CategoryOther && len(partitioned[cat]) == 0 && r.multi[cat] == "" {
			continue
		}
		ref, err := r.editOrSend(ctx, r.multi[cat], r.categoryMessage(partitioned, cat))
		if err != nil {
			return err
		}
		r.multi[cat] = ref
	}
	return nil
}

// partition splits the snapshot into per-category sub-logs using Categorize.
// Every entry lands in exactly one category.
func partition(snapshot logbook.DailyLog) map[normalize.Category]logbook.DailyLog {
	out := map[normalize.Category]logbook.DailyLog{
		normalize.CategoryGreen:  {},
		normalize.CategoryYellow: {},
		normalize.CategoryOther:  {},
	}
	for service, sets := range snapshot {
		out[normalize.Categorize(service)][service] = sets
	}
	return out
}

func (r *Renderer) categoryText(partitioned map[normalize.Category]logbook.DailyLog, cat normalize.Category) string {
	sub := partitioned[cat]
	if len(sub) == 0 {
		return cat.Header() + "\n*No " + cat.DisplayName() + " have been logged yet today.*"
	}
	return cat.Header() + "\n" + txn.FormatDailyLog(sub)
}

// categoryMessage renders one category for the multi-message layout,
// overflowing to a text-file attachment past the character budget.
func (r *Renderer) categoryMessage(partitioned map[normalize.Category]logbook.DailyLog, cat normalize.Category) chat.Message {
	content := r.categoryText(partitioned, cat)
	if len([]rune(content)) <= r.limit {
		return chat.Message{Content: content}
	}
	date := logbook.PeriodStart(r.now()).Format("2006-01-02")
	return chat.Message{
		Content: fmt.Sprintf("%s\nToo many %s have been logged today to fit in a single message, so they have been attached as a file.",
			cat.Header(), cat.DisplayName()),
		Attachments: []chat.Attachment{{
			Name: fmt.Sprintf("Log - %s - %s.txt", date, cat),
			Body: []byte(r.flatten(content)),
		}},
	}
}

// editOrSend edits ref in place, or sends a replacement when ref is empty or
// the edit fails (e.g. the message was deleted). Handle bookkeeping follows.
func (r *Renderer) editOrSend(ctx context.Context, ref chat.MessageRef, msg chat.Message) (chat.MessageRef, error) {
	if ref != "" {
		if err := r.channel.Edit(ctx, ref, msg); err == nil {
			return ref, nil
		} else if !chat.IsNotFound(err) {
			slog.Warn("editing display message failed, replacing it", "ref", ref, "error", err)
		}
		if err := r.handles.ForgetDisplayMessage(string(ref)); err != nil {
			slog.Error("forgetting display handle", "ref", ref, "error", err)
		}
	}
	newRef, err := r.channel.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("sending display message: %w", err)
	}
	if err := r.handles.RecordDisplayMessage(string(newRef)); err != nil {
		slog.Error("recording display handle", "ref", newRef, "error", err)
	}
	return newRef, nil
}
