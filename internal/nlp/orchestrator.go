package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/txn"
)

// systemPrompt instructs the model on the extraction task. The response
// schema does the heavy lifting on output shape; this covers semantics.
const systemPrompt = `You turn informal reports about metro train allocations into structured log transactions.

A service is identified as "T" plus three digits (T101 through T112 run on the green line, T121 through T136 on the yellow line). A unit set is one or more four-digit unit numbers joined with "+", for example "4073+4081". Class 555 units are six digits starting with 555.

Rules:
- Emit "add" transactions for trains reported as running, with the reporting user's mention in "sources". Multiple reporters are joined with "; ".
- Emit "remove" transactions only when a report explicitly retracts an earlier entry.
- When a train replaces another on the same service, add the new entry with the next index rather than removing the old one.
- Put genuine side remarks in "notes"; leave it out otherwise.
- If the report is ambiguous or missing essential detail, respond with "clarify" and a short form asking only for what you need.
- If the message is not about train allocations at all, respond with "reject".
- If the report names people you cannot resolve to user mentions, respond with "userLookup" before anything else.
Never invent services or units that the user did not mention.`

const maxLookupRounds = 3

const (
	msgUnavailable = "❌ AI logging is not configured on this server."
	msgAllBusy     = "🛑 All AI models are currently busy. Please try again in a few minutes."
	msgFailed      = "❌ Something went wrong while processing your request. Please try again."
	msgFiltered    = "🛑 The AI declined to process this request."
	msgToolCalls   = "❌ The AI triggered tool calls instead of producing a response. Please try again."
	msgGenFailed   = "❌ The AI hit an error while generating a response. Please try again."
	msgNoReason    = "❌ The AI rejected your request but did not give a reason."
	msgNoUsable    = "❌ The AI couldn't find any log changes in that. Try rephrasing, or use /log-allocation."
)

// StatusSource supplies the unit-status dataset included in model context.
type StatusSource interface {
	Format() string
}

// SnapshotSource supplies the current log state included in model context.
type SnapshotSource interface {
	Snapshot() logbook.DailyLog
}

// session is an in-flight clarification round-trip.
type session struct {
	user         chat.User
	conversation []Message
	clarify      ClarifyResponse
}

// Staged is an accepted batch awaiting the submitter's confirmation.
// conversation is retained so a correction can resume where the model
// left off.
type Staged struct {
	User    chat.User
	Batch   logbook.Batch
	Summary string

	conversation []Message
}

// Orchestrator drives tiered structured generation and holds the
// per-interaction state (clarify sessions, staged batches) between
// round-trips. Not safe for concurrent use; the service layer serializes
// all access.
type Orchestrator struct {
	tiers     []Provider
	breaker   *Breaker
	statuses  StatusSource
	snapshots SnapshotSource
	directory chat.Directory
	log       *slog.Logger
	newID     func() string

	sessions map[string]*session
	staged   map[string]*Staged
}

// New creates an Orchestrator over the given tiers, best first. An empty
// tier list is allowed; every request then reports AI logging unavailable.
func New(tiers []Provider, statuses StatusSource, snapshots SnapshotSource, directory chat.Directory, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		tiers:     tiers,
		breaker:   NewBreaker(),
		statuses:  statuses,
		snapshots: snapshots,
		directory: directory,
		log:       log,
		newID:     uuid.NewString,
		sessions:  make(map[string]*session),
		staged:    make(map[string]*Staged),
	}
}

// BuildTiers assembles the provider ladder from whichever API keys are
// configured. Gemini tiers come first, then the open-weight fallbacks.
func BuildTiers(googleKey, groqKey, openRouterKey string) []Provider {
	var tiers []Provider
	if googleKey != "" {
		tiers = append(tiers,
			NewGemini("Gemini 2.5 Flash", googleKey, "gemini-2.5-flash"),
			NewGemini("Gemini 2.5 Flash Lite", googleKey, "gemini-2.5-flash-lite"),
			NewGemini("Gemini 2.0 Flash", googleKey, "gemini-2.0-flash"),
		)
	}
	if groqKey != "" {
		tiers = append(tiers, NewOpenAICompatible(
			"gpt-oss-120b via Groq",
			"https://api.groq.com/openai/v1",
			groqKey,
			"openai/gpt-oss-120b",
			map[string]any{"reasoning_effort": "high"},
		))
	}
	if openRouterKey != "" {
		tiers = append(tiers, NewOpenAICompatible(
			"gpt-oss-120b via OpenRouter",
			"https://openrouter.ai/api/v1",
			openRouterKey,
			"openai/gpt-oss-120b:free",
			nil,
		))
	}
	return tiers
}

// DayReset drops all in-flight NLP state at the period rollover.
func (o *Orchestrator) DayReset() {
	o.sessions = make(map[string]*session)
	o.staged = make(map[string]*Staged)
}

// Begin starts an NLP interaction from a user prompt and returns the message
// to show the user: a staged-batch confirmation, a clarification offer, a
// rejection, or an error notice.
func (o *Orchestrator) Begin(ctx context.Context, user chat.User, prompt string) (*chat.Message, error) {
	if len(o.tiers) == 0 {
		return chat.Text(msgUnavailable), nil
	}
	conv := []Message{{Role: "user", Content: o.initialPrompt(user, prompt)}}
	return o.runPrompt(ctx, user, conv)
}

// initialPrompt packs the model's situational context ahead of the user's
// own words.
func (o *Orchestrator) initialPrompt(user chat.User, prompt string) string {
	statuses := "Unavailable"
	if o.statuses != nil {
		statuses = o.statuses.Format()
	}
	var b strings.Builder
	b.WriteString("Unit status dataset:\n")
	b.WriteString(statuses)
	b.WriteString("\n\nCurrent log state:\n")
	b.WriteString(snapshotJSON(o.snapshots.Snapshot()))
	b.WriteString("\n\nPrompting user: ")
	b.WriteString(user.Mention())
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}

// snapshotJSON serializes the log in the same field names the response
// schema uses, so the model sees its own output vocabulary.
func snapshotJSON(snapshot logbook.DailyLog) string {
	out := make(map[string]map[string]map[string]any, len(snapshot))
	for service, sets := range snapshot {
		os := make(map[string]map[string]any, len(sets))
		for units, d := range sets {
			entry := map[string]any{"sources": d.Sources}
			if d.Notes != "" {
				entry["notes"] = d.Notes
			}
			if d.Index != nil {
				entry["index"] = *d.Index
			}
			if d.Withdrawn {
				entry["withdrawn"] = true
			}
			os[units] = entry
		}
		out[service] = os
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(buf)
}

// runPrompt drives the conversation to a terminal response, resolving
// userLookup rounds along the way.
func (o *Orchestrator) runPrompt(ctx context.Context, user chat.User, conv []Message) (*chat.Message, error) {
	for round := 0; ; round++ {
		resp, model, fail := o.converse(ctx, &conv)
		if fail != nil {
			return fail, nil
		}
		switch r := resp.(type) {
		case UserLookupResponse:
			if round >= maxLookupRounds {
				o.log.Warn("user lookup rounds exhausted", "user", user.ID)
				return chat.Text(msgFailed), nil
			}
			conv = append(conv, Message{Role: "user", Content: o.lookupUsers(ctx, r.Queries)})
		case AcceptResponse:
			return o.stageAccept(user, r, model, conv), nil
		case ClarifyResponse:
			return o.offerClarify(user, r, model, conv), nil
		case RejectResponse:
			if r.Detail != "" {
				return chat.Text("❌ " + r.Detail), nil
			}
			return chat.Text(msgNoReason), nil
		}
	}
}

// converse walks the tier ladder once: skipping disabled tiers, recording
// rate limits, and validating output. On success the assistant turn is
// appended to conv and the winning model's name returned. On exhaustion a
// user-facing failure message is returned instead.
func (o *Orchestrator) converse(ctx context.Context, conv *[]Message) (Response, string, *chat.Message) {
	rateLimited := false
	for i := o.breaker.StartIndex(); i < len(o.tiers); i++ {
		tier := o.tiers[i]
		res, err := tier.Generate(ctx, systemPrompt, *conv, ResponseSchema)
		if err != nil {
			if rl, ok := AsRateLimit(err); ok {
				o.breaker.OnRateLimit(i, rl.ServerTime)
				o.log.Warn("model rate limited", "model", tier.Name())
				rateLimited = true
				continue
			}
			// Only rate limits fall through to the next tier. Anything
			// else aborts the whole chain.
			o.log.Error("model request failed", "model", tier.Name(), "error", err)
			return nil, "", chat.Text(msgFailed)
		}
		o.breaker.OnSuccess(i)

		switch res.FinishReason {
		case FinishContentFilter:
			o.log.Warn("model output filtered", "model", tier.Name())
			return nil, "", chat.Text(msgFiltered)
		case FinishToolCalls:
			o.log.Warn("model triggered tool calls", "model", tier.Name())
			return nil, "", chat.Text(msgToolCalls)
		case FinishError:
			o.log.Warn("model reported a generation error", "model", tier.Name())
			return nil, "", chat.Text(msgGenFailed)
		}

		resp, err := ParseResponse(o.log, res.Raw)
		if err != nil {
			o.log.Warn("model output failed validation", "model", tier.Name(), "error", err)
			continue
		}
		*conv = append(*conv, Message{Role: "assistant", Content: string(res.Raw)})
		return resp, tier.Name(), nil
	}
	if rateLimited {
		return nil, "", chat.Text(msgAllBusy)
	}
	return nil, "", chat.Text(msgFailed)
}

// lookupUsers resolves display-name queries through the directory and
// formats the results as a conversation turn. Misses are reported so the
// model stops asking.
func (o *Orchestrator) lookupUsers(ctx context.Context, queries []string) string {
	var b strings.Builder
	b.WriteString("User lookup results:\n")
	seen := make(map[string]bool)
	for _, q := range queries {
		users, err := o.directory.SearchUsers(ctx, q)
		if err != nil {
			o.log.Warn("user lookup failed", "query", q, "error", err)
			users = nil
		}
		found := false
		for _, u := range users {
			if seen[u.ID] {
				found = true
				continue
			}
			seen[u.ID] = true
			found = true
			fmt.Fprintf(&b, "%q -> %s (%s)\n", q, u.Name, u.Mention())
		}
		if !found {
			fmt.Fprintf(&b, "%q -> no match, use the name verbatim\n", q)
		}
	}
	return b.String()
}

// stageAccept records the accepted batch for confirmation and builds the
// preview message the submitter sees.
func (o *Orchestrator) stageAccept(user chat.User, accept AcceptResponse, model string, conv []Message) *chat.Message {
	if len(accept.Batch) == 0 {
		if accept.Dropped > 0 {
			o.log.Warn("accept response had no valid transactions", "dropped", accept.Dropped, "user", user.ID)
		}
		return chat.Text(msgNoUsable)
	}

	diff := txn.Describe(accept.Batch, o.snapshots.Snapshot(), txn.DefaultPrefixes)
	id := o.newID()
	o.staged[id] = &Staged{
		User:         user,
		Batch:        accept.Batch,
		Summary:      accept.Notes,
		conversation: conv,
	}

	var b strings.Builder
	b.WriteString("🤖 Here's what I understood:\n")
	b.WriteString(strings.Join(diff, "\n"))
	if accept.Notes != "" {
		b.WriteString("\n📝 ")
		b.WriteString(accept.Notes)
	}
	if accept.Dropped > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d unreadable change(s) were skipped.", accept.Dropped)
	}
	b.WriteString("\n-# Model used: ")
	b.WriteString(model)

	return &chat.Message{
		Content: b.String(),
		Buttons: []chat.Button{
			{ID: "nlp-confirm:" + id, Label: "Looks good", Emoji: "✅", Style: chat.ButtonSuccess},
			{ID: "nlp-correct:" + id, Label: "Needs changes", Emoji: "✏️", Style: chat.ButtonSecondary},
		},
	}
}

// offerClarify stores the clarification session and builds the message
// carrying the form-open button.
func (o *Orchestrator) offerClarify(user chat.User, clarify ClarifyResponse, model string, conv []Message) *chat.Message {
	id := o.newID()
	o.sessions[id] = &session{user: user, conversation: conv, clarify: clarify}
	content := fmt.Sprintf("❓ The AI needs more information: **%s**\n-# Model used: %s", clarify.Title, model)
	return &chat.Message{
		Content: content,
		Buttons: []chat.Button{
			{ID: "clarify-open:" + id, Label: "Answer", Emoji: "📝", Style: chat.ButtonPrimary},
		},
	}
}

// OpenClarify turns a stored clarification session into the modal to show.
func (o *Orchestrator) OpenClarify(user chat.User, id string) (chat.Response, error) {
	sess, ok := o.sessions[id]
	if !ok {
		return chat.Response{Ephemeral: chat.Text("❌ This request has expired. Please start over.")}, nil
	}
	if sess.user.ID != user.ID {
		return chat.Response{Ephemeral: chat.Text("❌ Only the original requester can answer this.")}, nil
	}
	return chat.Response{Modal: &chat.Modal{
		ID:         "clarify-submit:" + id,
		Title:      sess.clarify.Title,
		Components: sess.clarify.Components,
	}}, nil
}

// SubmitClarify feeds the form answers back into the conversation and
// resumes generation. The session is consumed either way.
func (o *Orchestrator) SubmitClarify(ctx context.Context, user chat.User, id string, values map[string]string) (*chat.Message, error) {
	sess, ok := o.sessions[id]
	if !ok {
		return chat.Text("❌ This request has expired. Please start over."), nil
	}
	delete(o.sessions, id)

	var b strings.Builder
	b.WriteString("Clarification answers:\n")
	for _, comp := range sess.clarify.Components {
		if comp.Type == chat.ComponentTextDisplay {
			continue
		}
		answer, ok := values[comp.ID]
		if !ok || strings.TrimSpace(answer) == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&b, "%s: %s\n", comp.Label, strings.TrimSpace(answer))
	}
	conv := append(sess.conversation, Message{Role: "user", Content: b.String()})
	return o.runPrompt(ctx, user, conv)
}

// OpenCorrection shows the free-text correction form for a staged batch.
func (o *Orchestrator) OpenCorrection(user chat.User, id string) (chat.Response, error) {
	staged, ok := o.staged[id]
	if !ok {
		return chat.Response{Ephemeral: chat.Text("❌ This submission has expired. Please start over.")}, nil
	}
	if staged.User.ID != user.ID {
		return chat.Response{Ephemeral: chat.Text("❌ Only the original requester can correct this.")}, nil
	}
	required := true
	return chat.Response{Modal: &chat.Modal{
		ID:    "correct-submit:" + id,
		Title: "What should be different?",
		Components: []chat.ModalComponent{{
			Type:        chat.ComponentTextInput,
			ID:          "correction",
			Label:       "Correction",
			Style:       "Paragraph",
			Placeholder: "e.g. that was T105, not T104",
			Required:    &required,
		}},
	}}, nil
}

// SubmitCorrection discards the staged batch and resumes generation with the
// user's correction appended.
func (o *Orchestrator) SubmitCorrection(ctx context.Context, user chat.User, id string, values map[string]string) (*chat.Message, error) {
	staged, ok := o.staged[id]
	if !ok {
		return chat.Text("❌ This submission has expired. Please start over."), nil
	}
	delete(o.staged, id)

	correction := strings.TrimSpace(values["correction"])
	if correction == "" {
		return chat.Text("❌ The correction was empty. Please start over."), nil
	}
	conv := append(staged.conversation, Message{Role: "user", Content: "Correction: " + correction})
	return o.runPrompt(ctx, user, conv)
}

// TakeStaged consumes and returns the staged batch for the given id, if the
// pressing user is its owner.
func (o *Orchestrator) TakeStaged(user chat.User, id string) (Staged, bool) {
	staged, ok := o.staged[id]
	if !ok || staged.User.ID != user.ID {
		return Staged{}, false
	}
	delete(o.staged, id)
	return *staged, true
}
