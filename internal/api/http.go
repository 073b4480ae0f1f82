// Package api exposes the service over two surfaces: an HTTP API the chat
// gateway calls for commands and interactions, and an MCP server for agent
// access to the day's log.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/nlp"
	"github.com/metrowatch/genlog/internal/normalize"
	"github.com/metrowatch/genlog/internal/service"
	"github.com/metrowatch/genlog/internal/txn"
	"github.com/metrowatch/genlog/internal/workflow"
)

const maxSearchResults = 10
const maxAutocompleteResults = 25

const usageText = `**Logging trains**
- ` + "`/log-allocation service:<T101> units:<4073+4081>`" + ` logs a train. Sources default to you.
- ` + "`/remove-allocation`" + ` retracts an entry you believe is wrong.
- ` + "`/ai-log`" + ` lets you describe changes in plain words; the AI proposes the log entries and you confirm.

**Looking things up**
- ` + "`/search service:<T101>`" + ` shows today's entry for a service.
- ` + "`/search units:<4073>`" + ` finds every entry mentioning a unit.

Entries from non-contributors go to the contributor team for approval first.`

type AppDeps struct {
	Coordinator *service.Coordinator
	Workflow    *workflow.Workflow
	NLP         *nlp.Orchestrator
	Token       string
}

// app serializes all workflow and NLP access: both keep per-interaction
// state that is not safe for concurrent handlers.
type app struct {
	deps AppDeps
	mu   sync.Mutex
}

func NewAppHandler(deps AppDeps) http.Handler {
	a := &app{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/commands/log-allocation", a.handleLogAllocation)
		r.Post("/commands/remove-allocation", a.handleRemoveAllocation)
		r.Post("/commands/ai-log", a.handleAILog)
		r.Post("/commands/ai-log-message", a.handleAILogMessage)
		r.Get("/search/service/{id}", a.handleSearchService)
		r.Get("/search/units", a.handleSearchUnits)
		r.Get("/autocomplete", a.handleAutocomplete)
		r.Get("/usage", handleUsage)
		r.Post("/interactions/button", a.handleButton)
		r.Post("/interactions/form", a.handleForm)
	})

	return r
}

// requestLogger emits one debug line per handled request, tagged with the
// request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("request handled",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type logAllocationRequest struct {
	User      chat.User `json:"user"`
	Service   string    `json:"service"`
	Units     string    `json:"units"`
	Sources   string    `json:"sources"`
	Notes     string    `json:"notes"`
	Index     *int      `json:"index"`
	Withdrawn bool      `json:"withdrawn"`
}

func (a *app) handleLogAllocation(w http.ResponseWriter, r *http.Request) {
	var req logAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || req.Service == "" || req.Units == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user, service and units are required")
		return
	}
	if req.Sources == "" {
		req.Sources = req.User.Mention()
	}

	tx := logbook.Add(
		normalize.ServiceID(strings.TrimSpace(req.Service)),
		normalize.UnitSetKey(strings.TrimSpace(req.Units)),
		logbook.Details{
			Sources:   req.Sources,
			Notes:     strings.TrimSpace(req.Notes),
			Index:     req.Index,
			Withdrawn: req.Withdrawn,
		},
	)

	a.mu.Lock()
	resp, err := a.deps.Workflow.ProposeAdd(r.Context(), req.User, tx)
	a.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "handling submission: %v", err)
		return
	}
	writeJSON(w, resp)
}

type removeAllocationRequest struct {
	User    chat.User `json:"user"`
	Service string    `json:"service"`
	Units   string    `json:"units"`
}

func (a *app) handleRemoveAllocation(w http.ResponseWriter, r *http.Request) {
	var req removeAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || req.Service == "" || req.Units == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user, service and units are required")
		return
	}

	a.mu.Lock()
	msg, err := a.deps.Workflow.RemoveAllocation(
		r.Context(), req.User,
		normalize.ServiceID(strings.TrimSpace(req.Service)),
		normalize.UnitSetKey(strings.TrimSpace(req.Units)),
	)
	a.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "handling removal: %v", err)
		return
	}
	writeJSON(w, msg)
}

type aiLogRequest struct {
	User   chat.User `json:"user"`
	Prompt string    `json:"prompt"`
}

func (a *app) handleAILog(w http.ResponseWriter, r *http.Request) {
	var req aiLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || strings.TrimSpace(req.Prompt) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user and prompt are required")
		return
	}

	a.mu.Lock()
	msg, err := a.deps.NLP.Begin(r.Context(), req.User, req.Prompt)
	a.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "running AI log: %v", err)
		return
	}
	writeJSON(w, msg)
}

type aiLogMessageRequest struct {
	User    chat.User `json:"user"`
	Message struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"message"`
}

// handleAILogMessage is the message-context-menu variant of ai-log: the
// referenced message's content becomes the prompt verbatim.
func (a *app) handleAILogMessage(w http.ResponseWriter, r *http.Request) {
	var req aiLogMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || strings.TrimSpace(req.Message.Content) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user and message content are required")
		return
	}

	a.mu.Lock()
	msg, err := a.deps.NLP.Begin(r.Context(), req.User, req.Message.Content)
	a.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "running AI log: %v", err)
		return
	}
	writeJSON(w, msg)
}

func (a *app) handleSearchService(w http.ResponseWriter, r *http.Request) {
	id := normalize.ServiceID(chi.URLParam(r, "id"))
	snapshot := a.deps.Coordinator.Snapshot()
	sets, ok := snapshot[id]
	if !ok {
		writeJSON(w, chat.Text("❌ "+id+" is not in today's log."))
		return
	}
	writeJSON(w, chat.Text(txn.FormatDailyLog(logbook.DailyLog{id: sets})))
}

func (a *app) handleSearchUnits(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
		return
	}

	needle := strings.ToLower(query)
	snapshot := a.deps.Coordinator.Snapshot()
	var lines []string
	for _, svc := range sortedKeys(snapshot) {
		for _, units := range sortedSetKeys(snapshot[svc]) {
			d := snapshot[svc][units]
			if !strings.Contains(strings.ToLower(units), needle) &&
				!strings.Contains(strings.ToLower(d.Notes), needle) {
				continue
			}
			lines = append(lines, txn.FormatEntry(svc, units, d))
		}
	}

	if len(lines) == 0 {
		writeJSON(w, chat.Text("❌ No log entries match \""+query+"\"."))
		return
	}
	total := len(lines)
	if total > maxSearchResults {
		lines = lines[:maxSearchResults]
		lines = append(lines, fmt.Sprintf("-# Showing the first %d of %d matches.", maxSearchResults, total))
	}
	writeJSON(w, chat.Text(strings.Join(lines, "\n")))
}

// handleAutocomplete suggests services and unit sets from today's log for
// command argument completion.
func (a *app) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	needle := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	snapshot := a.deps.Coordinator.Snapshot()

	type choice struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	var choices []choice
	add := func(v string) bool {
		if needle != "" && !strings.Contains(strings.ToLower(v), needle) {
			return true
		}
		choices = append(choices, choice{Name: v, Value: v})
		return len(choices) < maxAutocompleteResults
	}

	for _, svc := range sortedKeys(snapshot) {
		if !add(svc) {
			break
		}
	}
	if len(choices) < maxAutocompleteResults {
	outer:
		for _, svc := range sortedKeys(snapshot) {
			for _, units := range sortedSetKeys(snapshot[svc]) {
				if !add(units) {
					break outer
				}
			}
		}
	}
	writeJSON(w, choices)
}

func handleUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, chat.Text(usageText))
}

type buttonRequest struct {
	User       chat.User       `json:"user"`
	MessageRef chat.MessageRef `json:"message_ref"`
	ButtonID   string          `json:"button_id"`
}

// handleButton routes a button press by id shape. Approval and undo buttons
// go to the workflow; nlp-* and clarify-* buttons go to the orchestrator;
// everything else is a confirmation-choice button.
func (a *app) handleButton(w http.ResponseWriter, r *http.Request) {
	var req buttonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || req.ButtonID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user and button_id are required")
		return
	}

	a.mu.Lock()
	resp, err := a.routeButton(r, req)
	a.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "handling button: %v", err)
		return
	}
	writeJSON(w, resp)
}

func (a *app) routeButton(r *http.Request, req buttonRequest) (chat.Response, error) {
	ctx := r.Context()
	id := req.ButtonID
	switch {
	case id == "approve" || id == "deny" || id == "undo" || strings.HasPrefix(id, "undo-direct:"):
		return a.deps.Workflow.HandlePromptButton(ctx, req.User, req.MessageRef, id)
	case strings.HasPrefix(id, "nlp-confirm:"):
		return a.confirmStaged(ctx, req.User, strings.TrimPrefix(id, "nlp-confirm:"))
	case strings.HasPrefix(id, "nlp-correct:"):
		return a.deps.NLP.OpenCorrection(req.User, strings.TrimPrefix(id, "nlp-correct:"))
	case strings.HasPrefix(id, "clarify-open:"):
		return a.deps.NLP.OpenClarify(req.User, strings.TrimPrefix(id, "clarify-open:"))
	default:
		return a.deps.Workflow.HandleConfirmButton(ctx, req.User, id)
	}
}

// confirmStaged hands a confirmed AI batch to the workflow, replacing the
// preview with the outcome.
func (a *app) confirmStaged(ctx context.Context, user chat.User, id string) (chat.Response, error) {
	staged, ok := a.deps.NLP.TakeStaged(user, id)
	if !ok {
		return chat.Response{Ephemeral: chat.Text("❌ This submission has expired. Please start over.")}, nil
	}
	msg, err := a.deps.Workflow.Submit(ctx, workflow.Submission{
		User:    staged.User,
		Batch:   staged.Batch,
		Summary: staged.Summary,
	})
	if err != nil {
		return chat.Response{}, err
	}
	return chat.Response{Update: msg}, nil
}

type formRequest struct {
	User   chat.User         `json:"user"`
	FormID string            `json:"form_id"`
	Values map[string]string `json:"values"`
}

func (a *app) handleForm(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.User.ID == "" || req.FormID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user and form_id are required")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var msg *chat.Message
	var err error
	switch {
	case strings.HasPrefix(req.FormID, "clarify-submit:"):
		msg, err = a.deps.NLP.SubmitClarify(r.Context(), req.User, strings.TrimPrefix(req.FormID, "clarify-submit:"), req.Values)
	case strings.HasPrefix(req.FormID, "correct-submit:"):
		msg, err = a.deps.NLP.SubmitCorrection(r.Context(), req.User, strings.TrimPrefix(req.FormID, "correct-submit:"), req.Values)
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown form id %q", req.FormID)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "handling form: %v", err)
		return
	}
	writeJSON(w, chat.Response{Ephemeral: msg})
}

func sortedKeys(l logbook.DailyLog) []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSetKeys(sets map[string]logbook.Details) []string {
	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
