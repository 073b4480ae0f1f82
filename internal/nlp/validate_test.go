package nlp

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/metrowatch/genlog/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parse(t *testing.T, raw string) Response {
	t.Helper()
	resp, err := ParseResponse(discardLogger(), json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	return resp
}

func TestParseAccept(t *testing.T) {
	resp := parse(t, `{
		"responseType": "accept",
		"transactions": [
			{"type": "add", "service": "101", "units": "994073 and 4081", "sources": "<@1>", "index": 2, "withdrawn": true},
			{"type": "remove", "service": "T105", "units": "4090"}
		],
		"notes": "  from the morning thread  "
	}`)
	accept, ok := resp.(AcceptResponse)
	if !ok {
		t.Fatalf("response = %T", resp)
	}
	if accept.Notes != "from the morning thread" {
		t.Errorf("Notes = %q", accept.Notes)
	}
	if accept.Dropped != 0 || len(accept.Batch) != 2 {
		t.Fatalf("batch = %+v dropped = %d", accept.Batch, accept.Dropped)
	}

	add := accept.Batch[0]
	if add.Service != "T101" || add.Units != "4073+4081" {
		t.Errorf("add key = %q/%q", add.Service, add.Units)
	}
	if add.Details.Sources != "<@1>" || !add.Details.Withdrawn {
		t.Errorf("add details = %+v", add.Details)
	}
	if add.Details.Index == nil || *add.Details.Index != 2 {
		t.Errorf("add index = %v", add.Details.Index)
	}

	rm := accept.Batch[1]
	if rm.Service != "T105" || rm.Units != "4090" {
		t.Errorf("remove key = %q/%q", rm.Service, rm.Units)
	}
}

func TestParseAcceptDropsMalformed(t *testing.T) {
	resp := parse(t, `{
		"responseType": "accept",
		"transactions": [
			{"type": "add", "service": "T101", "units": "4073"},
			{"type": "add", "service": "", "units": "4073"},
			{"type": "mystery", "service": "T101", "units": "4081"},
			{"type": "add", "service": "T101", "units": "4081", "index": 1.5},
			"not an object"
		]
	}`)
	accept := resp.(AcceptResponse)
	if len(accept.Batch) != 2 || accept.Dropped != 3 {
		t.Fatalf("batch = %+v dropped = %d", accept.Batch, accept.Dropped)
	}
	// A fractional index is ignored, not fatal.
	if accept.Batch[1].Details.Index != nil {
		t.Errorf("fractional index kept: %v", *accept.Batch[1].Details.Index)
	}
}

func TestParseAcceptAllDropped(t *testing.T) {
	resp := parse(t, `{"responseType": "accept", "transactions": [{"type": "add"}]}`)
	accept := resp.(AcceptResponse)
	if len(accept.Batch) != 0 || accept.Dropped != 1 {
		t.Errorf("batch = %+v dropped = %d", accept.Batch, accept.Dropped)
	}
}

func TestParseClarify(t *testing.T) {
	resp := parse(t, `{
		"responseType": "clarify",
		"title": "Which unit did you see?",
		"components": [
			{"type": "text", "content": "Two readings are possible."},
			{"type": "dropdown", "id": "unit", "label": "Unit number", "options": [
				{"label": "4073", "value": "4073"},
				{"label": "4078", "value": "4078"}
			]},
			{"type": "textInput", "id": "details", "label": "Anything else?", "required": false}
		]
	}`)
	clarify, ok := resp.(ClarifyResponse)
	if !ok {
		t.Fatalf("response = %T", resp)
	}
	if clarify.Title != "Which unit did you see?" || len(clarify.Components) != 3 {
		t.Fatalf("clarify = %+v", clarify)
	}
	if clarify.Components[1].Type != chat.ComponentDropdownInput || len(clarify.Components[1].Options) != 2 {
		t.Errorf("dropdown = %+v", clarify.Components[1])
	}
	input := clarify.Components[2]
	if input.Type != chat.ComponentTextInput || input.Style != "Paragraph" {
		t.Errorf("text input = %+v", input)
	}
	if input.Required == nil || *input.Required {
		t.Errorf("Required = %v", input.Required)
	}
}

func TestParseClarifyTruncatesTitle(t *testing.T) {
	long := strings.Repeat("x", 60)
	resp := parse(t, `{
		"responseType": "clarify",
		"title": "`+long+`",
		"components": [{"type": "textInput", "id": "a", "label": "A"}]
	}`)
	clarify := resp.(ClarifyResponse)
	if len([]rune(clarify.Title)) != maxModalTitle {
		t.Errorf("title length = %d", len([]rune(clarify.Title)))
	}
}

func TestParseClarifyDropsExcessComponents(t *testing.T) {
	var comps []string
	for range 8 {
		comps = append(comps, `{"type": "textInput", "id": "a", "label": "A"}`)
	}
	resp := parse(t, `{
		"responseType": "clarify",
		"title": "T",
		"components": [`+strings.Join(comps, ",")+`]
	}`)
	clarify := resp.(ClarifyResponse)
	if len(clarify.Components) != maxModalComponents {
		t.Errorf("components = %d, want %d", len(clarify.Components), maxModalComponents)
	}
}

func TestParseClarifyRequiresInteractiveComponent(t *testing.T) {
	_, err := ParseResponse(discardLogger(), json.RawMessage(`{
		"responseType": "clarify",
		"title": "T",
		"components": [{"type": "text", "content": "just prose"}]
	}`))
	if err == nil {
		t.Fatal("display-only clarify accepted")
	}
}

func TestParseClarifyDropsBadDropdown(t *testing.T) {
	_, err := ParseResponse(discardLogger(), json.RawMessage(`{
		"responseType": "clarify",
		"title": "T",
		"components": [{"type": "dropdown", "id": "u", "label": "U", "options": []}]
	}`))
	if err == nil {
		t.Fatal("optionless dropdown left the clarify valid")
	}
}

func TestParseReject(t *testing.T) {
	resp := parse(t, `{"responseType": "reject", "detail": " not about trains "}`)
	reject, ok := resp.(RejectResponse)
	if !ok || reject.Detail != "not about trains" {
		t.Errorf("response = %+v", resp)
	}
}

func TestParseUserLookup(t *testing.T) {
	resp := parse(t, `{"responseType": "userLookup", "queries": ["alice", "  ", "bob"]}`)
	lookup, ok := resp.(UserLookupResponse)
	if !ok || len(lookup.Queries) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if lookup.Queries[0] != "alice" || lookup.Queries[1] != "bob" {
		t.Errorf("queries = %v", lookup.Queries)
	}
}

func TestParseUserLookupAllEmpty(t *testing.T) {
	if _, err := ParseResponse(discardLogger(), json.RawMessage(`{"responseType": "userLookup", "queries": [""]}`)); err == nil {
		t.Fatal("empty lookup accepted")
	}
}

func TestParseUnknownResponseType(t *testing.T) {
	if _, err := ParseResponse(discardLogger(), json.RawMessage(`{"responseType": "ponder"}`)); err == nil {
		t.Fatal("unknown responseType accepted")
	}
}

func TestParseNotJSON(t *testing.T) {
	if _, err := ParseResponse(discardLogger(), json.RawMessage(`certainly!`)); err == nil {
		t.Fatal("non-JSON output accepted")
	}
}
