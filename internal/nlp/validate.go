package nlp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/metrowatch/genlog/internal/chat"
	"github.com/metrowatch/genlog/internal/logbook"
	"github.com/metrowatch/genlog/internal/normalize"
)

// Response is one of AcceptResponse, ClarifyResponse, RejectResponse or
// UserLookupResponse.
type Response interface {
	isResponse()
}

// AcceptResponse carries the transactions the model extracted. Dropped counts
// transactions discarded during validation; a caller seeing an empty Batch
// with Dropped > 0 knows the model tried and failed, which is different from
// a rejection.
type AcceptResponse struct {
	Batch   logbook.Batch
	Notes   string
	Dropped int
}

// ClarifyResponse asks the user to fill in a form before the request can
// proceed.
type ClarifyResponse struct {
	Title      string
	Components []chat.ModalComponent
}

// RejectResponse declines the request, optionally saying why.
type RejectResponse struct {
	Detail string
}

// UserLookupResponse asks for user ids matching the given display names.
type UserLookupResponse struct {
	Queries []string
}

func (AcceptResponse) isResponse()     {}
func (ClarifyResponse) isResponse()    {}
func (RejectResponse) isResponse()     {}
func (UserLookupResponse) isResponse() {}

const (
	maxModalTitle      = 45
	maxModalComponents = 5
	maxDropdownOptions = 25
)

// ParseResponse validates raw model output into a Response. Schema-enforced
// providers mostly produce clean output, but nothing downstream trusts that:
// every field is checked, and malformed pieces are dropped rather than
// failing the whole response where possible.
func ParseResponse(log *slog.Logger, raw json.RawMessage) (Response, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("model output is not a JSON object: %w", err)
	}
	kind, _ := body["responseType"].(string)
	switch kind {
	case "accept":
		return parseAccept(log, body)
	case "clarify":
		return parseClarify(log, body)
	case "reject":
		detail, _ := body["detail"].(string)
		return RejectResponse{Detail: strings.TrimSpace(detail)}, nil
	case "userLookup":
		return parseUserLookup(body)
	default:
		return nil, fmt.Errorf("unknown responseType %q", kind)
	}
}

func parseAccept(log *slog.Logger, body map[string]any) (Response, error) {
	rawTxs, ok := body["transactions"].([]any)
	if !ok {
		return nil, fmt.Errorf("accept response without transactions array")
	}
	resp := AcceptResponse{}
	if notes, ok := body["notes"].(string); ok {
		resp.Notes = strings.TrimSpace(notes)
	}
	for _, rawTx := range rawTxs {
		tx, ok := parseTransaction(log, rawTx)
		if !ok {
			resp.Dropped++
			continue
		}
		resp.Batch = append(resp.Batch, tx)
	}
	return resp, nil
}

func parseTransaction(log *slog.Logger, raw any) (logbook.Transaction, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		log.Warn("dropping non-object transaction")
		return logbook.Transaction{}, false
	}
	kind, _ := obj["type"].(string)
	service, _ := obj["service"].(string)
	units, _ := obj["units"].(string)
	service = normalize.ServiceID(strings.TrimSpace(service))
	units = normalize.UnitSetKey(strings.TrimSpace(units))
	if service == "" || units == "" {
		log.Warn("dropping transaction with empty key", "type", kind)
		return logbook.Transaction{}, false
	}
	switch kind {
	case "remove":
		return logbook.Remove(service, units), true
	case "add":
		var d logbook.Details
		if s, ok := obj["sources"].(string); ok {
			d.Sources = strings.TrimSpace(s)
		}
		if n, ok := obj["notes"].(string); ok {
			d.Notes = strings.TrimSpace(n)
		}
		if idx, ok := obj["index"].(float64); ok && idx == float64(int(idx)) && idx >= 0 {
			i := int(idx)
			d.Index = &i
		}
		if w, ok := obj["withdrawn"].(bool); ok {
			d.Withdrawn = w
		}
		return logbook.Add(service, units, d), true
	default:
		log.Warn("dropping transaction with unknown type", "type", kind)
		return logbook.Transaction{}, false
	}
}

func parseClarify(log *slog.Logger, body map[string]any) (Response, error) {
	title, _ := body["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("clarify response without title")
	}
	if len([]rune(title)) > maxModalTitle {
		title = string([]rune(title)[:maxModalTitle])
	}
	rawComps, ok := body["components"].([]any)
	if !ok || len(rawComps) == 0 {
		return nil, fmt.Errorf("clarify response without components")
	}
	resp := ClarifyResponse{Title: title}
	for _, rawComp := range rawComps {
		if len(resp.Components) == maxModalComponents {
			log.Warn("dropping clarify components beyond limit", "limit", maxModalComponents)
			break
		}
		comp, ok := parseComponent(log, rawComp)
		if !ok {
			continue
		}
		resp.Components = append(resp.Components, comp)
	}
	interactive := false
	for _, c := range resp.Components {
		if c.Type != chat.ComponentTextDisplay {
			interactive = true
			break
		}
	}
	if !interactive {
		return nil, fmt.Errorf("clarify response without any input component")
	}
	return resp, nil
}

func parseComponent(log *slog.Logger, raw any) (chat.ModalComponent, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		log.Warn("dropping non-object clarify component")
		return chat.ModalComponent{}, false
	}
	kind, _ := obj["type"].(string)
	switch kind {
	case "text":
		content, _ := obj["content"].(string)
		if strings.TrimSpace(content) == "" {
			log.Warn("dropping empty text component")
			return chat.ModalComponent{}, false
		}
		return chat.ModalComponent{Type: chat.ComponentTextDisplay, Content: content}, true
	case "textInput", "dropdown":
		id, _ := obj["id"].(string)
		label, _ := obj["label"].(string)
		label = strings.TrimSpace(label)
		if strings.TrimSpace(id) == "" || label == "" {
			log.Warn("dropping input component without id or label", "type", kind)
			return chat.ModalComponent{}, false
		}
		if len([]rune(label)) > maxModalTitle {
			label = string([]rune(label)[:maxModalTitle])
		}
		comp := chat.ModalComponent{ID: id, Label: label}
		if p, ok := obj["placeholder"].(string); ok {
			comp.Placeholder = p
		}
		if r, ok := obj["required"].(bool); ok {
			comp.Required = &r
		}
		if kind == "textInput" {
			comp.Type = chat.ComponentTextInput
			comp.Style = "Paragraph"
			return comp, true
		}
		comp.Type = chat.ComponentDropdownInput
		rawOpts, _ := obj["options"].([]any)
		for _, rawOpt := range rawOpts {
			if len(comp.Options) == maxDropdownOptions {
				log.Warn("dropping dropdown options beyond limit", "limit", maxDropdownOptions)
				break
			}
			o, ok := rawOpt.(map[string]any)
			if !ok {
				continue
			}
			optLabel, _ := o["label"].(string)
			optValue, _ := o["value"].(string)
			if optLabel == "" || optValue == "" {
				continue
			}
			comp.Options = append(comp.Options, chat.SelectOption{Label: optLabel, Value: optValue})
		}
		if len(comp.Options) == 0 {
			log.Warn("dropping dropdown without options")
			return chat.ModalComponent{}, false
		}
		if mv, ok := obj["minValues"].(float64); ok && mv == float64(int(mv)) {
			v := int(mv)
			comp.MinValues = &v
		}
		if mv, ok := obj["maxValues"].(float64); ok && mv == float64(int(mv)) {
			v := int(mv)
			comp.MaxValues = &v
		}
		return comp, true
	default:
		log.Warn("dropping clarify component with unknown type", "type", kind)
		return chat.ModalComponent{}, false
	}
}

func parseUserLookup(body map[string]any) (Response, error) {
	rawQueries, ok := body["queries"].([]any)
	if !ok {
		return nil, fmt.Errorf("userLookup response without queries")
	}
	resp := UserLookupResponse{}
	for _, rawQ := range rawQueries {
		q, _ := rawQ.(string)
		q = strings.TrimSpace(q)
		if q != "" {
			resp.Queries = append(resp.Queries, q)
		}
	}
	if len(resp.Queries) == 0 {
		return nil, fmt.Errorf("userLookup response without usable queries")
	}
	return resp, nil
}
